package faerie

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

func mustELFTarget(t *testing.T) Target {
	t.Helper()
	tgt, err := NewTarget(ArchX86_64, FormatELF)
	if err != nil {
		t.Fatal(err)
	}
	return tgt
}

func readEhdr(t *testing.T, buf []byte) elf64Ehdr {
	t.Helper()
	var ehdr elf64Ehdr
	if err := binary.Read(bytes.NewReader(buf[:elfHeaderSize]), binary.LittleEndian, &ehdr); err != nil {
		t.Fatalf("decoding ELF header: %v", err)
	}
	return ehdr
}

func readShdrs(t *testing.T, buf []byte, ehdr elf64Ehdr) []elf64Shdr {
	t.Helper()
	shdrs := make([]elf64Shdr, ehdr.Shnum)
	r := bytes.NewReader(buf[ehdr.Shoff:])
	for i := range shdrs {
		if err := binary.Read(r, binary.LittleEndian, &shdrs[i]); err != nil {
			t.Fatalf("decoding section header %d: %v", i, err)
		}
	}
	return shdrs
}

func TestWriteELFHeaderFields(t *testing.T) {
	a := New(mustELFTarget(t), "mod.o")
	a.Declare("main", NewFunctionDecl().Global())
	a.Define("main", []byte{0x90, 0xc3})

	sink := NewBufferSink()
	if _, err := a.Write(sink); err != nil {
		t.Fatal(err)
	}
	ehdr := readEhdr(t, sink.Bytes())

	if ehdr.Ident[0] != 0x7f || ehdr.Ident[1] != 'E' || ehdr.Ident[2] != 'L' || ehdr.Ident[3] != 'F' {
		t.Fatalf("bad e_ident magic: %v", ehdr.Ident[:4])
	}
	if ehdr.Ident[4] != 2 {
		t.Errorf("e_ident[EI_CLASS] = %d, want 2 (ELFCLASS64)", ehdr.Ident[4])
	}
	if ehdr.Type != etRel {
		t.Errorf("e_type = %d, want ET_REL", ehdr.Type)
	}
	if ehdr.Machine != 62 {
		t.Errorf("e_machine = %d, want 62 (EM_X86_64)", ehdr.Machine)
	}
	if ehdr.Shnum < 4 {
		t.Errorf("e_shnum = %d, want at least 4 (null, strtab, symtab, one content section)", ehdr.Shnum)
	}
}

func TestWriteELFSymbolTableOrdering(t *testing.T) {
	a := New(mustELFTarget(t), "mod.o")
	a.Declare("helper", NewFunctionDecl()) // local
	a.Define("helper", []byte{0xc3})
	a.Declare("main", NewFunctionDecl().Global()) // global
	a.Define("main", []byte{0xe8, 0, 0, 0, 0})
	a.Import("puts", KindFunctionImport) // undefined global
	if err := a.Link(Link{From: "main", To: "helper", At: 1}); err != nil {
		t.Fatal(err)
	}

	sink := NewBufferSink()
	if _, err := a.Write(sink); err != nil {
		t.Fatal(err)
	}
	buf := sink.Bytes()
	ehdr := readEhdr(t, buf)
	shdrs := readShdrs(t, buf, ehdr)

	var symtabHdr *elf64Shdr
	for i := range shdrs {
		if shdrs[i].Type == shtSymtab {
			symtabHdr = &shdrs[i]
			break
		}
	}
	if symtabHdr == nil {
		t.Fatal("no SHT_SYMTAB section found")
	}

	n := symtabHdr.Size / elfSymSize
	syms := make([]elf64Sym, n)
	r := bytes.NewReader(buf[symtabHdr.Offset:])
	for i := range syms {
		if err := binary.Read(r, binary.LittleEndian, &syms[i]); err != nil {
			t.Fatalf("decoding symbol %d: %v", i, err)
		}
	}

	firstGlobal := int(symtabHdr.Info)
	if firstGlobal == 0 || firstGlobal >= len(syms) {
		t.Fatalf("sh_info (first global index) = %d out of range for %d symbols", firstGlobal, len(syms))
	}
	for i := 0; i < firstGlobal; i++ {
		bind := syms[i].Info >> 4
		if bind == stbGlobal {
			t.Errorf("symbol %d is GLOBAL but precedes sh_info boundary %d", i, firstGlobal)
		}
	}
	for i := firstGlobal; i < len(syms); i++ {
		bind := syms[i].Info >> 4
		if bind != stbGlobal {
			t.Errorf("symbol %d at/after sh_info boundary %d is not GLOBAL", i, firstGlobal)
		}
	}

	// the last symbol should be the undefined import: SHN_UNDEF, bind GLOBAL.
	last := syms[len(syms)-1]
	if last.Shndx != shnUndef {
		t.Errorf("expected the import to be the final, SHN_UNDEF symbol; got shndx=%d", last.Shndx)
	}
}

func TestWriteELFRelocationSectionLinkage(t *testing.T) {
	a := New(mustELFTarget(t), "mod.o")
	a.Declare("main", NewFunctionDecl().Global())
	a.Define("main", []byte{0xe8, 0, 0, 0, 0})
	a.Declare("target", NewFunctionDecl().Global())
	a.Define("target", []byte{0xc3})
	if err := a.Link(Link{From: "main", To: "target", At: 1}); err != nil {
		t.Fatal(err)
	}

	sink := NewBufferSink()
	if _, err := a.Write(sink); err != nil {
		t.Fatal(err)
	}
	buf := sink.Bytes()
	ehdr := readEhdr(t, buf)
	shdrs := readShdrs(t, buf, ehdr)

	var foundRela bool
	for _, sh := range shdrs {
		if sh.Type != shtRela {
			continue
		}
		foundRela = true
		if int(sh.Link) >= len(shdrs) || shdrs[sh.Link].Type != shtSymtab {
			t.Errorf("sh_link = %d, want the index of the SHT_SYMTAB section", sh.Link)
		}
		strtabHdr := shdrs[ehdr.Shstrndx]
		if int(sh.Info) >= len(shdrs) {
			t.Errorf("sh_info = %d out of range for %d sections", sh.Info, len(shdrs))
		} else if name := cString(buf[strtabHdr.Offset+uint64(shdrs[sh.Info].Name):]); name != ".text.main" {
			t.Errorf("sh_info points at section %q, want .text.main", name)
		}
		if sh.Size != elfRelaSize {
			t.Errorf("expected exactly one Rela entry (%d bytes), got size %d", elfRelaSize, sh.Size)
		}
		var rela elf64Rela
		if err := binary.Read(bytes.NewReader(buf[sh.Offset:]), binary.LittleEndian, &rela); err != nil {
			t.Fatalf("decoding rela entry: %v", err)
		}
		if rela.Offset != 1 {
			t.Errorf("r_offset = %d, want 1", rela.Offset)
		}
		if rtype := uint32(rela.Info); rtype != rX86_64PC32 {
			t.Errorf("r_type = %d, want R_X86_64_PC32 (%d)", rtype, rX86_64PC32)
		}
		if rela.Addend != -4 {
			t.Errorf("r_addend = %d, want -4", rela.Addend)
		}
	}
	if !foundRela {
		t.Fatal("expected a SHT_RELA section for main's outgoing link")
	}
}

func TestWriteELFRejectsThirtyTwoBitTarget(t *testing.T) {
	tgt, err := NewTarget(ArchARM, FormatELF)
	if err != nil {
		t.Fatal(err)
	}
	a := New(tgt, "mod.o")
	a.Declare("main", NewFunctionDecl())
	a.Define("main", []byte{0x00})

	_, err = a.Write(NewBufferSink())
	if _, ok := err.(UnsupportedTargetError); !ok {
		t.Fatalf("expected UnsupportedTargetError, got %v", err)
	}
}

func TestWriteELFContentSectionNaming(t *testing.T) {
	a := New(mustELFTarget(t), "mod.o")
	a.Declare("greeting", NewCStringDecl())
	a.Define("greeting", []byte("hi\x00"))

	sink := NewBufferSink()
	if _, err := a.Write(sink); err != nil {
		t.Fatal(err)
	}
	buf := sink.Bytes()
	ehdr := readEhdr(t, buf)
	shdrs := readShdrs(t, buf, ehdr)

	strtabHdr := shdrs[ehdr.Shstrndx]
	var found bool
	for _, sh := range shdrs {
		if sh.Type != shtProgbits {
			continue
		}
		name := cString(buf[strtabHdr.Offset+uint64(sh.Name):])
		if name == ".data.greeting" {
			found = true
			if sh.Flags&shfMerge == 0 || sh.Flags&shfStrings == 0 {
				t.Errorf("expected SHF_MERGE|SHF_STRINGS on a CString section, got flags=0x%x", sh.Flags)
			}
		}
	}
	if !found {
		t.Error("expected a .data.greeting section for the CString declaration")
	}
}

func TestWriteELFRoundTripsThroughDebugELF(t *testing.T) {
	a := New(mustELFTarget(t), "mod.o")
	a.Declare("main", NewFunctionDecl().Global())
	a.Define("main", []byte{0xe8, 0, 0, 0, 0})
	a.Declare("callee", NewFunctionDecl())
	a.Define("callee", []byte{0xc3})
	if err := a.Link(Link{From: "main", To: "callee", At: 1}); err != nil {
		t.Fatal(err)
	}

	sink := NewBufferSink()
	if _, err := a.Write(sink); err != nil {
		t.Fatal(err)
	}

	f, err := elf.NewFile(bytes.NewReader(sink.Bytes()))
	if err != nil {
		t.Fatalf("debug/elf could not parse the emitted object: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		t.Errorf("Type = %v, want ET_REL", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Errorf("Machine = %v, want EM_X86_64", f.Machine)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols(): %v", err)
	}
	names := map[string]bool{}
	for _, s := range syms {
		names[s.Name] = true
	}
	for _, want := range []string{"main", "callee"} {
		if !names[want] {
			t.Errorf("symbol %q not found in round-tripped symbol table", want)
		}
	}

	var foundRela bool
	for _, sect := range f.Sections {
		if sect.Type == elf.SHT_RELA && sect.Size > 0 {
			foundRela = true
		}
	}
	if !foundRela {
		t.Error("expected debug/elf to see a non-empty SHT_RELA section")
	}
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
