package faerie

// ELF section types/flags and symbol binding/type constants (spec.md
// §4.4). Grounded on the teacher's elf_sections.go constant block, which
// names the same values for a dynamically-linked executable; here they
// serve a relocatable ET_REL object instead.
const (
	shtNull     = 0
	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRela     = 4
	shtNote     = 7

	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecinstr = 0x4
	shfMerge     = 0x10
	shfStrings   = 0x20

	stbLocal  = 0
	stbGlobal = 1

	sttNotype  = 0
	sttObject  = 1
	sttFunc    = 2
	sttSection = 3
	sttFile    = 4

	shnUndef = 0
	shnAbs   = 0xfff1

	etRel = 1
)

type elf64Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type elf64Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

type elf64Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

type elf64Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const (
	elfHeaderSize  = 64
	elfShdrSize    = 64
	elfSymSize     = 24
	elfRelaSize    = 24
)

// elfContentSym is a locally-defined, locally-definable declaration (one
// that carries a PROGBITS section of its own) in declaration order.
type elfContentSym struct {
	name    string
	decl    Decl
	data    []byte
	secName string
	shType  uint32
	shFlags uint64
	align   uint64
	entsize uint64
}

func elfSectionInfo(target Target, name string, d Decl) (secName string, shType uint32, flags, align, entsize uint64) {
	explicit := d.HasExplicitAlign()
	a := uint64(d.ExplicitAlign())

	switch d.Kind() {
	case KindFunction:
		if !explicit {
			a = uint64(target.DefaultFunctionAlign())
		}
		return ".text." + name, shtProgbits, shfAlloc | shfExecinstr, a, 0
	case KindData:
		if !explicit {
			a = uint64(target.DefaultDataAlign())
		}
		flags := uint64(shfAlloc)
		if d.IsWritable() {
			flags |= shfWrite
		}
		return ".data." + name, shtProgbits, flags, a, 0
	case KindCString:
		if !explicit {
			a = 1
		}
		return ".data." + name, shtProgbits, shfAlloc | shfMerge | shfStrings, a, 1
	case KindSection:
		switch d.SectionKind() {
		case SectionText:
			if !explicit {
				a = uint64(target.DefaultFunctionAlign())
			}
			return name, shtProgbits, shfAlloc | shfExecinstr, a, 0
		case SectionDebug:
			if !explicit {
				a = 1
			}
			return name, shtProgbits, 0, a, 0
		default: // SectionData
			if !explicit {
				a = uint64(target.DefaultDataAlign())
			}
			flags := uint64(shfAlloc)
			if d.IsWritable() {
				flags |= shfWrite
			}
			return name, shtProgbits, flags, a, 0
		}
	case KindDebugSection:
		if !explicit {
			a = 1
		}
		return ".debug_" + name, shtProgbits, 0, a, 0
	default:
		return name, shtProgbits, 0, 1, 0
	}
}

func elfSymType(k Kind) uint8 {
	switch k {
	case KindFunction, KindFunctionImport:
		return sttFunc
	case KindData, KindCString, KindDataImport:
		return sttObject
	default:
		return sttNotype
	}
}

// writeELF is the ELF64 back-end: it consumes a finalized Artifact and
// serializes an ET_REL byte stream to sink. It performs no validation the
// Artifact API itself doesn't already guarantee, beyond the emit-time
// checks spec.md §4.4/§7 call for (MissingDefinition,
// RelocationOutOfRange, UnsupportedTarget).
func writeELF(a *Artifact, sink Sink) (int64, error) {
	target := a.target
	if target.Arch() != ArchX86_64 && target.Arch() != ArchAArch64 {
		return 0, UnsupportedTargetError{Target: target}
	}
	machine, err := target.elfMachine()
	if err != nil {
		return 0, err
	}
	if err := a.checkComplete(); err != nil {
		return 0, err
	}

	var content []elfContentSym
	for _, name := range a.declOrder {
		d := a.decls[name]
		if d.IsImport() {
			continue
		}
		data, _ := a.defs[name]
		secName, shType, flags, align, entsize := elfSectionInfo(target, name, d)
		content = append(content, elfContentSym{
			name: name, decl: d, data: data.bytes,
			secName: secName, shType: shType, shFlags: flags, align: align, entsize: entsize,
		})
	}

	contentIndex := make(map[string]int, len(content)) // name -> index within content
	for i, c := range content {
		contentIndex[c.name] = i
	}

	// Validate every link's range before emitting anything (spec.md §4.4
	// failure modes): at + relocation-width <= len(from.bytes).
	for _, l := range a.links {
		ci, ok := contentIndex[l.From]
		if !ok {
			// From is declared but not locally defined; checkComplete
			// would already have rejected this unless From is an import,
			// which cannot itself host outgoing code/data bytes to patch.
			return 0, MissingDefinitionError{Name: l.From}
		}
		flavor := a.resolvedFlavor(l)
		width := relocWidth(flavor, target)
		if int(l.At)+width > len(content[ci].data) {
			return 0, RelocationOutOfRangeError{From: l.From, At: l.At, Width: width, Len: len(content[ci].data)}
		}
	}

	names := newStringTable()
	fileNameOff := names.intern(a.name)
	strtabNameOff := names.intern(".strtab")
	symtabNameOff := names.intern(".symtab")
	noteNameOff := names.intern(".note.GNU-stack")
	secNameOff := make([]uint32, len(content))
	for i, c := range content {
		secNameOff[i] = names.intern(c.secName)
	}

	// Section indices: 0=NULL, 1=.strtab, 2=.symtab, 3..=content, then rela
	// sections (one per content section with outgoing links), then note.
	const (
		idxNull   = 0
		idxStrtab = 1
		idxSymtab = 2
	)
	contentBase := 3
	sectionIndexOf := func(ci int) uint16 { return uint16(contentBase + ci) }

	// Determine which content symbols have outgoing links, in content
	// order, and collect their Rela entries.
	type relaSection struct {
		contentIdx int
		entries    []elf64Rela
	}
	linksByFrom := make(map[string][]Link)
	for _, l := range a.links {
		linksByFrom[l.From] = append(linksByFrom[l.From], l)
	}

	// Build symbol table in the §4.4 strict order, tracking each name's
	// symtab index as we go so relocations can reference it.
	symIndex := make(map[string]int)
	var syms []elf64Sym
	nameSymOff := make(map[string]uint32)

	// (i) undefined symbol at index 0.
	syms = append(syms, elf64Sym{})

	// (ii) STT_FILE local symbol bearing the artifact's name.
	syms = append(syms, elf64Sym{Name: fileNameOff, Info: stbLocal<<4 | sttFile, Shndx: shnAbs})

	// (iii) STT_SECTION locals, one per content section, in section-index
	// order.
	for ci := range content {
		syms = append(syms, elf64Sym{Info: stbLocal<<4 | sttSection, Shndx: sectionIndexOf(ci)})
	}

	// (iv) LOCAL symbols for non-global defined names.
	for ci, c := range content {
		if c.decl.IsGlobal() {
			continue
		}
		off := names.intern(c.name)
		nameSymOff[c.name] = off
		symIndex[c.name] = len(syms)
		syms = append(syms, elf64Sym{
			Name: off, Info: stbLocal<<4 | elfSymType(c.decl.Kind()),
			Shndx: sectionIndexOf(ci), Value: 0, Size: uint64(len(c.data)),
		})
	}

	firstGlobal := len(syms)

	// (v-a) GLOBAL defined, in declaration order.
	for ci, c := range content {
		if !c.decl.IsGlobal() {
			continue
		}
		off := names.intern(c.name)
		symIndex[c.name] = len(syms)
		syms = append(syms, elf64Sym{
			Name: off, Info: stbGlobal<<4 | elfSymType(c.decl.Kind()),
			Shndx: sectionIndexOf(ci), Value: 0, Size: uint64(len(c.data)),
		})
	}

	// (v-b) GLOBAL undefined (imports), in declaration order.
	for _, name := range a.declOrder {
		d := a.decls[name]
		if !d.IsImport() {
			continue
		}
		off := names.intern(name)
		bind := uint8(stbGlobal)
		if !d.IsGlobal() {
			bind = stbLocal
		}
		symIndex[name] = len(syms)
		syms = append(syms, elf64Sym{
			Name: off, Info: bind<<4 | elfSymType(d.Kind()), Shndx: shnUndef,
		})
	}

	// Relocation sections, one per content symbol that is the From side of
	// at least one link, in content order (so section-header order matches
	// declaration order, per the ordering guarantee in spec.md §5).
	var relas []relaSection
	for ci, c := range content {
		links := linksByFrom[c.name]
		if len(links) == 0 {
			continue
		}
		rs := relaSection{contentIdx: ci}
		for _, l := range links {
			flavor := a.resolvedFlavor(l)
			rtype, addend, err := elfRelocType(target.Arch(), flavor, target.PointerWidth())
			if err != nil {
				return 0, UnsupportedRelocationError{
					FromKind: c.decl.Kind(), ToKind: a.decls[l.To].Kind(), Flavor: flavor, Target: target,
				}
			}
			sidx, ok := symIndex[l.To]
			if !ok {
				return 0, UndeclaredSymbolError{Name: l.To}
			}
			rs.entries = append(rs.entries, elf64Rela{
				Offset: l.At,
				Info:   uint64(sidx)<<32 | uint64(rtype),
				Addend: addend,
			})
		}
		relas = append(relas, rs)
	}
	relaNameOff := make([]uint32, len(relas))
	for i, rs := range relas {
		relaNameOff[i] = names.intern(".rela." + content[rs.contentIdx].name)
	}

	// Now that every name has been interned, the string table is final.
	strtabBytes := names.Bytes()

	// Lay out the file: header, content sections (aligned), strtab,
	// symtab, rela sections, note, section header table.
	w := &byteWriter{}
	w.putZero(elfHeaderSize)

	contentOffsets := make([]uint64, len(content))
	for i, c := range content {
		w.alignTo(int(c.align))
		contentOffsets[i] = uint64(w.Len())
		w.putBytes(c.data)
	}

	strtabOffset := uint64(w.Len())
	w.putBytes(strtabBytes)

	w.alignTo(8)
	symtabOffset := uint64(w.Len())
	for _, s := range syms {
		w.put(s)
	}

	relaOffsets := make([]uint64, len(relas))
	for i, rs := range relas {
		w.alignTo(8)
		relaOffsets[i] = uint64(w.Len())
		for _, e := range rs.entries {
			w.put(e)
		}
	}

	noteOffset := uint64(w.Len())

	w.alignTo(8)
	shoff := uint64(w.Len())

	numSections := 3 + len(content) + len(relas) + 1
	shdrs := make([]elf64Shdr, numSections)
	shdrs[idxNull] = elf64Shdr{}
	shdrs[idxStrtab] = elf64Shdr{
		Name: strtabNameOff, Type: shtStrtab, Offset: strtabOffset, Size: uint64(len(strtabBytes)), AddrAlign: 1,
	}
	shdrs[idxSymtab] = elf64Shdr{
		Name: symtabNameOff, Type: shtSymtab, Offset: symtabOffset, Size: uint64(len(syms) * elfSymSize),
		Link: idxStrtab, Info: uint32(firstGlobal), AddrAlign: 8, EntSize: elfSymSize,
	}
	for i, c := range content {
		shdrs[contentBase+i] = elf64Shdr{
			Name: secNameOff[i], Type: c.shType, Flags: c.shFlags,
			Offset: contentOffsets[i], Size: uint64(len(c.data)), AddrAlign: c.align, EntSize: c.entsize,
		}
	}
	relaBase := contentBase + len(content)
	for i, rs := range relas {
		shdrs[relaBase+i] = elf64Shdr{
			Name: relaNameOff[i], Type: shtRela,
			Offset: relaOffsets[i], Size: uint64(len(rs.entries) * elfRelaSize),
			Link: idxSymtab, Info: uint32(sectionIndexOf(rs.contentIdx)), AddrAlign: 8, EntSize: elfRelaSize,
		}
	}
	noteIdx := relaBase + len(relas)
	shdrs[noteIdx] = elf64Shdr{Name: noteNameOff, Type: shtNote, Offset: noteOffset, AddrAlign: 1}

	for _, sh := range shdrs {
		w.put(sh)
	}

	ehdr := elf64Ehdr{
		Type: etRel, Machine: machine, Version: 1,
		Shoff: shoff, Ehsize: elfHeaderSize, Shentsize: elfShdrSize,
		Shnum: uint16(numSections), Shstrndx: idxStrtab,
	}
	ehdr.Ident[0], ehdr.Ident[1], ehdr.Ident[2], ehdr.Ident[3] = 0x7f, 'E', 'L', 'F'
	ehdr.Ident[4] = 2 // ELFCLASS64
	ehdr.Ident[5] = 1 // ELFDATA2LSB
	ehdr.Ident[6] = 1 // EV_CURRENT

	out := w.Bytes()
	headerBytes := elf64HeaderBytes(ehdr)
	copy(out[:elfHeaderSize], headerBytes)

	n, err := sink.Write(out)
	if err != nil {
		return int64(n), IoError{Cause: err}
	}
	return int64(n), nil
}

// elf64HeaderBytes serializes ehdr with encoding/binary, sized exactly
// elfHeaderSize bytes.
func elf64HeaderBytes(ehdr elf64Ehdr) []byte {
	w := &byteWriter{}
	w.put(ehdr)
	b := w.Bytes()
	if len(b) != elfHeaderSize {
		panic("faerie: elf64Ehdr encoded to unexpected size")
	}
	return b
}
