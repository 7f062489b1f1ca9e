package faerie

// Mach-O header/segment/symbol constants and struct layouts, grounded on
// the teacher's macho.go (same field names, reused for a relocatable
// MH_OBJECT rather than an MH_EXECUTE).
const (
	machMagic64 = 0xfeedfacf
	mhObject    = 0x1 // relocatable object file

	lcSegment64    = 0x19
	lcSymtab       = 0x2
	lcDysymtab     = 0xb
	lcBuildVersion = 0x32

	platformMacOS = 1

	vmProtNone  = 0x0
	vmProtRead  = 0x1
	vmProtWrite = 0x2
	vmProtExec  = 0x4

	sRegular         = 0x0
	sCstringLiterals = 0x2

	sAttrPureInstructions = 0x80000000
	sAttrSomeInstructions = 0x00000400
	sAttrDebug            = 0x02000000

	nUndf = 0x0
	nExt  = 0x1
	nSect = 0xe
)

type machOHeader64 struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
	Reserved   uint32
}

type segmentCommand64 struct {
	Cmd      uint32
	CmdSize  uint32
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

type section64 struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

type symtabCommand struct {
	Cmd     uint32
	CmdSize uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

type dysymtabCommand struct {
	Cmd            uint32
	CmdSize        uint32
	ILocalSym      uint32
	NLocalSym      uint32
	IExtDefSym     uint32
	NExtDefSym     uint32
	IUndefSym      uint32
	NUndefSym      uint32
	TOCOff         uint32
	NTOC           uint32
	ModTabOff      uint32
	NModTab        uint32
	ExtRefSymOff   uint32
	NExtRefSyms    uint32
	IndirectSymOff uint32
	NIndirectSyms  uint32
	ExtRelOff      uint32
	NExtRel        uint32
	LocRelOff      uint32
	NLocRel        uint32
}

// buildVersionCommand is LC_BUILD_VERSION: a conservative platform/version
// tuple every Mach-O object must carry (spec.md §4.5). NTools is always 0 —
// this backend never emits the trailing build_tool_version entries.
type buildVersionCommand struct {
	Cmd      uint32
	CmdSize  uint32
	Platform uint32
	Minos    uint32 // minimum OS version, X.Y.Z packed as (X<<16)|(Y<<8)|Z
	Sdk      uint32
	NTools   uint32
}

const (
	// minSdkVersion is a conservative macOS 11.0 floor, packed as
	// (major<<16)|(minor<<8)|patch, matching the packing Apple's load
	// commands use for Minos/Sdk.
	minSdkVersion = 0x000b0000
)

type nlist64 struct {
	NStrx  uint32
	NType  uint8
	NSect  uint8
	NDesc  uint16
	NValue uint64
}

const (
	machoHeaderSize = 32 // binary.Size(machOHeader64{})
	segSize         = 72 // binary.Size(segmentCommand64{})
	sectSize        = 80 // binary.Size(section64{})
)

type machoContentSym struct {
	name     string
	decl     Decl
	data     []byte
	segName  string
	sectName string
	flags    uint32
	align    uint64
}

func machoSectionInfo(target Target, name string, d Decl) (segName, sectName string, flags uint32, align uint64) {
	explicit := d.HasExplicitAlign()
	a := uint64(alignLog2(d.ExplicitAlign()))

	switch d.Kind() {
	case KindFunction:
		if !explicit {
			a = uint64(alignLog2(target.DefaultFunctionAlign()))
		}
		return "__TEXT", name, sRegular | sAttrPureInstructions | sAttrSomeInstructions, a
	case KindData:
		if !explicit {
			a = uint64(alignLog2(target.DefaultDataAlign()))
		}
		return "__DATA", name, sRegular, a
	case KindCString:
		if !explicit {
			a = 0
		}
		return "__TEXT", name, sCstringLiterals, a
	case KindSection:
		switch d.SectionKind() {
		case SectionText:
			if !explicit {
				a = uint64(alignLog2(target.DefaultFunctionAlign()))
			}
			return "__TEXT", name, sRegular | sAttrPureInstructions | sAttrSomeInstructions, a
		case SectionDebug:
			return "__DWARF", name, sRegular | sAttrDebug, a
		default:
			if !explicit {
				a = uint64(alignLog2(target.DefaultDataAlign()))
			}
			return "__DATA", name, sRegular, a
		}
	case KindDebugSection:
		return "__DWARF", name, sRegular | sAttrDebug, a
	default:
		return "__TEXT", name, sRegular, a
	}
}

// alignLog2 converts a power-of-two byte alignment into the log2 encoding
// Section64.Align uses. 0/1 map to 0 (unaligned).
func alignLog2(n uint32) uint32 {
	var log2 uint32
	for n > 1 {
		n >>= 1
		log2++
	}
	return log2
}

func setFixedName(dst *[16]byte, s string) {
	copy(dst[:], s)
}

// writeMachO is the Mach-O 64 back-end: it emits a single-segment
// MH_OBJECT (spec.md §4.5). Every relocation it writes is external
// (r_extern=1), referencing the destination's nlist index directly,
// whether that destination is itself locally defined or an import — see
// DESIGN.md for why this implementation never emits Mach-O's
// local/scattered relocation forms.
func writeMachO(a *Artifact, sink Sink) (int64, error) {
	target := a.target
	if target.Arch() != ArchX86_64 && target.Arch() != ArchAArch64 {
		return 0, UnsupportedTargetError{Target: target}
	}
	cpuType, cpuSubtype, err := target.machoCPU()
	if err != nil {
		return 0, err
	}
	if err := a.checkComplete(); err != nil {
		return 0, err
	}

	var content []machoContentSym
	for _, name := range a.declOrder {
		d := a.decls[name]
		if d.IsImport() {
			continue
		}
		def := a.defs[name]
		segName, sectName, flags, align := machoSectionInfo(target, name, d)
		content = append(content, machoContentSym{
			name: name, decl: d, data: def.bytes,
			segName: segName, sectName: sectName, flags: flags, align: align,
		})
	}
	contentIndex := make(map[string]int, len(content))
	for i, c := range content {
		contentIndex[c.name] = i
	}

	for _, l := range a.links {
		ci, ok := contentIndex[l.From]
		if !ok {
			return 0, MissingDefinitionError{Name: l.From}
		}
		flavor := a.resolvedFlavor(l)
		width := relocWidth(flavor, target)
		if int(l.At)+width > len(content[ci].data) {
			return 0, RelocationOutOfRangeError{From: l.From, At: l.At, Width: width, Len: len(content[ci].data)}
		}
	}

	// Symbol table: locals (non-global content), then defined externs
	// (global content), then undefined externs (imports) — the ordering
	// LC_DYSYMTAB requires.
	type symPlan struct {
		name       string
		nType      uint8
		sectionIdx uint32 // 1-based; 0 for undefined
	}
	var plan []symPlan
	symIndex := make(map[string]int)

	nLocal := 0
	for ci, c := range content {
		if c.decl.IsGlobal() {
			continue
		}
		symIndex[c.name] = len(plan)
		plan = append(plan, symPlan{name: c.name, nType: nSect, sectionIdx: uint32(ci + 1)})
		nLocal++
	}
	nDefExt := 0
	for ci, c := range content {
		if !c.decl.IsGlobal() {
			continue
		}
		symIndex[c.name] = len(plan)
		plan = append(plan, symPlan{name: c.name, nType: nSect | nExt, sectionIdx: uint32(ci + 1)})
		nDefExt++
	}
	nUndefExt := 0
	for _, name := range a.declOrder {
		d := a.decls[name]
		if !d.IsImport() {
			continue
		}
		symIndex[name] = len(plan)
		plan = append(plan, symPlan{name: name, nType: nUndf | nExt})
		nUndefExt++
	}

	names := newStringTable()
	for _, p := range plan {
		names.intern(p.name)
	}
	strtabBytes := names.Bytes()

	// Relocations, one array per content section.
	type relocPlan struct {
		contentIdx int
		entries    []relocationInfo
	}
	linksByFrom := make(map[string][]Link)
	for _, l := range a.links {
		linksByFrom[l.From] = append(linksByFrom[l.From], l)
	}
	relocsBySection := make([]relocPlan, 0, len(content))
	for ci, c := range content {
		links := linksByFrom[c.name]
		if len(links) == 0 {
			continue
		}
		rp := relocPlan{contentIdx: ci}
		for _, l := range links {
			flavor := a.resolvedFlavor(l)
			rtype, pcrel, length, err := machoRelocType(target.Arch(), flavor, target.PointerWidth())
			if err != nil {
				return 0, UnsupportedRelocationError{
					FromKind: c.decl.Kind(), ToKind: a.decls[l.To].Kind(), Flavor: flavor, Target: target,
				}
			}
			sidx, ok := symIndex[l.To]
			if !ok {
				return 0, UndeclaredSymbolError{Name: l.To}
			}
			rp.entries = append(rp.entries, relocationInfo{
				Address: uint32(l.At),
				Packed:  packRelocationInfo(uint32(sidx), pcrel, length, true, rtype),
			})
		}
		relocsBySection = append(relocsBySection, rp)
	}
	relocIdx := make(map[int]int, len(relocsBySection)) // content index -> relocsBySection index
	for i, rp := range relocsBySection {
		relocIdx[rp.contentIdx] = i
	}

	nsects := uint32(len(content))
	const (
		symtabCmdSize       = 24
		dysymtabCmdSize     = 80
		buildVersionCmdSize = 24
	)
	totalLoadCmdsSize := uint32(segSize) + nsects*uint32(sectSize) + symtabCmdSize + dysymtabCmdSize + buildVersionCmdSize
	ncmds := uint32(4) // segment, symtab, dysymtab, build version

	headerAndCmds := uint32(machoHeaderSize) + totalLoadCmdsSize

	// Lay out section content sequentially after the header/load commands,
	// honoring each section's alignment.
	w := &byteWriter{}
	w.putZero(int(headerAndCmds))

	sectionOffsets := make([]uint64, len(content))
	sectionAddrs := make([]uint64, len(content))
	var vmCursor uint64
	for i, c := range content {
		alignBytes := uint64(1) << c.align
		w.alignTo(int(alignBytes))
		if r := vmCursor % alignBytes; alignBytes > 1 && r != 0 {
			vmCursor += alignBytes - r
		}
		sectionOffsets[i] = uint64(w.Len())
		sectionAddrs[i] = vmCursor
		w.putBytes(c.data)
		vmCursor += uint64(len(c.data))
	}
	sectionsEndOffset := uint64(w.Len())

	w.alignTo(8)
	relocOffsets := make(map[int]uint64, len(relocsBySection))
	for _, rp := range relocsBySection {
		relocOffsets[rp.contentIdx] = uint64(w.Len())
		for _, e := range rp.entries {
			w.put(e)
		}
	}

	w.alignTo(8)
	symtabOffset := uint64(w.Len())
	for _, p := range plan {
		nameOff := names.offsets[p.name]
		value := uint64(0)
		if p.sectionIdx > 0 {
			value = sectionAddrs[p.sectionIdx-1]
		}
		w.put(nlist64{NStrx: nameOff, NType: p.nType, NSect: uint8(p.sectionIdx), NDesc: 0, NValue: value})
	}

	strtabOffset := uint64(w.Len())
	w.putBytes(strtabBytes)

	out := w.Bytes()

	// Now that every offset is known, build the header and load commands
	// and patch them into the reserved prefix.
	hdrw := &byteWriter{}
	hdrw.put(machOHeader64{
		Magic: machMagic64, CPUType: cpuType, CPUSubtype: cpuSubtype,
		FileType: mhObject, NCmds: ncmds, SizeOfCmds: totalLoadCmdsSize,
	})

	seg := segmentCommand64{
		Cmd: lcSegment64, CmdSize: uint32(segSize) + nsects*uint32(sectSize),
		VMAddr: 0, VMSize: alignUp(vmCursor, 8),
		FileOff: uint64(headerAndCmds), FileSize: sectionsEndOffset - uint64(headerAndCmds),
		MaxProt: vmProtRead | vmProtWrite | vmProtExec, InitProt: vmProtRead | vmProtWrite | vmProtExec,
		NSects: nsects,
	}
	hdrw.put(seg)
	for i, c := range content {
		var sect section64
		setFixedName(&sect.SectName, c.sectName)
		setFixedName(&sect.SegName, c.segName)
		sect.Addr = sectionAddrs[i]
		sect.Size = uint64(len(c.data))
		sect.Offset = uint32(sectionOffsets[i])
		sect.Align = uint32(c.align)
		sect.Flags = c.flags
		if j, ok := relocIdx[i]; ok {
			rp := relocsBySection[j]
			sect.Reloff = uint32(relocOffsets[rp.contentIdx])
			sect.Nreloc = uint32(len(rp.entries))
		}
		hdrw.put(sect)
	}

	hdrw.put(symtabCommand{
		Cmd: lcSymtab, CmdSize: symtabCmdSize,
		Symoff: uint32(symtabOffset), Nsyms: uint32(len(plan)),
		Stroff: uint32(strtabOffset), Strsize: uint32(len(strtabBytes)),
	})
	hdrw.put(dysymtabCommand{
		Cmd: lcDysymtab, CmdSize: dysymtabCmdSize,
		ILocalSym: 0, NLocalSym: uint32(nLocal),
		IExtDefSym: uint32(nLocal), NExtDefSym: uint32(nDefExt),
		IUndefSym: uint32(nLocal + nDefExt), NUndefSym: uint32(nUndefExt),
	})
	hdrw.put(buildVersionCommand{
		Cmd: lcBuildVersion, CmdSize: buildVersionCmdSize,
		Platform: platformMacOS, Minos: minSdkVersion, Sdk: minSdkVersion, NTools: 0,
	})

	hdr := hdrw.Bytes()
	copy(out[:len(hdr)], hdr)

	n, err := sink.Write(out)
	if err != nil {
		return int64(n), IoError{Cause: err}
	}
	return int64(n), nil
}
