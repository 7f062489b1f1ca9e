package faerie

// Mach-O relocation type constants (x86_64 and ARM64 only; the Mach-O
// back-end is a 64-bit-only implementation, mirroring elf_reloc.go).
// Grounded on the teacher's macho.go constant block, which names the
// header/segment/symbol constants for the same format; these relocation
// values come from the same reloc_info_type enumeration Apple's own
// <mach-o/reloc.h> and <mach-o/arm64/reloc.h> define.
const (
	x8664RelocUnsigned = 0
	x8664RelocSigned   = 1
	x8664RelocBranch   = 2
	x8664RelocGotLoad  = 3

	arm64RelocUnsigned     = 0
	arm64RelocBranch26     = 2
	arm64RelocPage21       = 3
	arm64RelocGotLoadPage21 = 5
)

// relocation_info is Mach-O's packed 8-byte relocation record. Go has no
// bitfield syntax, so the second word is assembled by hand from its
// r_symbolnum:24, r_pcrel:1, r_length:2, r_extern:1, r_type:4 fields (see
// <mach-o/reloc.h>).
type relocationInfo struct {
	Address uint32
	Packed  uint32
}

func packRelocationInfo(symbolnum uint32, pcrel bool, length uint8, extern bool, rtype uint8) uint32 {
	var packed uint32
	packed |= symbolnum & 0xffffff
	if pcrel {
		packed |= 1 << 24
	}
	packed |= uint32(length&0x3) << 25
	if extern {
		packed |= 1 << 27
	}
	packed |= uint32(rtype&0xf) << 28
	return packed
}

// machoRelocType maps (arch, flavor, pointer width) to a Mach-O relocation
// type plus whether it is PC-relative and its length code (0=1,1=2,2=4,3=8
// bytes), per spec.md §4.5's relocation encoding table. Every Mach-O
// relocation this back-end emits is external (r_extern=1): scattered
// relocations are a 32-bit-era mechanism this implementation never
// produces (see DESIGN.md).
func machoRelocType(arch Arch, flavor RelocFlavor, ptrWidth int) (rtype uint8, pcrel bool, length uint8, err error) {
	switch arch {
	case ArchX86_64:
		switch flavor {
		case FlavorPCRelBranch, FlavorPLTCall:
			return x8664RelocBranch, true, 2, nil
		case FlavorPCRelData:
			return x8664RelocSigned, true, 2, nil
		case FlavorGOTLoad:
			return x8664RelocGotLoad, true, 2, nil
		case FlavorAbsolute:
			if ptrWidth == 8 {
				return x8664RelocUnsigned, false, 3, nil
			}
			return x8664RelocUnsigned, false, 2, nil
		}
	case ArchAArch64:
		switch flavor {
		case FlavorPCRelBranch, FlavorPLTCall:
			return arm64RelocBranch26, true, 2, nil
		case FlavorPCRelData:
			return arm64RelocPage21, true, 2, nil
		case FlavorGOTLoad:
			return arm64RelocGotLoadPage21, true, 2, nil
		case FlavorAbsolute:
			if ptrWidth == 8 {
				return arm64RelocUnsigned, false, 3, nil
			}
			return arm64RelocUnsigned, false, 2, nil
		}
	}
	return 0, false, 0, UnsupportedRelocationError{Flavor: flavor, Target: Target{arch: arch}}
}
