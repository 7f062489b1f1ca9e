package faerie

import "fmt"

// Arch identifies a CPU architecture a back-end may emit code for.
type Arch int

const (
	ArchX86 Arch = iota
	ArchX86_64
	ArchARM
	ArchAArch64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX86_64:
		return "x86_64"
	case ArchARM:
		return "arm"
	case ArchAArch64:
		return "aarch64"
	default:
		return fmt.Sprintf("arch(%d)", int(a))
	}
}

// PointerWidth returns the architecture's native pointer width in bytes.
func (a Arch) PointerWidth() int {
	switch a {
	case ArchX86_64, ArchAArch64:
		return 8
	default:
		return 4
	}
}

func (a Arch) supported() bool {
	switch a {
	case ArchX86, ArchX86_64, ArchARM, ArchAArch64:
		return true
	default:
		return false
	}
}

// Format selects the binary container a back-end serializes into.
type Format int

const (
	FormatELF Format = iota
	FormatMachO
	// FormatPE is an explicit non-goal; see pe.go.
	FormatPE
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatMachO:
		return "macho"
	case FormatPE:
		return "pe"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Endian is the byte order a Target serializes multi-byte fields in.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// Target pairs an architecture, a binary format, and a byte order. It is
// immutable once constructed.
type Target struct {
	arch   Arch
	format Format
	endian Endian
}

// NewTarget builds a Target for the given architecture and format, using
// little-endian byte order (the only order every architecture in this
// package's scope runs in practice). Construction only rejects an
// unrecognized architecture value; whether the (arch, format) pair is
// actually emittable is decided at Write time (see UnsupportedTargetError),
// per spec.
func NewTarget(arch Arch, format Format) (Target, error) {
	if !arch.supported() {
		return Target{}, fmt.Errorf("faerie: unrecognized architecture %d", int(arch))
	}
	return Target{arch: arch, format: format, endian: LittleEndian}, nil
}

func (t Target) Arch() Arch     { return t.arch }
func (t Target) Format() Format { return t.format }
func (t Target) Endian() Endian { return t.endian }

func (t Target) String() string {
	return t.arch.String() + "-" + t.format.String()
}

// PointerWidth returns the pointer width in bytes (4 or 8) for this target.
func (t Target) PointerWidth() int { return t.arch.PointerWidth() }

// DefaultPageAlign returns the conventional page alignment for this target.
func (t Target) DefaultPageAlign() uint64 { return 0x1000 }

// DefaultFunctionAlign returns the default alignment for Function
// declarations when the caller does not specify one explicitly.
func (t Target) DefaultFunctionAlign() uint32 { return 16 }

// DefaultDataAlign returns the default alignment for Data declarations when
// the caller does not specify one explicitly. 8 bytes on 64-bit
// architectures, 4 on 32-bit ones (spec.md Open Question (iii)).
func (t Target) DefaultDataAlign() uint32 {
	if t.PointerWidth() == 8 {
		return 8
	}
	return 4
}

// DefaultCStringAlign returns the default alignment for CString
// declarations: 1, since cstrings are byte-granular and mergeable.
func (t Target) DefaultCStringAlign() uint32 { return 1 }

// elfMachine returns the ELF e_machine value for this target's
// architecture, or an error if the architecture has no ELF encoding in
// this implementation.
func (t Target) elfMachine() (uint16, error) {
	switch t.arch {
	case ArchX86:
		return 3, nil // EM_386
	case ArchX86_64:
		return 62, nil // EM_X86_64
	case ArchARM:
		return 40, nil // EM_ARM
	case ArchAArch64:
		return 183, nil // EM_AARCH64
	default:
		return 0, UnsupportedTargetError{Target: t}
	}
}

// machoCPU returns the Mach-O cputype/cpusubtype pair for this target's
// architecture, or an error if the architecture has no 64-bit Mach-O
// encoding (there is no 32-bit Mach-O object format in this
// implementation's scope).
func (t Target) machoCPU() (cputype, cpusubtype uint32, err error) {
	switch t.arch {
	case ArchX86_64:
		return 0x01000007, 0x00000003, nil // CPU_TYPE_X86_64, CPU_SUBTYPE_X86_64_ALL
	case ArchAArch64:
		return 0x0100000c, 0x00000000, nil // CPU_TYPE_ARM64, CPU_SUBTYPE_ARM64_ALL
	default:
		return 0, 0, UnsupportedTargetError{Target: t}
	}
}
