package faerie

import "fmt"

// RelocFlavor names the abstract shape of a reference a Link expresses,
// independent of any concrete relocation encoding. A back-end translates
// a (From-kind, To-kind, RelocFlavor, Target) tuple into a concrete
// relocation record at emit time (spec.md §4.3, "Link-flavor defaulting").
type RelocFlavor int

const (
	// FlavorDefault asks the back-end to pick a flavor from the default
	// table based on the kinds of From and To.
	FlavorDefault RelocFlavor = iota
	// FlavorPCRelBranch is a PC-relative branch/call to a locally defined
	// function.
	FlavorPCRelBranch
	// FlavorPLTCall is a PLT-style call to an imported function.
	FlavorPLTCall
	// FlavorPCRelData is a PC-relative reference to locally defined data
	// or a cstring.
	FlavorPCRelData
	// FlavorGOTLoad is a GOT-relative load of imported data.
	FlavorGOTLoad
	// FlavorAbsolute is an absolute pointer, width matching the target's
	// pointer width.
	FlavorAbsolute
)

func (f RelocFlavor) String() string {
	switch f {
	case FlavorDefault:
		return "default"
	case FlavorPCRelBranch:
		return "pc-rel-branch"
	case FlavorPLTCall:
		return "plt-call"
	case FlavorPCRelData:
		return "pc-rel-data"
	case FlavorGOTLoad:
		return "got-load"
	case FlavorAbsolute:
		return "absolute"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Link expresses: at byte offset At within the definition named From,
// there is a reference to symbol To. Flavor overrides the default
// relocation flavor chosen from the (From, To) kind pair; FlavorDefault
// leaves the choice to the back-end.
type Link struct {
	From, To string
	At       uint64
	Flavor   RelocFlavor
}

// defaultFlavor implements the §4.3 table: given the kinds of the From and
// To declarations of a link, choose the relocation flavor a caller did not
// explicitly override.
func defaultFlavor(from, to Decl) RelocFlavor {
	switch {
	case from.IsFunctionLike() && to.Kind() == KindFunction:
		return FlavorPCRelBranch
	case from.IsFunctionLike() && to.Kind() == KindFunctionImport:
		return FlavorPLTCall
	case from.IsFunctionLike() && (to.Kind() == KindData || to.Kind() == KindCString):
		return FlavorPCRelData
	case from.IsFunctionLike() && to.Kind() == KindDataImport:
		return FlavorGOTLoad
	default:
		// Data -> Data/Function, and anything else not named explicitly in
		// the table: absolute pointer of target's pointer width.
		return FlavorAbsolute
	}
}

// relocWidth returns the byte width a relocation of this flavor patches,
// for the RelocationOutOfRange range check (§4.3: "at + relocation-width
// <= len(from.bytes)").
func relocWidth(flavor RelocFlavor, target Target) int {
	switch flavor {
	case FlavorAbsolute:
		return target.PointerWidth()
	default:
		return 4
	}
}
