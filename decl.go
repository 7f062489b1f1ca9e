package faerie

import "fmt"

// Kind identifies which variant of declaration a Decl carries.
type Kind int

const (
	KindFunction Kind = iota
	KindData
	KindCString
	KindSection
	KindFunctionImport
	KindDataImport
	KindDebugSection
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindData:
		return "data"
	case KindCString:
		return "cstring"
	case KindSection:
		return "section"
	case KindFunctionImport:
		return "function-import"
	case KindDataImport:
		return "data-import"
	case KindDebugSection:
		return "debug-section"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// category groups Kind values by the axis merge rules care about: a
// function-like kind can only ever merge with another function-like kind,
// and likewise for data-like.
type category int

const (
	categoryFunction category = iota
	categoryData
	categorySection
	categoryDebug
)

func (k Kind) category() category {
	switch k {
	case KindFunction, KindFunctionImport:
		return categoryFunction
	case KindData, KindCString, KindDataImport:
		return categoryData
	case KindSection:
		return categorySection
	case KindDebugSection:
		return categoryDebug
	default:
		return categoryData
	}
}

func (k Kind) isImport() bool {
	return k == KindFunctionImport || k == KindDataImport
}

// IsLocallyDefinable reports whether a Decl of this Kind may have an
// associated Definition (everything except the two import kinds).
func (k Kind) IsLocallyDefinable() bool { return !k.isImport() }

// SectionKind classifies a raw Section declaration.
type SectionKind int

const (
	SectionData SectionKind = iota
	SectionText
	SectionDebug
)

func (s SectionKind) String() string {
	switch s {
	case SectionData:
		return "data"
	case SectionText:
		return "text"
	case SectionDebug:
		return "debug"
	default:
		return fmt.Sprintf("section-kind(%d)", int(s))
	}
}

// Decl is a tagged-variant description of an intended symbol: a kind plus
// the visibility/attribute flags that apply to it. Decl values are
// immutable; the fluent builder methods return modified copies.
type Decl struct {
	kind        Kind
	global      bool
	weak        bool
	writable    bool
	hasAlign    bool
	align       uint32
	sectionKind SectionKind
}

// NewFunctionDecl declares executable code to be defined locally.
func NewFunctionDecl() Decl { return Decl{kind: KindFunction} }

// NewDataDecl declares mutable or read-only data to be defined locally.
func NewDataDecl() Decl { return Decl{kind: KindData} }

// NewCStringDecl declares a NUL-terminated, merge-eligible string.
func NewCStringDecl() Decl { return Decl{kind: KindCString, global: true} }

// NewSectionDecl declares a raw user section of the given kind.
func NewSectionDecl(sk SectionKind) Decl { return Decl{kind: KindSection, sectionKind: sk} }

// NewDebugSectionDecl declares an opaque, caller-supplied debug blob.
func NewDebugSectionDecl() Decl { return Decl{kind: KindDebugSection} }

// NewFunctionImportDecl declares an externally defined function to link
// against.
func NewFunctionImportDecl() Decl { return Decl{kind: KindFunctionImport, global: true} }

// NewDataImportDecl declares externally defined data to link against.
func NewDataImportDecl() Decl { return Decl{kind: KindDataImport, global: true} }

// Global marks the declaration as having global (externally visible)
// binding.
func (d Decl) Global() Decl { d.global = true; return d }

// Local marks the declaration as having local (file-scoped) binding.
func (d Decl) Local() Decl { d.global = false; return d }

// Weak marks the declaration as weakly bound.
func (d Decl) Weak() Decl { d.weak = true; return d }

// Strong marks the declaration as strongly bound (the default).
func (d Decl) Strong() Decl { d.weak = false; return d }

// Writable marks a Data declaration as mutable.
func (d Decl) Writable() Decl { d.writable = true; return d }

// AlignTo sets an explicit alignment, which must be a positive power of
// two (checked at Declare time, not here).
func (d Decl) AlignTo(n uint32) Decl { d.hasAlign = true; d.align = n; return d }

// Kind returns the declaration's variant.
func (d Decl) Kind() Kind { return d.kind }

// IsGlobal reports whether the declaration has global binding.
func (d Decl) IsGlobal() bool { return d.global }

// IsWeak reports whether the declaration has weak binding.
func (d Decl) IsWeak() bool { return d.weak }

// IsWritable reports whether a Data declaration is mutable.
func (d Decl) IsWritable() bool { return d.writable }

// HasExplicitAlign reports whether AlignTo was called on this Decl.
func (d Decl) HasExplicitAlign() bool { return d.hasAlign }

// ExplicitAlign returns the alignment set by AlignTo; only meaningful when
// HasExplicitAlign is true.
func (d Decl) ExplicitAlign() uint32 { return d.align }

// SectionKind returns the raw-section classification; only meaningful for
// Kind() == KindSection.
func (d Decl) SectionKind() SectionKind { return d.sectionKind }

// IsImport reports whether this Decl is FunctionImport or DataImport.
func (d Decl) IsImport() bool { return d.kind.isImport() }

// IsFunctionLike reports whether this Decl's kind is in the function
// category (Function or FunctionImport).
func (d Decl) IsFunctionLike() bool { return d.kind.category() == categoryFunction }

// IsDataLike reports whether this Decl's kind is in the data category
// (Data, CString, or DataImport).
func (d Decl) IsDataLike() bool { return d.kind.category() == categoryData }

// isValidAlign reports whether n is zero (unset) or a positive power of two.
func isValidAlign(n uint32) bool {
	return n == 0 || (n&(n-1)) == 0
}

// mergeDecl implements the §4.2 redeclaration rules: given an existing
// declaration old and a newly supplied one next for the same name, it
// returns the decl that should replace old, or an error naming the
// incompatibility.
func mergeDecl(name string, old, next Decl) (Decl, error) {
	if old == next {
		return old, nil
	}

	if old.kind.category() != next.kind.category() {
		return Decl{}, IncompatibleDeclarationError{Name: name, Old: old, New: next}
	}

	// Import -> locally-defined upgrade: only the exact-kind transition the
	// spec names is allowed (FunctionImport->Function, DataImport->{Data,CString}).
	merged := old
	switch {
	case old.kind == next.kind:
		merged.kind = old.kind
	case old.kind.isImport() && !next.kind.isImport():
		merged.kind = next.kind
	case !old.kind.isImport() && next.kind.isImport():
		// Re-declaring an already locally-defined symbol as the
		// corresponding import kind is a no-op: the existing definition is
		// kept and next's attributes are discarded.
		return old, nil
	default:
		return Decl{}, IncompatibleDeclarationError{Name: name, Old: old, New: next}
	}

	// Local -> Global upgrade permitted; Global -> Local downgrade is not.
	// An import's binding comes from its kind rather than from the caller,
	// so an import upgraded to a local definition adopts next's binding.
	switch {
	case old.kind.isImport() && !next.kind.isImport():
		merged.global = next.global
	case old.global == next.global:
		merged.global = old.global
	case !old.global && next.global:
		merged.global = true
	default:
		return Decl{}, IncompatibleDeclarationError{Name: name, Old: old, New: next}
	}

	// Strong/Weak: strong wins regardless of which side carried it.
	merged.weak = old.weak && next.weak

	// Alignment: either side may leave it unset; both sides setting
	// different explicit values is a conflict.
	switch {
	case old.hasAlign && next.hasAlign:
		if old.align != next.align {
			return Decl{}, IncompatibleDeclarationError{Name: name, Old: old, New: next}
		}
		merged.hasAlign, merged.align = true, old.align
	case old.hasAlign:
		merged.hasAlign, merged.align = true, old.align
	case next.hasAlign:
		merged.hasAlign, merged.align = true, next.align
	default:
		merged.hasAlign = false
	}

	// Writability only matters for Data-like kinds; differing explicit
	// writability is a conflict.
	if merged.kind.category() == categoryData && old.writable != next.writable {
		if old.kind.isImport() || next.kind.isImport() {
			merged.writable = old.writable || next.writable
		} else {
			return Decl{}, IncompatibleDeclarationError{Name: name, Old: old, New: next}
		}
	}

	if merged.kind == KindSection && old.sectionKind != next.sectionKind {
		return Decl{}, IncompatibleDeclarationError{Name: name, Old: old, New: next}
	}

	return merged, nil
}
