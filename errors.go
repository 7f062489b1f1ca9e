package faerie

import "fmt"

// IncompatibleDeclarationError reports a redeclaration that is neither
// identical to nor a valid upgrade of the existing declaration (§4.2).
type IncompatibleDeclarationError struct {
	Name     string
	Old, New Decl
}

func (e IncompatibleDeclarationError) Error() string {
	return fmt.Sprintf("faerie: incompatible redeclaration of %q: %s -> %s", e.Name, e.Old.Kind(), e.New.Kind())
}

// InvalidAlignmentError reports an explicit AlignTo value that is not a
// positive power of two (§3).
type InvalidAlignmentError struct {
	Name  string
	Align uint32
}

func (e InvalidAlignmentError) Error() string {
	return fmt.Sprintf("faerie: %q: alignment %d is not a positive power of two", e.Name, e.Align)
}

// UndeclaredSymbolError reports a link or define referencing an unknown
// name.
type UndeclaredSymbolError struct {
	Name string
}

func (e UndeclaredSymbolError) Error() string {
	return fmt.Sprintf("faerie: undeclared symbol %q", e.Name)
}

// RedefinitionError reports a second Define call for the same name.
type RedefinitionError struct {
	Name string
}

func (e RedefinitionError) Error() string {
	return fmt.Sprintf("faerie: %q already defined", e.Name)
}

// MissingDefinitionError reports a locally-declared, non-import symbol
// that has no definition at Write time.
type MissingDefinitionError struct {
	Name string
}

func (e MissingDefinitionError) Error() string {
	return fmt.Sprintf("faerie: %q is declared but never defined", e.Name)
}

// RelocationOutOfRangeError reports a link whose offset plus relocation
// width exceeds the length of its from-symbol's bytes.
type RelocationOutOfRangeError struct {
	From  string
	At    uint64
	Width int
	Len   int
}

func (e RelocationOutOfRangeError) Error() string {
	return fmt.Sprintf("faerie: relocation in %q at offset %d (width %d) exceeds definition length %d",
		e.From, e.At, e.Width, e.Len)
}

// UnsupportedRelocationError reports a (from-kind, to-kind, flavor,
// target) combination no back-end knows how to encode.
type UnsupportedRelocationError struct {
	FromKind, ToKind Kind
	Flavor           RelocFlavor
	Target           Target
}

func (e UnsupportedRelocationError) Error() string {
	return fmt.Sprintf("faerie: cannot encode relocation %s -> %s (flavor %s) for target %s",
		e.FromKind, e.ToKind, e.Flavor, e.Target)
}

// UnsupportedTargetError reports a back-end that does not support the
// requested architecture/format pair.
type UnsupportedTargetError struct {
	Target Target
}

func (e UnsupportedTargetError) Error() string {
	return fmt.Sprintf("faerie: unsupported target %s", e.Target)
}

// IoError wraps a failure returned by the caller-supplied Sink.
type IoError struct {
	Cause error
}

func (e IoError) Error() string { return fmt.Sprintf("faerie: sink write failed: %v", e.Cause) }
func (e IoError) Unwrap() error { return e.Cause }
