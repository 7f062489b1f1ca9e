package faerie

import (
	"fmt"
	"os"
)

// Verbose gates the package's diagnostic trace output. Mirrors the
// teacher's VerboseMode convention (elf_complete.go, elf_sections.go): off
// by default, writes to stderr, never to a file or network socket.
var Verbose bool

func debugf(format string, args ...any) {
	if Verbose {
		fmt.Fprintf(os.Stderr, "faerie: "+format+"\n", args...)
	}
}

type definition struct {
	bytes []byte
}

// Artifact is the format-neutral in-memory aggregate a caller builds via
// Declare/Define/Link/Import before handing it to Write. It grows
// monotonically and is never mutated by Write (spec.md §3 Lifecycle).
type Artifact struct {
	target Target
	name   string

	declOrder []string
	decls     map[string]Decl
	defs      map[string]definition

	// imports preserves the order imports were first declared in,
	// independent of declOrder (which is shared with local decls).
	imports []string

	links []Link
}

// New creates an empty Artifact bound to target. name is used as the FILE
// symbol in ELF output; it may be empty.
func New(target Target, name string) *Artifact {
	return &Artifact{
		target: target,
		name:   name,
		decls:  make(map[string]Decl),
		defs:   make(map[string]definition),
	}
}

// Target returns the Artifact's bound Target.
func (a *Artifact) Target() Target { return a.target }

// Name returns the Artifact's name.
func (a *Artifact) Name() string { return a.name }

// Declare inserts or merges a declaration for name. The first declaration
// of a name establishes its position in declaration order; a compatible
// redeclaration (identical, or a valid upgrade per §4.2) merges in place
// without moving it. An incompatible redeclaration leaves the Artifact
// unchanged and returns IncompatibleDeclarationError.
func (a *Artifact) Declare(name string, d Decl) error {
	if d.HasExplicitAlign() && (d.ExplicitAlign() == 0 || !isValidAlign(d.ExplicitAlign())) {
		return InvalidAlignmentError{Name: name, Align: d.ExplicitAlign()}
	}

	existing, ok := a.decls[name]
	if !ok {
		a.decls[name] = d
		a.declOrder = append(a.declOrder, name)
		if d.IsImport() {
			a.imports = append(a.imports, name)
		}
		debugf("declare %q as %s", name, d.Kind())
		return nil
	}

	merged, err := mergeDecl(name, existing, d)
	if err != nil {
		return err
	}
	wasImport := existing.IsImport()
	a.decls[name] = merged
	if wasImport && !merged.IsImport() {
		a.imports = removeString(a.imports, name)
	}
	debugf("merge %q: %s + %s -> %s", name, existing.Kind(), d.Kind(), merged.Kind())
	return nil
}

func removeString(xs []string, target string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != target {
			out = append(out, x)
		}
	}
	return out
}

// NamedDecl pairs a name with a Decl, for the bulk form of Declare.
type NamedDecl struct {
	Name string
	Decl Decl
}

// DeclareAll is the bulk form of Declare: it applies each entry in order
// and stops at the first incompatible one, returning its error. Entries
// already applied before the failure remain in effect — callers should
// treat each entry as committing individually, per spec.md §4.3.
func (a *Artifact) DeclareAll(entries []NamedDecl) error {
	for _, e := range entries {
		if err := a.Declare(e.Name, e.Decl); err != nil {
			return err
		}
	}
	return nil
}

// Import is shorthand for Declare with a FunctionImport or DataImport
// kind. kind must be KindFunctionImport or KindDataImport. Idempotent.
func (a *Artifact) Import(name string, kind Kind) error {
	switch kind {
	case KindFunctionImport:
		return a.Declare(name, NewFunctionImportDecl())
	case KindDataImport:
		return a.Declare(name, NewDataImportDecl())
	default:
		return fmt.Errorf("faerie: Import requires KindFunctionImport or KindDataImport, got %s", kind)
	}
}

// Define associates bytes with an already-declared, locally-definable
// name. Fails if name is undeclared (UndeclaredSymbolError), if its
// declaration is an import kind, or if it is already defined
// (RedefinitionError).
func (a *Artifact) Define(name string, data []byte) error {
	d, ok := a.decls[name]
	if !ok {
		return UndeclaredSymbolError{Name: name}
	}
	if d.IsImport() {
		return fmt.Errorf("faerie: cannot define %q: declared as %s", name, d.Kind())
	}
	if _, defined := a.defs[name]; defined {
		return RedefinitionError{Name: name}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	a.defs[name] = definition{bytes: buf}
	debugf("define %q (%d bytes)", name, len(buf))
	return nil
}

// Link appends a link record. Both From and To must already be declared;
// range checking of At against From's definition length happens at Write
// time.
func (a *Artifact) Link(l Link) error {
	if _, ok := a.decls[l.From]; !ok {
		return UndeclaredSymbolError{Name: l.From}
	}
	if _, ok := a.decls[l.To]; !ok {
		return UndeclaredSymbolError{Name: l.To}
	}
	a.links = append(a.links, l)
	debugf("link %q -> %q @ %d (%s)", l.From, l.To, l.At, l.Flavor)
	return nil
}

// LinkWith appends a link record with an explicit relocation flavor,
// overriding whatever the back-end would otherwise default to for the
// (From, To) kind pair.
func (a *Artifact) LinkWith(l Link, flavor RelocFlavor) error {
	l.Flavor = flavor
	return a.Link(l)
}

// DeclOrder returns the declared names in first-insertion order.
func (a *Artifact) DeclOrder() []string {
	out := make([]string, len(a.declOrder))
	copy(out, a.declOrder)
	return out
}

// Decl returns the current declaration for name, if any.
func (a *Artifact) Decl(name string) (Decl, bool) {
	d, ok := a.decls[name]
	return d, ok
}

// DefinitionBytes returns the bytes defined for name, if any.
func (a *Artifact) DefinitionBytes(name string) ([]byte, bool) {
	d, ok := a.defs[name]
	return d.bytes, ok
}

// Links returns the Artifact's link records, in append order.
func (a *Artifact) Links() []Link {
	out := make([]Link, len(a.links))
	copy(out, a.links)
	return out
}

// resolvedFlavor returns the concrete flavor a link should be encoded
// with: the caller's explicit choice, or the default for its (From, To)
// kind pair.
func (a *Artifact) resolvedFlavor(l Link) RelocFlavor {
	if l.Flavor != FlavorDefault {
		return l.Flavor
	}
	from := a.decls[l.From]
	to := a.decls[l.To]
	return defaultFlavor(from, to)
}

// Write serializes the Artifact to sink using the back-end selected by
// its Target's Format. It does not mutate the Artifact; two Writes of the
// same Artifact to two different sinks produce byte-identical output
// (testable property 3).
func (a *Artifact) Write(sink Sink) (int64, error) {
	switch a.target.Format() {
	case FormatELF:
		return writeELF(a, sink)
	case FormatMachO:
		return writeMachO(a, sink)
	case FormatPE:
		return writePE(a, sink)
	default:
		return 0, UnsupportedTargetError{Target: a.target}
	}
}

// checkComplete validates the MissingDefinition invariant (§3: "non-import
// kinds SHOULD be defined before emit, and the library treats undefined
// local symbols as a caller error at emit time") for every declared name
// that is actually referenced as a link target, plus every locally
// definable, non-import declaration. A declared-but-unreferenced,
// undefined local symbol that no link ever points at is still an error:
// the spec treats "declared non-import, not defined" as an error
// unconditionally at write time.
func (a *Artifact) checkComplete() error {
	for _, name := range a.declOrder {
		d := a.decls[name]
		if d.IsImport() {
			continue
		}
		if _, ok := a.defs[name]; !ok {
			return MissingDefinitionError{Name: name}
		}
	}
	return nil
}
