package faerie

import "testing"

func TestDefaultFlavorTable(t *testing.T) {
	x64, _ := NewTarget(ArchX86_64, FormatELF)

	cases := []struct {
		name   string
		from   Decl
		to     Decl
		flavor RelocFlavor
	}{
		{"function to function", NewFunctionDecl(), NewFunctionDecl(), FlavorPCRelBranch},
		{"function to import", NewFunctionDecl(), NewFunctionImportDecl(), FlavorPLTCall},
		{"function to data", NewFunctionDecl(), NewDataDecl(), FlavorPCRelData},
		{"function to cstring", NewFunctionDecl(), NewCStringDecl(), FlavorPCRelData},
		{"function to data import", NewFunctionDecl(), NewDataImportDecl(), FlavorGOTLoad},
		{"data to data", NewDataDecl(), NewDataDecl(), FlavorAbsolute},
	}
	for _, c := range cases {
		got := defaultFlavor(c.from, c.to)
		if got != c.flavor {
			t.Errorf("%s: defaultFlavor() = %s, want %s", c.name, got, c.flavor)
		}
	}
	_ = x64
}

func TestRelocWidthAbsoluteMatchesPointerWidth(t *testing.T) {
	x64, _ := NewTarget(ArchX86_64, FormatELF)
	if w := relocWidth(FlavorAbsolute, x64); w != 8 {
		t.Errorf("relocWidth(Absolute, x86_64) = %d, want 8", w)
	}
	arm32, _ := NewTarget(ArchARM, FormatELF)
	if w := relocWidth(FlavorAbsolute, arm32); w != 4 {
		t.Errorf("relocWidth(Absolute, arm) = %d, want 4", w)
	}
}

func TestRelocWidthNonAbsoluteIsFourBytes(t *testing.T) {
	x64, _ := NewTarget(ArchX86_64, FormatELF)
	for _, f := range []RelocFlavor{FlavorPCRelBranch, FlavorPLTCall, FlavorPCRelData, FlavorGOTLoad} {
		if w := relocWidth(f, x64); w != 4 {
			t.Errorf("relocWidth(%s) = %d, want 4", f, w)
		}
	}
}
