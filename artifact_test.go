package faerie

import "testing"

func newTestArtifact(t *testing.T) *Artifact {
	t.Helper()
	tgt, err := NewTarget(ArchX86_64, FormatELF)
	if err != nil {
		t.Fatal(err)
	}
	return New(tgt, "test.o")
}

func TestDeclareThenDefineThenWrite(t *testing.T) {
	a := newTestArtifact(t)
	if err := a.Declare("main", NewFunctionDecl().Global()); err != nil {
		t.Fatal(err)
	}
	if err := a.Define("main", []byte{0xc3}); err != nil {
		t.Fatal(err)
	}
	sink := NewBufferSink()
	if _, err := a.Write(sink); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sink.Bytes()[0] != 0x7f {
		t.Error("expected ELF magic byte at offset 0")
	}
}

func TestDefineUndeclaredNameFails(t *testing.T) {
	a := newTestArtifact(t)
	err := a.Define("missing", []byte{0x90})
	if _, ok := err.(UndeclaredSymbolError); !ok {
		t.Fatalf("expected UndeclaredSymbolError, got %v", err)
	}
}

func TestDefineImportFails(t *testing.T) {
	a := newTestArtifact(t)
	if err := a.Import("printf", KindFunctionImport); err != nil {
		t.Fatal(err)
	}
	if err := a.Define("printf", []byte{0x90}); err == nil {
		t.Fatal("expected an error defining an import")
	}
}

func TestRedefinitionFails(t *testing.T) {
	a := newTestArtifact(t)
	a.Declare("f", NewFunctionDecl())
	a.Define("f", []byte{0xc3})
	err := a.Define("f", []byte{0x90})
	if _, ok := err.(RedefinitionError); !ok {
		t.Fatalf("expected RedefinitionError, got %v", err)
	}
}

func TestDeclareRejectsInvalidAlignment(t *testing.T) {
	a := newTestArtifact(t)
	err := a.Declare("x", NewDataDecl().AlignTo(3))
	if _, ok := err.(InvalidAlignmentError); !ok {
		t.Fatalf("expected InvalidAlignmentError, got %v", err)
	}
	if _, ok := a.Decl("x"); ok {
		t.Error("a rejected declaration should not be recorded")
	}
}

func TestLinkRequiresBothEndsDeclared(t *testing.T) {
	a := newTestArtifact(t)
	a.Declare("main", NewFunctionDecl())
	err := a.Link(Link{From: "main", To: "nonexistent", At: 0})
	if _, ok := err.(UndeclaredSymbolError); !ok {
		t.Fatalf("expected UndeclaredSymbolError, got %v", err)
	}
}

func TestWriteFailsWithMissingDefinition(t *testing.T) {
	a := newTestArtifact(t)
	a.Declare("f", NewFunctionDecl())
	_, err := a.Write(NewBufferSink())
	if _, ok := err.(MissingDefinitionError); !ok {
		t.Fatalf("expected MissingDefinitionError, got %v", err)
	}
}

func TestWriteFailsWithRelocationOutOfRange(t *testing.T) {
	a := newTestArtifact(t)
	a.Declare("f", NewFunctionDecl())
	a.Define("f", []byte{0x90, 0x90})
	a.Declare("g", NewFunctionDecl())
	a.Define("g", []byte{0xc3})
	if err := a.Link(Link{From: "f", To: "g", At: 4}); err != nil {
		t.Fatal(err)
	}
	_, err := a.Write(NewBufferSink())
	if _, ok := err.(RelocationOutOfRangeError); !ok {
		t.Fatalf("expected RelocationOutOfRangeError, got %v", err)
	}
}

func TestWriteIsDeterministicAcrossSinks(t *testing.T) {
	a := newTestArtifact(t)
	a.Declare("main", NewFunctionDecl().Global())
	a.Define("main", []byte{0x90, 0x90, 0x90, 0x90, 0xc3})
	a.Import("puts", KindFunctionImport)
	a.Declare("greeting", NewCStringDecl())
	a.Define("greeting", []byte("hi\x00"))
	if err := a.Link(Link{From: "main", To: "puts", At: 0}); err != nil {
		t.Fatal(err)
	}

	sinkA := NewBufferSink()
	sinkB := NewBufferSink()
	if _, err := a.Write(sinkA); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Write(sinkB); err != nil {
		t.Fatal(err)
	}
	if len(sinkA.Bytes()) != len(sinkB.Bytes()) {
		t.Fatalf("two writes produced different lengths: %d vs %d", len(sinkA.Bytes()), len(sinkB.Bytes()))
	}
	for i := range sinkA.Bytes() {
		if sinkA.Bytes()[i] != sinkB.Bytes()[i] {
			t.Fatalf("two writes diverged at byte %d", i)
		}
	}
}

func TestDeclareAllStopsAtFirstError(t *testing.T) {
	a := newTestArtifact(t)
	err := a.DeclareAll([]NamedDecl{
		{Name: "f", Decl: NewFunctionDecl()},
		{Name: "f", Decl: NewDataDecl()},
		{Name: "g", Decl: NewFunctionDecl()},
	})
	if _, ok := err.(IncompatibleDeclarationError); !ok {
		t.Fatalf("expected IncompatibleDeclarationError, got %v", err)
	}
	if _, ok := a.Decl("f"); !ok {
		t.Error("expected the first successful entry to remain in effect")
	}
	if _, ok := a.Decl("g"); ok {
		t.Error("did not expect entries after the failure to be applied")
	}
}

func TestDeclOrderPreservesFirstInsertion(t *testing.T) {
	a := newTestArtifact(t)
	a.Declare("c", NewFunctionDecl())
	a.Declare("a", NewFunctionDecl())
	a.Declare("b", NewFunctionDecl())
	a.Declare("a", NewFunctionDecl().Global()) // redeclare, should not move

	order := a.DeclOrder()
	want := []string{"c", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("DeclOrder() = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("DeclOrder() = %v, want %v", order, want)
		}
	}
}

func TestImportUpgradeRemovesFromImportsButKeepsDeclOrder(t *testing.T) {
	a := newTestArtifact(t)
	a.Import("helper", KindFunctionImport)
	a.Declare("main", NewFunctionDecl().Global())
	if err := a.Declare("helper", NewFunctionDecl()); err != nil {
		t.Fatal(err)
	}
	if len(a.imports) != 0 {
		t.Errorf("imports = %v, want helper removed after upgrade", a.imports)
	}
	if order := a.DeclOrder(); len(order) != 2 || order[0] != "helper" || order[1] != "main" {
		t.Errorf("DeclOrder() = %v, want [helper main]", order)
	}
	if err := a.Define("helper", []byte{0xc3}); err != nil {
		t.Fatalf("expected helper to be locally definable after upgrade: %v", err)
	}
	d, _ := a.Decl("helper")
	if d.IsImport() {
		t.Error("helper should no longer be an import after upgrade")
	}
}
