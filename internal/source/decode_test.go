package source

import (
	"errors"
	"testing"
)

func TestDecodeForest_List(t *testing.T) {
	data := []byte(`[
		{"uri":"a","title":"Intro","taxon":"theorem","tags":["x"],"route":"a.xml","metas":{"k":"v"},"sourcePath":"/f/trees/a.tree"},
		{"uri":"b","title":null,"taxon":null,"tags":[],"route":"b.xml","metas":{},"sourcePath":"/f/trees/b.tree"}
	]`)
	forest, err := DecodeForest(data)
	if err != nil {
		t.Fatalf("DecodeForest: %v", err)
	}
	if forest.Len() != 2 {
		t.Fatalf("len = %d, want 2", forest.Len())
	}
	if forest[0].URI != "a" || forest[0].TitleText() != "Intro" || forest[0].TaxonText() != "theorem" {
		t.Errorf("tree a = %+v", forest[0])
	}
	if forest[0].Metas["k"] != "v" {
		t.Errorf("metas = %v", forest[0].Metas)
	}
	if forest[1].Title != nil || forest[1].Taxon != nil {
		t.Errorf("tree b should have nil title and taxon: %+v", forest[1])
	}
}

func TestDecodeForest_KeyedLegacyLayout(t *testing.T) {
	data := []byte(`{
		"zeta": {"title":"Z"},
		"alpha": {"uri":"alpha","title":"A"}
	}`)
	forest, err := DecodeForest(data)
	if err != nil {
		t.Fatalf("DecodeForest: %v", err)
	}
	if forest.Len() != 2 {
		t.Fatalf("len = %d, want 2", forest.Len())
	}
	if forest[0].URI != "alpha" || forest[1].URI != "zeta" {
		t.Errorf("order = %v, want [alpha zeta]", forest.URIs())
	}
}

func TestDecodeForest_RejectsMissingURI(t *testing.T) {
	_, err := DecodeForest([]byte(`[{"uri":"a"},{"title":"no id"}]`))
	if err == nil {
		t.Fatal("expected error for record without uri")
	}
}

func TestDecodeForest_Garbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not json", `"string"`, `[1,2`} {
		if _, err := DecodeForest([]byte(in)); err == nil {
			t.Errorf("DecodeForest(%q) should fail", in)
		}
	}
}

func TestDecodeArtifact_RequiresSequence(t *testing.T) {
	if _, err := DecodeArtifact([]byte(`{"a":{"title":"A"}}`)); !errors.Is(err, errNotSequence) {
		t.Errorf("err = %v, want errNotSequence", err)
	}
	forest, err := DecodeArtifact([]byte(`[]`))
	if err != nil {
		t.Fatalf("empty sequence should be valid: %v", err)
	}
	if forest.Len() != 0 {
		t.Errorf("len = %d, want 0", forest.Len())
	}
}

func TestSourceError_IsKind(t *testing.T) {
	err := error(&SourceError{Kind: KindTimeout, Msg: "forester query timed out after 30s"})
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout)")
	}
	if errors.Is(err, ErrNonZeroExit) {
		t.Error("timeout should not match ErrNonZeroExit")
	}
}

func TestSourceError_MessageIncludesStderr(t *testing.T) {
	err := &SourceError{Kind: KindNonZeroExit, Msg: "forester query exited with code 1", Stderr: "\n  parse error in trees/a.tree\n"}
	want := "forester query exited with code 1 (stderr: parse error in trees/a.tree)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
