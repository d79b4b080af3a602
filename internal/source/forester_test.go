package source

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var quietLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// fakeForester writes an executable shell script standing in for forester.
func fakeForester(t *testing.T, script string) (root, bin string) {
	t.Helper()
	root = t.TempDir()
	bin = filepath.Join(t.TempDir(), "forester")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root, bin
}

func TestForester_FetchSuccess(t *testing.T) {
	root, bin := fakeForester(t, `echo '[{"uri":"a","title":"A"},{"uri":"b"}]'`)
	f, err := NewForester(root, "forest.toml", WithBinary(bin), WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("NewForester: %v", err)
	}
	forest, err := f.FetchForest(context.Background())
	if err != nil {
		t.Fatalf("FetchForest: %v", err)
	}
	if forest.Len() != 2 {
		t.Errorf("len = %d, want 2", forest.Len())
	}
}

func TestForester_NonZeroExit(t *testing.T) {
	root, bin := fakeForester(t, `echo "boom" >&2; exit 3`)
	f, _ := NewForester(root, "forest.toml", WithBinary(bin), WithLogger(quietLogger))
	_, err := f.FetchForest(context.Background())
	if !errors.Is(err, ErrNonZeroExit) {
		t.Fatalf("err = %v, want ErrNonZeroExit", err)
	}
	var serr *SourceError
	if !errors.As(err, &serr) || serr.Stderr != "boom\n" {
		t.Errorf("stderr not captured: %+v", serr)
	}
}

func TestForester_MalformedOutput(t *testing.T) {
	root, bin := fakeForester(t, `echo 'this is not json'`)
	f, _ := NewForester(root, "forest.toml", WithBinary(bin), WithLogger(quietLogger))
	_, err := f.FetchForest(context.Background())
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("err = %v, want ErrMalformedOutput", err)
	}
}

func TestForester_ProcessError(t *testing.T) {
	root := t.TempDir()
	f, _ := NewForester(root, "forest.toml", WithBinary(filepath.Join(root, "does-not-exist")), WithLogger(quietLogger))
	_, err := f.FetchForest(context.Background())
	if !errors.Is(err, ErrProcess) {
		t.Fatalf("err = %v, want ErrProcess", err)
	}
}

func TestForester_Timeout(t *testing.T) {
	root, bin := fakeForester(t, `exec sleep 5`)
	f, _ := NewForester(root, "forest.toml", WithBinary(bin), WithLogger(quietLogger))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.FetchForest(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Errorf("timeout did not kill the process promptly")
	}
}

func TestForester_ArtifactLocationFromConfig(t *testing.T) {
	root := t.TempDir()
	toml := "[forest]\ntrees = [\"notes\"]\noutput_dir = \"build\"\n"
	if err := os.WriteFile(filepath.Join(root, "forest.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := NewForester(root, "forest.toml", WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("NewForester: %v", err)
	}
	want := filepath.Join(root, "build", ArtifactName)
	if f.ArtifactPath() != want {
		t.Errorf("artifact path = %q, want %q", f.ArtifactPath(), want)
	}
}

func TestForester_ReadBuildArtifact(t *testing.T) {
	root := t.TempDir()
	f, _ := NewForester(root, "forest.toml", WithLogger(quietLogger))

	if _, ok := f.ReadBuildArtifact(context.Background()); ok {
		t.Fatal("absent artifact should not be ok")
	}

	_ = os.MkdirAll(filepath.Dir(f.ArtifactPath()), 0o755)

	_ = os.WriteFile(f.ArtifactPath(), []byte(`[{"uri":"a"},{"uri":""}]`), 0o644)
	if _, ok := f.ReadBuildArtifact(context.Background()); ok {
		t.Error("artifact with empty uri should be rejected")
	}

	_ = os.WriteFile(f.ArtifactPath(), []byte(`{"a":{"uri":"a"}}`), 0o644)
	if _, ok := f.ReadBuildArtifact(context.Background()); ok {
		t.Error("keyed artifact should be rejected")
	}

	_ = os.WriteFile(f.ArtifactPath(), []byte(`[{"uri":"a"},{"uri":"b"}]`), 0o644)
	forest, ok := f.ReadBuildArtifact(context.Background())
	if !ok || forest.Len() != 2 {
		t.Errorf("valid artifact: ok=%v len=%d", ok, forest.Len())
	}
}
