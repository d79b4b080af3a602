// Package testutil provides shared test helpers for setting up forests,
// adapters and databases.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/arbor/internal/index"
	"github.com/starford/arbor/internal/models"
	"github.com/starford/arbor/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "arbor-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestForest creates a temporary forest root holding files (paths relative
// to the root) and returns it with a storage provider over it.
func TestForest(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return store.Root(), store
}

// DiskAdapter is a forest adapter that builds the forest from the .tree
// files on disk. The file name is the URI and a \title{...} line sets the
// title; transclusions are left to the graph reading the sources.
type DiskAdapter struct {
	root  string
	store storage.Provider

	mu    sync.Mutex
	calls int
}

// NewDiskAdapter creates an adapter over the forest at root.
func NewDiskAdapter(root string, store storage.Provider) *DiskAdapter {
	return &DiskAdapter{root: root, store: store}
}

// FetchForest lists and reads every tree file.
func (a *DiskAdapter) FetchForest(context.Context) (models.Forest, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	files, err := a.store.List("")
	if err != nil {
		return nil, err
	}
	forest := models.Forest{}
	for _, f := range files {
		data, err := a.store.Read(f.Path)
		if err != nil {
			return nil, err
		}
		t := models.Tree{
			URI:        strings.TrimSuffix(filepath.Base(f.Path), storage.TreeExt),
			SourcePath: filepath.Join(a.root, f.Path),
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, `\title{`) {
				t.Title = models.StringPtr(strings.TrimSuffix(strings.TrimPrefix(line, `\title{`), "}"))
			}
		}
		forest = append(forest, t)
	}
	return forest, nil
}

// ReadBuildArtifact reports no artifact.
func (a *DiskAdapter) ReadBuildArtifact(context.Context) (models.Forest, bool) { return nil, false }

// Calls returns how many fetches ran.
func (a *DiskAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
