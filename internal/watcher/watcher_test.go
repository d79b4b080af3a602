package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/arbor/internal/storage"
)

var quietLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) has(kind Kind, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Path == path {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// forestEnv creates a forest root with forest.toml and a trees directory.
func forestEnv(t *testing.T) (root string, w *Watcher) {
	t.Helper()
	root = t.TempDir()
	cfg := filepath.Join(root, "forest.toml")
	if err := os.WriteFile(cfg, []byte("[forest]\ntrees = [\"trees\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "trees"), 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, New(root, cfg, store, WithLogger(quietLogger), WithReconcileDelay(50*time.Millisecond))
}

func start(t *testing.T, w *Watcher) *recorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx, rec.record); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return rec
}

func TestWatcher_NewTreeFile(t *testing.T) {
	root, w := forestEnv(t)
	rec := start(t, w)

	_ = os.WriteFile(filepath.Join(root, "trees", "jms-0001.tree"), []byte(`\title{New}`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindCreated, filepath.Join("trees", "jms-0001.tree"))
	}, "expected created event for new tree")
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root, w := forestEnv(t)
	rec := start(t, w)

	_ = os.WriteFile(filepath.Join(root, "trees", "notes.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "stray.tree"), []byte("x"), 0o644)
	time.Sleep(300 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("events = %d, want 0 for files outside tree dirs or without .tree", n)
	}
}

func TestWatcher_WriteAndDelete(t *testing.T) {
	root, w := forestEnv(t)
	path := filepath.Join(root, "trees", "a.tree")
	_ = os.WriteFile(path, []byte("v1"), 0o644)
	rec := start(t, w)
	rel := filepath.Join("trees", "a.tree")

	_ = os.WriteFile(path, []byte("v2"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindUpdated, rel)
	}, "expected updated event")

	_ = os.Remove(path)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindDeleted, rel)
	}, "expected deleted event")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root, w := forestEnv(t)
	rec := start(t, w)

	sub := filepath.Join(root, "trees", "sub")
	_ = os.MkdirAll(sub, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "deep.tree"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindCreated, filepath.Join("trees", "sub", "deep.tree"))
	}, "file in new subdir not reported")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	root, w := forestEnv(t)
	_ = os.WriteFile(filepath.Join(root, "trees", "old.tree"), []byte("x"), 0o644)
	rec := start(t, w)

	_ = os.Rename(filepath.Join(root, "trees", "old.tree"), filepath.Join(root, "trees", "renamed.tree"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindDeleted, filepath.Join("trees", "old.tree")) &&
			rec.has(KindCreated, filepath.Join("trees", "renamed.tree"))
	}, "rename should report the old path deleted and the new path created")
}

func TestWatcher_ConfigChange(t *testing.T) {
	root, w := forestEnv(t)
	rec := start(t, w)

	_ = os.MkdirAll(filepath.Join(root, "more"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "forest.toml"), []byte("[forest]\ntrees = [\"trees\", \"more\"]\n"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindConfig, "forest.toml")
	}, "expected config event")

	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(root, "more", "b.tree"), []byte("x"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindCreated, filepath.Join("more", "b.tree"))
	}, "tree dir added in forest.toml should be watched")
}

func TestWatcher_TreeDirsDefault(t *testing.T) {
	root := t.TempDir()
	w := New(root, filepath.Join(root, "forest.toml"), nil, WithLogger(quietLogger))
	dirs := w.TreeDirs()
	if len(dirs) != 1 || dirs[0] != filepath.Join(w.root, "trees") {
		t.Errorf("TreeDirs = %v, want [<root>/trees]", dirs)
	}
}
