// Package watcher turns file system changes under a forest into events.
// Every create, write, remove or rename of a tree source or of forest.toml
// produces one Event; consumers invalidate the forest cache in response.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/arbor/internal/source"
	"github.com/starford/arbor/internal/storage"
)

// Kind classifies an Event.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	KindConfig  Kind = "config"
)

// Event is one relevant change. Path is relative to the forest root.
type Event struct {
	Kind Kind
	Path string
}

// Callback receives events. It runs on the watcher goroutine and must not
// block for long.
type Callback func(Event)

// DefaultReconcileDelay debounces the pass that runs after renames.
const DefaultReconcileDelay = 200 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithReconcileDelay sets the rename reconciliation debounce.
func WithReconcileDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.reconcileDelay = d
		}
	}
}

// Watcher watches the tree directories listed in forest.toml and the
// directory holding forest.toml itself.
type Watcher struct {
	root           string
	configPath     string
	store          storage.Provider
	logger         *slog.Logger
	reconcileDelay time.Duration

	// Owned by Run. known maps tree paths seen on disk to their checksums.
	dirs  []string
	known map[string]string
}

// New creates a watcher for the forest at root. configPath is forest.toml;
// store lists tree files for rename reconciliation.
func New(root, configPath string, store storage.Provider, opts ...Option) *Watcher {
	w := &Watcher{
		root:           absPath(root),
		configPath:     absPath(configPath),
		store:          store,
		logger:         slog.Default(),
		reconcileDelay: DefaultReconcileDelay,
		known:          make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes file system events until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. A rename
// reports the old path as deleted and schedules a reconciliation pass that
// reports tree files which appeared without their own create event.
func (w *Watcher) Run(ctx context.Context, cb Callback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	w.watchTreeDirs(fw)
	w.snapshot()

	w.logger.Info("watcher: started",
		slog.String("root", w.root),
		slog.String("config", w.configPath))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(w.reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(w.reconcileDelay)
		}
	}

	emit := func(ev Event) {
		w.logger.Debug("watcher: event", slog.String("kind", string(ev.Kind)), slog.String("path", ev.Path))
		if cb != nil {
			cb(ev)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			w.reconcile(emit)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name := ev.Name

			if w.isConfig(name) {
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				// Tree directories may have changed.
				w.watchTreeDirs(fw)
				emit(Event{Kind: KindConfig, Path: w.rel(name)})
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(name); statErr == nil && info.IsDir() {
					if !w.inTreeDir(name) {
						continue
					}
					if addErr := addDirsRecursive(fw, name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", name),
							slog.String("error", addErr.Error()))
					} else {
						w.logger.Debug("watcher: watching new dir", slog.String("path", name))
					}
					// Tree files already in the new directory.
					w.scanNewDir(name, emit)
					continue
				}
			}

			if !strings.HasSuffix(name, storage.TreeExt) || !w.inTreeDir(name) {
				continue
			}
			rel := w.rel(name)

			switch {
			case ev.Op&fsnotify.Create != 0:
				w.known[rel] = ""
				emit(Event{Kind: KindCreated, Path: rel})
			case ev.Op&fsnotify.Write != 0:
				w.known[rel] = ""
				emit(Event{Kind: KindUpdated, Path: rel})
			case ev.Op&fsnotify.Remove != 0:
				delete(w.known, rel)
				emit(Event{Kind: KindDeleted, Path: rel})
			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old path only; the new one arrives
				// as a Create when it stays in a watched dir.
				delete(w.known, rel)
				emit(Event{Kind: KindDeleted, Path: rel})
				scheduleReconcile()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// TreeDirs returns the absolute tree directories from forest.toml.
func (w *Watcher) TreeDirs() []string {
	cfg, err := source.LoadForestConfig(w.configPath)
	if err != nil {
		w.logger.Warn("watcher: forest config unreadable, using defaults",
			slog.String("path", w.configPath),
			slog.String("error", err.Error()))
		cfg = &source.ForestConfig{}
	}
	dirs := make([]string, 0, len(cfg.TreeDirs()))
	for _, d := range cfg.TreeDirs() {
		if !filepath.IsAbs(d) {
			d = filepath.Join(w.root, d)
		}
		dirs = append(dirs, filepath.Clean(d))
	}
	return dirs
}

func (w *Watcher) watchTreeDirs(fw *fsnotify.Watcher) {
	w.dirs = w.TreeDirs()
	for _, dir := range w.dirs {
		if err := addDirsRecursive(fw, dir); err != nil {
			w.logger.Warn("watcher: cannot watch tree dir",
				slog.String("path", dir),
				slog.String("error", err.Error()))
		}
	}
}

// snapshot records the tree files currently on disk.
func (w *Watcher) snapshot() {
	if w.store == nil {
		return
	}
	files, err := w.store.List("")
	if err != nil {
		w.logger.Warn("watcher: list failed", slog.String("error", err.Error()))
		return
	}
	for _, f := range files {
		if w.inTreeDir(filepath.Join(w.root, f.Path)) {
			w.known[f.Path] = f.Checksum
		}
	}
}

// reconcile compares the known set with the disk and reports differences
// that no individual event covered.
func (w *Watcher) reconcile(emit func(Event)) {
	if w.store == nil {
		return
	}
	files, err := w.store.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(files))
	for _, f := range files {
		if w.inTreeDir(filepath.Join(w.root, f.Path)) {
			disk[f.Path] = f.Checksum
		}
	}
	for p := range w.known {
		if _, ok := disk[p]; !ok {
			delete(w.known, p)
			emit(Event{Kind: KindDeleted, Path: p})
		}
	}
	for p, cs := range disk {
		if _, ok := w.known[p]; !ok {
			emit(Event{Kind: KindCreated, Path: p})
		}
		w.known[p] = cs
	}
}

// scanNewDir reports tree files found in a newly created directory.
func (w *Watcher) scanNewDir(dir string, emit func(Event)) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, storage.TreeExt) {
			return nil
		}
		rel := w.rel(path)
		if _, seen := w.known[rel]; seen {
			return nil
		}
		w.known[rel] = ""
		emit(Event{Kind: KindCreated, Path: rel})
		return nil
	})
}

func (w *Watcher) isConfig(path string) bool {
	return filepath.Clean(path) == filepath.Clean(w.configPath)
}

func (w *Watcher) inTreeDir(path string) bool {
	for _, dir := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
