package forestservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/arbor/internal/apperr"
	"github.com/starford/arbor/internal/forestcache"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/sse"
	"github.com/starford/arbor/internal/testutil"
	"github.com/starford/arbor/internal/watcher"
)

var quietLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// pubRecorder records publisher calls.
type pubRecorder struct {
	mu     sync.Mutex
	events []string
}

func (p *pubRecorder) add(s string) {
	p.mu.Lock()
	p.events = append(p.events, s)
	p.mu.Unlock()
}

func (p *pubRecorder) PublishForestUpdated(trees int, _ string) { p.add("forest") }
func (p *pubRecorder) PublishTreeChanged(kind, path string)    { p.add("tree:" + kind + ":" + path) }
func (p *pubRecorder) PublishGraphUpdated(sse.GraphInfo)       { p.add("graph") }
func (p *pubRecorder) PublishViewUpdated(gesture, id string)   { p.add("view:" + gesture + ":" + id) }

func (p *pubRecorder) has(s string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == s {
			return true
		}
	}
	return false
}

type env struct {
	root    string
	adapter *testutil.DiskAdapter
	cache   *forestcache.Cache
	svc     *Service
	pub     *pubRecorder
}

func newEnv(t *testing.T, files map[string]string) *env {
	t.Helper()
	root, store := testutil.TestForest(t, files)
	adapter := testutil.NewDiskAdapter(root, store)
	cache := forestcache.New(adapter, forestcache.WithLogger(quietLogger))
	t.Cleanup(cache.Close)

	db := testutil.TestDB(t)
	engine, err := graph.NewEngine(db, graph.WithLogger(quietLogger))
	if err != nil {
		t.Fatal(err)
	}
	pub := &pubRecorder{}
	svc := New(cache, engine, store, WithIndex(db), WithPublisher(pub), WithLogger(quietLogger))
	svc.Start()
	t.Cleanup(svc.Close)
	return &env{root: root, adapter: adapter, cache: cache, svc: svc, pub: pub}
}

var sampleForest = map[string]string{
	"trees/a.tree": "\\title{Intro}\n\\transclude{b}\n",
	"trees/b.tree": "\\title{Lemma 1}\n",
}

func TestService_ForestRebuildsGraphAndIndex(t *testing.T) {
	e := newEnv(t, sampleForest)
	ctx := context.Background()

	forest := e.svc.Forest(ctx, false)
	if forest.Len() != 2 {
		t.Fatalf("forest = %v", forest.URIs())
	}
	if !e.pub.has("forest") || !e.pub.has("graph") {
		t.Errorf("publisher events = %v", e.pub.events)
	}

	d, err := e.svc.Tree(ctx, "b")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if d.Root != "a" || len(d.TranscludedBy) != 1 || d.TranscludedBy[0] != "a" {
		t.Errorf("detail = %+v", d)
	}
	if !strings.Contains(d.Source, "Lemma 1") {
		t.Errorf("source = %q", d.Source)
	}

	hits, err := e.svc.Search(ctx, "Lemma", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].URI != "b" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestService_TreeNotFound(t *testing.T) {
	e := newEnv(t, sampleForest)
	_, err := e.svc.Tree(context.Background(), "nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := e.svc.FindRoot("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("FindRoot err = %v, want ErrNotFound", err)
	}
}

func TestService_GesturesPublishViewUpdates(t *testing.T) {
	e := newEnv(t, sampleForest)
	_ = e.svc.Forest(context.Background(), false)

	if err := e.svc.Select("a"); err != nil {
		t.Fatal(err)
	}
	if !e.pub.has("view:select:a") {
		t.Errorf("events = %v", e.pub.events)
	}

	v := e.svc.Render("b")
	if len(v.Roots) != 1 || v.Roots[0].ID != "a" || len(v.Roots[0].Children) != 1 {
		t.Errorf("view = %+v", v)
	}

	if err := e.svc.ToggleExpand("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	if e.pub.has("view:expand:missing") {
		t.Error("failed gesture should not publish")
	}
}

func TestService_RequestRename(t *testing.T) {
	e := newEnv(t, sampleForest)
	ctx := context.Background()
	_ = e.svc.Forest(ctx, false)

	d, err := e.svc.RequestRename(ctx, "b", "Key Lemma")
	if err != nil {
		t.Fatalf("RequestRename: %v", err)
	}
	if d.Title != "Key Lemma" {
		t.Errorf("title after rename = %q", d.Title)
	}
	data, _ := os.ReadFile(filepath.Join(e.root, "trees", "b.tree"))
	if string(data) != "\\title{Key Lemma}\n" {
		t.Errorf("file = %q", data)
	}
	if e.adapter.Calls() != 2 {
		t.Errorf("adapter calls = %d, want 2", e.adapter.Calls())
	}

	if _, err := e.svc.RequestRename(ctx, "nope", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("rename unknown err = %v", err)
	}
	if _, err := e.svc.RequestRename(ctx, "b", "  "); err == nil {
		t.Error("empty title should fail")
	}
}

func TestService_FileEventInvalidates(t *testing.T) {
	e := newEnv(t, sampleForest)
	_ = e.svc.Forest(context.Background(), false)

	_ = os.WriteFile(filepath.Join(e.root, "trees", "c.tree"), []byte("\\title{New}\n"), 0o644)
	e.svc.HandleFileEvent(watcher.Event{Kind: watcher.KindCreated, Path: "trees/c.tree"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.svc.Forest(context.Background(), true).Len() == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := e.svc.Forest(context.Background(), true).Len(); n != 3 {
		t.Fatalf("forest size = %d, want 3", n)
	}
	if !e.pub.has("tree:created:trees/c.tree") {
		t.Errorf("events = %v", e.pub.events)
	}
	if _, err := e.svc.FindRoot("c"); err != nil {
		t.Errorf("graph should know the new tree: %v", err)
	}
}

func TestService_ViewStatePersists(t *testing.T) {
	e := newEnv(t, sampleForest)
	_ = e.svc.Forest(context.Background(), false)

	if _, err := e.svc.TogglePin("b"); err != nil {
		t.Fatal(err)
	}
	if got := e.svc.ViewState().PinnedRootIDs; len(got) != 1 || got[0] != "b" {
		t.Errorf("pins = %v", got)
	}
}

func TestService_ListTrees(t *testing.T) {
	e := newEnv(t, map[string]string{
		"trees/a.tree": "\\title{Intro}\n\\transclude{b}\n",
		"trees/b.tree": "\\title{Lemma 1}\n",
		"trees/c.tree": "\\title{Proof}\n",
	})
	ctx := context.Background()
	_ = e.svc.Forest(ctx, false)

	trees, total, err := e.svc.ListTrees(ctx, 2, 0, "")
	if err != nil {
		t.Fatalf("ListTrees: %v", err)
	}
	if total != 3 || len(trees) != 2 || trees[0].URI != "a" || trees[1].URI != "b" {
		t.Errorf("trees = %+v, total = %d", trees, total)
	}
	if trees[0].Title != "Intro" {
		t.Errorf("title = %q, want Intro", trees[0].Title)
	}

	trees, _, _ = e.svc.ListTrees(ctx, 10, 2, "")
	if len(trees) != 1 || trees[0].URI != "c" {
		t.Errorf("second page = %+v", trees)
	}
}

func TestService_FileEventAfterCloseIsIgnored(t *testing.T) {
	e := newEnv(t, sampleForest)
	_ = e.svc.Forest(context.Background(), false)
	e.svc.Close()

	e.svc.HandleFileEvent(watcher.Event{Kind: watcher.KindUpdated, Path: "trees/a.tree"})
	time.Sleep(50 * time.Millisecond)
	if e.adapter.Calls() != 1 {
		t.Errorf("adapter calls = %d, want 1", e.adapter.Calls())
	}
	if e.pub.has("tree:updated:trees/a.tree") {
		t.Error("closed service should not publish")
	}
}
