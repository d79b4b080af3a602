package index

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/starford/arbor/internal/apperr"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/models"
)

var quietLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "arbor-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type memReader map[string]string

func (m memReader) Read(path string) ([]byte, error) {
	s, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(s), nil
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"trees", "transclusions", "view_state"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertAndGetTree(t *testing.T) {
	db := testDB(t)
	row := TreeRow{
		URI:        "jms-0001",
		Title:      "Hello",
		Display:    "Thm. Hello",
		Taxon:      "theorem",
		Tags:       []string{"go", "test"},
		Route:      "/jms-0001/",
		SourcePath: "trees/jms-0001.tree",
		Checksum:   "abc123",
		UpdatedAt:  time.Now(),
	}
	if err := db.UpsertTree(row, "body text"); err != nil {
		t.Fatalf("UpsertTree: %v", err)
	}
	got, err := db.GetTree("jms-0001")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if got.Display != "Thm. Hello" || got.Checksum != "abc123" || !reflect.DeepEqual(got.Tags, []string{"go", "test"}) {
		t.Errorf("row = %+v", got)
	}
}

func TestGetTree_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetTree("missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteTree(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTree(TreeRow{URI: "del", Checksum: "x", UpdatedAt: time.Now()}, "body")
	if err := db.DeleteTree("del"); err != nil {
		t.Fatalf("DeleteTree: %v", err)
	}
	if _, err := db.GetTree("del"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted tree still present: %v", err)
	}
}

func TestListTrees(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertTree(TreeRow{URI: "c", Taxon: "lemma", UpdatedAt: now}, "")
	_ = db.UpsertTree(TreeRow{URI: "a", Taxon: "theorem", UpdatedAt: now}, "")
	_ = db.UpsertTree(TreeRow{URI: "b", Taxon: "lemma", UpdatedAt: now}, "")

	rows, total, err := db.ListTrees(2, 0, "")
	if err != nil {
		t.Fatalf("ListTrees: %v", err)
	}
	if total != 3 || len(rows) != 2 || rows[0].URI != "a" || rows[1].URI != "b" {
		t.Errorf("page = %+v total %d", rows, total)
	}

	rows, total, _ = db.ListTrees(10, 0, "lemma")
	if total != 2 || len(rows) != 2 || rows[0].URI != "b" {
		t.Errorf("lemma page = %+v total %d", rows, total)
	}
}

func TestTransclusions(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceTransclusions([][2]string{{"a", "b"}, {"c", "b"}, {"a", "c"}}); err != nil {
		t.Fatalf("ReplaceTransclusions: %v", err)
	}
	by, _ := db.Transcluders("b")
	if !reflect.DeepEqual(by, []string{"a", "c"}) {
		t.Errorf("Transcluders(b) = %v", by)
	}
	out, _ := db.Transclusions("a")
	if !reflect.DeepEqual(out, []string{"b", "c"}) {
		t.Errorf("Transclusions(a) = %v", out)
	}

	_ = db.ReplaceTransclusions(nil)
	by, _ = db.Transcluders("b")
	if len(by) != 0 {
		t.Errorf("edges should be replaced wholesale, got %v", by)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTree(TreeRow{URI: "s", Display: "Search Me", UpdatedAt: time.Now()}, "uniqueword appears here")

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].URI != "s" || results[0].Title != "Search Me" {
		t.Errorf("search results = %+v, want 1 hit for s", results)
	}
}

func TestSyncForest(t *testing.T) {
	db := testDB(t)
	forest := models.Forest{
		{URI: "a", Title: models.StringPtr("Intro"), Taxon: models.StringPtr("theorem"), SourcePath: "a.tree"},
		{URI: "b", Title: models.StringPtr("Lemma 1"), SourcePath: "b.tree"},
	}
	src := memReader{"a.tree": `\transclude{b}`, "b.tree": "lemma body"}

	stats, err := SyncForest(db, forest, [][2]string{{"a", "b"}}, src, quietLogger)
	if err != nil {
		t.Fatalf("SyncForest: %v", err)
	}
	if stats.Upserted != 2 || stats.Edges != 1 {
		t.Errorf("first sync stats = %+v", stats)
	}
	a, err := db.GetTree("a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Display != "Thm. Intro" {
		t.Errorf("display = %q", a.Display)
	}

	stats, _ = SyncForest(db, forest, [][2]string{{"a", "b"}}, src, quietLogger)
	if stats.Upserted != 0 || stats.Unchanged != 2 {
		t.Errorf("unchanged sync stats = %+v", stats)
	}

	src["b.tree"] = "edited body"
	stats, _ = SyncForest(db, forest, [][2]string{{"a", "b"}}, src, quietLogger)
	if stats.Upserted != 1 {
		t.Errorf("edited source should resync one tree, stats = %+v", stats)
	}

	stats, _ = SyncForest(db, forest[:1], nil, src, quietLogger)
	if stats.Removed != 1 {
		t.Errorf("removed = %d, want 1", stats.Removed)
	}
	if _, err := db.GetTree("b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("b should be gone: %v", err)
	}
	if by, _ := db.Transcluders("b"); len(by) != 0 {
		t.Errorf("edges = %v, want none", by)
	}
}

func TestViewState_RoundTrip(t *testing.T) {
	db := testDB(t)

	st, err := db.LoadViewState()
	if err != nil || st != nil {
		t.Fatalf("empty load = %v, %v; want nil, nil", st, err)
	}

	sel := "b"
	want := graph.NewViewState()
	want.ExpandedNodes["a"] = struct{}{}
	want.ExpandedNodes["b"] = struct{}{}
	want.PinnedRootIDs = []string{"b", "a"}
	want.FocusMode = true
	want.SelectedNodeID = &sel
	if err := db.SaveViewState(want); err != nil {
		t.Fatalf("SaveViewState: %v", err)
	}

	got, err := db.LoadViewState()
	if err != nil {
		t.Fatalf("LoadViewState: %v", err)
	}
	if !reflect.DeepEqual(got.Clone(), want.Clone()) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	want.PinnedRootIDs = nil
	want.SelectedNodeID = nil
	_ = db.SaveViewState(want)
	got, _ = db.LoadViewState()
	if len(got.PinnedRootIDs) != 0 || got.SelectedNodeID != nil {
		t.Errorf("overwrite = %+v", got)
	}
}

func TestViewState_PersistedLayout(t *testing.T) {
	db := testDB(t)
	s := graph.NewViewState()
	s.ExpandedNodes["x"] = struct{}{}
	_ = db.SaveViewState(s)

	var data string
	if err := db.conn.QueryRow(`SELECT data FROM view_state WHERE id = 1`).Scan(&data); err != nil {
		t.Fatal(err)
	}
	want := `{"expandedNodes":["x"],"pinnedRootIds":[],"focusMode":false}`
	if data != want {
		t.Errorf("data = %s, want %s", data, want)
	}
}
