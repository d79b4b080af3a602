//go:build sqlite_fts5

package index

import (
	"testing"
	"time"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM trees_fts`).Scan(&count); err != nil {
		t.Fatalf("trees_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	row := TreeRow{URI: "fts", Display: "FTS Tree", Tags: []string{"search"}, UpdatedAt: time.Now()}
	if err := db.UpsertTree(row, "Forester provides powerful transclusion."); err != nil {
		t.Fatalf("UpsertTree: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].URI != "fts" {
		t.Errorf("uri = %q", results[0].URI)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertTree(TreeRow{URI: "gone", UpdatedAt: time.Now()}, "vanishing content")
	_ = db.DeleteTree("gone")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.URI == "gone" {
			t.Error("deleted tree still in FTS index")
		}
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertTree(TreeRow{URI: "evo", Display: "Old", UpdatedAt: now}, "original text")
	_ = db.UpsertTree(TreeRow{URI: "evo", Display: "New", UpdatedAt: now}, "replacement text")

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
