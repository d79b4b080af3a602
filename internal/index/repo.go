package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/starford/arbor/internal/apperr"
)

// TreeRow represents a row in the trees table.
type TreeRow struct {
	URI        string
	Title      string
	Display    string
	Taxon      string
	Tags       []string
	Route      string
	SourcePath string
	Checksum   string
	UpdatedAt  time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	URI     string
	Title   string
	Snippet string
}

// UpsertTree inserts or replaces a tree and its FTS entry.
func (db *DB) UpsertTree(r TreeRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := upsertTree(tx, r, body); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertTree(tx *sql.Tx, r TreeRow, body string) error {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	_, err := tx.Exec(`
		INSERT INTO trees (uri, title, display, taxon, tags, route, source_path, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			title       = excluded.title,
			display     = excluded.display,
			taxon       = excluded.taxon,
			tags        = excluded.tags,
			route       = excluded.route,
			source_path = excluded.source_path,
			checksum    = excluded.checksum,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, r.URI, r.Title, r.Display, r.Taxon, string(tagsJSON), r.Route, r.SourcePath, r.Checksum, body, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert tree: %w", err)
	}
	return ftsUpsert(tx, r.URI, r.Display, body, tags)
}

// DeleteTree removes a tree and its FTS entry.
func (db *DB) DeleteTree(uri string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteTree(tx, uri); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteTree(tx *sql.Tx, uri string) error {
	ftsDelete(tx, uri)
	if _, err := tx.Exec(`DELETE FROM trees WHERE uri = ?`, uri); err != nil {
		return fmt.Errorf("index: delete tree: %w", err)
	}
	return nil
}

// ReplaceTransclusions swaps the whole edge table for edges.
func (db *DB) ReplaceTransclusions(edges [][2]string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := replaceTransclusions(tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceTransclusions(tx *sql.Tx, edges [][2]string) error {
	if _, err := tx.Exec(`DELETE FROM transclusions`); err != nil {
		return fmt.Errorf("index: clear transclusions: %w", err)
	}
	if len(edges) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO transclusions (source, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare transclusion insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range edges {
		if _, err := stmt.Exec(e[0], e[1]); err != nil {
			return fmt.Errorf("index: insert transclusion: %w", err)
		}
	}
	return nil
}

// GetTree returns one tree row. Unknown URIs yield apperr.ErrNotFound.
func (db *DB) GetTree(uri string) (*TreeRow, error) {
	row := db.conn.QueryRow(`
		SELECT uri, title, display, taxon, tags, route, source_path, checksum, updated_at
		FROM trees WHERE uri = ?
	`, uri)
	r, err := scanTree(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: tree %q: %w", uri, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get tree: %w", err)
	}
	return r, nil
}

// ListTrees returns trees ordered by URI with the total count. An empty
// taxon matches every tree.
func (db *DB) ListTrees(limit, offset int, taxon string) ([]TreeRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`
		SELECT count(*) FROM trees WHERE (? = '' OR taxon = ?)
	`, taxon, taxon).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count trees: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT uri, title, display, taxon, tags, route, source_path, checksum, updated_at
		FROM trees
		WHERE (? = '' OR taxon = ?)
		ORDER BY uri
		LIMIT ? OFFSET ?
	`, taxon, taxon, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list trees: %w", err)
	}
	defer rows.Close()

	var out []TreeRow
	for rows.Next() {
		r, err := scanTree(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTree(s scanner) (*TreeRow, error) {
	var (
		r    TreeRow
		tags string
	)
	if err := s.Scan(&r.URI, &r.Title, &r.Display, &r.Taxon, &tags, &r.Route, &r.SourcePath, &r.Checksum, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil || r.Tags == nil {
		r.Tags = []string{}
	}
	return &r, nil
}

// AllChecksums maps every mirrored URI to its stored checksum.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT uri, checksum FROM trees`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var uri, cs string
		if err := rows.Scan(&uri, &cs); err != nil {
			return nil, err
		}
		out[uri] = cs
	}
	return out, rows.Err()
}

// Transcluders returns the URIs whose text transcludes uri.
func (db *DB) Transcluders(uri string) ([]string, error) {
	return db.strings(`SELECT source FROM transclusions WHERE target = ? ORDER BY source`, uri)
}

// Transclusions returns the URIs transcluded by uri.
func (db *DB) Transclusions(uri string) ([]string, error) {
	return db.strings(`SELECT target FROM transclusions WHERE source = ? ORDER BY target`, uri)
}

func (db *DB) strings(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query transclusions: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
