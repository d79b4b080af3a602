//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS trees_fts USING fts5(
			uri UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, uri, title, body string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM trees_fts WHERE uri = ?`, uri)
	_, err := tx.Exec(`INSERT INTO trees_fts (uri, title, body, tags) VALUES (?, ?, ?, ?)`,
		uri, title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, uri string) {
	_, _ = tx.Exec(`DELETE FROM trees_fts WHERE uri = ?`, uri)
}

// Search performs an FTS5 full-text search and returns matching results with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT uri,
		       title,
		       snippet(trees_fts, 2, '<b>', '</b>', '...', 64)
		FROM trees_fts
		WHERE trees_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.URI, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
