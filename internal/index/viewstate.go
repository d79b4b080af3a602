package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/starford/arbor/internal/graph"
)

// LoadViewState returns the persisted view state, or nil when none was
// saved yet.
func (db *DB) LoadViewState() (*graph.ViewState, error) {
	var data string
	err := db.conn.QueryRow(`SELECT data FROM view_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: load view state: %w", err)
	}

	var rec graph.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("index: decode view state: %w", err)
	}
	return graph.FromRecord(rec, 0), nil
}

// SaveViewState overwrites the persisted view state.
func (db *DB) SaveViewState(s *graph.ViewState) error {
	data, err := json.Marshal(s.ToRecord())
	if err != nil {
		return fmt.Errorf("index: encode view state: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO view_state (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("index: save view state: %w", err)
	}
	return nil
}
