package index

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/starford/arbor/internal/checksum"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/models"
)

// SyncStats reports what one SyncForest call changed.
type SyncStats struct {
	Upserted  int
	Unchanged int
	Removed   int
	Edges     int
}

// SyncForest mirrors one forest snapshot into the database:
//   - trees whose record or source text changed are upserted
//   - trees missing from the snapshot are deleted
//   - the transclusion table is replaced by edges
//
// reader supplies source text for full-text search; a tree whose source
// cannot be read is mirrored with an empty body.
func SyncForest(db *DB, forest models.Forest, edges [][2]string, reader graph.SourceReader, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	checksums, err := db.AllChecksums()
	if err != nil {
		return stats, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return stats, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now()
	seen := make(map[string]struct{}, len(forest))
	for _, t := range forest {
		if t.URI == "" {
			continue
		}
		seen[t.URI] = struct{}{}

		body := readBody(reader, t, logger)
		record, _ := json.Marshal(t)
		cs := checksum.SumParts(record, body)
		if checksums[t.URI] == cs {
			stats.Unchanged++
			continue
		}

		row := TreeRow{
			URI:        t.URI,
			Title:      t.TitleText(),
			Display:    graph.DisplayTitle(t),
			Taxon:      t.TaxonText(),
			Tags:       t.Tags,
			Route:      t.Route,
			SourcePath: t.SourcePath,
			Checksum:   cs,
			UpdatedAt:  now,
		}
		if err := upsertTree(tx, row, string(body)); err != nil {
			return stats, err
		}
		stats.Upserted++
	}

	for uri := range checksums {
		if _, ok := seen[uri]; ok {
			continue
		}
		if err := deleteTree(tx, uri); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	if err := replaceTransclusions(tx, edges); err != nil {
		return stats, err
	}
	stats.Edges = len(edges)

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("index: commit sync: %w", err)
	}
	logger.Debug("index: synced",
		slog.Int("upserted", stats.Upserted),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Int("edges", stats.Edges))
	return stats, nil
}

func readBody(reader graph.SourceReader, t models.Tree, logger *slog.Logger) []byte {
	if reader == nil || t.SourcePath == "" {
		return nil
	}
	data, err := reader.Read(t.SourcePath)
	if err != nil {
		logger.Warn("index: read source failed",
			slog.String("uri", t.URI),
			slog.String("path", t.SourcePath),
			slog.String("error", err.Error()))
		return nil
	}
	return data
}
