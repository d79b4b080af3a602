package index

import (
	"github.com/starford/arbor/internal/graph"
)

// TreeIndex is the read side of the search mirror. Consumers depend on it
// rather than on *DB so they can be tested with fakes.
type TreeIndex interface {
	GetTree(uri string) (*TreeRow, error)
	ListTrees(limit, offset int, taxon string) ([]TreeRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Transcluders(uri string) ([]string, error)
	Transclusions(uri string) ([]string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

var (
	_ TreeIndex        = (*DB)(nil)
	_ graph.StateStore = (*DB)(nil)
)
