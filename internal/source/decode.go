package source

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	json "github.com/goccy/go-json"

	"github.com/starford/arbor/internal/models"
)

// record is the wire shape of one tree. Titles and taxa may be null.
type record struct {
	URI        string            `json:"uri"`
	Title      *string           `json:"title"`
	Taxon      *string           `json:"taxon"`
	Tags       []string          `json:"tags"`
	Route      string            `json:"route"`
	Metas      map[string]string `json:"metas"`
	SourcePath string            `json:"sourcePath"`
}

// Validate requires the identifier every tree is keyed on.
func (r record) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URI, validation.Required),
	)
}

func (r record) tree() models.Tree {
	return models.Tree{
		URI:        r.URI,
		Title:      r.Title,
		Taxon:      r.Taxon,
		Tags:       r.Tags,
		Route:      r.Route,
		Metas:      r.Metas,
		SourcePath: r.SourcePath,
	}
}

var (
	errEmptyOutput = errors.New("empty output")
	errNotSequence = errors.New("build artifact is not a sequence of trees")
)

// DecodeForest parses forester output into a Forest. Two layouts are
// accepted: an array of records, and the older object keyed by URI. In the
// keyed layout a record without its own uri takes the key, and entries are
// ordered by key.
func DecodeForest(data []byte) (models.Forest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errEmptyOutput
	}

	var recs []record
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode tree list: %w", err)
		}
	case '{':
		var keyed map[string]record
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("decode tree map: %w", err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		recs = make([]record, 0, len(keys))
		for _, k := range keys {
			r := keyed[k]
			if r.URI == "" {
				r.URI = k
			}
			recs = append(recs, r)
		}
	default:
		return nil, fmt.Errorf("unexpected leading byte %q", trimmed[0])
	}

	forest := make(models.Forest, 0, len(recs))
	for i, r := range recs {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		forest = append(forest, r.tree())
	}
	return forest, nil
}

// DecodeArtifact parses a forest.json build artifact. Unlike DecodeForest
// only the list layout is accepted.
func DecodeArtifact(data []byte) (models.Forest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotSequence
	}
	return DecodeForest(trimmed)
}
