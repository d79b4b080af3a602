// Package models defines the domain types for Arbor.
package models

// Tree is one document of a forest as reported by forester.
// Trees are immutable once produced; URI is the primary key.
type Tree struct {
	URI        string            `json:"uri"`
	Title      *string           `json:"title"`
	Taxon      *string           `json:"taxon"`
	Tags       []string          `json:"tags"`
	Route      string            `json:"route"`
	Metas      map[string]string `json:"metas"`
	SourcePath string            `json:"sourcePath"`
}

// TitleText returns the title or "" when the tree has none.
func (t Tree) TitleText() string {
	if t.Title == nil {
		return ""
	}
	return *t.Title
}

// TaxonText returns the taxon or "" when the tree has none.
func (t Tree) TaxonText() string {
	if t.Taxon == nil {
		return ""
	}
	return *t.Taxon
}

// Forest is the ordered set of trees produced by one refresh.
// A refresh always produces a new Forest; existing ones are never patched.
type Forest []Tree

// Len returns the number of trees.
func (f Forest) Len() int { return len(f) }

// Lookup finds a tree by URI.
func (f Forest) Lookup(uri string) (Tree, bool) {
	for _, t := range f {
		if t.URI == uri {
			return t, true
		}
	}
	return Tree{}, false
}

// URIs returns every tree URI in forest order.
func (f Forest) URIs() []string {
	out := make([]string, len(f))
	for i, t := range f {
		out[i] = t.URI
	}
	return out
}

// StringPtr is a convenience for building optional fields.
func StringPtr(s string) *string { return &s }

// TreeFile is a tree source file found on disk.
type TreeFile struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}
