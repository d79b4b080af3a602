package graph

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/arbor/internal/models"
)

// TitleSeparator joins a taxon abbreviation and the title.
const TitleSeparator = ". "

var urlLike = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://\S+$`)

var taxonAbbrev = map[string]string{
	"theorem":      "Thm",
	"lemma":        "Lem",
	"definition":   "Def",
	"proposition":  "Prop",
	"corollary":    "Cor",
	"example":      "Ex",
	"remark":       "Rem",
	"conjecture":   "Conj",
	"notation":     "Not",
	"axiom":        "Ax",
	"construction": "Constr",
	"exercise":     "Exer",
	"person":       "Person",
	"reference":    "Ref",
}

// Node is one tree in the transclusion graph.
type Node struct {
	URI        string
	Title      string
	Taxon      string
	SourcePath string

	transcludes   map[string]struct{}
	transcludedBy map[string]struct{}
}

func newNode(t models.Tree) *Node {
	return &Node{
		URI:           t.URI,
		Title:         DisplayTitle(t),
		Taxon:         t.TaxonText(),
		SourcePath:    t.SourcePath,
		transcludes:   make(map[string]struct{}),
		transcludedBy: make(map[string]struct{}),
	}
}

// Transcludes returns the URIs this node references, sorted.
func (n *Node) Transcludes() []string { return sortedKeys(n.transcludes) }

// TranscludedBy returns the URIs referencing this node, sorted.
func (n *Node) TranscludedBy() []string { return sortedKeys(n.transcludedBy) }

// HasChildren reports whether the node transcludes anything.
func (n *Node) HasChildren() bool { return len(n.transcludes) > 0 }

// DisplayTitle derives the label shown for t. Missing titles and titles that
// are bare URLs fall back to the URI; a taxon adds an abbreviated prefix.
func DisplayTitle(t models.Tree) string {
	title := strings.TrimSpace(t.TitleText())
	if title == "" || urlLike.MatchString(title) {
		title = t.URI
	}
	if taxon := strings.TrimSpace(t.TaxonText()); taxon != "" {
		return TaxonAbbrev(taxon) + TitleSeparator + title
	}
	return title
}

// TaxonAbbrev returns the short form of taxon. Unknown taxa are returned
// with their first letter upper-cased.
func TaxonAbbrev(taxon string) string {
	if a, ok := taxonAbbrev[strings.ToLower(taxon)]; ok {
		return a
	}
	r, size := utf8.DecodeRuneInString(taxon)
	if r == utf8.RuneError {
		return taxon
	}
	return string(unicode.ToUpper(r)) + taxon[size:]
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
