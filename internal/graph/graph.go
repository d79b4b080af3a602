// Package graph builds the transclusion graph of a forest and keeps the
// view state (expanded, pinned and selected trees) rendered on top of it.
//
// The graph is rebuilt from scratch for every forest snapshot. Cycles are a
// normal shape: every traversal tracks the URIs on its own path, so a tree
// reachable along two different paths is visited twice while a tree that
// reappears on the same path ends that branch.
package graph

import (
	"context"
	"log/slog"
	"sort"

	"github.com/starford/arbor/internal/models"
	"github.com/starford/arbor/internal/parser"
)

// SourceReader reads tree source text.
type SourceReader interface {
	Read(path string) ([]byte, error)
}

// Graph is an immutable transclusion graph for one forest snapshot.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// Empty returns a graph with no nodes.
func Empty() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Build creates the graph for forest, scanning each tree's source through
// reader. A tree whose source cannot be read is logged and gets no outgoing
// edges. If ctx is cancelled the graph built so far is returned.
func Build(ctx context.Context, forest models.Forest, reader SourceReader, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Graph{nodes: make(map[string]*Node, len(forest))}
	for _, t := range forest {
		if t.URI == "" {
			continue
		}
		if _, dup := g.nodes[t.URI]; dup {
			logger.Warn("graph: duplicate tree uri", slog.String("uri", t.URI))
			continue
		}
		g.nodes[t.URI] = newNode(t)
		g.order = append(g.order, t.URI)
	}

	for _, uri := range g.order {
		if ctx.Err() != nil {
			logger.Warn("graph: build cancelled", slog.String("uri", uri))
			break
		}
		n := g.nodes[uri]
		if n.SourcePath == "" || reader == nil {
			continue
		}
		data, err := reader.Read(n.SourcePath)
		if err != nil {
			logger.Warn("graph: read source failed",
				slog.String("uri", uri),
				slog.String("path", n.SourcePath),
				slog.String("error", err.Error()))
			continue
		}
		targets, err := parser.Transclusions(data)
		if err != nil {
			logger.Warn("graph: scan source failed",
				slog.String("uri", uri),
				slog.String("path", n.SourcePath),
				slog.String("error", err.Error()))
		}
		for _, target := range targets {
			child, ok := g.nodes[target]
			if !ok {
				continue
			}
			n.transcludes[target] = struct{}{}
			child.transcludedBy[uri] = struct{}{}
		}
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node for uri.
func (g *Graph) Node(uri string) (*Node, bool) {
	n, ok := g.nodes[uri]
	return n, ok
}

// Has reports whether uri is a node of g.
func (g *Graph) Has(uri string) bool {
	_, ok := g.nodes[uri]
	return ok
}

// URIs returns node URIs in forest order.
func (g *Graph) URIs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Edges returns every transclusion edge as [source, target] pairs, sorted.
func (g *Graph) Edges() [][2]string {
	var out [][2]string
	for _, uri := range g.order {
		for _, target := range g.nodes[uri].Transcludes() {
			out = append(out, [2]string{uri, target})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// FindRoot resolves the root that current is displayed under. A pinned uri
// is its own root. Otherwise the walk follows transcludedBy upward, taking
// the lexicographically smallest parent, until a node without parents. If
// the walk revisits a node, current itself is the root.
func (g *Graph) FindRoot(current string, pinned []string) string {
	for _, p := range pinned {
		if p == current {
			return current
		}
	}
	n, ok := g.nodes[current]
	if !ok {
		return current
	}

	seen := map[string]struct{}{current: {}}
	for len(n.transcludedBy) > 0 {
		parent := smallestKey(n.transcludedBy)
		if _, loop := seen[parent]; loop {
			return current
		}
		seen[parent] = struct{}{}
		n = g.nodes[parent]
	}
	return n.URI
}

// NodeContainsChild reports whether target is reachable from root over
// transcludes edges. root contains itself.
func (g *Graph) NodeContainsChild(root, target string) bool {
	if _, ok := g.nodes[root]; !ok {
		return false
	}
	return g.contains(root, target, map[string]struct{}{})
}

func (g *Graph) contains(uri, target string, path map[string]struct{}) bool {
	if uri == target {
		return true
	}
	if _, onPath := path[uri]; onPath {
		return false
	}
	path[uri] = struct{}{}
	defer delete(path, uri)

	for _, child := range g.nodes[uri].Transcludes() {
		if g.contains(child, target, path) {
			return true
		}
	}
	return false
}

// ParentChain returns the shortest chain [root, ..., target] from the first
// of roots that reaches target, or nil when none does.
func (g *Graph) ParentChain(roots []string, target string) []string {
	if _, ok := g.nodes[target]; !ok {
		return nil
	}
	for _, root := range roots {
		if _, ok := g.nodes[root]; !ok {
			continue
		}
		if chain := g.bfs(root, target); chain != nil {
			return chain
		}
	}
	return nil
}

func (g *Graph) bfs(root, target string) []string {
	prev := map[string]string{root: ""}
	queue := []string{root}
	for len(queue) > 0 {
		uri := queue[0]
		queue = queue[1:]
		if uri == target {
			var chain []string
			for at := target; at != ""; at = prev[at] {
				chain = append(chain, at)
			}
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			return chain
		}
		for _, child := range g.nodes[uri].Transcludes() {
			if _, seen := prev[child]; seen {
				continue
			}
			prev[child] = uri
			queue = append(queue, child)
		}
	}
	return nil
}

func smallestKey(m map[string]struct{}) string {
	first := true
	var min string
	for k := range m {
		if first || k < min {
			min, first = k, false
		}
	}
	return min
}
