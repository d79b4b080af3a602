package graph

// View is the rendered description of the graph handed to view hosts.
type View struct {
	Roots []ViewNode `json:"roots"`
}

// ViewNode is one visible occurrence of a tree. The same tree may appear
// more than once when it is reachable along different paths.
type ViewNode struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Taxon       string     `json:"taxon,omitempty"`
	Depth       int        `json:"depth"`
	Expanded    bool       `json:"expanded"`
	Pinned      bool       `json:"pinned"`
	Selected    bool       `json:"selected"`
	HasChildren bool       `json:"hasChildren"`
	Cycle       bool       `json:"cycle"`
	Children    []ViewNode `json:"children,omitempty"`
}

// Count returns the number of view nodes in v.
func (v View) Count() int {
	n := 0
	var walk func([]ViewNode)
	walk = func(nodes []ViewNode) {
		for _, vn := range nodes {
			n++
			walk(vn.Children)
		}
	}
	walk(v.Roots)
	return n
}

// ResolveRoots returns the roots shown for state and current: pinned trees
// present in g, then the root of current when it is not already listed.
func ResolveRoots(g *Graph, state *ViewState, current string) []string {
	roots := make([]string, 0, len(state.PinnedRootIDs)+1)
	for _, p := range state.PinnedRootIDs {
		if g.Has(p) {
			roots = append(roots, p)
		}
	}
	if current != "" && g.Has(current) {
		roots = append(roots, g.FindRoot(current, state.PinnedRootIDs))
	}
	return dedupe(roots)
}

// Render describes the visible part of g. It does not modify state.
func Render(g *Graph, state *ViewState, current string) View {
	roots := ResolveRoots(g, state, current)
	if state.FocusMode && current != "" && g.Has(current) {
		roots = []string{g.FindRoot(current, state.PinnedRootIDs)}
	}

	r := renderer{g: g, state: state}
	view := View{Roots: make([]ViewNode, 0, len(roots))}
	for _, root := range roots {
		view.Roots = append(view.Roots, r.node(root, 0, nil, true))
	}
	return view
}

type renderer struct {
	g     *Graph
	state *ViewState
}

// node renders uri. path holds the URIs above uri on this branch; it is
// never mutated, each level passes its own copy down.
func (r renderer) node(uri string, depth int, path map[string]struct{}, root bool) ViewNode {
	n := r.g.nodes[uri]
	vn := ViewNode{
		ID:          uri,
		Title:       n.Title,
		Taxon:       n.Taxon,
		Depth:       depth,
		Expanded:    r.state.IsExpanded(uri),
		Pinned:      root && r.state.IsPinned(uri),
		Selected:    r.state.SelectedNodeID != nil && *r.state.SelectedNodeID == uri,
		HasChildren: n.HasChildren(),
	}
	if _, onPath := path[uri]; onPath {
		vn.Cycle = true
		return vn
	}
	if !vn.Expanded || !vn.HasChildren {
		return vn
	}

	next := make(map[string]struct{}, len(path)+1)
	for k := range path {
		next[k] = struct{}{}
	}
	next[uri] = struct{}{}

	children := n.Transcludes()
	vn.Children = make([]ViewNode, 0, len(children))
	for _, child := range children {
		vn.Children = append(vn.Children, r.node(child, depth+1, next, false))
	}
	return vn
}
