package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/arbor/internal/apperr"
	"github.com/starford/arbor/internal/metrics"
	"github.com/starford/arbor/internal/models"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxPinned bounds the number of pinned roots.
func WithMaxPinned(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxPinned = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// Engine owns the current graph and the view state. All operations are
// serialised; every mutation writes the full state through the store
// before returning.
type Engine struct {
	store     StateStore
	maxPinned int
	logger    *slog.Logger

	mu      sync.Mutex
	graph   *Graph
	state   *ViewState
	current string
}

// NewEngine loads the persisted view state from store. A nil store keeps
// the state in memory only.
func NewEngine(store StateStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:     store,
		maxPinned: DefaultMaxPinned,
		logger:    slog.Default(),
		graph:     Empty(),
		state:     NewViewState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if store == nil {
		return e, nil
	}

	st, err := store.LoadViewState()
	if err != nil {
		return nil, fmt.Errorf("graph: load view state: %w", err)
	}
	if st != nil {
		// Re-apply the bounds in case the limit shrank since the last save.
		e.state = FromRecord(st.ToRecord(), e.maxPinned)
	}
	return e, nil
}

// MaxPinned returns the pinned roots limit.
func (e *Engine) MaxPinned() int { return e.maxPinned }

// Rebuild replaces the graph with one built from forest. The view state is
// left untouched so pins of trees missing from one snapshot survive.
func (e *Engine) Rebuild(ctx context.Context, forest models.Forest, reader SourceReader) *Graph {
	start := time.Now()
	g := Build(ctx, forest, reader, e.logger)
	metrics.GraphRebuildDuration.Observe(time.Since(start).Seconds())
	metrics.GraphNodes.Set(float64(g.Len()))

	e.mu.Lock()
	e.graph = g
	e.mu.Unlock()

	e.logger.Info("graph: rebuilt",
		slog.Int("nodes", g.Len()),
		slog.Int("edges", len(g.Edges())),
		slog.Duration("elapsed", time.Since(start)))
	return g
}

// Graph returns the current graph.
func (e *Engine) Graph() *Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph
}

// SetCurrent sets the active tree whose root is always shown.
func (e *Engine) SetCurrent(uri string) {
	e.mu.Lock()
	e.current = uri
	e.mu.Unlock()
}

// Current returns the active tree.
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Roots returns the resolved roots: pins first, then the current root.
func (e *Engine) Roots() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ResolveRoots(e.graph, e.state, e.current)
}

// Render describes the visible graph for the current state.
func (e *Engine) Render() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Render(e.graph, e.state, e.current)
}

// State returns a copy of the view state.
func (e *Engine) State() ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// ToggleExpand flips whether id shows its children and pins its root when
// there is room.
func (e *Engine) ToggleExpand(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graph.Has(id) {
		return fmt.Errorf("graph: expand %q: %w", id, apperr.ErrNotFound)
	}
	if e.state.IsExpanded(id) {
		delete(e.state.ExpandedNodes, id)
	} else {
		e.state.ExpandedNodes[id] = struct{}{}
	}
	e.autoPinLocked(id)
	e.persistLocked()
	return nil
}

// Select marks id as selected, expands it when it has children and pins
// its root when there is room.
func (e *Engine) Select(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.graph.Node(id)
	if !ok {
		return fmt.Errorf("graph: select %q: %w", id, apperr.ErrNotFound)
	}
	sel := id
	e.state.SelectedNodeID = &sel
	if n.HasChildren() {
		e.state.ExpandedNodes[id] = struct{}{}
	}
	e.autoPinLocked(id)
	e.persistLocked()
	return nil
}

// TogglePin unpins id when pinned, otherwise pins and expands it. Pinning
// past the limit fails with apperr.ErrPinLimitExceeded and changes nothing.
// A pinned id can be unpinned even when it is missing from the graph.
func (e *Engine) TogglePin(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsPinned(id) {
		e.state.PinnedRootIDs = unpin(e.state.PinnedRootIDs, id)
		e.persistLocked()
		return false, nil
	}
	if !e.graph.Has(id) {
		return false, fmt.Errorf("graph: pin %q: %w", id, apperr.ErrNotFound)
	}
	if len(e.state.PinnedRootIDs) >= e.maxPinned {
		return false, fmt.Errorf("graph: pin %q: %d roots already pinned: %w",
			id, len(e.state.PinnedRootIDs), apperr.ErrPinLimitExceeded)
	}
	e.state.PinnedRootIDs = append(e.state.PinnedRootIDs, id)
	e.state.ExpandedNodes[id] = struct{}{}
	e.persistLocked()
	return true, nil
}

// SetFocusMode restricts the view to the current root when on.
func (e *Engine) SetFocusMode(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.FocusMode = on
	e.persistLocked()
	return nil
}

// ExpandAll expands every tree that has children.
func (e *Engine) ExpandAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for uri, n := range e.graph.nodes {
		if n.HasChildren() {
			e.state.ExpandedNodes[uri] = struct{}{}
		}
	}
	e.persistLocked()
	return nil
}

// CollapseAll collapses everything except the resolved roots.
func (e *Engine) CollapseAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ExpandedNodes = make(map[string]struct{})
	for _, root := range ResolveRoots(e.graph, e.state, e.current) {
		e.state.ExpandedNodes[root] = struct{}{}
	}
	e.persistLocked()
	return nil
}

// RevealPath expands every ancestor of id on the shortest chain from a
// shown root, leaving id itself as it was.
func (e *Engine) RevealPath(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graph.Has(id) {
		return fmt.Errorf("graph: reveal %q: %w", id, apperr.ErrNotFound)
	}
	roots := ResolveRoots(e.graph, e.state, e.current)
	roots = append(roots, e.graph.FindRoot(id, e.state.PinnedRootIDs))
	chain := e.graph.ParentChain(roots, id)
	if len(chain) < 2 {
		return nil
	}
	for _, uri := range chain[:len(chain)-1] {
		e.state.ExpandedNodes[uri] = struct{}{}
	}
	e.persistLocked()
	return nil
}

// autoPinLocked pins the root of id unless a pinned root already contains
// id or the limit is reached.
func (e *Engine) autoPinLocked(id string) {
	for _, p := range e.state.PinnedRootIDs {
		if e.graph.NodeContainsChild(p, id) {
			return
		}
	}
	root := e.graph.FindRoot(id, e.state.PinnedRootIDs)
	if e.state.IsPinned(root) || len(e.state.PinnedRootIDs) >= e.maxPinned {
		return
	}
	e.state.PinnedRootIDs = append(e.state.PinnedRootIDs, root)
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	snapshot := e.state.Clone()
	if err := e.store.SaveViewState(&snapshot); err != nil {
		e.logger.Error("graph: save view state", slog.String("error", err.Error()))
	}
}
