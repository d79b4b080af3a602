// Package forestservice ties the forest cache, the transclusion graph, the
// search mirror and the event broker together. It is the single core every
// outer surface (HTTP, MCP, terminal) talks to.
package forestservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/starford/arbor/internal/apperr"
	"github.com/starford/arbor/internal/forestcache"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/index"
	"github.com/starford/arbor/internal/models"
	"github.com/starford/arbor/internal/parser"
	"github.com/starford/arbor/internal/sse"
	"github.com/starford/arbor/internal/storage"
	"github.com/starford/arbor/internal/watcher"
)

// Publisher receives change notifications. *sse.Broker implements it.
type Publisher interface {
	PublishForestUpdated(trees int, status string)
	PublishTreeChanged(kind, path string)
	PublishGraphUpdated(info sse.GraphInfo)
	PublishViewUpdated(gesture, id string)
}

// TreeDetail is one tree with its graph neighbourhood.
type TreeDetail struct {
	Tree          models.Tree `json:"tree"`
	Title         string      `json:"title"`
	Root          string      `json:"root"`
	Transcludes   []string    `json:"transcludes"`
	TranscludedBy []string    `json:"transcludedBy"`
	Source        string      `json:"source,omitempty"`
}

// SearchHit is one search result.
type SearchHit struct {
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// TreeSummary is one entry of a tree listing.
type TreeSummary struct {
	URI   string   `json:"uri"`
	Title string   `json:"title"`
	Taxon string   `json:"taxon,omitempty"`
	Tags  []string `json:"tags"`
}

// Option configures a Service.
type Option func(*Service)

// WithIndex mirrors every snapshot into db and serves search from it.
func WithIndex(db *index.DB) Option {
	return func(s *Service) { s.db = db }
}

// WithPublisher sends change notifications to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service coordinates cache, graph, index and broker.
type Service struct {
	cache  *forestcache.Cache
	engine *graph.Engine
	store  storage.Provider
	db     *index.DB
	pub    Publisher
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	closed      bool
	wg          sync.WaitGroup
}

// New creates a service. Call Start to begin following the cache.
func New(cache *forestcache.Cache, engine *graph.Engine, store storage.Provider, opts ...Option) *Service {
	s := &Service{
		cache:  cache,
		engine: engine,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the cache. Every new forest rebuilds the graph,
// resyncs the index and notifies clients before readers of that forest
// are released.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.cache.Subscribe(s.onForest)
}

// Close stops following the cache and waits for background refreshes.
func (s *Service) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.closed = true
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

func (s *Service) onForest(forest models.Forest) {
	g := s.engine.Rebuild(context.Background(), forest, s.store)

	if s.db != nil {
		if _, err := index.SyncForest(s.db, forest, g.Edges(), s.store, s.logger); err != nil {
			s.logger.Error("forestservice: index sync failed", slog.String("error", err.Error()))
		}
	}
	if s.pub != nil {
		s.pub.PublishForestUpdated(forest.Len(), s.cache.Status().String())
		s.pub.PublishGraphUpdated(sse.GraphInfo{Nodes: g.Len(), Edges: len(g.Edges())})
	}
}

// HandleFileEvent reacts to a watcher event: clients are told about the
// change and the cache is invalidated in the background.
func (s *Service) HandleFileEvent(ev watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pub != nil && ev.Kind != watcher.KindConfig {
		s.pub.PublishTreeChanged(string(ev.Kind), ev.Path)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cache.Invalidate(context.Background())
	}()
}

// Forest returns the current forest. With allowStale the cached forest is
// returned even while a refresh runs.
func (s *Service) Forest(ctx context.Context, allowStale bool) models.Forest {
	return s.cache.Read(ctx, false, allowStale)
}

// Refresh forces a new fetch and returns its forest.
func (s *Service) Refresh(ctx context.Context) models.Forest {
	return s.cache.Invalidate(ctx)
}

// Status reports the cache status.
func (s *Service) Status() forestcache.Status {
	return s.cache.Status()
}

// Tree returns one tree with its transclusion neighbourhood.
func (s *Service) Tree(ctx context.Context, uri string) (*TreeDetail, error) {
	forest := s.cache.Read(ctx, false, true)
	t, ok := forest.Lookup(uri)
	if !ok {
		return nil, fmt.Errorf("forestservice: tree %q: %w", uri, apperr.ErrNotFound)
	}

	d := &TreeDetail{
		Tree:          t,
		Title:         graph.DisplayTitle(t),
		Root:          uri,
		Transcludes:   []string{},
		TranscludedBy: []string{},
	}
	g := s.engine.Graph()
	if n, ok := g.Node(uri); ok {
		d.Title = n.Title
		d.Transcludes = n.Transcludes()
		d.TranscludedBy = n.TranscludedBy()
		d.Root = g.FindRoot(uri, s.engine.State().PinnedRootIDs)
	}
	if t.SourcePath != "" {
		if data, err := s.store.Read(t.SourcePath); err == nil {
			d.Source = string(data)
		}
	}
	return d, nil
}

// FindRoot resolves the root uri is shown under.
func (s *Service) FindRoot(uri string) (string, error) {
	g := s.engine.Graph()
	if !g.Has(uri) {
		return "", fmt.Errorf("forestservice: tree %q: %w", uri, apperr.ErrNotFound)
	}
	return g.FindRoot(uri, s.engine.State().PinnedRootIDs), nil
}

// ListTrees returns trees ordered by URI with the total count. An empty
// taxon matches every tree.
func (s *Service) ListTrees(ctx context.Context, limit, offset int, taxon string) ([]TreeSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if s.db != nil {
		rows, total, err := s.db.ListTrees(limit, offset, taxon)
		if err != nil {
			return nil, 0, err
		}
		out := make([]TreeSummary, len(rows))
		for i, r := range rows {
			out[i] = TreeSummary{URI: r.URI, Title: r.Display, Taxon: r.Taxon, Tags: r.Tags}
		}
		return out, total, nil
	}

	forest := s.cache.Read(ctx, false, true)
	matched := make([]TreeSummary, 0, forest.Len())
	for _, t := range forest {
		if taxon != "" && t.TaxonText() != taxon {
			continue
		}
		tags := t.Tags
		if tags == nil {
			tags = []string{}
		}
		matched = append(matched, TreeSummary{URI: t.URI, Title: graph.DisplayTitle(t), Taxon: t.TaxonText(), Tags: tags})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].URI < matched[j].URI })
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Search finds trees matching query. Without an index it matches URIs and
// titles of the current graph.
func (s *Service) Search(_ context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.db != nil {
		rows, err := s.db.Search(query, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]SearchHit, len(rows))
		for i, r := range rows {
			hits[i] = SearchHit{URI: r.URI, Title: r.Title, Snippet: r.Snippet}
		}
		return hits, nil
	}

	g := s.engine.Graph()
	q := strings.ToLower(query)
	hits := []SearchHit{}
	for _, uri := range g.URIs() {
		n, _ := g.Node(uri)
		if strings.Contains(strings.ToLower(uri), q) || strings.Contains(strings.ToLower(n.Title), q) {
			hits = append(hits, SearchHit{URI: uri, Title: n.Title})
			if len(hits) == limit {
				break
			}
		}
	}
	return hits, nil
}

// Render returns the view for current. An empty current keeps the
// previously set one.
func (s *Service) Render(current string) graph.View {
	if current != "" {
		s.engine.SetCurrent(current)
	}
	return s.engine.Render()
}

// Current returns the tree the view is currently centred on.
func (s *Service) Current() string {
	return s.engine.Current()
}

// ViewState returns a copy of the view state.
func (s *Service) ViewState() graph.ViewState {
	return s.engine.State()
}

// MaxPinned returns the pinned roots limit.
func (s *Service) MaxPinned() int {
	return s.engine.MaxPinned()
}

// ToggleExpand flips the expansion of id.
func (s *Service) ToggleExpand(id string) error {
	return s.gesture("expand", id, s.engine.ToggleExpand(id))
}

// Select selects id.
func (s *Service) Select(id string) error {
	return s.gesture("select", id, s.engine.Select(id))
}

// TogglePin pins or unpins id.
func (s *Service) TogglePin(id string) (bool, error) {
	pinned, err := s.engine.TogglePin(id)
	return pinned, s.gesture("pin", id, err)
}

// SetFocusMode turns focus mode on or off.
func (s *Service) SetFocusMode(on bool) error {
	return s.gesture("focus", fmt.Sprint(on), s.engine.SetFocusMode(on))
}

// ExpandAll expands every tree with children.
func (s *Service) ExpandAll() error {
	return s.gesture("expand-all", "", s.engine.ExpandAll())
}

// CollapseAll collapses everything but the roots.
func (s *Service) CollapseAll() error {
	return s.gesture("collapse-all", "", s.engine.CollapseAll())
}

// RevealPath expands the ancestors of id.
func (s *Service) RevealPath(id string) error {
	return s.gesture("reveal", id, s.engine.RevealPath(id))
}

func (s *Service) gesture(name, id string, err error) error {
	if err != nil {
		return err
	}
	if s.pub != nil {
		s.pub.PublishViewUpdated(name, id)
	}
	return nil
}

// RequestRename rewrites the \title line of the tree's source and refreshes
// the forest so the graph picks up the new title.
func (s *Service) RequestRename(ctx context.Context, uri, title string) (*TreeDetail, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("forestservice: rename: title is empty")
	}
	forest := s.cache.Read(ctx, false, true)
	t, ok := forest.Lookup(uri)
	if !ok {
		return nil, fmt.Errorf("forestservice: rename %q: %w", uri, apperr.ErrNotFound)
	}
	if t.SourcePath == "" {
		return nil, fmt.Errorf("forestservice: rename %q: tree has no source file: %w", uri, apperr.ErrNotFound)
	}

	data, err := s.store.Read(t.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("forestservice: rename %q: %w", uri, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("forestservice: rename %q: %w", uri, err)
	}
	updated, replaced := parser.SetTitle(data, title)
	if err := s.store.Write(t.SourcePath, updated); err != nil {
		return nil, fmt.Errorf("forestservice: rename %q: %w", uri, err)
	}
	s.logger.Info("forestservice: renamed tree",
		slog.String("uri", uri),
		slog.String("path", t.SourcePath),
		slog.Bool("replaced", replaced))

	s.cache.Invalidate(ctx)
	return s.Tree(ctx, uri)
}
