package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/arbor/internal/forestcache"
	"github.com/starford/arbor/internal/forestservice"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/index"
	"github.com/starford/arbor/internal/source"
	"github.com/starford/arbor/internal/storage"
	"github.com/starford/arbor/internal/watcher"
)

// core is the set of components every command shares.
type core struct {
	store   *storage.FS
	cache   *forestcache.Cache
	db      *index.DB
	svc     *forestservice.Service
	watcher *watcher.Watcher
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout, output: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger installs the structured JSON logger as the default.
func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// buildCore wires storage, forester, cache, index, graph engine and forest
// service. pub may be nil.
func buildCore(cfg *Config, logger *slog.Logger, pub forestservice.Publisher) (*core, error) {
	store, err := storage.NewFS(cfg.Forest.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	foresterOpts := []source.ForesterOption{
		source.WithBinary(cfg.Forest.Binary),
		source.WithLogger(logger),
	}
	if cfg.Forest.Artifact != "" {
		foresterOpts = append(foresterOpts, source.WithArtifactPath(cfg.Forest.Artifact))
	}
	forester, err := source.NewForester(store.Root(), cfg.Forest.Config, foresterOpts...)
	if err != nil {
		return nil, fmt.Errorf("init forester: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	engine, err := graph.NewEngine(db,
		graph.WithMaxPinned(cfg.Graph.MaxPinnedRoots),
		graph.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init graph engine: %w", err)
	}

	cache := forestcache.New(forester,
		forestcache.WithTimeout(cfg.Cache.Timeout),
		forestcache.WithLogger(logger))

	svcOpts := []forestservice.Option{
		forestservice.WithIndex(db),
		forestservice.WithLogger(logger),
	}
	if pub != nil {
		svcOpts = append(svcOpts, forestservice.WithPublisher(pub))
	}
	svc := forestservice.New(cache, engine, store, svcOpts...)
	svc.Start()

	w := watcher.New(store.Root(), cfg.Forest.ConfigPath(), store, watcher.WithLogger(logger))

	return &core{store: store, cache: cache, db: db, svc: svc, watcher: w}, nil
}

// Close stops the service, waits for in-flight fetches and closes the index.
func (c *core) Close() {
	c.svc.Close()
	c.cache.Close()
	if err := c.db.Close(); err != nil {
		slog.Error("index: close failed", slog.String("error", err.Error()))
	}
}
