// Package forestcache owns the in-memory Forest snapshot. It coalesces
// concurrent requests into a single in-flight fetch, bounds every fetch with
// a hard timeout, and falls back to older data when the source fails.
package forestcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/arbor/internal/metrics"
	"github.com/starford/arbor/internal/models"
)

// DefaultTimeout bounds a single adapter call.
const DefaultTimeout = 30 * time.Second

// Adapter produces forests. FetchForest must honour ctx cancellation.
type Adapter interface {
	FetchForest(ctx context.Context) (models.Forest, error)
	ReadBuildArtifact(ctx context.Context) (models.Forest, bool)
}

// Option configures a Cache.
type Option func(*Cache)

// WithTimeout sets the hard timeout for adapter calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// flight is one fetch. done is closed once forest is final.
type flight struct {
	id     string
	seq    uint64
	done   chan struct{}
	forest models.Forest
}

// Cache is the single owner of the current Forest snapshot.
//
// The mutex guards the three cells (inFlight, lastGood, status) and is never
// held across an adapter call; callers wait on a flight's done channel.
type Cache struct {
	adapter Adapter
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	inFlight   *flight
	lastFlight *flight
	lastGood   models.Forest
	hasGood    bool
	status     Status
	started    uint64
	subs       map[int]func(models.Forest)
	nextSub    int
	closed     bool

	notifyMu    sync.Mutex
	notifiedSeq uint64

	wg sync.WaitGroup
}

// New creates a cache over adapter. Nothing is fetched until the first Read.
func New(adapter Adapter, opts ...Option) *Cache {
	c := &Cache{
		adapter: adapter,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		subs:    make(map[int]func(models.Forest)),
		status:  Status{State: StateInvalid, Reason: "not loaded"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns a forest. It never fails: source errors are absorbed by the
// fallback chain and reported through Status.
//
//   - forceReload=false, a fetch in flight, allowStale=false: join that fetch.
//   - forceReload=false and a cached forest exists (with allowStale, or when
//     nothing is in flight): return the cached forest without starting work.
//   - otherwise start one fetch, or join the one in flight, and return its result.
//
// A forced read that finds a fetch already in flight waits for it and then
// requires a fetch that started after the request; concurrent forced reads
// share that second fetch.
func (c *Cache) Read(ctx context.Context, forceReload, allowStale bool) models.Forest {
	c.mu.Lock()
	if forceReload {
		return c.forcedLocked(ctx)
	}

	if f := c.inFlight; f != nil && !allowStale {
		c.mu.Unlock()
		<-f.done
		return f.forest
	}
	if c.hasGood {
		good := c.lastGood
		c.mu.Unlock()
		return good
	}
	if f := c.inFlight; f != nil {
		// No cached forest to serve stale; one fetch at a time.
		c.mu.Unlock()
		<-f.done
		return f.forest
	}
	if c.closed {
		return c.closedReadLocked()
	}
	f := c.startLocked()
	c.mu.Unlock()
	return c.run(ctx, f)
}

// closedReadLocked serves a read after Close without starting a fetch. It
// runs with c.mu held and releases it.
func (c *Cache) closedReadLocked() models.Forest {
	forest := c.lastGood
	c.mu.Unlock()
	if forest == nil {
		forest = models.Forest{}
	}
	return forest
}

// Invalidate forces a refetch. It is what file-change notifications call.
func (c *Cache) Invalidate(ctx context.Context) models.Forest {
	return c.Read(ctx, true, false)
}

// forcedLocked runs with c.mu held and releases it.
func (c *Cache) forcedLocked(ctx context.Context) models.Forest {
	after := c.started
	for {
		if f := c.inFlight; f != nil {
			c.mu.Unlock()
			<-f.done
			if f.seq > after {
				return f.forest
			}
			c.mu.Lock()
			continue
		}
		if c.started > after && c.lastFlight != nil {
			// Another forced reader already ran a fresh fetch.
			forest := c.lastFlight.forest
			c.mu.Unlock()
			return forest
		}
		if c.closed {
			return c.closedReadLocked()
		}
		f := c.startLocked()
		c.mu.Unlock()
		return c.run(ctx, f)
	}
}

// startLocked publishes a new in-flight fetch. c.mu must be held.
func (c *Cache) startLocked() *flight {
	c.started++
	f := &flight{
		id:   uuid.NewString(),
		seq:  c.started,
		done: make(chan struct{}),
	}
	c.inFlight = f
	c.status = Status{State: StateUpdating, UpdatedAt: time.Now()}
	c.wg.Add(1)
	return f
}

type fetchResult struct {
	forest models.Forest
	err    error
}

// run performs the fetch for f and publishes its result. The caller's
// cancellation is not propagated: joiners always observe the outcome.
func (c *Cache) run(ctx context.Context, f *flight) models.Forest {
	defer c.wg.Done()
	base := context.WithoutCancel(ctx)
	logger := c.logger.With(slog.String("fetch_id", f.id))
	logger.Debug("forestcache: fetch started", slog.Uint64("seq", f.seq))

	start := time.Now()
	forest, err := c.fetch(base)
	metrics.ForestFetchDuration.Observe(time.Since(start).Seconds())

	var (
		status  Status
		newGood bool
	)
	if err == nil {
		metrics.ForestFetchTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		status = Status{State: StateValid, UpdatedAt: time.Now()}
		newGood = true
		logger.Info("forestcache: fetch succeeded",
			slog.Int("trees", forest.Len()),
			slog.Duration("elapsed", time.Since(start)))
	} else {
		metrics.ForestFetchTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		var step string
		forest, step, newGood = c.fallback(base)
		metrics.ForestFallbackTotal.WithLabelValues(step).Inc()

		reason := err.Error()
		switch step {
		case metrics.FallbackCached:
			reason += "; serving cached forest"
		case metrics.FallbackArtifact:
			reason += "; serving build artifact"
		}
		status = Status{State: StateInvalid, Reason: reason, UpdatedAt: time.Now()}
		logger.Warn("forestcache: fetch failed",
			slog.String("error", err.Error()),
			slog.String("fallback", step),
			slog.Int("trees", forest.Len()))
	}

	c.mu.Lock()
	f.forest = forest
	if newGood {
		c.lastGood = forest
		c.hasGood = true
	}
	c.status = status
	if c.inFlight == f {
		c.inFlight = nil
	}
	c.lastFlight = f
	var subs []func(models.Forest)
	if newGood && !c.closed {
		subs = make([]func(models.Forest), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	if newGood {
		c.notify(f.seq, forest, subs)
	}
	close(f.done)
	return forest
}

// fetch calls the adapter under the hard timeout. An adapter that ignores
// cancellation is abandoned when the deadline passes.
func (c *Cache) fetch(ctx context.Context) (models.Forest, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		forest, err := c.adapter.FetchForest(fetchCtx)
		ch <- fetchResult{forest: forest, err: err}
	}()

	var res fetchResult
	select {
	case res = <-ch:
	case <-fetchCtx.Done():
		res = fetchResult{err: fetchCtx.Err()}
	}

	if res.err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("forest query timed out after %s", c.timeout)
		}
		return nil, res.err
	}
	if res.forest == nil {
		res.forest = models.Forest{}
	}
	return res.forest, nil
}

// fallback picks the first available of: the cached forest, a valid build
// artifact, an empty forest. newGood reports whether the result should
// become the cached forest.
func (c *Cache) fallback(ctx context.Context) (forest models.Forest, step string, newGood bool) {
	c.mu.Lock()
	good, hasGood := c.lastGood, c.hasGood
	c.mu.Unlock()

	if hasGood {
		return good, metrics.FallbackCached, false
	}
	if art, ok := c.adapter.ReadBuildArtifact(ctx); ok {
		if art == nil {
			art = models.Forest{}
		}
		return art, metrics.FallbackArtifact, true
	}
	return models.Forest{}, metrics.FallbackEmpty, false
}

// notify delivers forest to subscribers, never out of order.
func (c *Cache) notify(seq uint64, forest models.Forest, subs []func(models.Forest)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.notifiedSeq {
		return
	}
	c.notifiedSeq = seq
	for _, fn := range subs {
		fn(forest)
	}
}

// Subscribe registers fn to be called with every newly cached forest. If a
// forest is already cached fn is called with it before Subscribe returns.
// Callbacks run synchronously on the fetching goroutine and must not wait
// on this cache.
func (c *Cache) Subscribe(fn func(models.Forest)) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	good, hasGood := c.lastGood, c.hasGood
	c.mu.Unlock()

	if hasGood {
		fn(good)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Status returns the current cache status.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close drops all subscribers and waits for an in-flight fetch to finish.
// Later reads return the last good forest and start no fetch.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.subs = make(map[int]func(models.Forest))
	c.mu.Unlock()
	c.wg.Wait()
}
