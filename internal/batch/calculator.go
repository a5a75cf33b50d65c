// Package batch computes sub-satellite positions for the background mass of
// satellites sharing a frame, deduplicating propagator work through a compiled
// handle cache and a short-lived position TTL cache.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/orbview/orbview/internal/metrics"
	"github.com/orbview/orbview/internal/propagation"
)

// DefaultTTL is how long a cached position stays fresh. It balances freshness
// against recomputation cost for satellites not actively focused on.
const DefaultTTL = 2 * time.Second

// Request asks for one satellite's current position. SkipCache forces a fresh
// propagator evaluation; it is set for the satellite under active tracking,
// whose display position must never come from a stale cache entry.
type Request struct {
	ID        string
	Line1     string
	Line2     string
	SkipCache bool
}

// Result is one satellite's computed (or cache-served) position.
type Result struct {
	ID         string
	Position   propagation.GeoPosition
	ComputedAt time.Time
}

// Config holds batch calculator settings.
type Config struct {
	TTL     time.Duration // position cache TTL (default 2s)
	Workers int           // propagation workers; <=1 runs sequentially
}

type cachedPosition struct {
	position   propagation.GeoPosition
	computedAt time.Time
}

// Calculator serves CalculateBatch requests against a shared handle cache and
// a per-satellite-ID position cache. Safe for concurrent use.
type Calculator struct {
	handles *propagation.HandleCache
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	positions map[string]cachedPosition

	now func() time.Time // injected for TTL tests
}

// NewCalculator creates a Calculator using the given shared handle cache.
func NewCalculator(handles *propagation.HandleCache, config Config, logger *slog.Logger) *Calculator {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Calculator{
		handles:   handles,
		config:    config,
		logger:    logger,
		positions: make(map[string]cachedPosition),
		now:       time.Now,
	}
}

// CalculateBatch resolves positions for all requests at the current instant.
// Results preserve request order. Requests whose elements fail to compile or
// whose propagation fails are logged and dropped from the result set; a bad
// satellite never aborts the batch.
func (c *Calculator) CalculateBatch(ctx context.Context, requests []Request) []Result {
	if len(requests) == 0 {
		return nil
	}

	now := c.now()
	results := make([]*Result, len(requests))

	// Serve cache hits first; collect the rest for computation.
	var pending []int
	for i, req := range requests {
		if !req.SkipCache {
			if cached, ok := c.lookup(req.ID, now); ok {
				results[i] = &Result{ID: req.ID, Position: cached.position, ComputedAt: cached.computedAt}
				metrics.IncPositionCacheHits()
				continue
			}
			metrics.IncPositionCacheMisses()
		}
		pending = append(pending, i)
	}

	start := time.Now()
	var success, failed int
	if c.config.Workers > 1 && len(pending) > 1 {
		success, failed = c.computeParallel(ctx, requests, results, pending, now)
	} else {
		success, failed = c.computeSequential(ctx, requests, results, pending, now)
	}
	metrics.RecordPropagation(time.Since(start), success, failed)

	out := make([]Result, 0, len(requests))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// lookup returns a cached position if it is still within the TTL.
func (c *Calculator) lookup(id string, now time.Time) (cachedPosition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.positions[id]
	if !ok || now.Sub(cached.computedAt) >= c.config.TTL {
		return cachedPosition{}, false
	}
	return cached, true
}

func (c *Calculator) store(id string, pos propagation.GeoPosition, at time.Time) {
	c.mu.Lock()
	c.positions[id] = cachedPosition{position: pos, computedAt: at}
	c.mu.Unlock()
}

// Invalidate drops the cached position for one satellite. Called when a
// satellite enters tracking so its next batch appearance is recomputed.
func (c *Calculator) Invalidate(id string) {
	c.mu.Lock()
	if _, ok := c.positions[id]; ok {
		delete(c.positions, id)
		metrics.AddPositionCacheEvictions(1)
	}
	c.mu.Unlock()
}

func (c *Calculator) computeSequential(ctx context.Context, requests []Request, results []*Result, pending []int, now time.Time) (success, failed int) {
	for _, i := range pending {
		if ctx.Err() != nil {
			return success, failed
		}
		r, err := c.computeOne(requests[i], now)
		if err != nil {
			c.logFailure(requests[i].ID, err)
			failed++
			continue
		}
		results[i] = r
		success++
	}
	return success, failed
}

// computeParallel fans pending requests over a bounded worker pool. Results
// land in their request slots, so output order matches the sequential path
// exactly; parallelism is a throughput optimization, never a semantic change.
func (c *Calculator) computeParallel(ctx context.Context, requests []Request, results []*Result, pending []int, now time.Time) (success, failed int) {
	jobs := make(chan int, c.config.Workers*2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for w := 0; w < c.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r, err := c.computeOne(requests[i], now)
				mu.Lock()
				if err != nil {
					c.logFailure(requests[i].ID, err)
					failed++
				} else {
					results[i] = r
					success++
				}
				mu.Unlock()
			}
		}()
	}

	for _, i := range pending {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return success, failed
		}
	}
	close(jobs)
	wg.Wait()
	return success, failed
}

func (c *Calculator) computeOne(req Request, now time.Time) (*Result, error) {
	handle, err := c.handles.Get(req.Line1, req.Line2)
	if err != nil {
		return nil, err
	}

	pos, err := handle.Evaluate(now)
	if err != nil {
		return nil, err
	}

	if !req.SkipCache {
		c.store(req.ID, pos, now)
	}
	return &Result{ID: req.ID, Position: pos, ComputedAt: now}, nil
}

func (c *Calculator) logFailure(id string, err error) {
	var invalid *propagation.InvalidElementsError
	var prop *propagation.PropagationError
	switch {
	case errors.As(err, &invalid):
		c.logger.Warn("satellite has invalid elements", "id", id, "error", err)
	case errors.As(err, &prop):
		c.logger.Debug("propagation failed", "id", id, "kind", prop.Kind, "error", err)
	default:
		c.logger.Warn("position calculation failed", "id", id, "error", err)
	}
}
