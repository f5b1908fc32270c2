package query

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wesm/github-mirror/internal/api"
)

const (
	// DefaultConcurrency is the number of requests allowed in flight
	DefaultConcurrency = 2
	// DefaultRetries is the number of attempts per round trip
	DefaultRetries = 3
)

// Doer sends raw query text to a GraphQL endpoint
type Doer interface {
	Do(ctx context.Context, query string) (*api.Response, error)
}

// Options tune a Runner
type Options struct {
	Concurrency int
	Retries     int
}

// Stats accumulates rate limit figures across every query a Runner sends
type Stats struct {
	Cost      int
	NodeCount int
	Requests  int
	// Remaining is the lowest remaining budget seen, -1 until a response
	// reports one
	Remaining int
	ResetAt   time.Time
}

// Runner executes queries and drains their continuations. Requests run
// concurrently behind a semaphore; ingestion runs under a single lock.
//
// Retries apply to one round trip at a time. A continuation that runs out
// of retries fails Run without re-sending its parent, whose data has
// already been ingested.
type Runner struct {
	client  Doer
	store   Store
	log     *slog.Logger
	sem     *semaphore.Weighted
	retries int

	ingestMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// NewRunner creates a runner that ingests into store
func NewRunner(client Doer, store Store, log *slog.Logger, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		client:  client,
		store:   store,
		log:     log,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		retries: opts.Retries,
		stats:   Stats{Remaining: -1},
	}
}

// Stats returns the figures accumulated so far
func (r *Runner) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Run executes q and every continuation it spawns. It returns once the
// whole tree has drained, or with the first query that ran out of retries.
func (r *Runner) Run(ctx context.Context, q *Query) error {
	g, ctx := errgroup.WithContext(ctx)
	var spawn func(q *Query)
	spawn = func(q *Query) {
		g.Go(func() error {
			conts, err := r.runOne(ctx, q)
			if err != nil {
				return err
			}
			for _, c := range conts {
				spawn(c)
			}
			return nil
		})
	}
	spawn(q)
	return g.Wait()
}

func (r *Runner) runOne(ctx context.Context, q *Query) ([]*Query, error) {
	text := q.Text()
	if q.Subquery {
		r.log.Debug("running continuation", "query", q.Name, "field", q.Field)
	} else {
		r.log.Info("running query", "query", q.Name)
	}

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		conts, err := r.roundTrip(ctx, q, text)
		if err == nil {
			return conts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		r.log.Warn("query attempt failed", "query", q.Name, "attempt", attempt, "error", err)
	}
	return nil, &Error{Query: q.Name, Attempts: r.retries, Err: lastErr}
}

func (r *Runner) roundTrip(ctx context.Context, q *Query, text string) ([]*Query, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	resp, err := r.client.Do(ctx, text)
	r.sem.Release(1)
	if err != nil {
		return nil, err
	}
	r.record(resp)
	for _, msg := range resp.Tolerated() {
		r.log.Debug("ignoring missing node", "query", q.Name, "message", msg)
	}

	if resp.Data == nil {
		return nil, api.DataShapeError("data")
	}
	container := resp.Data
	if q.Parent != nil {
		raw, ok := resp.Data["node"]
		if !ok {
			return nil, api.DataShapeError("data.node")
		}
		node, _ := raw.(map[string]any)
		if node == nil {
			// parent vanished upstream
			return nil, nil
		}
		container = node
	}
	if !q.Root.inline() {
		if _, ok := container[q.Root.Name()]; !ok {
			return nil, api.DataShapeError(q.Root.Name())
		}
	}

	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()
	ic := &ingestContext{store: r.store, log: r.log}
	return ingestChildren(ic, q.Parent, container, []Element{q.Root}, 0), nil
}

func (r *Runner) record(resp *api.Response) {
	rl, ok := resp.RateLimit()
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats.Requests++
	if !ok {
		return
	}
	r.stats.Cost += rl.Cost
	r.stats.NodeCount += rl.NodeCount
	if r.stats.Remaining < 0 || rl.Remaining < r.stats.Remaining {
		r.stats.Remaining = rl.Remaining
	}
	if rl.ResetAt.After(r.stats.ResetAt) {
		r.stats.ResetAt = rl.ResetAt
	}
}
