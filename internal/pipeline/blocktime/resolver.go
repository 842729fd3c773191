// Package blocktime resolves block numbers to timestamps with caching,
// in-flight deduplication, and a hard cap on concurrent RPC calls.
package blocktime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/pipeline/retry"
)

const (
	defaultConcurrency = 2
	defaultMaxRetries  = 5
	defaultCacheSize   = 50000

	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// BlockReader is the slice of the RPC client the resolver needs.
type BlockReader interface {
	GetBlockByNumber(ctx context.Context, blockNumber int64) (*rpc.Block, error)
}

type inflightCall struct {
	done chan struct{}
	ts   time.Time
	err  error
}

// Resolver maps block numbers to timestamps. Hits are served from a bounded
// map cache; concurrent misses for the same block collapse into one RPC
// call whose result every waiter shares.
type Resolver struct {
	client  BlockReader
	logger  *slog.Logger
	sem     *semaphore.Weighted
	retries int

	maxCacheSize int

	mu       sync.Mutex
	cache    map[int64]time.Time
	inflight map[int64]*inflightCall

	// sleepFn is swapped in tests to avoid real backoff waits.
	sleepFn func(ctx context.Context, d time.Duration) error
}

type Option func(*Resolver)

func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.retries = n
		}
	}
}

func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxCacheSize = n
		}
	}
}

func NewResolver(client BlockReader, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:       client,
		logger:       logger.With("component", "blocktime"),
		sem:          semaphore.NewWeighted(defaultConcurrency),
		retries:      defaultMaxRetries,
		maxCacheSize: defaultCacheSize,
		cache:        make(map[int64]time.Time),
		inflight:     make(map[int64]*inflightCall),
		sleepFn:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the timestamp of the given block. Errors are returned to
// every caller waiting on the same block; failed lookups are not cached, so
// a later call retries from scratch.
func (r *Resolver) Resolve(ctx context.Context, blockNumber int64) (time.Time, error) {
	r.mu.Lock()
	if ts, ok := r.cache[blockNumber]; ok {
		r.mu.Unlock()
		metrics.BlockTimeCacheHits.Inc()
		return ts, nil
	}
	if call, ok := r.inflight[blockNumber]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.ts, call.err
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	r.inflight[blockNumber] = call
	r.mu.Unlock()

	metrics.BlockTimeCacheMisses.Inc()
	ts, err := r.fetch(ctx, blockNumber)
	call.ts, call.err = ts, err
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, blockNumber)
	if err == nil {
		r.cachePut(blockNumber, ts)
	}
	r.mu.Unlock()

	return ts, err
}

// cachePut inserts under r.mu. When the cache is full it is cleared
// wholesale rather than evicted entry by entry: block lookups cluster near
// the scan cursor, so old entries go cold together.
func (r *Resolver) cachePut(blockNumber int64, ts time.Time) {
	if len(r.cache) >= r.maxCacheSize {
		r.cache = make(map[int64]time.Time)
	}
	r.cache[blockNumber] = ts
}

func (r *Resolver) fetch(ctx context.Context, blockNumber int64) (time.Time, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return time.Time{}, err
	}
	defer r.sem.Release(1)

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			metrics.BlockTimeRetries.Inc()
			if err := r.sleepFn(ctx, backoff); err != nil {
				return time.Time{}, err
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		metrics.BlockTimeRPCCalls.Inc()
		block, err := r.client.GetBlockByNumber(ctx, blockNumber)
		if err == nil {
			if block == nil {
				return time.Time{}, fmt.Errorf("block %d not found", blockNumber)
			}
			sec, perr := rpc.ParseHexInt64(block.Timestamp)
			if perr != nil {
				return time.Time{}, fmt.Errorf("block %d timestamp: %w", blockNumber, perr)
			}
			return time.Unix(sec, 0).UTC(), nil
		}

		lastErr = err
		decision := retry.Classify(err)
		if !decision.IsRetryable() {
			return time.Time{}, fmt.Errorf("get block %d: %w", blockNumber, err)
		}
		r.logger.Warn("block lookup throttled, backing off",
			"block", blockNumber,
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", err)
	}
	return time.Time{}, fmt.Errorf("get block %d: retries exhausted: %w", blockNumber, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
