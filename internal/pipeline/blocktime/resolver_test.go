package blocktime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/pipeline/retry"
)

type fakeBlockReader struct {
	mu    sync.Mutex
	calls int32
	// errs per block number, consumed one per call
	errs map[int64][]error
	slow time.Duration
}

func (f *fakeBlockReader) GetBlockByNumber(ctx context.Context, blockNumber int64) (*rpc.Block, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.slow > 0 {
		select {
		case <-time.After(f.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	if queue := f.errs[blockNumber]; len(queue) > 0 {
		err := queue[0]
		f.errs[blockNumber] = queue[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return &rpc.Block{
		Number:    fmt.Sprintf("0x%x", blockNumber),
		Timestamp: fmt.Sprintf("0x%x", 1_700_000_000+blockNumber),
	}, nil
}

func newTestResolver(reader BlockReader, opts ...Option) *Resolver {
	r := NewResolver(reader, slog.Default(), opts...)
	r.sleepFn = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestResolve_ReturnsBlockTimestamp(t *testing.T) {
	r := newTestResolver(&fakeBlockReader{})

	ts, err := r.Resolve(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_042, 0).UTC(), ts)
}

func TestResolve_SecondCallHitsCache(t *testing.T) {
	reader := &fakeBlockReader{}
	r := newTestResolver(reader)

	_, err := r.Resolve(context.Background(), 7)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
}

func TestResolve_ConcurrentCallsForSameBlockCollapse(t *testing.T) {
	reader := &fakeBlockReader{slow: 50 * time.Millisecond}
	r := newTestResolver(reader)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]time.Time, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts, err := r.Resolve(context.Background(), 99)
			assert.NoError(t, err)
			results[i] = ts
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
	for _, ts := range results {
		assert.Equal(t, results[0], ts)
	}
}

func TestResolve_RetriesRateLimitedThenSucceeds(t *testing.T) {
	reader := &fakeBlockReader{errs: map[int64][]error{
		5: {
			retry.RateLimited(errors.New("rate limit")),
			retry.RateLimited(errors.New("rate limit")),
		},
	}}
	r := newTestResolver(reader, WithMaxRetries(4))

	ts, err := r.Resolve(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ts.IsZero())
	assert.Equal(t, int32(3), atomic.LoadInt32(&reader.calls))
}

func TestResolve_TerminalErrorSurfacesImmediately(t *testing.T) {
	reader := &fakeBlockReader{errs: map[int64][]error{
		5: {retry.Terminal(errors.New("no such block"))},
	}}
	r := newTestResolver(reader, WithMaxRetries(4))

	_, err := r.Resolve(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
}

func TestResolve_RetriesExhaustedIsFatal(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = retry.RateLimited(errors.New("rate limit"))
	}
	reader := &fakeBlockReader{errs: map[int64][]error{5: errs}}
	r := newTestResolver(reader, WithMaxRetries(3))

	_, err := r.Resolve(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, int32(3), atomic.LoadInt32(&reader.calls))
}

func TestResolve_FailedLookupIsNotCached(t *testing.T) {
	reader := &fakeBlockReader{errs: map[int64][]error{
		5: {retry.Terminal(errors.New("boom"))},
	}}
	r := newTestResolver(reader)

	_, err := r.Resolve(context.Background(), 5)
	require.Error(t, err)

	ts, err := r.Resolve(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ts.IsZero())
}

func TestCache_ClearedWholesaleAtCapacity(t *testing.T) {
	r := newTestResolver(&fakeBlockReader{}, WithCacheSize(3))

	for i := int64(1); i <= 4; i++ {
		_, err := r.Resolve(context.Background(), i)
		require.NoError(t, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Hitting capacity wipes the map; only the entry added after the wipe
	// remains.
	assert.Len(t, r.cache, 1)
}
