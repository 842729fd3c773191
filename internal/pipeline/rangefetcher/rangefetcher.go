// Package rangefetcher scans a block range for logs in adaptively sized
// windows, tuning the window under rate-limit, timeout, and range-rejection
// pressure from the RPC provider.
package rangefetcher

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/pipeline/retry"
)

const (
	defaultSpanInit = 2000
	defaultSpanMax  = 10000
	defaultSpanMin  = 10

	// When the provider rejects a window outright, the cap collapses to
	// this for the remainder of the process.
	rejectedSpanCap = 10

	jitterFloor = 400 * time.Millisecond
	jitterSpan  = 400 * time.Millisecond
)

// LogSource is the slice of the RPC client the fetcher needs.
type LogSource interface {
	GetLogs(ctx context.Context, filter rpc.LogFilter) ([]*rpc.Log, error)
}

// Batch is one served window of logs, [FromBlock, ToBlock] inclusive.
type Batch struct {
	FromBlock int64
	ToBlock   int64
	Logs      []*rpc.Log
}

// Fetcher walks [fromBlock, toBlock] in windows of `span` blocks. Success
// grows the span multiplicatively; throttling halves it and retries the same
// window; a range rejection permanently caps it; any other error sacrifices
// one block so the scan never stalls. Span state survives across Fetch
// calls, so consecutive sync passes keep the tuned size.
type Fetcher struct {
	source LogSource
	logger *slog.Logger

	spanMin int64
	span    int64
	spanCap int64

	// injected in tests
	sleepFn  func(ctx context.Context, d time.Duration) error
	jitterFn func() time.Duration
}

type Option func(*Fetcher)

func WithSpanBounds(initial, min, max int64) Option {
	return func(f *Fetcher) {
		if initial > 0 {
			f.span = initial
		}
		if min > 0 {
			f.spanMin = min
		}
		if max > 0 {
			f.spanCap = max
		}
	}
}

func New(source LogSource, logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:  source,
		logger:  logger.With("component", "rangefetcher"),
		spanMin: defaultSpanMin,
		span:    defaultSpanInit,
		spanCap: defaultSpanMax,
		sleepFn: sleepContext,
		jitterFn: func() time.Duration {
			return jitterFloor + time.Duration(rand.Int63n(int64(jitterSpan)))
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.span > f.spanCap {
		f.span = f.spanCap
	}
	if f.span < f.spanMin {
		f.span = f.spanMin
	}
	return f
}

// Span reports the current window size, for observability.
func (f *Fetcher) Span() int64 {
	return f.span
}

// Fetch scans [fromBlock, toBlock] inclusive and calls emit once per served
// window, in ascending block order. The cursor only moves forward; emit
// errors abort the scan.
func (f *Fetcher) Fetch(ctx context.Context, fromBlock, toBlock int64, addresses []string, topics [][]string, emit func(Batch) error) error {
	cursor := fromBlock
	for cursor <= toBlock {
		if err := ctx.Err(); err != nil {
			return err
		}

		to := cursor + f.span - 1
		if to > toBlock {
			to = toBlock
		}
		metrics.FetcherSpan.Set(float64(f.span))

		logs, err := f.source.GetLogs(ctx, rpc.LogFilter{
			FromBlock: rpc.FormatHexInt64(cursor),
			ToBlock:   rpc.FormatHexInt64(to),
			Address:   addresses,
			Topics:    topics,
		})
		if err == nil {
			metrics.FetcherBatchesServed.Inc()
			metrics.FetcherLogsFetched.Add(float64(len(logs)))
			if err := emit(Batch{FromBlock: cursor, ToBlock: to, Logs: logs}); err != nil {
				return err
			}
			cursor = to + 1
			f.grow()
			continue
		}

		decision := retry.Classify(err)
		metrics.FetcherErrors.WithLabelValues(string(decision.Class)).Inc()

		switch decision.Class {
		case retry.ClassRangeTooLarge:
			if f.spanCap > rejectedSpanCap {
				f.logger.Warn("provider rejected window size, capping span",
					"from", cursor, "to", to, "new_cap", int64(rejectedSpanCap))
				f.spanCap = rejectedSpanCap
			}
			fallthrough
		case retry.ClassRateLimited:
			f.shrink()
			f.logger.Warn("window throttled, retrying",
				"from", cursor, "to", to, "span", f.span, "reason", decision.Reason, "error", err)
			if serr := f.sleepFn(ctx, f.jitterFn()); serr != nil {
				return serr
			}
			// cursor unchanged: same window next iteration
		default:
			// Sacrifice one block rather than stall the whole scan on a
			// poison window.
			f.logger.Error("window failed, skipping one block",
				"block", cursor, "reason", decision.Reason, "error", err)
			metrics.FetcherSkippedBlocks.Inc()
			cursor++
			f.shrink()
		}
	}
	return nil
}

// grow raises the span by 25% after a window succeeds, so throughput
// recovers multiplicatively once the provider stops pushing back.
func (f *Fetcher) grow() {
	f.span = f.span * 5 / 4
	if f.span > f.spanCap {
		f.span = f.spanCap
	}
}

func (f *Fetcher) shrink() {
	f.span /= 2
	if f.span < f.spanMin {
		f.span = f.spanMin
	}
	if f.span > f.spanCap {
		f.span = f.spanCap
	}
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
