// Package ratelimit provides a local token bucket for outbound RPC calls,
// smoothing request bursts before the provider throttles them for us.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/veldtlabs/market-indexer/internal/metrics"
	"golang.org/x/time/rate"
)

type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows rps requests per second with a burst of burst tokens.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks until the limiter allows one event, or ctx is done.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.RPCRateLimitWaits.Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}
