package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassTerminal},
		{"context canceled", context.Canceled, ClassTerminal},
		{"context deadline", context.DeadlineExceeded, ClassRateLimited},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassRateLimited},
		{"explicit rate limited", RateLimited(errors.New("anything")), ClassRateLimited},
		{"explicit terminal", Terminal(errors.New("too many requests")), ClassTerminal},
		{"message 429", errors.New("HTTP status 429 too many requests"), ClassRateLimited},
		{"message rate limit", errors.New("rate limit exceeded"), ClassRateLimited},
		{"message connection reset", errors.New("read tcp: connection reset by peer"), ClassRateLimited},
		{"message timeout", errors.New("request timed out"), ClassRateLimited},
		{"range too many results", errors.New("query returned more than 10000 results"), ClassRangeTooLarge},
		{"range block range", errors.New("block range is too wide"), ClassRangeTooLarge},
		{"range response size", errors.New("response size exceeded limit"), ClassRangeTooLarge},
		{"unknown", errors.New("something odd"), ClassTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Class)
		})
	}
}

func TestClassify_JSONRPCCodes(t *testing.T) {
	tests := []struct {
		code    int
		message string
		want    Class
	}{
		{-32005, "limit exceeded", ClassRateLimited},
		{-32603, "internal error", ClassRateLimited},
		{-32000, "server error", ClassRateLimited},
		{-32099, "server error", ClassRateLimited},
		{-32602, "invalid params", ClassTerminal},
		{-32601, "method not found", ClassTerminal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			err := fmt.Errorf("getLogs: %w", &rpc.Error{Code: tt.code, Message: tt.message})
			assert.Equal(t, tt.want, Classify(err).Class)
		})
	}
}

func TestClassify_RangeMessageWinsOverThrottleCode(t *testing.T) {
	// Some providers reject oversized windows with a throttle code; the
	// message decides.
	err := &rpc.Error{Code: -32005, Message: "block range too large"}
	assert.Equal(t, ClassRangeTooLarge, Classify(err).Class)
}

func TestDecision_IsRetryable(t *testing.T) {
	assert.True(t, Decision{Class: ClassRateLimited}.IsRetryable())
	assert.False(t, Decision{Class: ClassRangeTooLarge}.IsRetryable())
	assert.False(t, Decision{Class: ClassTerminal}.IsRetryable())
}

func TestClassifiedError_PreservesMessageAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := RateLimited(inner)
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
