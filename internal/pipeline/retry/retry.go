package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
)

// Class partitions RPC failures by how the fetch loops must react:
// rate-limited (or timed out) calls are retried against the same window with
// backoff; range-too-large permanently caps the scan span; everything else is
// terminal for that unit of work.
type Class string

const (
	ClassTerminal      Class = "terminal"
	ClassRateLimited   Class = "rate_limited"
	ClassRangeTooLarge Class = "range_too_large"
)

type Decision struct {
	Class  Class
	Reason string
}

// IsRetryable reports whether the same request may be retried as-is after
// backoff. Range-too-large is not retryable as-is: the caller must shrink
// the window first.
func (d Decision) IsRetryable() bool {
	return d.Class == ClassRateLimited
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// RateLimited marks err as explicitly rate-limited, overriding sniffing.
func RateLimited(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassRateLimited, reason: "explicit_rate_limited"}
}

// Terminal marks err as explicitly terminal, overriding sniffing.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

// Classify decides how an RPC error should be handled. Timeouts are treated
// identically to rate limits (spec of the upstream providers gives no way to
// tell a saturated endpoint from a throttled one), and range rejection is
// detected before code-based sniffing because some providers reuse throttle
// codes for it.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassRateLimited, Reason: "context_deadline_exceeded"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassRateLimited, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, rangeTooLargeTokens) {
		return Decision{Class: ClassRangeTooLarge, Reason: "message_range_too_large"}
	}

	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return classifyJSONRPCCode(rpcErr.Code)
	}

	if containsAny(lower, rateLimitedTokens) {
		return Decision{Class: ClassRateLimited, Reason: "message_rate_limited"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyJSONRPCCode(code int) Decision {
	switch code {
	case -32005, -32603:
		return Decision{Class: ClassRateLimited, Reason: "jsonrpc_server_transient"}
	case -32602:
		// Invalid params without range wording in the message: terminal.
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_invalid_params"}
	}
	if code <= -32000 && code >= -32099 {
		return Decision{Class: ClassRateLimited, Reason: "jsonrpc_server_range"}
	}
	return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var rateLimitedTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"too many requests",
	"rate limit",
	"rate-limit",
	"capacity exceeded",
	"http status 429",
	"http status 502",
	"http status 503",
	"http status 504",
	"server closed idle connection",
}

var rangeTooLargeTokens = []string{
	"block range",
	"range too large",
	"range is too wide",
	"too many results",
	"query returned more than",
	"exceed maximum block",
	"response size exceeded",
}
