package remote

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how long a single remote query may keep retrying.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      uint64
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy retries five times starting at 200ms, doubling each
// attempt, and gives up after 30 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		MaxRetries:      5,
		MaxElapsed:      30 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = p.MaxElapsed
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Classify decides whether err is worth retrying.
func Classify(err error) (Class, string) {
	if err == nil {
		return ClassTerminal, "nil_error"
	}
	if errors.Is(err, context.Canceled) {
		return ClassTerminal, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient, "context_deadline_exceeded"
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case CodeHeightPruned, CodeHeightInFuture, CodeInvalidParams, CodeMethodNotFound:
			return ClassTerminal, "jsonrpc_terminal"
		case CodeInternal, CodeUnavailable:
			return ClassTransient, "jsonrpc_server_transient"
		}
		if rpcErr.Code <= -32000 && rpcErr.Code >= -32099 {
			return ClassTransient, "jsonrpc_server_range"
		}
		return ClassTerminal, "jsonrpc_terminal"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient, "net_timeout"
	}

	lower := strings.ToLower(err.Error())
	for _, token := range transientMessageTokens {
		if strings.Contains(lower, token) {
			return ClassTransient, "message_transient"
		}
	}
	return ClassTerminal, "unknown_terminal_default"
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"too many requests",
	"http status 429",
	"http status 502",
	"http status 503",
	"http status 504",
}
