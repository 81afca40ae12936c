// Package dispatch sends validated action batches to the external executor
// exactly once per run, with bounded retries and an idempotency guard.
package dispatch

import (
	"errors"
	"net"
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed attempt may be retried and how long to
// wait before the next one. Value object, safe to copy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Retryable reports whether the outcome warrants another attempt: transport
// errors, 429 and 5xx are transient; everything else is final. A 4xx other
// than 429 means the request itself is wrong and will never succeed.
func (p RetryPolicy) Retryable(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		// Connection-level failures surface as plain url.Error wrappers.
		return status == 0
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

// Delay returns the exponential backoff before the given attempt (1-based):
// base, 2*base, 4*base, ...
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	return p.BaseDelay << (attempt - 1)
}

// Exhausted reports whether attempt was the last allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
