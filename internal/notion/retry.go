package notion

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy decides whether a failed response is retried and how long to wait.
type RetryPolicy interface {
	ShouldRetry(status, attempt int) bool
	Backoff(attempt int, retryAfter string) time.Duration
}

// LinearRetryPolicy retries rate limiting and server errors with a linearly growing wait.
type LinearRetryPolicy struct {
	MaxRetries int
	Step       time.Duration
}

// NewLinearRetryPolicy builds a policy, substituting defaults for non-positive values.
func NewLinearRetryPolicy(maxRetries int, step time.Duration) *LinearRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if step <= 0 {
		step = time.Second
	}
	return &LinearRetryPolicy{MaxRetries: maxRetries, Step: step}
}

// ShouldRetry reports true for 429 and 5xx while attempts remain.
func (p *LinearRetryPolicy) ShouldRetry(status, attempt int) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// minRetryAfterCap is the least a Retry-After wait may be capped to.
const minRetryAfterCap = time.Minute

// Backoff honours a positive Retry-After value in seconds, otherwise waits
// (attempt+1) steps. Retry-After is capped at MaxWait.
func (p *LinearRetryPolicy) Backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.ParseFloat(strings.TrimSpace(retryAfter), 64); err == nil && secs > 0 {
		limit := p.MaxWait()
		if math.IsInf(secs, 1) || secs >= limit.Seconds() {
			return limit
		}
		return time.Duration(secs * float64(time.Second))
	}
	return time.Duration(attempt+1) * p.Step
}

// MaxWait is the longest single wait: the full linear schedule, at least one minute.
func (p *LinearRetryPolicy) MaxWait() time.Duration {
	return max(time.Duration(p.MaxRetries+1)*p.Step, minRetryAfterCap)
}
