// Package rate implements fixed-window rate limiting keyed by arbitrary
// strings (IP, user id, email). The window is anchored at the first
// increment and expires wholesale; there is no partial carry-over.
//
// Check is deliberately read-only so callers can inspect the budget
// without spending it. The caller increments only when the request is
// allowed to proceed.
package rate

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps limiter backend transport failures.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Result is the outcome of a non-mutating Check.
type Result struct {
	// Allowed reports whether one more request fits in the current window.
	Allowed bool
	// Remaining is how many requests are left before the limit, floored at zero.
	Remaining int
	// RetryAfter is how long until the window resets. Zero when Allowed.
	RetryAfter time.Duration
	// ResetAt is when the current window ends. Zero when no window is live.
	ResetAt time.Time
}

// Limiter is the rate-limiting port. Increments must be atomic per key;
// distinct keys are fully independent.
type Limiter interface {
	// Check inspects the budget for key without mutating any state.
	Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	// Increment records one request against key, starting a new window if
	// none is live. Returns the count within the current window.
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
	// Cleanup removes elapsed windows and returns how many were dropped.
	Cleanup(ctx context.Context) (int, error)
}
