// Package lockout tracks failed login attempts per user and locks the
// account after a threshold. Lockout durations escalate: each repeat
// lockout doubles the previous one up to a cap. While locked, callers
// must reject authentication before touching the password at all, and
// may disclose only the remaining seconds.
package lockout

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps tracker backend transport failures.
var ErrUnavailable = errors.New("lockout backend unavailable")

// Config tunes the lockout policy.
type Config struct {
	// Threshold is the number of consecutive failures that triggers a lockout.
	Threshold int
	// BaseDuration is the first lockout duration.
	BaseDuration time.Duration
	// MaxDuration caps the escalation. Zero means no cap.
	MaxDuration time.Duration
}

// DefaultConfig returns a moderate policy: five failures, fifteen minutes,
// doubling up to a day.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		BaseDuration: 15 * time.Minute,
		MaxDuration:  24 * time.Hour,
	}
}

// Status is the lockout state of a user at a point in time.
type Status struct {
	// Locked reports whether authentication must be rejected right now.
	Locked bool
	// RetryAfter is the remaining lockout time. Zero when not locked.
	RetryAfter time.Duration
	// Failures is the consecutive failure count in the current round.
	Failures int
	// LockoutCount is how many times the user has ever been locked.
	LockoutCount int
}

// Tracker is the lockout port. Implementations must make RecordFailure
// atomic per user so concurrent failures cannot skip the threshold.
type Tracker interface {
	// Status inspects the state without mutating it.
	Status(ctx context.Context, userID string) (Status, error)
	// RecordFailure counts one failed attempt and triggers a lockout when
	// the threshold is crossed. Returns the state after the failure.
	RecordFailure(ctx context.Context, userID string) (Status, error)
	// Reset clears the failure counter after a successful login.
	Reset(ctx context.Context, userID string) error
}

// escalate computes the lockout duration for the n-th lockout (1-based).
func (c Config) escalate(lockoutCount int) time.Duration {
	d := c.BaseDuration
	for i := 1; i < lockoutCount; i++ {
		d *= 2
		if c.MaxDuration > 0 && d >= c.MaxDuration {
			return c.MaxDuration
		}
	}
	if c.MaxDuration > 0 && d > c.MaxDuration {
		return c.MaxDuration
	}
	return d
}
