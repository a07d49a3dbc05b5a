package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any login failure that must not
	// reveal its cause: unknown email, wrong password, ineligible account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is the generic rejection for malformed, unknown,
	// bad-signature, and reused tokens. Reuse detection is recorded for
	// audit but never distinguished here.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when a structurally valid token is past
	// its expiry instant (the boundary itself counts as expired).
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned on logout paths that target an already
	// revoked token.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenAlreadyUsed is returned when a reset token is confirmed twice.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrWeakCredential is returned when a new password fails policy.
	ErrWeakCredential = errors.New("weak credential")
	// ErrAccountLocked is the kind matched by errors.Is for lockouts; the
	// value returned to callers is a *LockedError carrying the wait time.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is the kind matched by errors.Is for limiter hits; the
	// value returned to callers is a *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
)

// LockedError reports an account lockout. Only the remaining time is
// disclosed; nothing about credential correctness.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %ds", int(e.RetryAfter.Seconds()))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitError reports a rate-limit rejection with the retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", int(e.RetryAfter.Seconds()))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
