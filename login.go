package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvoss-dev/authcore/audit"
)

// Login authenticates the user and mints a new token family. Every failure
// that depends on the credential collapses into ErrInvalidCredentials;
// lockout and rate-limit rejections happen before the password is touched
// and disclose only the wait time.
func (e *Engine) Login(ctx context.Context, email, password string) (TokenPair, error) {
	now := e.clk.Now()
	key := normalizeEmail(email)

	if err := e.throttle(ctx, "login", key, e.cfg.RateLimit.LoginLimit, e.cfg.RateLimit.LoginWindow, MetricLoginRateLimited); err != nil {
		return TokenPair{}, err
	}

	status, err := e.lockouts.Status(ctx, key)
	if err != nil {
		return TokenPair{}, fmt.Errorf("login: lockout status: %w", err)
	}
	if status.Locked {
		e.metrics.Inc(MetricAccountLocked)
		e.emit(ctx, audit.Event{
			Type:     audit.TypeLoginFailure,
			Error:    "account locked",
			Metadata: map[string]string{"email": key},
		})
		return TokenPair{}, &LockedError{RetryAfter: status.RetryAfter}
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, e.failLogin(ctx, key, "", "unknown email")
		}
		return TokenPair{}, fmt.Errorf("login: lookup user: %w", err)
	}
	if !user.Active {
		return TokenPair{}, e.failLogin(ctx, key, user.ID, "account inactive")
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return TokenPair{}, fmt.Errorf("login: verify password: %w", err)
	}
	if !ok {
		return TokenPair{}, e.failLogin(ctx, key, user.ID, "wrong password")
	}

	if err := e.lockouts.Reset(ctx, key); err != nil {
		e.log.WarnContext(ctx, "lockout reset failed", "error", err)
	}
	if e.cfg.RateLimit.Enabled && e.limiter != nil {
		if err := e.limiter.Reset(ctx, "login:"+key); err != nil {
			e.log.WarnContext(ctx, "rate reset failed", "error", err)
		}
	}
	e.maybeRehash(ctx, user, password)

	pair, err := e.issueRootPair(ctx, user, deviceFromContext(ctx), now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("login: %w", err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, audit.Event{
		Type:    audit.TypeLoginSuccess,
		UserID:  user.ID,
		Success: true,
	})
	return pair, nil
}

// failLogin records one failed attempt, emits the audit trail, and returns
// the generic credential error. A lockout transition is audited separately
// so reuse-style analysis can see exactly when the account closed.
func (e *Engine) failLogin(ctx context.Context, key, userID, reason string) error {
	e.metrics.Inc(MetricLoginFailure)

	status, err := e.lockouts.RecordFailure(ctx, key)
	if err != nil {
		e.log.WarnContext(ctx, "lockout record failed", "error", err)
	} else if status.Locked {
		e.metrics.Inc(MetricAccountLocked)
		e.emit(ctx, audit.Event{
			Type:   audit.TypeLockout,
			UserID: userID,
			Metadata: map[string]string{
				"email":         key,
				"lockout_count": fmt.Sprintf("%d", status.LockoutCount),
			},
		})
	}

	e.emit(ctx, audit.Event{
		Type:     audit.TypeLoginFailure,
		UserID:   userID,
		Error:    reason,
		Metadata: map[string]string{"email": key},
	})
	return ErrInvalidCredentials
}

// maybeRehash transparently upgrades a stored hash minted with weaker
// costs. Best effort: the login already succeeded.
func (e *Engine) maybeRehash(ctx context.Context, user User, password string) {
	needs, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.log.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
	}
}
