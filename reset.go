package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kvoss-dev/authcore/audit"
	"github.com/kvoss-dev/authcore/credential"
	"github.com/kvoss-dev/authcore/jwt"
	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

// ResetRequest is the outcome of RequestReset. Token is empty when the
// email matched no eligible account; callers must respond identically in
// both cases and deliver the token out of band when present.
type ResetRequest struct {
	Token     string
	ExpiresAt time.Time
}

// RequestReset mints a single-use password-reset token for the account
// behind email. Requesting a new token revokes any reset token still
// active for the user, so at most one is live at a time. An unknown or
// inactive account yields an empty result and a nil error: the caller
// cannot tell the difference, only the audit trail can.
func (e *Engine) RequestReset(ctx context.Context, email string) (ResetRequest, error) {
	now := e.clk.Now()
	key := normalizeEmail(email)

	if err := e.throttle(ctx, "reset", key, e.cfg.RateLimit.ResetLimit, e.cfg.RateLimit.ResetWindow, MetricResetRateLimited); err != nil {
		return ResetRequest{}, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emit(ctx, audit.Event{
				Type:     audit.TypeResetRequest,
				Error:    "unknown email",
				Metadata: map[string]string{"email": key},
			})
			return ResetRequest{}, nil
		}
		return ResetRequest{}, fmt.Errorf("reset request: lookup user: %w", err)
	}
	if !user.Active {
		e.emit(ctx, audit.Event{
			Type:   audit.TypeResetRequest,
			UserID: user.ID,
			Error:  "account inactive",
		})
		return ResetRequest{}, nil
	}

	superseded, err := e.resets.RevokeAllByUser(ctx, user.ID, now)
	if err != nil {
		return ResetRequest{}, fmt.Errorf("reset request: supersede: %w", err)
	}

	id := uuid.NewString()
	raw, err := e.codec.Issue(jwt.Claims{
		Purpose: jwt.PurposeReset,
		UserID:  user.ID,
		TokenID: id,
	}, now, e.cfg.Token.ResetTTL)
	if err != nil {
		return ResetRequest{}, fmt.Errorf("reset request: issue: %w", err)
	}

	record := token.NewReset(id, user.ID, user.Email, token.HashValue(raw), now, e.cfg.Token.ResetTTL)
	if err := e.resets.Save(ctx, record); err != nil {
		return ResetRequest{}, fmt.Errorf("reset request: save: %w", err)
	}

	e.metrics.Inc(MetricResetRequested)
	e.emit(ctx, audit.Event{
		Type:     audit.TypeResetRequest,
		UserID:   user.ID,
		TokenID:  id,
		Success:  true,
		Metadata: map[string]string{"superseded": fmt.Sprintf("%d", superseded)},
	})
	return ResetRequest{Token: raw, ExpiresAt: record.ExpiresAt()}, nil
}

// ConfirmReset consumes a reset token and installs the new password.
// Exactly one confirmation of a given token can ever succeed; the winner
// also revokes every live refresh token of the user and clears any lockout,
// since the legitimate owner just proved control of the account.
func (e *Engine) ConfirmReset(ctx context.Context, rawToken, newPassword string) error {
	now := e.clk.Now()

	claims, err := e.codec.Verify(rawToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return e.failConfirm(ctx, "", "", "token expired", ErrTokenExpired)
		}
		return e.failConfirm(ctx, "", "", "token rejected", ErrTokenInvalid)
	}
	if claims.Purpose != jwt.PurposeReset {
		return e.failConfirm(ctx, claims.UserID, claims.TokenID, "wrong purpose", ErrTokenInvalid)
	}

	record, err := e.resets.FindByHash(ctx, token.HashValue(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failConfirm(ctx, claims.UserID, claims.TokenID, "unknown token", ErrTokenInvalid)
		}
		return fmt.Errorf("reset confirm: lookup: %w", err)
	}
	if record.ID() != claims.TokenID || record.UserID() != claims.UserID {
		return e.failConfirm(ctx, claims.UserID, claims.TokenID, "claims mismatch", ErrTokenInvalid)
	}

	switch record.Status() {
	case token.ResetUsed:
		return e.failConfirm(ctx, record.UserID(), record.ID(), "token already used", ErrTokenAlreadyUsed)
	case token.ResetRevoked:
		return e.failConfirm(ctx, record.UserID(), record.ID(), "token superseded", ErrTokenInvalid)
	}
	if record.IsExpired(now) {
		return e.failConfirm(ctx, record.UserID(), record.ID(), "token expired", ErrTokenExpired)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, credential.ErrWeakPassword) {
			return e.failConfirm(ctx, record.UserID(), record.ID(), "weak password", ErrWeakCredential)
		}
		return fmt.Errorf("reset confirm: hash: %w", err)
	}

	// Consume the token before touching the password so a concurrent
	// confirmation cannot apply a second new password.
	won, err := e.resets.MarkUsed(ctx, record.ID(), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failConfirm(ctx, record.UserID(), record.ID(), "unknown token", ErrTokenInvalid)
		}
		return fmt.Errorf("reset confirm: consume: %w", err)
	}
	if !won {
		return e.failConfirm(ctx, record.UserID(), record.ID(), "token already used", ErrTokenAlreadyUsed)
	}

	if err := e.users.UpdatePasswordHash(ctx, record.UserID(), hash); err != nil {
		return fmt.Errorf("reset confirm: update password: %w", err)
	}

	if revoked, err := e.refresh.RevokeAllByUser(ctx, record.UserID(), now); err != nil {
		e.log.ErrorContext(ctx, "session revocation after reset failed",
			"user_id", record.UserID(), "error", err)
	} else if revoked > 0 {
		e.metrics.Add(MetricFamilyRevoked, uint64(revoked))
	}
	if err := e.lockouts.Reset(ctx, normalizeEmail(record.Email())); err != nil {
		e.log.WarnContext(ctx, "lockout reset after password reset failed", "error", err)
	}

	e.metrics.Inc(MetricResetConfirmSuccess)
	e.emit(ctx, audit.Event{
		Type:    audit.TypeResetConfirm,
		UserID:  record.UserID(),
		TokenID: record.ID(),
		Success: true,
	})
	return nil
}

func (e *Engine) failConfirm(ctx context.Context, userID, tokenID, reason string, kind error) error {
	e.metrics.Inc(MetricResetConfirmFailure)
	e.emit(ctx, audit.Event{
		Type:    audit.TypeResetConfirm,
		UserID:  userID,
		TokenID: tokenID,
		Error:   reason,
	})
	return kind
}
