package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kvoss-dev/authcore/audit"
	"github.com/kvoss-dev/authcore/jwt"
	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

// Refresh rotates a refresh token: the presented token is retired and a
// successor in the same family is returned together with a new access
// token. Presenting a token that was already rotated or revoked is treated
// as theft: the whole family is revoked and the caller gets the same
// generic rejection as for a malformed token.
func (e *Engine) Refresh(ctx context.Context, rawRefresh string) (TokenPair, error) {
	now := e.clk.Now()

	claims, err := e.codec.Verify(rawRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return TokenPair{}, e.failRefresh(ctx, "", "", "token expired", ErrTokenExpired)
		}
		return TokenPair{}, e.failRefresh(ctx, "", "", "token rejected", ErrTokenInvalid)
	}
	if claims.Purpose != jwt.PurposeRefresh {
		return TokenPair{}, e.failRefresh(ctx, claims.UserID, claims.TokenID, "wrong purpose", ErrTokenInvalid)
	}

	if err := e.throttle(ctx, "refresh", claims.UserID, e.cfg.RateLimit.RefreshLimit, e.cfg.RateLimit.RefreshWindow, MetricRefreshRateLimited); err != nil {
		return TokenPair{}, err
	}

	record, err := e.refresh.FindByHash(ctx, token.HashValue(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, e.failRefresh(ctx, claims.UserID, claims.TokenID, "unknown token", ErrTokenInvalid)
		}
		return TokenPair{}, fmt.Errorf("refresh: lookup: %w", err)
	}
	// A valid signature with mismatched identity means the stored record and
	// the signed value have diverged; reject without touching the family.
	if record.ID() != claims.TokenID || record.UserID() != claims.UserID {
		return TokenPair{}, e.failRefresh(ctx, claims.UserID, claims.TokenID, "claims mismatch", ErrTokenInvalid)
	}

	if record.Status() != token.RefreshActive {
		return TokenPair{}, e.handleReuse(ctx, record, now)
	}
	if record.IsExpired(now) {
		return TokenPair{}, e.failRefresh(ctx, record.UserID(), record.ID(), "token expired", ErrTokenExpired)
	}

	won, err := e.refresh.MarkRotated(ctx, record.ID(), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, e.failRefresh(ctx, record.UserID(), record.ID(), "unknown token", ErrTokenInvalid)
		}
		return TokenPair{}, fmt.Errorf("refresh: rotate: %w", err)
	}
	if !won {
		// Lost the rotation race: someone else presented this exact token
		// concurrently. Indistinguishable from replay, so same response.
		return TokenPair{}, e.handleReuse(ctx, record, now)
	}

	email := ""
	if user, err := e.users.GetUserByID(ctx, record.UserID()); err == nil {
		email = user.Email
	}

	pair, err := e.issueChildPair(ctx, record, email, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emit(ctx, audit.Event{
		Type:     audit.TypeRefreshOK,
		UserID:   record.UserID(),
		TokenID:  record.ID(),
		FamilyID: record.FamilyID(),
		Success:  true,
	})
	return pair, nil
}

// handleReuse revokes the full family of a replayed token. The response is
// the generic invalid-token error; the detail lives in the audit trail.
func (e *Engine) handleReuse(ctx context.Context, record token.RefreshToken, now time.Time) error {
	revoked, err := e.refresh.RevokeFamily(ctx, record.FamilyID(), now)
	if err != nil {
		e.log.ErrorContext(ctx, "family revocation failed",
			"family_id", record.FamilyID(), "error", err)
	}

	e.metrics.Inc(MetricRefreshReuseDetected)
	e.metrics.Inc(MetricFamilyRevoked)
	e.metrics.Inc(MetricRefreshFailure)
	e.emit(ctx, audit.Event{
		Type:     audit.TypeRefreshReuse,
		UserID:   record.UserID(),
		TokenID:  record.ID(),
		FamilyID: record.FamilyID(),
		Error:    fmt.Sprintf("token in state %s presented again", record.Status()),
		Metadata: map[string]string{"revoked": fmt.Sprintf("%d", revoked)},
	})
	return ErrTokenInvalid
}

func (e *Engine) failRefresh(ctx context.Context, userID, tokenID, reason string, kind error) error {
	e.metrics.Inc(MetricRefreshFailure)
	e.emit(ctx, audit.Event{
		Type:    audit.TypeRefreshFailed,
		UserID:  userID,
		TokenID: tokenID,
		Error:   reason,
	})
	return kind
}
