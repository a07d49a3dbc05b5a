package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvoss-dev/authcore/audit"
	"github.com/kvoss-dev/authcore/jwt"
	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

// Logout revokes the presented refresh token. The access token stays valid
// until its own expiry; it is stateless and cannot be recalled. Revoking a
// token twice returns ErrTokenRevoked.
func (e *Engine) Logout(ctx context.Context, rawRefresh string) error {
	now := e.clk.Now()

	claims, err := e.codec.Verify(rawRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if claims.Purpose != jwt.PurposeRefresh {
		return ErrTokenInvalid
	}

	record, err := e.refresh.FindByHash(ctx, token.HashValue(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("logout: lookup: %w", err)
	}
	if record.ID() != claims.TokenID || record.UserID() != claims.UserID {
		return ErrTokenInvalid
	}
	if record.Status() == token.RefreshRevoked {
		return ErrTokenRevoked
	}

	won, err := e.refresh.MarkRevoked(ctx, record.ID(), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("logout: revoke: %w", err)
	}
	if !won {
		return ErrTokenRevoked
	}

	e.metrics.Inc(MetricLogout)
	e.emit(ctx, audit.Event{
		Type:     audit.TypeLogout,
		UserID:   record.UserID(),
		TokenID:  record.ID(),
		FamilyID: record.FamilyID(),
		Success:  true,
	})
	return nil
}

// LogoutAll revokes every live refresh token of the user across all
// families and devices. Returns how many tokens were revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	now := e.clk.Now()

	revoked, err := e.refresh.RevokeAllByUser(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("logout all: %w", err)
	}

	e.metrics.Inc(MetricLogoutAll)
	e.emit(ctx, audit.Event{
		Type:     audit.TypeLogoutAll,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"revoked": fmt.Sprintf("%d", revoked)},
	})
	return revoked, nil
}
