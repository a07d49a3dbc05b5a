// Package store defines the persistence ports for refresh and reset tokens.
// Backends live in subpackages (memory, redisstore, postgres). The status
// transition methods are compare-and-swap style: they report whether this
// caller won the transition, so a losing concurrent rotation is observable
// as a reuse event instead of a silent lost update.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kvoss-dev/authcore/token"
)

var (
	// ErrNotFound is returned for unknown hashes and ids. Callers must
	// collapse it with malformed-token failures before responding.
	ErrNotFound = errors.New("token not found")
	// ErrUnavailable wraps backend transport failures.
	ErrUnavailable = errors.New("token store unavailable")
)

// RefreshTokens persists refresh-token records and their family links.
type RefreshTokens interface {
	Save(ctx context.Context, t token.RefreshToken) error
	FindByHash(ctx context.Context, hash [32]byte) (token.RefreshToken, error)
	FindByID(ctx context.Context, id string) (token.RefreshToken, error)

	// MarkRotated transitions id from active to rotated. Returns false when
	// the token was not active: the caller lost the race or is replaying.
	MarkRotated(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkRevoked transitions id to revoked unless already revoked.
	MarkRevoked(ctx context.Context, id string, now time.Time) (bool, error)

	// RevokeFamily revokes every non-revoked token sharing familyID and
	// returns how many rows changed.
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error)
	// RevokeAllByUser revokes every non-revoked token of the user.
	RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error)

	// FindFamilyRoot resolves the root token id for any member id.
	FindFamilyRoot(ctx context.Context, id string) (string, error)

	// DeleteExpired removes rows whose expiry is at or before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// ResetTokens persists single-use password-reset records.
type ResetTokens interface {
	Save(ctx context.Context, t token.ResetToken) error
	FindByHash(ctx context.Context, hash [32]byte) (token.ResetToken, error)

	// MarkUsed transitions id from active to used. Returns false when the
	// token was already consumed or revoked.
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)

	// RevokeAllByUser revokes every active reset token of the user and
	// returns the count, recorded for audit.
	RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error)

	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
