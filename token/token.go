// Package token defines the immutable value types for access, refresh, and
// password-reset tokens. Values are built through factories and every state
// change returns a new copy; the only real mutation happens in the stores.
//
// Expiry convention: the expiry instant itself counts as expired for every
// token kind (now >= expiresAt). This is deliberate and uniform.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RefreshStatus is the lifecycle state of a refresh token.
// Transitions are one-directional: Active -> Rotated or Active -> Revoked.
type RefreshStatus uint8

const (
	// RefreshActive is the only state a token may be presented in.
	RefreshActive RefreshStatus = iota
	// RefreshRotated means the token was consumed by a successful refresh.
	RefreshRotated
	// RefreshRevoked means the token was killed by logout or reuse detection.
	RefreshRevoked
	// RefreshExpired is a read-side classification; stores never persist it.
	RefreshExpired
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshActive:
		return "active"
	case RefreshRotated:
		return "rotated"
	case RefreshRevoked:
		return "revoked"
	case RefreshExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s RefreshStatus) Terminal() bool {
	return s == RefreshRotated || s == RefreshRevoked
}

// ResetStatus is the lifecycle state of a password-reset token.
type ResetStatus uint8

const (
	ResetActive ResetStatus = iota
	ResetUsed
	ResetRevoked
)

func (s ResetStatus) String() string {
	switch s {
	case ResetActive:
		return "active"
	case ResetUsed:
		return "used"
	case ResetRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// HashValue derives the storage lookup hash for an opaque token string.
// Stores index by this hash; the raw value is never persisted.
func HashValue(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}

// AccessToken is the stateless access credential. It is never persisted;
// verification is signature plus expiry only.
type AccessToken struct {
	userID    string
	email     string
	issuedAt  time.Time
	expiresAt time.Time
}

// NewAccess builds an access token valid for ttl from issuedAt.
func NewAccess(userID, email string, issuedAt time.Time, ttl time.Duration) AccessToken {
	return AccessToken{
		userID:    userID,
		email:     email,
		issuedAt:  issuedAt,
		expiresAt: issuedAt.Add(ttl),
	}
}

func (t AccessToken) UserID() string       { return t.userID }
func (t AccessToken) Email() string        { return t.email }
func (t AccessToken) IssuedAt() time.Time  { return t.issuedAt }
func (t AccessToken) ExpiresAt() time.Time { return t.expiresAt }

// IsExpired reports whether the token is expired at now (inclusive boundary).
func (t AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.expiresAt)
}

// Remaining returns the validity left at now, floored at zero.
func (t AccessToken) Remaining(now time.Time) time.Duration {
	if r := t.expiresAt.Sub(now); r > 0 {
		return r
	}
	return 0
}

// RefreshToken is the stored half of a rotating refresh credential. The
// opaque signed value stays with the client; only its hash lives here.
type RefreshToken struct {
	id        string
	userID    string
	familyID  string
	parentID  string
	hash      [32]byte
	issuedAt  time.Time
	expiresAt time.Time
	status    RefreshStatus
	rotatedAt time.Time
	revokedAt time.Time
	device    string
}

// NewRefreshRoot creates the root of a new token family at login. The id
// is caller-supplied because the opaque signed value embeds it before the
// record (and its value hash) can exist. The family id equals the root's
// id and is copied to every descendant, so family revocation is a single
// indexed operation instead of a graph walk.
func NewRefreshRoot(id, userID, device string, hash [32]byte, issuedAt time.Time, ttl time.Duration) RefreshToken {
	return RefreshToken{
		id:        id,
		userID:    userID,
		familyID:  id,
		hash:      hash,
		issuedAt:  issuedAt,
		expiresAt: issuedAt.Add(ttl),
		status:    RefreshActive,
		device:    device,
	}
}

// NewChild creates the successor issued when t is rotated. It inherits the
// family and user, and records t as its parent.
func (t RefreshToken) NewChild(id string, hash [32]byte, issuedAt time.Time, ttl time.Duration) RefreshToken {
	return RefreshToken{
		id:        id,
		userID:    t.userID,
		familyID:  t.familyID,
		parentID:  t.id,
		hash:      hash,
		issuedAt:  issuedAt,
		expiresAt: issuedAt.Add(ttl),
		status:    RefreshActive,
		device:    t.device,
	}
}

// Restore rebuilds a RefreshToken from persisted fields. Store use only.
func Restore(
	id, userID, familyID, parentID string,
	hash [32]byte,
	issuedAt, expiresAt time.Time,
	status RefreshStatus,
	rotatedAt, revokedAt time.Time,
	device string,
) RefreshToken {
	return RefreshToken{
		id:        id,
		userID:    userID,
		familyID:  familyID,
		parentID:  parentID,
		hash:      hash,
		issuedAt:  issuedAt,
		expiresAt: expiresAt,
		status:    status,
		rotatedAt: rotatedAt,
		revokedAt: revokedAt,
		device:    device,
	}
}

func (t RefreshToken) ID() string            { return t.id }
func (t RefreshToken) UserID() string        { return t.userID }
func (t RefreshToken) FamilyID() string      { return t.familyID }
func (t RefreshToken) ParentID() string      { return t.parentID }
func (t RefreshToken) Hash() [32]byte        { return t.hash }
func (t RefreshToken) IssuedAt() time.Time   { return t.issuedAt }
func (t RefreshToken) ExpiresAt() time.Time  { return t.expiresAt }
func (t RefreshToken) Status() RefreshStatus { return t.status }
func (t RefreshToken) RotatedAt() time.Time  { return t.rotatedAt }
func (t RefreshToken) RevokedAt() time.Time  { return t.revokedAt }
func (t RefreshToken) Device() string        { return t.device }

// IsRoot reports whether t is the family root.
func (t RefreshToken) IsRoot() bool { return t.parentID == "" }

// IsExpired reports whether the token is expired at now (inclusive boundary).
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.expiresAt)
}

// Remaining returns the validity left at now, floored at zero.
func (t RefreshToken) Remaining(now time.Time) time.Duration {
	if r := t.expiresAt.Sub(now); r > 0 {
		return r
	}
	return 0
}

// WithRotated returns a copy marked rotated at now. Panics are avoided:
// rotating a non-active token returns the receiver unchanged.
func (t RefreshToken) WithRotated(now time.Time) RefreshToken {
	if t.status != RefreshActive {
		return t
	}
	t.status = RefreshRotated
	t.rotatedAt = now
	return t
}

// WithRevoked returns a copy marked revoked at now. Rotated tokens may
// still be revoked (family revocation); revoked stays revoked.
func (t RefreshToken) WithRevoked(now time.Time) RefreshToken {
	if t.status == RefreshRevoked {
		return t
	}
	t.status = RefreshRevoked
	t.revokedAt = now
	return t
}

// String redacts the hash to a short prefix. The raw signed value is not
// part of this type at all, so it can never leak through logging.
func (t RefreshToken) String() string {
	return fmt.Sprintf("RefreshToken(id=%s family=%s status=%s hash=%s…)",
		t.id, t.familyID, t.status, hex.EncodeToString(t.hash[:4]))
}

// ResetToken is a single-use password-reset credential. The email is a
// snapshot taken at request time, not a live reference.
type ResetToken struct {
	id        string
	userID    string
	email     string
	hash      [32]byte
	issuedAt  time.Time
	expiresAt time.Time
	status    ResetStatus
	usedAt    time.Time
	revokedAt time.Time
}

// NewReset creates an active reset token valid for ttl from issuedAt.
// The id is caller-supplied for the same reason as NewRefreshRoot.
func NewReset(id, userID, email string, hash [32]byte, issuedAt time.Time, ttl time.Duration) ResetToken {
	return ResetToken{
		id:        id,
		userID:    userID,
		email:     email,
		hash:      hash,
		issuedAt:  issuedAt,
		expiresAt: issuedAt.Add(ttl),
		status:    ResetActive,
	}
}

// RestoreReset rebuilds a ResetToken from persisted fields. Store use only.
func RestoreReset(
	id, userID, email string,
	hash [32]byte,
	issuedAt, expiresAt time.Time,
	status ResetStatus,
	usedAt, revokedAt time.Time,
) ResetToken {
	return ResetToken{
		id:        id,
		userID:    userID,
		email:     email,
		hash:      hash,
		issuedAt:  issuedAt,
		expiresAt: expiresAt,
		status:    status,
		usedAt:    usedAt,
		revokedAt: revokedAt,
	}
}

func (t ResetToken) ID() string           { return t.id }
func (t ResetToken) UserID() string       { return t.userID }
func (t ResetToken) Email() string        { return t.email }
func (t ResetToken) Hash() [32]byte       { return t.hash }
func (t ResetToken) IssuedAt() time.Time  { return t.issuedAt }
func (t ResetToken) ExpiresAt() time.Time { return t.expiresAt }
func (t ResetToken) Status() ResetStatus  { return t.status }
func (t ResetToken) UsedAt() time.Time    { return t.usedAt }
func (t ResetToken) RevokedAt() time.Time { return t.revokedAt }

// IsExpired reports whether the token is expired at now (inclusive boundary).
func (t ResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.expiresAt)
}

// Remaining returns the validity left at now, floored at zero.
func (t ResetToken) Remaining(now time.Time) time.Duration {
	if r := t.expiresAt.Sub(now); r > 0 {
		return r
	}
	return 0
}

// WithUsed returns a copy marked used at now; no-op unless active.
func (t ResetToken) WithUsed(now time.Time) ResetToken {
	if t.status != ResetActive {
		return t
	}
	t.status = ResetUsed
	t.usedAt = now
	return t
}

// WithRevoked returns a copy marked revoked at now; no-op unless active.
func (t ResetToken) WithRevoked(now time.Time) ResetToken {
	if t.status != ResetActive {
		return t
	}
	t.status = ResetRevoked
	t.revokedAt = now
	return t
}

func (t ResetToken) String() string {
	return fmt.Sprintf("ResetToken(id=%s status=%s hash=%s…)",
		t.id, t.status, hex.EncodeToString(t.hash[:4]))
}
