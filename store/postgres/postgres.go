// Package postgres implements the token store ports on PostgreSQL using
// pgx. Status transitions are single conditional UPDATE statements, so
// the database serializes concurrent rotations and exactly one caller
// observes rows affected.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/store/postgres/migrations"
	"github.com/kvoss-dev/authcore/token"
)

// Storage owns the connection pool and vends the two store implementations.
type Storage struct {
	pool *pgxpool.Pool
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Storage, error) {
	const op = "store.postgres.New"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() {
	s.pool.Close()
}

// RefreshTokens returns the refresh-token store.
func (s *Storage) RefreshTokens() *RefreshStore {
	return &RefreshStore{pool: s.pool}
}

// ResetTokens returns the reset-token store.
func (s *Storage) ResetTokens() *ResetStore {
	return &ResetStore{pool: s.pool}
}

// RunMigrations applies the embedded goose migrations. It opens a separate
// database/sql connection because goose does not speak pgxpool.
func RunMigrations(ctx context.Context, dsn string) error {
	const op = "store.postgres.RunMigrations"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RefreshStore is a Postgres-backed store.RefreshTokens implementation.
type RefreshStore struct {
	pool *pgxpool.Pool
}

const refreshColumns = `id, user_id, family_id, parent_id, token_hash,
	issued_at, expires_at, status, rotated_at, revoked_at, device`

func (s *RefreshStore) Save(ctx context.Context, t token.RefreshToken) error {
	const op = "store.postgres.RefreshStore.Save"

	query := `
		INSERT INTO refresh_tokens
			(id, user_id, family_id, parent_id, token_hash,
			 issued_at, expires_at, status, rotated_at, revoked_at, device)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			rotated_at = EXCLUDED.rotated_at,
			revoked_at = EXCLUDED.revoked_at
	`

	h := t.Hash()
	_, err := s.pool.Exec(ctx, query,
		t.ID(), t.UserID(), t.FamilyID(), t.ParentID(), h[:],
		t.IssuedAt(), t.ExpiresAt(), t.Status().String(),
		nullTime(t.RotatedAt()), nullTime(t.RevokedAt()), t.Device(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *RefreshStore) FindByHash(ctx context.Context, hash [32]byte) (token.RefreshToken, error) {
	const op = "store.postgres.RefreshStore.FindByHash"

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return s.scanOne(ctx, op, query, hash[:])
}

func (s *RefreshStore) FindByID(ctx context.Context, id string) (token.RefreshToken, error) {
	const op = "store.postgres.RefreshStore.FindByID"

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE id = $1`
	return s.scanOne(ctx, op, query, id)
}

func (s *RefreshStore) scanOne(ctx context.Context, op, query string, arg any) (token.RefreshToken, error) {
	var (
		id, userID, familyID, parentID, status, device string
		hashRaw                                        []byte
		issuedAt, expiresAt                            time.Time
		rotatedAt, revokedAt                           *time.Time
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&id, &userID, &familyID, &parentID, &hashRaw,
		&issuedAt, &expiresAt, &status, &rotatedAt, &revokedAt, &device,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return token.RefreshToken{}, fmt.Errorf("%s: %w", op, store.ErrNotFound)
		}
		return token.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	parsedStatus, err := parseRefreshStatus(status)
	if err != nil {
		return token.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}
	var hash [32]byte
	copy(hash[:], hashRaw)

	return token.Restore(
		id, userID, familyID, parentID, hash,
		issuedAt, expiresAt, parsedStatus,
		deref(rotatedAt), deref(revokedAt), device,
	), nil
}

func (s *RefreshStore) MarkRotated(ctx context.Context, id string, now time.Time) (bool, error) {
	const op = "store.postgres.RefreshStore.MarkRotated"

	query := `
		UPDATE refresh_tokens
		SET status = 'rotated', rotated_at = $2
		WHERE id = $1 AND status = 'active'
	`
	return s.conditionalUpdate(ctx, op, query, id, now)
}

func (s *RefreshStore) MarkRevoked(ctx context.Context, id string, now time.Time) (bool, error) {
	const op = "store.postgres.RefreshStore.MarkRevoked"

	query := `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2
		WHERE id = $1 AND status <> 'revoked'
	`
	return s.conditionalUpdate(ctx, op, query, id, now)
}

func (s *RefreshStore) conditionalUpdate(ctx context.Context, op, query, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM refresh_tokens WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return false, nil
}

func (s *RefreshStore) RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	const op = "store.postgres.RefreshStore.RevokeFamily"

	query := `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2
		WHERE family_id = $1 AND status <> 'revoked'
	`
	tag, err := s.pool.Exec(ctx, query, familyID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *RefreshStore) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	const op = "store.postgres.RefreshStore.RevokeAllByUser"

	query := `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2
		WHERE user_id = $1 AND status <> 'revoked'
	`
	tag, err := s.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *RefreshStore) FindFamilyRoot(ctx context.Context, id string) (string, error) {
	const op = "store.postgres.RefreshStore.FindFamilyRoot"

	var familyID string
	err := s.pool.QueryRow(ctx, `SELECT family_id FROM refresh_tokens WHERE id = $1`, id).Scan(&familyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", op, store.ErrNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return familyID, nil
}

func (s *RefreshStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const op = "store.postgres.RefreshStore.DeleteExpired"

	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

// ResetStore is a Postgres-backed store.ResetTokens implementation.
type ResetStore struct {
	pool *pgxpool.Pool
}

func (s *ResetStore) Save(ctx context.Context, t token.ResetToken) error {
	const op = "store.postgres.ResetStore.Save"

	query := `
		INSERT INTO reset_tokens
			(id, user_id, email, token_hash,
			 issued_at, expires_at, status, used_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			used_at = EXCLUDED.used_at,
			revoked_at = EXCLUDED.revoked_at
	`

	h := t.Hash()
	_, err := s.pool.Exec(ctx, query,
		t.ID(), t.UserID(), t.Email(), h[:],
		t.IssuedAt(), t.ExpiresAt(), t.Status().String(),
		nullTime(t.UsedAt()), nullTime(t.RevokedAt()),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *ResetStore) FindByHash(ctx context.Context, hash [32]byte) (token.ResetToken, error) {
	const op = "store.postgres.ResetStore.FindByHash"

	query := `
		SELECT id, user_id, email, token_hash,
		       issued_at, expires_at, status, used_at, revoked_at
		FROM reset_tokens
		WHERE token_hash = $1
	`

	var (
		id, userID, email, status string
		hashRaw                   []byte
		issuedAt, expiresAt       time.Time
		usedAt, revokedAt         *time.Time
	)
	err := s.pool.QueryRow(ctx, query, hash[:]).Scan(
		&id, &userID, &email, &hashRaw,
		&issuedAt, &expiresAt, &status, &usedAt, &revokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return token.ResetToken{}, fmt.Errorf("%s: %w", op, store.ErrNotFound)
		}
		return token.ResetToken{}, fmt.Errorf("%s: %w", op, err)
	}

	parsedStatus, err := parseResetStatus(status)
	if err != nil {
		return token.ResetToken{}, fmt.Errorf("%s: %w", op, err)
	}
	var stored [32]byte
	copy(stored[:], hashRaw)

	return token.RestoreReset(
		id, userID, email, stored,
		issuedAt, expiresAt, parsedStatus,
		deref(usedAt), deref(revokedAt),
	), nil
}

func (s *ResetStore) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	const op = "store.postgres.ResetStore.MarkUsed"

	query := `
		UPDATE reset_tokens
		SET status = 'used', used_at = $2
		WHERE id = $1 AND status = 'active'
	`
	tag, err := s.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reset_tokens WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return false, nil
}

func (s *ResetStore) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	const op = "store.postgres.ResetStore.RevokeAllByUser"

	query := `
		UPDATE reset_tokens
		SET status = 'revoked', revoked_at = $2
		WHERE user_id = $1 AND status = 'active'
	`
	tag, err := s.pool.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *ResetStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const op = "store.postgres.ResetStore.DeleteExpired"

	tag, err := s.pool.Exec(ctx, `DELETE FROM reset_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func parseRefreshStatus(s string) (token.RefreshStatus, error) {
	switch s {
	case "active":
		return token.RefreshActive, nil
	case "rotated":
		return token.RefreshRotated, nil
	case "revoked":
		return token.RefreshRevoked, nil
	default:
		return 0, fmt.Errorf("corrupt refresh row: status %q", s)
	}
}

func parseResetStatus(s string) (token.ResetStatus, error) {
	switch s {
	case "active":
		return token.ResetActive, nil
	case "used":
		return token.ResetUsed, nil
	case "revoked":
		return token.ResetRevoked, nil
	default:
		return 0, fmt.Errorf("corrupt reset row: status %q", s)
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
