// Package redisstore implements the token store ports on Redis. Records are
// hashes keyed by token id with secondary indexes for value-hash lookup,
// family membership, user membership, and an expiry zset for purging.
// Conditional status transitions run as Lua scripts so concurrent callers
// serialize inside Redis and exactly one of them wins.
package redisstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

const (
	statusActive  = "active"
	statusRotated = "rotated"
	statusRevoked = "revoked"
	statusUsed    = "used"
)

const markRotatedScript = `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "active" then
  return 0
end
redis.call("HSET", KEYS[1], "status", "rotated", "rotated_at", ARGV[1])
return 1
`

const markRevokedScript = `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status == "revoked" then
  return 0
end
redis.call("HSET", KEYS[1], "status", "revoked", "revoked_at", ARGV[1])
return 1
`

const revokeSetScript = `
local changed = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. id
  local status = redis.call("HGET", key, "status")
  if status and status ~= "revoked" then
    redis.call("HSET", key, "status", "revoked", "revoked_at", ARGV[1])
    changed = changed + 1
  end
end
return changed
`

const markUsedScript = `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "active" then
  return 0
end
redis.call("HSET", KEYS[1], "status", "used", "used_at", ARGV[1])
return 1
`

const revokeActiveSetScript = `
local changed = 0
for _, id in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. id
  local status = redis.call("HGET", key, "status")
  if status == "active" then
    redis.call("HSET", key, "status", "revoked", "revoked_at", ARGV[1])
    changed = changed + 1
  end
end
return changed
`

var (
	markRotatedLua     = redis.NewScript(markRotatedScript)
	markRevokedLua     = redis.NewScript(markRevokedScript)
	revokeSetLua       = redis.NewScript(revokeSetScript)
	markUsedLua        = redis.NewScript(markUsedScript)
	revokeActiveSetLua = redis.NewScript(revokeActiveSetScript)
)

// RefreshStore is a Redis-backed store.RefreshTokens implementation.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRefreshStore creates a refresh store namespaced under prefix.
func NewRefreshStore(client redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RefreshStore{redis: client, prefix: prefix}
}

func (s *RefreshStore) recordPrefix() string       { return s.prefix + ":t:" }
func (s *RefreshStore) key(id string) string       { return s.recordPrefix() + id }
func (s *RefreshStore) hashKey(h [32]byte) string  { return s.prefix + ":h:" + hex.EncodeToString(h[:]) }
func (s *RefreshStore) familyKey(id string) string { return s.prefix + ":f:" + id }
func (s *RefreshStore) userKey(id string) string   { return s.prefix + ":u:" + id }
func (s *RefreshStore) expiryKey() string          { return s.prefix + ":exp" }

func (s *RefreshStore) Save(ctx context.Context, t token.RefreshToken) error {
	h := t.Hash()
	fields := map[string]interface{}{
		"user_id":    t.UserID(),
		"family_id":  t.FamilyID(),
		"parent_id":  t.ParentID(),
		"hash":       hex.EncodeToString(h[:]),
		"issued_at":  t.IssuedAt().UnixMilli(),
		"expires_at": t.ExpiresAt().UnixMilli(),
		"status":     t.Status().String(),
		"rotated_at": unixMilliOrZero(t.RotatedAt()),
		"revoked_at": unixMilliOrZero(t.RevokedAt()),
		"device":     t.Device(),
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(t.ID()), fields)
		pipe.Set(ctx, s.hashKey(h), t.ID(), 0)
		pipe.SAdd(ctx, s.familyKey(t.FamilyID()), t.ID())
		pipe.SAdd(ctx, s.userKey(t.UserID()), t.ID())
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
			Score:  float64(t.ExpiresAt().UnixMilli()),
			Member: t.ID(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) FindByHash(ctx context.Context, hash [32]byte) (token.RefreshToken, error) {
	id, err := s.redis.Get(ctx, s.hashKey(hash)).Result()
	if err != nil {
		if err == redis.Nil {
			return token.RefreshToken{}, store.ErrNotFound
		}
		return token.RefreshToken{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return s.FindByID(ctx, id)
}

func (s *RefreshStore) FindByID(ctx context.Context, id string) (token.RefreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return token.RefreshToken{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return token.RefreshToken{}, store.ErrNotFound
	}
	return restoreRefresh(id, fields)
}

func (s *RefreshStore) MarkRotated(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.runTransition(ctx, markRotatedLua, s.key(id), now)
}

func (s *RefreshStore) MarkRevoked(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.runTransition(ctx, markRevokedLua, s.key(id), now)
}

func (s *RefreshStore) runTransition(ctx context.Context, script *redis.Script, key string, now time.Time) (bool, error) {
	code, err := script.Run(ctx, s.redis, []string{key}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	switch code {
	case -1:
		return false, store.ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (s *RefreshStore) RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	n, err := revokeSetLua.Run(
		ctx, s.redis,
		[]string{s.familyKey(familyID)},
		now.UnixMilli(), s.recordPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RefreshStore) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	n, err := revokeSetLua.Run(
		ctx, s.redis,
		[]string{s.userKey(userID)},
		now.UnixMilli(), s.recordPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RefreshStore) FindFamilyRoot(ctx context.Context, id string) (string, error) {
	familyID, err := s.redis.HGet(ctx, s.key(id), "family_id").Result()
	if err != nil {
		if err == redis.Nil {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return familyID, nil
}

func (s *RefreshStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	cutoff := fmt.Sprintf("%d", before.UnixMilli())
	ids, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	deleted := 0
	for _, id := range ids {
		t, err := s.FindByID(ctx, id)
		if err == store.ErrNotFound {
			s.redis.ZRem(ctx, s.expiryKey(), id)
			continue
		}
		if err != nil {
			return deleted, err
		}

		h := t.Hash()
		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key(id))
			pipe.Del(ctx, s.hashKey(h))
			pipe.SRem(ctx, s.familyKey(t.FamilyID()), id)
			pipe.SRem(ctx, s.userKey(t.UserID()), id)
			pipe.ZRem(ctx, s.expiryKey(), id)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		deleted++
	}
	return deleted, nil
}

// ResetStore is a Redis-backed store.ResetTokens implementation.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewResetStore creates a reset store namespaced under prefix.
func NewResetStore(client redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "pr"
	}
	return &ResetStore{redis: client, prefix: prefix}
}

func (s *ResetStore) recordPrefix() string      { return s.prefix + ":t:" }
func (s *ResetStore) key(id string) string      { return s.recordPrefix() + id }
func (s *ResetStore) hashKey(h [32]byte) string { return s.prefix + ":h:" + hex.EncodeToString(h[:]) }
func (s *ResetStore) userKey(id string) string  { return s.prefix + ":u:" + id }
func (s *ResetStore) expiryKey() string         { return s.prefix + ":exp" }

func (s *ResetStore) Save(ctx context.Context, t token.ResetToken) error {
	h := t.Hash()
	fields := map[string]interface{}{
		"user_id":    t.UserID(),
		"email":      t.Email(),
		"hash":       hex.EncodeToString(h[:]),
		"issued_at":  t.IssuedAt().UnixMilli(),
		"expires_at": t.ExpiresAt().UnixMilli(),
		"status":     t.Status().String(),
		"used_at":    unixMilliOrZero(t.UsedAt()),
		"revoked_at": unixMilliOrZero(t.RevokedAt()),
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(t.ID()), fields)
		pipe.Set(ctx, s.hashKey(h), t.ID(), 0)
		pipe.SAdd(ctx, s.userKey(t.UserID()), t.ID())
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{
			Score:  float64(t.ExpiresAt().UnixMilli()),
			Member: t.ID(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *ResetStore) FindByHash(ctx context.Context, hash [32]byte) (token.ResetToken, error) {
	id, err := s.redis.Get(ctx, s.hashKey(hash)).Result()
	if err != nil {
		if err == redis.Nil {
			return token.ResetToken{}, store.ErrNotFound
		}
		return token.ResetToken{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return token.ResetToken{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return token.ResetToken{}, store.ErrNotFound
	}
	return restoreReset(id, fields)
}

func (s *ResetStore) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	code, err := markUsedLua.Run(ctx, s.redis, []string{s.key(id)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	switch code {
	case -1:
		return false, store.ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (s *ResetStore) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	n, err := revokeActiveSetLua.Run(
		ctx, s.redis,
		[]string{s.userKey(userID)},
		now.UnixMilli(), s.recordPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *ResetStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	cutoff := fmt.Sprintf("%d", before.UnixMilli())
	ids, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	deleted := 0
	for _, id := range ids {
		fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		if len(fields) == 0 {
			s.redis.ZRem(ctx, s.expiryKey(), id)
			continue
		}

		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key(id))
			pipe.Del(ctx, s.prefix+":h:"+fields["hash"])
			pipe.SRem(ctx, s.userKey(fields["user_id"]), id)
			pipe.ZRem(ctx, s.expiryKey(), id)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		deleted++
	}
	return deleted, nil
}

func restoreRefresh(id string, fields map[string]string) (token.RefreshToken, error) {
	hash, err := decodeHash(fields["hash"])
	if err != nil {
		return token.RefreshToken{}, err
	}
	status, err := parseRefreshStatus(fields["status"])
	if err != nil {
		return token.RefreshToken{}, err
	}
	return token.Restore(
		id,
		fields["user_id"],
		fields["family_id"],
		fields["parent_id"],
		hash,
		parseMilli(fields["issued_at"]),
		parseMilli(fields["expires_at"]),
		status,
		parseMilli(fields["rotated_at"]),
		parseMilli(fields["revoked_at"]),
		fields["device"],
	), nil
}

func restoreReset(id string, fields map[string]string) (token.ResetToken, error) {
	hash, err := decodeHash(fields["hash"])
	if err != nil {
		return token.ResetToken{}, err
	}
	status, err := parseResetStatus(fields["status"])
	if err != nil {
		return token.ResetToken{}, err
	}
	return token.RestoreReset(
		id,
		fields["user_id"],
		fields["email"],
		hash,
		parseMilli(fields["issued_at"]),
		parseMilli(fields["expires_at"]),
		status,
		parseMilli(fields["used_at"]),
		parseMilli(fields["revoked_at"]),
	), nil
}

func parseRefreshStatus(s string) (token.RefreshStatus, error) {
	switch s {
	case statusActive:
		return token.RefreshActive, nil
	case statusRotated:
		return token.RefreshRotated, nil
	case statusRevoked:
		return token.RefreshRevoked, nil
	default:
		return 0, fmt.Errorf("corrupt refresh record: status %q", s)
	}
}

func parseResetStatus(s string) (token.ResetStatus, error) {
	switch s {
	case statusActive:
		return token.ResetActive, nil
	case statusUsed:
		return token.ResetUsed, nil
	case statusRevoked:
		return token.ResetRevoked, nil
	default:
		return 0, fmt.Errorf("corrupt reset record: status %q", s)
	}
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("corrupt token record: bad hash %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

func parseMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
