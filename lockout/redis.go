package lockout

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kvoss-dev/authcore/clock"
)

// RedisTracker implements Tracker on Redis. The lockout itself is a key
// whose TTL is the remaining lockout time, so expiry needs no sweeper.
type RedisTracker struct {
	redis  redis.UniversalClient
	prefix string
	config Config
	clock  clock.Clock
}

// NewRedisTracker creates a tracker namespaced under prefix.
func NewRedisTracker(client redis.UniversalClient, prefix string, cfg Config, clk clock.Clock) *RedisTracker {
	if prefix == "" {
		prefix = "alo"
	}
	return &RedisTracker{redis: client, prefix: prefix, config: cfg, clock: clk}
}

func (t *RedisTracker) failuresKey(userID string) string { return t.prefix + ":f:" + userID }
func (t *RedisTracker) lockKey(userID string) string     { return t.prefix + ":l:" + userID }
func (t *RedisTracker) countKey(userID string) string    { return t.prefix + ":c:" + userID }

func (t *RedisTracker) Status(ctx context.Context, userID string) (Status, error) {
	var s Status

	ttl, err := t.redis.PTTL(ctx, t.lockKey(userID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl > 0 {
		s.Locked = true
		s.RetryAfter = ttl
	}

	s.Failures, err = t.getCounter(ctx, t.failuresKey(userID))
	if err != nil {
		return Status{}, err
	}
	s.LockoutCount, err = t.getCounter(ctx, t.countKey(userID))
	if err != nil {
		return Status{}, err
	}
	return s, nil
}

func (t *RedisTracker) RecordFailure(ctx context.Context, userID string) (Status, error) {
	current, err := t.Status(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if current.Locked {
		// Failures during a lockout do not extend it.
		return current, nil
	}

	failures, err := t.redis.Incr(ctx, t.failuresKey(userID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if failures == 1 && t.config.BaseDuration > 0 {
		// Rolling window: the counter resets on its own if failures stop.
		if err := t.redis.Expire(ctx, t.failuresKey(userID), t.config.BaseDuration).Err(); err != nil {
			return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if failures < int64(t.config.Threshold) {
		current.Failures = int(failures)
		return current, nil
	}

	count, err := t.redis.Incr(ctx, t.countKey(userID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	duration := t.config.escalate(int(count))

	_, err = t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, t.lockKey(userID), t.clock.Now().Add(duration).UnixMilli(), duration)
		pipe.Del(ctx, t.failuresKey(userID))
		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Status{
		Locked:       true,
		RetryAfter:   duration,
		LockoutCount: int(count),
	}, nil
}

func (t *RedisTracker) Reset(ctx context.Context, userID string) error {
	if err := t.redis.Del(ctx, t.failuresKey(userID), t.lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (t *RedisTracker) getCounter(ctx context.Context, key string) (int, error) {
	count, err := t.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
