package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvoss-dev/authcore/clock"
)

// RedisLimiter implements Limiter on Redis counters with TTL-bound windows.
// Redis evicts elapsed windows on its own, so Cleanup is a no-op.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisLimiter creates a limiter namespaced under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{redis: client, prefix: prefix, clock: clk}
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + ":" + key
}

func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, _ time.Duration) (Result, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Allowed: true, Remaining: limit}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ttl, err := l.redis.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl <= 0 {
		// Key exists but the window elapsed between the two reads.
		return Result{Allowed: true, Remaining: limit}, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   count < int64(limit),
		Remaining: remaining,
		ResetAt:   l.clock.Now().Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}

func (l *RedisLimiter) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := l.redis.Incr(ctx, l.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed-window semantics: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.PExpire(ctx, l.key(key), window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return int(count), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}
