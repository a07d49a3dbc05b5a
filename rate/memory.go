package rate

import (
	"context"
	"sync"
	"time"

	"github.com/kvoss-dev/authcore/clock"
)

type window struct {
	count    int
	start    time.Time
	duration time.Duration
}

func (w *window) elapsedAt(now time.Time) bool {
	return !now.Before(w.start.Add(w.duration))
}

// MemoryLimiter is the in-process reference Limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	clock   clock.Clock
}

// NewMemoryLimiter creates a limiter that reads time from clk.
func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		clock:   clk,
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string, limit int, _ time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[key]
	if !ok || w.elapsedAt(now) {
		return Result{Allowed: true, Remaining: limit}, nil
	}

	resetAt := w.start.Add(w.duration)
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   w.count < limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res, nil
}

func (l *MemoryLimiter) Increment(_ context.Context, key string, windowDuration time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[key]
	if !ok || w.elapsedAt(now) {
		l.windows[key] = &window{count: 1, start: now, duration: windowDuration}
		return 1, nil
	}

	w.count++
	return w.count, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, key)
	return nil
}

func (l *MemoryLimiter) Cleanup(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	dropped := 0
	for key, w := range l.windows {
		if w.elapsedAt(now) {
			delete(l.windows, key)
			dropped++
		}
	}
	return dropped, nil
}
