package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/kvoss-dev/authcore/clock"
)

type record struct {
	failures     int
	lockoutCount int
	lockedUntil  time.Time
}

// MemoryTracker is the in-process reference Tracker.
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]*record
	config  Config
	clock   clock.Clock
}

// NewMemoryTracker creates a tracker with the given policy.
func NewMemoryTracker(cfg Config, clk clock.Clock) *MemoryTracker {
	return &MemoryTracker{
		records: make(map[string]*record),
		config:  cfg,
		clock:   clk,
	}
}

func (t *MemoryTracker) Status(_ context.Context, userID string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[userID]
	if !ok {
		return Status{}, nil
	}
	return t.statusLocked(r), nil
}

func (t *MemoryTracker) RecordFailure(_ context.Context, userID string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[userID]
	if !ok {
		r = &record{}
		t.records[userID] = r
	}

	now := t.clock.Now()
	if now.Before(r.lockedUntil) {
		// Already locked; failures during a lockout do not extend it.
		return t.statusLocked(r), nil
	}

	r.failures++
	if r.failures >= t.config.Threshold {
		r.lockoutCount++
		r.lockedUntil = now.Add(t.config.escalate(r.lockoutCount))
		r.failures = 0
	}
	return t.statusLocked(r), nil
}

func (t *MemoryTracker) Reset(_ context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.records[userID]; ok {
		r.failures = 0
		r.lockedUntil = time.Time{}
	}
	return nil
}

func (t *MemoryTracker) statusLocked(r *record) Status {
	now := t.clock.Now()
	s := Status{
		Failures:     r.failures,
		LockoutCount: r.lockoutCount,
	}
	if now.Before(r.lockedUntil) {
		s.Locked = true
		s.RetryAfter = r.lockedUntil.Sub(now)
	}
	return s
}
