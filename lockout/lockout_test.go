package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kvoss-dev/authcore/clock"
)

func testConfig() Config {
	return Config{
		Threshold:    3,
		BaseDuration: 10 * time.Minute,
		MaxDuration:  time.Hour,
	}
}

func TestEscalationDoublesUpToCap(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		count int
		want  time.Duration
	}{
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{4, time.Hour},
		{10, time.Hour},
	}
	for _, tc := range cases {
		if got := cfg.escalate(tc.count); got != tc.want {
			t.Fatalf("escalate(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}

func TestMemoryLockAfterThreshold(t *testing.T) {
	mock := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr := NewMemoryTracker(testConfig(), mock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := tr.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if s.Locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}

	s, err := tr.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !s.Locked {
		t.Fatal("expected lockout after third failure")
	}
	if s.RetryAfter != 10*time.Minute {
		t.Fatalf("retry-after %v, want 10m", s.RetryAfter)
	}
	if s.LockoutCount != 1 {
		t.Fatalf("lockout count %d, want 1", s.LockoutCount)
	}

	// Still locked halfway through, with the remaining time shrinking.
	mock.Advance(4 * time.Minute)
	s, err = tr.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !s.Locked || s.RetryAfter != 6*time.Minute {
		t.Fatalf("mid-lockout status: %+v", s)
	}

	mock.Advance(7 * time.Minute)
	s, err = tr.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if s.Locked {
		t.Fatal("still locked after lockout elapsed")
	}
}

func TestMemoryRepeatLockoutEscalates(t *testing.T) {
	mock := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr := NewMemoryTracker(testConfig(), mock)
	ctx := context.Background()

	lock := func() Status {
		t.Helper()
		var s Status
		var err error
		for i := 0; i < 3; i++ {
			s, err = tr.RecordFailure(ctx, "u1")
			if err != nil {
				t.Fatalf("RecordFailure failed: %v", err)
			}
		}
		if !s.Locked {
			t.Fatal("expected lockout")
		}
		return s
	}

	first := lock()
	if first.RetryAfter != 10*time.Minute {
		t.Fatalf("first lockout %v, want 10m", first.RetryAfter)
	}

	mock.Advance(11 * time.Minute)
	second := lock()
	if second.RetryAfter != 20*time.Minute {
		t.Fatalf("second lockout %v, want 20m", second.RetryAfter)
	}
	if second.LockoutCount != 2 {
		t.Fatalf("lockout count %d, want 2", second.LockoutCount)
	}
}

func TestMemoryResetClearsFailuresNotHistory(t *testing.T) {
	mock := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr := NewMemoryTracker(testConfig(), mock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := tr.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if err := tr.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	s, err := tr.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if s.Failures != 0 || s.Locked {
		t.Fatalf("Reset left state behind: %+v", s)
	}

	// Two more failures must not lock: the counter restarted at zero.
	for i := 0; i < 2; i++ {
		s, err = tr.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if s.Locked {
		t.Fatal("locked despite reset")
	}
}

func TestRedisLockAfterThreshold(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tr := NewRedisTracker(client, "alo", testConfig(), clock.System())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := tr.RecordFailure(ctx, "u1")
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if s.Locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}

	s, err := tr.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !s.Locked || s.RetryAfter != 10*time.Minute {
		t.Fatalf("expected 10m lockout, got %+v", s)
	}

	// A failure while locked neither extends nor re-counts.
	s, err = tr.RecordFailure(ctx, "u1")
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !s.Locked || s.LockoutCount != 1 {
		t.Fatalf("lockout state changed while locked: %+v", s)
	}

	mr.FastForward(11 * time.Minute)
	s, err = tr.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if s.Locked {
		t.Fatal("still locked after TTL elapsed")
	}
	if s.LockoutCount != 1 {
		t.Fatalf("lockout history lost: %+v", s)
	}
}
