package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

func TestRefreshSaveAndFind(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rt := token.NewRefreshRoot("t1", "u1", "test-device", token.HashValue("raw-1"), now, time.Hour)
	if err := s.Save(ctx, rt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.FindByHash(ctx, rt.Hash())
	if err != nil {
		t.Fatalf("FindByHash failed: %v", err)
	}
	if got.ID() != rt.ID() {
		t.Fatalf("FindByHash returned id %s, want %s", got.ID(), rt.ID())
	}

	got, err = s.FindByID(ctx, rt.ID())
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.UserID() != "u1" {
		t.Fatalf("unexpected user id %s", got.UserID())
	}

	if _, err := s.FindByHash(ctx, token.HashValue("missing")); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkRotatedIsSingleWinner(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rt := token.NewRefreshRoot("t1", "u1", "test-device", token.HashValue("raw-1"), now, time.Hour)
	if err := s.Save(ctx, rt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkRotated(ctx, rt.ID(), now)
			if err != nil {
				t.Errorf("MarkRotated failed: %v", err)
				return
			}
			if won {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", winners)
	}

	got, err := s.FindByID(ctx, rt.ID())
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Status() != token.RefreshRotated {
		t.Fatalf("expected rotated status, got %s", got.Status())
	}
}

func TestRevokeFamilySpansGenerations(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	root := token.NewRefreshRoot("t-root", "u1", "test-device", token.HashValue("raw-root"), now, time.Hour)
	child := root.NewChild("t-child", token.HashValue("raw-child"), now.Add(time.Minute), time.Hour)
	grandchild := child.NewChild("t-grandchild", token.HashValue("raw-grandchild"), now.Add(2*time.Minute), time.Hour)

	for _, rt := range []token.RefreshToken{
		root.WithRotated(now.Add(time.Minute)),
		child.WithRotated(now.Add(2 * time.Minute)),
		grandchild,
	} {
		if err := s.Save(ctx, rt); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	familyID, err := s.FindFamilyRoot(ctx, grandchild.ID())
	if err != nil {
		t.Fatalf("FindFamilyRoot failed: %v", err)
	}
	if familyID != root.ID() {
		t.Fatalf("family root %s, want %s", familyID, root.ID())
	}

	n, err := s.RevokeFamily(ctx, familyID, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d tokens, want 3", n)
	}
	for _, id := range []string{root.ID(), child.ID(), grandchild.ID()} {
		got, err := s.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if got.Status() != token.RefreshRevoked {
			t.Fatalf("token %s has status %s, want revoked", id, got.Status())
		}
	}

	// A second pass finds nothing left to revoke.
	n, err = s.RevokeFamily(ctx, familyID, now.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("second revoke changed %d tokens, want 0", n)
	}
}

func TestRevokeAllByUserLeavesOthersAlone(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mine := token.NewRefreshRoot("t-mine", "u1", "test-device", token.HashValue("raw-mine"), now, time.Hour)
	other := token.NewRefreshRoot("t-other", "u2", "test-device", token.HashValue("raw-other"), now, time.Hour)
	for _, rt := range []token.RefreshToken{mine, other} {
		if err := s.Save(ctx, rt); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := s.RevokeAllByUser(ctx, "u1", now)
	if err != nil {
		t.Fatalf("RevokeAllByUser failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("revoked %d tokens, want 1", n)
	}

	got, err := s.FindByID(ctx, other.ID())
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Status() != token.RefreshActive {
		t.Fatalf("other user's token revoked: %s", got.Status())
	}
}

func TestDeleteExpiredDropsIndexes(t *testing.T) {
	s := NewRefreshStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := token.NewRefreshRoot("t-stale", "u1", "test-device", token.HashValue("raw-stale"), now.Add(-2*time.Hour), time.Hour)
	fresh := token.NewRefreshRoot("t-fresh", "u1", "test-device", token.HashValue("raw-fresh"), now, time.Hour)
	for _, rt := range []token.RefreshToken{stale, fresh} {
		if err := s.Save(ctx, rt); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d tokens, want 1", n)
	}
	if _, err := s.FindByID(ctx, stale.ID()); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for purged token, got %v", err)
	}
	if _, err := s.FindByHash(ctx, stale.Hash()); err != store.ErrNotFound {
		t.Fatalf("hash index kept purged token: %v", err)
	}
	if _, err := s.FindByID(ctx, fresh.ID()); err != nil {
		t.Fatalf("fresh token lost: %v", err)
	}
}

func TestResetMarkUsedOnce(t *testing.T) {
	s := NewResetStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	pr := token.NewReset("p1", "u1", "u1@example.com", token.HashValue("raw-reset"), now, 30*time.Minute)
	if err := s.Save(ctx, pr); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	won, err := s.MarkUsed(ctx, pr.ID(), now)
	if err != nil || !won {
		t.Fatalf("first MarkUsed: won=%v err=%v", won, err)
	}
	won, err = s.MarkUsed(ctx, pr.ID(), now)
	if err != nil {
		t.Fatalf("second MarkUsed failed: %v", err)
	}
	if won {
		t.Fatal("reset token consumed twice")
	}
}

func TestResetRevokeAllByUser(t *testing.T) {
	s := NewResetStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := token.NewReset("p1", "u1", "u1@example.com", token.HashValue("raw-1"), now, 30*time.Minute)
	second := token.NewReset("p2", "u1", "u1@example.com", token.HashValue("raw-2"), now.Add(time.Minute), 30*time.Minute)
	for _, pr := range []token.ResetToken{first, second} {
		if err := s.Save(ctx, pr); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	n, err := s.RevokeAllByUser(ctx, "u1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("RevokeAllByUser failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked %d tokens, want 2", n)
	}

	won, err := s.MarkUsed(ctx, first.ID(), now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if won {
		t.Fatal("revoked reset token was consumable")
	}
}
