package token

import (
	"strings"
	"testing"
	"time"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestExpiryBoundaryInclusive(t *testing.T) {
	ttl := time.Hour
	access := NewAccess("u1", "u1@example.com", testEpoch, ttl)

	if access.IsExpired(testEpoch.Add(ttl - time.Millisecond)) {
		t.Fatal("token expired one millisecond before the boundary")
	}
	if !access.IsExpired(testEpoch.Add(ttl)) {
		t.Fatal("token not expired at the expiry instant")
	}
	if !access.IsExpired(testEpoch.Add(ttl + time.Second)) {
		t.Fatal("token not expired past the boundary")
	}
}

func TestRemainingFloorsAtZero(t *testing.T) {
	refresh := NewRefreshRoot("t1", "u1", "", HashValue("v"), testEpoch, time.Minute)

	if got := refresh.Remaining(testEpoch); got != time.Minute {
		t.Fatalf("expected full minute remaining, got %v", got)
	}
	if got := refresh.Remaining(testEpoch.Add(time.Hour)); got != 0 {
		t.Fatalf("expected zero remaining, got %v", got)
	}
}

func TestRefreshFamilyLinks(t *testing.T) {
	root := NewRefreshRoot("t0", "u1", "cli", HashValue("r0"), testEpoch, time.Hour)
	if !root.IsRoot() {
		t.Fatal("root token should report IsRoot")
	}
	if root.FamilyID() != root.ID() {
		t.Fatal("root family id should equal its own id")
	}

	child := root.NewChild("t1", HashValue("r1"), testEpoch.Add(time.Minute), time.Hour)
	if child.IsRoot() {
		t.Fatal("child token should not report IsRoot")
	}
	if child.ParentID() != root.ID() {
		t.Fatalf("child parent = %q, want root id %q", child.ParentID(), root.ID())
	}
	if child.FamilyID() != root.FamilyID() {
		t.Fatal("child must stay in the root's family")
	}
	if child.UserID() != root.UserID() || child.Device() != root.Device() {
		t.Fatal("child must inherit user and device")
	}
}

func TestRefreshTransitionsAreOneWay(t *testing.T) {
	root := NewRefreshRoot("t0", "u1", "", HashValue("r0"), testEpoch, time.Hour)

	rotated := root.WithRotated(testEpoch.Add(time.Minute))
	if rotated.Status() != RefreshRotated {
		t.Fatalf("status = %v, want rotated", rotated.Status())
	}
	if root.Status() != RefreshActive {
		t.Fatal("WithRotated mutated the original value")
	}

	// Rotated tokens never rotate again, but family revocation may still kill them.
	again := rotated.WithRotated(testEpoch.Add(time.Hour))
	if again.RotatedAt() != rotated.RotatedAt() {
		t.Fatal("second rotation changed the rotation timestamp")
	}
	revoked := rotated.WithRevoked(testEpoch.Add(2 * time.Minute))
	if revoked.Status() != RefreshRevoked {
		t.Fatalf("status = %v, want revoked", revoked.Status())
	}
	if !revoked.Status().Terminal() {
		t.Fatal("revoked must be terminal")
	}
}

func TestResetSingleTransition(t *testing.T) {
	reset := NewReset("p1", "u1", "u1@example.com", HashValue("x"), testEpoch, 30*time.Minute)

	used := reset.WithUsed(testEpoch.Add(time.Minute))
	if used.Status() != ResetUsed {
		t.Fatalf("status = %v, want used", used.Status())
	}
	if got := used.WithRevoked(testEpoch.Add(time.Hour)); got.Status() != ResetUsed {
		t.Fatal("used token must not transition to revoked")
	}

	revoked := reset.WithRevoked(testEpoch.Add(time.Minute))
	if got := revoked.WithUsed(testEpoch.Add(time.Hour)); got.Status() != ResetRevoked {
		t.Fatal("revoked token must not transition to used")
	}
}

func TestStringRedactsHash(t *testing.T) {
	secret := "opaque-signed-refresh-value"
	refresh := NewRefreshRoot("t0", "u1", "", HashValue(secret), testEpoch, time.Hour)

	s := refresh.String()
	if strings.Contains(s, secret) {
		t.Fatal("String leaked the raw token value")
	}
	if !strings.Contains(s, "…") || !strings.Contains(s, "status=active") {
		t.Fatalf("unexpected String format: %s", s)
	}

	reset := NewReset("p1", "u1", "u1@example.com", HashValue(secret), testEpoch, time.Minute)
	if strings.Contains(reset.String(), secret) {
		t.Fatal("reset String leaked the raw token value")
	}
}
