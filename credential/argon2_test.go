package credential

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	// Low costs to keep the test fast; still above the enforced minimums.
	return Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
		MinPassword: 10,
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	encoded, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("correct-horse-battery", encoded)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong-password-12", encoded)
	if err != nil {
		t.Fatalf("Verify returned error for wrong password: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashRejectsWeakPassword(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	if _, err := h.Hash("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestNeedsRehashOnCostIncrease(t *testing.T) {
	weak, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	encoded, err := weak.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	upgraded := testParams()
	upgraded.Memory = 16 * 1024
	strong, err := NewHasher(upgraded)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	needs, err := strong.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("NeedsRehash failed: %v", err)
	}
	if !needs {
		t.Fatal("expected rehash after memory cost increase")
	}

	needs, err = weak.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("NeedsRehash failed: %v", err)
	}
	if needs {
		t.Fatal("unchanged params should not require rehash")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := h.Verify("whatever-pass", encoded); err == nil {
			t.Fatalf("expected error for malformed hash %q", encoded)
		}
	}
}
