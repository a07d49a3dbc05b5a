package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newHS256Codec(t *testing.T, timeFunc func() time.Time) *Codec {
	t.Helper()

	codec, err := NewCodec(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore-test",
		TimeFunc:      timeFunc,
	})
	require.NoError(t, err)
	return codec
}

func TestIssueVerifyPerPurpose(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newHS256Codec(t, func() time.Time { return now })

	cases := []Claims{
		{Purpose: PurposeAccess, UserID: "u1", Email: "u1@example.com"},
		{Purpose: PurposeRefresh, UserID: "u1", TokenID: "rt-1"},
		{Purpose: PurposeReset, UserID: "u1", TokenID: "pr-1"},
	}
	for _, claims := range cases {
		raw, err := codec.Issue(claims, now, time.Hour)
		require.NoError(t, err, "purpose %s", claims.Purpose)

		decoded, err := codec.Verify(raw)
		require.NoError(t, err, "purpose %s", claims.Purpose)
		require.Equal(t, claims, decoded)
	}
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	codec := newHS256Codec(t, func() time.Time { return current })

	raw, err := codec.Issue(Claims{Purpose: PurposeAccess, UserID: "u1"}, now, time.Minute)
	require.NoError(t, err)

	current = now.Add(2 * time.Minute)
	_, err = codec.Verify(raw)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyBadSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newHS256Codec(t, func() time.Time { return now })
	other, err := NewCodec(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-another-secret-32"),
		Issuer:        "authcore-test",
		TimeFunc:      func() time.Time { return now },
	})
	require.NoError(t, err)

	raw, err := codec.Issue(Claims{Purpose: PurposeRefresh, UserID: "u1", TokenID: "rt-1"}, now, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(raw)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyMalformed(t *testing.T) {
	codec := newHS256Codec(t, nil)

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := codec.Verify(raw)
		require.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}

func TestIssueRejectsIncompleteClaims(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newHS256Codec(t, nil)

	_, err := codec.Issue(Claims{Purpose: PurposeRefresh, UserID: "u1"}, now, time.Hour)
	require.Error(t, err, "refresh claims without token id must be rejected")

	_, err = codec.Issue(Claims{Purpose: "unknown", UserID: "u1"}, now, time.Hour)
	require.Error(t, err)

	_, err = codec.Issue(Claims{Purpose: PurposeAccess}, now, time.Hour)
	require.Error(t, err, "claims without user id must be rejected")
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec, err := NewCodec(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		TimeFunc:      func() time.Time { return now },
	})
	require.NoError(t, err)

	raw, err := codec.Issue(Claims{Purpose: PurposeReset, UserID: "u1", TokenID: "pr-9"}, now, time.Minute)
	require.NoError(t, err)

	decoded, err := codec.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, PurposeReset, decoded.Purpose)
	require.Equal(t, "pr-9", decoded.TokenID)
}

func TestDecodeUnverified(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	codec := newHS256Codec(t, func() time.Time { return now })

	raw, err := codec.Issue(Claims{Purpose: PurposeRefresh, UserID: "u7", TokenID: "rt-7"}, now, time.Hour)
	require.NoError(t, err)

	claims, ok := codec.DecodeUnverified(raw)
	require.True(t, ok)
	require.Equal(t, "u7", claims.UserID)
	require.Equal(t, "rt-7", claims.TokenID)

	_, ok = codec.DecodeUnverified("not-a-token")
	require.False(t, ok)
}
