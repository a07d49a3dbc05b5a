// Package jwt produces and validates the opaque signed tokens carried by
// clients. Claim shapes form a closed set keyed by purpose (access, refresh,
// password reset) so claim drift between use cases is a compile-time concern,
// not a runtime map lookup.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose selects one of the fixed claim schemas.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
	PurposeReset   Purpose = "password_reset"
)

// Verification failures collapse into three externally distinguishable kinds.
var (
	ErrExpired      = errors.New("token expired")
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Claims is the decoded payload of a signed token. Which fields are set
// depends on Purpose: access carries Email, refresh and reset carry TokenID.
type Claims struct {
	Purpose Purpose
	UserID  string
	Email   string
	TokenID string
}

func (c Claims) validate() error {
	if c.UserID == "" {
		return errors.New("jwt: claims missing user id")
	}
	switch c.Purpose {
	case PurposeAccess:
		return nil
	case PurposeRefresh, PurposeReset:
		if c.TokenID == "" {
			return fmt.Errorf("jwt: %s claims missing token id", c.Purpose)
		}
		return nil
	default:
		return fmt.Errorf("jwt: unknown purpose %q", c.Purpose)
	}
}

type wireClaims struct {
	Purpose string `json:"purpose,omitempty"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Config holds codec material and validation options.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// TimeFunc overrides the clock used for exp/nbf validation. Defaults to
	// time.Now; the engine wires its Clock here for deterministic tests.
	TimeFunc func() time.Time
}

// Codec signs and verifies tokens. Immutable after construction.
type Codec struct {
	config Config
}

// NewCodec validates key material for the configured method.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a secret key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("jwt: ed25519 requires a public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("jwt: unsupported signing method")
	}
	return &Codec{config: cfg}, nil
}

// Issue signs claims with validity ttl anchored at now.
func (c *Codec) Issue(claims Claims, now time.Time, ttl time.Duration) (string, error) {
	if err := claims.validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("jwt: non-positive ttl")
	}

	wire := wireClaims{
		Purpose: string(claims.Purpose),
		Email:   claims.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			ID:        claims.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		wire.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	key, err := c.signKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(c.method(), wire).SignedString(key)
}

// Verify checks signature, expiry, issuer, and audience, and returns the
// decoded claims. Failures map onto ErrExpired, ErrBadSignature, or
// ErrMalformed; callers must not surface finer detail than that.
func (c *Codec) Verify(raw string) (Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}
	if c.config.TimeFunc != nil {
		options = append(options, jwt.WithTimeFunc(c.config.TimeFunc))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(raw, &wireClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.verifyKey()
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	wire, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformed
	}

	claims := fromWire(wire)
	if err := claims.validate(); err != nil {
		return Claims{}, ErrMalformed
	}
	return claims, nil
}

// DecodeUnverified extracts claims without checking the signature or
// expiry. Diagnostic use only; never trust the result for authentication.
func (c *Codec) DecodeUnverified(raw string) (Claims, bool) {
	var wire wireClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &wire); err != nil {
		return Claims{}, false
	}
	return fromWire(&wire), true
}

func fromWire(wire *wireClaims) Claims {
	return Claims{
		Purpose: Purpose(wire.Purpose),
		UserID:  wire.Subject,
		Email:   wire.Email,
		TokenID: wire.ID,
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}

func (c *Codec) method() jwt.SigningMethod {
	if c.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (c *Codec) signKey() (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return c.config.PrivateKey, nil
	}
	return parseEdPrivateKey(c.config.PrivateKey)
}

func (c *Codec) verifyKey() (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return c.config.PrivateKey, nil
	}
	return parseEdPublicKey(c.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}

// Redact shortens a raw token for logs: first eight characters plus length.
func Redact(raw string) string {
	if len(raw) <= 8 {
		return strings.Repeat("*", len(raw))
	}
	return fmt.Sprintf("%s…(%d)", raw[:8], len(raw))
}
