package authcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvoss-dev/authcore/audit"
	"github.com/kvoss-dev/authcore/clock"
	"github.com/kvoss-dev/authcore/credential"
	"github.com/kvoss-dev/authcore/jwt"
	"github.com/kvoss-dev/authcore/lockout"
	"github.com/kvoss-dev/authcore/rate"
	"github.com/kvoss-dev/authcore/store"
	"github.com/kvoss-dev/authcore/token"
)

// ErrUserNotFound is what a UserProvider returns for an unknown email or id.
// The engine folds it into ErrInvalidCredentials before responding.
var ErrUserNotFound = errors.New("user not found")

// User is the account record the engine needs. The provider owns the rest
// of the profile.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
}

// UserProvider is the account port. Implementations must return
// ErrUserNotFound for unknown users rather than a zero User.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// Dependencies are the ports the engine is wired with. Users, Refresh, and
// Resets are mandatory; Lockouts is mandatory because the lockout policy is
// not optional. Limiter is required only while rate limiting is enabled.
// Clock defaults to the wall clock, Logger to a silent logger, and Sink is
// only consulted when auditing is enabled.
type Dependencies struct {
	Users    UserProvider
	Refresh  store.RefreshTokens
	Resets   store.ResetTokens
	Lockouts lockout.Tracker
	Limiter  rate.Limiter
	Clock    clock.Clock
	Logger   *slog.Logger
	Sink     audit.Sink
}

// Engine implements the credential and token lifecycle: login, refresh
// rotation with reuse detection, logout, and single-use password reset.
// All methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	clk      clock.Clock
	codec    *jwt.Codec
	hasher   *credential.Hasher
	users    UserProvider
	refresh  store.RefreshTokens
	resets   store.ResetTokens
	lockouts lockout.Tracker
	limiter  rate.Limiter
	audit    *audit.Dispatcher
	metrics  *Metrics
	log      *slog.Logger

	purgeDone chan struct{}
	purgeWG   sync.WaitGroup
	closeOnce sync.Once
}

// New validates the configuration, wires the dependencies, and starts the
// background purge loop when enabled. Call Close to release it.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Users == nil {
		return nil, errors.New("engine: user provider is required")
	}
	if deps.Refresh == nil || deps.Resets == nil {
		return nil, errors.New("engine: token stores are required")
	}
	if deps.Lockouts == nil {
		return nil, errors.New("engine: lockout tracker is required")
	}
	if cfg.RateLimit.Enabled && deps.Limiter == nil {
		return nil, errors.New("engine: rate limiter is required while rate limiting is enabled")
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	if cfg.JWT.TimeFunc == nil {
		cfg.JWT.TimeFunc = clk.Now
	}

	codec, err := jwt.NewCodec(cfg.JWT)
	if err != nil {
		return nil, err
	}
	hasher, err := credential.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		cfg:       cfg,
		clk:       clk,
		codec:     codec,
		hasher:    hasher,
		users:     deps.Users,
		refresh:   deps.Refresh,
		resets:    deps.Resets,
		lockouts:  deps.Lockouts,
		limiter:   deps.Limiter,
		audit:     audit.NewDispatcher(cfg.Audit, deps.Sink),
		metrics:   NewMetrics(cfg.Metrics),
		log:       log,
		purgeDone: make(chan struct{}),
	}

	if cfg.Purge.Enabled {
		e.purgeWG.Add(1)
		go e.purgeLoop()
	}

	return e, nil
}

// Close stops the purge loop and flushes the audit dispatcher.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.purgeDone)
		e.purgeWG.Wait()
		e.audit.Close()
	})
}

// Metrics returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded under load.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// VerifyAccess validates a raw access token and returns its claims.
// Failures collapse into ErrTokenExpired or ErrTokenInvalid.
func (e *Engine) VerifyAccess(raw string) (jwt.Claims, error) {
	claims, err := e.codec.Verify(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return jwt.Claims{}, ErrTokenExpired
		}
		return jwt.Claims{}, ErrTokenInvalid
	}
	if claims.Purpose != jwt.PurposeAccess {
		return jwt.Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// normalizeEmail is the canonical form used for lockout and rate-limit keys.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// throttle enforces the fixed-window budget for one operation. The subject
// key is always checked; a per-IP key is added when IP throttling is on and
// the context carries an address. Both counters advance only when the
// request is allowed through.
func (e *Engine) throttle(ctx context.Context, op, subject string, limit int, window time.Duration, metric MetricID) error {
	if !e.cfg.RateLimit.Enabled || e.limiter == nil {
		return nil
	}

	keys := []string{op + ":" + subject}
	if e.cfg.RateLimit.EnableIPThrottle {
		if ip := clientIPFromContext(ctx); ip != "" {
			keys = append(keys, op+":ip:"+ip)
		}
	}

	for _, key := range keys {
		result, err := e.limiter.Check(ctx, key, limit, window)
		if err != nil {
			return fmt.Errorf("%s: rate check: %w", op, err)
		}
		if !result.Allowed {
			e.metrics.Inc(metric)
			e.emit(ctx, audit.Event{
				Type:     audit.TypeRateLimited,
				Metadata: map[string]string{"operation": op, "key": key},
			})
			return &RateLimitError{RetryAfter: result.RetryAfter}
		}
	}
	for _, key := range keys {
		if _, err := e.limiter.Increment(ctx, key, window); err != nil {
			return fmt.Errorf("%s: rate increment: %w", op, err)
		}
	}
	return nil
}

// emit stamps and forwards an audit event. Safe with auditing disabled.
func (e *Engine) emit(ctx context.Context, event audit.Event) {
	event.Timestamp = e.clk.Now()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// issueAccess signs a stateless access token for the user.
func (e *Engine) issueAccess(userID, email string, now time.Time) (string, time.Time, error) {
	raw, err := e.codec.Issue(jwt.Claims{
		Purpose: jwt.PurposeAccess,
		UserID:  userID,
		Email:   email,
	}, now, e.cfg.Token.AccessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, now.Add(e.cfg.Token.AccessTTL), nil
}

// issueRootPair mints a fresh token family at login. The record id is
// generated first so it can be embedded in the signed refresh value, whose
// hash then becomes the storage key.
func (e *Engine) issueRootPair(ctx context.Context, user User, device string, now time.Time) (TokenPair, error) {
	id := uuid.NewString()
	rawRefresh, err := e.codec.Issue(jwt.Claims{
		Purpose: jwt.PurposeRefresh,
		UserID:  user.ID,
		TokenID: id,
	}, now, e.cfg.Token.RefreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh: %w", err)
	}

	record := token.NewRefreshRoot(id, user.ID, device, token.HashValue(rawRefresh), now, e.cfg.Token.RefreshTTL)
	if err := e.refresh.Save(ctx, record); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh: %w", err)
	}

	rawAccess, accessExpiry, err := e.issueAccess(user.ID, user.Email, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}

	return TokenPair{
		UserID:           user.ID,
		AccessToken:      rawAccess,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: record.ExpiresAt(),
	}, nil
}

// issueChildPair mints the successor of a just-rotated refresh token.
func (e *Engine) issueChildPair(ctx context.Context, parent token.RefreshToken, email string, now time.Time) (TokenPair, error) {
	id := uuid.NewString()
	rawRefresh, err := e.codec.Issue(jwt.Claims{
		Purpose: jwt.PurposeRefresh,
		UserID:  parent.UserID(),
		TokenID: id,
	}, now, e.cfg.Token.RefreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh: %w", err)
	}

	child := parent.NewChild(id, token.HashValue(rawRefresh), now, e.cfg.Token.RefreshTTL)
	if err := e.refresh.Save(ctx, child); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh: %w", err)
	}

	rawAccess, accessExpiry, err := e.issueAccess(parent.UserID(), email, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}

	return TokenPair{
		UserID:           parent.UserID(),
		AccessToken:      rawAccess,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     rawRefresh,
		RefreshExpiresAt: child.ExpiresAt(),
	}, nil
}
