package authcore

import (
	"errors"
	"time"

	"github.com/kvoss-dev/authcore/audit"
	"github.com/kvoss-dev/authcore/credential"
	"github.com/kvoss-dev/authcore/jwt"
	"github.com/kvoss-dev/authcore/lockout"
)

// Config holds all engine tuning. Treat as immutable after New.
type Config struct {
	JWT       jwt.Config
	Token     TokenConfig
	Password  credential.Params
	Lockout   lockout.Config
	RateLimit RateLimitConfig
	Audit     audit.Config
	Metrics   MetricsConfig
	Purge     PurgeConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig sets the validity windows for the three token kinds.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig tunes the request-level limiter. Keys are prefixed per
// operation, so login and reset budgets never collide.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool

	LoginLimit  int
	LoginWindow time.Duration

	RefreshLimit  int
	RefreshWindow time.Duration

	ResetLimit  int
	ResetWindow time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
PURGE CONFIG
====================================
*/

// PurgeConfig tunes the background sweep of expired rows and elapsed
// rate-limit windows.
type PurgeConfig struct {
	Enabled  bool
	Interval time.Duration
}

// DefaultConfig returns development-friendly settings: short windows,
// permissive limits, audit off.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			ResetTTL:   30 * time.Minute,
		},
		Password: credential.DefaultParams(),
		Lockout:  lockout.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:       true,
			LoginLimit:    10,
			LoginWindow:   time.Minute,
			RefreshLimit:  30,
			RefreshWindow: time.Minute,
			ResetLimit:    5,
			ResetWindow:   10 * time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true},
		Purge: PurgeConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
	}
}

// ProductionConfig tightens the defaults: IP throttling on, stricter
// limits, buffered audit.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimit.EnableIPThrottle = true
	cfg.RateLimit.LoginLimit = 5
	cfg.RateLimit.ResetLimit = 3
	cfg.Audit = audit.Config{
		Enabled:    true,
		BufferSize: 1024,
		DropIfFull: true,
	}
	return cfg
}

// Validate rejects configurations that would silently disable security
// properties.
func (c Config) Validate() error {
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 || c.Token.ResetTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("config: access TTL must be shorter than refresh TTL")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.BaseDuration <= 0 {
		return errors.New("config: lockout threshold and base duration must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.LoginLimit <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("config: login rate limit must be positive when enabled")
		}
		if c.RateLimit.RefreshLimit <= 0 || c.RateLimit.RefreshWindow <= 0 {
			return errors.New("config: refresh rate limit must be positive when enabled")
		}
		if c.RateLimit.ResetLimit <= 0 || c.RateLimit.ResetWindow <= 0 {
			return errors.New("config: reset rate limit must be positive when enabled")
		}
	}
	if c.Purge.Enabled && c.Purge.Interval <= 0 {
		return errors.New("config: purge interval must be positive when enabled")
	}
	return nil
}
