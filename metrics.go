package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountLocked
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricRefreshRateLimited
	MetricResetRateLimited
	MetricFamilyRevoked
	MetricLogout
	MetricLogoutAll
	MetricResetRequested
	MetricResetConfirmSuccess
	MetricResetConfirmFailure
	MetricTokensPurged
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of atomic counters. A nil *Metrics is valid and
// counts nothing.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

// Name returns the stable string form used by exporters.
func (id MetricID) Name() string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricLoginRateLimited:
		return "login_rate_limited"
	case MetricAccountLocked:
		return "account_locked"
	case MetricRefreshSuccess:
		return "refresh_success"
	case MetricRefreshFailure:
		return "refresh_failure"
	case MetricRefreshReuseDetected:
		return "refresh_reuse_detected"
	case MetricRefreshRateLimited:
		return "refresh_rate_limited"
	case MetricResetRateLimited:
		return "reset_rate_limited"
	case MetricFamilyRevoked:
		return "family_revoked"
	case MetricLogout:
		return "logout"
	case MetricLogoutAll:
		return "logout_all"
	case MetricResetRequested:
		return "reset_requested"
	case MetricResetConfirmSuccess:
		return "reset_confirm_success"
	case MetricResetConfirmFailure:
		return "reset_confirm_failure"
	case MetricTokensPurged:
		return "tokens_purged"
	default:
		return "unknown"
	}
}

// IDs returns every defined metric id, for exporters that iterate.
func IDs() []MetricID {
	ids := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}
