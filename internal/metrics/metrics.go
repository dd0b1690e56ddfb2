package metrics

import "sync/atomic"

// MetricID identifies one counter in the in-process metrics set.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginBlocked
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRateLimited
	MetricTokenReuseDetected
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFARateLimited
	MetricMFAReplayAttempt
	MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed
	MetricRiskHigh
	MetricRiskReview
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll
	MetricDeviceTrusted
	MetricDeviceTrustRevoked
	MetricAuthorizeSuccess
	MetricAuthorizeFailure

	MetricIDCount
)

// Name returns the stable metric name used by exporters.
func (id MetricID) Name() string {
	if int(id) < len(metricNames) {
		return metricNames[id]
	}
	return "unknown"
}

var metricNames = [MetricIDCount]string{
	MetricLoginSuccess:       "login_success",
	MetricLoginFailure:       "login_failure",
	MetricLoginRateLimited:   "login_rate_limited",
	MetricLoginBlocked:       "login_blocked",
	MetricRefreshSuccess:     "refresh_success",
	MetricRefreshFailure:     "refresh_failure",
	MetricRefreshRateLimited: "refresh_rate_limited",
	MetricTokenReuseDetected: "token_reuse_detected",
	MetricMFARequired:        "mfa_required",
	MetricMFASuccess:         "mfa_success",
	MetricMFAFailure:         "mfa_failure",
	MetricMFARateLimited:     "mfa_rate_limited",
	MetricMFAReplayAttempt:   "mfa_replay_attempt",
	MetricRecoveryCodeUsed:   "recovery_code_used",
	MetricRecoveryCodeFailed: "recovery_code_failed",
	MetricRiskHigh:           "risk_high",
	MetricRiskReview:         "risk_review",
	MetricSessionCreated:     "session_created",
	MetricSessionInvalidated: "session_invalidated",
	MetricLogout:             "logout",
	MetricLogoutAll:          "logout_all",
	MetricDeviceTrusted:      "device_trusted",
	MetricDeviceTrustRevoked: "device_trust_revoked",
	MetricAuthorizeSuccess:   "authorize_success",
	MetricAuthorizeFailure:   "authorize_failure",
}

// Config controls metric collection.
type Config struct {
	Enabled bool
}

// Metrics holds one atomic counter per MetricID. A disabled instance
// turns every operation into a no-op so hot paths pay nothing.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]atomic.Uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return s
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	return s
}
