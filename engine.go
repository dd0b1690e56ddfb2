package authcore

import (
	"log"

	"github.com/vetstack/authcore/internal/audit"
	"github.com/vetstack/authcore/internal/blacklist"
	"github.com/vetstack/authcore/internal/devicetrust"
	"github.com/vetstack/authcore/internal/metrics"
	"github.com/vetstack/authcore/internal/rate"
	"github.com/vetstack/authcore/internal/risk"
	"github.com/vetstack/authcore/password"
	"github.com/vetstack/authcore/session"
	"github.com/vetstack/authcore/token"
)

// Engine orchestrates the authentication flows. Build one per process
// via [Builder] and share it; all methods are safe for concurrent use.
type Engine struct {
	config    Config
	users     UserStore
	enc       EncryptionService
	hasher    *password.Hasher
	decoyHash string
	tokens    *token.Manager
	sessions  *session.Store
	limiter   *rate.Limiter
	blacklist *blacklist.Store
	trust     *devicetrust.Tracker
	risk      *risk.Detector
	totp      *totpManager
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
	warn      func(string, ...any)

	loginKS   rate.Keyspace
	mfaKS     rate.Keyspace
	refreshKS rate.Keyspace
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped under pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) warnf(format string, args ...any) {
	if e.warn != nil {
		e.warn(format, args...)
		return
	}
	log.Printf(format, args...)
}
