// Package otel bridges the engine's in-process counters into
// OpenTelemetry. The exporter registers one Int64ObservableCounter per
// engine metric plus one for dropped audit events; a single callback
// reads a metrics snapshot on each collection cycle.
//
// The caller owns the MeterProvider; this package only borrows a Meter.
package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/vetstack/authcore"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter owns the OTel instruments and the registered callback. Close
// unregisters the callback; the instruments are garbage after that.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

// New registers observable counters for every engine metric on meter.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, authcore.MetricIDCount),
	}
	observables := make([]metric.Observable, 0, authcore.MetricIDCount+1)

	for id := authcore.MetricID(0); id < authcore.MetricIDCount; id++ {
		name := "authcore_" + id.Name() + "_total"
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(counterHelp(id)))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		e.counters = append(e.counters, observedCounter{id: id, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := e.source.MetricsSnapshot()
		for _, c := range e.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	e.registration = registration
	return e, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func counterHelp(id authcore.MetricID) string {
	switch id {
	case authcore.MetricLoginSuccess:
		return "Successful logins."
	case authcore.MetricLoginFailure:
		return "Failed login attempts."
	case authcore.MetricLoginRateLimited:
		return "Rate-limited login attempts."
	case authcore.MetricLoginBlocked:
		return "Logins blocked by risk policy."
	case authcore.MetricRefreshSuccess:
		return "Successful token refreshes."
	case authcore.MetricRefreshFailure:
		return "Failed token refreshes."
	case authcore.MetricRefreshRateLimited:
		return "Rate-limited refresh attempts."
	case authcore.MetricTokenReuseDetected:
		return "Refresh token reuse incidents."
	case authcore.MetricMFARequired:
		return "Logins that required an MFA step."
	case authcore.MetricMFASuccess:
		return "Successful MFA verifications."
	case authcore.MetricMFAFailure:
		return "Failed MFA verifications."
	case authcore.MetricMFARateLimited:
		return "Rate-limited MFA attempts."
	case authcore.MetricMFAReplayAttempt:
		return "Replayed MFA codes rejected."
	case authcore.MetricRecoveryCodeUsed:
		return "Recovery codes or backup keys redeemed."
	case authcore.MetricRecoveryCodeFailed:
		return "Invalid recovery code attempts."
	case authcore.MetricRiskHigh:
		return "Logins graded high risk."
	case authcore.MetricRiskReview:
		return "Logins graded review risk."
	case authcore.MetricSessionCreated:
		return "Sessions created."
	case authcore.MetricSessionInvalidated:
		return "Sessions invalidated."
	case authcore.MetricLogout:
		return "Single-session logouts."
	case authcore.MetricLogoutAll:
		return "All-session logouts."
	case authcore.MetricDeviceTrusted:
		return "Devices marked trusted."
	case authcore.MetricDeviceTrustRevoked:
		return "Device trust revocations."
	case authcore.MetricAuthorizeSuccess:
		return "Access tokens accepted."
	case authcore.MetricAuthorizeFailure:
		return "Access tokens rejected."
	default:
		return "Engine counter."
	}
}
