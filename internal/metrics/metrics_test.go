package metrics

import (
	"sync"
	"testing"
)

func TestIncAndValue(t *testing.T) {
	m := New(Config{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricTokenReuseDetected)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login_success = %d, want 2", got)
	}
	if got := m.Value(MetricTokenReuseDetected); got != 1 {
		t.Fatalf("token_reuse_detected = %d, want 1", got)
	}
	if got := m.Value(MetricLogout); got != 0 {
		t.Fatalf("untouched counter = %d, want 0", got)
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(Config{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if m.Enabled() {
		t.Fatal("Enabled() should report false")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter incremented to %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d entries", len(snap.Counters))
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	if m.Enabled() {
		t.Fatal("nil Enabled() should report false")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("nil Value = %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("nil snapshot has %d entries", len(snap.Counters))
	}
}

func TestSnapshotCoversEveryCounter(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(MetricMFASuccess)

	snap := m.Snapshot()
	if len(snap.Counters) != int(MetricIDCount) {
		t.Fatalf("snapshot has %d entries, want %d", len(snap.Counters), MetricIDCount)
	}
	if snap.Counters[MetricMFASuccess] != 1 {
		t.Fatalf("mfa_success = %d, want 1", snap.Counters[MetricMFASuccess])
	}

	// Snapshot is a copy, not a live view.
	m.Inc(MetricMFASuccess)
	if snap.Counters[MetricMFASuccess] != 1 {
		t.Fatal("snapshot mutated after Inc")
	}
}

func TestMetricNamesAreUniqueAndStable(t *testing.T) {
	seen := map[string]MetricID{}
	for id := MetricID(0); id < MetricIDCount; id++ {
		name := id.Name()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("metrics %d and %d share name %q", prev, id, name)
		}
		seen[name] = id
	}
	if MetricIDCount.Name() != "unknown" {
		t.Fatalf("out of range name = %q", MetricIDCount.Name())
	}
}

func TestConcurrentInc(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != 8000 {
		t.Fatalf("refresh_success = %d, want 8000", got)
	}
}
