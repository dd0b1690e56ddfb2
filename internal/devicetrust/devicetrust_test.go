package devicetrust

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T, ttl time.Duration) (*Tracker, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return New(rdb, "adt", ttl), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestTrustThenIsTrusted(t *testing.T) {
	tracker, _, done := newTestTracker(t, time.Hour)
	defer done()
	ctx := context.Background()

	trusted, err := tracker.IsTrusted(ctx, "u1", "d1")
	if err != nil || trusted {
		t.Fatalf("expected untrusted fresh device, trusted=%v err=%v", trusted, err)
	}

	if err := tracker.Trust(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	trusted, err = tracker.IsTrusted(ctx, "u1", "d1")
	if err != nil || !trusted {
		t.Fatalf("expected trusted, trusted=%v err=%v", trusted, err)
	}

	// Scoped per user.
	trusted, err = tracker.IsTrusted(ctx, "u2", "d1")
	if err != nil || trusted {
		t.Fatalf("expected other user's view untrusted, trusted=%v err=%v", trusted, err)
	}
}

func TestTrustExpires(t *testing.T) {
	tracker, mr, done := newTestTracker(t, time.Minute)
	defer done()
	ctx := context.Background()

	if err := tracker.Trust(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	trusted, err := tracker.IsTrusted(ctx, "u1", "d1")
	if err != nil || trusted {
		t.Fatalf("expected trust expired, trusted=%v err=%v", trusted, err)
	}
}

func TestTouchRefreshesOnlyExistingRecords(t *testing.T) {
	tracker, mr, done := newTestTracker(t, time.Minute)
	defer done()
	ctx := context.Background()

	refreshed, err := tracker.Touch(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if refreshed {
		t.Fatal("expected no-op touch for missing record")
	}
	if trusted, _ := tracker.IsTrusted(ctx, "u1", "d1"); trusted {
		t.Fatal("touch must not create a record")
	}

	if err := tracker.Trust(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	mr.FastForward(30 * time.Second)

	refreshed, err = tracker.Touch(ctx, "u1", "d1")
	if err != nil || !refreshed {
		t.Fatalf("expected refresh, refreshed=%v err=%v", refreshed, err)
	}

	// The touch restarted the TTL, so the original deadline passes safely.
	mr.FastForward(45 * time.Second)
	if trusted, _ := tracker.IsTrusted(ctx, "u1", "d1"); !trusted {
		t.Fatal("expected trust still live after touch")
	}
}

func TestRevokeRemovesRecord(t *testing.T) {
	tracker, _, done := newTestTracker(t, time.Hour)
	defer done()
	ctx := context.Background()

	if err := tracker.Trust(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	if err := tracker.Revoke(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if trusted, _ := tracker.IsTrusted(ctx, "u1", "d1"); trusted {
		t.Fatal("expected trust revoked")
	}

	// Revoking again is a no-op.
	if err := tracker.Revoke(ctx, "u1", "d1"); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
}

func TestGetReturnsRecordTimes(t *testing.T) {
	tracker, _, done := newTestTracker(t, time.Hour)
	defer done()
	ctx := context.Background()

	if rec, err := tracker.Get(ctx, "u1", "d1"); err != nil || rec != nil {
		t.Fatalf("expected nil record, rec=%v err=%v", rec, err)
	}

	if err := tracker.Trust(ctx, "u1", "d1"); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}

	rec, err := tracker.Get(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil || rec.UserID != "u1" || rec.DeviceID != "d1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.TrustedAt.IsZero() || rec.LastSeen.IsZero() {
		t.Fatalf("expected timestamps populated: %+v", rec)
	}
}

func TestEmptyDeviceIDIsNoop(t *testing.T) {
	tracker, _, done := newTestTracker(t, time.Hour)
	defer done()
	ctx := context.Background()

	if err := tracker.Trust(ctx, "u1", ""); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	if trusted, err := tracker.IsTrusted(ctx, "u1", ""); err != nil || trusted {
		t.Fatalf("expected empty device never trusted, trusted=%v err=%v", trusted, err)
	}
}
