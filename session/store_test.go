package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return NewStore(rdb, "as"), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func hashByte(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func makeSession(sessionID, userID string, refreshHash [32]byte) *Session {
	now := time.Now()
	return &Session{
		ID:            sessionID,
		UserID:        userID,
		DeviceID:      "dev-1",
		Role:          "member",
		RefreshHash:   refreshHash,
		AccessTokenID: "jti-" + sessionID,
		MFAPending:    false,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(time.Hour).Unix(),
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	want := makeSession("sid-1", "u1", hashByte(1))
	want.MFAPending = true
	if err := store.Create(ctx, want, time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != want.UserID || got.DeviceID != want.DeviceID || got.Role != want.Role {
		t.Fatalf("mismatched session: %+v", got)
	}
	if got.RefreshHash != want.RefreshHash {
		t.Fatal("refresh hash did not round-trip")
	}
	if got.AccessTokenID != want.AccessTokenID {
		t.Fatal("access token id did not round-trip")
	}
	if !got.MFAPending {
		t.Fatal("MFA-pending flag did not round-trip")
	}
	if got.CreatedAt != want.CreatedAt || got.ExpiresAt != want.ExpiresAt {
		t.Fatal("timestamps did not round-trip")
	}
}

func TestGetMissingSession(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, makeSession("sid-ttl", "u1", hashByte(1)), time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "sid-ttl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, makeSession("sid-del", "u1", hashByte(1)), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Delete(ctx, "sid-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "sid-del"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "sid-del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateSwapsHashAndJTI(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	current := hashByte(1)
	next := hashByte(2)
	sess := makeSession("sid-rot", "u1", current)
	sess.MFAPending = true
	if err := store.Create(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	res, err := store.Rotate(ctx, "sid-rot", current, next, "jti-new")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if res.UserID != "u1" || res.Role != "member" || res.DeviceID != "dev-1" {
		t.Fatalf("unexpected rotate result: %+v", res)
	}
	if !res.MFAPending {
		t.Fatal("expected MFA-pending carried through rotation")
	}
	if res.RemainingTTL <= 0 || res.RemainingTTL > time.Hour {
		t.Fatalf("unexpected remaining TTL: %v", res.RemainingTTL)
	}

	got, err := store.Get(ctx, "sid-rot")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RefreshHash != next {
		t.Fatal("expected stored hash swapped")
	}
	if got.AccessTokenID != "jti-new" {
		t.Fatal("expected stored jti swapped")
	}

	// The old hash must no longer rotate.
	if _, err := store.Rotate(ctx, "sid-rot", current, hashByte(3), "jti-x"); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch, got %v", err)
	}
}

func TestRotateMissingSession(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	_, err := store.Rotate(context.Background(), "absent", hashByte(1), hashByte(2), "jti")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	current := hashByte(1)
	if err := store.Create(ctx, makeSession("sid-race", "u1", current), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		next := hashByte(byte(i + 2))
		go func(nextHash [32]byte) {
			defer wg.Done()
			<-start
			_, err := store.Rotate(ctx, "sid-race", current, nextHash, "jti-race")
			results <- err
		}(next)
	}

	close(start)
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshMismatch):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
}

func TestMarkMFAVerified(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	sess := makeSession("sid-mfa", "u1", hashByte(1))
	sess.MFAPending = true
	if err := store.Create(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := store.MarkMFAVerified(ctx, "sid-mfa")
	if err != nil || !ok {
		t.Fatalf("MarkMFAVerified failed: ok=%v err=%v", ok, err)
	}

	got, err := store.Get(ctx, "sid-mfa")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MFAPending {
		t.Fatal("expected pending flag cleared")
	}
}

func TestMarkMFAVerifiedMissingSession(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()

	// Must not resurrect a deleted session as a TTL-less key.
	ok, err := store.MarkMFAVerified(context.Background(), "absent")
	if err != nil {
		t.Fatalf("MarkMFAVerified failed: %v", err)
	}
	if ok {
		t.Fatal("expected false for missing session")
	}
}

func TestDeleteAllForUserReturnsJTIs(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"sid-a", "sid-b"} {
		if err := store.Create(ctx, makeSession(id, "u1", hashByte(1)), time.Hour); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	if err := store.Create(ctx, makeSession("sid-other", "u2", hashByte(1)), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	jtis, err := store.DeleteAllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteAllForUser failed: %v", err)
	}
	if len(jtis) != 2 {
		t.Fatalf("expected 2 jtis, got %v", jtis)
	}

	for _, id := range []string{"sid-a", "sid-b"} {
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected %s deleted, got %v", id, err)
		}
	}
	if _, err := store.Get(ctx, "sid-other"); err != nil {
		t.Fatalf("expected other user's session untouched: %v", err)
	}
}

func TestLiveSessionCountPrunesExpired(t *testing.T) {
	store, mr, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, makeSession("sid-short", "u1", hashByte(1)), time.Minute); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, makeSession("sid-long", "u1", hashByte(2)), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	count, err := store.LiveSessionCount(ctx, "u1")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 live sessions, got %d err=%v", count, err)
	}

	mr.FastForward(2 * time.Minute)

	count, err = store.LiveSessionCount(ctx, "u1")
	if err != nil || count != 1 {
		t.Fatalf("expected 1 live session after expiry, got %d err=%v", count, err)
	}
}

func TestCreateRejectsIncompleteSession(t *testing.T) {
	store, _, done := newTestStore(t)
	defer done()
	ctx := context.Background()

	if err := store.Create(ctx, nil, time.Hour); err == nil {
		t.Fatal("expected nil session rejected")
	}
	if err := store.Create(ctx, &Session{ID: "sid"}, time.Hour); err == nil {
		t.Fatal("expected session without user rejected")
	}
	if err := store.Create(ctx, makeSession("sid", "u1", hashByte(1)), 0); err == nil {
		t.Fatal("expected non-positive TTL rejected")
	}
}
