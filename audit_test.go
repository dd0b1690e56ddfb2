package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	return &captureSink{events: make(chan AuditEvent, buffer)}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *captureSink) next(t *testing.T) AuditEvent {
	t.Helper()
	select {
	case event := <-s.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func newAuditTestEngine(t *testing.T, sink AuditSink) (*testEnv, func()) {
	t.Helper()

	cfg := testConfig(t)
	cfg.Risk.Policy = PolicyAllow

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newMemUserStore()
	seedTestUser(t, users, cfg)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithEncryption(&xorEncService{key: 0x5a}).
		WithAuditSink(sink).
		WithWarnFunc(func(string, ...any) {}).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	env := &testEnv{engine: engine, users: users, redis: mr, cfg: cfg}
	return env, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func TestLoginEmitsAuditEvents(t *testing.T) {
	sink := newCaptureSink(16)
	env, cleanup := newAuditTestEngine(t, sink)
	defer cleanup()

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	result, err := env.engine.Login(ctx, testEmail, testPassword, testDevice)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	event := sink.next(t)
	if event.Action != "auth.login.success" {
		t.Fatalf("action = %q", event.Action)
	}
	if !event.Success {
		t.Fatal("success event flagged as failure")
	}
	if event.UserID != testUserID || event.DeviceID != testDevice {
		t.Fatalf("event identity = %q/%q", event.UserID, event.DeviceID)
	}
	if event.SessionID != result.SessionID {
		t.Fatalf("event session = %q, want %q", event.SessionID, result.SessionID)
	}
	if event.IP != "203.0.113.7" {
		t.Fatalf("event ip = %q", event.IP)
	}
	if event.ID == "" || event.Timestamp.IsZero() {
		t.Fatal("event missing id or timestamp")
	}
	if event.Error != "" {
		t.Fatalf("success event carries error %q", event.Error)
	}
}

func TestFailedLoginAuditCarriesError(t *testing.T) {
	sink := newCaptureSink(16)
	env, cleanup := newAuditTestEngine(t, sink)
	defer cleanup()

	if _, err := env.engine.Login(context.Background(), testEmail, "wrong-password", testDevice); err == nil {
		t.Fatal("expected login failure")
	}

	event := sink.next(t)
	if event.Action != "auth.login.failure" {
		t.Fatalf("action = %q", event.Action)
	}
	if event.Success {
		t.Fatal("failure event flagged as success")
	}
	if event.Error == "" {
		t.Fatal("failure event missing error")
	}
}

func TestTokenReuseHasDistinctAuditAction(t *testing.T) {
	sink := newCaptureSink(32)
	env, cleanup := newAuditTestEngine(t, sink)
	defer cleanup()

	ctx := context.Background()
	result := mustLogin(t, env, testDevice)
	_ = sink.next(t) // login event

	if _, err := env.engine.Refresh(ctx, result.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_ = sink.next(t) // refresh event

	if _, err := env.engine.Refresh(ctx, result.RefreshToken); err == nil {
		t.Fatal("expected replay rejected")
	}

	event := sink.next(t)
	if event.Action != "auth.refresh.reuse_detected" {
		t.Fatalf("action = %q", event.Action)
	}
	if event.Success {
		t.Fatal("reuse event flagged as success")
	}
}

func TestDisabledAuditEmitsNothing(t *testing.T) {
	env, cleanup := newTestEngine(t, func(cfg *Config) {
		cfg.Audit.Enabled = false
		cfg.Risk.Policy = PolicyAllow
	})
	defer cleanup()

	// No sink is wired either; the point is that the whole path is inert.
	mustLogin(t, env, testDevice)
	if got := env.engine.AuditDropped(); got != 0 {
		t.Fatalf("disabled dispatcher reported %d drops", got)
	}
}
