package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vetstack/authcore/password"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
	testUserID   = "u1"
	testDevice   = "device-1"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Issuer = "authcore-test"
	// Minimum argon2 cost keeps the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

var errUnavailableForTest = errors.New("simulated outage")

type testEnv struct {
	engine *Engine
	users  *memUserStore
	redis  *miniredis.Miniredis
	enc    *xorEncService
	cfg    Config
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*testEnv, func()) {
	t.Helper()

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newMemUserStore()
	seedTestUser(t, users, cfg)

	enc := &xorEncService{key: 0x5a}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithEncryption(enc).
		WithWarnFunc(func(string, ...any) {}).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	env := &testEnv{engine: engine, users: users, redis: mr, enc: enc, cfg: cfg}
	return env, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func seedTestUser(t *testing.T, users *memUserStore, cfg Config) {
	t.Helper()

	hasher, err := password.New(cfg.Password)
	if err != nil {
		t.Fatalf("hasher init failed: %v", err)
	}
	seedHash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}

	users.put(&User{
		ID:           testUserID,
		Email:        testEmail,
		PasswordHash: seedHash,
		Role:         "member",
		Status:       AccountActive,
		Profile:      Profile{Name: "Alice"},
	})
}

func mustLogin(t *testing.T, env *testEnv, device string) *LoginResult {
	t.Helper()
	result, err := env.engine.Login(context.Background(), testEmail, testPassword, device)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return result
}

// codeFor derives the TOTP code the authenticator app would show for the
// base32 secret, offset steps from now.
func codeFor(t *testing.T, secretBase32 string, cfg MFAConfig, offset int64) string {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := (time.Now().Unix() / int64(cfg.Period)) + offset
	code, err := hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

// enrollAndConfirm runs the full enrollment handshake and returns the
// setup material.
func enrollAndConfirm(t *testing.T, env *testEnv) *MFASetup {
	t.Helper()
	ctx := context.Background()

	setup, err := env.engine.SetupMFA(ctx, testUserID)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	code := codeFor(t, setup.Secret, env.cfg.MFA, 0)
	if err := env.engine.VerifyMFA(ctx, testUserID, "", code); err != nil {
		t.Fatalf("confirming enrollment failed: %v", err)
	}
	return setup
}

// xorEncService is a stand-in EncryptionService. Not encryption; just
// enough to prove the engine round-trips bundles through the interface.
type xorEncService struct {
	key  byte
	fail bool
}

func (s *xorEncService) Encrypt(_ context.Context, plaintext []byte) (CipherBundle, error) {
	if s.fail {
		return CipherBundle{}, errUnavailableForTest
	}
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ s.key
	}
	return CipherBundle{Cipher: out, IV: []byte{1}, Tag: []byte{2}, KeyVersion: 1}, nil
}

func (s *xorEncService) Decrypt(_ context.Context, bundle CipherBundle) ([]byte, error) {
	if s.fail {
		return nil, errUnavailableForTest
	}
	out := make([]byte, len(bundle.Cipher))
	for i, b := range bundle.Cipher {
		out[i] = b ^ s.key
	}
	return out, nil
}

// completeMFA verifies the pending session with the code for the given
// step offset. Offsets must increase across calls within one test; the
// replay guard rejects a counter at or below the last accepted one.
func completeMFA(t *testing.T, env *testEnv, setup *MFASetup, sessionID string, offset int64) {
	t.Helper()
	code := codeFor(t, setup.Secret, env.cfg.MFA, offset)
	if err := env.engine.VerifyMFA(context.Background(), testUserID, sessionID, code); err != nil {
		t.Fatalf("VerifyMFA failed: %v", err)
	}
}

// memUserStore is the in-memory UserStore the suite runs against.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*User
	creds map[string]*MFACredential

	// failGetByEmail simulates an identity-store outage.
	failGetByEmail error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users: map[string]*User{},
		creds: map[string]*MFACredential{},
	}
}

func (s *memUserStore) put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memUserStore) get(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	if u == nil {
		return nil
	}
	copied := *u
	return &copied
}

func (s *memUserStore) cred(id string) *MFACredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.creds[id]
	if c == nil {
		return nil
	}
	copied := *c
	return &copied
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetByEmail != nil {
		return nil, s.failGetByEmail
	}
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memUserStore) SetMFAEnabled(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Profile.MFAEnabled = enabled
	return nil
}

func (s *memUserStore) SaveMFACredential(_ context.Context, cred *MFACredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cred
	copied.RecoveryCodeHashes = append([][32]byte(nil), cred.RecoveryCodeHashes...)
	s.creds[cred.UserID] = &copied
	return nil
}

func (s *memUserStore) GetMFACredential(_ context.Context, userID string) (*MFACredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *cred
	copied.RecoveryCodeHashes = append([][32]byte(nil), cred.RecoveryCodeHashes...)
	return &copied, nil
}

func (s *memUserStore) DeleteMFACredential(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, userID)
	return nil
}

func (s *memUserStore) UpdateMFALastCounter(_ context.Context, userID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return ErrUserNotFound
	}
	cred.LastUsedCounter = counter
	return nil
}

func (s *memUserStore) ConsumeRecoveryCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return false, nil
	}
	for i, h := range cred.RecoveryCodeHashes {
		if h == hash {
			cred.RecoveryCodeHashes = append(cred.RecoveryCodeHashes[:i], cred.RecoveryCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
