package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/vetstack/authcore/internal/audit"
	internalmetrics "github.com/vetstack/authcore/internal/metrics"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountSuspended
	AccountDeleted
)

// Profile carries the non-credential user attributes the engine reads.
type Profile struct {
	Name       string
	Phone      string
	Timezone   string
	MFAEnabled bool
}

// User is the identity-store record. PasswordHash never leaves the
// engine; responses carry UserInfo instead.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Status       AccountStatus
	Profile      Profile
}

// UserInfo is the response-safe projection of a User.
type UserInfo struct {
	ID         string
	Email      string
	Role       string
	Name       string
	MFAEnabled bool
}

func (u *User) info() UserInfo {
	return UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		Name:       u.Profile.Name,
		MFAEnabled: u.Profile.MFAEnabled,
	}
}

// CipherBundle is the opaque output of the EncryptionService.
type CipherBundle struct {
	Cipher     []byte
	IV         []byte
	Tag        []byte
	KeyVersion uint32
}

// EncryptionService is the injected cryptography collaborator. The
// engine never implements primitives itself; see the crypto subpackage
// for a ready-made AES-GCM implementation.
type EncryptionService interface {
	Encrypt(ctx context.Context, plaintext []byte) (CipherBundle, error)
	Decrypt(ctx context.Context, bundle CipherBundle) ([]byte, error)
}

// MFACredential is the stored MFA enrollment for one user. The shared
// secret exists only inside Secret's ciphertext; recovery codes and the
// backup key are stored as salted hashes and removed as they are used.
type MFACredential struct {
	UserID             string
	Secret             CipherBundle
	RecoveryCodeHashes [][32]byte
	BackupKeyHash      [32]byte
	LastUsedCounter    int64
	Confirmed          bool
	EnrollExpiresAt    time.Time
}

// UserStore is the identity-store contract callers must implement. Every
// mutation must be atomic per user; ConsumeRecoveryCode in particular
// must remove-and-report in one step so a code redeems exactly once
// under concurrency.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error

	SaveMFACredential(ctx context.Context, cred *MFACredential) error
	GetMFACredential(ctx context.Context, userID string) (*MFACredential, error)
	DeleteMFACredential(ctx context.Context, userID string) error
	UpdateMFALastCounter(ctx context.Context, userID string, counter int64) error
	ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// TokenPair is an access/refresh token set.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is the full login response.
type LoginResult struct {
	AccessToken     string
	RefreshToken    string
	SessionID       string
	User            UserInfo
	RequiresMFA     bool
	IsTrustedDevice bool
}

// MFASetup carries the one-time plaintext secrets of a fresh enrollment.
// Nothing in it is ever retrievable again.
type MFASetup struct {
	Secret        string
	QRPayload     string
	RecoveryCodes []string
	BackupKey     string
}

// Audit types re-exported from internal/audit.
type (
	AuditEvent     = internalaudit.Event
	AuditSink      = internalaudit.Sink
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
)

// NewChannelSink creates a buffered channel sink.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a sink writing one JSON event per line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies one in-process counter.
type MetricID = internalmetrics.MetricID

// Exported counter IDs, one per observable engine outcome.
const (
	MetricLoginSuccess       = internalmetrics.MetricLoginSuccess
	MetricLoginFailure       = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited   = internalmetrics.MetricLoginRateLimited
	MetricLoginBlocked       = internalmetrics.MetricLoginBlocked
	MetricRefreshSuccess     = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure     = internalmetrics.MetricRefreshFailure
	MetricRefreshRateLimited = internalmetrics.MetricRefreshRateLimited
	MetricTokenReuseDetected = internalmetrics.MetricTokenReuseDetected
	MetricMFARequired        = internalmetrics.MetricMFARequired
	MetricMFASuccess         = internalmetrics.MetricMFASuccess
	MetricMFAFailure         = internalmetrics.MetricMFAFailure
	MetricMFARateLimited     = internalmetrics.MetricMFARateLimited
	MetricMFAReplayAttempt   = internalmetrics.MetricMFAReplayAttempt
	MetricRecoveryCodeUsed   = internalmetrics.MetricRecoveryCodeUsed
	MetricRecoveryCodeFailed = internalmetrics.MetricRecoveryCodeFailed
	MetricRiskHigh           = internalmetrics.MetricRiskHigh
	MetricRiskReview         = internalmetrics.MetricRiskReview
	MetricSessionCreated     = internalmetrics.MetricSessionCreated
	MetricSessionInvalidated = internalmetrics.MetricSessionInvalidated
	MetricLogout             = internalmetrics.MetricLogout
	MetricLogoutAll          = internalmetrics.MetricLogoutAll
	MetricDeviceTrusted      = internalmetrics.MetricDeviceTrusted
	MetricDeviceTrustRevoked = internalmetrics.MetricDeviceTrustRevoked
	MetricAuthorizeSuccess   = internalmetrics.MetricAuthorizeSuccess
	MetricAuthorizeFailure   = internalmetrics.MetricAuthorizeFailure

	// MetricIDCount is one past the highest MetricID; exporters iterate
	// [0, MetricIDCount).
	MetricIDCount = internalmetrics.MetricIDCount
)

// Metrics holds the engine's atomic counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot
