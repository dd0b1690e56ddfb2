package authcore

import (
	"errors"
	"time"

	"github.com/vetstack/authcore/internal/risk"
	"github.com/vetstack/authcore/password"
)

// Config is the full engine configuration tree. Zero values are filled
// from defaultConfig() by the Builder; Build validates the result.
type Config struct {
	JWT         JWTConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	MFA         MFAConfig
	DeviceTrust DeviceTrustConfig
	Risk        RiskConfig
	Password    password.Config
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// JWTConfig controls access-token signing and the refresh lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	RedisPrefix        string
	MaxSessionsPerUser int // 0 disables the cap
}

// LimitConfig is one rate-limit keyspace: Points attempts per Window,
// then blocked for Block.
type LimitConfig struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// RateLimitConfig holds the three independent attempt budgets. Separate
// keyspaces mean abuse of one flow cannot starve another.
type RateLimitConfig struct {
	Login     LimitConfig
	MFA       LimitConfig
	Refresh   LimitConfig
	LoginByIP bool // additionally throttle login attempts per source IP
}

// MFAConfig controls TOTP parameters and enrollment.
type MFAConfig struct {
	Issuer           string
	Digits           int
	Period           int // seconds per time step
	Skew             int // accepted steps of clock drift either side
	Algorithm        string
	EnrollmentWindow time.Duration
	RecoveryCodes    int
}

// DeviceTrustConfig controls trusted-device records.
type DeviceTrustConfig struct {
	TTL                time.Duration
	SkipMFAWhenTrusted bool // trusted device waives profile-enabled MFA too
	RevokeOnLogout     bool
}

// RiskPolicy decides what a high-risk login assessment does.
type RiskPolicy uint8

const (
	// PolicyRequireMFA upgrades a risky login to MFA-required. Default.
	PolicyRequireMFA RiskPolicy = iota
	// PolicyAllow records the assessment but never changes the flow.
	PolicyAllow
	// PolicyBlock rejects high-risk logins outright.
	PolicyBlock
)

// RiskConfig controls the suspicious-activity detector.
type RiskConfig struct {
	Policy     RiskPolicy
	HistoryTTL time.Duration
	// Scorer overrides the default scoring rule. The precise heuristic
	// is a product decision, hence injectable.
	Scorer risk.Scorer
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults. Callers typically take
// it, set the JWT key material, and pass the result to WithConfig.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:        "ac",
			MaxSessionsPerUser: 10,
		},
		RateLimit: RateLimitConfig{
			Login:   LimitConfig{Points: 5, Window: time.Hour, Block: 15 * time.Minute},
			MFA:     LimitConfig{Points: 3, Window: 5 * time.Minute, Block: 5 * time.Minute},
			Refresh: LimitConfig{Points: 10, Window: 5 * time.Minute, Block: 5 * time.Minute},
		},
		MFA: MFAConfig{
			Issuer:           "authcore",
			Digits:           6,
			Period:           30,
			Skew:             1,
			Algorithm:        "SHA1",
			EnrollmentWindow: 10 * time.Minute,
			RecoveryCodes:    10,
		},
		DeviceTrust: DeviceTrustConfig{
			TTL: 90 * 24 * time.Hour,
		},
		Risk: RiskConfig{
			Policy:     PolicyRequireMFA,
			HistoryTTL: 30 * 24 * time.Hour,
		},
		Password: password.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.JWT.AccessTTL <= 0 || cfg.JWT.RefreshTTL <= 0 {
		return errors.New("jwt: non-positive token lifetime")
	}
	if cfg.JWT.AccessTTL >= cfg.JWT.RefreshTTL {
		return errors.New("jwt: access TTL must be shorter than refresh TTL")
	}
	for _, lc := range []struct {
		name string
		c    LimitConfig
	}{
		{"login", cfg.RateLimit.Login},
		{"mfa", cfg.RateLimit.MFA},
		{"refresh", cfg.RateLimit.Refresh},
	} {
		if lc.c.Points <= 0 || lc.c.Window <= 0 || lc.c.Block <= 0 {
			return errors.New("ratelimit: incomplete " + lc.name + " keyspace")
		}
	}
	if cfg.MFA.Digits < 6 || cfg.MFA.Digits > 8 {
		return errors.New("mfa: digits must be 6..8")
	}
	if cfg.MFA.Period <= 0 {
		return errors.New("mfa: non-positive period")
	}
	if cfg.MFA.Skew < 0 || cfg.MFA.Skew > 2 {
		return errors.New("mfa: skew must be 0..2")
	}
	if cfg.MFA.EnrollmentWindow <= 0 {
		return errors.New("mfa: non-positive enrollment window")
	}
	if cfg.MFA.RecoveryCodes <= 0 {
		return errors.New("mfa: non-positive recovery code count")
	}
	if cfg.Session.MaxSessionsPerUser < 0 {
		return errors.New("session: negative session cap")
	}
	return nil
}
