package authcore

import (
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
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

// Builder assembles an [Engine]. Construction is allocation-only; the
// first store round-trip happens inside the first engine call, not here.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  UserStore
	enc    EncryptionService
	sink   AuditSink
	warn   func(string, ...any)
	built  bool
}

// New returns a Builder preloaded with production defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the keyed store shared by sessions, rate-limit buckets,
// the token blacklist, device trust, and risk history.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the identity-store collaborator.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithEncryption sets the encryption collaborator used for MFA secrets.
func (b *Builder) WithEncryption(enc EncryptionService) *Builder {
	b.enc = enc
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithWarnFunc overrides the operational warning logger (default:
// stdlib log.Printf).
func (b *Builder) WithWarnFunc(warn func(string, ...any)) *Builder {
	b.warn = warn
	return b
}

// Build validates the configuration and wires the engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("user store is required")
	}
	if b.enc == nil {
		return nil, errors.New("encryption service is required")
	}
	if err := validateConfig(&b.config); err != nil {
		return nil, err
	}

	hasher, err := password.New(b.config.Password)
	if err != nil {
		return nil, err
	}
	// The decoy hash equalizes the unknown-email and wrong-password
	// latency profiles. Hashing a random value here keeps it unguessable.
	decoy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     b.config.JWT.AccessTTL,
		SigningMethod: token.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Audience:      b.config.JWT.Audience,
		Leeway:        b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	prefix := b.config.Session.RedisPrefix
	trust := devicetrust.New(b.redis, prefix+":dt", b.config.DeviceTrust.TTL)

	e := &Engine{
		config:    b.config,
		users:     b.users,
		enc:       b.enc,
		hasher:    hasher,
		decoyHash: decoy,
		tokens:    tokens,
		sessions:  session.NewStore(b.redis, prefix),
		limiter:   rate.New(b.redis),
		blacklist: blacklist.New(b.redis, prefix+":bl"),
		trust:     trust,
		risk:      risk.New(b.redis, prefix+":rk", b.config.Risk.HistoryTTL, b.config.Risk.Scorer, trust),
		totp:      newTOTPManager(b.config.MFA),
		metrics: metrics.New(metrics.Config{
			Enabled: b.config.Metrics.Enabled,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    b.config.Audit.Enabled,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, b.sink),
		warn: b.warn,

		loginKS: rate.Keyspace{
			Prefix: prefix + ":rl:login",
			Points: b.config.RateLimit.Login.Points,
			Window: b.config.RateLimit.Login.Window,
			Block:  b.config.RateLimit.Login.Block,
		},
		mfaKS: rate.Keyspace{
			Prefix: prefix + ":rl:mfa",
			Points: b.config.RateLimit.MFA.Points,
			Window: b.config.RateLimit.MFA.Window,
			Block:  b.config.RateLimit.MFA.Block,
		},
		refreshKS: rate.Keyspace{
			Prefix: prefix + ":rl:refresh",
			Points: b.config.RateLimit.Refresh.Points,
			Window: b.config.RateLimit.Refresh.Window,
			Block:  b.config.RateLimit.Refresh.Block,
		},
	}

	b.built = true
	return e, nil
}
