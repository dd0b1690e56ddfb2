// Package risk implements the suspicious-activity detector. Its output is
// an advisory signal: the orchestrator decides, per configured policy,
// whether a risky login is blocked, upgraded to MFA-required, or allowed.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when the history store cannot be reached.
var ErrStoreUnavailable = errors.New("risk history store unavailable")

// Level grades a login attempt.
type Level uint8

const (
	LevelNone Level = iota
	LevelReview
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelReview:
		return "review"
	case LevelHigh:
		return "high"
	default:
		return "none"
	}
}

// Assessment is the detector verdict for one login attempt.
type Assessment struct {
	Level  Level
	Reason string
}

// Signals are the store-derived facts handed to the scorer.
type Signals struct {
	KnownDevice   bool
	TrustedDevice bool
	KnownSource   bool
}

// Scorer converts signals into an assessment. The exact scoring rule is a
// product decision, so it is injected at construction time; DefaultScorer
// is used when none is provided.
type Scorer func(s Signals) Assessment

// DefaultScorer flags logins from a device that has never been seen and
// never been trusted as high risk, and a recognized device on an unseen
// source address as review-level.
func DefaultScorer(s Signals) Assessment {
	switch {
	case !s.KnownDevice && !s.TrustedDevice:
		return Assessment{Level: LevelHigh, Reason: "unrecognized device"}
	case !s.KnownSource:
		return Assessment{Level: LevelReview, Reason: "unseen source address"}
	default:
		return Assessment{Level: LevelNone}
	}
}

// TrustChecker is the device-trust lookup the detector consults.
type TrustChecker interface {
	IsTrusted(ctx context.Context, userID, deviceID string) (bool, error)
}

// Detector keeps per-user device and source-address history in Redis and
// scores each login against it.
type Detector struct {
	redis      redis.UniversalClient
	prefix     string
	historyTTL time.Duration
	scorer     Scorer
	trust      TrustChecker
}

func New(redisClient redis.UniversalClient, prefix string, historyTTL time.Duration, scorer Scorer, trust TrustChecker) *Detector {
	if prefix == "" {
		prefix = "ark"
	}
	if historyTTL <= 0 {
		historyTTL = 30 * 24 * time.Hour
	}
	if scorer == nil {
		scorer = DefaultScorer
	}
	return &Detector{
		redis:      redisClient,
		prefix:     prefix,
		historyTTL: historyTTL,
		scorer:     scorer,
		trust:      trust,
	}
}

func (d *Detector) deviceKey(userID string) string {
	return d.prefix + ":d:" + userID
}

func (d *Detector) sourceKey(userID string) string {
	return d.prefix + ":s:" + userID
}

// Evaluate scores a login attempt against the user's history. It does not
// record the attempt; call Observe after the attempt is authenticated so
// failed guesses cannot launder a device into the history.
func (d *Detector) Evaluate(ctx context.Context, userID, deviceID, sourceAddr string) (Assessment, error) {
	var sig Signals

	pipe := d.redis.Pipeline()
	devCmd := pipe.SIsMember(ctx, d.deviceKey(userID), deviceID)
	srcCmd := pipe.SIsMember(ctx, d.sourceKey(userID), sourceAddr)
	if _, err := pipe.Exec(ctx); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sig.KnownDevice = deviceID != "" && devCmd.Val()
	sig.KnownSource = sourceAddr != "" && srcCmd.Val()

	if d.trust != nil && deviceID != "" {
		trusted, err := d.trust.IsTrusted(ctx, userID, deviceID)
		if err != nil {
			return Assessment{}, err
		}
		sig.TrustedDevice = trusted
	}

	return d.scorer(sig), nil
}

// Observe adds the device and source address to the user's history.
func (d *Detector) Observe(ctx context.Context, userID, deviceID, sourceAddr string) error {
	_, err := d.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if deviceID != "" {
			pipe.SAdd(ctx, d.deviceKey(userID), deviceID)
			pipe.Expire(ctx, d.deviceKey(userID), d.historyTTL)
		}
		if sourceAddr != "" {
			pipe.SAdd(ctx, d.sourceKey(userID), sourceAddr)
			pipe.Expire(ctx, d.sourceKey(userID), d.historyTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
