package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vetstack/authcore/internal"
	"github.com/vetstack/authcore/internal/rate"
	"github.com/vetstack/authcore/internal/risk"
	"github.com/vetstack/authcore/session"
	"github.com/vetstack/authcore/token"
)

// Login authenticates the credential pair and, on success, creates a
// session and returns both tokens. deviceID is the caller-computed device
// fingerprint; it feeds device trust and risk scoring and may be empty.
//
// Failure ordering is strict: the attempt budget is consumed before the
// password is checked, so a blocked key fails immediately even with the
// correct password. The counter is cleared again on success; an active
// block is never cleared early.
//
// When the returned LoginResult has RequiresMFA set, the access token is
// restricted until VerifyMFA or RedeemRecoveryCode completes the login.
func (e *Engine) Login(ctx context.Context, email, pass, deviceID string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || pass == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	ip := clientIPFromContext(ctx)

	if res, err := e.consumeLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditLoginRateLimited, false, "", "", deviceID, ErrRateLimited, map[string]string{"email": email})
			return nil, rateLimitErr(res.RetryAfter)
		}
		return nil, storeErr(err)
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn the same argon2 work an existing account would cost,
			// so response timing does not reveal which emails exist.
			_, _ = e.hasher.Verify(pass, e.decoyHash)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditLoginFailure, false, "", "", deviceID, ErrInvalidCredentials, map[string]string{"email": email})
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	match, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return nil, storeErr(err)
	}
	if !match {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", deviceID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if user.Status != AccountActive {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", deviceID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	assessment, riskMFA, err := e.assessLoginRisk(ctx, user.ID, deviceID, ip)
	if err != nil {
		e.emitAudit(ctx, auditLoginRiskBlocked, false, user.ID, "", deviceID, err, map[string]string{"reason": assessment.Reason})
		return nil, err
	}

	trusted := false
	if deviceID != "" {
		trusted, err = e.trust.IsTrusted(ctx, user.ID, deviceID)
		if err != nil {
			// Fail closed: an unreachable trust store means not trusted.
			e.warnf("authcore: device trust lookup failed: %v", err)
			trusted = false
		}
	}

	requiresMFA := false
	if user.Profile.MFAEnabled && !(trusted && e.config.DeviceTrust.SkipMFAWhenTrusted) {
		requiresMFA = true
	}
	// Trust implies a previously completed verification on this device,
	// which is exactly what risk-demanded MFA would re-establish.
	if riskMFA && !trusted {
		requiresMFA = true
	}
	if requiresMFA {
		e.metricInc(MetricMFARequired)
	}

	if max := e.config.Session.MaxSessionsPerUser; max > 0 {
		live, err := e.sessions.LiveSessionCount(ctx, user.ID)
		if err != nil {
			return nil, storeErr(err)
		}
		if live >= max {
			e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", deviceID, ErrSessionLimitExceeded, nil)
			return nil, ErrSessionLimitExceeded
		}
	}

	result, err := e.establishSession(ctx, user, deviceID, requiresMFA)
	if err != nil {
		return nil, err
	}
	result.IsTrustedDevice = trusted
	result.RequiresMFA = requiresMFA

	// Post-success housekeeping is best effort; the login already holds.
	if err := e.risk.Observe(ctx, user.ID, deviceID, ip); err != nil {
		e.warnf("authcore: recording login history failed: %v", err)
	}
	if trusted {
		if _, err := e.trust.Touch(ctx, user.ID, deviceID); err != nil {
			e.warnf("authcore: refreshing device trust failed: %v", err)
		}
	}
	e.resetLogin(ctx, email, ip)

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditLoginSuccess, true, user.ID, result.SessionID, deviceID, nil, map[string]string{
		"risk":         assessment.Level.String(),
		"requires_mfa": boolStr(requiresMFA),
	})
	return result, nil
}

// consumeLogin charges the attempt against the email bucket and, when
// configured, the source-IP bucket. The first blocked bucket wins.
func (e *Engine) consumeLogin(ctx context.Context, email, ip string) (rate.Result, error) {
	res, err := e.limiter.Consume(ctx, e.loginKS, "e:"+email, 1)
	if err != nil {
		return res, err
	}
	if e.config.RateLimit.LoginByIP && ip != "" {
		return e.limiter.Consume(ctx, e.loginKS, "ip:"+ip, 1)
	}
	return res, nil
}

func (e *Engine) resetLogin(ctx context.Context, email, ip string) {
	if err := e.limiter.Reset(ctx, e.loginKS, "e:"+email); err != nil {
		e.warnf("authcore: resetting login counter failed: %v", err)
	}
	if e.config.RateLimit.LoginByIP && ip != "" {
		if err := e.limiter.Reset(ctx, e.loginKS, "ip:"+ip); err != nil {
			e.warnf("authcore: resetting login counter failed: %v", err)
		}
	}
}

// assessLoginRisk scores the attempt and applies the configured policy.
// The second return reports whether the policy demands MFA. When the
// history store is down the attempt is graded high rather than skipping
// the check; only PolicyBlock turns that into a hard failure.
func (e *Engine) assessLoginRisk(ctx context.Context, userID, deviceID, ip string) (risk.Assessment, bool, error) {
	if e.config.Risk.Policy == PolicyAllow {
		assessment, err := e.risk.Evaluate(ctx, userID, deviceID, ip)
		if err != nil {
			e.warnf("authcore: risk evaluation failed: %v", err)
			return risk.Assessment{}, false, nil
		}
		e.countRisk(assessment)
		return assessment, false, nil
	}

	assessment, err := e.risk.Evaluate(ctx, userID, deviceID, ip)
	if err != nil {
		e.warnf("authcore: risk evaluation failed: %v", err)
		if e.config.Risk.Policy == PolicyBlock {
			return risk.Assessment{}, false, storeErr(err)
		}
		assessment = risk.Assessment{Level: risk.LevelHigh, Reason: "history unavailable"}
	}
	e.countRisk(assessment)

	if assessment.Level != risk.LevelHigh {
		return assessment, false, nil
	}
	if e.config.Risk.Policy == PolicyBlock {
		e.metricInc(MetricLoginBlocked)
		return assessment, false, ErrSuspiciousActivity
	}
	return assessment, true, nil
}

func (e *Engine) countRisk(a risk.Assessment) {
	switch a.Level {
	case risk.LevelHigh:
		e.metricInc(MetricRiskHigh)
	case risk.LevelReview:
		e.metricInc(MetricRiskReview)
	}
}

// establishSession mints the token pair and persists the session. The
// steps are ordered so any failure can be unwound: a signed access token
// whose session never materialized is blacklisted on the spot, leaving
// nothing redeemable behind.
func (e *Engine) establishSession(ctx context.Context, user *User, deviceID string, mfaPending bool) (*LoginResult, error) {
	sessionID, err := internal.NewSessionID()
	if err != nil {
		return nil, storeErr(err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, storeErr(err)
	}
	refresh, err := internal.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, storeErr(err)
	}

	jti := token.NewTokenID()
	access, err := e.tokens.Issue(jti, user.ID, sessionID, user.Role, mfaPending)
	if err != nil {
		return nil, storeErr(err)
	}

	now := time.Now()
	sess := &session.Session{
		ID:            sessionID,
		UserID:        user.ID,
		DeviceID:      deviceID,
		Role:          user.Role,
		RefreshHash:   internal.HashRefreshSecret(secret),
		AccessTokenID: jti,
		MFAPending:    mfaPending,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.JWT.RefreshTTL).Unix(),
	}
	if err := e.sessions.Create(ctx, sess, e.config.JWT.RefreshTTL); err != nil {
		if rerr := e.blacklist.Revoke(ctx, jti, e.config.JWT.AccessTTL); rerr != nil {
			e.warnf("authcore: revoking orphaned access token failed: %v", rerr)
		}
		return nil, storeErr(err)
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
		User:         user.info(),
	}, nil
}

// storeErr folds backing-store failures into the exported sentinel while
// passing already-classified engine errors through untouched.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
