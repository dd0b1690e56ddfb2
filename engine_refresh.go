package authcore

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/vetstack/authcore/internal"
	"github.com/vetstack/authcore/internal/rate"
	"github.com/vetstack/authcore/session"
	"github.com/vetstack/authcore/token"
)

// Refresh exchanges a live refresh token for a fresh access/refresh pair.
// Rotation is a server-side compare-and-swap, so of any number of
// concurrent calls presenting the same token exactly one succeeds.
//
// A token that fails the swap, or one that was already retired by a
// previous rotation, is treated as stolen: the session is invalidated so
// neither the attacker nor the legitimate holder keeps access, and the
// caller sees ErrTokenReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshFailure, false, "", "", "", ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	}

	if res, err := e.limiter.Consume(ctx, e.refreshKS, sessionID, 1); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditRefreshFailure, false, "", sessionID, "", ErrRateLimited, nil)
			return nil, rateLimitErr(res.RetryAfter)
		}
		return nil, storeErr(err)
	}

	providedHash := internal.HashRefreshSecret(secret)

	// A retired hash lands on the blacklist when it is rotated out. Seeing
	// one presented again is the canonical stolen-token replay.
	revoked, err := e.blacklist.IsRevoked(ctx, hex.EncodeToString(providedHash[:]))
	if err != nil {
		return nil, storeErr(err)
	}
	if revoked {
		return nil, e.handleTokenReuse(ctx, sessionID)
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, storeErr(err)
	}
	nextRefresh, err := internal.EncodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		return nil, storeErr(err)
	}

	jti := token.NewTokenID()
	rotated, err := e.sessions.Rotate(ctx, sessionID, providedHash, internal.HashRefreshSecret(nextSecret), jti)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditRefreshFailure, false, "", sessionID, "", ErrSessionNotFound, nil)
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrRefreshMismatch):
			return nil, e.handleTokenReuse(ctx, sessionID)
		default:
			return nil, storeErr(err)
		}
	}

	// Retire the presented hash for as long as the session could have
	// lived, so replays keep hitting the blacklist check above.
	if rotated.RemainingTTL > 0 {
		if err := e.blacklist.Revoke(ctx, hex.EncodeToString(providedHash[:]), rotated.RemainingTTL); err != nil {
			e.warnf("authcore: retiring rotated refresh hash failed: %v", err)
		}
	}

	access, err := e.tokens.Issue(jti, rotated.UserID, sessionID, rotated.Role, rotated.MFAPending)
	if err != nil {
		// The swap already happened and the client's old token is dead.
		// Without a deliverable replacement the session is unusable, so
		// remove it rather than leave it half-rotated.
		if derr := e.sessions.Delete(ctx, sessionID); derr != nil {
			e.warnf("authcore: removing half-rotated session failed: %v", derr)
		}
		return nil, storeErr(err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRefreshSuccess, true, rotated.UserID, sessionID, rotated.DeviceID, nil, nil)
	return &TokenPair{AccessToken: access, RefreshToken: nextRefresh}, nil
}

// handleTokenReuse invalidates the whole session on a replayed refresh
// token. The holder of the current token loses access too; forcing a new
// login is the only safe outcome once two parties hold rotation state.
func (e *Engine) handleTokenReuse(ctx context.Context, sessionID string) error {
	var userID string
	if sess, err := e.sessions.Get(ctx, sessionID); err == nil {
		userID = sess.UserID
		if err := e.blacklist.Revoke(ctx, sess.AccessTokenID, e.config.JWT.AccessTTL); err != nil {
			e.warnf("authcore: revoking access token after reuse failed: %v", err)
		}
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		e.warnf("authcore: invalidating session after reuse failed: %v", err)
	}

	e.metricInc(MetricTokenReuseDetected)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditTokenReuse, false, userID, sessionID, "", ErrTokenReuse, nil)
	return ErrTokenReuse
}
