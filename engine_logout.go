package authcore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vetstack/authcore/session"
)

// Logout invalidates the session and blacklists its outstanding tokens
// for their natural remaining lifetimes. Logging out an already-gone
// session is not an error.
//
// Cleanup is best effort per step: each revocation is attempted even when
// an earlier one failed, and the first failure is reported. A stale
// session record is recoverable; a silently usable credential is not.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return storeErr(err)
	}

	var lastErr error

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		lastErr = storeErr(err)
	}
	if err := e.blacklist.Revoke(ctx, sess.AccessTokenID, e.config.JWT.AccessTTL); err != nil {
		e.warnf("authcore: revoking access token on logout failed: %v", err)
		if lastErr == nil {
			lastErr = storeErr(err)
		}
	}
	if remaining := time.Until(time.Unix(sess.ExpiresAt, 0)); remaining > 0 {
		if err := e.blacklist.Revoke(ctx, hex.EncodeToString(sess.RefreshHash[:]), remaining); err != nil {
			e.warnf("authcore: revoking refresh token on logout failed: %v", err)
			if lastErr == nil {
				lastErr = storeErr(err)
			}
		}
	}

	if e.config.DeviceTrust.RevokeOnLogout && sess.DeviceID != "" {
		if err := e.RevokeDeviceTrust(ctx, sess.UserID, sess.DeviceID); err != nil {
			e.warnf("authcore: revoking device trust on logout failed: %v", err)
			if lastErr == nil {
				lastErr = err
			}
		}
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditLogout, lastErr == nil, sess.UserID, sessionID, sess.DeviceID, lastErr, nil)
	return lastErr
}

// LogoutAll invalidates every live session of the user and blacklists
// their access tokens. Refresh tokens die with their sessions; rotation
// against a deleted session fails closed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}

	jtis, err := e.sessions.DeleteAllForUser(ctx, userID)

	var lastErr error
	if err != nil {
		lastErr = storeErr(err)
	}
	for _, jti := range jtis {
		if rerr := e.blacklist.Revoke(ctx, jti, e.config.JWT.AccessTTL); rerr != nil {
			e.warnf("authcore: revoking access token on logout-all failed: %v", rerr)
			if lastErr == nil {
				lastErr = storeErr(rerr)
			}
		}
	}

	for range jtis {
		e.metricInc(MetricSessionInvalidated)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditLogoutAll, lastErr == nil, userID, "", "", lastErr, map[string]string{
		"sessions": strconv.Itoa(len(jtis)),
	})
	return lastErr
}

// RevokeDeviceTrust removes the trusted-device record so the next login
// from that device goes through MFA again.
func (e *Engine) RevokeDeviceTrust(ctx context.Context, userID, deviceID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" || deviceID == "" {
		return fmt.Errorf("%w: user id and device id are required", ErrValidation)
	}

	if err := e.trust.Revoke(ctx, userID, deviceID); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricDeviceTrustRevoked)
	e.emitAudit(ctx, auditTrustRevoked, true, userID, "", deviceID, nil, nil)
	return nil
}
