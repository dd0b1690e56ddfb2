package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vetstack/authcore/session"
	"github.com/vetstack/authcore/token"
)

// Authorize validates an access token for a protected request. Beyond the
// signature and expiry it requires the backing session to still exist,
// the token to be absent from the revocation blacklist, and the session's
// MFA step to be complete. A token that passes returns its claims.
//
// This makes logout effective immediately: access tokens issued before a
// Logout or LogoutAll fail here for the rest of their nominal lifetime.
func (e *Engine) Authorize(ctx context.Context, accessToken string) (*token.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrValidation)
	}

	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		e.metricInc(MetricAuthorizeFailure)
		return nil, ErrTokenInvalid
	}

	revoked, err := e.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if revoked {
		e.metricInc(MetricAuthorizeFailure)
		return nil, ErrTokenInvalid
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricAuthorizeFailure)
			return nil, ErrSessionNotFound
		}
		return nil, storeErr(err)
	}
	if sess.UserID != claims.UserID {
		e.metricInc(MetricAuthorizeFailure)
		return nil, ErrTokenInvalid
	}

	if sess.MFAPending {
		e.metricInc(MetricAuthorizeFailure)
		return nil, ErrMFARequired
	}

	e.metricInc(MetricAuthorizeSuccess)
	return claims, nil
}
