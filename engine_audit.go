package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vetstack/authcore/internal/audit"
)

// Audit action names. TokenReuse gets its own action: callers see plain
// unauthorized, but the incident must be distinguishable in the log.
const (
	auditLoginSuccess     = "auth.login.success"
	auditLoginFailure     = "auth.login.failure"
	auditLoginRateLimited = "auth.login.rate_limited"
	auditLoginRiskBlocked = "auth.login.risk_blocked"
	auditLogout           = "auth.logout"
	auditLogoutAll        = "auth.logout_all"
	auditRefreshSuccess   = "auth.refresh.success"
	auditRefreshFailure   = "auth.refresh.failure"
	auditTokenReuse       = "auth.refresh.reuse_detected"
	auditMFASetup         = "auth.mfa.setup"
	auditMFAVerified      = "auth.mfa.verified"
	auditMFAFailure       = "auth.mfa.failure"
	auditMFARateLimited   = "auth.mfa.rate_limited"
	auditRecoveryRedeemed = "auth.mfa.recovery_redeemed"
	auditTrustRevoked     = "auth.device_trust.revoked"
)

// emitAudit dispatches one event. Fire-and-forget: it never blocks the
// caller beyond the dispatcher's buffering policy and never returns an
// error.
func (e *Engine) emitAudit(ctx context.Context, action string, success bool, userID, sessionID, deviceID string, cause error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := audit.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		UserID:    userID,
		SessionID: sessionID,
		DeviceID:  deviceID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	e.audit.Emit(ctx, event)
}
