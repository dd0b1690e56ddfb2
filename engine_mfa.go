package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/vetstack/authcore/internal"
	"github.com/vetstack/authcore/internal/rate"
	"github.com/vetstack/authcore/session"
)

// SetupMFA starts TOTP enrollment for the user. The returned MFASetup is
// the only time the shared secret, recovery codes, and backup key exist
// in plaintext; the store keeps the secret encrypted and the codes as
// salted hashes.
//
// Enrollment is provisional until the first successful VerifyMFA. An
// unconfirmed enrollment past its window is discarded, and calling
// SetupMFA again replaces any previous unconfirmed attempt.
func (e *Engine) SetupMFA(ctx context.Context, userID string) (*MFASetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr(err)
	}

	rawSecret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, storeErr(err)
	}
	bundle, err := e.enc.Encrypt(ctx, rawSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}

	codes, err := generateRecoveryCodes(e.config.MFA.RecoveryCodes)
	if err != nil {
		return nil, storeErr(err)
	}
	backupKey, err := internal.NewBackupKey()
	if err != nil {
		return nil, storeErr(err)
	}

	cred := &MFACredential{
		UserID:          userID,
		Secret:          bundle,
		BackupKeyHash:   internal.SaltedHash(userID, backupKey),
		LastUsedCounter: -1,
		EnrollExpiresAt: time.Now().Add(e.config.MFA.EnrollmentWindow),
	}
	cred.RecoveryCodeHashes = make([][32]byte, 0, len(codes))
	for _, code := range codes {
		cred.RecoveryCodeHashes = append(cred.RecoveryCodeHashes, recoveryCodeHash(userID, code))
	}

	if err := e.users.SaveMFACredential(ctx, cred); err != nil {
		return nil, storeErr(err)
	}

	e.emitAudit(ctx, auditMFASetup, true, userID, "", "", nil, nil)
	return &MFASetup{
		Secret:        secretBase32,
		QRPayload:     e.totp.ProvisionURI(secretBase32, user.Email),
		RecoveryCodes: codes,
		BackupKey:     backupKey,
	}, nil
}

// VerifyMFA checks a TOTP code. The first successful verification
// confirms a pending enrollment and flips the account to MFA-enabled.
//
// When sessionID names a live MFA-pending session of the same user, a
// successful verification completes that login: the session's pending
// flag is cleared and the device it was created from becomes trusted.
//
// A code for a time step at or before the last accepted one is rejected
// as a replay even though it is otherwise valid.
func (e *Engine) VerifyMFA(ctx context.Context, userID, sessionID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" || code == "" {
		return fmt.Errorf("%w: user id and code are required", ErrValidation)
	}

	if res, err := e.limiter.Consume(ctx, e.mfaKS, userID, 1); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricMFARateLimited)
			e.emitAudit(ctx, auditMFARateLimited, false, userID, sessionID, "", ErrRateLimited, nil)
			return rateLimitErr(res.RetryAfter)
		}
		return storeErr(err)
	}

	cred, err := e.loadCredential(ctx, userID)
	if err != nil {
		return err
	}

	secret, err := e.enc.Decrypt(ctx, cred.Secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}

	ok, counter, err := e.totp.VerifyCode(secret, code, time.Now())
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditMFAFailure, false, userID, sessionID, "", ErrMFAInvalid, nil)
		return ErrMFAInvalid
	}
	if counter <= cred.LastUsedCounter {
		e.metricInc(MetricMFAReplayAttempt)
		e.emitAudit(ctx, auditMFAFailure, false, userID, sessionID, "", ErrMFAReplay, nil)
		return ErrMFAReplay
	}

	if !cred.Confirmed {
		cred.Confirmed = true
		cred.LastUsedCounter = counter
		if err := e.users.SaveMFACredential(ctx, cred); err != nil {
			return storeErr(err)
		}
		if err := e.users.SetMFAEnabled(ctx, userID, true); err != nil {
			return storeErr(err)
		}
	} else if err := e.users.UpdateMFALastCounter(ctx, userID, counter); err != nil {
		return storeErr(err)
	}

	if sessionID != "" {
		if err := e.completePendingSession(ctx, userID, sessionID, true); err != nil {
			return err
		}
	}

	if err := e.limiter.Reset(ctx, e.mfaKS, userID); err != nil {
		e.warnf("authcore: resetting mfa counter failed: %v", err)
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditMFAVerified, true, userID, sessionID, "", nil, nil)
	return nil
}

// RedeemRecoveryCode completes MFA with a recovery code or the backup
// key. Recovery codes redeem exactly once; the backup key stays valid
// until re-enrollment replaces it.
//
// Unlike VerifyMFA, redemption does not trust the device: possession of
// a recovery code proves account custody, not custody of the enrolled
// authenticator.
func (e *Engine) RedeemRecoveryCode(ctx context.Context, userID, sessionID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" || code == "" {
		return fmt.Errorf("%w: user id and code are required", ErrValidation)
	}

	if res, err := e.limiter.Consume(ctx, e.mfaKS, userID, 1); err != nil {
		if errors.Is(err, rate.ErrLimited) {
			e.metricInc(MetricMFARateLimited)
			e.emitAudit(ctx, auditMFARateLimited, false, userID, sessionID, "", ErrRateLimited, nil)
			return rateLimitErr(res.RetryAfter)
		}
		return storeErr(err)
	}

	cred, err := e.loadCredential(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.Confirmed {
		return ErrMFANotConfigured
	}

	hash := recoveryCodeHash(userID, code)
	consumed, err := e.users.ConsumeRecoveryCode(ctx, userID, hash)
	if err != nil {
		return storeErr(err)
	}

	usedBackupKey := false
	if !consumed {
		keyHash := internal.SaltedHash(userID, canonicalizeRecoveryCode(code))
		if subtle.ConstantTimeCompare(keyHash[:], cred.BackupKeyHash[:]) != 1 {
			e.metricInc(MetricRecoveryCodeFailed)
			e.emitAudit(ctx, auditMFAFailure, false, userID, sessionID, "", ErrRecoveryCodeInvalid, nil)
			return ErrRecoveryCodeInvalid
		}
		usedBackupKey = true
	}

	if sessionID != "" {
		if err := e.completePendingSession(ctx, userID, sessionID, false); err != nil {
			return err
		}
	}

	if err := e.limiter.Reset(ctx, e.mfaKS, userID); err != nil {
		e.warnf("authcore: resetting mfa counter failed: %v", err)
	}

	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, auditRecoveryRedeemed, true, userID, sessionID, "", nil, map[string]string{
		"backup_key": boolStr(usedBackupKey),
	})
	return nil
}

// loadCredential fetches the stored enrollment and enforces the
// enrollment window. An expired unconfirmed enrollment is deleted here
// so the user can start over cleanly.
func (e *Engine) loadCredential(ctx context.Context, userID string) (*MFACredential, error) {
	cred, err := e.users.GetMFACredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMFANotConfigured
		}
		return nil, storeErr(err)
	}

	if !cred.Confirmed && time.Now().After(cred.EnrollExpiresAt) {
		if derr := e.users.DeleteMFACredential(ctx, userID); derr != nil {
			e.warnf("authcore: discarding expired enrollment failed: %v", derr)
		}
		return nil, ErrMFAEnrollmentExpired
	}

	return cred, nil
}

// completePendingSession clears the MFA-pending flag of the named session
// and, when trustDevice is set, records its device as trusted.
func (e *Engine) completePendingSession(ctx context.Context, userID, sessionID string, trustDevice bool) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return storeErr(err)
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}

	cleared, err := e.sessions.MarkMFAVerified(ctx, sessionID)
	if err != nil {
		return storeErr(err)
	}
	if !cleared {
		return ErrSessionNotFound
	}

	if trustDevice && sess.DeviceID != "" {
		if err := e.trust.Trust(ctx, userID, sess.DeviceID); err != nil {
			e.warnf("authcore: trusting device failed: %v", err)
		} else {
			e.metricInc(MetricDeviceTrusted)
		}
	}

	return nil
}
