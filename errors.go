package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is returned for malformed input the caller should fix.
	ErrValidation = errors.New("invalid input")
	// ErrUnauthorized is the root of the authentication failure family.
	// Every credential, token, and MFA failure unwraps to it, so callers
	// can map the whole family to one response without losing the
	// specific cause in logs.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when an attempt budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when a backing store failed. Never
	// mapped to an allow decision.
	ErrStoreUnavailable = errors.New("auth store unavailable")
	// ErrEncryptionUnavailable is returned when the encryption service
	// failed. MFA operations abort rather than fall back.
	ErrEncryptionUnavailable = errors.New("encryption service unavailable")
	// ErrEngineNotReady is returned when the engine was not built fully.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserNotFound is the sentinel a UserStore returns for unknown
	// lookups. The engine never surfaces it to login callers.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionLimitExceeded is returned when a login would exceed the
	// per-user session cap.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
)

// The unauthorized family. Distinct values for audit and tests; all of
// them satisfy errors.Is(err, ErrUnauthorized).
var (
	ErrInvalidCredentials   = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrAccountDisabled      = fmt.Errorf("%w: account disabled", ErrUnauthorized)
	ErrTokenInvalid         = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrTokenReuse           = fmt.Errorf("%w: refresh token reuse detected", ErrUnauthorized)
	ErrSessionNotFound      = fmt.Errorf("%w: session not found", ErrUnauthorized)
	ErrMFARequired          = fmt.Errorf("%w: mfa verification required", ErrUnauthorized)
	ErrMFAInvalid           = fmt.Errorf("%w: invalid mfa code", ErrUnauthorized)
	ErrMFAReplay            = fmt.Errorf("%w: mfa code replay detected", ErrUnauthorized)
	ErrMFANotConfigured     = fmt.Errorf("%w: mfa not configured", ErrUnauthorized)
	ErrMFAEnrollmentExpired = fmt.Errorf("%w: mfa enrollment window expired", ErrUnauthorized)
	ErrRecoveryCodeInvalid  = fmt.Errorf("%w: invalid recovery code", ErrUnauthorized)
	ErrSuspiciousActivity   = fmt.Errorf("%w: suspicious activity blocked", ErrUnauthorized)
)

// RateLimitError carries the remaining block duration alongside
// ErrRateLimited. RetryAfter is zero when the store could not report it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func rateLimitErr(retryAfter time.Duration) error {
	return &RateLimitError{RetryAfter: retryAfter}
}
