// Package authcore is an embeddable authentication and session-security
// engine backed by Redis. It covers credential verification with uniform
// failure timing, opaque single-use refresh tokens with reuse detection,
// attempt rate limiting with lockout, TOTP-based MFA with recovery codes,
// trusted devices, and login risk scoring.
//
// Build one Engine per process with the Builder and call its methods from
// your transport layer:
//
//	engine, err := authcore.New().
//		WithRedis(redisClient).
//		WithUserStore(store).
//		WithEncryption(encryptor).
//		Build()
//
// The engine owns no HTTP surface and no user table; callers bring a
// UserStore for identities and an EncryptionService for MFA secrets.
// Every authentication failure unwraps to ErrUnauthorized so transports
// can map the whole family to one status code.
package authcore
