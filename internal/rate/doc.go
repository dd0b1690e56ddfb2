// Package rate implements the shared attempt limiter used by the login,
// MFA verification, and token refresh flows. All counting happens inside
// a single Redis Lua script, so concurrent requests sharing a key observe
// strictly serialized increment-and-check semantics.
package rate
