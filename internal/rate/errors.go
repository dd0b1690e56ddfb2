package rate

import "errors"

var (
	// ErrLimited is returned when a key is over budget or blocked.
	ErrLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
