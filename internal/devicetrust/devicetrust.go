// Package devicetrust records which devices have completed full
// authentication (including MFA) for an account. A trust record is a
// cached assertion with a bounded lifetime, queried on every login to
// compute the isTrustedDevice signal.
package devicetrust

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when Redis cannot be reached.
var ErrStoreUnavailable = errors.New("device trust store unavailable")

// touchScript refreshes last-seen only when the record exists; a plain
// HSET would resurrect a revoked record without a trusted-since time.
const touchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "seen", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

var touchLua = redis.NewScript(touchScript)

// Record is one trusted-device assertion.
type Record struct {
	UserID    string
	DeviceID  string
	TrustedAt time.Time
	LastSeen  time.Time
}

// Tracker stores trust records as per-user-device Redis hashes with a TTL
// equal to the configured trust lifetime.
type Tracker struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *Tracker {
	if prefix == "" {
		prefix = "adt"
	}
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &Tracker{redis: redisClient, prefix: prefix, ttl: ttl}
}

func (t *Tracker) key(userID, deviceID string) string {
	return t.prefix + ":" + userID + ":" + deviceID
}

// Trust marks deviceID as trusted for userID, starting (or restarting)
// the trust lifetime.
func (t *Tracker) Trust(ctx context.Context, userID, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	now := time.Now().Unix()
	key := t.key(userID, deviceID)

	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "since", now)
		pipe.HSet(ctx, key, "seen", now)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsTrusted reports whether an unexpired trust record exists.
func (t *Tracker) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	n, err := t.redis.Exists(ctx, t.key(userID, deviceID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Touch refreshes last-seen and the trust TTL for an existing record.
// Returns false when there is no record to refresh.
func (t *Tracker) Touch(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	res, err := touchLua.Run(
		ctx,
		t.redis,
		[]string{t.key(userID, deviceID)},
		time.Now().Unix(),
		t.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// Revoke removes the trust record immediately.
func (t *Tracker) Revoke(ctx context.Context, userID, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	if err := t.redis.Del(ctx, t.key(userID, deviceID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the trust record, or nil when none exists.
func (t *Tracker) Get(ctx context.Context, userID, deviceID string) (*Record, error) {
	if deviceID == "" {
		return nil, nil
	}
	fields, err := t.redis.HGetAll(ctx, t.key(userID, deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	since, _ := strconv.ParseInt(fields["since"], 10, 64)
	seen, _ := strconv.ParseInt(fields["seen"], 10, 64)

	return &Record{
		UserID:    userID,
		DeviceID:  deviceID,
		TrustedAt: time.Unix(since, 0),
		LastSeen:  time.Unix(seen, 0),
	}, nil
}
