package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keyspace describes one independent rate-limit domain. Each flow (login,
// MFA verification, token refresh) gets its own keyspace so abuse of one
// cannot starve another.
type Keyspace struct {
	Prefix string
	Points int
	Window time.Duration
	Block  time.Duration
}

// Result reports the outcome of a Consume call. RetryAfter is populated
// only when the key is blocked.
type Result struct {
	Remaining  int
	Blocked    bool
	RetryAfter time.Duration
}

// consumeScript runs the whole consume decision server-side so concurrent
// callers sharing a key can never lose an update:
//
//	KEYS[1] counter key   KEYS[2] block key
//	ARGV[1] points  ARGV[2] window ms  ARGV[3] budget  ARGV[4] block ms
//
// Returns {remaining, 0} on success or {-1, retryAfterMs} when blocked.
const consumeScript = `
local blocked = redis.call("PTTL", KEYS[2])
if blocked > 0 then
  return {-1, blocked}
end

local count = redis.call("INCRBY", KEYS[1], ARGV[1])
if count == tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end

if count > tonumber(ARGV[3]) then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[4])
  redis.call("DEL", KEYS[1])
  return {-1, tonumber(ARGV[4])}
end

return {tonumber(ARGV[3]) - count, 0}
`

var consumeLua = redis.NewScript(consumeScript)

// Limiter is a Redis-backed sliding-window limiter with a blocked state.
// Once a key exhausts its budget it is blocked for the keyspace's block
// duration and every further Consume fails immediately without counting.
type Limiter struct {
	redis redis.UniversalClient
}

func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

func (l *Limiter) counterKey(ks Keyspace, key string) string {
	return ks.Prefix + ":" + key
}

func (l *Limiter) blockKey(ks Keyspace, key string) string {
	return ks.Prefix + ":b:" + key
}

// Consume takes points from the bucket for key. It returns ErrLimited when
// the key is blocked or this consumption pushes it over budget; the
// returned Result carries the retry-after duration in both cases.
func (l *Limiter) Consume(ctx context.Context, ks Keyspace, key string, points int) (Result, error) {
	if points <= 0 {
		points = 1
	}

	raw, err := consumeLua.Run(
		ctx,
		l.redis,
		[]string{l.counterKey(ks, key), l.blockKey(ks, key)},
		points,
		ks.Window.Milliseconds(),
		ks.Points,
		ks.Block.Milliseconds(),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 2 {
		return Result{}, fmt.Errorf("%w: invalid consume script response", ErrStoreUnavailable)
	}
	remaining, ok1 := parts[0].(int64)
	retryMs, ok2 := parts[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("%w: invalid consume script response", ErrStoreUnavailable)
	}

	if remaining < 0 {
		return Result{
			Blocked:    true,
			RetryAfter: time.Duration(retryMs) * time.Millisecond,
		}, ErrLimited
	}

	return Result{Remaining: int(remaining)}, nil
}

// Reset clears the attempt counter for key. The blocked state, if any, is
// left in place: a successful operation must not unlock a key that is
// serving out a block.
func (l *Limiter) Reset(ctx context.Context, ks Keyspace, key string) error {
	if err := l.redis.Del(ctx, l.counterKey(ks, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Blocked reports whether key is currently serving a block and for how
// much longer.
func (l *Limiter) Blocked(ctx context.Context, ks Keyspace, key string) (bool, time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.blockKey(ks, key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}
