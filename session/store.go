// Package session persists active sessions in a TTL-backed keyed store
// and implements the atomic refresh-rotation protocol that makes stolen
// refresh tokens single-use.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the session does not exist or expired.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshMismatch is returned by Rotate when the presented hash is
	// not the session's current refresh hash. Callers must treat this as
	// token reuse.
	ErrRefreshMismatch = errors.New("refresh hash mismatch")
	// ErrStoreUnavailable is returned when Redis cannot be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// rotateScript is a compare-and-swap over the stored refresh hash. The
// whole decision runs server-side, so of N concurrent refreshes with the
// same token exactly one observes a match; the rest see the swapped hash
// and fail with a mismatch.
//
//	KEYS[1] session key
//	ARGV[1] provided hash (hex)  ARGV[2] next hash (hex)  ARGV[3] new jti
const rotateScript = `
local rth = redis.call("HGET", KEYS[1], "rth")
if not rth then
  return {0}
end
if rth ~= ARGV[1] then
  return {2}
end
redis.call("HSET", KEYS[1], "rth", ARGV[2], "jti", ARGV[3])
local pttl = redis.call("PTTL", KEYS[1])
return {3,
  redis.call("HGET", KEYS[1], "uid"),
  redis.call("HGET", KEYS[1], "rol"),
  redis.call("HGET", KEYS[1], "mfa"),
  redis.call("HGET", KEYS[1], "did"),
  pttl}
`

// deleteScript removes the session and its user-index entry together.
const deleteScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
local existed = redis.call("DEL", KEYS[1])
if uid then
  redis.call("SREM", ARGV[1] .. uid, ARGV[2])
end
return existed
`

// markVerifiedScript flips the MFA flag only while the session exists; a
// bare HSET would resurrect a logged-out session without a TTL.
const markVerifiedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "mfa", "0")
return 1
`

var (
	rotateLua       = redis.NewScript(rotateScript)
	deleteLua       = redis.NewScript(deleteScript)
	markVerifiedLua = redis.NewScript(markVerifiedScript)
)

// Store is the Redis-backed session store. One hash per session, one set
// per user indexing that user's live session IDs.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix() + userID
}

// Create persists the session with the given TTL and indexes it under its
// user. TTL must equal the refresh-token lifetime.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return errors.New("incomplete session")
	}
	if ttl <= 0 {
		return errors.New("non-positive session ttl")
	}

	key := s.key(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"uid": sess.UserID,
			"did": sess.DeviceID,
			"rol": sess.Role,
			"rth": hex.EncodeToString(sess.RefreshHash[:]),
			"jti": sess.AccessTokenID,
			"mfa": boolFlag(sess.MFAPending),
			"cat": sess.CreatedAt,
			"exp": sess.ExpiresAt,
		})
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the session or ErrNotFound. Expiry is enforced by the store
// TTL; a session readable here is live.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(sessionID, fields)
}

// Delete removes the session and its index entry. Deleting an absent
// session is not an error; logout must be idempotent.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := deleteLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.userPrefix(),
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RotateResult carries what the engine needs after a successful rotation.
type RotateResult struct {
	UserID     string
	Role       string
	DeviceID   string
	MFAPending bool
	// RemainingTTL bounds the blacklist entry for the retired hash.
	RemainingTTL time.Duration
}

// Rotate atomically swaps the session's refresh hash from provided to
// next and records the new access-token jti. Returns ErrNotFound when the
// session is gone and ErrRefreshMismatch when provided is not current.
func (s *Store) Rotate(ctx context.Context, sessionID string, provided, next [32]byte, newJTI string) (*RotateResult, error) {
	raw, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		hex.EncodeToString(provided[:]),
		hex.EncodeToString(next[:]),
		newJTI,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusMismatch:
		return nil, ErrRefreshMismatch
	case rotateStatusRotated:
		if len(parts) != 6 {
			return nil, fmt.Errorf("%w: short rotate script response", ErrStoreUnavailable)
		}
		pttl, _ := parts[5].(int64)
		return &RotateResult{
			UserID:       luaString(parts[1]),
			Role:         luaString(parts[2]),
			MFAPending:   luaString(parts[3]) == "1",
			DeviceID:     luaString(parts[4]),
			RemainingTTL: time.Duration(pttl) * time.Millisecond,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

// MarkMFAVerified clears the session's MFA-pending flag. Returns false
// when the session no longer exists.
func (s *Store) MarkMFAVerified(ctx context.Context, sessionID string) (bool, error) {
	res, err := markVerifiedLua.Run(ctx, s.redis, []string{s.key(sessionID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// DeleteAllForUser removes every indexed session for userID and returns
// the access-token jtis of the sessions it deleted so the caller can
// blacklist them.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var jtis []string
	for _, id := range ids {
		jti, err := s.redis.HGet(ctx, s.key(id), "jti").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return jtis, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if jti != "" {
			jtis = append(jtis, jti)
		}
		if err := s.Delete(ctx, id); err != nil {
			return jtis, err
		}
	}

	if err := s.redis.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return jtis, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return jtis, nil
}

// LiveSessionCount prunes expired index entries and returns the number of
// sessions that still exist for userID.
func (s *Store) LiveSessionCount(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	live := 0
	var stale []interface{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			live++
		} else {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return live, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return live, nil
}

func decodeFields(sessionID string, fields map[string]string) (*Session, error) {
	rth, err := hex.DecodeString(fields["rth"])
	if err != nil || len(rth) != 32 {
		return nil, errors.New("corrupt session refresh hash")
	}

	sess := &Session{
		ID:            sessionID,
		UserID:        fields["uid"],
		DeviceID:      fields["did"],
		Role:          fields["rol"],
		AccessTokenID: fields["jti"],
		MFAPending:    fields["mfa"] == "1",
	}
	copy(sess.RefreshHash[:], rth)
	sess.CreatedAt, _ = strconv.ParseInt(fields["cat"], 10, 64)
	sess.ExpiresAt, _ = strconv.ParseInt(fields["exp"], 10, 64)
	return sess, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func luaString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
