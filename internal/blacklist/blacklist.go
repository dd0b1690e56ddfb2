// Package blacklist maintains the token deny-list. An entry makes a token
// identifier unusable until its natural expiry, regardless of signature
// validity; entries carry a TTL so the list prunes itself.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when Redis cannot be reached. Callers
// must treat it as fatal for the current operation: an unreachable
// deny-list never downgrades to "not revoked".
var ErrStoreUnavailable = errors.New("blacklist store unavailable")

// Store is the Redis-backed deny-list shared by access-token jtis and
// refresh-token hashes.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func New(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "abl"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

// Revoke records tokenID as unusable for ttl. A non-positive ttl means the
// token is already past its natural expiry and nothing needs storing.
func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.key(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether tokenID has an active deny-list entry.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
