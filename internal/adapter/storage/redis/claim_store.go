package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ClaimStore implements ports.EventClaimStore using Redis SET NX.
// A claim marks a processor event or confirm call as in flight.
type ClaimStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewClaimStore creates a new Redis-backed claim store.
func NewClaimStore(client goredis.UniversalClient) *ClaimStore {
	return &ClaimStore{
		client: client,
		prefix: keyPrefix + "claim:",
	}
}

// Claim atomically takes key. Returns true if nobody held it.
func (s *ClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return result == "OK", nil
}

// Release drops a claim so the key can be processed again.
func (s *ClaimStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis release claim: %w", err)
	}
	return nil
}
