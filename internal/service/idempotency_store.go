package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// DefaultIdempotencyTTL is how long Redis keeps replayable responses and event claims.
const DefaultIdempotencyTTL = 72 * time.Hour

// IdempotencyStoreImpl implements ports.IdempotencyStore.
// Redis is the fast path; the idempotency_logs table is authoritative.
type IdempotencyStoreImpl struct {
	repo   ports.IdempotencyRepository
	cache  ports.IdempotencyCache
	claims ports.EventClaimStore
	ttl    time.Duration
	log    zerolog.Logger
}

// NewIdempotencyStore creates a new IdempotencyStoreImpl.
func NewIdempotencyStore(
	repo ports.IdempotencyRepository,
	cache ports.IdempotencyCache,
	claims ports.EventClaimStore,
	ttl time.Duration,
	log zerolog.Logger,
) *IdempotencyStoreImpl {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStoreImpl{repo: repo, cache: cache, claims: claims, ttl: ttl, log: log}
}

// Lookup returns the stored response for key, or nil.
func (s *IdempotencyStoreImpl) Lookup(ctx context.Context, key string) ([]byte, error) {
	// Layer 1: Redis
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return cached, nil
	}

	// Layer 2: DB
	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("db idempotency check: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	s.Remember(ctx, key, entry.ResponseJSON)
	return entry.ResponseJSON, nil
}

// Record writes the durable idempotency row inside tx and returns the encoded response.
// A key recorded by a concurrent request yields ports.ErrDuplicateIdempotencyKey.
func (s *IdempotencyStoreImpl) Record(ctx context.Context, tx pgx.Tx, key string, resourceID uuid.UUID, response any) ([]byte, error) {
	respJSON, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	entry := &domain.IdempotencyLog{
		Key:          key,
		ResourceID:   resourceID,
		ResponseJSON: respJSON,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("save idempotency log: %w", err)
	}
	return respJSON, nil
}

// Remember caches a committed response in Redis (best-effort).
func (s *IdempotencyStoreImpl) Remember(ctx context.Context, key string, response []byte) {
	if err := s.cache.Set(ctx, key, response, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// Claim marks key as being processed. It returns false if another caller holds it.
func (s *IdempotencyStoreImpl) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.claims.Claim(ctx, key, s.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so a redelivery can be processed.
func (s *IdempotencyStoreImpl) Release(ctx context.Context, key string) {
	if err := s.claims.Release(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to release idempotency claim")
	}
}

// Prune deletes durable logs created before the cutoff. Replays of a pruned
// key are treated as new requests, so the retention must outlast any client
// or gateway retry.
func (s *IdempotencyStoreImpl) Prune(ctx context.Context, before time.Time, limit int) (int, error) {
	n, err := s.repo.DeleteBefore(ctx, before, limit)
	if err != nil {
		return 0, fmt.Errorf("prune idempotency logs: %w", err)
	}
	return n, nil
}
