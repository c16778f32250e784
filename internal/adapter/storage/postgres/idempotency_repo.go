package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository over idempotency_logs,
// the durable record of replayable responses.
type IdempotencyRepo struct {
	pool Pool
}

func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create inserts the log in tx, alongside the mutation it describes.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	const query = `INSERT INTO idempotency_logs (key, resource_id, response_json, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := tx.Exec(ctx, query, log.Key, log.ResourceID, log.ResponseJSON, log.CreatedAt); err != nil {
		if isUniqueViolation(err, "idempotency_logs_pkey") {
			return ports.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert idempotency log: %w", err)
	}
	return nil
}

// Get returns nil, nil when key was never recorded.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	const query = `SELECT key, resource_id, response_json, created_at FROM idempotency_logs WHERE key = $1`

	var l domain.IdempotencyLog
	err := r.pool.QueryRow(ctx, query, key).Scan(&l.Key, &l.ResourceID, &l.ResponseJSON, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency log: %w", err)
	}
	return &l, nil
}

// DeleteBefore removes the oldest logs created before the cutoff, at most limit rows.
func (r *IdempotencyRepo) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	const query = `DELETE FROM idempotency_logs WHERE key IN (
		SELECT key FROM idempotency_logs WHERE created_at < $1 ORDER BY created_at LIMIT $2)`

	tag, err := r.pool.Exec(ctx, query, before, limit)
	if err != nil {
		return 0, fmt.Errorf("prune idempotency logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
