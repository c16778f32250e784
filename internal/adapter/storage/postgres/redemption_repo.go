package postgres

import (
	"context"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RedemptionRepo implements ports.RedemptionRepository.
type RedemptionRepo struct {
	pool Pool
}

// NewRedemptionRepo creates a new RedemptionRepo.
func NewRedemptionRepo(pool Pool) *RedemptionRepo {
	return &RedemptionRepo{pool: pool}
}

// Create appends a redemption within a database transaction.
func (r *RedemptionRepo) Create(ctx context.Context, tx pgx.Tx, rd *domain.Redemption) error {
	query := `INSERT INTO redemptions (id, gift_card_id, merchant_id, amount, balance_before, balance_after,
		method, location, notes, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		rd.ID, rd.GiftCardID, rd.MerchantID, rd.Amount, rd.BalanceBefore, rd.BalanceAfter,
		rd.Method, rd.Location, rd.Notes, rd.IdempotencyKey, rd.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// ListByGiftCard pages through a card's redemptions, newest first.
func (r *RedemptionRepo) ListByGiftCard(ctx context.Context, giftCardID uuid.UUID, page, pageSize int) ([]domain.Redemption, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM redemptions WHERE gift_card_id = $1`, giftCardID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count redemptions: %w", err)
	}

	query := `SELECT id, gift_card_id, merchant_id, amount, balance_before, balance_after,
		method, location, notes, idempotency_key, created_at
		FROM redemptions WHERE gift_card_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, giftCardID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var out []domain.Redemption
	for rows.Next() {
		rd := domain.Redemption{}
		if err := rows.Scan(
			&rd.ID, &rd.GiftCardID, &rd.MerchantID, &rd.Amount, &rd.BalanceBefore, &rd.BalanceAfter,
			&rd.Method, &rd.Location, &rd.Notes, &rd.IdempotencyKey, &rd.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan redemption row: %w", err)
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate redemption rows: %w", err)
	}
	return out, total, nil
}
