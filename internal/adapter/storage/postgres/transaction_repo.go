package postgres

import (
	"context"
	"fmt"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository over ledger_transactions.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create appends a ledger entry within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO ledger_transactions (id, gift_card_id, type, amount, balance_before, balance_after, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.GiftCardID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter, t.ReferenceID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

// ListByGiftCard pages through a card's ledger log, newest first.
func (r *TransactionRepo) ListByGiftCard(ctx context.Context, giftCardID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions WHERE gift_card_id = $1`, giftCardID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count ledger transactions: %w", err)
	}

	query := `SELECT id, gift_card_id, type, amount, balance_before, balance_after, reference_id, created_at
		FROM ledger_transactions WHERE gift_card_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, giftCardID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		if err := rows.Scan(
			&t.ID, &t.GiftCardID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.ReferenceID, &t.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan ledger transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger transaction rows: %w", err)
	}
	return txns, total, nil
}

// Totals sums a card's ledger log by entry type.
func (r *TransactionRepo) Totals(ctx context.Context, giftCardID uuid.UUID) (*domain.LedgerTotals, error) {
	query := `SELECT
		COALESCE(SUM(amount) FILTER (WHERE type = 'PURCHASE'), 0) AS purchased,
		COALESCE(SUM(amount) FILTER (WHERE type = 'REDEMPTION'), 0) AS redeemed,
		COALESCE(SUM(amount) FILTER (WHERE type = 'REFUND'), 0) AS refunded,
		COALESCE(SUM(amount) FILTER (WHERE type = 'REFUND_REVERSAL'), 0) AS refund_reversed,
		COUNT(*) AS entries
		FROM ledger_transactions WHERE gift_card_id = $1`

	t := &domain.LedgerTotals{}
	err := r.pool.QueryRow(ctx, query, giftCardID).Scan(
		&t.Purchased, &t.Redeemed, &t.Refunded, &t.RefundReversed, &t.Entries,
	)
	if err != nil {
		return nil, fmt.Errorf("sum ledger transactions: %w", err)
	}
	return t, nil
}
