package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const giftCardColumns = `id, code, payment_id, merchant_id, value, balance, pending_refund, currency,
		status, allow_partial_redemption, expiry_date, created_at, updated_at`

// GiftCardRepo implements ports.GiftCardRepository.
type GiftCardRepo struct {
	pool Pool
}

// NewGiftCardRepo creates a new GiftCardRepo.
func NewGiftCardRepo(pool Pool) *GiftCardRepo {
	return &GiftCardRepo{pool: pool}
}

// Create inserts a new gift card within a database transaction.
// A code collision is reported as ports.ErrDuplicateCardCode so the caller can regenerate.
func (r *GiftCardRepo) Create(ctx context.Context, tx pgx.Tx, g *domain.GiftCard) error {
	query := `INSERT INTO gift_cards (` + giftCardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		g.ID, g.Code, g.PaymentID, g.MerchantID, g.Value, g.Balance, g.PendingRefund,
		g.Currency, g.Status, g.AllowPartialRedemption, g.ExpiryDate, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "gift_cards_code_key") {
			return ports.ErrDuplicateCardCode
		}
		if isUniqueViolation(err, "gift_cards_pkey") {
			return ports.ErrDuplicateCardID
		}
		return fmt.Errorf("insert gift card: %w", err)
	}
	return nil
}

// GetByID fetches a gift card by its UUID (without locking).
func (r *GiftCardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE id = $1`
	return scanGiftCard(r.pool.QueryRow(ctx, query, id), "get gift card by id")
}

// GetByCode fetches a gift card by its presentable code (without locking).
func (r *GiftCardRepo) GetByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE code = $1`
	return scanGiftCard(r.pool.QueryRow(ctx, query, code), "get gift card by code")
}

// GetByPaymentID fetches the card minted by a payment, inside tx.
func (r *GiftCardRepo) GetByPaymentID(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE payment_id = $1 FOR UPDATE`
	return scanGiftCard(tx.QueryRow(ctx, query, paymentID), "get gift card by payment")
}

// GetByIDForUpdate fetches a gift card with pessimistic locking.
// This MUST be called within a transaction.
func (r *GiftCardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	query := `SELECT ` + giftCardColumns + ` FROM gift_cards WHERE id = $1 FOR UPDATE`
	return scanGiftCard(tx.QueryRow(ctx, query, id), "get gift card for update")
}

// Update writes the mutable card state. The row must already be locked by tx.
func (r *GiftCardRepo) Update(ctx context.Context, tx pgx.Tx, g *domain.GiftCard) error {
	query := `UPDATE gift_cards
		SET value = $1, balance = $2, pending_refund = $3, status = $4, updated_at = $5
		WHERE id = $6`

	tag, err := tx.Exec(ctx, query, g.Value, g.Balance, g.PendingRefund, g.Status, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("update gift card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gift card not found: %s", g.ID)
	}
	return nil
}

// ListExpirable returns ids of ACTIVE cards whose expiry date has passed.
func (r *GiftCardRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM gift_cards
		WHERE status = 'ACTIVE' AND expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY expiry_date LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable gift cards: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expirable gift card: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expirable gift cards: %w", err)
	}
	return ids, nil
}

func scanGiftCard(row pgx.Row, op string) (*domain.GiftCard, error) {
	g := &domain.GiftCard{}
	err := row.Scan(
		&g.ID, &g.Code, &g.PaymentID, &g.MerchantID, &g.Value, &g.Balance, &g.PendingRefund,
		&g.Currency, &g.Status, &g.AllowPartialRedemption, &g.ExpiryDate, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, lockError(err))
	}
	return g, nil
}
