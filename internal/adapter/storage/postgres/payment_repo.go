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
	"github.com/shopspring/decimal"
)

const paymentColumns = `id, merchant_id, gift_card_id, amount, currency, method, gateway, status,
		external_intent_id, client_token, redirect_url, transaction_id, refunded_amount,
		allow_partial_redemption, card_expiry_date, requested_card_id, idempotency_key,
		return_url, cancel_url, failure_reason, completed_at, created_at, updated_at`

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a new PENDING payment.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.MerchantID, p.GiftCardID, p.Amount, p.Currency, p.Method, p.Gateway, p.Status,
		p.ExternalIntentID, p.ClientToken, p.RedirectURL, p.TransactionID, p.RefundedAmount,
		p.CardSpec.AllowPartialRedemption, p.CardSpec.ExpiryDate, p.CardSpec.CardID, p.IdempotencyKey,
		p.ReturnURL, p.CancelURL, p.FailureReason, p.CompletedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "payments_merchant_idempotency_key") {
			return ports.ErrDuplicatePaymentKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment by its UUID.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id), "get payment by id")
}

// GetByIDForUpdate fetches a payment with pessimistic locking.
func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, id), "get payment for update")
}

// GetByIdempotencyKey fetches the payment a merchant created with a client key.
func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, merchantID uuid.UUID, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE merchant_id = $1 AND idempotency_key = $2`
	return scanPayment(r.pool.QueryRow(ctx, query, merchantID, key), "get payment by idempotency key")
}

// GetByExternalIntentID fetches a payment by the processor's intent id.
func (r *PaymentRepo) GetByExternalIntentID(ctx context.Context, gateway domain.Gateway, externalIntentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = $1 AND external_intent_id = $2`
	return scanPayment(r.pool.QueryRow(ctx, query, gateway, externalIntentID), "get payment by external intent")
}

// SetIntent stores the processor intent against the payment.
func (r *PaymentRepo) SetIntent(ctx context.Context, id uuid.UUID, intent *ports.IntentResult) error {
	query := `UPDATE payments
		SET external_intent_id = $1, client_token = $2, redirect_url = $3, updated_at = NOW()
		WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, intent.ExternalIntentID, intent.ClientToken, intent.RedirectURL, id)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", id)
	}
	return nil
}

// MarkCompleted moves a PENDING payment to COMPLETED. It returns false when another
// writer settled or failed the payment first.
func (r *PaymentRepo) MarkCompleted(ctx context.Context, id uuid.UUID, externalTransactionID string, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'COMPLETED', transaction_id = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, externalTransactionID, at, id)
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a PENDING payment to FAILED.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `UPDATE payments
		SET status = 'FAILED', failure_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, reason, id)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRecovered settles a FAILED payment the processor reports as captured.
func (r *PaymentRepo) MarkRecovered(ctx context.Context, id uuid.UUID, externalTransactionID string, at time.Time) (bool, error) {
	query := `UPDATE payments
		SET status = 'COMPLETED', transaction_id = $1, completed_at = $2, failure_reason = NULL, updated_at = $2
		WHERE id = $3 AND status = 'FAILED'`

	tag, err := r.pool.Exec(ctx, query, externalTransactionID, at, id)
	if err != nil {
		return false, fmt.Errorf("mark payment recovered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LinkGiftCard records the card minted by the payment.
func (r *PaymentRepo) LinkGiftCard(ctx context.Context, tx pgx.Tx, id uuid.UUID, giftCardID uuid.UUID) error {
	query := `UPDATE payments SET gift_card_id = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, giftCardID, id)
	if err != nil {
		return fmt.Errorf("link gift card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", id)
	}
	return nil
}

// UpdateRefund records the cumulative refunded amount and resulting status.
func (r *PaymentRepo) UpdateRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, refunded decimal.Decimal, status domain.PaymentStatus) error {
	query := `UPDATE payments SET refunded_amount = $1, status = $2, updated_at = NOW() WHERE id = $3`

	tag, err := tx.Exec(ctx, query, refunded, status, id)
	if err != nil {
		return fmt.Errorf("update payment refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", id)
	}
	return nil
}

// ListPendingBefore returns PENDING payments created before the cutoff, oldest first.
func (r *PaymentRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2`
	return r.list(ctx, "list pending payments", query, before, limit)
}

// ListCompletedWithoutCard returns settled payments whose card was never minted.
func (r *PaymentRepo) ListCompletedWithoutCard(ctx context.Context, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'COMPLETED' AND gift_card_id IS NULL
		ORDER BY completed_at LIMIT $1`
	return r.list(ctx, "list unminted payments", query, limit)
}

func (r *PaymentRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows, op)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row, op string) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.GiftCardID, &p.Amount, &p.Currency, &p.Method, &p.Gateway, &p.Status,
		&p.ExternalIntentID, &p.ClientToken, &p.RedirectURL, &p.TransactionID, &p.RefundedAmount,
		&p.CardSpec.AllowPartialRedemption, &p.CardSpec.ExpiryDate, &p.CardSpec.CardID, &p.IdempotencyKey,
		&p.ReturnURL, &p.CancelURL, &p.FailureReason, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, lockError(err))
	}
	return p, nil
}
