package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const refundColumns = `id, gift_card_id, payment_id, amount, status, external_refund_id, reason, created_at, updated_at`

// RefundReservationRepo implements ports.RefundReservationRepository.
type RefundReservationRepo struct {
	pool Pool
}

// NewRefundReservationRepo creates a new RefundReservationRepo.
func NewRefundReservationRepo(pool Pool) *RefundReservationRepo {
	return &RefundReservationRepo{pool: pool}
}

// Create inserts a PENDING reservation within a database transaction.
func (r *RefundReservationRepo) Create(ctx context.Context, tx pgx.Tx, rr *domain.RefundReservation) error {
	query := `INSERT INTO refund_reservations (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		rr.ID, rr.GiftCardID, rr.PaymentID, rr.Amount, rr.Status,
		rr.ExternalRefundID, rr.Reason, rr.CreatedAt, rr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund reservation: %w", err)
	}
	return nil
}

// GetByIDForUpdate fetches a reservation with pessimistic locking.
func (r *RefundReservationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RefundReservation, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_reservations WHERE id = $1 FOR UPDATE`
	return scanRefundReservation(tx.QueryRow(ctx, query, id), "get refund reservation for update")
}

// GetPendingByGiftCard fetches the outstanding reservation on a card, if any.
func (r *RefundReservationRepo) GetPendingByGiftCard(ctx context.Context, tx pgx.Tx, giftCardID uuid.UUID) (*domain.RefundReservation, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_reservations
		WHERE gift_card_id = $1 AND status = 'PENDING'`
	return scanRefundReservation(tx.QueryRow(ctx, query, giftCardID), "get pending refund reservation")
}

// GetPendingByPayment reads the outstanding reservation for a payment without locking it.
func (r *RefundReservationRepo) GetPendingByPayment(ctx context.Context, paymentID uuid.UUID) (*domain.RefundReservation, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_reservations
		WHERE payment_id = $1 AND status = 'PENDING'`
	return scanRefundReservation(r.pool.QueryRow(ctx, query, paymentID), "get pending refund reservation by payment")
}

// Resolve moves a reservation to COMMITTED or RELEASED.
func (r *RefundReservationRepo) Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.RefundReservationStatus, externalRefundID *string) error {
	query := `UPDATE refund_reservations
		SET status = $1, external_refund_id = COALESCE($2, external_refund_id), updated_at = NOW()
		WHERE id = $3 AND status = 'PENDING'`

	tag, err := tx.Exec(ctx, query, status, externalRefundID, id)
	if err != nil {
		return fmt.Errorf("resolve refund reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending refund reservation not found: %s", id)
	}
	return nil
}

// ListPendingBefore returns unresolved reservations opened before the cutoff, oldest first.
func (r *RefundReservationRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.RefundReservation, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_reservations
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending refund reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.RefundReservation
	for rows.Next() {
		rr, err := scanRefundReservation(rows, "list pending refund reservations")
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending refund reservations: %w", err)
	}
	return out, nil
}

func scanRefundReservation(row pgx.Row, op string) (*domain.RefundReservation, error) {
	rr := &domain.RefundReservation{}
	err := row.Scan(
		&rr.ID, &rr.GiftCardID, &rr.PaymentID, &rr.Amount, &rr.Status,
		&rr.ExternalRefundID, &rr.Reason, &rr.CreatedAt, &rr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, lockError(err))
	}
	return rr, nil
}
