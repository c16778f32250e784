package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundReservationStatus tracks a refund saga.
type RefundReservationStatus string

const (
	RefundReservationPending   RefundReservationStatus = "PENDING"
	RefundReservationCommitted RefundReservationStatus = "COMMITTED"
	RefundReservationReleased  RefundReservationStatus = "RELEASED"
)

// RefundReservation is the durable marker of a refund whose gateway leg is in flight.
// At most one PENDING reservation exists per card.
type RefundReservation struct {
	ID               uuid.UUID               `json:"id"`
	GiftCardID       uuid.UUID               `json:"gift_card_id"`
	PaymentID        uuid.UUID               `json:"payment_id"`
	Amount           decimal.Decimal         `json:"amount"`
	Status           RefundReservationStatus `json:"status"`
	ExternalRefundID *string                 `json:"external_refund_id,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// IsPending returns true while the gateway leg has not resolved.
func (r *RefundReservation) IsPending() bool {
	return r.Status == RefundReservationPending
}
