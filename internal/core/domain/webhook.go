package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookStatus represents the delivery state of a merchant notification.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "PENDING"
	WebhookStatusDelivered WebhookStatus = "DELIVERED"
	WebhookStatusFailed    WebhookStatus = "FAILED"
)

// CardEventType names a gift card lifecycle event sent to merchants.
type CardEventType string

const (
	CardEventActivated CardEventType = "giftcard.activated"
	CardEventRedeemed  CardEventType = "giftcard.redeemed"
	CardEventRefunded  CardEventType = "giftcard.refunded"
	CardEventCancelled CardEventType = "giftcard.cancelled"
	CardEventExpired   CardEventType = "giftcard.expired"
)

// CardEvent carries everything a rendering or storage collaborator needs
// to produce the card artifact; the ledger never renders it itself.
type CardEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       CardEventType   `json:"type"`
	GiftCardID uuid.UUID       `json:"gift_card_id"`
	Code       string          `json:"code"`
	Value      decimal.Decimal `json:"value"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency"`
	Status     GiftCardStatus  `json:"status"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewCardEvent snapshots card for an event of type t.
func NewCardEvent(t CardEventType, card *GiftCard, at time.Time) *CardEvent {
	return &CardEvent{
		EventID:    uuid.New(),
		Type:       t,
		GiftCardID: card.ID,
		Code:       card.Code,
		Value:      card.Value,
		Balance:    card.Balance,
		Currency:   card.Currency,
		Status:     card.Status,
		ExpiryDate: card.ExpiryDate,
		OccurredAt: at,
	}
}

// WebhookDeliveryLog records each notification delivery attempt.
type WebhookDeliveryLog struct {
	ID          uuid.UUID     `json:"id"`
	EventID     uuid.UUID     `json:"event_id"`
	EventType   CardEventType `json:"event_type"`
	GiftCardID  uuid.UUID     `json:"gift_card_id"`
	MerchantID  uuid.UUID     `json:"merchant_id"`
	WebhookURL  string        `json:"webhook_url"`
	Payload     string        `json:"payload"` // JSON string
	HTTPStatus  *int          `json:"http_status"`
	Attempt     int           `json:"attempt"`
	Status      WebhookStatus `json:"status"`
	NextRetryAt *time.Time    `json:"next_retry_at"`
	LastError   *string       `json:"last_error"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
