package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the settlement state of a gift card purchase.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// PaymentMethod is the buyer-facing payment method.
type PaymentMethod string

const (
	PaymentMethodStripe   PaymentMethod = "STRIPE"
	PaymentMethodPayPal   PaymentMethod = "PAYPAL"
	PaymentMethodRazorpay PaymentMethod = "RAZORPAY"
	PaymentMethodUPI      PaymentMethod = "UPI"
)

// Gateway names the processor family handling a payment.
type Gateway string

const (
	GatewayCardNetwork Gateway = "card_network"
	GatewayWallet      Gateway = "wallet"
	GatewayRegional    Gateway = "regional"
)

// GatewayForMethod maps a payment method to the processor that settles it.
func GatewayForMethod(m PaymentMethod) (Gateway, bool) {
	switch m {
	case PaymentMethodStripe:
		return GatewayCardNetwork, true
	case PaymentMethodPayPal:
		return GatewayWallet, true
	case PaymentMethodRazorpay, PaymentMethodUPI:
		return GatewayRegional, true
	}
	return "", false
}

// IntentStatus is the normalized processor-side status of a payment attempt.
type IntentStatus string

const (
	IntentRequiresAction IntentStatus = "REQUIRES_ACTION"
	IntentProcessing     IntentStatus = "PROCESSING"
	IntentSucceeded      IntentStatus = "SUCCEEDED"
	IntentFailed         IntentStatus = "FAILED"
	IntentCanceled       IntentStatus = "CANCELED"
)

// IsFinal returns true if the processor will not move the intent any further.
func (s IntentStatus) IsFinal() bool {
	return s == IntentSucceeded || s == IntentFailed || s == IntentCanceled
}

// Payment is the purchase of a gift card through one processor.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	MerchantID       uuid.UUID       `json:"merchant_id"`
	GiftCardID       *uuid.UUID      `json:"gift_card_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           PaymentMethod   `json:"method"`
	Gateway          Gateway         `json:"gateway"`
	Status           PaymentStatus   `json:"status"`
	ExternalIntentID *string         `json:"external_intent_id,omitempty"`
	ClientToken      *string         `json:"client_token,omitempty"`
	RedirectURL      *string         `json:"redirect_url,omitempty"`
	TransactionID    *string         `json:"transaction_id,omitempty"` // set only on COMPLETED
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	CardSpec         CardSpec        `json:"card_spec"`
	IdempotencyKey   *string         `json:"-"`
	ReturnURL        *string         `json:"return_url,omitempty"`
	CancelURL        *string         `json:"cancel_url,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsTerminal returns true if the payment will not settle any further.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}

// IsRefundable returns true if the payment settled and was not fully refunded.
func (p *Payment) IsRefundable() bool {
	return p.Status == PaymentStatusCompleted && p.TransactionID != nil
}

// ReferenceID is the merchant-visible reference sent to processors.
func (p *Payment) ReferenceID() string {
	return p.ID.String()
}
