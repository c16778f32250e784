package ports

//go:generate mockgen -source=gateway.go -destination=mocks/mock_gateway.go -package=mocks

import (
	"context"

	"giftcard-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// GatewayAdapter is the uniform contract over one external payment processor.
// Amounts cross this boundary as decimals; adapters convert to minor units.
type GatewayAdapter interface {
	Name() domain.Gateway
	// SignatureHeader names the HTTP header carrying the webhook signature.
	// Empty when the processor signs inside the payload.
	SignatureHeader() string
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	// ConfirmIntent is a successful no-op when the intent is already confirmed.
	ConfirmIntent(ctx context.Context, externalIntentID string, args map[string]string) (*ConfirmResult, error)
	GetStatus(ctx context.Context, externalIntentID string) (*IntentStatusResult, error)
	Refund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefundResult, error)
	// VerifySignature authenticates a webhook and parses it. It never fails open.
	VerifySignature(payload []byte, signature string) (*WebhookEvent, error)
}

// GatewayRegistry resolves adapters by processor name.
type GatewayRegistry interface {
	Adapter(name domain.Gateway) (GatewayAdapter, error)
}

// IntentRequest opens a payment attempt.
type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	ReferenceID    string
	Method         domain.PaymentMethod
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
}

// IntentResult is returned by CreateIntent.
type IntentResult struct {
	ExternalIntentID string
	ClientToken      *string
	RedirectURL      *string
	Status           domain.IntentStatus
}

// ConfirmResult is returned by ConfirmIntent.
type ConfirmResult struct {
	Status                domain.IntentStatus
	ExternalTransactionID string
}

// IntentStatusResult is the reconciliation read of an intent.
type IntentStatusResult struct {
	Status                domain.IntentStatus
	Amount                decimal.Decimal
	Currency              string
	ExternalTransactionID string
}

// GatewayRefundRequest reverses a settled charge. Nil Amount refunds in full.
type GatewayRefundRequest struct {
	ExternalTransactionID string
	Amount                *decimal.Decimal
	Currency              string
	Reason                string
	IdempotencyKey        string
}

// GatewayRefundResult is returned by Refund.
type GatewayRefundResult struct {
	ExternalRefundID string
	Status           domain.IntentStatus
	Amount           decimal.Decimal
}

// WebhookEvent is a verified, normalized processor notification.
type WebhookEvent struct {
	EventID               string
	Gateway               domain.Gateway
	Type                  string
	ReferenceID           string
	ExternalIntentID      string
	ExternalTransactionID string
	Status                domain.IntentStatus
	Amount                decimal.Decimal
	Currency              string
}
