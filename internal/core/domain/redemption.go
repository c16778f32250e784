package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RedemptionMethod is how the card was presented at redemption.
type RedemptionMethod string

const (
	RedemptionMethodQRCode    RedemptionMethod = "QR_CODE"
	RedemptionMethodCodeEntry RedemptionMethod = "CODE_ENTRY"
	RedemptionMethodLink      RedemptionMethod = "LINK"
	RedemptionMethodAPI       RedemptionMethod = "API"
)

// IsValid reports whether m is a known redemption method.
func (m RedemptionMethod) IsValid() bool {
	switch m {
	case RedemptionMethodQRCode, RedemptionMethodCodeEntry, RedemptionMethodLink, RedemptionMethodAPI:
		return true
	}
	return false
}

// Redemption is an append-only debit against a gift card.
// BalanceAfter = BalanceBefore - Amount, Amount > 0 and BalanceAfter >= 0.
type Redemption struct {
	ID             uuid.UUID        `json:"id"`
	GiftCardID     uuid.UUID        `json:"gift_card_id"`
	MerchantID     uuid.UUID        `json:"merchant_id"`
	Amount         decimal.Decimal  `json:"amount"`
	BalanceBefore  decimal.Decimal  `json:"balance_before"`
	BalanceAfter   decimal.Decimal  `json:"balance_after"`
	Method         RedemptionMethod `json:"method"`
	Location       *string          `json:"location,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	IdempotencyKey *string          `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}
