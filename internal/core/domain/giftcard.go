package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GiftCardStatus represents the lifecycle state of a gift card.
type GiftCardStatus string

const (
	GiftCardStatusActive    GiftCardStatus = "ACTIVE"
	GiftCardStatusRedeemed  GiftCardStatus = "REDEEMED"
	GiftCardStatusExpired   GiftCardStatus = "EXPIRED"
	GiftCardStatusCancelled GiftCardStatus = "CANCELLED"
)

// GiftCard is a stored-value instrument minted by exactly one completed payment.
// Balance is the single source of truth; it only changes under a row lock.
type GiftCard struct {
	ID                     uuid.UUID       `json:"id"`
	Code                   string          `json:"code"`
	PaymentID              uuid.UUID       `json:"payment_id"`
	MerchantID             uuid.UUID       `json:"merchant_id"`
	Value                  decimal.Decimal `json:"value"`
	Balance                decimal.Decimal `json:"balance"`
	PendingRefund          decimal.Decimal `json:"pending_refund"`
	Currency               string          `json:"currency"`
	Status                 GiftCardStatus  `json:"status"`
	AllowPartialRedemption bool            `json:"allow_partial_redemption"`
	ExpiryDate             *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// CardSpec carries the options chosen at purchase time for the card to be minted.
// CardID pre-assigns the id of the card to be minted.
type CardSpec struct {
	CardID                 *uuid.UUID `json:"card_id,omitempty"`
	AllowPartialRedemption bool       `json:"allow_partial_redemption"`
	ExpiryDate             *time.Time `json:"expiry_date,omitempty"`
}

// BalanceView is the public, read-only projection returned by a balance check.
type BalanceView struct {
	Code       string          `json:"code"`
	Balance    decimal.Decimal `json:"balance"`
	Value      decimal.Decimal `json:"value"`
	Currency   string          `json:"currency"`
	Status     GiftCardStatus  `json:"status"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// IsTerminal returns true if the card accepts no further redemption.
func (g *GiftCard) IsTerminal() bool {
	return g.Status != GiftCardStatusActive
}

// IsExpiredAt reports whether the expiry date has passed at now.
func (g *GiftCard) IsExpiredAt(now time.Time) bool {
	return g.ExpiryDate != nil && !now.Before(*g.ExpiryDate)
}

// RedeemedAmount is the value consumed by redemptions: value - balance - pendingRefund.
func (g *GiftCard) RedeemedAmount() decimal.Decimal {
	return g.Value.Sub(g.Balance).Sub(g.PendingRefund)
}

// HasPendingRefund returns true while a refund reservation is outstanding.
func (g *GiftCard) HasPendingRefund() bool {
	return g.PendingRefund.IsPositive()
}

// CanCancel returns true while the card is untouched: active, never redeemed, nothing reserved.
func (g *GiftCard) CanCancel() bool {
	return g.Status == GiftCardStatusActive &&
		g.Balance.Equal(g.Value) &&
		!g.HasPendingRefund()
}

// View projects the card for a balance check.
func (g *GiftCard) View() *BalanceView {
	return &BalanceView{
		Code:       g.Code,
		Balance:    g.Balance,
		Value:      g.Value,
		Currency:   g.Currency,
		Status:     g.Status,
		ExpiryDate: g.ExpiryDate,
	}
}

// codeAlphabet omits 0/O/1/I/L so codes survive being read aloud or retyped.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// ValidCardCode reports whether code has the GC-XXXX-XXXX-XXXX shape over
// the code alphabet. Codes are compared upper-case.
func ValidCardCode(code string) bool {
	if len(code) != 17 || !strings.HasPrefix(code, "GC") {
		return false
	}
	for i := 2; i < len(code); i++ {
		if i%5 == 2 {
			if code[i] != '-' {
				return false
			}
			continue
		}
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// NewCardCode returns a random code in the form GC-XXXX-XXXX-XXXX.
func NewCardCode() (string, error) {
	symbols := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, 0, 17)
	buf = append(buf, "GC"...)
	for group := 0; group < 3; group++ {
		buf = append(buf, '-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, symbols)
			if err != nil {
				return "", fmt.Errorf("generate card code: %w", err)
			}
			buf = append(buf, codeAlphabet[n.Int64()])
		}
	}
	return string(buf), nil
}
