package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of balance-affecting event.
type TransactionType string

const (
	TransactionTypePurchase       TransactionType = "PURCHASE"
	TransactionTypeRedemption     TransactionType = "REDEMPTION"
	TransactionTypeRefund         TransactionType = "REFUND"
	TransactionTypeRefundReversal TransactionType = "REFUND_REVERSAL"
	TransactionTypeExpiry         TransactionType = "EXPIRY"
)

// Transaction is an immutable ledger entry. Rows are never updated or deleted;
// corrections are new compensating entries.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	GiftCardID    uuid.UUID       `json:"gift_card_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceID   uuid.UUID       `json:"reference_id"` // payment, redemption or refund reservation
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTransaction builds a ledger entry moving balance from before to after.
func NewTransaction(cardID uuid.UUID, t TransactionType, amount, before, after decimal.Decimal, ref uuid.UUID, at time.Time) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		GiftCardID:    cardID,
		Type:          t,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   ref,
		CreatedAt:     at,
	}
}

// SignedEffect returns the entry's contribution to the card balance.
func (t *Transaction) SignedEffect() decimal.Decimal {
	switch t.Type {
	case TransactionTypePurchase, TransactionTypeRefundReversal:
		return t.Amount
	case TransactionTypeRedemption, TransactionTypeRefund:
		return t.Amount.Neg()
	}
	return decimal.Zero
}

// LedgerTotals aggregates a card's ledger log by type.
type LedgerTotals struct {
	Purchased      decimal.Decimal `json:"purchased"`
	Redeemed       decimal.Decimal `json:"redeemed"`
	Refunded       decimal.Decimal `json:"refunded"`
	RefundReversed decimal.Decimal `json:"refund_reversed"`
	Entries        int64           `json:"entries"`
}

// ExpectedBalance is the balance implied by the ledger log.
func (t LedgerTotals) ExpectedBalance() decimal.Decimal {
	return t.Purchased.Sub(t.Redeemed).Sub(t.Refunded).Add(t.RefundReversed)
}
