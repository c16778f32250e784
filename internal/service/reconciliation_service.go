package service

import (
	"context"
	"fmt"

	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	cards        ports.GiftCardRepository
	transactions ports.TransactionRepository
	log          zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(cards ports.GiftCardRepository, transactions ports.TransactionRepository, log zerolog.Logger) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{cards: cards, transactions: transactions, log: log}
}

// ReconcileCard replays the card's ledger log and reports drift from the stored row.
//
//	balance = purchased - redeemed - refunded + refund_reversed
//	value   = purchased - (refunded - refund_reversed - pending_refund)
func (s *ReconciliationServiceImpl) ReconcileCard(ctx context.Context, cardID, merchantID uuid.UUID) (*ports.CardReconciliation, error) {
	card, err := s.cards.GetByID(ctx, cardID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card: %w", err))
	}
	if card == nil || card.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("gift card")
	}

	totals, err := s.transactions.Totals(ctx, cardID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("ledger totals: %w", err))
	}

	expectedBalance := totals.ExpectedBalance()
	committedRefunds := totals.Refunded.Sub(totals.RefundReversed).Sub(card.PendingRefund)
	expectedValue := totals.Purchased.Sub(committedRefunds)
	drift := card.Balance.Sub(expectedBalance)

	rec := &ports.CardReconciliation{
		GiftCardID:      card.ID,
		Code:            card.Code,
		Status:          card.Status,
		StoredValue:     card.Value,
		StoredBalance:   card.Balance,
		PendingRefund:   card.PendingRefund,
		Totals:          *totals,
		ExpectedBalance: expectedBalance,
		ExpectedValue:   expectedValue,
		BalanceDrift:    drift,
		Consistent:      drift.IsZero() && card.Value.Equal(expectedValue),
	}
	if !rec.Consistent {
		s.log.Error().
			Str("card_id", card.ID.String()).
			Str("balance", card.Balance.String()).
			Str("expected_balance", expectedBalance.String()).
			Str("value", card.Value.String()).
			Str("expected_value", expectedValue.String()).
			Msg("ledger drift detected")
	}
	return rec, nil
}
