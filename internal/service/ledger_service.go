package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxCodeAttempts bounds card code regeneration on collision.
const maxCodeAttempts = 5

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerRepos groups the tables the ledger writes.
type LedgerRepos struct {
	Cards        ports.GiftCardRepository
	Payments     ports.PaymentRepository
	Redemptions  ports.RedemptionRepository
	Transactions ports.TransactionRepository
	Reservations ports.RefundReservationRepository
}

// LedgerServiceImpl implements ports.LedgerService.
// Every balance mutation runs in one DB transaction holding the card row lock.
type LedgerServiceImpl struct {
	repos      LedgerRepos
	idem       ports.IdempotencyStore
	gate       ports.SecurityGate
	notifier   ports.CardNotifier
	transactor ports.DBTransactor
	thresholds RedemptionThresholds
	now        func() time.Time
	log        zerolog.Logger
}

// RedemptionThresholds holds, per card currency, the amount from which a
// redemption needs a TOTP code. Default covers currencies without an entry.
// A zero threshold disables the check.
type RedemptionThresholds struct {
	Default    decimal.Decimal
	ByCurrency map[string]decimal.Decimal
}

// For returns the threshold for currency.
func (t RedemptionThresholds) For(currency string) decimal.Decimal {
	if v, ok := t.ByCurrency[strings.ToUpper(currency)]; ok {
		return v
	}
	return t.Default
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	repos LedgerRepos,
	idem ports.IdempotencyStore,
	gate ports.SecurityGate,
	notifier ports.CardNotifier,
	transactor ports.DBTransactor,
	thresholds RedemptionThresholds,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		repos:      repos,
		idem:       idem,
		gate:       gate,
		notifier:   notifier,
		transactor: transactor,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Activate mints the gift card for a completed payment. Calling it again
// returns the card minted the first time.
func (s *LedgerServiceImpl) Activate(ctx context.Context, paymentID uuid.UUID) (*domain.GiftCard, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		card, created, err := s.activateOnce(ctx, paymentID)
		if errors.Is(err, ports.ErrDuplicateCardCode) {
			s.log.Warn().Str("payment_id", paymentID.String()).Msg("gift card code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		if created {
			s.log.Info().
				Str("card_id", card.ID.String()).
				Str("payment_id", paymentID.String()).
				Str("value", card.Value.String()).
				Msg("gift card activated")
			s.notify(ctx, card, domain.CardEventActivated)
		}
		return card, nil
	}
	return nil, apperror.InternalError(fmt.Errorf("activate payment %s: card code collisions exhausted", paymentID))
}

func (s *LedgerServiceImpl) activateOnce(ctx context.Context, paymentID uuid.UUID) (*domain.GiftCard, bool, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	payment, err := s.repos.Payments.GetByIDForUpdate(ctx, dbTx, paymentID)
	if err != nil {
		return nil, false, lockFailure("lock payment", err)
	}
	if payment == nil {
		return nil, false, apperror.ErrNotFound("payment")
	}

	existing, err := s.repos.Cards.GetByPaymentID(ctx, dbTx, paymentID)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("find card by payment: %w", err))
	}
	if existing != nil {
		return existing, false, nil
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, false, apperror.ErrInvalidState(fmt.Sprintf("payment is %s, not COMPLETED", payment.Status))
	}

	code, err := domain.NewCardCode()
	if err != nil {
		return nil, false, apperror.InternalError(err)
	}
	cardID := uuid.New()
	if payment.CardSpec.CardID != nil {
		cardID = *payment.CardSpec.CardID
	}

	now := s.now()
	card := &domain.GiftCard{
		ID:                     cardID,
		Code:                   code,
		PaymentID:              payment.ID,
		MerchantID:             payment.MerchantID,
		Value:                  payment.Amount,
		Balance:                payment.Amount,
		PendingRefund:          decimal.Zero,
		Currency:               payment.Currency,
		Status:                 domain.GiftCardStatusActive,
		AllowPartialRedemption: payment.CardSpec.AllowPartialRedemption,
		ExpiryDate:             payment.CardSpec.ExpiryDate,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repos.Cards.Create(ctx, dbTx, card); err != nil {
		switch {
		case errors.Is(err, ports.ErrDuplicateCardCode):
			return nil, false, err
		case errors.Is(err, ports.ErrDuplicateCardID):
			return nil, false, apperror.Validation("gift_card_id is already in use")
		}
		return nil, false, apperror.InternalError(fmt.Errorf("create gift card: %w", err))
	}
	if err := s.repos.Payments.LinkGiftCard(ctx, dbTx, payment.ID, card.ID); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("link gift card: %w", err))
	}
	entry := domain.NewTransaction(card.ID, domain.TransactionTypePurchase, card.Value, decimal.Zero, card.Value, payment.ID, now)
	if err := s.repos.Transactions.Create(ctx, dbTx, entry); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("create purchase entry: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return card, true, nil
}

// Redeem debits a card under its row lock. A replayed request is answered
// before rate limiting; the second factor is checked only once the locked card
// is known to accept the debit.
func (s *LedgerServiceImpl) Redeem(ctx context.Context, req ports.RedeemRequest) (*domain.Redemption, error) {
	if (req.GiftCardID == nil) == (req.Code == "") {
		return nil, apperror.Validation("exactly one of gift_card_id or code is required")
	}
	if !req.Method.IsValid() {
		return nil, apperror.Validation("invalid redemption_method")
	}

	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = domain.BuildIdempotencyKey("redeem", req.MerchantID, req.IdempotencyKey)
		replay, err := s.replayRedemption(ctx, idemKey, req)
		if replay != nil || err != nil {
			return replay, err
		}
	}
	if err := s.gate.CheckRateLimit(ctx, req.MerchantID.String(), ActionRedeem); err != nil {
		return nil, err
	}

	cardID, err := s.resolveCardID(ctx, req)
	if err != nil {
		return nil, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := s.lockCard(ctx, dbTx, cardID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if card.Status == domain.GiftCardStatusActive && card.IsExpiredAt(now) {
		return nil, s.expireAndCommit(ctx, dbTx, card, now)
	}
	if card.Status == domain.GiftCardStatusExpired {
		return nil, apperror.ErrExpired()
	}
	if card.IsTerminal() {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("gift card is %s", card.Status))
	}
	if card.HasPendingRefund() {
		return nil, apperror.ErrInvalidState("gift card has a refund in progress")
	}
	if err := validateAmount(req.Amount, card.Currency); err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(card.Balance) {
		return nil, apperror.ErrInsufficientBalance()
	}
	if !card.AllowPartialRedemption && !req.Amount.Equal(card.Balance) {
		return nil, apperror.ErrPartialRedemptionNotAllowed()
	}
	if threshold := s.thresholds.For(card.Currency); threshold.IsPositive() && req.Amount.GreaterThanOrEqual(threshold) {
		if err := s.requireTOTP(ctx, req.MerchantID, req.OTPCode); err != nil {
			return nil, err
		}
	}

	before := card.Balance
	card.Balance = before.Sub(req.Amount)
	if card.Balance.IsZero() {
		card.Status = domain.GiftCardStatusRedeemed
	}
	card.UpdatedAt = now
	if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	redemption := &domain.Redemption{
		ID:            uuid.New(),
		GiftCardID:    card.ID,
		MerchantID:    req.MerchantID,
		Amount:        req.Amount,
		BalanceBefore: before,
		BalanceAfter:  card.Balance,
		Method:        req.Method,
		Location:      req.Location,
		Notes:         req.Notes,
		CreatedAt:     now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		redemption.IdempotencyKey = &key
	}
	if err := s.repos.Redemptions.Create(ctx, dbTx, redemption); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create redemption: %w", err))
	}
	entry := domain.NewTransaction(card.ID, domain.TransactionTypeRedemption, req.Amount, before, card.Balance, redemption.ID, now)
	if err := s.repos.Transactions.Create(ctx, dbTx, entry); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create redemption entry: %w", err))
	}

	var respJSON []byte
	if idemKey != "" {
		respJSON, err = s.idem.Record(ctx, dbTx, idemKey, redemption.ID, redemption)
		if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
			// A concurrent retry committed first; discard this attempt and replay it.
			_ = dbTx.Rollback(ctx)
			replay, rerr := s.replayRedemption(ctx, idemKey, req)
			if rerr == nil && replay == nil {
				rerr = apperror.ErrIdempotencyConflict()
			}
			return replay, rerr
		}
		if err != nil {
			return nil, apperror.InternalError(err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	if idemKey != "" {
		s.idem.Remember(ctx, idemKey, respJSON)
	}

	s.log.Info().
		Str("card_id", card.ID.String()).
		Str("redemption_id", redemption.ID.String()).
		Str("merchant_id", req.MerchantID.String()).
		Str("amount", req.Amount.String()).
		Str("balance", card.Balance.String()).
		Msg("gift card redeemed")
	s.notify(ctx, card, domain.CardEventRedeemed)

	return redemption, nil
}

// ReserveRefund moves unredeemed value into a pending refund reservation.
func (s *LedgerServiceImpl) ReserveRefund(ctx context.Context, req ports.ReserveRefundRequest) (*domain.RefundReservation, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	payment, err := s.repos.Payments.GetByIDForUpdate(ctx, dbTx, req.PaymentID)
	if err != nil {
		return nil, lockFailure("lock payment", err)
	}
	if payment == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	card, err := s.repos.Cards.GetByPaymentID(ctx, dbTx, payment.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock gift card: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrInvalidState("payment has not minted a gift card")
	}

	now := s.now()
	if card.Status == domain.GiftCardStatusActive && card.IsExpiredAt(now) {
		return nil, s.expireAndCommit(ctx, dbTx, card, now)
	}
	pending, err := s.repos.Reservations.GetPendingByGiftCard(ctx, dbTx, card.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find pending refund: %w", err))
	}
	if pending != nil || card.HasPendingRefund() {
		return nil, apperror.ErrInvalidState("a refund is already in progress for this gift card")
	}
	if card.RedeemedAmount().IsPositive() {
		return nil, apperror.ErrRefundBlocked()
	}
	if card.Status != domain.GiftCardStatusActive {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("gift card is %s", card.Status))
	}

	amount := card.Balance
	if req.Amount != nil {
		if err := validateAmount(*req.Amount, card.Currency); err != nil {
			return nil, err
		}
		if req.Amount.GreaterThan(card.Balance) {
			return nil, apperror.Validation("refund amount exceeds the refundable value")
		}
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidState("gift card has no refundable value")
	}

	before := card.Balance
	card.Balance = before.Sub(amount)
	card.PendingRefund = card.PendingRefund.Add(amount)
	card.UpdatedAt = now
	if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}

	reservation := &domain.RefundReservation{
		ID:         uuid.New(),
		GiftCardID: card.ID,
		PaymentID:  payment.ID,
		Amount:     amount,
		Status:     domain.RefundReservationPending,
		Reason:     req.Reason,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repos.Reservations.Create(ctx, dbTx, reservation); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create refund reservation: %w", err))
	}
	entry := domain.NewTransaction(card.ID, domain.TransactionTypeRefund, amount, before, card.Balance, reservation.ID, now)
	if err := s.repos.Transactions.Create(ctx, dbTx, entry); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create refund entry: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("card_id", card.ID.String()).
		Str("reservation_id", reservation.ID.String()).
		Str("amount", amount.String()).
		Msg("refund reserved")
	return reservation, nil
}

// CommitRefund finalizes a reservation once the gateway refunded the money.
func (s *LedgerServiceImpl) CommitRefund(ctx context.Context, reservationID uuid.UUID, externalRefundID string) (*domain.GiftCard, error) {
	return s.resolveRefund(ctx, reservationID, domain.RefundReservationCommitted, externalRefundID)
}

// ReleaseRefund restores the reserved value after the gateway leg failed.
func (s *LedgerServiceImpl) ReleaseRefund(ctx context.Context, reservationID uuid.UUID, cause string) (*domain.GiftCard, error) {
	card, err := s.resolveRefund(ctx, reservationID, domain.RefundReservationReleased, "")
	if err == nil {
		s.log.Warn().Str("reservation_id", reservationID.String()).Str("cause", cause).Msg("refund released")
	}
	return card, err
}

func (s *LedgerServiceImpl) resolveRefund(ctx context.Context, reservationID uuid.UUID, to domain.RefundReservationStatus, externalRefundID string) (*domain.GiftCard, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	res, err := s.repos.Reservations.GetByIDForUpdate(ctx, dbTx, reservationID)
	if err != nil {
		return nil, lockFailure("lock refund reservation", err)
	}
	if res == nil {
		return nil, apperror.ErrNotFound("refund reservation")
	}
	// Same order as ReserveRefund: payment, then card.
	payment, err := s.repos.Payments.GetByIDForUpdate(ctx, dbTx, res.PaymentID)
	if err != nil {
		return nil, lockFailure("lock payment", err)
	}
	if payment == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	card, err := s.lockCard(ctx, dbTx, res.GiftCardID)
	if err != nil {
		return nil, err
	}
	if res.Status == to {
		return card, nil
	}
	if !res.IsPending() {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("refund reservation is %s", res.Status))
	}

	now := s.now()
	card.PendingRefund = card.PendingRefund.Sub(res.Amount)
	var ext *string
	event := domain.CardEventRefunded
	if to == domain.RefundReservationCommitted {
		card.Value = card.Value.Sub(res.Amount)
		if card.Value.IsZero() {
			card.Status = domain.GiftCardStatusCancelled
			event = domain.CardEventCancelled
		}
		if externalRefundID != "" {
			ext = &externalRefundID
		}
		refunded := payment.RefundedAmount.Add(res.Amount)
		status := domain.PaymentStatusCompleted
		if refunded.GreaterThanOrEqual(payment.Amount) {
			status = domain.PaymentStatusRefunded
		}
		if err := s.repos.Payments.UpdateRefund(ctx, dbTx, payment.ID, refunded, status); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update payment refund: %w", err))
		}
	} else {
		before := card.Balance
		card.Balance = before.Add(res.Amount)
		entry := domain.NewTransaction(card.ID, domain.TransactionTypeRefundReversal, res.Amount, before, card.Balance, res.ID, now)
		if err := s.repos.Transactions.Create(ctx, dbTx, entry); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("create refund reversal entry: %w", err))
		}
	}
	card.UpdatedAt = now
	if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update gift card: %w", err))
	}
	if err := s.repos.Reservations.Resolve(ctx, dbTx, res.ID, to, ext); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("resolve refund reservation: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if to == domain.RefundReservationCommitted {
		s.log.Info().
			Str("card_id", card.ID.String()).
			Str("reservation_id", res.ID.String()).
			Str("amount", res.Amount.String()).
			Msg("refund committed")
		s.notify(ctx, card, event)
	}
	return card, nil
}

// CheckBalance returns the public view of a card, applying lazy expiry.
func (s *LedgerServiceImpl) CheckBalance(ctx context.Context, code string) (*domain.BalanceView, error) {
	card, err := s.repos.Cards.GetByCode(ctx, code)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card by code: %w", err))
	}
	if card == nil {
		return nil, apperror.ErrNotFound("gift card")
	}
	card, err = s.expireIfDue(ctx, card)
	if err != nil {
		return nil, err
	}
	return card.View(), nil
}

// Cancel voids an untouched card.
func (s *LedgerServiceImpl) Cancel(ctx context.Context, cardID, merchantID uuid.UUID) (*domain.GiftCard, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := s.lockCard(ctx, dbTx, cardID)
	if err != nil {
		return nil, err
	}
	if card.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("gift card")
	}

	now := s.now()
	if card.Status == domain.GiftCardStatusActive && card.IsExpiredAt(now) {
		return nil, s.expireAndCommit(ctx, dbTx, card, now)
	}
	if !card.CanCancel() {
		return nil, apperror.ErrInvalidState("only an active, unused gift card can be cancelled")
	}

	card.Status = domain.GiftCardStatusCancelled
	card.UpdatedAt = now
	if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update gift card: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("card_id", card.ID.String()).Msg("gift card cancelled")
	s.notify(ctx, card, domain.CardEventCancelled)
	return card, nil
}

// GetCard returns a card owned by merchantID.
func (s *LedgerServiceImpl) GetCard(ctx context.Context, cardID, merchantID uuid.UUID) (*domain.GiftCard, error) {
	card, err := s.ownedCard(ctx, cardID, merchantID)
	if err != nil {
		return nil, err
	}
	return s.expireIfDue(ctx, card)
}

func (s *LedgerServiceImpl) ListRedemptions(ctx context.Context, cardID, merchantID uuid.UUID, page, pageSize int) ([]domain.Redemption, int64, error) {
	if _, err := s.ownedCard(ctx, cardID, merchantID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	items, total, err := s.repos.Redemptions.ListByGiftCard(ctx, cardID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return items, total, nil
}

func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, cardID, merchantID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	if _, err := s.ownedCard(ctx, cardID, merchantID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)
	items, total, err := s.repos.Transactions.ListByGiftCard(ctx, cardID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return items, total, nil
}

// ExpireDue expires active cards whose expiry date passed. It is safe to run concurrently.
func (s *LedgerServiceImpl) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := s.repos.Cards.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list expirable cards: %w", err))
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.expireByID(ctx, id, now)
		if err != nil {
			s.log.Error().Err(err).Str("card_id", id.String()).Msg("expiry sweep failed for card")
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *LedgerServiceImpl) expireByID(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	card, err := s.repos.Cards.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return false, fmt.Errorf("lock gift card: %w", err)
	}
	if card == nil || card.Status != domain.GiftCardStatusActive || !card.IsExpiredAt(now) {
		return false, nil
	}
	if err := s.expireLocked(ctx, dbTx, card, now); err != nil {
		return false, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	s.log.Info().Str("card_id", card.ID.String()).Msg("gift card expired")
	s.notify(ctx, card, domain.CardEventExpired)
	return true, nil
}

// expireIfDue applies lazy expiry to a card read without a lock.
func (s *LedgerServiceImpl) expireIfDue(ctx context.Context, card *domain.GiftCard) (*domain.GiftCard, error) {
	now := s.now()
	if card.Status != domain.GiftCardStatusActive || !card.IsExpiredAt(now) {
		return card, nil
	}
	if _, err := s.expireByID(ctx, card.ID, now); err != nil {
		return nil, apperror.InternalError(err)
	}
	fresh, err := s.repos.Cards.GetByID(ctx, card.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card: %w", err))
	}
	return fresh, nil
}

// expireAndCommit persists the EXPIRED transition found while holding the lock
// and returns the Expired error for the caller's operation.
func (s *LedgerServiceImpl) expireAndCommit(ctx context.Context, dbTx pgx.Tx, card *domain.GiftCard, now time.Time) error {
	if err := s.expireLocked(ctx, dbTx, card, now); err != nil {
		return apperror.InternalError(err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.log.Info().Str("card_id", card.ID.String()).Msg("gift card expired on access")
	s.notify(ctx, card, domain.CardEventExpired)
	return apperror.ErrExpired()
}

// expireLocked marks card EXPIRED and appends a zero-amount EXPIRY entry. The balance is kept.
func (s *LedgerServiceImpl) expireLocked(ctx context.Context, dbTx pgx.Tx, card *domain.GiftCard, now time.Time) error {
	card.Status = domain.GiftCardStatusExpired
	card.UpdatedAt = now
	if err := s.repos.Cards.Update(ctx, dbTx, card); err != nil {
		return fmt.Errorf("update gift card: %w", err)
	}
	entry := domain.NewTransaction(card.ID, domain.TransactionTypeExpiry, decimal.Zero, card.Balance, card.Balance, card.PaymentID, now)
	if err := s.repos.Transactions.Create(ctx, dbTx, entry); err != nil {
		return fmt.Errorf("create expiry entry: %w", err)
	}
	return nil
}

func (s *LedgerServiceImpl) lockCard(ctx context.Context, dbTx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	card, err := s.repos.Cards.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, lockFailure("lock gift card", err)
	}
	if card == nil {
		return nil, apperror.ErrNotFound("gift card")
	}
	return card, nil
}

// lockFailure maps a failed row lock to SYS_002 when the wait timed out.
func lockFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ports.ErrLockTimeout) {
		return apperror.ErrLockTimeout(err)
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

func (s *LedgerServiceImpl) ownedCard(ctx context.Context, cardID, merchantID uuid.UUID) (*domain.GiftCard, error) {
	card, err := s.repos.Cards.GetByID(ctx, cardID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get gift card: %w", err))
	}
	if card == nil || card.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("gift card")
	}
	return card, nil
}

func (s *LedgerServiceImpl) resolveCardID(ctx context.Context, req ports.RedeemRequest) (uuid.UUID, error) {
	if req.GiftCardID != nil {
		return *req.GiftCardID, nil
	}
	card, err := s.repos.Cards.GetByCode(ctx, req.Code)
	if err != nil {
		return uuid.Nil, apperror.InternalError(fmt.Errorf("get gift card by code: %w", err))
	}
	if card == nil {
		return uuid.Nil, apperror.ErrNotFound("gift card")
	}
	return card.ID, nil
}

func (s *LedgerServiceImpl) replayRedemption(ctx context.Context, key string, req ports.RedeemRequest) (*domain.Redemption, error) {
	data, err := s.idem.Lookup(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if data == nil {
		return nil, nil
	}
	red := &domain.Redemption{}
	if err := json.Unmarshal(data, red); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached redemption: %w", err))
	}
	if !red.Amount.Equal(req.Amount) || (req.GiftCardID != nil && *req.GiftCardID != red.GiftCardID) {
		return nil, apperror.ErrIdempotencyConflict()
	}
	return red, nil
}

func (s *LedgerServiceImpl) requireTOTP(ctx context.Context, merchantID uuid.UUID, code string) error {
	if code == "" {
		return apperror.ErrOTPRequired()
	}
	ok, err := s.gate.VerifyOTP(ctx, merchantID.String(), code, ports.OTPTypeTOTP)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ErrInvalidOTP()
	}
	return nil
}

func (s *LedgerServiceImpl) notify(ctx context.Context, card *domain.GiftCard, t domain.CardEventType) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, card.MerchantID, domain.NewCardEvent(t, card, s.now())); err != nil {
		s.log.Warn().Err(err).Str("card_id", card.ID.String()).Str("event", string(t)).Msg("card event not delivered")
	}
}

// validateAmount rejects non-positive amounts and amounts finer than the currency's minor unit.
func validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	if !money.Round(amount, currency).Equal(amount) {
		return apperror.Validation(fmt.Sprintf("amount has more decimal places than %s allows", currency))
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
