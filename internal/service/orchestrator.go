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
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OrchestratorConfig tunes the payment orchestrator.
type OrchestratorConfig struct {
	Retry             RetryPolicy
	RefundRequiresOTP bool
}

// OrchestratorImpl implements ports.PaymentOrchestrator.
type OrchestratorImpl struct {
	payments     ports.PaymentRepository
	reservations ports.RefundReservationRepository
	ledger       ports.LedgerService
	registry     ports.GatewayRegistry
	verifier     ports.WebhookVerifier
	idem         ports.IdempotencyStore
	gate         ports.SecurityGate
	transactor   ports.DBTransactor
	cfg          OrchestratorConfig
	now          func() time.Time
	log          zerolog.Logger
}

// NewOrchestrator creates a new OrchestratorImpl.
func NewOrchestrator(
	payments ports.PaymentRepository,
	reservations ports.RefundReservationRepository,
	ledger ports.LedgerService,
	registry ports.GatewayRegistry,
	verifier ports.WebhookVerifier,
	idem ports.IdempotencyStore,
	gate ports.SecurityGate,
	transactor ports.DBTransactor,
	cfg OrchestratorConfig,
	log zerolog.Logger,
) *OrchestratorImpl {
	return &OrchestratorImpl{
		payments:     payments,
		reservations: reservations,
		ledger:       ledger,
		registry:     registry,
		verifier:     verifier,
		idem:         idem,
		gate:         gate,
		transactor:   transactor,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// CreatePayment persists a PENDING payment and opens the processor intent.
func (o *OrchestratorImpl) CreatePayment(ctx context.Context, req ports.CreatePaymentRequest) (*domain.Payment, error) {
	req.Currency = strings.ToUpper(req.Currency)
	if !money.ValidCurrency(req.Currency) {
		return nil, apperror.Validation("currency must be a 3-letter ISO 4217 code")
	}
	if err := validateAmount(req.Amount, req.Currency); err != nil {
		return nil, err
	}
	gw, ok := domain.GatewayForMethod(req.Method)
	if !ok {
		return nil, apperror.Validation("invalid payment_method")
	}
	if req.CardSpec.ExpiryDate != nil && !req.CardSpec.ExpiryDate.After(o.now()) {
		return nil, apperror.Validation("expiry_date must be in the future")
	}
	adapter, err := o.registry.Adapter(gw)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := o.payments.GetByIdempotencyKey(ctx, req.MerchantID, req.IdempotencyKey)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get payment by idempotency key: %w", err))
		}
		if existing != nil {
			return o.replayPayment(ctx, adapter, existing, req)
		}
	}
	if err := o.gate.CheckRateLimit(ctx, req.MerchantID.String(), ActionPayment); err != nil {
		return nil, err
	}

	now := o.now()
	payment := &domain.Payment{
		ID:             uuid.New(),
		MerchantID:     req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		Gateway:        gw,
		Status:         domain.PaymentStatusPending,
		RefundedAmount: decimal.Zero,
		CardSpec:       req.CardSpec,
		ReturnURL:      req.ReturnURL,
		CancelURL:      req.CancelURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.GiftCardID != nil {
		payment.CardSpec.CardID = req.GiftCardID
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		payment.IdempotencyKey = &key
	}

	if err := o.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, ports.ErrDuplicatePaymentKey) {
			existing, gerr := o.payments.GetByIdempotencyKey(ctx, req.MerchantID, req.IdempotencyKey)
			if gerr != nil || existing == nil {
				return nil, apperror.InternalError(fmt.Errorf("reload payment after key race: %w", gerr))
			}
			return o.replayPayment(ctx, adapter, existing, req)
		}
		return nil, apperror.InternalError(fmt.Errorf("create payment: %w", err))
	}

	o.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("merchant_id", payment.MerchantID.String()).
		Str("gateway", string(gw)).
		Str("amount", payment.Amount.String()).
		Msg("payment created")
	return o.openIntent(ctx, adapter, payment)
}

// openIntent asks the processor for the payment's intent. The processor key is derived
// from the payment id, so repeating the call after a timeout finds the intent an earlier
// attempt may have opened. Only a definitive rejection fails the payment.
func (o *OrchestratorImpl) openIntent(ctx context.Context, adapter ports.GatewayAdapter, payment *domain.Payment) (*domain.Payment, error) {
	intentReq := ports.IntentRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		ReferenceID:    payment.ReferenceID(),
		Method:         payment.Method,
		ReturnURL:      deref(payment.ReturnURL),
		CancelURL:      deref(payment.CancelURL),
		IdempotencyKey: "intent-" + payment.ID.String(),
	}
	intent, err := withRetry(ctx, o.cfg.Retry, o.log, "create_intent", func(ctx context.Context) (*ports.IntentResult, error) {
		return adapter.CreateIntent(ctx, intentReq)
	})
	if err != nil {
		if apperror.IsRetryable(err) {
			o.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("intent outcome unknown, payment left pending")
			return nil, err
		}
		o.fail(ctx, payment, err.Error())
		return nil, err
	}

	if err := o.payments.SetIntent(ctx, payment.ID, intent); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("store intent: %w", err))
	}
	payment.ExternalIntentID = &intent.ExternalIntentID
	payment.ClientToken = intent.ClientToken
	payment.RedirectURL = intent.RedirectURL

	res, err := o.apply(ctx, payment, intent.Status, "")
	if err != nil {
		// settled at the processor; the card is minted by reconciliation
		o.log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("settling opened intent failed")
		return payment, nil
	}
	o.log.Debug().
		Str("payment_id", payment.ID.String()).
		Str("intent_id", intent.ExternalIntentID).
		Str("intent_status", string(intent.Status)).
		Msg("payment intent opened")
	return res.Payment, nil
}

// replayPayment answers a repeated create. A payment whose intent creation timed out
// gets a fresh attempt under the same processor key.
func (o *OrchestratorImpl) replayPayment(ctx context.Context, adapter ports.GatewayAdapter, existing *domain.Payment, req ports.CreatePaymentRequest) (*domain.Payment, error) {
	if !existing.Amount.Equal(req.Amount) || existing.Currency != req.Currency || existing.Method != req.Method {
		return nil, apperror.ErrIdempotencyConflict()
	}
	if existing.Status == domain.PaymentStatusPending && existing.ExternalIntentID == nil {
		o.log.Info().Str("payment_id", existing.ID.String()).Msg("retrying intent creation")
		return o.openIntent(ctx, adapter, existing)
	}
	return existing, nil
}

// ConfirmPayment settles a payment after the buyer's processor step.
func (o *OrchestratorImpl) ConfirmPayment(ctx context.Context, paymentID, merchantID uuid.UUID, args map[string]string) (*ports.PaymentResult, error) {
	key := domain.BuildConfirmKey(paymentID)
	cached, err := o.idem.Lookup(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if cached != nil {
		settled := &ports.PaymentResult{}
		if err := json.Unmarshal(cached, settled); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("unmarshal cached confirmation: %w", err))
		}
		if settled.Payment == nil || settled.Payment.MerchantID != merchantID {
			return nil, apperror.ErrNotFound("payment")
		}
		return o.currentResult(ctx, settled, merchantID)
	}

	payment, err := o.ownedPayment(ctx, paymentID, merchantID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case domain.PaymentStatusCompleted:
		return o.settle(ctx, payment, "")
	case domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return &ports.PaymentResult{Payment: payment}, nil
	}
	if payment.ExternalIntentID == nil {
		return nil, apperror.ErrInvalidState("payment has no processor intent yet")
	}

	adapter, err := o.registry.Adapter(payment.Gateway)
	if err != nil {
		return nil, err
	}
	res, err := withRetry(ctx, o.cfg.Retry, o.log, "confirm_intent", func(ctx context.Context) (*ports.ConfirmResult, error) {
		return adapter.ConfirmIntent(ctx, *payment.ExternalIntentID, args)
	})
	if err != nil {
		return nil, err
	}
	return o.apply(ctx, payment, res.Status, res.ExternalTransactionID)
}

// currentResult re-reads the payment and card of a recorded confirmation; refunds
// and redemptions may have moved both since.
func (o *OrchestratorImpl) currentResult(ctx context.Context, settled *ports.PaymentResult, merchantID uuid.UUID) (*ports.PaymentResult, error) {
	payment, err := o.ownedPayment(ctx, settled.Payment.ID, merchantID)
	if err != nil {
		return nil, err
	}
	result := &ports.PaymentResult{Payment: payment}
	cardID := payment.GiftCardID
	if cardID == nil && settled.GiftCard != nil {
		cardID = &settled.GiftCard.ID
	}
	if cardID != nil {
		card, err := o.ledger.GetCard(ctx, *cardID, merchantID)
		if err != nil {
			return nil, err
		}
		result.GiftCard = card
	}
	return result, nil
}

// HandleWebhook applies a verified processor notification. Duplicate events are acknowledged without effect.
func (o *OrchestratorImpl) HandleWebhook(ctx context.Context, gateway string, payload []byte, signature string) error {
	evt, err := o.verifier.Verify(ctx, gateway, payload, signature)
	if err != nil {
		return err
	}

	claimKey := domain.BuildWebhookEventKey(evt.Gateway, evt.EventID)
	claimed, err := o.idem.Claim(ctx, claimKey)
	if err != nil {
		// Settlement itself is idempotent, so a claim store outage only costs a redundant pass.
		o.log.Warn().Err(err).Str("event_id", evt.EventID).Msg("webhook claim failed, processing anyway")
		claimed = true
	}
	if !claimed {
		o.log.Debug().Str("event_id", evt.EventID).Str("gateway", gateway).Msg("duplicate webhook ignored")
		return nil
	}

	if err := o.applyEvent(ctx, evt); err != nil {
		if !apperror.HasCode(err, apperror.CodeValidation) {
			o.idem.Release(ctx, claimKey)
		}
		return err
	}
	return nil
}

func (o *OrchestratorImpl) applyEvent(ctx context.Context, evt *ports.WebhookEvent) error {
	payment, err := o.paymentForEvent(ctx, evt)
	if err != nil {
		return err
	}
	if payment == nil {
		o.log.Warn().
			Str("gateway", string(evt.Gateway)).
			Str("event_id", evt.EventID).
			Str("reference_id", evt.ReferenceID).
			Msg("webhook for unknown payment ignored")
		return nil
	}
	if payment.Gateway != evt.Gateway {
		return apperror.Validation("webhook gateway does not match payment")
	}
	if evt.Status == domain.IntentSucceeded && evt.Amount.IsPositive() &&
		!money.Round(evt.Amount, payment.Currency).Equal(payment.Amount) {
		o.log.Error().
			Str("payment_id", payment.ID.String()).
			Str("expected", payment.Amount.String()).
			Str("reported", evt.Amount.String()).
			Msg("webhook amount mismatch, not settling")
		return apperror.Validation("webhook amount does not match payment")
	}

	_, err = o.apply(ctx, payment, evt.Status, evt.ExternalTransactionID)
	if err != nil {
		return err
	}
	o.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("event_id", evt.EventID).
		Str("status", string(evt.Status)).
		Msg("webhook processed")
	return nil
}

func (o *OrchestratorImpl) paymentForEvent(ctx context.Context, evt *ports.WebhookEvent) (*domain.Payment, error) {
	if id, err := uuid.Parse(evt.ReferenceID); err == nil {
		payment, err := o.payments.GetByID(ctx, id)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
		}
		if payment != nil {
			return payment, nil
		}
	}
	if evt.ExternalIntentID == "" {
		return nil, nil
	}
	payment, err := o.payments.GetByExternalIntentID(ctx, evt.Gateway, evt.ExternalIntentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment by intent: %w", err))
	}
	return payment, nil
}

// RefundPayment runs the refund saga: reserve, refund at the processor, then commit or release.
// A reservation left pending by an unreachable processor is resumed on the next call.
func (o *OrchestratorImpl) RefundPayment(ctx context.Context, req ports.RefundPaymentRequest) (*ports.RefundOutcome, error) {
	if err := o.gate.CheckRateLimit(ctx, req.MerchantID.String(), ActionRefund); err != nil {
		return nil, err
	}

	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = domain.BuildIdempotencyKey("refund", req.MerchantID, req.IdempotencyKey)
		cached, err := o.idem.Lookup(ctx, idemKey)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		if cached != nil {
			outcome := &ports.RefundOutcome{}
			if err := json.Unmarshal(cached, outcome); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("unmarshal cached refund: %w", err))
			}
			if outcome.Payment == nil || outcome.Payment.ID != req.PaymentID {
				return nil, apperror.ErrIdempotencyConflict()
			}
			return outcome, nil
		}
	}

	payment, err := o.ownedPayment(ctx, req.PaymentID, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !payment.IsRefundable() {
		return nil, apperror.ErrInvalidState(fmt.Sprintf("payment is %s and cannot be refunded", payment.Status))
	}
	if o.cfg.RefundRequiresOTP {
		if req.OTPCode == "" {
			return nil, apperror.ErrOTPRequired()
		}
		ok, err := o.gate.VerifyOTP(ctx, req.MerchantID.String(), req.OTPCode, ports.OTPTypeTOTP)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperror.ErrInvalidOTP()
		}
	}
	adapter, err := o.registry.Adapter(payment.Gateway)
	if err != nil {
		return nil, err
	}

	reservation, err := o.reservations.GetPendingByPayment(ctx, payment.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get pending refund: %w", err))
	}
	if reservation != nil {
		if req.Amount != nil && !req.Amount.Equal(reservation.Amount) {
			return nil, apperror.ErrInvalidState("a different refund is already in progress for this payment")
		}
		o.log.Info().Str("reservation_id", reservation.ID.String()).Msg("resuming pending refund")
	} else {
		reservation, err = o.ledger.ReserveRefund(ctx, ports.ReserveRefundRequest{
			PaymentID: payment.ID,
			Amount:    req.Amount,
			Reason:    req.Reason,
		})
		if err != nil {
			return nil, err
		}
	}

	outcome, err := o.executeRefund(ctx, adapter, payment, reservation)
	if err != nil {
		return nil, err
	}
	if idemKey != "" && !outcome.Pending {
		o.record(ctx, idemKey, reservation.ID, outcome)
	}
	return outcome, nil
}

// executeRefund runs the processor leg of a reserved refund. The ledger commits only on a
// reported success; a refund the processor is still settling keeps its reservation pending,
// and a later call with the same processor key picks it up.
func (o *OrchestratorImpl) executeRefund(ctx context.Context, adapter ports.GatewayAdapter, payment *domain.Payment, reservation *domain.RefundReservation) (*ports.RefundOutcome, error) {
	amount := reservation.Amount
	refundReq := ports.GatewayRefundRequest{
		ExternalTransactionID: *payment.TransactionID,
		Amount:                &amount,
		Currency:              payment.Currency,
		Reason:                reservation.Reason,
		IdempotencyKey:        "refund-" + reservation.ID.String(),
	}
	res, err := withRetry(ctx, o.cfg.Retry, o.log, "refund", func(ctx context.Context) (*ports.GatewayRefundResult, error) {
		return adapter.Refund(ctx, refundReq)
	})
	switch {
	case err != nil && apperror.IsRetryable(err):
		// The processor may or may not have moved the money; keep the reservation pending.
		o.log.Warn().Err(err).Str("reservation_id", reservation.ID.String()).Msg("refund outcome unknown, reservation kept")
		return nil, err
	case err != nil:
		o.release(ctx, reservation.ID, err.Error())
		if apperror.HasCode(err, apperror.CodeGatewayRefund) {
			return nil, err
		}
		return nil, apperror.ErrGatewayRefund(err)
	case res.Status == domain.IntentFailed || res.Status == domain.IntentCanceled:
		o.release(ctx, reservation.ID, "processor reported "+string(res.Status))
		return nil, apperror.ErrGatewayRefund(fmt.Errorf("%s refund %s", payment.Gateway, res.Status))
	case res.Status != domain.IntentSucceeded:
		o.log.Info().
			Str("reservation_id", reservation.ID.String()).
			Str("status", string(res.Status)).
			Msg("refund accepted by processor, awaiting settlement")
		card, err := o.ledger.GetCard(ctx, reservation.GiftCardID, payment.MerchantID)
		if err != nil {
			return nil, err
		}
		return &ports.RefundOutcome{
			Payment:          payment,
			GiftCard:         card,
			Reservation:      reservation,
			ExternalRefundID: res.ExternalRefundID,
			Pending:          true,
		}, nil
	}

	card, err := o.ledger.CommitRefund(ctx, reservation.ID, res.ExternalRefundID)
	if err != nil {
		return nil, err
	}
	reservation.Status = domain.RefundReservationCommitted
	if res.ExternalRefundID != "" {
		ext := res.ExternalRefundID
		reservation.ExternalRefundID = &ext
	}
	if fresh, err := o.payments.GetByID(ctx, payment.ID); err == nil && fresh != nil {
		payment = fresh
	}

	o.log.Info().
		Str("payment_id", payment.ID.String()).
		Str("reservation_id", reservation.ID.String()).
		Str("amount", amount.String()).
		Str("external_refund_id", res.ExternalRefundID).
		Msg("refund completed")
	return &ports.RefundOutcome{
		Payment:          payment,
		GiftCard:         card,
		Reservation:      reservation,
		ExternalRefundID: res.ExternalRefundID,
	}, nil
}

// GetPayment returns a payment owned by merchantID.
func (o *OrchestratorImpl) GetPayment(ctx context.Context, paymentID, merchantID uuid.UUID) (*domain.Payment, error) {
	return o.ownedPayment(ctx, paymentID, merchantID)
}

// ReconcilePayment polls the processor and applies whatever it reports.
func (o *OrchestratorImpl) ReconcilePayment(ctx context.Context, paymentID, merchantID uuid.UUID) (*ports.PaymentResult, error) {
	payment, err := o.ownedPayment(ctx, paymentID, merchantID)
	if err != nil {
		return nil, err
	}
	return o.reconcile(ctx, payment)
}

// ReconcilePending reconciles payments stuck in PENDING for longer than olderThan,
// mints cards for settled payments that have none, and resumes refunds the processor
// had not settled.
func (o *OrchestratorImpl) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := o.payments.ListPendingBefore(ctx, o.now().Add(-olderThan), limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list pending payments: %w", err))
	}
	orphaned, err := o.payments.ListCompletedWithoutCard(ctx, limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list completed payments without card: %w", err))
	}

	batch := append(pending, orphaned...)
	resolved := 0
	for i := range batch {
		p := &batch[i]
		res, err := o.reconcile(ctx, p)
		if err != nil {
			o.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("reconciliation failed")
			continue
		}
		if res.Payment.IsTerminal() {
			resolved++
		}
	}
	return resolved + o.reconcileRefunds(ctx, olderThan, limit), nil
}

// reconcileRefunds repeats the processor leg of stale pending reservations and returns
// how many were committed or released.
func (o *OrchestratorImpl) reconcileRefunds(ctx context.Context, olderThan time.Duration, limit int) int {
	stale, err := o.reservations.ListPendingBefore(ctx, o.now().Add(-olderThan), limit)
	if err != nil {
		o.log.Warn().Err(err).Msg("list pending refund reservations failed")
		return 0
	}
	resolved := 0
	for i := range stale {
		rr := &stale[i]
		payment, err := o.payments.GetByID(ctx, rr.PaymentID)
		if err != nil || payment == nil || payment.TransactionID == nil {
			o.log.Warn().Err(err).Str("reservation_id", rr.ID.String()).Msg("refund reservation without settled payment")
			continue
		}
		adapter, err := o.registry.Adapter(payment.Gateway)
		if err != nil {
			continue
		}
		outcome, err := o.executeRefund(ctx, adapter, payment, rr)
		if err != nil {
			if apperror.HasCode(err, apperror.CodeGatewayRefund) {
				resolved++
			}
			o.log.Warn().Err(err).Str("reservation_id", rr.ID.String()).Msg("refund reconciliation failed")
			continue
		}
		if !outcome.Pending {
			resolved++
		}
	}
	return resolved
}

func (o *OrchestratorImpl) reconcile(ctx context.Context, payment *domain.Payment) (*ports.PaymentResult, error) {
	switch payment.Status {
	case domain.PaymentStatusCompleted:
		return o.settle(ctx, payment, "")
	case domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
		return &ports.PaymentResult{Payment: payment}, nil
	}

	adapter, err := o.registry.Adapter(payment.Gateway)
	if err != nil {
		return nil, err
	}
	if payment.ExternalIntentID == nil {
		opened, err := o.openIntent(ctx, adapter, payment)
		if err != nil {
			if payment.IsTerminal() {
				return &ports.PaymentResult{Payment: payment}, nil
			}
			return nil, err
		}
		if opened.IsTerminal() {
			return o.reconcile(ctx, opened)
		}
		payment = opened
	}
	st, err := withRetry(ctx, o.cfg.Retry, o.log, "get_status", func(ctx context.Context) (*ports.IntentStatusResult, error) {
		return adapter.GetStatus(ctx, *payment.ExternalIntentID)
	})
	if err != nil {
		return nil, err
	}
	if st.Status == domain.IntentSucceeded && st.Amount.IsPositive() &&
		!money.Round(st.Amount, payment.Currency).Equal(payment.Amount) {
		return nil, apperror.ErrInvalidState("processor amount does not match payment")
	}
	return o.apply(ctx, payment, st.Status, st.ExternalTransactionID)
}

// apply moves a payment according to the processor status. Only PENDING payments fail.
func (o *OrchestratorImpl) apply(ctx context.Context, payment *domain.Payment, status domain.IntentStatus, externalTxID string) (*ports.PaymentResult, error) {
	switch status {
	case domain.IntentSucceeded:
		return o.settle(ctx, payment, externalTxID)
	case domain.IntentFailed, domain.IntentCanceled:
		if payment.Status == domain.PaymentStatusPending {
			o.fail(ctx, payment, "processor reported "+string(status))
		}
		return &ports.PaymentResult{Payment: payment}, nil
	default:
		return &ports.PaymentResult{Payment: payment}, nil
	}
}

// settle marks the payment COMPLETED (first writer wins) and mints its card. A payment
// failed locally is settled too: the processor's capture is authoritative.
func (o *OrchestratorImpl) settle(ctx context.Context, payment *domain.Payment, externalTxID string) (*ports.PaymentResult, error) {
	if payment.Status == domain.PaymentStatusPending || payment.Status == domain.PaymentStatusFailed {
		if externalTxID == "" && payment.ExternalIntentID != nil {
			externalTxID = *payment.ExternalIntentID
		}
		mark, msg := o.payments.MarkCompleted, "payment completed"
		if payment.Status == domain.PaymentStatusFailed {
			mark, msg = o.payments.MarkRecovered, "processor captured a failed payment, settled"
		}
		moved, err := mark(ctx, payment.ID, externalTxID, o.now())
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("mark payment completed: %w", err))
		}
		if moved {
			o.log.Info().Str("payment_id", payment.ID.String()).Str("previous_status", string(payment.Status)).Msg(msg)
		}
		fresh, err := o.payments.GetByID(ctx, payment.ID)
		if err != nil || fresh == nil {
			return nil, apperror.InternalError(fmt.Errorf("reload payment: %w", err))
		}
		payment = fresh
	}

	card, err := o.ledger.Activate(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	payment.GiftCardID = &card.ID
	result := &ports.PaymentResult{Payment: payment, GiftCard: card}
	o.record(ctx, domain.BuildConfirmKey(payment.ID), payment.ID, result)
	return result, nil
}

func (o *OrchestratorImpl) fail(ctx context.Context, payment *domain.Payment, reason string) {
	moved, err := o.payments.MarkFailed(ctx, payment.ID, reason)
	if err != nil {
		o.log.Error().Err(err).Str("payment_id", payment.ID.String()).Msg("failed to mark payment failed")
		return
	}
	if moved {
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = &reason
		o.log.Warn().Str("payment_id", payment.ID.String()).Str("reason", reason).Msg("payment failed")
		return
	}
	if fresh, err := o.payments.GetByID(ctx, payment.ID); err == nil && fresh != nil {
		*payment = *fresh
	}
}

func (o *OrchestratorImpl) release(ctx context.Context, reservationID uuid.UUID, cause string) {
	if _, err := o.ledger.ReleaseRefund(ctx, reservationID, cause); err != nil {
		o.log.Error().Err(err).Str("reservation_id", reservationID.String()).Msg("failed to release refund reservation")
	}
}

// record stores a replayable result. Failures are logged; the operations are idempotent without it.
func (o *OrchestratorImpl) record(ctx context.Context, key string, resourceID uuid.UUID, result any) {
	dbTx, err := o.transactor.Begin(ctx)
	if err != nil {
		o.log.Warn().Err(err).Str("key", key).Msg("failed to record idempotent result")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	data, err := o.idem.Record(ctx, dbTx, key, resourceID, result)
	if errors.Is(err, ports.ErrDuplicateIdempotencyKey) {
		return
	}
	if err != nil {
		o.log.Warn().Err(err).Str("key", key).Msg("failed to record idempotent result")
		return
	}
	if err := dbTx.Commit(ctx); err != nil {
		o.log.Warn().Err(err).Str("key", key).Msg("failed to commit idempotent result")
		return
	}
	o.idem.Remember(ctx, key, data)
}

func (o *OrchestratorImpl) ownedPayment(ctx context.Context, paymentID, merchantID uuid.UUID) (*domain.Payment, error) {
	payment, err := o.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil || payment.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("payment")
	}
	return payment, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
