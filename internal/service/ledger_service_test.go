package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"giftcard-ledger/internal/adapter/storage/memory"
	redisstore "giftcard-ledger/internal/adapter/storage/redis"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/core/ports/mocks"
	"giftcard-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerFixture struct {
	svc   *LedgerServiceImpl
	store *memory.Store
	gate  *mocks.MockSecurityGate
	idem  *IdempotencyStoreImpl
}

func newIdempotencyStore(t *testing.T, store *memory.Store) *IdempotencyStoreImpl {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyStore(store.Idempotency(), redisstore.NewIdempotencyCache(client),
		redisstore.NewClaimStore(client), time.Hour, newTestLogger())
}

func ledgerReposFor(store *memory.Store) LedgerRepos {
	return LedgerRepos{
		Cards:        store.GiftCards(),
		Payments:     store.Payments(),
		Redemptions:  store.Redemptions(),
		Transactions: store.Transactions(),
		Reservations: store.RefundReservations(),
	}
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := memory.New()
	gate := mocks.NewMockSecurityGate(ctrl)
	gate.EXPECT().CheckRateLimit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	idem := newIdempotencyStore(t, store)

	svc := NewLedgerService(ledgerReposFor(store), idem, gate, nil, store, RedemptionThresholds{
		Default:    decimal.NewFromInt(500),
		ByCurrency: map[string]decimal.Decimal{"IDR": decimal.NewFromInt(5_000_000)},
	}, newTestLogger())
	return &ledgerFixture{svc: svc, store: store, gate: gate, idem: idem}
}

// seedPayment stores a settled payment ready to mint a card.
func (f *ledgerFixture) seedPayment(t *testing.T, amount string, spec domain.CardSpec) *domain.Payment {
	t.Helper()
	now := time.Now().UTC()
	txID := "ch_" + uuid.NewString()
	p := &domain.Payment{
		ID:             uuid.New(),
		MerchantID:     uuid.New(),
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		Method:         domain.PaymentMethodStripe,
		Gateway:        domain.GatewayCardNetwork,
		Status:         domain.PaymentStatusCompleted,
		TransactionID:  &txID,
		RefundedAmount: decimal.Zero,
		CardSpec:       spec,
		CompletedAt:    &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.store.Payments().Create(context.Background(), p))
	return p
}

func (f *ledgerFixture) mint(t *testing.T, amount string, partial bool) *domain.GiftCard {
	t.Helper()
	p := f.seedPayment(t, amount, domain.CardSpec{AllowPartialRedemption: partial})
	card, err := f.svc.Activate(context.Background(), p.ID)
	require.NoError(t, err)
	return card
}

func redeemReq(card *domain.GiftCard, amount string) ports.RedeemRequest {
	id := card.ID
	return ports.RedeemRequest{
		GiftCardID: &id,
		Amount:     decimal.RequireFromString(amount),
		Method:     domain.RedemptionMethodAPI,
		MerchantID: card.MerchantID,
	}
}

func (f *ledgerFixture) card(t *testing.T, id uuid.UUID) *domain.GiftCard {
	t.Helper()
	c, err := f.store.GiftCards().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestLedger_Activate_MintsOnce(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	p := f.seedPayment(t, "100.00", domain.CardSpec{AllowPartialRedemption: true})

	first, err := f.svc.Activate(ctx, p.ID)
	require.NoError(t, err)
	second, err := f.svc.Activate(ctx, p.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, domain.GiftCardStatusActive, first.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(first.Balance))
	assert.Regexp(t, `^GC-[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}$`, first.Code)

	entries, total, err := f.store.Transactions().ListByGiftCard(ctx, first.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, domain.TransactionTypePurchase, entries[0].Type)
	assert.Equal(t, p.ID, entries[0].ReferenceID)

	linked, err := f.store.Payments().GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.GiftCardID)
	assert.Equal(t, first.ID, *linked.GiftCardID)
}

func TestLedger_Activate_PreassignedID(t *testing.T) {
	f := newLedgerFixture(t)
	want := uuid.New()
	p := f.seedPayment(t, "25.00", domain.CardSpec{CardID: &want})

	card, err := f.svc.Activate(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, want, card.ID)

	clash := f.seedPayment(t, "25.00", domain.CardSpec{CardID: &want})
	_, err = f.svc.Activate(context.Background(), clash.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestLedger_Activate_RequiresCompletedPayment(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	p := &domain.Payment{
		ID: uuid.New(), MerchantID: uuid.New(), Amount: decimal.NewFromInt(10), Currency: "USD",
		Status: domain.PaymentStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.Payments().Create(ctx, p))

	_, err := f.svc.Activate(ctx, p.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	_, err = f.svc.Activate(ctx, uuid.New())
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestLedger_Redeem_PartialThenFull(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "100.00", true)

	r1, err := f.svc.Redeem(ctx, redeemReq(card, "30.00"))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(r1.BalanceBefore))
	assert.True(t, decimal.NewFromInt(70).Equal(r1.BalanceAfter))
	assert.Equal(t, domain.GiftCardStatusActive, f.card(t, card.ID).Status)

	byCode := ports.RedeemRequest{
		Code:       card.Code,
		Amount:     decimal.NewFromInt(70),
		Method:     domain.RedemptionMethodCodeEntry,
		MerchantID: uuid.New(),
	}
	r2, err := f.svc.Redeem(ctx, byCode)
	require.NoError(t, err)
	assert.True(t, r2.BalanceAfter.IsZero())

	after := f.card(t, card.ID)
	assert.Equal(t, domain.GiftCardStatusRedeemed, after.Status)
	assert.True(t, after.Balance.IsZero())

	_, err = f.svc.Redeem(ctx, redeemReq(card, "1.00"))
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	items, total, err := f.svc.ListRedemptions(ctx, card.ID, card.MerchantID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 2)

	entries, _, err := f.svc.ListTransactions(ctx, card.ID, card.MerchantID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLedger_Redeem_Rejections(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	partial := f.mint(t, "50.00", true)
	whole := f.mint(t, "50.00", false)

	tests := []struct {
		name string
		req  ports.RedeemRequest
		code string
	}{
		{"insufficient balance", redeemReq(partial, "50.01"), apperror.CodeInsufficientBalance},
		{"partial not allowed", redeemReq(whole, "20.00"), apperror.CodePartialNotAllowed},
		{"zero amount", redeemReq(partial, "0"), apperror.CodeValidation},
		{"negative amount", redeemReq(partial, "-5"), apperror.CodeValidation},
		{"sub-cent amount", redeemReq(partial, "1.005"), apperror.CodeValidation},
		{"unknown card", ports.RedeemRequest{Code: "GC-XXXX-XXXX-XXXX", Amount: decimal.NewFromInt(1),
			Method: domain.RedemptionMethodAPI}, apperror.CodeNotFound},
		{"both id and code", func() ports.RedeemRequest {
			r := redeemReq(partial, "1")
			r.Code = partial.Code
			return r
		}(), apperror.CodeValidation},
		{"bad method", func() ports.RedeemRequest {
			r := redeemReq(partial, "1")
			r.Method = "TELEPATHY"
			return r
		}(), apperror.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Redeem(ctx, tt.req)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}

	assert.True(t, decimal.NewFromInt(50).Equal(f.card(t, partial.ID).Balance))
	assert.True(t, decimal.NewFromInt(50).Equal(f.card(t, whole.ID).Balance))

	_, err := f.svc.Redeem(ctx, redeemReq(whole, "50.00"))
	assert.NoError(t, err)
}

func TestLedger_Redeem_ConcurrentNeverOverdraws(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		wantOK      int
		wantBalance int64
		wantStatus  domain.GiftCardStatus
		loserCode   string
	}{
		{"divides evenly", "20.00", 5, 0, domain.GiftCardStatusRedeemed, apperror.CodeInvalidState},
		{"leaves a remainder", "30.00", 3, 10, domain.GiftCardStatusActive, apperror.CodeInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			ctx := context.Background()
			card := f.mint(t, "100.00", true)

			const workers = 12
			errs := make(chan error, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.svc.Redeem(ctx, redeemReq(card, tt.amount))
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			succeeded := 0
			for err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.True(t, apperror.HasCode(err, tt.loserCode), "got %v", err)
			}
			assert.Equal(t, tt.wantOK, succeeded)

			after := f.card(t, card.ID)
			assert.True(t, decimal.NewFromInt(tt.wantBalance).Equal(after.Balance), "balance %s", after.Balance)
			assert.Equal(t, tt.wantStatus, after.Status)

			_, total, err := f.store.Redemptions().ListByGiftCard(ctx, card.ID, 1, 100)
			require.NoError(t, err)
			assert.EqualValues(t, tt.wantOK, total)
		})
	}
}

func TestLedger_Redeem_IdempotentReplay(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "100.00", true)

	req := redeemReq(card, "40.00")
	req.IdempotencyKey = "order-7781"

	first, err := f.svc.Redeem(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.Redeem(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, decimal.NewFromInt(60).Equal(f.card(t, card.ID).Balance))

	req.Amount = decimal.NewFromInt(41)
	_, err = f.svc.Redeem(ctx, req)
	assert.True(t, apperror.HasCode(err, apperror.CodeIdempotencyConflict))
}

func TestLedger_Redeem_ConcurrentRetriesDebitOnce(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "100.00", true)

	req := redeemReq(card, "10.00")
	req.IdempotencyKey = "retry-storm"

	ids := make(chan uuid.UUID, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.Redeem(ctx, req)
			if assert.NoError(t, err) {
				ids <- r.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.True(t, decimal.NewFromInt(90).Equal(f.card(t, card.ID).Balance))
}

func TestLedger_Redeem_LargeAmountNeedsTOTP(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "1000.00", true)

	_, err := f.svc.Redeem(ctx, redeemReq(card, "600.00"))
	assert.True(t, apperror.HasCode(err, apperror.CodeOTPRequired))

	req := redeemReq(card, "600.00")
	req.OTPCode = "000000"
	f.gate.EXPECT().VerifyOTP(gomock.Any(), card.MerchantID.String(), "000000", ports.OTPTypeTOTP).Return(false, nil)
	_, err = f.svc.Redeem(ctx, req)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidOTP))

	req.OTPCode = "123456"
	f.gate.EXPECT().VerifyOTP(gomock.Any(), card.MerchantID.String(), "123456", ports.OTPTypeTOTP).Return(true, nil)
	_, err = f.svc.Redeem(ctx, req)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(f.card(t, card.ID).Balance))
}

func TestLedger_Redeem_TOTPCheckedAfterCardState(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	small := f.mint(t, "550.00", true)

	// no VerifyOTP expectation: a request that cannot succeed never consumes the code
	unknown := ports.RedeemRequest{
		Code: "GC-2345-6789-ABCD", Amount: decimal.NewFromInt(600), Method: domain.RedemptionMethodAPI,
		MerchantID: small.MerchantID, OTPCode: "123456",
	}
	_, err := f.svc.Redeem(ctx, unknown)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound), "got %v", err)

	tooMuch := redeemReq(small, "600.00")
	tooMuch.OTPCode = "123456"
	_, err = f.svc.Redeem(ctx, tooMuch)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientBalance), "got %v", err)
	assert.True(t, decimal.NewFromInt(550).Equal(f.card(t, small.ID).Balance))
}

func TestLedger_Redeem_ThresholdFollowsCardCurrency(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "1000.00", true)

	stored := f.card(t, card.ID)
	stored.Currency = "IDR"
	require.NoError(t, f.store.GiftCards().Update(ctx, nil, stored))

	// 600 IDR is far below the IDR threshold
	_, err := f.svc.Redeem(ctx, redeemReq(card, "600"))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(f.card(t, card.ID).Balance))

	th := RedemptionThresholds{Default: decimal.NewFromInt(500), ByCurrency: map[string]decimal.Decimal{"IDR": decimal.NewFromInt(5_000_000)}}
	assert.True(t, decimal.NewFromInt(5_000_000).Equal(th.For("idr")))
	assert.True(t, decimal.NewFromInt(500).Equal(th.For("EUR")))
}

func TestLedger_Redeem_ReplayIsNotRateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := memory.New()
	gate := mocks.NewMockSecurityGate(ctrl)
	idem := newIdempotencyStore(t, store)
	f := &ledgerFixture{
		svc:   NewLedgerService(ledgerReposFor(store), idem, gate, nil, store, RedemptionThresholds{}, newTestLogger()),
		store: store, gate: gate, idem: idem,
	}
	card := f.mint(t, "100.00", true)

	gomock.InOrder(
		gate.EXPECT().CheckRateLimit(gomock.Any(), card.MerchantID.String(), ActionRedeem).Return(nil),
		gate.EXPECT().CheckRateLimit(gomock.Any(), card.MerchantID.String(), ActionRedeem).Return(apperror.ErrRateLimitExceeded()),
	)

	req := redeemReq(card, "25.00")
	req.IdempotencyKey = "till-1"
	first, err := f.svc.Redeem(context.Background(), req)
	require.NoError(t, err)

	again, err := f.svc.Redeem(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	fresh := redeemReq(card, "25.00")
	fresh.IdempotencyKey = "till-2"
	_, err = f.svc.Redeem(context.Background(), fresh)
	assert.True(t, apperror.HasCode(err, apperror.CodeRateLimited))
	assert.True(t, decimal.NewFromInt(75).Equal(f.card(t, card.ID).Balance))
}

func TestLedger_Redeem_RateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := memory.New()
	gate := mocks.NewMockSecurityGate(ctrl)
	gate.EXPECT().CheckRateLimit(gomock.Any(), gomock.Any(), ActionRedeem).Return(apperror.ErrRateLimitExceeded())
	svc := NewLedgerService(ledgerReposFor(store), newIdempotencyStore(t, store), gate, nil, store, RedemptionThresholds{}, newTestLogger())

	id := uuid.New()
	_, err := svc.Redeem(context.Background(), ports.RedeemRequest{
		GiftCardID: &id, Amount: decimal.NewFromInt(1), Method: domain.RedemptionMethodAPI, MerchantID: uuid.New(),
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeRateLimited))
}

func TestLedger_LazyExpiry(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(24 * time.Hour)
	p := f.seedPayment(t, "80.00", domain.CardSpec{AllowPartialRedemption: true, ExpiryDate: &expiry})
	card, err := f.svc.Activate(ctx, p.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return expiry.Add(time.Minute) }

	_, err = f.svc.Redeem(ctx, redeemReq(card, "10.00"))
	assert.True(t, apperror.HasCode(err, apperror.CodeExpired))

	after := f.card(t, card.ID)
	assert.Equal(t, domain.GiftCardStatusExpired, after.Status)
	assert.True(t, decimal.NewFromInt(80).Equal(after.Balance))

	entries, _, err := f.store.Transactions().ListByGiftCard(ctx, card.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var types []domain.TransactionType
	for _, e := range entries {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, domain.TransactionTypeExpiry)

	view, err := f.svc.CheckBalance(ctx, card.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.GiftCardStatusExpired, view.Status)

	_, err = f.svc.Redeem(ctx, redeemReq(card, "10.00"))
	assert.True(t, apperror.HasCode(err, apperror.CodeExpired))
}

func TestLedger_CheckBalance_ExpiresOnRead(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour)
	p := f.seedPayment(t, "20.00", domain.CardSpec{ExpiryDate: &expiry})
	card, err := f.svc.Activate(ctx, p.ID)
	require.NoError(t, err)

	view, err := f.svc.CheckBalance(ctx, card.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.GiftCardStatusActive, view.Status)
	assert.True(t, decimal.NewFromInt(20).Equal(view.Balance))

	f.svc.now = func() time.Time { return expiry }
	view, err = f.svc.CheckBalance(ctx, card.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.GiftCardStatusExpired, view.Status)

	_, err = f.svc.CheckBalance(ctx, "GC-NOPE-NOPE-NOPE")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestLedger_ExpireDue(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due, err := f.svc.Activate(ctx, f.seedPayment(t, "10.00", domain.CardSpec{ExpiryDate: &past}).ID)
	require.NoError(t, err)
	notDue, err := f.svc.Activate(ctx, f.seedPayment(t, "10.00", domain.CardSpec{ExpiryDate: &future}).ID)
	require.NoError(t, err)
	forever := f.mint(t, "10.00", true)

	n, err := f.svc.ExpireDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.GiftCardStatusExpired, f.card(t, due.ID).Status)
	assert.Equal(t, domain.GiftCardStatusActive, f.card(t, notDue.ID).Status)
	assert.Equal(t, domain.GiftCardStatusActive, f.card(t, forever.ID).Status)

	n, err = f.svc.ExpireDue(ctx, now, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedger_RefundReserveAndCommit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "100.00", true)

	res, err := f.svc.ReserveRefund(ctx, ports.ReserveRefundRequest{PaymentID: card.PaymentID, Reason: "customer request"})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(res.Amount))
	assert.Equal(t, domain.RefundReservationPending, res.Status)

	held := f.card(t, card.ID)
	assert.True(t, held.Balance.IsZero())
	assert.True(t, decimal.NewFromInt(100).Equal(held.PendingRefund))

	_, err = f.svc.Redeem(ctx, redeemReq(card, "1.00"))
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))
	_, err = f.svc.ReserveRefund(ctx, ports.ReserveRefundRequest{PaymentID: card.PaymentID})
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	committed, err := f.svc.CommitRefund(ctx, res.ID, "re_123")
	require.NoError(t, err)
	assert.Equal(t, domain.GiftCardStatusCancelled, committed.Status)
	assert.True(t, committed.Value.IsZero())
	assert.True(t, committed.PendingRefund.IsZero())

	again, err := f.svc.CommitRefund(ctx, res.ID, "re_123")
	require.NoError(t, err)
	assert.Equal(t, committed.Status, again.Status)

	_, err = f.svc.ReleaseRefund(ctx, res.ID, "late failure")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	payment, err := f.store.Payments().GetByID(ctx, card.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(payment.RefundedAmount))
}

func TestLedger_RefundPartialCommitKeepsCardActive(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "100.00", true)
	amount := decimal.NewFromInt(40)

	res, err := f.svc.ReserveRefund(ctx, ports.ReserveRefundRequest{PaymentID: card.PaymentID, Amount: &amount})
	require.NoError(t, err)
	after, err := f.svc.CommitRefund(ctx, res.ID, "re_1")
	require.NoError(t, err)

	assert.Equal(t, domain.GiftCardStatusActive, after.Status)
	assert.True(t, decimal.NewFromInt(60).Equal(after.Value))
	assert.True(t, decimal.NewFromInt(60).Equal(after.Balance))

	payment, err := f.store.Payments().GetByID(ctx, card.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assert.True(t, amount.Equal(payment.RefundedAmount))

	tooMuch := decimal.NewFromInt(61)
	_, err = f.svc.ReserveRefund(ctx, ports.ReserveRefundRequest{PaymentID: card.PaymentID, Amount: &tooMuch})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestLedger_RefundReleaseRestoresBalance(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "75.00", true)

	res, err := f.svc.ReserveRefund(ctx, ports.ReserveRefundRequest{PaymentID: card.PaymentID})
	require.NoError(t, err)

	restored, err := f.svc.ReleaseRefund(ctx, res.ID, "gateway declined")
	require.NoError(t, err)
	assert.Equal(t, domain.GiftCardStatusActive, restored.Status)
	assert.True(t, decimal.NewFromInt(75).Equal(restored.Balance))
	assert.True(t, restored.PendingRefund.IsZero())

	totals, err := f.store.Transactions().Totals(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, restored.Balance.Equal(totals.ExpectedBalance()))
	assert.True(t, decimal.NewFromInt(75).Equal(totals.RefundReversed))

	_, err = f.svc.Redeem(ctx, redeemReq(card, "5.00"))
	assert.NoError(t, err)
}

func TestLedger_RefundBlockedAfterRedemption(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "100.00", true)

	_, err := f.svc.Redeem(ctx, redeemReq(card, "0.01"))
	require.NoError(t, err)

	_, err = f.svc.ReserveRefund(ctx, ports.ReserveRefundRequest{PaymentID: card.PaymentID})
	assert.True(t, apperror.HasCode(err, apperror.CodeRefundBlocked))
}

func TestLedger_Cancel(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	fresh := f.mint(t, "30.00", true)
	used := f.mint(t, "30.00", true)
	_, err := f.svc.Redeem(ctx, redeemReq(used, "5.00"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, fresh.ID, uuid.New())
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))

	cancelled, err := f.svc.Cancel(ctx, fresh.ID, fresh.MerchantID)
	require.NoError(t, err)
	assert.Equal(t, domain.GiftCardStatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, fresh.ID, fresh.MerchantID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	_, err = f.svc.Cancel(ctx, used.ID, used.MerchantID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	_, err = f.svc.Redeem(ctx, redeemReq(fresh, "1.00"))
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))
}

func TestLedger_GetCardScopedToMerchant(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	card := f.mint(t, "10.00", true)

	got, err := f.svc.GetCard(ctx, card.ID, card.MerchantID)
	require.NoError(t, err)
	assert.Equal(t, card.Code, got.Code)

	_, err = f.svc.GetCard(ctx, card.ID, uuid.New())
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
	_, _, err = f.svc.ListTransactions(ctx, card.ID, uuid.New(), 1, 10)
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

func TestLedger_NotifiesCardEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := memory.New()
	gate := mocks.NewMockSecurityGate(ctrl)
	gate.EXPECT().CheckRateLimit(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	notifier := mocks.NewMockCardNotifier(ctrl)
	svc := NewLedgerService(ledgerReposFor(store), newIdempotencyStore(t, store), gate, notifier, store, RedemptionThresholds{}, newTestLogger())
	f := &ledgerFixture{svc: svc, store: store}

	var events []domain.CardEventType
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, e *domain.CardEvent) error {
			events = append(events, e.Type)
			return nil
		}).Times(2)

	card := f.mint(t, "10.00", true)
	_, err := svc.Redeem(context.Background(), redeemReq(card, "10.00"))
	require.NoError(t, err)

	assert.Equal(t, []domain.CardEventType{domain.CardEventActivated, domain.CardEventRedeemed}, events)
}

func TestNormalizePage(t *testing.T) {
	p, s := normalizePage(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, defaultPageSize, s)

	_, s = normalizePage(3, 1000)
	assert.Equal(t, maxPageSize, s)
}

func TestLockFailure(t *testing.T) {
	err := lockFailure("lock gift card", fmt.Errorf("scan: %w", ports.ErrLockTimeout))
	assert.True(t, apperror.HasCode(err, apperror.CodeLockTimeout))

	err = lockFailure("lock gift card", context.DeadlineExceeded)
	assert.True(t, apperror.HasCode(err, apperror.CodeLockTimeout))

	err = lockFailure("lock gift card", errors.New("connection reset"))
	assert.True(t, apperror.HasCode(err, apperror.CodeInternal))
}
