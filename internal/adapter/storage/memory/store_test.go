package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCard(t *testing.T, s *Store, value int64) *domain.GiftCard {
	t.Helper()
	now := time.Now().UTC()
	code, err := domain.NewCardCode()
	require.NoError(t, err)
	card := &domain.GiftCard{
		ID:         uuid.New(),
		Code:       code,
		PaymentID:  uuid.New(),
		MerchantID: uuid.New(),
		Value:      decimal.NewFromInt(value),
		Balance:    decimal.NewFromInt(value),
		Currency:   "USD",
		Status:     domain.GiftCardStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.GiftCards().Create(context.Background(), nil, card))
	return card
}

func TestStore_RollbackUndoesWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	card := seedCard(t, s, 100)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	locked, err := s.GiftCards().GetByIDForUpdate(ctx, tx, card.ID)
	require.NoError(t, err)
	locked.Balance = decimal.NewFromInt(40)
	require.NoError(t, s.GiftCards().Update(ctx, tx, locked))
	require.NoError(t, s.Redemptions().Create(ctx, tx, &domain.Redemption{
		ID: uuid.New(), GiftCardID: card.ID, Amount: decimal.NewFromInt(60),
		BalanceBefore: decimal.NewFromInt(100), BalanceAfter: decimal.NewFromInt(40),
		Method: domain.RedemptionMethodAPI, CreatedAt: time.Now(),
	}))
	require.NoError(t, tx.Rollback(ctx))

	got, err := s.GiftCards().GetByID(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Balance))

	items, total, err := s.Redemptions().ListByGiftCard(ctx, card.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestStore_CommitKeepsWritesAndReleasesLocks(t *testing.T) {
	s := New()
	ctx := context.Background()
	card := seedCard(t, s, 100)

	tx, _ := s.Begin(ctx)
	locked, err := s.GiftCards().GetByIDForUpdate(ctx, tx, card.ID)
	require.NoError(t, err)
	locked.Balance = decimal.NewFromInt(75)
	require.NoError(t, s.GiftCards().Update(ctx, tx, locked))
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := s.Begin(ctx)
	again, err := s.GiftCards().GetByIDForUpdate(ctx, tx2, card.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(75).Equal(again.Balance))
	require.NoError(t, tx2.Rollback(ctx))

	assert.Error(t, tx.Commit(ctx), "finished transactions cannot be reused")
}

func TestStore_RowLockBlocksSecondTransaction(t *testing.T) {
	s := New()
	ctx := context.Background()
	card := seedCard(t, s, 100)

	tx1, _ := s.Begin(ctx)
	_, err := s.GiftCards().GetByIDForUpdate(ctx, tx1, card.ID)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	tx2, _ := s.Begin(ctx)
	_, err = s.GiftCards().GetByIDForUpdate(waitCtx, tx2, card.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, tx1.Commit(ctx))
	_, err = s.GiftCards().GetByIDForUpdate(ctx, tx2, card.ID)
	assert.NoError(t, err)
	require.NoError(t, tx2.Commit(ctx))
}

func TestStore_SerializedDebits(t *testing.T) {
	s := New()
	ctx := context.Background()
	card := seedCard(t, s, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, _ := s.Begin(ctx)
			defer tx.Rollback(ctx) //nolint:errcheck
			c, err := s.GiftCards().GetByIDForUpdate(ctx, tx, card.ID)
			if err != nil || c.Balance.LessThan(decimal.NewFromInt(10)) {
				return
			}
			c.Balance = c.Balance.Sub(decimal.NewFromInt(10))
			if s.GiftCards().Update(ctx, tx, c) == nil {
				_ = tx.Commit(ctx)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GiftCards().GetByID(ctx, card.ID)
	assert.True(t, got.Balance.IsZero())
}

func TestStore_UniqueConstraints(t *testing.T) {
	s := New()
	ctx := context.Background()
	card := seedCard(t, s, 50)

	dup := *card
	dup.ID = uuid.New()
	dup.PaymentID = uuid.New()
	err := s.GiftCards().Create(ctx, nil, &dup)
	assert.True(t, errors.Is(err, ports.ErrDuplicateCardCode))

	code, err := domain.NewCardCode()
	require.NoError(t, err)
	dup.Code = code
	dup.PaymentID = card.PaymentID
	err = s.GiftCards().Create(ctx, nil, &dup)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "gift_cards_payment_id_key", pgErr.ConstraintName)

	dup.ID = card.ID
	dup.PaymentID = uuid.New()
	err = s.GiftCards().Create(ctx, nil, &dup)
	assert.True(t, errors.Is(err, ports.ErrDuplicateCardID))

	res := &domain.RefundReservation{ID: uuid.New(), GiftCardID: card.ID, Status: domain.RefundReservationPending}
	require.NoError(t, s.RefundReservations().Create(ctx, nil, res))
	second := &domain.RefundReservation{ID: uuid.New(), GiftCardID: card.ID, Status: domain.RefundReservationPending}
	assert.Error(t, s.RefundReservations().Create(ctx, nil, second))

	require.NoError(t, s.Idempotency().Create(ctx, nil, &domain.IdempotencyLog{Key: "k"}))
	err = s.Idempotency().Create(ctx, nil, &domain.IdempotencyLog{Key: "k"})
	assert.True(t, errors.Is(err, ports.ErrDuplicateIdempotencyKey))
}

func TestStore_BalanceCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	card := seedCard(t, s, 100)

	card.PendingRefund = decimal.NewFromInt(10)
	assert.Error(t, s.GiftCards().Update(ctx, nil, card), "balance + pending refund may not exceed value")
}

func TestPaymentRepo_MarkCompletedOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &domain.Payment{ID: uuid.New(), MerchantID: uuid.New(), Status: domain.PaymentStatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Payments().Create(ctx, p))

	ok, err := s.Payments().MarkCompleted(ctx, p.ID, "ch_1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Payments().MarkCompleted(ctx, p.ID, "ch_2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Payments().MarkFailed(ctx, p.ID, "late failure")
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := s.Payments().GetByID(ctx, p.ID)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "ch_1", *got.TransactionID)

	unminted, err := s.Payments().ListCompletedWithoutCard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unminted, 1)
}

func TestPaymentRepo_MarkRecoveredOnlyFromFailed(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &domain.Payment{ID: uuid.New(), MerchantID: uuid.New(), Status: domain.PaymentStatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Payments().Create(ctx, p))

	ok, err := s.Payments().MarkRecovered(ctx, p.ID, "ch_1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "pending payments settle through MarkCompleted")

	ok, err = s.Payments().MarkFailed(ctx, p.ID, "intent never created")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Payments().MarkRecovered(ctx, p.ID, "ch_1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.Payments().GetByID(ctx, p.ID)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	assert.Nil(t, got.FailureReason)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "ch_1", *got.TransactionID)
}

func TestTransactionRepo_Totals(t *testing.T) {
	s := New()
	ctx := context.Background()
	cardID := uuid.New()
	now := time.Now()

	entries := []*domain.Transaction{
		domain.NewTransaction(cardID, domain.TransactionTypePurchase, decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(100), uuid.New(), now),
		domain.NewTransaction(cardID, domain.TransactionTypeRedemption, decimal.NewFromInt(30), decimal.NewFromInt(100), decimal.NewFromInt(70), uuid.New(), now),
	}
	for _, e := range entries {
		require.NoError(t, s.Transactions().Create(ctx, nil, e))
	}
	assert.Error(t, s.Transactions().Create(ctx, nil, domain.NewTransaction(cardID, domain.TransactionTypePurchase,
		decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(1), uuid.New(), now)))

	totals, err := s.Transactions().Totals(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Entries)
	assert.True(t, decimal.NewFromInt(70).Equal(totals.ExpectedBalance()))

	items, total, err := s.Transactions().ListByGiftCard(ctx, cardID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.TransactionTypeRedemption, items[0].Type)
}

func TestIdempotencyRepo_DeleteBeforeOldestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Idempotency().Create(ctx, nil, &domain.IdempotencyLog{Key: key, CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	n, err := s.Idempotency().DeleteBefore(ctx, base.Add(3*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for key, kept := range map[string]bool{"a": false, "b": false, "c": true, "d": true} {
		got, err := s.Idempotency().Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, kept, got != nil, key)
	}
}

// Compile-time checks that the store satisfies the repository ports.
var (
	_ ports.GiftCardRepository          = (*GiftCardRepo)(nil)
	_ ports.PaymentRepository           = (*PaymentRepo)(nil)
	_ ports.RedemptionRepository        = (*RedemptionRepo)(nil)
	_ ports.TransactionRepository       = (*TransactionRepo)(nil)
	_ ports.RefundReservationRepository = (*RefundReservationRepo)(nil)
	_ ports.IdempotencyRepository       = (*IdempotencyRepo)(nil)
	_ ports.MerchantRepository          = (*MerchantRepo)(nil)
	_ ports.AuditRepository             = (*AuditRepo)(nil)
	_ ports.WebhookRepository           = (*WebhookRepo)(nil)
	_ ports.DBTransactor                = (*Store)(nil)
	_ ports.HealthChecker               = (*Store)(nil)
)
