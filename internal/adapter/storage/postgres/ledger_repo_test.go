package postgres

import (
	"context"
	"testing"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedemptionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)
	rd := &domain.Redemption{
		ID:             uuid.New(),
		GiftCardID:     uuid.New(),
		MerchantID:     uuid.New(),
		Amount:         decimal.NewFromInt(40),
		BalanceBefore:  decimal.NewFromInt(100),
		BalanceAfter:   decimal.NewFromInt(60),
		Method:         domain.RedemptionMethodQRCode,
		Location:       strPtr("Store #12"),
		IdempotencyKey: strPtr("redeem-1"),
		CreatedAt:      testNow(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO redemptions").
		WithArgs(rd.ID, rd.GiftCardID, rd.MerchantID, rd.Amount, rd.BalanceBefore, rd.BalanceAfter,
			rd.Method, rd.Location, rd.Notes, rd.IdempotencyKey, rd.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), dbTx, rd))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionRepo_ListByGiftCard(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRedemptionRepo(mock)
	cardID := uuid.New()
	now := testNow()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(cardID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT .+ FROM redemptions").
		WithArgs(cardID, 2, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "gift_card_id", "merchant_id", "amount", "balance_before",
			"balance_after", "method", "location", "notes", "idempotency_key", "created_at"}).
			AddRow(uuid.New(), cardID, uuid.New(), decimal.NewFromInt(10), decimal.NewFromInt(30),
				decimal.NewFromInt(20), domain.RedemptionMethodAPI, (*string)(nil), (*string)(nil), (*string)(nil), now))

	items, total, err := repo.ListByGiftCard(context.Background(), cardID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.RedemptionMethodAPI, items[0].Method)
	assert.True(t, decimal.NewFromInt(20).Equal(items[0].BalanceAfter))
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	entry := domain.NewTransaction(uuid.New(), domain.TransactionTypePurchase,
		decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(100), uuid.New(), testNow())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_transactions").
		WithArgs(entry.ID, entry.GiftCardID, entry.Type, entry.Amount, entry.BalanceBefore,
			entry.BalanceAfter, entry.ReferenceID, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), dbTx, entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByGiftCard(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	cardID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(cardID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery("SELECT .+ FROM ledger_transactions").
		WithArgs(cardID, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "gift_card_id", "type", "amount", "balance_before",
			"balance_after", "reference_id", "created_at"}).
			AddRow(uuid.New(), cardID, domain.TransactionTypeRedemption, decimal.NewFromInt(25),
				decimal.NewFromInt(100), decimal.NewFromInt(75), uuid.New(), testNow()).
			AddRow(uuid.New(), cardID, domain.TransactionTypePurchase, decimal.NewFromInt(100),
				decimal.Zero, decimal.NewFromInt(100), uuid.New(), testNow()))

	items, total, err := repo.ListByGiftCard(context.Background(), cardID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	assert.Equal(t, domain.TransactionTypeRedemption, items[0].Type)
}

func TestTransactionRepo_Totals(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	cardID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM ledger_transactions WHERE gift_card_id").
		WithArgs(cardID).
		WillReturnRows(pgxmock.NewRows([]string{"purchased", "redeemed", "refunded", "refund_reversed", "entries"}).
			AddRow(decimal.NewFromInt(100), decimal.NewFromInt(30), decimal.Zero, decimal.Zero, int64(2)))

	totals, err := repo.Totals(context.Background(), cardID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(totals.Purchased))
	assert.True(t, decimal.NewFromInt(30).Equal(totals.Redeemed))
	assert.Equal(t, int64(2), totals.Entries)
	assert.True(t, decimal.NewFromInt(70).Equal(totals.ExpectedBalance()))
}

func newTestReservation() *domain.RefundReservation {
	now := testNow()
	return &domain.RefundReservation{
		ID:         uuid.New(),
		GiftCardID: uuid.New(),
		PaymentID:  uuid.New(),
		Amount:     decimal.NewFromInt(100),
		Status:     domain.RefundReservationPending,
		Reason:     "customer request",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func reservationRow(rr *domain.RefundReservation) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "gift_card_id", "payment_id", "amount", "status",
		"external_refund_id", "reason", "created_at", "updated_at"}).
		AddRow(rr.ID, rr.GiftCardID, rr.PaymentID, rr.Amount, rr.Status,
			rr.ExternalRefundID, rr.Reason, rr.CreatedAt, rr.UpdatedAt)
}

func TestRefundReservationRepo_CreateAndLock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundReservationRepo(mock)
	rr := newTestReservation()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO refund_reservations").
		WithArgs(rr.ID, rr.GiftCardID, rr.PaymentID, rr.Amount, rr.Status,
			rr.ExternalRefundID, rr.Reason, rr.CreatedAt, rr.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .+ FROM refund_reservations WHERE id .+ FOR UPDATE").
		WithArgs(rr.ID).
		WillReturnRows(reservationRow(rr))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), dbTx, rr))
	locked, err := repo.GetByIDForUpdate(context.Background(), dbTx, rr.ID)
	require.NoError(t, err)
	require.NotNil(t, locked)
	assert.True(t, locked.IsPending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundReservationRepo_GetPendingByGiftCard_None(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundReservationRepo(mock)
	cardID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM refund_reservations").
		WithArgs(cardID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	rr, err := repo.GetPendingByGiftCard(context.Background(), dbTx, cardID)
	assert.NoError(t, err)
	assert.Nil(t, rr)
}

func TestRefundReservationRepo_GetPendingByPayment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundReservationRepo(mock)
	rr := newTestReservation()

	mock.ExpectQuery("SELECT .+ FROM refund_reservations\\s+WHERE payment_id").
		WithArgs(rr.PaymentID).
		WillReturnRows(reservationRow(rr))

	got, err := repo.GetPendingByPayment(context.Background(), rr.PaymentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rr.ID, got.ID)
	assert.True(t, got.Amount.Equal(rr.Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundReservationRepo_ListPendingBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundReservationRepo(mock)
	rr := newTestReservation()
	cutoff := testNow()

	mock.ExpectQuery("SELECT .+ FROM refund_reservations\\s+WHERE status = 'PENDING' AND created_at < \\$1").
		WithArgs(cutoff, 20).
		WillReturnRows(reservationRow(rr))

	got, err := repo.ListPendingBefore(context.Background(), cutoff, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rr.ID, got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundReservationRepo_Resolve(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRefundReservationRepo(mock)
	id := uuid.New()
	ext := strPtr("re_123")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refund_reservations").
		WithArgs(domain.RefundReservationCommitted, ext, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE refund_reservations").
		WithArgs(domain.RefundReservationReleased, (*string)(nil), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Resolve(context.Background(), dbTx, id, domain.RefundReservationCommitted, ext))

	err = repo.Resolve(context.Background(), dbTx, id, domain.RefundReservationReleased, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending refund reservation not found")
}
