package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrDuplicateCardCode is returned when a generated card code collides.
var ErrDuplicateCardCode = errors.New("gift card code already exists")

// ErrDuplicateUsername is returned when a merchant username is taken.
var ErrDuplicateUsername = errors.New("username already exists")

// ErrDuplicateCardID is returned when a pre-assigned gift card id is already in use.
var ErrDuplicateCardID = errors.New("gift card id already exists")

// ErrDuplicatePaymentKey is returned when a merchant reuses a payment idempotency key.
var ErrDuplicatePaymentKey = errors.New("payment idempotency key already used")

// ErrDuplicateIdempotencyKey is returned when an idempotency log already exists for a key.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already recorded")

// ErrLockTimeout is returned when a row lock could not be acquired in time.
var ErrLockTimeout = errors.New("row lock wait timed out")

// GiftCardRepository persists gift cards.
// ForUpdate methods take a row lock held until tx ends; all balance mutations go through them.
type GiftCardRepository interface {
	Create(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GiftCard, error)
	GetByCode(ctx context.Context, code string) (*domain.GiftCard, error)
	GetByPaymentID(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*domain.GiftCard, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error)
	Update(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// PaymentRepository persists payments.
// MarkCompleted and MarkFailed only move PENDING rows and report whether they did.
// MarkRecovered moves a FAILED row to COMPLETED when the processor later reports capture.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error)
	GetByIdempotencyKey(ctx context.Context, merchantID uuid.UUID, key string) (*domain.Payment, error)
	GetByExternalIntentID(ctx context.Context, gateway domain.Gateway, externalIntentID string) (*domain.Payment, error)
	SetIntent(ctx context.Context, id uuid.UUID, intent *IntentResult) error
	MarkCompleted(ctx context.Context, id uuid.UUID, externalTransactionID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	MarkRecovered(ctx context.Context, id uuid.UUID, externalTransactionID string, at time.Time) (bool, error)
	LinkGiftCard(ctx context.Context, tx pgx.Tx, id uuid.UUID, giftCardID uuid.UUID) error
	UpdateRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, refunded decimal.Decimal, status domain.PaymentStatus) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
	ListCompletedWithoutCard(ctx context.Context, limit int) ([]domain.Payment, error)
}

// RedemptionRepository persists append-only redemptions.
type RedemptionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, redemption *domain.Redemption) error
	ListByGiftCard(ctx context.Context, giftCardID uuid.UUID, page, pageSize int) ([]domain.Redemption, int64, error)
}

// TransactionRepository persists the append-only ledger log.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error
	ListByGiftCard(ctx context.Context, giftCardID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
	Totals(ctx context.Context, giftCardID uuid.UUID) (*domain.LedgerTotals, error)
}

// RefundReservationRepository persists refund saga state.
type RefundReservationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, reservation *domain.RefundReservation) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RefundReservation, error)
	GetPendingByGiftCard(ctx context.Context, tx pgx.Tx, giftCardID uuid.UUID) (*domain.RefundReservation, error)
	GetPendingByPayment(ctx context.Context, paymentID uuid.UUID) (*domain.RefundReservation, error)
	Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.RefundReservationStatus, externalRefundID *string) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.RefundReservation, error)
}

// IdempotencyRepository persists idempotency logs (durable layer).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
	// DeleteBefore removes up to limit logs created before the cutoff.
	DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// MerchantRepository defines persistence operations for merchants.
type MerchantRepository interface {
	Create(ctx context.Context, merchant *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetByUsername(ctx context.Context, username string) (*domain.Merchant, error)
	UpdateWebhook(ctx context.Context, id uuid.UUID, webhookURL *string, secretEnc string) error
	UpdateTOTPSecret(ctx context.Context, id uuid.UUID, secretEnc string) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// WebhookRepository persists merchant notification attempts.
type WebhookRepository interface {
	Create(ctx context.Context, log *domain.WebhookDeliveryLog) error
	Update(ctx context.Context, log *domain.WebhookDeliveryLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
