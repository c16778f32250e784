package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(session Session) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// Session describes an authenticated merchant login.
type Session struct {
	MerchantID uuid.UUID
	MFA        bool // second factor verified at login
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
	SessionID  string
	MFA        bool
}

// --- Infrastructure ports (Redis) ---

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventClaimStore records processor event ids so duplicate deliveries are skipped.
type EventClaimStore interface {
	// Claim returns true if the key was not claimed before.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RateLimitStore counts requests per fixed window.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// OTPStore keeps digests of issued one-time codes.
type OTPStore interface {
	Put(ctx context.Context, key string, digest string, ttl time.Duration) error
	// Consume compares digest with the stored one, deleting it on match.
	// Codes are burned after maxAttempts failed comparisons.
	Consume(ctx context.Context, key string, digest string, maxAttempts int) (bool, error)
}

// OTPSender delivers one-time codes (email/SMS wording lives with the sender).
type OTPSender interface {
	SendCode(ctx context.Context, identifier string, channel OTPType, code string) error
}

// --- Core service ports ---

// IdempotencyStore deduplicates retried client requests and duplicate callbacks.
// Lookup checks Redis then PostgreSQL; Record writes the durable row inside the
// caller's transaction; Remember warms Redis after commit.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) ([]byte, error)
	Record(ctx context.Context, tx pgx.Tx, key string, resourceID uuid.UUID, response any) ([]byte, error)
	Remember(ctx context.Context, key string, response []byte)
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
	// Prune drops durable logs older than the retention window.
	Prune(ctx context.Context, before time.Time, limit int) (int, error)
}

// WebhookVerifier authenticates processor notifications.
type WebhookVerifier interface {
	Verify(ctx context.Context, gateway string, payload []byte, signature string) (*WebhookEvent, error)
	SignatureHeader(gateway string) (string, error)
}

// LedgerService owns gift card balance state.
type LedgerService interface {
	Activate(ctx context.Context, paymentID uuid.UUID) (*domain.GiftCard, error)
	Redeem(ctx context.Context, req RedeemRequest) (*domain.Redemption, error)
	ReserveRefund(ctx context.Context, req ReserveRefundRequest) (*domain.RefundReservation, error)
	CommitRefund(ctx context.Context, reservationID uuid.UUID, externalRefundID string) (*domain.GiftCard, error)
	ReleaseRefund(ctx context.Context, reservationID uuid.UUID, cause string) (*domain.GiftCard, error)
	CheckBalance(ctx context.Context, code string) (*domain.BalanceView, error)
	Cancel(ctx context.Context, cardID, merchantID uuid.UUID) (*domain.GiftCard, error)
	GetCard(ctx context.Context, cardID, merchantID uuid.UUID) (*domain.GiftCard, error)
	ListRedemptions(ctx context.Context, cardID, merchantID uuid.UUID, page, pageSize int) ([]domain.Redemption, int64, error)
	ListTransactions(ctx context.Context, cardID, merchantID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// RedeemRequest identifies the card by exactly one of GiftCardID or Code.
type RedeemRequest struct {
	GiftCardID     *uuid.UUID
	Code           string
	Amount         decimal.Decimal
	Method         domain.RedemptionMethod
	MerchantID     uuid.UUID
	Location       *string
	Notes          *string
	IdempotencyKey string
	OTPCode        string
}

// ReserveRefundRequest reserves unredeemed value. Nil Amount means the full remainder.
type ReserveRefundRequest struct {
	PaymentID uuid.UUID
	Amount    *decimal.Decimal
	Reason    string
}

// PaymentOrchestrator drives a payment through intent, settlement and refund.
type PaymentOrchestrator interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID, merchantID uuid.UUID, args map[string]string) (*PaymentResult, error)
	HandleWebhook(ctx context.Context, gateway string, payload []byte, signature string) error
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*RefundOutcome, error)
	GetPayment(ctx context.Context, paymentID, merchantID uuid.UUID) (*domain.Payment, error)
	ReconcilePayment(ctx context.Context, paymentID, merchantID uuid.UUID) (*PaymentResult, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// CreatePaymentRequest holds validated input for a gift card purchase.
// GiftCardID optionally pre-assigns the id of the card to be minted.
type CreatePaymentRequest struct {
	MerchantID     uuid.UUID
	GiftCardID     *uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Method         domain.PaymentMethod
	ReturnURL      *string
	CancelURL      *string
	CardSpec       domain.CardSpec
	IdempotencyKey string
}

// PaymentResult pairs a payment with the card it minted, if any.
type PaymentResult struct {
	Payment  *domain.Payment  `json:"payment"`
	GiftCard *domain.GiftCard `json:"gift_card,omitempty"`
}

// RefundPaymentRequest holds validated input for a refund.
type RefundPaymentRequest struct {
	PaymentID      uuid.UUID
	MerchantID     uuid.UUID
	Amount         *decimal.Decimal // nil = full unredeemed value
	Reason         string
	OTPCode        string
	IdempotencyKey string
}

// RefundOutcome is the result of a refund saga. Pending means the processor accepted
// the refund but has not settled it; the reservation stays open.
type RefundOutcome struct {
	Payment          *domain.Payment           `json:"payment"`
	GiftCard         *domain.GiftCard          `json:"gift_card"`
	Reservation      *domain.RefundReservation `json:"reservation"`
	ExternalRefundID string                    `json:"external_refund_id"`
	Pending          bool                      `json:"pending,omitempty"`
}

// OTPType selects how a one-time code is verified.
type OTPType string

const (
	OTPTypeTOTP  OTPType = "TOTP"
	OTPTypeEmail OTPType = "EMAIL"
	OTPTypeSMS   OTPType = "SMS"
)

// SecurityGate rate-limits callers and checks one-time codes for high-risk operations.
type SecurityGate interface {
	CheckRateLimit(ctx context.Context, identifier, action string) error
	VerifyOTP(ctx context.Context, identifier, code string, otpType OTPType) (bool, error)
	IssueOTP(ctx context.Context, identifier string, channel OTPType) error
	EnrollTOTP(ctx context.Context, merchantID uuid.UUID) (*TOTPEnrollment, error)
}

// TOTPEnrollment is shown to the merchant once.
type TOTPEnrollment struct {
	Secret  string `json:"secret"`
	URL     string `json:"otpauth_url"`
	QRImage string `json:"qr_image,omitempty"` // data URL, PNG
}

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
}

// LoginRequest holds login credentials. OTPCode is required once the
// merchant has enrolled an authenticator.
type LoginRequest struct {
	Username string
	Password string
	OTPCode  string
}

// LoginResult is an issued session token.
type LoginResult struct {
	MerchantID uuid.UUID
	Token      string
	ExpiresAt  time.Time
	MFA        bool
}

// RegisterRequest holds input for merchant registration.
type RegisterRequest struct {
	Username     string
	Password     string
	MerchantName string
	Email        *string
	Phone        *string
	WebhookURL   *string
}

// RegisterResponse holds the registration result shown once.
type RegisterResponse struct {
	MerchantID    uuid.UUID
	WebhookSecret string // Plaintext, shown only at registration
}

// MerchantService defines merchant self-service operations.
type MerchantService interface {
	GetProfile(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error)
	UpdateWebhookURL(ctx context.Context, merchantID uuid.UUID, webhookURL string) error
	RotateWebhookSecret(ctx context.Context, merchantID uuid.UUID) (string, error)
}

// CardNotifier delivers gift card lifecycle events to the merchant's webhook.
type CardNotifier interface {
	Notify(ctx context.Context, merchantID uuid.UUID, event *domain.CardEvent) error
}

// ReconciliationService compares stored card state with its ledger log.
type ReconciliationService interface {
	ReconcileCard(ctx context.Context, cardID, merchantID uuid.UUID) (*CardReconciliation, error)
}

// CardReconciliation reports drift between a card and its ledger log.
type CardReconciliation struct {
	GiftCardID      uuid.UUID             `json:"gift_card_id"`
	Code            string                `json:"code"`
	Status          domain.GiftCardStatus `json:"status"`
	StoredValue     decimal.Decimal       `json:"stored_value"`
	StoredBalance   decimal.Decimal       `json:"stored_balance"`
	PendingRefund   decimal.Decimal       `json:"pending_refund"`
	Totals          domain.LedgerTotals   `json:"totals"`
	ExpectedBalance decimal.Decimal       `json:"expected_balance"`
	ExpectedValue   decimal.Decimal       `json:"expected_value"`
	BalanceDrift    decimal.Decimal       `json:"balance_drift"`
	Consistent      bool                  `json:"consistent"`
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
