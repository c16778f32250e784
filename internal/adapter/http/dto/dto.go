package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegisterRequest is the request body for merchant registration.
type RegisterRequest struct {
	Username     string  `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password     string  `json:"password" binding:"required,min=8,max=128" sanitize:"-"`
	MerchantName string  `json:"merchant_name" binding:"required,min=1,max=100"`
	Email        *string `json:"email,omitempty" binding:"omitempty,email,max=255"`
	Phone        *string `json:"phone,omitempty" binding:"omitempty,e164"`
	WebhookURL   *string `json:"webhook_url,omitempty" binding:"omitempty,safe_url,max=2048"`
}

// LoginRequest is the request body for merchant login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=50"`
	Password string `json:"password" binding:"required,max=128" sanitize:"-"`
	OTPCode  string `json:"otp_code,omitempty" binding:"omitempty,numeric,len=6"`
}

// RegisterResponse is the response body for successful registration.
// The webhook secret is shown once.
type RegisterResponse struct {
	MerchantID    string `json:"merchant_id"`
	WebhookSecret string `json:"webhook_secret"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	MerchantID string    `json:"merchant_id"`
	Token      string    `json:"token"`
	Expiry     int64     `json:"expiry"` // Unix seconds
	ExpiresAt  time.Time `json:"expires_at"`
	MFA        bool      `json:"mfa"`
}

// RedeemRequest is the request body for a redemption. Exactly one of
// GiftCardID and Code must be set.
type RedeemRequest struct {
	GiftCardID       *string         `json:"gift_card_id,omitempty" binding:"omitempty,uuid"`
	Code             string          `json:"code,omitempty" binding:"omitempty,gift_card_code"`
	Amount           decimal.Decimal `json:"amount" binding:"money"`
	RedemptionMethod string          `json:"redemption_method" binding:"required,redemption_method"`
	Location         *string         `json:"location,omitempty" binding:"omitempty,max=255"`
	Notes            *string         `json:"notes,omitempty" binding:"omitempty,max=1000"`
	OTPCode          string          `json:"otp_code,omitempty" binding:"omitempty,max=16"`
}

// CreatePaymentRequest is the request body for a gift card purchase.
type CreatePaymentRequest struct {
	GiftCardID             *string         `json:"gift_card_id,omitempty" binding:"omitempty,uuid"`
	Amount                 decimal.Decimal `json:"amount" binding:"money"`
	Currency               string          `json:"currency" binding:"required,currency_code"`
	PaymentMethod          string          `json:"payment_method" binding:"required,payment_method"`
	ReturnURL              *string         `json:"return_url,omitempty" binding:"omitempty,safe_url,max=2048"`
	CancelURL              *string         `json:"cancel_url,omitempty" binding:"omitempty,safe_url,max=2048"`
	AllowPartialRedemption bool            `json:"allow_partial_redemption"`
	ExpiryDate             *time.Time      `json:"expiry_date,omitempty"`
}

// ConfirmPaymentRequest carries processor-specific confirmation arguments
// (payment method token, payer id, signature fields).
type ConfirmPaymentRequest struct {
	Args map[string]string `json:"args,omitempty"`
}

// RefundRequest is the request body for a refund. A missing amount refunds
// the whole unredeemed value.
type RefundRequest struct {
	Amount  *decimal.Decimal `json:"amount,omitempty" binding:"omitempty,money"`
	Reason  string           `json:"reason,omitempty" binding:"omitempty,max=255"`
	OTPCode string           `json:"otp_code,omitempty" binding:"omitempty,max=16"`
}

// UpdateWebhookRequest is the request body for changing the card-event webhook URL.
// An empty URL disables notifications.
type UpdateWebhookRequest struct {
	WebhookURL string `json:"webhook_url" binding:"omitempty,safe_url,max=2048"`
}

// IssueOTPRequest asks for a one-time code over email or SMS.
type IssueOTPRequest struct {
	Channel string `json:"channel" binding:"required,oneof=EMAIL SMS"`
}

// MerchantProfileResponse is the merchant's own profile.
type MerchantProfileResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	MerchantName string    `json:"merchant_name"`
	Email        *string   `json:"email,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	WebhookURL   *string   `json:"webhook_url,omitempty"`
	TOTPEnrolled bool      `json:"totp_enrolled"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}
