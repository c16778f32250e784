package domain

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive      MerchantStatus = "ACTIVE"
	MerchantStatusSuspended   MerchantStatus = "SUSPENDED"
	MerchantStatusDeactivated MerchantStatus = "DEACTIVATED"
)

// Merchant issues gift cards and redeems them.
type Merchant struct {
	ID               uuid.UUID      `json:"id"`
	Username         string         `json:"username"`
	PasswordHash     string         `json:"-"` // Never expose
	MerchantName     string         `json:"merchant_name"`
	Email            *string        `json:"email,omitempty"`
	Phone            *string        `json:"phone,omitempty"`
	WebhookURL       *string        `json:"webhook_url,omitempty"`
	WebhookSecretEnc string         `json:"-"` // Encrypted card-event signing secret
	TOTPSecretEnc    *string        `json:"-"` // Encrypted, nil until enrolled
	Status           MerchantStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// HasTOTP returns true once the merchant enrolled an authenticator.
func (m *Merchant) HasTOTP() bool {
	return m.TOTPSecretEnc != nil && *m.TOTPSecretEnc != ""
}
