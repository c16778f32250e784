package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreatePayment  AuditAction = "CREATE_PAYMENT"
	AuditActionConfirmPayment AuditAction = "CONFIRM_PAYMENT"
	AuditActionRefund         AuditAction = "REFUND"
	AuditActionRedeem         AuditAction = "REDEEM"
	AuditActionCancelCard     AuditAction = "CANCEL_CARD"
	AuditActionReconcile      AuditAction = "RECONCILE"
	AuditActionWebhook        AuditAction = "GATEWAY_WEBHOOK"
	AuditActionRegister       AuditAction = "REGISTER"
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionUpdateWebhook  AuditAction = "UPDATE_WEBHOOK"
	AuditActionEnrollTOTP     AuditAction = "ENROLL_TOTP"
	AuditActionIssueOTP       AuditAction = "ISSUE_OTP"
	AuditActionRotateSecret   AuditAction = "ROTATE_WEBHOOK_SECRET"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
