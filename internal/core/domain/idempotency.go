package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog stores the result of a mutation so a retried request replays it.
type IdempotencyLog struct {
	Key          string    `json:"key"`
	ResourceID   uuid.UUID `json:"resource_id"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIdempotencyKey scopes a client-supplied key to a merchant and operation.
func BuildIdempotencyKey(scope string, merchantID uuid.UUID, clientKey string) string {
	return scope + ":" + merchantID.String() + ":" + clientKey
}

// BuildConfirmKey is the settlement key for a payment.
func BuildConfirmKey(paymentID uuid.UUID) string {
	return "confirm:" + paymentID.String()
}

// BuildWebhookEventKey is the dedupe key for a processor event.
func BuildWebhookEventKey(gateway Gateway, eventID string) string {
	return "webhook:" + string(gateway) + ":" + eventID
}
