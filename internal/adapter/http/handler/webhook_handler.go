package handler

import (
	"io"

	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives processor notifications.
type WebhookHandler struct {
	orchestrator ports.PaymentOrchestrator
	verifier     ports.WebhookVerifier
	log          zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(orchestrator ports.PaymentOrchestrator, verifier ports.WebhookVerifier, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{orchestrator: orchestrator, verifier: verifier, log: log}
}

// Handle handles POST /api/v1/webhooks/:gateway. The raw body is passed on
// untouched because signatures cover the exact bytes. Any 2xx tells the
// processor to stop redelivering; 5xx asks it to retry.
func (h *WebhookHandler) Handle(c *gin.Context) {
	gateway := c.Param("gateway")

	header, err := h.verifier.SignatureHeader(gateway)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	var signature string
	if header != "" {
		signature = c.GetHeader(header)
	}

	if err := h.orchestrator.HandleWebhook(c.Request.Context(), gateway, payload, signature); err != nil {
		h.log.Warn().Err(err).Str("gateway", gateway).Msg("webhook not processed")
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"received": true})
}
