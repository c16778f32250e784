package handler

import (
	"errors"
	"io"

	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles gift card purchase and refund endpoints.
type PaymentHandler struct {
	orchestrator ports.PaymentOrchestrator
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(orchestrator ports.PaymentOrchestrator) *PaymentHandler {
	return &PaymentHandler{orchestrator: orchestrator}
}

// CreatePayment handles POST /api/v1/payments.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	key, err := middleware.IdempotencyKey(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	var cardID *uuid.UUID
	if req.GiftCardID != nil {
		id := uuid.MustParse(*req.GiftCardID) // validated by the uuid binding
		cardID = &id
	}

	payment, err := h.orchestrator.CreatePayment(c.Request.Context(), ports.CreatePaymentRequest{
		MerchantID: merchantID,
		GiftCardID: cardID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Method:     domain.PaymentMethod(req.PaymentMethod),
		ReturnURL:  req.ReturnURL,
		CancelURL:  req.CancelURL,
		CardSpec: domain.CardSpec{
			AllowPartialRedemption: req.AllowPartialRedemption,
			ExpiryDate:             req.ExpiryDate,
		},
		IdempotencyKey: key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, payment)
}

// ConfirmPayment handles POST /api/v1/payments/:id/confirm. The body is optional.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	paymentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req dto.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, bindError(err))
		return
	}

	result, err := h.orchestrator.ConfirmPayment(c.Request.Context(), paymentID, merchantID, req.Args)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, result)
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	paymentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	payment, err := h.orchestrator.GetPayment(c.Request.Context(), paymentID, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, payment)
}

// ReconcilePayment handles POST /api/v1/payments/:id/reconcile.
func (h *PaymentHandler) ReconcilePayment(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	paymentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := h.orchestrator.ReconcilePayment(c.Request.Context(), paymentID, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, result)
}

// RefundPayment handles POST /api/v1/payments/:id/refund.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	paymentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	key, err := middleware.IdempotencyKey(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, bindError(err))
		return
	}
	dto.SanitizeStruct(&req)

	outcome, err := h.orchestrator.RefundPayment(c.Request.Context(), ports.RefundPaymentRequest{
		PaymentID:      paymentID,
		MerchantID:     merchantID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		OTPCode:        req.OTPCode,
		IdempotencyKey: key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.Pending {
		response.Accepted(c, outcome)
		return
	}

	response.OK(c, outcome)
}
