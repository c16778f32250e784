package handler

import (
	"strings"

	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GiftCardHandler handles redemption, balance and card history endpoints.
type GiftCardHandler struct {
	ledger     ports.LedgerService
	reconciler ports.ReconciliationService
}

// NewGiftCardHandler creates a new GiftCardHandler.
func NewGiftCardHandler(ledger ports.LedgerService, reconciler ports.ReconciliationService) *GiftCardHandler {
	return &GiftCardHandler{ledger: ledger, reconciler: reconciler}
}

// Redeem handles POST /api/v1/redemptions.
func (h *GiftCardHandler) Redeem(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}
	key, err := middleware.IdempotencyKey(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	dto.SanitizeStruct(&req)

	if (req.GiftCardID == nil) == (req.Code == "") {
		response.Error(c, apperror.Validation("exactly one of gift_card_id and code is required"))
		return
	}
	var cardID *uuid.UUID
	if req.GiftCardID != nil {
		id := uuid.MustParse(*req.GiftCardID) // validated by the uuid binding
		cardID = &id
	}

	redemption, err := h.ledger.Redeem(c.Request.Context(), ports.RedeemRequest{
		GiftCardID:     cardID,
		Code:           strings.ToUpper(req.Code),
		Amount:         req.Amount,
		Method:         domain.RedemptionMethod(req.RedemptionMethod),
		MerchantID:     merchantID,
		Location:       req.Location,
		Notes:          req.Notes,
		IdempotencyKey: key,
		OTPCode:        req.OTPCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, redemption)
}

// CheckBalance handles GET /api/v1/gift-cards/balance?code=. It is public.
func (h *GiftCardHandler) CheckBalance(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Query("code")))
	if code == "" || len(code) > 32 {
		response.Error(c, apperror.Validation("code is required"))
		return
	}

	view, err := h.ledger.CheckBalance(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, view)
}

// GetCard handles GET /api/v1/gift-cards/:id.
func (h *GiftCardHandler) GetCard(c *gin.Context) {
	merchantID, cardID, ok := h.cardParams(c)
	if !ok {
		return
	}

	card, err := h.ledger.GetCard(c.Request.Context(), cardID, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, card)
}

// ListRedemptions handles GET /api/v1/gift-cards/:id/redemptions.
func (h *GiftCardHandler) ListRedemptions(c *gin.Context) {
	merchantID, cardID, ok := h.cardParams(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	items, total, err := h.ledger.ListRedemptions(c.Request.Context(), cardID, merchantID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.List(c, items, total, page, pageSize)
}

// ListTransactions handles GET /api/v1/gift-cards/:id/transactions.
func (h *GiftCardHandler) ListTransactions(c *gin.Context) {
	merchantID, cardID, ok := h.cardParams(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	items, total, err := h.ledger.ListTransactions(c.Request.Context(), cardID, merchantID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.List(c, items, total, page, pageSize)
}

// Reconcile handles GET /api/v1/gift-cards/:id/reconciliation.
func (h *GiftCardHandler) Reconcile(c *gin.Context) {
	merchantID, cardID, ok := h.cardParams(c)
	if !ok {
		return
	}

	rec, err := h.reconciler.ReconcileCard(c.Request.Context(), cardID, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, rec)
}

// Cancel handles POST /api/v1/gift-cards/:id/cancel.
func (h *GiftCardHandler) Cancel(c *gin.Context) {
	merchantID, cardID, ok := h.cardParams(c)
	if !ok {
		return
	}

	card, err := h.ledger.Cancel(c.Request.Context(), cardID, merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, card)
}

func (h *GiftCardHandler) cardParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	cardID, ok := pathUUID(c, "id")
	return merchantID, cardID, ok
}
