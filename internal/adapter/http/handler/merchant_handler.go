package handler

import (
	"strings"

	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// MerchantHandler handles merchant self-service endpoints.
type MerchantHandler struct {
	merchantSvc ports.MerchantService
	gate        ports.SecurityGate
}

// NewMerchantHandler creates a new merchant handler.
func NewMerchantHandler(merchantSvc ports.MerchantService, gate ports.SecurityGate) *MerchantHandler {
	return &MerchantHandler{merchantSvc: merchantSvc, gate: gate}
}

// GetProfile handles GET /api/v1/merchants/me.
func (h *MerchantHandler) GetProfile(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}

	profile, err := h.merchantSvc.GetProfile(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.MerchantProfileResponse{
		ID:           profile.ID.String(),
		Username:     profile.Username,
		MerchantName: profile.MerchantName,
		Email:        profile.Email,
		Phone:        profile.Phone,
		WebhookURL:   profile.WebhookURL,
		TOTPEnrolled: profile.TOTPSecretEnc != nil,
		Status:       string(profile.Status),
		CreatedAt:    profile.CreatedAt,
	})
}

// UpdateWebhookURL handles PUT /api/v1/merchants/me/webhook.
func (h *MerchantHandler) UpdateWebhookURL(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}

	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	url := strings.TrimSpace(req.WebhookURL)
	if err := h.merchantSvc.UpdateWebhookURL(c.Request.Context(), merchantID, url); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"webhook_url": url})
}

// RotateWebhookSecret handles POST /api/v1/merchants/me/webhook-secret.
// The new secret is returned once.
func (h *MerchantHandler) RotateWebhookSecret(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}

	secret, err := h.merchantSvc.RotateWebhookSecret(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"webhook_secret": secret})
}

// EnrollTOTP handles POST /api/v1/merchants/me/totp.
func (h *MerchantHandler) EnrollTOTP(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}

	enrollment, err := h.gate.EnrollTOTP(c.Request.Context(), merchantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, enrollment)
}

// IssueOTP handles POST /api/v1/merchants/me/otp.
func (h *MerchantHandler) IssueOTP(c *gin.Context) {
	merchantID, ok := requireMerchant(c)
	if !ok {
		return
	}

	var req dto.IssueOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	if err := h.gate.IssueOTP(c.Request.Context(), merchantID.String(), ports.OTPType(req.Channel)); err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, gin.H{"channel": req.Channel})
}
