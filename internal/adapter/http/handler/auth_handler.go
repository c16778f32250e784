package handler

import (
	"giftcard-ledger/internal/adapter/http/dto"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler serves merchant sign-up and sign-in.
type AuthHandler struct {
	authSvc ports.AuthService
}

func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	// Sanitizing would HTML-escape query strings in the URL.
	webhookURL := req.WebhookURL
	req.WebhookURL = nil
	dto.SanitizeStruct(&req)

	result, err := h.authSvc.Register(c.Request.Context(), ports.RegisterRequest{
		Username:     req.Username,
		Password:     req.Password,
		MerchantName: req.MerchantName,
		Email:        req.Email,
		Phone:        req.Phone,
		WebhookURL:   webhookURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RegisterResponse{
		MerchantID:    result.MerchantID.String(),
		WebhookSecret: result.WebhookSecret,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	dto.SanitizeStruct(&req)

	res, err := h.authSvc.Login(c.Request.Context(), ports.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		OTPCode:  req.OTPCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		MerchantID: res.MerchantID.String(),
		Token:      res.Token,
		Expiry:     res.ExpiresAt.Unix(),
		ExpiresAt:  res.ExpiresAt.UTC(),
		MFA:        res.MFA,
	})
}
