package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful write operations. Routes are matched on their
// registered pattern so path parameters end up in ResourceID.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var merchantID *uuid.UUID
		if id, ok := MerchantID(c); ok {
			merchantID = &id
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(CtxRequestID),
		})

		resourceID := c.Param("id")
		if resourceID == "" {
			resourceID = c.Param("gateway")
		}

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			MerchantID:   merchantID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost && method != http.MethodPut {
		return "", ""
	}
	switch route {
	case "/api/v1/auth/register":
		return domain.AuditActionRegister, "merchant"
	case "/api/v1/auth/login":
		return domain.AuditActionLogin, "session"
	case "/api/v1/payments":
		return domain.AuditActionCreatePayment, "payment"
	case "/api/v1/payments/:id/confirm":
		return domain.AuditActionConfirmPayment, "payment"
	case "/api/v1/payments/:id/refund":
		return domain.AuditActionRefund, "payment"
	case "/api/v1/payments/:id/reconcile":
		return domain.AuditActionReconcile, "payment"
	case "/api/v1/redemptions":
		return domain.AuditActionRedeem, "gift_card"
	case "/api/v1/gift-cards/:id/cancel":
		return domain.AuditActionCancelCard, "gift_card"
	case "/api/v1/webhooks/:gateway":
		return domain.AuditActionWebhook, "gateway"
	case "/api/v1/merchants/me/webhook":
		return domain.AuditActionUpdateWebhook, "merchant"
	case "/api/v1/merchants/me/webhook-secret":
		return domain.AuditActionRotateSecret, "merchant"
	case "/api/v1/merchants/me/totp":
		return domain.AuditActionEnrollTOTP, "merchant"
	case "/api/v1/merchants/me/otp":
		return domain.AuditActionIssueOTP, "merchant"
	}
	return "", ""
}
