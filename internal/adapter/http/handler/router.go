package handler

import (
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies, processor callbacks included.
const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc         ports.AuthService
	MerchantSvc     ports.MerchantService
	Ledger          ports.LedgerService
	Orchestrator    ports.PaymentOrchestrator
	Reconciliation  ports.ReconciliationService
	WebhookVerifier ports.WebhookVerifier
	SecurityGate    ports.SecurityGate
	TokenSvc        ports.TokenService
	RateLimitStore  ports.RateLimitStore // nil = route-level rate limiting disabled
	AuditSvc        ports.AuditService   // nil = audit logging disabled
	HealthCheckers  []ports.HealthChecker
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	webhookHandler := NewWebhookHandler(deps.Orchestrator, deps.WebhookVerifier, deps.Logger)
	v1.POST("/webhooks/:gateway", rl("webhooks"), webhookHandler.Handle)

	cardHandler := NewGiftCardHandler(deps.Ledger, deps.Reconciliation)
	v1.GET("/gift-cards/balance", rl("balance"), cardHandler.CheckBalance)

	// --- Merchant routes (JWT) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	v1.POST("/redemptions", jwtAuth, cardHandler.Redeem)

	cards := v1.Group("/gift-cards", jwtAuth, rl("dashboard"))
	{
		cards.GET("/:id", cardHandler.GetCard)
		cards.GET("/:id/redemptions", cardHandler.ListRedemptions)
		cards.GET("/:id/transactions", cardHandler.ListTransactions)
		cards.GET("/:id/reconciliation", cardHandler.Reconcile)
		cards.POST("/:id/cancel", cardHandler.Cancel)
	}

	paymentHandler := NewPaymentHandler(deps.Orchestrator)
	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("", paymentHandler.CreatePayment)
		payments.GET("/:id", rl("dashboard"), paymentHandler.GetPayment)
		payments.POST("/:id/confirm", paymentHandler.ConfirmPayment)
		payments.POST("/:id/reconcile", rl("dashboard"), paymentHandler.ReconcilePayment)
		payments.POST("/:id/refund", paymentHandler.RefundPayment)
	}

	merchantHandler := NewMerchantHandler(deps.MerchantSvc, deps.SecurityGate)
	merchants := v1.Group("/merchants/me", jwtAuth, rl("dashboard"))
	{
		merchants.GET("", merchantHandler.GetProfile)
		merchants.PUT("/webhook", merchantHandler.UpdateWebhookURL)
		merchants.POST("/webhook-secret", merchantHandler.RotateWebhookSecret)
		merchants.POST("/totp", merchantHandler.EnrollTOTP)
		merchants.POST("/otp", merchantHandler.IssueOTP)
	}

	return r
}
