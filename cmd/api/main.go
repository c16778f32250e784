package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/adapter/gateway"
	httpHandler "giftcard-ledger/internal/adapter/http/handler"
	"giftcard-ledger/internal/adapter/storage/memory"
	pgStorage "giftcard-ledger/internal/adapter/storage/postgres"
	redisStorage "giftcard-ledger/internal/adapter/storage/redis"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/service"
	"giftcard-ledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// repositories is the storage backend selected by database.driver.
type repositories struct {
	cards        ports.GiftCardRepository
	payments     ports.PaymentRepository
	redemptions  ports.RedemptionRepository
	transactions ports.TransactionRepository
	reservations ports.RefundReservationRepository
	idempotency  ports.IdempotencyRepository
	merchants    ports.MerchantRepository
	audits       ports.AuditRepository
	webhooks     ports.WebhookRepository
	transactor   ports.DBTransactor
	health       ports.HealthChecker
	close        func()
}

func main() {
	cfg, err := config.Load(os.Getenv("GCL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithFile(cfg.Log.Level, cfg.Log.Pretty, logger.FileOptions{
		Path:       cfg.Log.File.Path,
		MaxSizeMB:  cfg.Log.File.MaxSizeMB,
		MaxBackups: cfg.Log.File.MaxBackups,
		MaxAgeDays: cfg.Log.File.MaxAgeDays,
		Compress:   cfg.Log.File.Compress,
	})

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Database.Driver).
		Msg("Starting Gift Card Ledger")

	ctx := context.Background()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repos.close()

	if cfg.Redis.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start embedded Redis")
		}
		defer mr.Close()
		port, _ := strconv.Atoi(mr.Port())
		cfg.Redis.Host, cfg.Redis.Port = mr.Host(), port
		log.Warn().Str("addr", mr.Addr()).Msg("Using embedded Redis, state is not persisted")
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	claimStore := redisStorage.NewClaimStore(rdb)
	otpStore := redisStorage.NewOTPStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	thresholds, err := redemptionThresholds(cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid large redemption threshold")
	}

	registry := newGatewayRegistry(cfg, log)

	auditSvc := service.NewAuditService(repos.audits, log)

	gate := service.NewSecurityGate(
		rateLimitStore,
		otpStore,
		service.NewLogOTPSender(log),
		repos.merchants,
		encSvc,
		service.SecurityGateConfig{
			Limits:         cfg.Security.RateLimits,
			Window:         cfg.Security.RateWindow,
			OTPTTL:         cfg.Security.OTPTTL,
			OTPMaxAttempts: cfg.Security.OTPMaxAttempts,
			TOTPIssuer:     cfg.Security.TOTPIssuer,
		},
		log,
	)

	authSvc := service.NewAuthService(repos.merchants, hashSvc, encSvc, tokenSvc, gate, log)
	merchantSvc := service.NewMerchantService(repos.merchants, encSvc, log)

	idem := service.NewIdempotencyStore(repos.idempotency, idempotencyCache, claimStore, cfg.Ledger.IdempotencyTTL, log)

	notifier := service.NewCardNotifier(
		repos.merchants,
		repos.webhooks,
		encSvc,
		sigSvc,
		&http.Client{Timeout: 10 * time.Second},
		log,
	)
	defer notifier.Shutdown()

	ledger := service.NewLedgerService(
		service.LedgerRepos{
			Cards:        repos.cards,
			Payments:     repos.payments,
			Redemptions:  repos.redemptions,
			Transactions: repos.transactions,
			Reservations: repos.reservations,
		},
		idem,
		gate,
		notifier,
		repos.transactor,
		thresholds,
		log,
	)

	verifier := service.NewWebhookVerifier(registry, log)

	orchestrator := service.NewOrchestrator(
		repos.payments,
		repos.reservations,
		ledger,
		registry,
		verifier,
		idem,
		gate,
		repos.transactor,
		service.OrchestratorConfig{
			Retry: service.RetryPolicy{
				Attempts:  cfg.Gateway.RetryAttempts,
				BaseDelay: cfg.Gateway.RetryBaseDelay,
				MaxDelay:  cfg.Gateway.RetryMaxDelay,
			},
			RefundRequiresOTP: cfg.Security.RefundRequiresOTP,
		},
		log,
	)

	reconciler := service.NewReconciliationService(repos.cards, repos.transactions, log)

	workers, err := service.NewWorkers(ledger, orchestrator, idem, service.WorkerConfig{
		ExpiryInterval:    cfg.Ledger.ExpirySweepInterval,
		ExpiryBatch:       cfg.Ledger.ExpirySweepBatch,
		ReconcileInterval: cfg.Ledger.ReconcileInterval,
		ReconcileAfter:    cfg.Ledger.ReconcileAfter,
		ReconcileBatch:    cfg.Ledger.ReconcileBatch,
		PruneInterval:     cfg.Ledger.IdempotencyPruneInterval,
		Retention:         cfg.Ledger.IdempotencyRetention,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule background jobs")
	}
	workers.Start()

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:         authSvc,
		MerchantSvc:     merchantSvc,
		Ledger:          ledger,
		Orchestrator:    orchestrator,
		Reconciliation:  reconciler,
		WebhookVerifier: verifier,
		SecurityGate:    gate,
		TokenSvc:        tokenSvc,
		RateLimitStore:  rateLimitStore,
		AuditSvc:        auditSvc,
		HealthCheckers:  []ports.HealthChecker{repos.health, redisStorage.NewHealthCheck(rdb)},
		Logger:          log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := workers.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background jobs still running at shutdown")
	}
	if err := auditSvc.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Audit entries still queued at shutdown")
	}

	log.Info().Msg("Server exited")
}

func openRepositories(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		store := memory.New()
		return &repositories{
			cards:        store.GiftCards(),
			payments:     store.Payments(),
			redemptions:  store.Redemptions(),
			transactions: store.Transactions(),
			reservations: store.RefundReservations(),
			idempotency:  store.Idempotency(),
			merchants:    store.Merchants(),
			audits:       store.Audits(),
			webhooks:     store.Webhooks(),
			transactor:   store,
			health:       store,
			close:        func() {},
		}, nil
	case "postgres", "":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &repositories{
			cards:        pgStorage.NewGiftCardRepo(pool),
			payments:     pgStorage.NewPaymentRepo(pool),
			redemptions:  pgStorage.NewRedemptionRepo(pool),
			transactions: pgStorage.NewTransactionRepo(pool),
			reservations: pgStorage.NewRefundReservationRepo(pool),
			idempotency:  pgStorage.NewIdempotencyRepo(pool),
			merchants:    pgStorage.NewMerchantRepo(pool),
			audits:       pgStorage.NewAuditRepo(pool),
			webhooks:     pgStorage.NewWebhookRepo(pool),
			transactor:   pgStorage.NewTransactor(pool, cfg.Database.LockTimeout),
			health:       pgStorage.NewHealthCheck(pool),
			close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// newGatewayRegistry registers every processor that has credentials configured.
func newGatewayRegistry(cfg *config.Config, log zerolog.Logger) *gateway.Registry {
	var adapters []ports.GatewayAdapter

	gw := cfg.Gateway
	if gw.CardNetwork.SecretKey != "" {
		adapters = append(adapters, gateway.NewCardNetworkAdapter(gateway.CardNetworkConfig{
			BaseURL:       gw.CardNetwork.BaseURL,
			SecretKey:     gw.CardNetwork.SecretKey,
			WebhookSecret: gw.CardNetwork.WebhookSecret,
			Timeout:       gw.Timeout,
			Tolerance:     cfg.Webhook.Tolerance,
		}, &http.Client{Timeout: gw.Timeout}, log))
	}
	if gw.Wallet.ClientID != "" {
		adapters = append(adapters, gateway.NewWalletAdapter(gateway.WalletConfig{
			BaseURL:       gw.Wallet.BaseURL,
			ClientID:      gw.Wallet.ClientID,
			ClientSecret:  gw.Wallet.ClientSecret,
			WebhookSecret: gw.Wallet.WebhookSecret,
			Timeout:       gw.Timeout,
		}, &http.Client{Timeout: gw.Timeout}, log))
	}
	if gw.Regional.ServerKey != "" {
		adapters = append(adapters, gateway.NewRegionalAdapter(gateway.RegionalConfig{
			ServerKey:  gw.Regional.ServerKey,
			Production: gw.Regional.Production,
			Currency:   gw.Regional.Currency,
			Timeout:    gw.Timeout,
		}, log))
	}
	if len(adapters) == 0 {
		log.Warn().Msg("No payment gateways configured")
	}
	return gateway.NewRegistry(adapters...)
}

// redemptionThresholds parses the default threshold and its per-currency overrides.
func redemptionThresholds(cfg config.LedgerConfig) (service.RedemptionThresholds, error) {
	def, err := decimal.NewFromString(cfg.LargeRedemptionThreshold)
	if err != nil {
		return service.RedemptionThresholds{}, fmt.Errorf("large_redemption_threshold %q: %w", cfg.LargeRedemptionThreshold, err)
	}
	out := service.RedemptionThresholds{Default: def, ByCurrency: make(map[string]decimal.Decimal, len(cfg.LargeRedemptionThresholds))}
	for currency, raw := range cfg.LargeRedemptionThresholds {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return service.RedemptionThresholds{}, fmt.Errorf("large_redemption_thresholds.%s %q: %w", currency, raw, err)
		}
		out.ByCurrency[strings.ToUpper(currency)] = v
	}
	return out, nil
}
