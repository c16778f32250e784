package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AES      AESConfig      `mapstructure:"aes"`
	Log      LogConfig      `mapstructure:"log"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Security SecurityConfig `mapstructure:"security"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// LockTimeout bounds row-lock waits inside ledger transactions.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	// Embedded runs an in-process Redis (local development only).
	Embedded bool   `mapstructure:"embedded"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string        `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool          `mapstructure:"pretty"` // human-readable output (dev only)
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables the rotating file sink when Path is set.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type GatewayConfig struct {
	Timeout        time.Duration       `mapstructure:"timeout"`
	RetryAttempts  int                 `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration       `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration       `mapstructure:"retry_max_delay"`
	CardNetwork    CardNetworkConfig   `mapstructure:"card_network"`
	Wallet         WalletGatewayConfig `mapstructure:"wallet"`
	Regional       RegionalConfig      `mapstructure:"regional"`
}

// CardNetworkConfig configures the card-network processor.
type CardNetworkConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// WalletGatewayConfig configures the wallet processor (OAuth2 client credentials).
type WalletGatewayConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// RegionalConfig configures the regional processor.
type RegionalConfig struct {
	ServerKey  string `mapstructure:"server_key"`
	Production bool   `mapstructure:"production"`
	Currency   string `mapstructure:"currency"`
}

type LedgerConfig struct {
	IdempotencyTTL           time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyRetention     time.Duration `mapstructure:"idempotency_retention"`
	IdempotencyPruneInterval time.Duration `mapstructure:"idempotency_prune_interval"`
	LargeRedemptionThreshold string        `mapstructure:"large_redemption_threshold"`
	// per-currency overrides, e.g. {IDR: "7500000"}
	LargeRedemptionThresholds map[string]string `mapstructure:"large_redemption_thresholds"`
	ExpirySweepInterval       time.Duration     `mapstructure:"expiry_sweep_interval"`
	ExpirySweepBatch          int               `mapstructure:"expiry_sweep_batch"`
	ReconcileInterval         time.Duration     `mapstructure:"reconcile_interval"`
	ReconcileAfter            time.Duration     `mapstructure:"reconcile_after"`
	ReconcileBatch            int               `mapstructure:"reconcile_batch"`
}

type SecurityConfig struct {
	RefundRequiresOTP bool           `mapstructure:"refund_requires_otp"`
	OTPTTL            time.Duration  `mapstructure:"otp_ttl"`
	OTPMaxAttempts    int            `mapstructure:"otp_max_attempts"`
	TOTPIssuer        string         `mapstructure:"totp_issuer"`
	RateLimits        map[string]int `mapstructure:"rate_limits"`
	RateWindow        time.Duration  `mapstructure:"rate_window"`
}

type WebhookConfig struct {
	Tolerance time.Duration `mapstructure:"tolerance"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
// Environment variables override file values. Prefix: GCL_ (Gift Card Ledger).
// Nested keys use underscore: GCL_DATABASE_HOST, GCL_GATEWAY_TIMEOUT, etc.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "giftcard_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.embedded", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "giftcard-ledger")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("gateway.timeout", "20s")
	v.SetDefault("gateway.retry_attempts", 3)
	v.SetDefault("gateway.retry_base_delay", "200ms")
	v.SetDefault("gateway.retry_max_delay", "2s")
	v.SetDefault("gateway.card_network.base_url", "https://api.stripe.com")
	v.SetDefault("gateway.card_network.secret_key", "")
	v.SetDefault("gateway.card_network.webhook_secret", "")
	v.SetDefault("gateway.wallet.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("gateway.wallet.client_id", "")
	v.SetDefault("gateway.wallet.client_secret", "")
	v.SetDefault("gateway.wallet.webhook_secret", "")
	v.SetDefault("gateway.regional.server_key", "")
	v.SetDefault("gateway.regional.production", false)
	v.SetDefault("gateway.regional.currency", "IDR")

	v.SetDefault("ledger.idempotency_ttl", "72h")
	v.SetDefault("ledger.idempotency_retention", "720h")
	v.SetDefault("ledger.idempotency_prune_interval", "1h")
	v.SetDefault("ledger.large_redemption_threshold", "500")
	v.SetDefault("ledger.expiry_sweep_interval", "5m")
	v.SetDefault("ledger.expiry_sweep_batch", 200)
	v.SetDefault("ledger.reconcile_interval", "2m")
	v.SetDefault("ledger.reconcile_after", "10m")
	v.SetDefault("ledger.reconcile_batch", 50)

	v.SetDefault("security.refund_requires_otp", true)
	v.SetDefault("security.otp_ttl", "5m")
	v.SetDefault("security.otp_max_attempts", 5)
	v.SetDefault("security.totp_issuer", "GiftCardLedger")
	v.SetDefault("security.rate_window", "1m")
	v.SetDefault("security.rate_limits", map[string]int{
		"redeem":  30,
		"refund":  10,
		"payment": 30,
		"otp":     5,
		"login":   10,
	})

	v.SetDefault("webhook.tolerance", "5m")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// GCL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("GCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The file is optional; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// RateLimit returns the per-window limit configured for action, or fallback.
func (s SecurityConfig) RateLimit(action string, fallback int) int {
	if n, ok := s.RateLimits[action]; ok && n > 0 {
		return n
	}
	return fallback
}
