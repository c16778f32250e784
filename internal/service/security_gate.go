package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
)

// Rate-limited actions.
const (
	ActionRedeem  = "redeem"
	ActionRefund  = "refund"
	ActionPayment = "payment"
	ActionOTP     = "otp"
	ActionLogin   = "login"
)

const defaultActionLimit = 30

// SecurityGateConfig tunes rate limits and one-time codes.
type SecurityGateConfig struct {
	Limits         map[string]int
	DefaultLimit   int
	Window         time.Duration
	OTPTTL         time.Duration
	OTPMaxAttempts int
	TOTPIssuer     string
}

// SecurityGateImpl implements ports.SecurityGate.
type SecurityGateImpl struct {
	limiter   ports.RateLimitStore
	otps      ports.OTPStore
	sender    ports.OTPSender
	merchants ports.MerchantRepository
	encSvc    ports.EncryptionService
	cfg       SecurityGateConfig
	log       zerolog.Logger
}

// NewSecurityGate creates a new SecurityGateImpl.
func NewSecurityGate(
	limiter ports.RateLimitStore,
	otps ports.OTPStore,
	sender ports.OTPSender,
	merchants ports.MerchantRepository,
	encSvc ports.EncryptionService,
	cfg SecurityGateConfig,
	log zerolog.Logger,
) *SecurityGateImpl {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultActionLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = 5
	}
	if cfg.TOTPIssuer == "" {
		cfg.TOTPIssuer = "GiftCardLedger"
	}
	return &SecurityGateImpl{
		limiter:   limiter,
		otps:      otps,
		sender:    sender,
		merchants: merchants,
		encSvc:    encSvc,
		cfg:       cfg,
		log:       log,
	}
}

// CheckRateLimit returns RateLimited once identifier exceeds the action's window budget.
// A store failure lets the request through.
func (g *SecurityGateImpl) CheckRateLimit(ctx context.Context, identifier, action string) error {
	limit := g.cfg.DefaultLimit
	if n, ok := g.cfg.Limits[action]; ok && n > 0 {
		limit = n
	}
	res, err := g.limiter.Allow(ctx, action+":"+identifier, int64(limit), g.cfg.Window)
	if err != nil {
		g.log.Warn().Err(err).Str("action", action).Msg("rate limit check failed, allowing request (degraded mode)")
		return nil
	}
	if !res.Allowed {
		g.log.Warn().Str("action", action).Str("identifier", identifier).Msg("rate limit exceeded")
		return apperror.ErrRateLimitExceeded()
	}
	return nil
}

// VerifyOTP checks code for identifier (a merchant id). TOTP codes are checked
// against the enrolled authenticator; merchants without one, and the EMAIL and
// SMS types, use the code last issued by IssueOTP.
func (g *SecurityGateImpl) VerifyOTP(ctx context.Context, identifier, code string, otpType ports.OTPType) (bool, error) {
	if code == "" {
		return false, nil
	}
	if otpType == ports.OTPTypeTOTP {
		secret, err := g.totpSecret(ctx, identifier)
		if err != nil {
			return false, err
		}
		if secret != "" {
			return totp.Validate(code, secret), nil
		}
	}
	ok, err := g.otps.Consume(ctx, otpKey(identifier), digestCode(code), g.cfg.OTPMaxAttempts)
	if err != nil {
		return false, apperror.ErrServiceUnavailable(err)
	}
	return ok, nil
}

// IssueOTP sends a fresh 6-digit code through channel. Only its digest is stored.
func (g *SecurityGateImpl) IssueOTP(ctx context.Context, identifier string, channel ports.OTPType) error {
	if channel != ports.OTPTypeEmail && channel != ports.OTPTypeSMS {
		return apperror.Validation("channel must be EMAIL or SMS")
	}
	if err := g.CheckRateLimit(ctx, identifier, ActionOTP); err != nil {
		return err
	}
	code, err := newNumericCode(6)
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := g.otps.Put(ctx, otpKey(identifier), digestCode(code), g.cfg.OTPTTL); err != nil {
		return apperror.ErrServiceUnavailable(err)
	}
	if err := g.sender.SendCode(ctx, identifier, channel, code); err != nil {
		return apperror.InternalError(fmt.Errorf("send otp: %w", err))
	}
	g.log.Info().Str("identifier", identifier).Str("channel", string(channel)).Msg("otp issued")
	return nil
}

// EnrollTOTP creates and stores a new authenticator secret, replacing any previous one.
func (g *SecurityGateImpl) EnrollTOTP(ctx context.Context, merchantID uuid.UUID) (*ports.TOTPEnrollment, error) {
	merchant, err := g.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.cfg.TOTPIssuer,
		AccountName: merchant.Username,
	})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate totp secret: %w", err))
	}
	secretEnc, err := g.encSvc.Encrypt(key.Secret())
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}
	if err := g.merchants.UpdateTOTPSecret(ctx, merchantID, secretEnc); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("store totp secret: %w", err))
	}

	enrollment := &ports.TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}
	if img, err := key.Image(220, 220); err == nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			enrollment.QRImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}

	g.log.Info().Str("merchant_id", merchantID.String()).Msg("totp enrolled")
	return enrollment, nil
}

func (g *SecurityGateImpl) totpSecret(ctx context.Context, identifier string) (string, error) {
	merchantID, err := uuid.Parse(identifier)
	if err != nil {
		return "", nil
	}
	merchant, err := g.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil || !merchant.HasTOTP() {
		return "", nil
	}
	secret, err := g.encSvc.Decrypt(*merchant.TOTPSecretEnc)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(err)
	}
	return secret, nil
}

func otpKey(identifier string) string {
	return "code:" + identifier
}

func digestCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func newNumericCode(digits int) (string, error) {
	max := big.NewInt(10)
	buf := make([]byte, digits)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}

// LogOTPSender writes codes to the log. It stands in for a real email or SMS provider.
type LogOTPSender struct {
	log zerolog.Logger
}

// NewLogOTPSender creates a new LogOTPSender.
func NewLogOTPSender(log zerolog.Logger) *LogOTPSender {
	return &LogOTPSender{log: log}
}

// SendCode logs the code at debug level.
func (s *LogOTPSender) SendCode(_ context.Context, identifier string, channel ports.OTPType, code string) error {
	s.log.Debug().Str("identifier", identifier).Str("channel", string(channel)).Str("code", code).Msg("otp code")
	return nil
}
