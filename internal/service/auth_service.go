package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const webhookSecretPrefix = "whsec_"

// AuthServiceImpl handles merchant registration and login.
type AuthServiceImpl struct {
	merchants ports.MerchantRepository
	hashSvc   ports.HashService
	encSvc    ports.EncryptionService
	tokenSvc  ports.TokenService
	gate      ports.SecurityGate
	log       zerolog.Logger
}

func NewAuthService(
	merchants ports.MerchantRepository,
	hashSvc ports.HashService,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
	gate ports.SecurityGate,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		merchants: merchants,
		hashSvc:   hashSvc,
		encSvc:    encSvc,
		tokenSvc:  tokenSvc,
		gate:      gate,
		log:       log,
	}
}

// Register creates an active merchant. The card-event signing secret is
// returned in plaintext only here; it is stored encrypted.
func (s *AuthServiceImpl) Register(ctx context.Context, req ports.RegisterRequest) (*ports.RegisterResponse, error) {
	username := strings.ToLower(req.Username)
	existing, err := s.merchants.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check username: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrUsernameExists()
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}
	signingSecret, secretEnc, err := newSigningSecret(s.encSvc)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	merchant := &domain.Merchant{
		ID:               uuid.New(),
		Username:         username,
		PasswordHash:     passwordHash,
		MerchantName:     req.MerchantName,
		Email:            req.Email,
		Phone:            req.Phone,
		WebhookURL:       req.WebhookURL,
		WebhookSecretEnc: secretEnc,
		Status:           domain.MerchantStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.merchants.Create(ctx, merchant); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, ports.ErrDuplicateUsername) {
			return nil, apperror.ErrUsernameExists()
		}
		return nil, apperror.InternalError(fmt.Errorf("create merchant: %w", err))
	}

	s.log.Info().
		Str("merchant_id", merchant.ID.String()).
		Str("username", merchant.Username).
		Bool("webhook", merchant.WebhookURL != nil).
		Msg("merchant registered")
	return &ports.RegisterResponse{MerchantID: merchant.ID, WebhookSecret: signingSecret}, nil
}

// Login verifies the password and, for merchants with an enrolled
// authenticator, the TOTP code before issuing a session token.
func (s *AuthServiceImpl) Login(ctx context.Context, req ports.LoginRequest) (*ports.LoginResult, error) {
	username := strings.ToLower(req.Username)
	if err := s.gate.CheckRateLimit(ctx, "login:"+username, ActionLogin); err != nil {
		return nil, err
	}

	merchant, err := s.merchants.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find merchant: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrInvalidCredentials()
	}

	ok, err := s.hashSvc.Verify(req.Password, merchant.PasswordHash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !ok {
		s.log.Warn().Str("merchant_id", merchant.ID.String()).Msg("login rejected: bad password")
		return nil, apperror.ErrInvalidCredentials()
	}
	if !merchant.IsActive() {
		return nil, apperror.ErrMerchantSuspended()
	}

	session := ports.Session{MerchantID: merchant.ID}
	if merchant.HasTOTP() {
		if req.OTPCode == "" {
			return nil, apperror.ErrOTPRequired()
		}
		valid, err := s.gate.VerifyOTP(ctx, merchant.ID.String(), req.OTPCode, ports.OTPTypeTOTP)
		if err != nil {
			return nil, err
		}
		if !valid {
			s.log.Warn().Str("merchant_id", merchant.ID.String()).Msg("login rejected: bad otp")
			return nil, apperror.ErrInvalidOTP()
		}
		session.MFA = true
	}

	token, expiresAt, err := s.tokenSvc.Generate(session)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return &ports.LoginResult{
		MerchantID: merchant.ID,
		Token:      token,
		ExpiresAt:  expiresAt,
		MFA:        session.MFA,
	}, nil
}

// newSigningSecret returns a fresh webhook signing secret and its ciphertext.
func newSigningSecret(encSvc ports.EncryptionService) (string, string, error) {
	secret, err := randomToken(webhookSecretPrefix, 24)
	if err != nil {
		return "", "", apperror.InternalError(fmt.Errorf("generate webhook secret: %w", err))
	}
	enc, err := encSvc.Encrypt(secret)
	if err != nil {
		return "", "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt webhook secret: %w", err))
	}
	return secret, enc, nil
}

// randomToken returns prefix followed by n random bytes in hex.
func randomToken(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
