package service

import (
	"context"
	"fmt"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MerchantServiceImpl implements ports.MerchantService.
type MerchantServiceImpl struct {
	merchantRepo ports.MerchantRepository
	encSvc       ports.EncryptionService
	log          zerolog.Logger
}

// NewMerchantService creates a new merchant self-service.
func NewMerchantService(merchantRepo ports.MerchantRepository, encSvc ports.EncryptionService, log zerolog.Logger) *MerchantServiceImpl {
	return &MerchantServiceImpl{merchantRepo: merchantRepo, encSvc: encSvc, log: log}
}

func (s *MerchantServiceImpl) GetProfile(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	return s.get(ctx, merchantID)
}

// UpdateWebhookURL sets where card events are posted. An empty URL disables delivery.
func (s *MerchantServiceImpl) UpdateWebhookURL(ctx context.Context, merchantID uuid.UUID, webhookURL string) error {
	merchant, err := s.get(ctx, merchantID)
	if err != nil {
		return err
	}
	var url *string
	if webhookURL != "" {
		url = &webhookURL
	}
	if err := s.merchantRepo.UpdateWebhook(ctx, merchant.ID, url, merchant.WebhookSecretEnc); err != nil {
		return apperror.InternalError(fmt.Errorf("update webhook: %w", err))
	}
	return nil
}

// RotateWebhookSecret replaces the card event signing secret and returns the new one once.
func (s *MerchantServiceImpl) RotateWebhookSecret(ctx context.Context, merchantID uuid.UUID) (string, error) {
	merchant, err := s.get(ctx, merchantID)
	if err != nil {
		return "", err
	}
	secret, secretEnc, err := newSigningSecret(s.encSvc)
	if err != nil {
		return "", err
	}
	if err := s.merchantRepo.UpdateWebhook(ctx, merchant.ID, merchant.WebhookURL, secretEnc); err != nil {
		return "", apperror.InternalError(fmt.Errorf("update webhook secret: %w", err))
	}
	s.log.Info().Str("merchant_id", merchantID.String()).Msg("webhook secret rotated")
	return secret, nil
}

func (s *MerchantServiceImpl) get(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("merchant")
	}
	return merchant, nil
}
