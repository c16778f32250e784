package service

import (
	"context"
	"errors"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// WebhookVerifierImpl implements ports.WebhookVerifier on top of the gateway adapters.
type WebhookVerifierImpl struct {
	registry ports.GatewayRegistry
	log      zerolog.Logger
}

// NewWebhookVerifier creates a new WebhookVerifierImpl.
func NewWebhookVerifier(registry ports.GatewayRegistry, log zerolog.Logger) *WebhookVerifierImpl {
	return &WebhookVerifierImpl{registry: registry, log: log}
}

// Verify authenticates payload for gateway. Any failure other than a
// malformed-but-authentic payload is reported as InvalidSignature.
func (v *WebhookVerifierImpl) Verify(_ context.Context, gateway string, payload []byte, signature string) (*ports.WebhookEvent, error) {
	adapter, err := v.registry.Adapter(domain.Gateway(gateway))
	if err != nil {
		return nil, err
	}
	if adapter.SignatureHeader() != "" && signature == "" {
		return nil, apperror.ErrInvalidSignature()
	}

	evt, err := adapter.VerifySignature(payload, signature)
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			err = apperror.ErrInvalidSignature()
		}
		v.log.Warn().Err(err).Str("gateway", gateway).Msg("webhook rejected")
		return nil, err
	}
	if evt.Gateway == "" {
		evt.Gateway = adapter.Name()
	}
	return evt, nil
}

// SignatureHeader returns the header the gateway signs with, empty for in-payload signatures.
func (v *WebhookVerifierImpl) SignatureHeader(gateway string) (string, error) {
	adapter, err := v.registry.Adapter(domain.Gateway(gateway))
	if err != nil {
		return "", err
	}
	return adapter.SignatureHeader(), nil
}
