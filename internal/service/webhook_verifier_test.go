package service

import (
	"context"
	"errors"
	"testing"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/core/ports/mocks"
	"giftcard-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupVerifier(t *testing.T, header string) (*WebhookVerifierImpl, *mocks.MockGatewayAdapter) {
	t.Helper()
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockGatewayAdapter(ctrl)
	adapter.EXPECT().SignatureHeader().Return(header).AnyTimes()
	adapter.EXPECT().Name().Return(domain.GatewayCardNetwork).AnyTimes()
	registry := mocks.NewMockGatewayRegistry(ctrl)
	registry.EXPECT().Adapter(domain.GatewayCardNetwork).Return(adapter, nil).AnyTimes()
	registry.EXPECT().Adapter(gomock.Not(domain.GatewayCardNetwork)).
		Return(nil, apperror.ErrUnsupportedGateway("nope")).AnyTimes()
	return NewWebhookVerifier(registry, newTestLogger()), adapter
}

func TestWebhookVerifier_Verify_Success(t *testing.T) {
	v, adapter := setupVerifier(t, "Stripe-Signature")
	payload := []byte(`{"id":"evt_1"}`)
	adapter.EXPECT().VerifySignature(payload, "t=1,v1=abc").Return(&ports.WebhookEvent{EventID: "evt_1"}, nil)

	evt, err := v.Verify(context.Background(), "card_network", payload, "t=1,v1=abc")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, domain.GatewayCardNetwork, evt.Gateway)
}

func TestWebhookVerifier_Verify_MissingSignature(t *testing.T) {
	v, _ := setupVerifier(t, "Stripe-Signature")
	_, err := v.Verify(context.Background(), "card_network", []byte(`{}`), "")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidSignature))
}

func TestWebhookVerifier_Verify_AdapterErrorsBecomeInvalidSignature(t *testing.T) {
	v, adapter := setupVerifier(t, "")
	adapter.EXPECT().VerifySignature(gomock.Any(), gomock.Any()).Return(nil, errors.New("bad mac"))

	_, err := v.Verify(context.Background(), "card_network", []byte(`{}`), "")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidSignature))
}

func TestWebhookVerifier_Verify_KeepsTypedErrors(t *testing.T) {
	v, adapter := setupVerifier(t, "")
	adapter.EXPECT().VerifySignature(gomock.Any(), gomock.Any()).Return(nil, apperror.Validation("unknown event"))

	_, err := v.Verify(context.Background(), "card_network", []byte(`{}`), "sig")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestWebhookVerifier_UnknownGateway(t *testing.T) {
	v, _ := setupVerifier(t, "")
	_, err := v.Verify(context.Background(), "carrier_pigeon", []byte(`{}`), "sig")
	assert.True(t, apperror.HasCode(err, apperror.CodeUnsupportedGateway))

	_, err = v.SignatureHeader("carrier_pigeon")
	assert.Error(t, err)

	h, err := v.SignatureHeader("card_network")
	require.NoError(t, err)
	assert.Empty(t, h)
}
