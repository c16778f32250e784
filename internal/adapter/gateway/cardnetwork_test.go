package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCardAdapter(t *testing.T, h http.HandlerFunc) *CardNetworkAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewCardNetworkAdapter(CardNetworkConfig{
		BaseURL:       srv.URL,
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
		Timeout:       2 * time.Second,
	}, srv.Client(), zerolog.Nop())
}

func TestCardNetwork_CreateIntent(t *testing.T) {
	var form url.Values
	var headers http.Header
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		fmt.Fprint(w, `{"id":"pi_1","status":"requires_payment_method","client_secret":"pi_1_secret"}`)
	})

	res, err := a.CreateIntent(context.Background(), ports.IntentRequest{
		Amount:         decimal.RequireFromString("25.505"),
		Currency:       "USD",
		ReferenceID:    "pay-1",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.ExternalIntentID)
	require.NotNil(t, res.ClientToken)
	assert.Equal(t, "pi_1_secret", *res.ClientToken)
	assert.Nil(t, res.RedirectURL)
	assert.Equal(t, domain.IntentRequiresAction, res.Status)

	assert.Equal(t, "2551", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "pay-1", form.Get("metadata[reference_id]"))
	assert.Equal(t, "Bearer sk_test", headers.Get("Authorization"))
	assert.Equal(t, "idem-1", headers.Get("Idempotency-Key"))
}

func TestCardNetwork_ConfirmIntent_AlreadySucceeded(t *testing.T) {
	posts := 0
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		fmt.Fprint(w, `{"id":"pi_1","status":"succeeded","latest_charge":"ch_1"}`)
	})

	res, err := a.ConfirmIntent(context.Background(), "pi_1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentSucceeded, res.Status)
	assert.Equal(t, "ch_1", res.ExternalTransactionID)
	assert.Zero(t, posts)
}

func TestCardNetwork_ConfirmIntent_Confirms(t *testing.T) {
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"id":"pi_1","status":"requires_confirmation"}`)
			return
		}
		assert.Equal(t, "/v1/payment_intents/pi_1/confirm", r.URL.Path)
		assert.Equal(t, "confirm-pi_1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "pm_card", r.PostForm.Get("payment_method"))
		fmt.Fprint(w, `{"id":"pi_1","status":"processing","latest_charge":"ch_1"}`)
	})

	res, err := a.ConfirmIntent(context.Background(), "pi_1", map[string]string{"payment_method": "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentProcessing, res.Status)
}

func TestCardNetwork_GetStatus(t *testing.T) {
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"pi_1","status":"requires_payment_method","amount":1999,"currency":"usd",
			"last_payment_error":{"code":"card_declined","message":"declined"}}`)
	})

	res, err := a.GetStatus(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentFailed, res.Status)
	assert.Equal(t, "USD", res.Currency)
	assert.True(t, decimal.RequireFromString("19.99").Equal(res.Amount))
}

func TestCardNetwork_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
	}{
		{"auth", http.StatusUnauthorized, apperror.CodeGatewayAuth},
		{"rate limited", http.StatusTooManyRequests, apperror.CodeGatewayUnavailable},
		{"server", http.StatusInternalServerError, apperror.CodeGatewayUnavailable},
		{"bad request", http.StatusBadRequest, apperror.CodeGatewayRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"x","message":"nope"}}`)
			})
			_, err := a.GetStatus(context.Background(), "pi_1")
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "%v", err)
		})
	}
}

func TestCardNetwork_Timeout(t *testing.T) {
	release := make(chan struct{})
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	a.cfg.Timeout = 50 * time.Millisecond

	_, err := a.GetStatus(context.Background(), "pi_1")
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
}

func TestCardNetwork_Refund(t *testing.T) {
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "ch_1", r.PostForm.Get("charge"))
		assert.Equal(t, "1000", r.PostForm.Get("amount"))
		fmt.Fprint(w, `{"id":"re_1","status":"succeeded","amount":1000,"currency":"usd"}`)
	})

	amt := decimal.NewFromInt(10)
	res, err := a.Refund(context.Background(), ports.GatewayRefundRequest{
		ExternalTransactionID: "ch_1",
		Amount:                &amt,
		Currency:              "USD",
		IdempotencyKey:        "refund-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.ExternalRefundID)
	assert.Equal(t, domain.IntentSucceeded, res.Status)
	assert.True(t, amt.Equal(res.Amount))
}

func TestCardNetwork_Refund_Rejected(t *testing.T) {
	a := newCardAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"already refunded"}}`)
	})

	_, err := a.Refund(context.Background(), ports.GatewayRefundRequest{ExternalTransactionID: "ch_1", Currency: "USD"})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeGatewayRefund))
}

func TestCardNetwork_VerifySignature(t *testing.T) {
	a := NewCardNetworkAdapter(CardNetworkConfig{WebhookSecret: "whsec_test"}, nil, zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded","amount":5000,"currency":"usd","latest_charge":"ch_1","metadata":{"reference_id":"pay-1"}}}}`)
	header := func(ts int64, body []byte) string {
		return fmt.Sprintf("t=%d,v1=%s", ts, signCardPayload("whsec_test", ts, body))
	}

	t.Run("valid", func(t *testing.T) {
		evt, err := a.VerifySignature(payload, header(now.Unix(), payload))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.EventID)
		assert.Equal(t, "pay-1", evt.ReferenceID)
		assert.Equal(t, "pi_1", evt.ExternalIntentID)
		assert.Equal(t, "ch_1", evt.ExternalTransactionID)
		assert.Equal(t, domain.IntentSucceeded, evt.Status)
		assert.True(t, decimal.NewFromInt(50).Equal(evt.Amount))
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := header(now.Unix(), payload)
		tampered := []byte(string(payload[:len(payload)-2]) + " }}")
		_, err := a.VerifySignature(tampered, sig)
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidSignature))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute).Unix()
		_, err := a.VerifySignature(payload, header(old, payload))
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidSignature))
	})

	t.Run("malformed header", func(t *testing.T) {
		for _, h := range []string{"", "garbage", "t=abc,v1=00", "t=1700000000"} {
			_, err := a.VerifySignature(payload, h)
			assert.True(t, apperror.HasCode(err, apperror.CodeInvalidSignature), h)
		}
	})

	t.Run("no secret configured", func(t *testing.T) {
		b := NewCardNetworkAdapter(CardNetworkConfig{}, nil, zerolog.Nop())
		_, err := b.VerifySignature(payload, header(now.Unix(), payload))
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidSignature))
	})
}
