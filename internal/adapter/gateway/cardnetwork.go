package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/rs/zerolog"
)

// CardNetworkSignatureHeader carries "t=<unix>,v1=<hex hmac>".
const CardNetworkSignatureHeader = "Card-Signature"

// CardNetworkConfig configures CardNetworkAdapter.
type CardNetworkConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// Tolerance bounds the age of a signed webhook timestamp.
	Tolerance time.Duration
}

// CardNetworkAdapter talks to a card-network processor over form-encoded REST.
type CardNetworkAdapter struct {
	cfg    CardNetworkConfig
	client HTTPClient
	now    func() time.Time
	log    zerolog.Logger
}

// NewCardNetworkAdapter creates the card-network adapter.
func NewCardNetworkAdapter(cfg CardNetworkConfig, client HTTPClient, log zerolog.Logger) *CardNetworkAdapter {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CardNetworkAdapter{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		log:    log.With().Str("gateway", string(domain.GatewayCardNetwork)).Logger(),
	}
}

func (a *CardNetworkAdapter) Name() domain.Gateway    { return domain.GatewayCardNetwork }
func (a *CardNetworkAdapter) SignatureHeader() string { return CardNetworkSignatureHeader }

type cardIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	ClientSecret     string            `json:"client_secret"`
	LatestCharge     string            `json:"latest_charge"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
	NextAction *struct {
		RedirectToURL *struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
}

type cardRefund struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type cardEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object cardIntent `json:"object"`
	} `json:"data"`
}

// CreateIntent opens a payment intent for the payment's reference id.
func (a *CardNetworkAdapter) CreateIntent(ctx context.Context, req ports.IntentRequest) (*ports.IntentResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(money.ToMinor(req.Amount, req.Currency), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[reference_id]", req.ReferenceID)
	form.Set("payment_method_types[]", "card")
	if req.ReturnURL != "" {
		form.Set("return_url", req.ReturnURL)
	}

	var intent cardIntent
	if err := a.post(ctx, "/v1/payment_intents", form, req.IdempotencyKey, &intent, false); err != nil {
		return nil, err
	}
	a.log.Debug().Str("intent_id", intent.ID).Str("reference_id", req.ReferenceID).Msg("payment intent created")

	return &ports.IntentResult{
		ExternalIntentID: intent.ID,
		ClientToken:      strPtr(intent.ClientSecret),
		RedirectURL:      intent.redirectURL(),
		Status:           intent.status(),
	}, nil
}

// ConfirmIntent confirms the intent; an already settled intent is returned as is.
func (a *CardNetworkAdapter) ConfirmIntent(ctx context.Context, externalIntentID string, args map[string]string) (*ports.ConfirmResult, error) {
	current, err := a.fetch(ctx, externalIntentID)
	if err != nil {
		return nil, err
	}
	if st := current.status(); st.IsFinal() || st == domain.IntentProcessing {
		return &ports.ConfirmResult{Status: st, ExternalTransactionID: current.transactionID()}, nil
	}

	form := url.Values{}
	for k, v := range args {
		form.Set(k, v)
	}
	var intent cardIntent
	path := "/v1/payment_intents/" + url.PathEscape(externalIntentID) + "/confirm"
	if err := a.post(ctx, path, form, "confirm-"+externalIntentID, &intent, false); err != nil {
		return nil, err
	}
	return &ports.ConfirmResult{Status: intent.status(), ExternalTransactionID: intent.transactionID()}, nil
}

// GetStatus reads the intent.
func (a *CardNetworkAdapter) GetStatus(ctx context.Context, externalIntentID string) (*ports.IntentStatusResult, error) {
	intent, err := a.fetch(ctx, externalIntentID)
	if err != nil {
		return nil, err
	}
	cur := strings.ToUpper(intent.Currency)
	return &ports.IntentStatusResult{
		Status:                intent.status(),
		Amount:                money.FromMinor(intent.Amount, cur),
		Currency:              cur,
		ExternalTransactionID: intent.transactionID(),
	}, nil
}

// Refund refunds a charge in full or in part.
func (a *CardNetworkAdapter) Refund(ctx context.Context, req ports.GatewayRefundRequest) (*ports.GatewayRefundResult, error) {
	form := url.Values{}
	form.Set("charge", req.ExternalTransactionID)
	if req.Amount != nil {
		form.Set("amount", strconv.FormatInt(money.ToMinor(*req.Amount, req.Currency), 10))
	}
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	var refund cardRefund
	if err := a.post(ctx, "/v1/refunds", form, req.IdempotencyKey, &refund, true); err != nil {
		return nil, err
	}
	cur := req.Currency
	if refund.Currency != "" {
		cur = strings.ToUpper(refund.Currency)
	}
	return &ports.GatewayRefundResult{
		ExternalRefundID: refund.ID,
		Status:           cardRefundStatus(refund.Status),
		Amount:           money.FromMinor(refund.Amount, cur),
	}, nil
}

// VerifySignature checks the "t=,v1=" header against the raw payload and the
// configured tolerance, then parses the event.
func (a *CardNetworkAdapter) VerifySignature(payload []byte, signature string) (*ports.WebhookEvent, error) {
	if a.cfg.WebhookSecret == "" || signature == "" {
		return nil, apperror.ErrInvalidSignature()
	}

	var ts int64
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, apperror.ErrInvalidSignature()
			}
			ts = n
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == 0 || len(candidates) == 0 {
		return nil, apperror.ErrInvalidSignature()
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > a.cfg.Tolerance || age < -a.cfg.Tolerance {
		return nil, apperror.ErrInvalidSignature()
	}

	expected := signCardPayload(a.cfg.WebhookSecret, ts, payload)
	matched := false
	for _, c := range candidates {
		if hmac.Equal([]byte(c), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, apperror.ErrInvalidSignature()
	}

	var evt cardEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.ID == "" {
		return nil, apperror.Validation("malformed card network event")
	}
	obj := evt.Data.Object
	cur := strings.ToUpper(obj.Currency)
	return &ports.WebhookEvent{
		EventID:               evt.ID,
		Gateway:               domain.GatewayCardNetwork,
		Type:                  evt.Type,
		ReferenceID:           obj.Metadata["reference_id"],
		ExternalIntentID:      obj.ID,
		ExternalTransactionID: obj.transactionID(),
		Status:                cardEventStatus(evt.Type, obj),
		Amount:                money.FromMinor(obj.Amount, cur),
		Currency:              cur,
	}, nil
}

// signCardPayload computes the v1 signature: hex(hmac-sha256(secret, "<t>.<payload>")).
func signCardPayload(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *CardNetworkAdapter) fetch(ctx context.Context, externalIntentID string) (*cardIntent, error) {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.BaseURL+"/v1/payment_intents/"+url.PathEscape(externalIntentID), nil)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build card network request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.SecretKey)

	var intent cardIntent
	if err := doJSON(a.client, domain.GatewayCardNetwork, req, &intent, false, cardErrorDetail); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (a *CardNetworkAdapter) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any, refund bool) error {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return apperror.InternalError(fmt.Errorf("build card network request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return doJSON(a.client, domain.GatewayCardNetwork, req, out, refund, cardErrorDetail)
}

func cardErrorDetail(body []byte) string {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Type + "/" + e.Error.Code + ": " + e.Error.Message
	}
	return string(body)
}

func (i *cardIntent) status() domain.IntentStatus {
	switch i.Status {
	case "succeeded":
		return domain.IntentSucceeded
	case "processing", "requires_capture":
		return domain.IntentProcessing
	case "canceled":
		return domain.IntentCanceled
	case "requires_payment_method":
		if i.LastPaymentError != nil {
			return domain.IntentFailed
		}
		return domain.IntentRequiresAction
	default:
		return domain.IntentRequiresAction
	}
}

func (i *cardIntent) transactionID() string {
	if i.LatestCharge != "" {
		return i.LatestCharge
	}
	if i.Status == "succeeded" {
		return i.ID
	}
	return ""
}

func (i *cardIntent) redirectURL() *string {
	if i.NextAction != nil && i.NextAction.RedirectToURL != nil {
		return strPtr(i.NextAction.RedirectToURL.URL)
	}
	return nil
}

func cardEventStatus(eventType string, obj cardIntent) domain.IntentStatus {
	switch eventType {
	case "payment_intent.succeeded":
		return domain.IntentSucceeded
	case "payment_intent.payment_failed":
		return domain.IntentFailed
	case "payment_intent.canceled":
		return domain.IntentCanceled
	case "payment_intent.processing":
		return domain.IntentProcessing
	}
	return obj.status()
}

func cardRefundStatus(s string) domain.IntentStatus {
	switch s {
	case "succeeded":
		return domain.IntentSucceeded
	case "pending", "requires_action":
		return domain.IntentProcessing
	case "canceled":
		return domain.IntentCanceled
	default:
		return domain.IntentFailed
	}
}
