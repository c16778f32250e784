package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// WalletSignatureHeader carries "<transmissionID>.<base64 hmac>".
const WalletSignatureHeader = "Wallet-Transmission-Sig"

// WalletConfig configures WalletAdapter.
type WalletConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	Timeout       time.Duration
}

// WalletAdapter talks to a wallet processor over JSON REST authenticated with
// OAuth2 client credentials. Tokens are cached and refreshed by the token source.
type WalletAdapter struct {
	cfg    WalletConfig
	client HTTPClient
	log    zerolog.Logger
}

// NewWalletAdapter creates the wallet adapter. base is the transport used for
// both token and API calls; nil means http.DefaultClient.
func NewWalletAdapter(cfg WalletConfig, base *http.Client, log zerolog.Logger) *WalletAdapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if base == nil {
		base = &http.Client{}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		EndpointParams: url.Values{
			"grant_type": {"client_credentials"},
		},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	return &WalletAdapter{
		cfg:    cfg,
		client: cc.Client(tokenCtx),
		log:    log.With().Str("gateway", string(domain.GatewayWallet)).Logger(),
	}
}

func (a *WalletAdapter) Name() domain.Gateway    { return domain.GatewayWallet }
func (a *WalletAdapter) SignatureHeader() string { return WalletSignatureHeader }

type walletAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type walletCapture struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Amount   *walletAmount `json:"amount,omitempty"`
	CustomID string        `json:"custom_id,omitempty"`
}

type walletOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string        `json:"reference_id"`
		CustomID    string        `json:"custom_id"`
		Amount      *walletAmount `json:"amount"`
		Payments    *struct {
			Captures []walletCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type walletRefund struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Amount *walletAmount `json:"amount"`
}

type walletEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		walletCapture
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// CreateIntent creates a checkout order to be approved by the payer.
func (a *WalletAdapter) CreateIntent(ctx context.Context, req ports.IntentRequest) (*ports.IntentResult, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.ReferenceID,
			"custom_id":    req.ReferenceID,
			"amount":       toWalletAmount(req.Amount, req.Currency),
		}},
	}
	if req.ReturnURL != "" || req.CancelURL != "" {
		body["application_context"] = map[string]string{
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		}
	}

	var order walletOrder
	if err := a.send(ctx, http.MethodPost, "/v2/checkout/orders", body, req.IdempotencyKey, &order, false); err != nil {
		return nil, err
	}
	a.log.Debug().Str("order_id", order.ID).Str("reference_id", req.ReferenceID).Msg("checkout order created")

	return &ports.IntentResult{
		ExternalIntentID: order.ID,
		RedirectURL:      order.approveURL(),
		Status:           order.status(),
	}, nil
}

// ConfirmIntent captures an approved order. An already captured order is read back instead.
func (a *WalletAdapter) ConfirmIntent(ctx context.Context, externalIntentID string, args map[string]string) (*ports.ConfirmResult, error) {
	current, err := a.fetch(ctx, externalIntentID)
	if err != nil {
		return nil, err
	}
	if current.Status == "COMPLETED" || current.Status == "VOIDED" {
		return &ports.ConfirmResult{Status: current.status(), ExternalTransactionID: current.captureID()}, nil
	}

	var order walletOrder
	path := "/v2/checkout/orders/" + url.PathEscape(externalIntentID) + "/capture"
	if err := a.send(ctx, http.MethodPost, path, map[string]any{}, "capture-"+externalIntentID, &order, false); err != nil {
		return nil, err
	}
	return &ports.ConfirmResult{Status: order.status(), ExternalTransactionID: order.captureID()}, nil
}

// GetStatus reads the order.
func (a *WalletAdapter) GetStatus(ctx context.Context, externalIntentID string) (*ports.IntentStatusResult, error) {
	order, err := a.fetch(ctx, externalIntentID)
	if err != nil {
		return nil, err
	}
	res := &ports.IntentStatusResult{Status: order.status(), ExternalTransactionID: order.captureID()}
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Amount != nil {
		amt := order.PurchaseUnits[0].Amount
		res.Currency = amt.CurrencyCode
		if v, err := money.ParseMajor(amt.Value, amt.CurrencyCode); err == nil {
			res.Amount = v
		}
	}
	return res, nil
}

// Refund refunds a capture in full or in part.
func (a *WalletAdapter) Refund(ctx context.Context, req ports.GatewayRefundRequest) (*ports.GatewayRefundResult, error) {
	body := map[string]any{}
	if req.Amount != nil {
		body["amount"] = toWalletAmount(*req.Amount, req.Currency)
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	var refund walletRefund
	path := "/v2/payments/captures/" + url.PathEscape(req.ExternalTransactionID) + "/refund"
	if err := a.send(ctx, http.MethodPost, path, body, req.IdempotencyKey, &refund, true); err != nil {
		return nil, err
	}

	res := &ports.GatewayRefundResult{ExternalRefundID: refund.ID, Status: walletRefundStatus(refund.Status)}
	switch {
	case refund.Amount != nil:
		if v, err := money.ParseMajor(refund.Amount.Value, refund.Amount.CurrencyCode); err == nil {
			res.Amount = v
		}
	case req.Amount != nil:
		res.Amount = money.Round(*req.Amount, req.Currency)
	}
	return res, nil
}

// VerifySignature checks "<transmissionID>.<base64 hmac-sha256(secret, transmissionID|payload)>".
func (a *WalletAdapter) VerifySignature(payload []byte, signature string) (*ports.WebhookEvent, error) {
	if a.cfg.WebhookSecret == "" {
		return nil, apperror.ErrInvalidSignature()
	}
	transmissionID, sig, ok := strings.Cut(signature, ".")
	if !ok || transmissionID == "" || sig == "" {
		return nil, apperror.ErrInvalidSignature()
	}
	expected := signWalletPayload(a.cfg.WebhookSecret, transmissionID, payload)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, apperror.ErrInvalidSignature()
	}

	var evt walletEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.ID == "" {
		return nil, apperror.Validation("malformed wallet event")
	}
	res := evt.Resource
	out := &ports.WebhookEvent{
		EventID:     evt.ID,
		Gateway:     domain.GatewayWallet,
		Type:        evt.EventType,
		ReferenceID: res.CustomID,
		Status:      walletEventStatus(evt.EventType),
	}
	if strings.HasPrefix(evt.EventType, "PAYMENT.CAPTURE.") {
		out.ExternalIntentID = res.SupplementaryData.RelatedIDs.OrderID
		out.ExternalTransactionID = res.ID
	} else {
		out.ExternalIntentID = res.ID
	}
	if res.Amount != nil {
		out.Currency = res.Amount.CurrencyCode
		if v, err := money.ParseMajor(res.Amount.Value, res.Amount.CurrencyCode); err == nil {
			out.Amount = v
		}
	}
	return out, nil
}

// signWalletPayload computes base64(hmac-sha256(secret, "<transmissionID>|<payload>")).
func signWalletPayload(secret, transmissionID string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(transmissionID))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (a *WalletAdapter) fetch(ctx context.Context, orderID string) (*walletOrder, error) {
	var order walletOrder
	if err := a.send(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, "", &order, false); err != nil {
		return nil, err
	}
	return &order, nil
}

func (a *WalletAdapter) send(ctx context.Context, method, path string, body any, requestID string, out any, refund bool) error {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("encode wallet request: %w", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("build wallet request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	return doJSON(a.client, domain.GatewayWallet, req, out, refund, walletErrorDetail)
}

func walletErrorDetail(body []byte) string {
	var e struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return string(body)
	}
	if e.Error != "" {
		return "oauth: " + e.Error
	}
	detail := e.Name + ": " + e.Message
	if len(e.Details) > 0 {
		detail += " (" + e.Details[0].Issue + ")"
	}
	return detail
}

func toWalletAmount(amount decimal.Decimal, currency string) walletAmount {
	return walletAmount{CurrencyCode: currency, Value: money.FormatMinor(money.ToMinor(amount, currency), currency)}
}

func (o *walletOrder) status() domain.IntentStatus {
	switch o.Status {
	case "COMPLETED":
		if c := o.capture(); c != nil {
			switch c.Status {
			case "PENDING":
				return domain.IntentProcessing
			case "DECLINED", "FAILED":
				return domain.IntentFailed
			}
		}
		return domain.IntentSucceeded
	case "VOIDED":
		return domain.IntentCanceled
	default:
		return domain.IntentRequiresAction
	}
}

func (o *walletOrder) capture() *walletCapture {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

func (o *walletOrder) captureID() string {
	if c := o.capture(); c != nil {
		return c.ID
	}
	return ""
}

func (o *walletOrder) approveURL() *string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return strPtr(l.Href)
		}
	}
	return nil
}

func walletEventStatus(eventType string) domain.IntentStatus {
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		return domain.IntentSucceeded
	case "PAYMENT.CAPTURE.PENDING":
		return domain.IntentProcessing
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return domain.IntentFailed
	case "CHECKOUT.ORDER.VOIDED":
		return domain.IntentCanceled
	default:
		return domain.IntentRequiresAction
	}
}

func walletRefundStatus(s string) domain.IntentStatus {
	switch s {
	case "COMPLETED":
		return domain.IntentSucceeded
	case "PENDING":
		return domain.IntentProcessing
	case "CANCELLED":
		return domain.IntentCanceled
	default:
		return domain.IntentFailed
	}
}
