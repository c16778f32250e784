package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/money"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/rs/zerolog"
)

// RegionalConfig configures RegionalAdapter.
type RegionalConfig struct {
	ServerKey  string
	Production bool
	// Currency is the only currency the processor settles in.
	Currency string
	Timeout  time.Duration
}

var errRegionalNotFound = errors.New("regional responded 404")

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
	RefundTransaction(param string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *midtrans.Error)
}

// RegionalAdapter drives the regional processor through midtrans-go. Snap opens
// the hosted payment page; the core API backs status reads and refunds.
type RegionalAdapter struct {
	cfg  RegionalConfig
	snap snapAPI
	core coreAPI
	log  zerolog.Logger
}

// NewRegionalAdapter creates the regional adapter with live midtrans clients.
func NewRegionalAdapter(cfg RegionalConfig, log zerolog.Logger) *RegionalAdapter {
	env := midtrans.Sandbox
	if cfg.Production {
		env = midtrans.Production
	}
	var sc snap.Client
	sc.New(cfg.ServerKey, env)
	var cc coreapi.Client
	cc.New(cfg.ServerKey, env)
	return newRegionalAdapter(cfg, &sc, &cc, log)
}

func newRegionalAdapter(cfg RegionalConfig, s snapAPI, c coreAPI, log zerolog.Logger) *RegionalAdapter {
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	return &RegionalAdapter{
		cfg:  cfg,
		snap: s,
		core: c,
		log:  log.With().Str("gateway", string(domain.GatewayRegional)).Logger(),
	}
}

func (a *RegionalAdapter) Name() domain.Gateway { return domain.GatewayRegional }

// SignatureHeader is empty: the signature travels in the payload's signature_key.
func (a *RegionalAdapter) SignatureHeader() string { return "" }

// CreateIntent opens a snap transaction keyed by the payment reference.
// Return URLs are configured on the processor dashboard. A rejected repeat of an
// order the processor already holds returns that order instead.
func (a *RegionalAdapter) CreateIntent(ctx context.Context, req ports.IntentRequest) (*ports.IntentResult, error) {
	if !strings.EqualFold(req.Currency, a.cfg.Currency) {
		return nil, apperror.ErrGatewayRequest(fmt.Errorf("regional gateway settles in %s only, got %q", a.cfg.Currency, req.Currency))
	}
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.ReferenceID,
			GrossAmt: money.ToMinor(req.Amount, a.cfg.Currency),
		},
	}

	resp, err := call(ctx, a.cfg.Timeout, func() (*snap.Response, *midtrans.Error) {
		return a.snap.CreateTransaction(snapReq)
	})
	if err != nil {
		if apperror.HasCode(err, apperror.CodeGatewayRequest) {
			if existing := a.existingOrder(ctx, req.ReferenceID); existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	a.log.Debug().Str("order_id", req.ReferenceID).Msg("snap transaction created")

	return &ports.IntentResult{
		ExternalIntentID: req.ReferenceID,
		ClientToken:      strPtr(resp.Token),
		RedirectURL:      strPtr(resp.RedirectURL),
		Status:           domain.IntentRequiresAction,
	}, nil
}

// existingOrder looks up a transaction already opened under orderID.
func (a *RegionalAdapter) existingOrder(ctx context.Context, orderID string) *ports.IntentResult {
	resp, err := call(ctx, a.cfg.Timeout, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) {
		return a.core.CheckTransaction(orderID)
	})
	if err != nil || resp == nil || resp.StatusCode == "404" {
		return nil
	}
	a.log.Info().Str("order_id", orderID).Str("transaction_status", resp.TransactionStatus).Msg("reusing existing snap transaction")
	return &ports.IntentResult{
		ExternalIntentID: orderID,
		Status:           regionalStatus(resp.TransactionStatus, resp.FraudStatus),
	}
}

// ConfirmIntent reads the transaction; the payer completes it on the hosted page.
func (a *RegionalAdapter) ConfirmIntent(ctx context.Context, externalIntentID string, args map[string]string) (*ports.ConfirmResult, error) {
	st, err := a.GetStatus(ctx, externalIntentID)
	if err != nil {
		return nil, err
	}
	return &ports.ConfirmResult{Status: st.Status, ExternalTransactionID: st.ExternalTransactionID}, nil
}

// GetStatus checks the transaction. An unknown order has not been paid for yet.
func (a *RegionalAdapter) GetStatus(ctx context.Context, externalIntentID string) (*ports.IntentStatusResult, error) {
	resp, err := call(ctx, a.cfg.Timeout, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) {
		return a.core.CheckTransaction(externalIntentID)
	})
	if err != nil {
		if errors.Is(err, errRegionalNotFound) {
			return &ports.IntentStatusResult{Status: domain.IntentRequiresAction}, nil
		}
		return nil, err
	}
	if resp.StatusCode == "404" {
		return &ports.IntentStatusResult{Status: domain.IntentRequiresAction}, nil
	}

	currency := resp.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}
	out := &ports.IntentStatusResult{
		Status:                regionalStatus(resp.TransactionStatus, resp.FraudStatus),
		Currency:              currency,
		ExternalTransactionID: resp.TransactionID,
	}
	if v, perr := money.ParseMajor(resp.GrossAmount, currency); perr == nil {
		out.Amount = v
	}
	return out, nil
}

// Refund refunds a settled transaction; RefundKey carries the idempotency key.
func (a *RegionalAdapter) Refund(ctx context.Context, req ports.GatewayRefundRequest) (*ports.GatewayRefundResult, error) {
	refundReq := &coreapi.RefundReq{
		RefundKey: req.IdempotencyKey,
		Reason:    req.Reason,
	}
	if req.Amount != nil {
		refundReq.Amount = money.ToMinor(*req.Amount, a.cfg.Currency)
	}

	resp, err := call(ctx, a.cfg.Timeout, func() (*coreapi.RefundResponse, *midtrans.Error) {
		return a.core.RefundTransaction(req.ExternalTransactionID, refundReq)
	})
	if err != nil {
		if apperror.HasCode(err, apperror.CodeGatewayRequest) {
			return nil, apperror.ErrGatewayRefund(err)
		}
		return nil, err
	}

	var status domain.IntentStatus
	switch resp.StatusCode {
	case "200":
		status = domain.IntentSucceeded
	case "201":
		status = domain.IntentProcessing
	default:
		code, _ := strconv.Atoi(resp.StatusCode)
		return nil, statusError(domain.GatewayRegional, code, resp.StatusMessage, true)
	}

	res := &ports.GatewayRefundResult{ExternalRefundID: req.IdempotencyKey, Status: status}
	if req.Amount != nil {
		res.Amount = money.Round(*req.Amount, a.cfg.Currency)
	}
	return res, nil
}

type regionalNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	Currency          string `json:"currency"`
}

// VerifySignature checks signature_key = sha512(order_id+status_code+gross_amount+server_key).
// The signature argument is ignored.
func (a *RegionalAdapter) VerifySignature(payload []byte, _ string) (*ports.WebhookEvent, error) {
	var n regionalNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, apperror.ErrInvalidSignature()
	}
	if a.cfg.ServerKey == "" || n.SignatureKey == "" || n.OrderID == "" {
		return nil, apperror.ErrInvalidSignature()
	}
	expected := signRegionalNotification(n.OrderID, n.StatusCode, n.GrossAmount, a.cfg.ServerKey)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(n.SignatureKey)), []byte(expected)) != 1 {
		return nil, apperror.ErrInvalidSignature()
	}

	currency := n.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}
	evt := &ports.WebhookEvent{
		EventID:               n.TransactionID + ":" + n.TransactionStatus,
		Gateway:               domain.GatewayRegional,
		Type:                  n.TransactionStatus,
		ReferenceID:           n.OrderID,
		ExternalIntentID:      n.OrderID,
		ExternalTransactionID: n.TransactionID,
		Status:                regionalStatus(n.TransactionStatus, n.FraudStatus),
		Currency:              currency,
	}
	if v, err := money.ParseMajor(n.GrossAmount, currency); err == nil {
		evt.Amount = v
	}
	return evt, nil
}

func signRegionalNotification(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func regionalStatus(transactionStatus, fraudStatus string) domain.IntentStatus {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "challenge" {
			return domain.IntentProcessing
		}
		return domain.IntentSucceeded
	case "settlement":
		return domain.IntentSucceeded
	case "pending":
		return domain.IntentProcessing
	case "deny", "failure":
		return domain.IntentFailed
	case "cancel", "expire":
		return domain.IntentCanceled
	default:
		return domain.IntentRequiresAction
	}
}

// call runs a blocking midtrans call under the adapter deadline.
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, *midtrans.Error)) (T, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err *midtrans.Error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, apperror.ErrGatewayUnavailable(fmt.Errorf("%s request: %w", domain.GatewayRegional, ctx.Err()))
	case r := <-ch:
		if r.err != nil {
			return zero, midtransError(r.err)
		}
		return r.val, nil
	}
}

// midtransError maps a client error; a zero status code means the request never completed.
func midtransError(e *midtrans.Error) error {
	if e.StatusCode == 0 {
		return apperror.ErrGatewayUnavailable(fmt.Errorf("%s request: %s", domain.GatewayRegional, e.Message))
	}
	if e.StatusCode == http.StatusNotFound {
		return apperror.ErrGatewayRequest(fmt.Errorf("%w: %s", errRegionalNotFound, e.Message))
	}
	return statusError(domain.GatewayRegional, e.StatusCode, e.Message, false)
}
