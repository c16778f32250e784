// Package gateway holds the payment processor adapters. Each adapter speaks
// one processor's wire protocol and exposes the uniform ports.GatewayAdapter
// contract; amounts are converted to and from minor units here and nowhere else.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/pkg/apperror"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every processor call when no timeout is configured.
const DefaultTimeout = 20 * time.Second

// maxResponseBytes caps how much of a processor response is read.
const maxResponseBytes = 1 << 20

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry implements ports.GatewayRegistry.
type Registry struct {
	adapters map[domain.Gateway]ports.GatewayAdapter
}

// NewRegistry indexes adapters by their Name().
func NewRegistry(adapters ...ports.GatewayAdapter) *Registry {
	r := &Registry{adapters: make(map[domain.Gateway]ports.GatewayAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Adapter returns the adapter for name or an unsupported-gateway error.
func (r *Registry) Adapter(name domain.Gateway) (ports.GatewayAdapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperror.ErrUnsupportedGateway(string(name))
	}
	return a, nil
}

// statusError maps a non-2xx processor response to the error taxonomy.
// refund selects GatewayRefundError for client errors on refund calls.
func statusError(gw domain.Gateway, status int, detail string, refund bool) error {
	err := fmt.Errorf("%s responded %d: %s", gw, status, detail)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperror.ErrGatewayAuth(err)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return apperror.ErrGatewayUnavailable(err)
	case refund:
		return apperror.ErrGatewayRefund(err)
	default:
		return apperror.ErrGatewayRequest(err)
	}
}

// transportError maps a failed round trip (timeout, reset, DNS) to GatewayUnavailable.
// A rejected OAuth2 token request is an auth failure.
func transportError(gw domain.Gateway, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) && tokenErr.Response != nil &&
		tokenErr.Response.StatusCode >= 400 && tokenErr.Response.StatusCode < 500 {
		return apperror.ErrGatewayAuth(fmt.Errorf("%s token: %w", gw, err))
	}
	return apperror.ErrGatewayUnavailable(fmt.Errorf("%s request: %w", gw, err))
}

// doJSON sends req and decodes a 2xx JSON body into out.
// Non-2xx bodies are passed to describe for an error detail string.
func doJSON(client HTTPClient, gw domain.Gateway, req *http.Request, out any, refund bool, describe func([]byte) string) error {
	resp, err := client.Do(req)
	if err != nil {
		return transportError(gw, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(gw, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(gw, resp.StatusCode, describe(body), refund)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperror.ErrGatewayRequest(fmt.Errorf("%s: decode response: %w", gw, err))
	}
	return nil
}

// withTimeout derives the per-call deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
