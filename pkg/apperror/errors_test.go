package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("CARD_003", "Insufficient balance", http.StatusUnprocessableEntity),
			expected: "[CARD_003] Insufficient balance",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("VAL_001", "test", http.StatusBadRequest).Unwrap())
}

func TestCardErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidState", ErrInvalidState("card is REDEEMED"), CodeInvalidState, 409},
		{"Expired", ErrExpired(), CodeExpired, 410},
		{"InsufficientBalance", ErrInsufficientBalance(), CodeInsufficientBalance, 422},
		{"PartialNotAllowed", ErrPartialRedemptionNotAllowed(), CodePartialNotAllowed, 422},
		{"RefundBlocked", ErrRefundBlocked(), CodeRefundBlocked, 409},
		{"NotFound", ErrNotFound("gift card"), CodeNotFound, 404},
		{"InvalidAmount", ErrInvalidAmount(), CodeValidation, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestGatewayErrors(t *testing.T) {
	inner := fmt.Errorf("dial tcp: i/o timeout")

	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"Auth", ErrGatewayAuth(inner), CodeGatewayAuth, 502},
		{"Request", ErrGatewayRequest(inner), CodeGatewayRequest, 502},
		{"Unavailable", ErrGatewayUnavailable(inner), CodeGatewayUnavailable, 503},
		{"Refund", ErrGatewayRefund(inner), CodeGatewayRefund, 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
			assert.True(t, errors.Is(tt.err, inner))
		})
	}
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidCredentials", ErrInvalidCredentials(), "AUTH_001", 401},
		{"UsernameExists", ErrUsernameExists(), "AUTH_002", 409},
		{"InvalidToken", ErrInvalidToken(), "AUTH_003", 401},
		{"MerchantSuspended", ErrMerchantSuspended(), "AUTH_004", 403},
		{"InvalidSignature", ErrInvalidSignature(), "SEC_002", 401},
		{"OTPRequired", ErrOTPRequired(), "SEC_005", 403},
		{"InvalidOTP", ErrInvalidOTP(), "SEC_006", 403},
		{"RateLimited", ErrRateLimitExceeded(), "RATE_001", 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("confirm intent: %w", ErrGatewayUnavailable(nil))

	assert.True(t, HasCode(wrapped, CodeGatewayUnavailable))
	assert.False(t, HasCode(wrapped, CodeGatewayAuth))
	assert.False(t, HasCode(errors.New("plain"), CodeGatewayUnavailable))
	assert.False(t, HasCode(nil, CodeGatewayUnavailable))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrGatewayUnavailable(errors.New("timeout"))))
	assert.False(t, IsRetryable(ErrGatewayRequest(errors.New("bad currency"))))
	assert.False(t, IsRetryable(ErrInsufficientBalance()))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := InternalError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	lockErr := ErrLockTimeout(inner)
	assert.Equal(t, "SYS_002", lockErr.Code)
	assert.Equal(t, 503, lockErr.HTTPStatus)

	encErr := ErrEncryptionFailure(inner)
	assert.Equal(t, "SYS_003", encErr.Code)
	assert.Equal(t, 500, encErr.HTTPStatus)
}
