package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string            `json:"error_code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"` // per-field validation messages
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes that callers branch on.
const (
	CodeValidation          = "VAL_001"
	CodeNotFound            = "NF_001"
	CodeInvalidState        = "CARD_001"
	CodeExpired             = "CARD_002"
	CodeInsufficientBalance = "CARD_003"
	CodePartialNotAllowed   = "CARD_004"
	CodeRefundBlocked       = "CARD_005"
	CodeGatewayAuth         = "GW_001"
	CodeGatewayRequest      = "GW_002"
	CodeGatewayUnavailable  = "GW_003"
	CodeGatewayRefund       = "GW_004"
	CodeRateLimited         = "RATE_001"
	CodeInvalidSignature    = "SEC_002"
	CodeOTPRequired         = "SEC_005"
	CodeInvalidOTP          = "SEC_006"
	CodeInternal            = "SYS_001"
	CodeIdempotencyConflict = "VAL_002"
	CodeUnsupportedGateway  = "VAL_003"
	CodeInvalidCredentials  = "AUTH_001"
	CodeUsernameExists      = "AUTH_002"
	CodeInvalidToken        = "AUTH_003"
	CodeMerchantSuspended   = "AUTH_004"
	CodeEncryptionFailure   = "SYS_003"
	CodeLockTimeout         = "SYS_002"
	CodeServiceUnavailable  = "SYS_004"
)

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the error is transient and safe to retry.
// Only gateway unavailability qualifies; business-rule violations never do.
func IsRetryable(err error) bool {
	return HasCode(err, CodeGatewayUnavailable)
}

// ---- Validation & lookup ----

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrIdempotencyConflict() *AppError {
	return New(CodeIdempotencyConflict, "Idempotency key reused with a different request", http.StatusConflict)
}

func ErrUnsupportedGateway(name string) *AppError {
	return New(CodeUnsupportedGateway, fmt.Sprintf("unsupported gateway: %s", name), http.StatusBadRequest)
}

// ---- Gift card business rules (CARD) ----

func ErrInvalidState(message string) *AppError {
	return New(CodeInvalidState, message, http.StatusConflict)
}

func ErrExpired() *AppError {
	return New(CodeExpired, "Gift card has expired", http.StatusGone)
}

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient gift card balance", http.StatusUnprocessableEntity)
}

func ErrPartialRedemptionNotAllowed() *AppError {
	return New(CodePartialNotAllowed, "Partial redemption is not allowed for this gift card", http.StatusUnprocessableEntity)
}

func ErrRefundBlocked() *AppError {
	return New(CodeRefundBlocked, "Refund blocked: gift card has already been redeemed", http.StatusConflict)
}

// ---- Gateways (GW) ----

func ErrGatewayAuth(err error) *AppError {
	return Wrap(CodeGatewayAuth, "Payment gateway rejected credentials", http.StatusBadGateway, err)
}

func ErrGatewayRequest(err error) *AppError {
	return Wrap(CodeGatewayRequest, "Payment gateway rejected the request", http.StatusBadGateway, err)
}

func ErrGatewayUnavailable(err error) *AppError {
	return Wrap(CodeGatewayUnavailable, "Payment gateway unavailable", http.StatusServiceUnavailable, err)
}

func ErrGatewayRefund(err error) *AppError {
	return Wrap(CodeGatewayRefund, "Payment gateway refused the refund", http.StatusBadGateway, err)
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

func ErrOTPRequired() *AppError {
	return New(CodeOTPRequired, "One-time passcode required", http.StatusForbidden)
}

func ErrInvalidOTP() *AppError {
	return New(CodeInvalidOTP, "Invalid one-time passcode", http.StatusForbidden)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "Invalid credentials", http.StatusUnauthorized)
}

func ErrUsernameExists() *AppError {
	return New(CodeUsernameExists, "Username already exists", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrMerchantSuspended() *AppError {
	return New(CodeMerchantSuspended, "Merchant account is suspended", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrLockTimeout(err error) *AppError {
	return Wrap(CodeLockTimeout, "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap(CodeEncryptionFailure, "Encryption service failure", http.StatusInternalServerError, err)
}

func ErrServiceUnavailable(err error) *AppError {
	return Wrap(CodeServiceUnavailable, "Dependency unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
