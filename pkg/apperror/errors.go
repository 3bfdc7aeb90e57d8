package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
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

// Is reports whether err carries an AppError with the given code anywhere in its chain.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error codes shared across services and handlers.
const (
	CodeInvalidSignature    = "SEC_002"
	CodeInsufficientBalance = "PAY_001"
	CodeInvalidAmount       = "PAY_002"
	CodeNotFound            = "PAY_004"
	CodeInvalidTransition   = "ORD_001"
	CodeUnrecognizedOrder   = "ORD_002"
	CodeDummyDisabled       = "ORD_003"
	CodeGatewayUnavailable  = "GW_001"
	CodeMaxRetriesExceeded  = "GW_002"
	CodeInvalidToken        = "AUTH_003"
	CodeForbidden           = "AUTH_004"
	CodeRateLimitExceeded   = "RATE_001"
	CodeInternal            = "SYS_001"
)

// ---- Security & Authentication (SEC) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

// ---- Ledger (PAY) ----

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Orders (ORD) ----

func ErrInvalidTransition(from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("Cannot move order from %s to %s", from, to), http.StatusConflict)
}

func ErrUnrecognizedOrder(orderID string) *AppError {
	return New(CodeUnrecognizedOrder, fmt.Sprintf("Unrecognized order %s", orderID), http.StatusNotFound)
}

func ErrDummyDisabled() *AppError {
	return New(CodeDummyDisabled, "Dummy payments are disabled", http.StatusForbidden)
}

// ---- Payment gateway (GW) ----

// ErrGatewayUnavailable is always retryable.
func ErrGatewayUnavailable(err error) *AppError {
	return Wrap(CodeGatewayUnavailable, "Payment gateway unavailable", http.StatusServiceUnavailable, err)
}

func ErrMaxRetriesExceeded(orderID string) *AppError {
	return New(CodeMaxRetriesExceeded, fmt.Sprintf("Payment verification gave up for order %s", orderID), http.StatusGatewayTimeout)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

// ErrForbidden is for an authenticated caller acting outside their role.
func ErrForbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New(CodeInvalidAmount, message, http.StatusBadRequest)
}
