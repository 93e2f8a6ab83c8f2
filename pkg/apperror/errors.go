package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Retryable  bool           `json:"-"`
	Err        error          `json:"-"` // Wrapped internal error (not exposed to client)
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

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *AppError) WithDetail(key string, value any) *AppError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
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

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable
}

// ---- Orders (ORD) ----

const (
	CodeEmptyCart          = "ORD_001"
	CodeProductUnavailable = "ORD_002"
	CodeInsufficientStock  = "ORD_003"
	CodeOrderNotPayable    = "ORD_004"
)

func ErrEmptyCart() *AppError {
	return New(CodeEmptyCart, "Cart is empty", http.StatusBadRequest)
}

func ErrProductUnavailable(productID string) *AppError {
	return New(CodeProductUnavailable, "Product is not available", http.StatusUnprocessableEntity).
		WithDetail("product_id", productID)
}

func ErrInsufficientStock(productID string, requested, available int64) *AppError {
	e := New(CodeInsufficientStock, "Insufficient stock", http.StatusConflict)
	e.Details = map[string]any{
		"product_id": productID,
		"requested":  requested,
		"available":  available,
	}
	return e
}

func ErrOrderNotPayable(status string) *AppError {
	return New(CodeOrderNotPayable, "Order is not awaiting payment", http.StatusConflict).
		WithDetail("payment_status", status)
}

// ---- Wallet (WAL) ----

const (
	CodeInsufficientAvailable = "WAL_001"
	CodeInsufficientPending   = "WAL_002"
	CodeInsufficientReserved  = "WAL_003"
	CodeLedgerInvariant       = "WAL_004"
)

func balanceConflict(code, message string, current, requested int64) *AppError {
	e := New(code, message, http.StatusConflict)
	e.Details = map[string]any{
		"current":   current,
		"requested": requested,
	}
	return e
}

func ErrInsufficientAvailableBalance(current, requested int64) *AppError {
	return balanceConflict(CodeInsufficientAvailable, "Insufficient available balance", current, requested)
}

func ErrInsufficientPendingBalance(current, requested int64) *AppError {
	return balanceConflict(CodeInsufficientPending, "Insufficient pending balance", current, requested)
}

func ErrInsufficientReservedBalance(current, requested int64) *AppError {
	return balanceConflict(CodeInsufficientReserved, "Insufficient reserved balance", current, requested)
}

// ErrLedgerInvariant signals a wallet state that would break conservation.
func ErrLedgerInvariant(err error) *AppError {
	return Wrap(CodeLedgerInvariant, "Wallet invariant violated", http.StatusInternalServerError, err)
}

// ---- Payment & payout business logic (PAY) ----

const (
	CodeInvalidAmount       = "PAY_002"
	CodeNotFound            = "PAY_004"
	CodeBelowMinimum        = "PAY_005"
	CodeMethodUnverified    = "PAY_006"
	CodeInvalidTransition   = "PAY_007"
	CodeForbiddenOwnership  = "PAY_008"
	CodeDuplicateOperation  = "PAY_009"
	CodeFeesExceedAmount    = "PAY_010"
	CodeInvalidOutcome      = "PAY_011"
	CodeCommissionRateRange = "PAY_012"
)

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrBelowMinimumWithdrawal(minimum, requested int64) *AppError {
	e := New(CodeBelowMinimum, "Amount is below the minimum withdrawal", http.StatusUnprocessableEntity)
	e.Details = map[string]any{
		"minimum":   minimum,
		"requested": requested,
	}
	return e
}

func ErrPaymentMethodUnverified() *AppError {
	return New(CodeMethodUnverified, "Payment method is not verified", http.StatusUnprocessableEntity)
}

func ErrInvalidTransition(from, to string) *AppError {
	e := New(CodeInvalidTransition, "Status transition not allowed", http.StatusConflict)
	e.Details = map[string]any{
		"from": from,
		"to":   to,
	}
	return e
}

func ErrForbidden() *AppError {
	return New(CodeForbiddenOwnership, "Resource belongs to another account", http.StatusForbidden)
}

func ErrDuplicateOperation(err error) *AppError {
	return Wrap(CodeDuplicateOperation, "Operation already applied", http.StatusConflict, err)
}

func ErrFeesExceedAmount(fees, requested int64) *AppError {
	e := New(CodeFeesExceedAmount, "Fees exceed the requested amount", http.StatusUnprocessableEntity)
	e.Details = map[string]any{
		"fees":      fees,
		"requested": requested,
	}
	return e
}

func ErrInvalidOutcome(outcome string) *AppError {
	return New(CodeInvalidOutcome, "Unknown settlement outcome", http.StatusBadRequest).
		WithDetail("outcome", outcome)
}

func ErrCommissionRateOutOfRange() *AppError {
	return New(CodeCommissionRateRange, "Commission rate must be between 0 and 100", http.StatusUnprocessableEntity)
}

// ---- Payment gateway (GW) ----

const (
	CodeGatewayUnavailable = "GW_001"
	CodeGatewayRejected    = "GW_002"
)

// ErrGatewayUnavailable is a transport-level gateway failure; callers may retry.
func ErrGatewayUnavailable(err error) *AppError {
	e := Wrap(CodeGatewayUnavailable, "Payment gateway unavailable, try again", http.StatusBadGateway, err)
	e.Retryable = true
	return e
}

// ErrGatewayRejected is a permanent gateway refusal with its reason.
func ErrGatewayRejected(reason string, err error) *AppError {
	return Wrap(CodeGatewayRejected, "Payment gateway rejected the operation", http.StatusUnprocessableEntity, err).
		WithDetail("reason", reason)
}

// ---- Security & Authentication (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInsufficientRole() *AppError {
	return New("AUTH_005", "Insufficient role for this operation", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	e := Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a SYS_004 request validation error.
func Validation(message string) *AppError {
	return New("SYS_004", message, http.StatusBadRequest)
}

// ErrPayloadTooLarge returns a SYS_005 error for request bodies over the limit.
func ErrPayloadTooLarge(limit int64) *AppError {
	return New("SYS_005", "Request body too large", http.StatusRequestEntityTooLarge).
		WithDetail("limit_bytes", limit)
}
