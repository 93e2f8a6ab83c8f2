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
			appErr:   New("WAL_001", "Insufficient available balance", http.StatusConflict),
			expected: "[WAL_001] Insufficient available balance",
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
	assert.Nil(t, New("PAY_002", "test", http.StatusBadRequest).Unwrap())
}

func TestWithDetail_DoesNotMutateReceiver(t *testing.T) {
	base := New("PAY_004", "x", http.StatusNotFound)
	withID := base.WithDetail("id", "abc")

	assert.Nil(t, base.Details)
	assert.Equal(t, "abc", withID.Details["id"])
}

func TestConflictErrorsCarryCurrentAndRequested(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code string
	}{
		{"available", ErrInsufficientAvailableBalance(100, 250), CodeInsufficientAvailable},
		{"pending", ErrInsufficientPendingBalance(100, 250), CodeInsufficientPending},
		{"reserved", ErrInsufficientReservedBalance(100, 250), CodeInsufficientReserved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, http.StatusConflict, tt.err.HTTPStatus)
			assert.Equal(t, int64(100), tt.err.Details["current"])
			assert.Equal(t, int64(250), tt.err.Details["requested"])
		})
	}
}

func TestInsufficientStockDetails(t *testing.T) {
	err := ErrInsufficientStock("p-1", 5, 2)

	assert.Equal(t, CodeInsufficientStock, err.Code)
	assert.Equal(t, "p-1", err.Details["product_id"])
	assert.Equal(t, int64(5), err.Details["requested"])
	assert.Equal(t, int64(2), err.Details["available"])
}

func TestInvalidTransition(t *testing.T) {
	err := ErrInvalidTransition("completed", "approved")

	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Equal(t, "completed", err.Details["from"])
	assert.Equal(t, "approved", err.Details["to"])
}

func TestGatewayErrors(t *testing.T) {
	inner := fmt.Errorf("dial tcp: i/o timeout")

	unavailable := ErrGatewayUnavailable(inner)
	assert.True(t, IsRetryable(unavailable))
	assert.True(t, IsRetryable(fmt.Errorf("outer: %w", unavailable)))
	assert.Equal(t, http.StatusBadGateway, unavailable.HTTPStatus)

	rejected := ErrGatewayRejected("account closed", inner)
	assert.False(t, IsRetryable(rejected))
	assert.Equal(t, "account closed", rejected.Details["reason"])
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ErrEmptyCart())

	assert.True(t, HasCode(err, CodeEmptyCart))
	assert.False(t, HasCode(err, CodeInsufficientStock))
	assert.False(t, HasCode(errors.New("plain"), CodeEmptyCart))
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrDatabaseError(inner)
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

func TestNotFoundEntity(t *testing.T) {
	err := ErrNotFound("Payout request")
	assert.Contains(t, err.Message, "Payout request")
	assert.Equal(t, CodeNotFound, err.Code)
}
