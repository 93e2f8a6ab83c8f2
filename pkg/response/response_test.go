package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(requestID string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	if requestID != "" {
		c.Set(requestIDKey, requestID)
	}
	return c, w
}

func TestSuccessEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(*gin.Context, interface{})
		status int
	}{
		{"ok", OK, http.StatusOK},
		{"created", Created, http.StatusCreated},
		{"accepted", Accepted, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext("req-" + tt.name)

			tt.write(c, map[string]any{"payout_id": "p-1", "amount": 5000})

			require.Equal(t, tt.status, w.Code)
			var resp SuccessResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "req-"+tt.name, resp.RequestID)
			assert.NotEmpty(t, resp.Timestamp)
			data := resp.Data.(map[string]interface{})
			assert.Equal(t, "p-1", data["payout_id"])
			assert.Equal(t, float64(5000), data["amount"])
		})
	}
}

func TestError_CarriesBalanceDetails(t *testing.T) {
	c, w := newContext("req-payout")

	Error(c, apperror.ErrInsufficientAvailableBalance(400, 1000))

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeInsufficientAvailable, resp.ErrorCode)
	assert.Equal(t, float64(400), resp.Details["current"])
	assert.Equal(t, float64(1000), resp.Details["requested"])
	assert.Equal(t, "req-payout", resp.RequestID)
	assert.Empty(t, c.Errors)
}

func TestError_UnwrapsAppError(t *testing.T) {
	c, w := newContext("")

	Error(c, fmt.Errorf("verify webhook: %w", apperror.ErrInvalidSignature()))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SEC_002", resp.ErrorCode)
	assert.NotEmpty(t, resp.RequestID)
}

func TestError_HidesUnknownCause(t *testing.T) {
	c, w := newContext("req-500")

	Error(c, fmt.Errorf("pq: relation \"wallets\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "wallets")
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SYS_000", resp.ErrorCode)
	assert.Nil(t, resp.Details)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors.String(), "wallets")
}
