package app

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"marketplace-settlement/internal/core/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentPayoutRequests fires more payout requests than the available
// balance covers. Reservations are taken under the wallet lock, so exactly
// the affordable ones succeed and nothing is reserved twice.
func TestConcurrentPayoutRequests(t *testing.T) {
	h := newHarness(t)
	h.checkoutAndPay(t)

	vendorTok := h.token(t, h.vendorA, ports.RoleVendor)
	adminTok := h.token(t, uuid.New(), ports.RoleAdmin)

	w := h.do(t, http.MethodPost, "/api/v1/vendor/payment-methods", vendorTok,
		map[string]string{"type": "bank_transfer", "destination": "NL91ABNA0417164300"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	methodID := data(t, w)["id"].(string)
	w = h.do(t, http.MethodPost, "/api/v1/admin/payment-methods/"+methodID+"/verify", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Available is 5400: five requests of 1000 fit, three do not.
	const concurrency = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		refused   atomic.Int64
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := h.do(t, http.MethodPost, "/api/v1/vendor/payouts", vendorTok,
				map[string]interface{}{"amount": 1000, "payment_method_id": methodID})
			switch w.Code {
			case http.StatusCreated:
				succeeded.Add(1)
			default:
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), succeeded.Load())
	assert.Equal(t, int64(3), refused.Load())

	wallet := h.wallet(t, h.vendorA)
	assert.Equal(t, float64(400), wallet["available_balance"])
	assert.Equal(t, float64(5000), wallet["reserved_balance"])
	assert.Equal(t, float64(5400), wallet["total_credited"])
}
