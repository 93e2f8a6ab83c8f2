package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apidocs "marketplace-settlement/docs/api"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/internal/core/ports/mocks"
	"marketplace-settlement/internal/service"
	"marketplace-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router    *gin.Engine
	tokens    *service.JWTTokenService
	orders    *mocks.MockOrderService
	payments  *mocks.MockPaymentService
	webhooks  *mocks.MockWebhookService
	ledger    *mocks.MockLedgerService
	payouts   *mocks.MockPayoutService
	vendors   *mocks.MockVendorService
	reporting *mocks.MockReportingService
	audit     *mocks.MockAuditService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)

	s := &testServer{
		tokens:    service.NewJWTTokenService("test-secret", time.Hour, "test"),
		orders:    mocks.NewMockOrderService(ctrl),
		payments:  mocks.NewMockPaymentService(ctrl),
		webhooks:  mocks.NewMockWebhookService(ctrl),
		ledger:    mocks.NewMockLedgerService(ctrl),
		payouts:   mocks.NewMockPayoutService(ctrl),
		vendors:   mocks.NewMockVendorService(ctrl),
		reporting: mocks.NewMockReportingService(ctrl),
		audit:     mocks.NewMockAuditService(ctrl),
	}
	s.router = SetupRouter(RouterDeps{
		OrderSvc:        s.orders,
		PaymentSvc:      s.payments,
		WebhookSvc:      s.webhooks,
		LedgerSvc:       s.ledger,
		PayoutSvc:       s.payouts,
		VendorSvc:       s.vendors,
		ReportingSvc:    s.reporting,
		TokenSvc:        s.tokens,
		SignatureHeader: "X-Sandbox-Signature",
		AuditSvc:        s.audit,
		Metrics:         prometheus.NewRegistry(),
		Mode:            gin.TestMode,
		Logger:          zerolog.Nop(),
	})
	return s
}

func (s *testServer) token(t *testing.T, subject uuid.UUID, role string) string {
	t.Helper()
	tok, _, err := s.tokens.Generate(subject, role)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	d, ok := decode(t, w)["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return d
}

// --- Orders ---

func TestCheckout_Success(t *testing.T) {
	s := newTestServer(t)
	customerID := uuid.New()
	orderID := uuid.New()

	s.orders.EXPECT().Checkout(gomock.Any(), ports.CheckoutRequest{
		CustomerID:    customerID,
		PaymentMethod: "card",
	}).Return(&domain.Order{
		ID:          orderID,
		OrderNumber: "ORD-2610-ABC123",
		Status:      domain.OrderStatusPending,
		Total:       650,
		Currency:    "USD",
	}, []domain.VendorSubOrder{{}, {}}, nil)

	w := s.do(t, http.MethodPost, "/api/v1/orders", s.token(t, customerID, ports.RoleCustomer),
		map[string]string{"payment_method": "card"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, orderID.String(), d["order_id"])
	assert.Equal(t, "ORD-2610-ABC123", d["order_number"])
	assert.Equal(t, "pending", d["status"])
	assert.Equal(t, float64(650), d["total"])
	assert.Equal(t, float64(2), d["sub_orders"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCheckout_RequiresCustomerRole(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/orders", s.token(t, uuid.New(), ports.RoleVendor),
		map[string]string{"payment_method": "card"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders", "", map[string]string{"payment_method": "card"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckout_InsufficientStockDetails(t *testing.T) {
	s := newTestServer(t)
	productID := uuid.New().String()

	s.orders.EXPECT().Checkout(gomock.Any(), gomock.Any()).
		Return(nil, nil, apperror.ErrInsufficientStock(productID, 5, 2))

	w := s.do(t, http.MethodPost, "/api/v1/orders", s.token(t, uuid.New(), ports.RoleCustomer),
		map[string]string{"payment_method": "card"})

	require.Equal(t, http.StatusConflict, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperror.CodeInsufficientStock, resp["error_code"])
	details := resp["details"].(map[string]interface{})
	assert.Equal(t, productID, details["product_id"])
	assert.Equal(t, float64(5), details["requested"])
	assert.Equal(t, float64(2), details["available"])
}

func TestCheckout_ValidationError(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/orders", s.token(t, uuid.New(), ports.RoleCustomer),
		map[string]string{"payment_method": "card; DROP"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SYS_004", decode(t, w)["error_code"])
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)
	customerID := uuid.New()
	orderID := uuid.New()
	tok := s.token(t, customerID, ports.RoleCustomer)

	w := s.do(t, http.MethodGet, "/api/v1/orders/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.orders.EXPECT().GetOrder(gomock.Any(), customerID, orderID).Return(&domain.Order{
		ID:     orderID,
		Status: domain.OrderStatusProcessing,
	}, nil, nil)

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+orderID.String(), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, orderID.String(), d["id"])
	assert.Equal(t, []interface{}{}, d["sub_orders"])
}

// --- Payments ---

func TestCreateIntent_Success(t *testing.T) {
	s := newTestServer(t)
	customerID := uuid.New()
	orderID := uuid.New()

	s.payments.EXPECT().CreateIntent(gomock.Any(), customerID, orderID).Return(&ports.Intent{
		Ref:          "pi_123",
		ClientSecret: "pi_123_secret",
		Status:       ports.IntentStatusPending,
		Amount:       650,
	}, nil)

	w := s.do(t, http.MethodPost, "/api/v1/payments/intent", s.token(t, customerID, ports.RoleCustomer),
		map[string]string{"order_id": orderID.String()})

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, "pi_123", d["intent_ref"])
	assert.Equal(t, "pi_123_secret", d["client_secret"])
}

func TestConfirm_GatewayUnavailable(t *testing.T) {
	s := newTestServer(t)
	customerID := uuid.New()
	orderID := uuid.New()

	s.payments.EXPECT().ConfirmPayment(gomock.Any(), customerID, orderID).
		Return(nil, apperror.ErrGatewayUnavailable(errors.New("timeout")))

	w := s.do(t, http.MethodPost, "/api/v1/payments/confirm", s.token(t, customerID, ports.RoleCustomer),
		map[string]string{"order_id": orderID.String()})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, apperror.CodeGatewayUnavailable, decode(t, w)["error_code"])
}

func TestConfirm_BadBody(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/payments/confirm", s.token(t, uuid.New(), ports.RoleCustomer),
		map[string]string{"order_id": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name   string
		result domain.WebhookResult
		err    error
	}{
		{"applied", domain.WebhookResultApplied, nil},
		{"duplicate", domain.WebhookResultNoop, nil},
		{"bad signature", "", apperror.ErrInvalidSignature()},
		{"internal failure", "", apperror.InternalError(errors.New("db down"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			payload := `{"id":"evt_1","type":"payment.succeeded"}`

			s.webhooks.EXPECT().HandleWebhook(gomock.Any(), []byte(payload), "t=1,v1=abc").
				Return(tt.result, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(payload))
			req.Header.Set("X-Sandbox-Signature", "t=1,v1=abc")
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"received":true}`, w.Body.String())
		})
	}
}

// --- Vendor ---

func TestGetWallet(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()

	wallet := domain.NewWallet(vendorID, "USD")
	wallet.PendingBalance = 90
	wallet.TotalCredited = 90
	s.reporting.EXPECT().GetWallet(gomock.Any(), vendorID).Return(wallet, nil)

	w := s.do(t, http.MethodGet, "/api/v1/vendor/wallet", s.token(t, vendorID, ports.RoleVendor), nil)

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(90), d["pending_balance"])
	assert.Equal(t, float64(0), d["available_balance"])
	assert.NotContains(t, d, "Version")
}

func TestListEntries_Pagination(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()
	tok := s.token(t, vendorID, ports.RoleVendor)

	s.reporting.EXPECT().ListEntries(gomock.Any(), vendorID, 2, 10).
		Return([]domain.WalletEntry{{EntryType: domain.EntryTypeCreditPending, Amount: 90}}, int64(11), nil)

	w := s.do(t, http.MethodGet, "/api/v1/vendor/wallet/entries?page=2&page_size=10", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(11), d["total"])
	assert.Equal(t, float64(2), d["total_pages"])
	assert.Len(t, d["items"], 1)

	w = s.do(t, http.MethodGet, "/api/v1/vendor/wallet/entries?page_size=500", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVendorRoutes_RejectCustomer(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/vendor/wallet", s.token(t, uuid.New(), ports.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAddPaymentMethod_MasksDestination(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()
	methodID := uuid.New()

	s.vendors.EXPECT().AddPaymentMethod(gomock.Any(), vendorID, domain.PaymentMethodBankTransfer, "000123456789").
		Return(&domain.PaymentMethod{
			ID:             methodID,
			VendorID:       vendorID,
			Type:           domain.PaymentMethodBankTransfer,
			DestinationEnc: "ciphertext",
			Last4:          "6789",
			CreatedAt:      time.Now(),
		}, nil)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionMethodAdd, log.Action)
		assert.Equal(t, methodID.String(), log.ResourceID)
	})

	w := s.do(t, http.MethodPost, "/api/v1/vendor/payment-methods", s.token(t, vendorID, ports.RoleVendor),
		map[string]string{"type": "bank_transfer", "destination": "000123456789"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, "****6789", d["destination"])
	assert.Equal(t, false, d["verified"])
	assert.NotContains(t, w.Body.String(), "ciphertext")
	assert.NotContains(t, w.Body.String(), "000123456789")
}

func TestListPaymentMethods_EmptyIsArray(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()

	s.vendors.EXPECT().ListPaymentMethods(gomock.Any(), vendorID).Return(nil, nil)

	w := s.do(t, http.MethodGet, "/api/v1/vendor/payment-methods", s.token(t, vendorID, ports.RoleVendor), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["data"])
}

func TestUpdateSubOrderStatus(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()
	subID := uuid.New()
	tok := s.token(t, vendorID, ports.RoleVendor)
	path := "/api/v1/vendor/sub-orders/" + subID.String() + "/status"

	w := s.do(t, http.MethodPut, path, tok, map[string]string{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.orders.EXPECT().UpdateSubOrderStatus(gomock.Any(), vendorID, subID, domain.SubOrderStatusShipped).
		Return(nil, apperror.ErrInvalidTransition("pending", "shipped"))

	w = s.do(t, http.MethodPut, path, tok, map[string]string{"status": "shipped"})
	require.Equal(t, http.StatusConflict, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperror.CodeInvalidTransition, resp["error_code"])

	s.orders.EXPECT().UpdateSubOrderStatus(gomock.Any(), vendorID, subID, domain.SubOrderStatusConfirmed).
		Return(&domain.VendorSubOrder{ID: subID, Status: domain.SubOrderStatusConfirmed}, nil)

	w = s.do(t, http.MethodPut, path, tok, map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", data(t, w)["status"])
}

func TestRequestPayout_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()
	methodID := uuid.New()

	s.payouts.EXPECT().Request(gomock.Any(), vendorID, int64(1000), methodID).
		Return(nil, apperror.ErrInsufficientAvailableBalance(0, 1000))

	w := s.do(t, http.MethodPost, "/api/v1/vendor/payouts", s.token(t, vendorID, ports.RoleVendor),
		map[string]interface{}{"amount": 1000, "payment_method_id": methodID.String()})

	require.Equal(t, http.StatusConflict, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperror.CodeInsufficientAvailable, resp["error_code"])
	details := resp["details"].(map[string]interface{})
	assert.Equal(t, float64(0), details["current"])
	assert.Equal(t, float64(1000), details["requested"])
}

func TestRequestPayout_Success(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()
	methodID := uuid.New()
	payoutID := uuid.New()

	s.payouts.EXPECT().Request(gomock.Any(), vendorID, int64(1000), methodID).
		Return(&domain.PayoutRequest{ID: payoutID, VendorID: vendorID, RequestedAmount: 1000, Status: domain.PayoutStatusRequested}, nil)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionPayoutRequest, log.Action)
		assert.Equal(t, payoutID.String(), log.ResourceID)
		require.NotNil(t, log.ActorID)
		assert.Equal(t, vendorID, *log.ActorID)
	})

	w := s.do(t, http.MethodPost, "/api/v1/vendor/payouts", s.token(t, vendorID, ports.RoleVendor),
		map[string]interface{}{"amount": 1000, "payment_method_id": methodID.String()})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "requested", data(t, w)["status"])
}

func TestListAndCancelPayouts(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()
	payoutID := uuid.New()
	tok := s.token(t, vendorID, ports.RoleVendor)

	s.payouts.EXPECT().List(gomock.Any(), vendorID, 20, 0).Return(nil, int64(0), nil)
	w := s.do(t, http.MethodGet, "/api/v1/vendor/payouts", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, data(t, w)["items"])

	s.payouts.EXPECT().Cancel(gomock.Any(), vendorID, payoutID).
		Return(&domain.PayoutRequest{ID: payoutID, Status: domain.PayoutStatusCancelled}, nil)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any())

	w = s.do(t, http.MethodDelete, "/api/v1/vendor/payouts/"+payoutID.String(), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", data(t, w)["status"])
}

// --- Admin ---

func TestPayoutAction_RejectAuditsDecision(t *testing.T) {
	s := newTestServer(t)
	adminID := uuid.New()
	payoutID := uuid.New()

	s.payouts.EXPECT().Reject(gomock.Any(), adminID, payoutID, "account closed").
		Return(&domain.PayoutRequest{ID: payoutID, Status: domain.PayoutStatusRejected}, nil)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionPayoutReject, log.Action)
		assert.Equal(t, payoutID.String(), log.ResourceID)
	})

	w := s.do(t, http.MethodPut, "/api/v1/admin/payouts/"+payoutID.String(), s.token(t, adminID, ports.RoleAdmin),
		map[string]string{"action": "reject", "reason": " account closed "})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", data(t, w)["status"])
}

func TestPayoutAction_ReviewAndApprove(t *testing.T) {
	s := newTestServer(t)
	adminID := uuid.New()
	payoutID := uuid.New()
	tok := s.token(t, adminID, ports.RoleAdmin)
	path := "/api/v1/admin/payouts/" + payoutID.String()

	gomock.InOrder(
		s.payouts.EXPECT().Review(gomock.Any(), adminID, payoutID).
			Return(&domain.PayoutRequest{ID: payoutID, Status: domain.PayoutStatusUnderReview}, nil),
		s.payouts.EXPECT().Approve(gomock.Any(), adminID, payoutID).
			Return(&domain.PayoutRequest{ID: payoutID, Status: domain.PayoutStatusApproved}, nil),
	)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(2)

	w := s.do(t, http.MethodPut, path, tok, map[string]string{"action": "review"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPut, path, tok, map[string]string{"action": "approve"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", data(t, w)["status"])

	w = s.do(t, http.MethodPut, path, tok, map[string]string{"action": "complete"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes_RejectVendor(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/payouts/"+uuid.New().String()+"/process",
		s.token(t, uuid.New(), ports.RoleVendor), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProcessPayout(t *testing.T) {
	tests := []struct {
		name   string
		status domain.PayoutStatus
		want   int
	}{
		{"paid synchronously", domain.PayoutStatusCompleted, http.StatusOK},
		{"awaiting transfer webhook", domain.PayoutStatusProcessing, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			payoutID := uuid.New()

			s.payouts.EXPECT().Process(gomock.Any(), payoutID).
				Return(&domain.PayoutRequest{ID: payoutID, Status: tt.status}, nil)
			s.audit.EXPECT().Log(gomock.Any(), gomock.Any())

			w := s.do(t, http.MethodPost, "/api/v1/admin/payouts/"+payoutID.String()+"/process",
				s.token(t, uuid.New(), ports.RoleAdmin), nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestProcessPayout_TransportFailure(t *testing.T) {
	s := newTestServer(t)
	payoutID := uuid.New()

	s.payouts.EXPECT().Process(gomock.Any(), payoutID).
		Return(nil, apperror.ErrGatewayUnavailable(errors.New("connection reset")))

	w := s.do(t, http.MethodPost, "/api/v1/admin/payouts/"+payoutID.String()+"/process",
		s.token(t, uuid.New(), ports.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestVerifyPaymentMethod(t *testing.T) {
	s := newTestServer(t)
	adminID := uuid.New()
	methodID := uuid.New()
	now := time.Now()

	s.vendors.EXPECT().VerifyPaymentMethod(gomock.Any(), adminID, methodID).
		Return(&domain.PaymentMethod{ID: methodID, Last4: "1234", Verified: true, VerifiedAt: &now}, nil)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionMethodVerify, log.Action)
	})

	w := s.do(t, http.MethodPost, "/api/v1/admin/payment-methods/"+methodID.String()+"/verify",
		s.token(t, adminID, ports.RoleAdmin), nil)

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, true, d["verified"])
	assert.NotEmpty(t, d["verified_at"])
}

func TestMatureWallet(t *testing.T) {
	s := newTestServer(t)
	adminID := uuid.New()
	vendorID := uuid.New()

	wallet := domain.NewWallet(vendorID, "USD")
	wallet.AvailableBalance = 80
	s.ledger.EXPECT().MatureVendor(gomock.Any(), vendorID, int64(90)).
		Return(&ports.Maturation{Amount: 80, SubOrders: 2, Wallet: wallet}, nil)
	s.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionWalletMature, log.Action)
		assert.Equal(t, vendorID.String(), log.ResourceID)
	})

	w := s.do(t, http.MethodPost, "/api/v1/admin/wallets/"+vendorID.String()+"/mature",
		s.token(t, adminID, ports.RoleAdmin), map[string]int64{"amount": 90})

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(90), d["requested_amount"])
	assert.Equal(t, float64(80), d["matured_amount"])
	assert.Equal(t, float64(2), d["sub_orders"])
	assert.Equal(t, float64(80), d["wallet"].(map[string]any)["available_balance"])
}

func TestMatureWallet_InsufficientPending(t *testing.T) {
	s := newTestServer(t)
	vendorID := uuid.New()

	s.ledger.EXPECT().MatureVendor(gomock.Any(), vendorID, int64(500)).
		Return(nil, apperror.ErrInsufficientPendingBalance(90, 500))

	w := s.do(t, http.MethodPost, "/api/v1/admin/wallets/"+vendorID.String()+"/mature",
		s.token(t, uuid.New(), ports.RoleAdmin), map[string]int64{"amount": 500})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeInsufficientPending, decode(t, w)["error_code"])
}

// --- Health, metrics, docs ---

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck()(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))
	pg.EXPECT().Name().Return("postgresql").AnyTimes()
	rdb := mocks.NewMockHealthChecker(ctrl)
	rdb.EXPECT().Ping(gomock.Any()).Return(nil)
	rdb.EXPECT().Name().Return("redis").AnyTimes()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(pg, rdb)(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Equal(t, "unhealthy", deps["postgresql"].(map[string]interface{})["status"])
	assert.Equal(t, "connection refused", deps["postgresql"].(map[string]interface{})["error"])

	redisDep := deps["redis"].(map[string]interface{})
	assert.Equal(t, "healthy", redisDep["status"])
	assert.Contains(t, redisDep, "latency_ms")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSwaggerUI(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger", nil)

	SwaggerUI(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "swagger-ui")
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}

func TestSwaggerSpec_EmbeddedByDefault(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/swagger/spec", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Marketplace Settlement API")
	assert.NotEmpty(t, w.Header().Get("ETag"))
}

func TestSwaggerSpec_Revalidation(t *testing.T) {
	SetSwaggerSpec([]byte("openapi: '3.0.0'\ninfo:\n  title: Test"))
	defer SetSwaggerSpec(apidocs.OpenAPI)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)
	SwaggerSpec(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi")
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)
	c.Request.Header.Set("If-None-Match", etag)
	SwaggerSpec(c)

	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestSwaggerSpec_NotLoaded(t *testing.T) {
	SetSwaggerSpec(nil)
	defer SetSwaggerSpec(apidocs.OpenAPI)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
