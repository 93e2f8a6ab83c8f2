package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace-settlement/internal/adapter/gateway/sandbox"
	"marketplace-settlement/internal/adapter/storage/memory"
	redisstore "marketplace-settlement/internal/adapter/storage/redis"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// runInTx makes a MockDBTransactor run the closure against a mockTx.
func runInTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, &mockTx{})
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []domain.SettlementEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SettlementEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harnessConfig struct {
	maturationDelay time.Duration
	orderTTL        time.Duration
	taxPercent      string
	payout          PayoutPolicy
}

type harnessOption func(*harnessConfig)

func withMaturationDelay(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.maturationDelay = d }
}

func withOrderTTL(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.orderTTL = d }
}

func withPayoutFees(percent string, flat int64) harnessOption {
	return func(c *harnessConfig) {
		c.payout.FeePercent = decimal.RequireFromString(percent)
		c.payout.FeeFlat = flat
	}
}

// harness wires every service over the memory store, the sandbox gateway and
// miniredis, the same way the application does with the memory driver.
type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	gw        *sandbox.Gateway
	redis     *miniredis.Miniredis
	client    *goredis.Client
	cart      *redisstore.CartStore
	published *recordingPublisher

	ledger   *LedgerServiceImpl
	orders   *OrderServiceImpl
	payments *PaymentServiceImpl
	webhooks ports.WebhookService
	payouts  *PayoutServiceImpl
	vendors  ports.VendorService
	reports  ports.ReportingService
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{
		orderTTL:   30 * time.Minute,
		taxPercent: "0",
		payout:     PayoutPolicy{Currency: "USD", Minimum: 1000, FeePercent: decimal.Zero},
	}
	for _, o := range opts {
		o(&cfg)
	}

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	enc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	store := memory.NewStore()
	gw := sandbox.New(testWebhookSecret)
	pub := &recordingPublisher{}
	log := newTestLogger()
	audit := NewAuditService(store.Audit(), log)
	t.Cleanup(func() { _ = audit.Close() })
	cart := redisstore.NewCartStore(client)

	pricing := PricingPolicy{
		Currency:              "USD",
		FreeShippingThreshold: 5000,
		FlatShippingFee:       500,
		TaxPercent:            decimal.RequireFromString(cfg.taxPercent),
		OrderTTL:              cfg.orderTTL,
	}

	ledger := NewLedgerService(store.Wallets(), store.Orders(), store, "USD", cfg.maturationDelay, nil, log)
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		gw:        gw,
		redis:     mr,
		client:    client,
		cart:      cart,
		published: pub,
		ledger:    ledger,
		orders: NewOrderService(store.Orders(), store.Products(), store.Vendors(), cart,
			store, gw, ledger, pub, pricing, cfg.maturationDelay, log),
		payments: NewPaymentService(store.Orders(), ledger, gw, store, audit, pub, cfg.maturationDelay, log),
		webhooks: NewWebhookService(gw, redisstore.NewEventDedupCache(client), store.WebhookEvents(),
			store.Orders(), store.Payouts(), ledger, store, audit, pub, cfg.maturationDelay, time.Hour, log),
		payouts: NewPayoutService(store.Payouts(), store.PaymentMethods(), ledger, gw, enc, store, pub,
			cfg.payout, log),
		vendors: NewVendorService(store.PaymentMethods(), enc, log),
		reports: NewReportingService(store.Wallets(), "USD"),
	}
	return h
}

func (h *harness) vendor(rate string) uuid.UUID {
	h.t.Helper()
	v := &domain.Vendor{ID: uuid.New(), Name: "vendor", CommissionRate: decimal.RequireFromString(rate)}
	require.NoError(h.t, h.store.Vendors().Upsert(h.ctx, v))
	return v.ID
}

func (h *harness) product(vendorID uuid.UUID, price, stock int64) uuid.UUID {
	h.t.Helper()
	p := &domain.Product{ID: uuid.New(), VendorID: vendorID, Name: "product", Price: price, Stock: stock, IsActive: true}
	require.NoError(h.t, h.store.Products().Upsert(h.ctx, p))
	return p.ID
}

func (h *harness) stock(productID uuid.UUID) int64 {
	h.t.Helper()
	p, err := h.store.Products().GetByID(h.ctx, productID)
	require.NoError(h.t, err)
	require.NotNil(h.t, p)
	return p.Stock
}

func (h *harness) addToCart(customerID, productID uuid.UUID, qty int64) {
	h.t.Helper()
	require.NoError(h.t, h.cart.AddItem(h.ctx, customerID, productID, qty))
}

func (h *harness) checkout(customerID uuid.UUID) (*domain.Order, []domain.VendorSubOrder) {
	h.t.Helper()
	order, subs, err := h.orders.Checkout(h.ctx, ports.CheckoutRequest{CustomerID: customerID, PaymentMethod: "card"})
	require.NoError(h.t, err)
	return order, subs
}

// paymentWebhook creates the order's intent, settles it in the sandbox and
// returns the signed webhook without delivering it.
func (h *harness) paymentWebhook(customerID uuid.UUID, order *domain.Order, succeeded bool) ([]byte, string) {
	h.t.Helper()
	intent, err := h.payments.CreateIntent(h.ctx, customerID, order.ID)
	require.NoError(h.t, err)
	payload, sig, err := h.gw.SettleIntent(intent.Ref, succeeded, "card_declined")
	require.NoError(h.t, err)
	return payload, sig
}

// pay drives an order through intent creation and a succeeded webhook.
func (h *harness) pay(customerID uuid.UUID, order *domain.Order) {
	h.t.Helper()
	payload, sig := h.paymentWebhook(customerID, order, true)
	result, err := h.webhooks.HandleWebhook(h.ctx, payload, sig)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.WebhookResultApplied, result)
}

// fund credits vendorID with amount straight into the available balance.
func (h *harness) fund(vendorID uuid.UUID, amount int64) {
	h.t.Helper()
	_, err := h.ledger.Credit(h.ctx, vendorID, amount, domain.BucketAvailable,
		ports.LedgerRef{Type: domain.ReferenceManual, ID: "test-funding"})
	require.NoError(h.t, err)
}

func (h *harness) verifiedMethod(vendorID uuid.UUID, destination string) uuid.UUID {
	h.t.Helper()
	m, err := h.vendors.AddPaymentMethod(h.ctx, vendorID, domain.PaymentMethodGatewayAccount, destination)
	require.NoError(h.t, err)
	_, err = h.vendors.VerifyPaymentMethod(h.ctx, uuid.New(), m.ID)
	require.NoError(h.t, err)
	return m.ID
}

func (h *harness) wallet(vendorID uuid.UUID) *domain.Wallet {
	h.t.Helper()
	w, err := h.ledger.GetWallet(h.ctx, vendorID)
	require.NoError(h.t, err)
	return w
}

func (h *harness) order(id uuid.UUID) *domain.Order {
	h.t.Helper()
	o, err := h.store.Orders().GetByID(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, o)
	return o
}

func (h *harness) payout(id uuid.UUID) *domain.PayoutRequest {
	h.t.Helper()
	p, err := h.store.Payouts().GetByID(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, p)
	return p
}

// payoutService builds a payout service over the harness store that talks to
// gw instead of the sandbox.
func (h *harness) payoutService(gw ports.PaymentGateway, policy PayoutPolicy) *PayoutServiceImpl {
	h.t.Helper()
	enc, err := NewAESEncryptionService(testAESKey)
	require.NoError(h.t, err)
	return NewPayoutService(h.store.Payouts(), h.store.PaymentMethods(), h.ledger, gw, enc, h.store,
		h.published, policy, newTestLogger())
}

// cancellingGateway cancels the caller's context while a transfer is in
// flight, the way a dropped admin connection would.
type cancellingGateway struct {
	ports.PaymentGateway
	cancel context.CancelFunc
}

func (g *cancellingGateway) CreateTransfer(ctx context.Context, _ ports.TransferRequest) (*ports.Transfer, error) {
	g.cancel()
	return nil, ctx.Err()
}

func subFor(subs []domain.VendorSubOrder, vendorID uuid.UUID) *domain.VendorSubOrder {
	for i := range subs {
		if subs[i].VendorID == vendorID {
			return &subs[i]
		}
	}
	return nil
}
