// Package app assembles the settlement engine from configuration. Both
// binaries build the same graph; cmd/api serves the router and cmd/worker
// runs the cron service.
package app

import (
	"context"
	"fmt"

	"marketplace-settlement/config"
	"marketplace-settlement/internal/adapter/events"
	"marketplace-settlement/internal/adapter/gateway"
	"marketplace-settlement/internal/adapter/gateway/sandbox"
	stripegw "marketplace-settlement/internal/adapter/gateway/stripe"
	httpHandler "marketplace-settlement/internal/adapter/http/handler"
	"marketplace-settlement/internal/adapter/storage/memory"
	pgStorage "marketplace-settlement/internal/adapter/storage/postgres"
	redisStorage "marketplace-settlement/internal/adapter/storage/redis"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/internal/cron"
	"marketplace-settlement/internal/service"
	"marketplace-settlement/pkg/logger"
	"marketplace-settlement/pkg/metrics"
	"marketplace-settlement/pkg/migrate"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// App is the wired engine.
type App struct {
	Config   *config.Config
	Router   *gin.Engine
	Cron     *cron.Service
	Registry *prometheus.Registry

	// Tokens, Cart, Products and Vendors are exposed for seeding and smoke
	// tests; the engine itself never writes the catalog.
	Tokens   *service.JWTTokenService
	Cart     ports.CartStore
	Products ports.ProductRepository
	Vendors  ports.VendorRepository

	// Sandbox is set when gateway.provider is sandbox.
	Sandbox *sandbox.Gateway

	log     zerolog.Logger
	closers []func() error
}

// Option overrides a piece of infrastructure New would otherwise dial.
type Option func(*options)

type options struct {
	redis goredis.UniversalClient
}

// WithRedis uses client instead of dialing cfg.Redis. The caller keeps
// ownership of the client.
func WithRedis(client goredis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

type stores struct {
	products   ports.ProductRepository
	vendors    ports.VendorRepository
	methods    ports.PaymentMethodRepository
	orders     ports.OrderRepository
	wallets    ports.WalletRepository
	payouts    ports.PayoutRepository
	events     ports.WebhookEventRepository
	audit      ports.AuditRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
}

// New validates cfg and builds every adapter and service. On error any
// resource already opened is closed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		log:      log,
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatewayMetrics := metrics.NewGatewayMetrics(a.Registry)
	ledgerMetrics := metrics.NewLedgerMetrics(a.Registry)
	cronMetrics := metrics.NewCronJobMetrics(a.Registry)

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	rdb := o.redis
	if rdb == nil {
		client, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		rdb = client
	}
	checkers := []ports.HealthChecker{st.health, redisStorage.NewHealthCheck(rdb)}

	gw, verifier, err := a.openGateway(gatewayMetrics)
	if err != nil {
		return nil, err
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(logger.Component(log, "events"))
	if cfg.Events.Enabled {
		amqpPub, err := events.DialAMQP(cfg.Events, logger.Component(log, "events"))
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		publisher = amqpPub
		checkers = append(checkers, amqpPub)
	}
	a.closers = append(a.closers, publisher.Close)

	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		return nil, fmt.Errorf("init encryption: %w", err)
	}
	pricing, err := service.PricingFromConfig(cfg.Settlement)
	if err != nil {
		return nil, err
	}
	payoutPolicy, err := service.PayoutPolicyFromConfig(cfg.Payout, cfg.Settlement.Currency)
	if err != nil {
		return nil, err
	}

	delay := cfg.Settlement.MaturationDelay
	cart := redisStorage.NewCartStore(rdb)
	auditSvc := service.NewAuditService(st.audit, logger.Component(log, "audit"))
	a.closers = append(a.closers, auditSvc.Close)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	ledgerSvc := service.NewLedgerService(
		st.wallets, st.orders, st.transactor,
		cfg.Settlement.Currency, delay, ledgerMetrics,
		logger.Component(log, "ledger"),
	)
	orderSvc := service.NewOrderService(
		st.orders, st.products, st.vendors, cart, st.transactor,
		gw, ledgerSvc, publisher, pricing, delay,
		logger.Component(log, "orders"),
	)
	paymentSvc := service.NewPaymentService(
		st.orders, ledgerSvc, gw, st.transactor, auditSvc, publisher, delay,
		logger.Component(log, "payments"),
	)
	payoutSvc := service.NewPayoutService(
		st.payouts, st.methods, ledgerSvc, gw, encSvc, st.transactor, publisher, payoutPolicy,
		logger.Component(log, "payouts"),
	)
	webhookSvc := service.NewWebhookService(
		verifier, redisStorage.NewEventDedupCache(rdb), st.events,
		st.orders, st.payouts, ledgerSvc, st.transactor, auditSvc, publisher,
		delay, cfg.Gateway.EventTTL,
		logger.Component(log, "webhooks"),
	)
	vendorSvc := service.NewVendorService(st.methods, encSvc, logger.Component(log, "vendors"))
	reportingSvc := service.NewReportingService(st.wallets, cfg.Settlement.Currency)

	a.Router = httpHandler.SetupRouter(httpHandler.RouterDeps{
		OrderSvc:        orderSvc,
		PaymentSvc:      paymentSvc,
		WebhookSvc:      webhookSvc,
		LedgerSvc:       ledgerSvc,
		PayoutSvc:       payoutSvc,
		VendorSvc:       vendorSvc,
		ReportingSvc:    reportingSvc,
		TokenSvc:        tokenSvc,
		SignatureHeader: verifier.SignatureHeader(),
		RateLimitStore:  redisStorage.NewRateLimitStore(rdb),
		HealthCheckers:  checkers,
		AuditSvc:        auditSvc,
		Metrics:         a.Registry,
		Mode:            cfg.Server.Mode,
		Logger:          log,
	})

	cronLog := logger.Component(log, "cron")
	a.Cron, err = cron.NewService(cron.ServiceParams{
		Registry: cron.NewRegistry(
			cron.NewOrderExpiryJob(orderSvc, cfg.Cron.BatchSize, cronLog),
			cron.NewWalletMaturationJob(ledgerSvc, cfg.Cron.BatchSize, cronLog),
			cron.NewPayoutDispatchJob(payoutSvc, cfg.Cron.BatchSize, cronLog),
		),
		Lock:     redisStorage.NewLock(rdb),
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
		LockTTL:  cfg.Cron.LockTTL,
		Log:      cronLog,
	})
	if err != nil {
		return nil, fmt.Errorf("init cron: %w", err)
	}

	a.Tokens = tokenSvc
	a.Cart = cart
	a.Products = st.products
	a.Vendors = st.vendors
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	cfg := a.Config
	if cfg.Storage.Driver == "memory" {
		a.log.Warn().Msg("using in-memory storage; state is lost on exit")
		m := memory.NewStore()
		return &stores{
			products:   m.Products(),
			vendors:    m.Vendors(),
			methods:    m.PaymentMethods(),
			orders:     m.Orders(),
			wallets:    m.Wallets(),
			payouts:    m.Payouts(),
			events:     m.WebhookEvents(),
			audit:      m.Audit(),
			transactor: m,
			health:     m,
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, a.log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if cfg.Storage.AutoMigrate {
		if err := migrate.Up(ctx, pgStorage.OpenSQLDB(pool)); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		a.log.Info().Msg("migrations applied")
	}

	return &stores{
		products:   pgStorage.NewProductRepo(pool),
		vendors:    pgStorage.NewVendorRepo(pool),
		methods:    pgStorage.NewPaymentMethodRepo(pool),
		orders:     pgStorage.NewOrderRepo(pool),
		wallets:    pgStorage.NewWalletRepo(pool),
		payouts:    pgStorage.NewPayoutRepo(pool),
		events:     pgStorage.NewWebhookEventRepo(pool),
		audit:      pgStorage.NewAuditRepository(pool),
		transactor: pgStorage.NewTransactor(pool, cfg.Database.TxMaxRetries, cfg.Database.TxRetryBackoff),
		health:     pgStorage.NewHealthCheck(pool),
	}, nil
}

// openGateway returns the outbound gateway (wrapped with retries) and the
// webhook verifier of the same provider.
func (a *App) openGateway(m *metrics.GatewayMetrics) (ports.PaymentGateway, ports.WebhookVerifier, error) {
	cfg := a.Config.Gateway
	gwLog := logger.Component(a.log, "gateway")

	switch cfg.Provider {
	case "stripe":
		sg, err := stripegw.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("init stripe gateway: %w", err)
		}
		return gateway.NewRetryingGateway(sg, cfg, m, gwLog), sg, nil
	default:
		a.Sandbox = sandbox.New(cfg.WebhookSecret)
		return gateway.NewRetryingGateway(a.Sandbox, cfg, m, gwLog), a.Sandbox, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
