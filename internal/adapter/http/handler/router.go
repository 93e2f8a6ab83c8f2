package handler

import (
	"marketplace-settlement/internal/adapter/http/middleware"
	"marketplace-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	OrderSvc        ports.OrderService
	PaymentSvc      ports.PaymentService
	WebhookSvc      ports.WebhookService
	LedgerSvc       ports.LedgerService
	PayoutSvc       ports.PayoutService
	VendorSvc       ports.VendorService
	ReportingSvc    ports.ReportingService
	TokenSvc        ports.TokenService
	SignatureHeader string               // webhook signature header of the configured gateway
	RateLimitStore  ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	AuditSvc        ports.AuditService  // nil = audit logging disabled
	Metrics         prometheus.Gatherer // nil = no /metrics endpoint
	Mode            string
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	// --- Public, signature-authenticated ---
	paymentHandler := NewPaymentHandler(deps.PaymentSvc, deps.WebhookSvc, deps.SignatureHeader, deps.Logger)
	v1.POST("/payments/webhook", rl("webhook"), paymentHandler.Webhook)

	// --- Customer ---
	customer := v1.Group("", jwtAuth, middleware.RequireRole(ports.RoleCustomer))
	orderHandler := NewOrderHandler(deps.OrderSvc)
	{
		customer.POST("/orders", rl("checkout"), orderHandler.Checkout)
		customer.GET("/orders/:id", orderHandler.GetOrder)
		customer.POST("/payments/intent", rl("payments"), paymentHandler.CreateIntent)
		customer.POST("/payments/confirm", rl("payments"), paymentHandler.Confirm)
	}

	// --- Vendor ---
	vendorHandler := NewVendorHandler(deps.ReportingSvc, deps.VendorSvc, deps.OrderSvc, deps.PayoutSvc)
	vendor := v1.Group("/vendor", jwtAuth, middleware.RequireRole(ports.RoleVendor), rl("vendor"))
	{
		vendor.GET("/wallet", vendorHandler.GetWallet)
		vendor.GET("/wallet/entries", vendorHandler.ListEntries)
		vendor.POST("/payment-methods", vendorHandler.AddPaymentMethod)
		vendor.GET("/payment-methods", vendorHandler.ListPaymentMethods)
		vendor.PUT("/sub-orders/:id/status", vendorHandler.UpdateSubOrderStatus)
		vendor.POST("/payouts", rl("payouts"), vendorHandler.RequestPayout)
		vendor.GET("/payouts", vendorHandler.ListPayouts)
		vendor.DELETE("/payouts/:id", vendorHandler.CancelPayout)
	}

	// --- Admin ---
	adminHandler := NewAdminHandler(deps.PayoutSvc, deps.VendorSvc, deps.LedgerSvc)
	admin := v1.Group("/admin", jwtAuth, middleware.RequireRole(ports.RoleAdmin), rl("admin"))
	{
		admin.PUT("/payouts/:id", adminHandler.PayoutAction)
		admin.POST("/payouts/:id/process", adminHandler.ProcessPayout)
		admin.POST("/payment-methods/:id/verify", adminHandler.VerifyPaymentMethod)
		admin.POST("/wallets/:vendor_id/mature", adminHandler.MatureWallet)
	}

	return r
}
