package middleware

import (
	"strconv"
	"time"

	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule caps a route group at Limit requests per trailing Window.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group limits. The webhook group is
// generous because gateways burst redeliveries after an outage.
func DefaultRateLimitRules() map[string]RateLimitRule {
	perMinute := func(n int64) RateLimitRule { return RateLimitRule{Limit: n, Window: time.Minute} }
	return map[string]RateLimitRule{
		"checkout": perMinute(10),
		"payments": perMinute(30),
		"webhook":  perMinute(600),
		"vendor":   perMinute(60),
		"payouts":  perMinute(10),
		"admin":    perMinute(120),
	}
}

// RateLimiter throttles group per caller: authenticated requests by token
// subject, anonymous ones (the webhook) by client IP. When the store is
// unreachable requests pass unthrottled.
func RateLimiter(store ports.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.ClientIP()
		if id, ok := ActorID(c); ok {
			caller = id.String()
		}

		res, err := store.Allow(c.Request.Context(), caller+":"+group, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit store unavailable, request not throttled")
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))

		if !res.Allowed {
			h.Set("Retry-After", strconv.FormatInt(max(res.ResetAt-time.Now().Unix(), 1), 10))
			abort(c, apperror.ErrRateLimitExceeded())
			return
		}
		c.Next()
	}
}
