// Package middleware holds the gin middleware chain: request ids, access
// logs, panic recovery, bearer auth, rate limits, body limits and auditing.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"
	"marketplace-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID = "X-Request-ID"

	CtxActorID     = "actor_id"
	CtxRole        = "role"
	CtxRequestID   = "request_id"
	CtxAuditAction = "audit_action"
	CtxAuditTarget = "audit_target"

	maxRequestIDLen = 64
)

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// JWTAuth verifies the bearer token and stores its subject and role.
// Tokens are minted by the identity service; this side only verifies them.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, apperror.ErrInvalidToken())
			return
		}
		claims, err := tokenSvc.Validate(strings.TrimSpace(raw))
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("bearer token rejected")
			abort(c, apperror.ErrInvalidToken())
			return
		}
		c.Set(CtxActorID, claims.Subject)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// RequireRole admits only tokens carrying one of roles. It must run after JWTAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[c.GetString(CtxRole)]; !ok {
			abort(c, apperror.ErrInsufficientRole())
			return
		}
		c.Next()
	}
}

// ActorID returns the authenticated subject set by JWTAuth.
func ActorID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := c.Value(CtxActorID).(uuid.UUID)
	return id, ok
}

// RequestLogger writes one access line per request, at warn for 4xx and
// error for 5xx.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		default:
			event = log.Info()
		}
		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.String())
		}
		if actor, ok := ActorID(c); ok {
			event = event.Stringer("actor_id", actor)
		}
		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery turns a handler panic into a SYS_001 envelope.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(CtxRequestID)).
					Msg("panic recovered")
				abort(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
