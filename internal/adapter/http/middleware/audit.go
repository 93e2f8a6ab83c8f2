package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type auditRoute struct {
	action   domain.AuditAction
	resource string
}

// auditedRoutes keys "METHOD pattern" to what gets recorded. An empty
// action means the handler sets it through CtxAuditAction.
var auditedRoutes = map[string]auditRoute{
	"POST /api/v1/vendor/payouts":                   {domain.AuditActionPayoutRequest, "payout"},
	"DELETE /api/v1/vendor/payouts/:id":             {domain.AuditActionPayoutCancel, "payout"},
	"POST /api/v1/vendor/payment-methods":           {domain.AuditActionMethodAdd, "payment_method"},
	"PUT /api/v1/vendor/sub-orders/:id/status":      {domain.AuditActionSubOrderStatus, "sub_order"},
	"PUT /api/v1/admin/payouts/:id":                 {"", "payout"},
	"POST /api/v1/admin/payouts/:id/process":        {domain.AuditActionPayoutProcess, "payout"},
	"POST /api/v1/admin/payment-methods/:id/verify": {domain.AuditActionMethodVerify, "payment_method"},
	"POST /api/v1/admin/wallets/:vendor_id/mature":  {domain.AuditActionWalletMature, "wallet"},
}

func lookupAuditRoute(method, pattern string) (auditRoute, bool) {
	r, ok := auditedRoutes[method+" "+pattern]
	return r, ok
}

// AuditLog records successful writes on the routes in auditedRoutes, after
// the handler has run. Handlers may name the resource they created through
// CtxAuditTarget; otherwise the :id or :vendor_id path parameter is used.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}
		route, ok := lookupAuditRoute(c.Request.Method, c.FullPath())
		if !ok {
			return
		}
		if a, ok := c.Value(CtxAuditAction).(domain.AuditAction); ok {
			route.action = a
		}
		if route.action == "" {
			return
		}

		target := c.GetString(CtxAuditTarget)
		for _, p := range []string{"id", "vendor_id"} {
			if target != "" {
				break
			}
			target = c.Param(p)
		}

		entry := &domain.AuditLog{
			ID:           uuid.New(),
			Action:       route.action,
			ResourceType: route.resource,
			ResourceID:   target,
			IPAddress:    c.ClientIP(),
			CreatedAt:    time.Now().UTC(),
		}
		if id, ok := ActorID(c); ok {
			entry.ActorID = &id
		}
		details, _ := json.Marshal(struct {
			Method    string `json:"method"`
			Path      string `json:"path"`
			Status    int    `json:"status"`
			Role      string `json:"role,omitempty"`
			RequestID string `json:"request_id,omitempty"`
		}{c.Request.Method, c.Request.URL.Path, status, c.GetString(CtxRole), c.GetString(CtxRequestID)})
		entry.Details = string(details)

		auditSvc.Log(c.Request.Context(), entry)
	}
}
