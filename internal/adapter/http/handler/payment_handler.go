package handler

import (
	"io"

	"marketplace-settlement/internal/adapter/http/dto"
	"marketplace-settlement/internal/adapter/http/middleware"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"
	"marketplace-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaymentHandler handles payment intent, confirmation and gateway webhooks.
type PaymentHandler struct {
	paymentSvc      ports.PaymentService
	webhookSvc      ports.WebhookService
	signatureHeader string
	log             zerolog.Logger
}

// NewPaymentHandler creates a new PaymentHandler. signatureHeader names the
// header the configured gateway signs its webhooks in.
func NewPaymentHandler(paymentSvc ports.PaymentService, webhookSvc ports.WebhookService, signatureHeader string, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentSvc:      paymentSvc,
		webhookSvc:      webhookSvc,
		signatureHeader: signatureHeader,
		log:             log,
	}
}

func bindOrderRequest(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	customerID, ok := middleware.ActorID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, uuid.Nil, false
	}

	var req dto.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return uuid.Nil, uuid.Nil, false
	}
	return customerID, orderID, true
}

// CreateIntent handles POST /api/v1/payments/intent.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	customerID, orderID, ok := bindOrderRequest(c)
	if !ok {
		return
	}

	intent, err := h.paymentSvc.CreateIntent(c.Request.Context(), customerID, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.IntentResponse{
		IntentRef:    intent.Ref,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		Amount:       intent.Amount,
	})
}

// Confirm handles POST /api/v1/payments/confirm.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	customerID, orderID, ok := bindOrderRequest(c)
	if !ok {
		return
	}

	order, err := h.paymentSvc.ConfirmPayment(c.Request.Context(), customerID, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, order)
}

// Webhook handles POST /api/v1/payments/webhook. The gateway always gets
// 200 {received: true}; rejected signatures and processing failures are
// logged and audited on this side only.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook body unreadable")
		c.JSON(200, dto.WebhookAck{Received: true})
		return
	}

	result, err := h.webhookSvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader(h.signatureHeader))
	if err != nil {
		ev := h.log.Error()
		if apperror.HasCode(err, "SEC_002") {
			ev = h.log.Warn()
		}
		ev.Err(err).Msg("webhook not applied")
	} else {
		h.log.Debug().Str("result", string(result)).Msg("webhook handled")
	}

	c.JSON(200, dto.WebhookAck{Received: true})
}
