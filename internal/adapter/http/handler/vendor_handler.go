package handler

import (
	"time"

	"marketplace-settlement/internal/adapter/http/dto"
	"marketplace-settlement/internal/adapter/http/middleware"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"
	"marketplace-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// VendorHandler serves the vendor-facing wallet, payment method,
// fulfillment and payout endpoints.
type VendorHandler struct {
	reportingSvc ports.ReportingService
	vendorSvc    ports.VendorService
	orderSvc     ports.OrderService
	payoutSvc    ports.PayoutService
}

// NewVendorHandler creates a new VendorHandler.
func NewVendorHandler(
	reportingSvc ports.ReportingService,
	vendorSvc ports.VendorService,
	orderSvc ports.OrderService,
	payoutSvc ports.PayoutService,
) *VendorHandler {
	return &VendorHandler{
		reportingSvc: reportingSvc,
		vendorSvc:    vendorSvc,
		orderSvc:     orderSvc,
		payoutSvc:    payoutSvc,
	}
}

func vendorID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.ActorID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
	}
	return id, ok
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func bindPage(c *gin.Context) (dto.PageQuery, bool) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return q, false
	}
	q.Normalize()
	return q, true
}

// GetWallet handles GET /api/v1/vendor/wallet.
func (h *VendorHandler) GetWallet(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}

	wallet, err := h.reportingSvc.GetWallet(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, wallet)
}

// ListEntries handles GET /api/v1/vendor/wallet/entries.
func (h *VendorHandler) ListEntries(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}

	entries, total, err := h.reportingSvc.ListEntries(c.Request.Context(), id, q.Page, q.PageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []domain.WalletEntry{}
	}

	response.OK(c, dto.NewListResponse(entries, total, q))
}

// AddPaymentMethod handles POST /api/v1/vendor/payment-methods.
func (h *VendorHandler) AddPaymentMethod(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}

	var req dto.AddPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return
	}
	methodType, err := domain.ParsePaymentMethodType(req.Type)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	method, err := h.vendorSvc.AddPaymentMethod(c.Request.Context(), id, methodType, req.Destination)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditTarget, method.ID.String())
	response.Created(c, toPaymentMethodResponse(method))
}

// ListPaymentMethods handles GET /api/v1/vendor/payment-methods.
func (h *VendorHandler) ListPaymentMethods(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}

	methods, err := h.vendorSvc.ListPaymentMethods(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentMethodResponse, 0, len(methods))
	for i := range methods {
		items = append(items, toPaymentMethodResponse(&methods[i]))
	}
	response.OK(c, items)
}

// UpdateSubOrderStatus handles PUT /api/v1/vendor/sub-orders/:id/status.
func (h *VendorHandler) UpdateSubOrderStatus(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}
	subID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.SubOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return
	}
	status, err := domain.ParseSubOrderStatus(req.Status)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	sub, err := h.orderSvc.UpdateSubOrderStatus(c.Request.Context(), id, subID, status)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, sub)
}

// RequestPayout handles POST /api/v1/vendor/payouts.
func (h *VendorHandler) RequestPayout(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}

	var req dto.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return
	}
	methodID, err := uuid.Parse(req.PaymentMethodID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment_method_id"))
		return
	}

	payout, err := h.payoutSvc.Request(c.Request.Context(), id, req.Amount, methodID)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditTarget, payout.ID.String())
	response.Created(c, payout)
}

// ListPayouts handles GET /api/v1/vendor/payouts.
func (h *VendorHandler) ListPayouts(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}

	payouts, total, err := h.payoutSvc.List(c.Request.Context(), id, q.PageSize, q.Offset())
	if err != nil {
		response.Error(c, err)
		return
	}
	if payouts == nil {
		payouts = []domain.PayoutRequest{}
	}

	response.OK(c, dto.NewListResponse(payouts, total, q))
}

// CancelPayout handles DELETE /api/v1/vendor/payouts/:id.
func (h *VendorHandler) CancelPayout(c *gin.Context) {
	id, ok := vendorID(c)
	if !ok {
		return
	}
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutSvc.Cancel(c.Request.Context(), id, payoutID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, payout)
}

func toPaymentMethodResponse(m *domain.PaymentMethod) dto.PaymentMethodResponse {
	resp := dto.PaymentMethodResponse{
		ID:          m.ID.String(),
		Type:        string(m.Type),
		Destination: m.Masked(),
		Verified:    m.Verified,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
	}
	if m.VerifiedAt != nil {
		s := m.VerifiedAt.Format(time.RFC3339)
		resp.VerifiedAt = &s
	}
	return resp
}
