package handler

import (
	"marketplace-settlement/internal/adapter/http/dto"
	"marketplace-settlement/internal/adapter/http/middleware"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"
	"marketplace-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves payout review, payment method verification and the
// manual maturation hook used by the external risk policy.
type AdminHandler struct {
	payoutSvc ports.PayoutService
	vendorSvc ports.VendorService
	ledgerSvc ports.LedgerService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(payoutSvc ports.PayoutService, vendorSvc ports.VendorService, ledgerSvc ports.LedgerService) *AdminHandler {
	return &AdminHandler{payoutSvc: payoutSvc, vendorSvc: vendorSvc, ledgerSvc: ledgerSvc}
}

var payoutActions = map[string]domain.AuditAction{
	"review":  domain.AuditActionPayoutReview,
	"approve": domain.AuditActionPayoutApprove,
	"reject":  domain.AuditActionPayoutReject,
}

// PayoutAction handles PUT /api/v1/admin/payouts/:id.
func (h *AdminHandler) PayoutAction(c *gin.Context) {
	adminID, ok := middleware.ActorID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.PayoutActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return
	}
	dto.SanitizeStruct(&req)

	var (
		payout *domain.PayoutRequest
		err    error
	)
	ctx := c.Request.Context()
	switch req.Action {
	case "review":
		payout, err = h.payoutSvc.Review(ctx, adminID, payoutID)
	case "approve":
		payout, err = h.payoutSvc.Approve(ctx, adminID, payoutID)
	case "reject":
		payout, err = h.payoutSvc.Reject(ctx, adminID, payoutID, req.Reason)
	default:
		err = apperror.Validation("unknown action " + req.Action)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditAction, payoutActions[req.Action])
	response.OK(c, payout)
}

// ProcessPayout handles POST /api/v1/admin/payouts/:id/process. A transfer
// the gateway has accepted but not yet paid answers 202.
func (h *AdminHandler) ProcessPayout(c *gin.Context) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutSvc.Process(c.Request.Context(), payoutID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if payout.Status == domain.PayoutStatusProcessing {
		response.Accepted(c, payout)
		return
	}
	response.OK(c, payout)
}

// VerifyPaymentMethod handles POST /api/v1/admin/payment-methods/:id/verify.
func (h *AdminHandler) VerifyPaymentMethod(c *gin.Context) {
	adminID, ok := middleware.ActorID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	methodID, ok := pathID(c, "id")
	if !ok {
		return
	}

	method, err := h.vendorSvc.VerifyPaymentMethod(c.Request.Context(), adminID, methodID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentMethodResponse(method))
}

// MatureWallet handles POST /api/v1/admin/wallets/:vendor_id/mature. It
// matures whole pending sub-orders, oldest first, up to the requested amount.
func (h *AdminHandler) MatureWallet(c *gin.Context) {
	if _, ok := middleware.ActorID(c); !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	vendorID, ok := pathID(c, "vendor_id")
	if !ok {
		return
	}

	var req dto.MatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.DescribeBindError(err)))
		return
	}

	matured, err := h.ledgerSvc.MatureVendor(c.Request.Context(), vendorID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.MaturationResponse{
		RequestedAmount: req.Amount,
		MaturedAmount:   matured.Amount,
		SubOrders:       matured.SubOrders,
		Wallet:          matured.Wallet,
	})
}
