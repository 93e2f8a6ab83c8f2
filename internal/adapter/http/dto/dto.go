package dto

import "marketplace-settlement/internal/core/domain"

// CheckoutRequest is the request body for POST /orders.
type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required,max=50,safe_id"`
}

// CheckoutResponse is the response body for a created order.
type CheckoutResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	SubOrders   int    `json:"sub_orders"`
}

// OrderRequest names the order a payment call acts on.
type OrderRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
}

// IntentResponse is returned by POST /payments/intent.
type IntentResponse struct {
	IntentRef    string `json:"intent_ref"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

// WebhookAck is the only body the gateway ever sees.
type WebhookAck struct {
	Received bool `json:"received"`
}

// AddPaymentMethodRequest registers a payout destination.
type AddPaymentMethodRequest struct {
	Type        string `json:"type" binding:"required,oneof=bank_transfer mobile_wallet gateway_account"`
	Destination string `json:"destination" binding:"required,min=4,max=128,destination"`
}

// PaymentMethodResponse exposes a destination masked to its last four characters.
type PaymentMethodResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Destination string  `json:"destination"`
	Verified    bool    `json:"verified"`
	CreatedAt   string  `json:"created_at"`
	VerifiedAt  *string `json:"verified_at,omitempty"`
}

// SubOrderStatusRequest moves a vendor sub-order through fulfillment.
type SubOrderStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=confirmed processing shipped delivered cancelled"`
}

// PayoutRequest asks to withdraw Amount minor units to a verified method.
type PayoutRequest struct {
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	PaymentMethodID string `json:"payment_method_id" binding:"required,uuid"`
}

// PayoutActionRequest is the admin body for PUT /admin/payouts/:id.
type PayoutActionRequest struct {
	Action string `json:"action" binding:"required,oneof=review approve reject"`
	Reason string `json:"reason" binding:"max=500"`
}

// MatureRequest moves Amount from pending to available on a vendor wallet.
type MatureRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// MaturationResponse reports how much of the requested amount matured. Only
// whole sub-orders mature, so MaturedAmount may fall short of RequestedAmount.
type MaturationResponse struct {
	RequestedAmount int64          `json:"requested_amount"`
	MaturedAmount   int64          `json:"matured_amount"`
	SubOrders       int            `json:"sub_orders"`
	Wallet          *domain.Wallet `json:"wallet"`
}

// PageQuery is the common pagination query.
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// Normalize fills defaults for absent paging parameters.
func (q *PageQuery) Normalize() {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 20
	}
}

// Offset returns the row offset of the page.
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// ListResponse wraps a paginated list.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// NewListResponse computes the page count for total items.
func NewListResponse(items interface{}, total int64, q PageQuery) ListResponse {
	pages := 0
	if q.PageSize > 0 {
		pages = int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	}
	return ListResponse{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: pages}
}
