package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the fulfillment lifecycle of a whole order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = transitions[OrderStatus]{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransition reports whether the order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return orderTransitions.allows(s, next)
}

// IsValid reports whether s is a known order status.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the gateway side of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// paid and failed never revert; refunded is reachable only from paid.
var paymentTransitions = transitions[PaymentStatus]{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransition reports whether the payment status may move from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	return paymentTransitions.allows(s, next)
}

// OrderLine is a snapshot of one cart line at checkout.
type OrderLine struct {
	ProductID uuid.UUID `json:"product_id"`
	VendorID  uuid.UUID `json:"vendor_id"`
	UnitPrice int64     `json:"unit_price"`
	Quantity  int64     `json:"quantity"`
}

// LineTotal returns UnitPrice * Quantity.
func (l OrderLine) LineTotal() int64 {
	return l.UnitPrice * l.Quantity
}

// Order is one checkout. Money is in minor units.
type Order struct {
	ID                   uuid.UUID     `json:"id"`
	OrderNumber          string        `json:"order_number"`
	CustomerID           uuid.UUID     `json:"customer_id"`
	Lines                []OrderLine   `json:"lines"`
	Subtotal             int64         `json:"subtotal"`
	ShippingCost         int64         `json:"shipping_cost"`
	Tax                  int64         `json:"tax"`
	Total                int64         `json:"total"`
	Currency             string        `json:"currency"`
	Status               OrderStatus   `json:"status"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	PaymentMethod        string        `json:"payment_method"`
	PaymentIntentRef     *string       `json:"payment_intent_ref,omitempty"`
	GatewayTransactionID *string       `json:"gateway_transaction_id,omitempty"`
	PaidAt               *time.Time    `json:"paid_at,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// IsImmutable returns true once the order is delivered or cancelled.
func (o *Order) IsImmutable() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}

// IsAwaitingPayment returns true while the gateway has not settled the order.
func (o *Order) IsAwaitingPayment() bool {
	return o.PaymentStatus == PaymentStatusPending && o.Status != OrderStatusCancelled
}

// CheckTotals verifies subtotal == Σ(price × qty) and total == subtotal + shipping + tax.
func (o *Order) CheckTotals() error {
	var sum int64
	for _, l := range o.Lines {
		sum += l.LineTotal()
	}
	if sum != o.Subtotal {
		return fmt.Errorf("order %s: subtotal %d != line sum %d", o.OrderNumber, o.Subtotal, sum)
	}
	if o.Total != o.Subtotal+o.ShippingCost+o.Tax {
		return fmt.Errorf("order %s: total %d != %d + %d + %d", o.OrderNumber, o.Total, o.Subtotal, o.ShippingCost, o.Tax)
	}
	return nil
}
