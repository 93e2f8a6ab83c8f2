package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubOrderStatus is the vendor-scoped fulfillment lifecycle.
type SubOrderStatus string

const (
	SubOrderStatusPending    SubOrderStatus = "pending"
	SubOrderStatusConfirmed  SubOrderStatus = "confirmed"
	SubOrderStatusProcessing SubOrderStatus = "processing"
	SubOrderStatusShipped    SubOrderStatus = "shipped"
	SubOrderStatusDelivered  SubOrderStatus = "delivered"
	SubOrderStatusCancelled  SubOrderStatus = "cancelled"
)

var subOrderTransitions = transitions[SubOrderStatus]{
	SubOrderStatusPending:    {SubOrderStatusConfirmed, SubOrderStatusCancelled},
	SubOrderStatusConfirmed:  {SubOrderStatusProcessing, SubOrderStatusCancelled},
	SubOrderStatusProcessing: {SubOrderStatusShipped, SubOrderStatusCancelled},
	SubOrderStatusShipped:    {SubOrderStatusDelivered},
}

// CanTransition reports whether the sub-order may move from s to next.
func (s SubOrderStatus) CanTransition(next SubOrderStatus) bool {
	return subOrderTransitions.allows(s, next)
}

// ParseSubOrderStatus validates a raw status string.
func ParseSubOrderStatus(raw string) (SubOrderStatus, error) {
	s := SubOrderStatus(raw)
	switch s {
	case SubOrderStatusPending, SubOrderStatusConfirmed, SubOrderStatusProcessing,
		SubOrderStatusShipped, SubOrderStatusDelivered, SubOrderStatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown sub-order status %q", raw)
}

// VendorSubOrder is one vendor's share of an order. Monetary fields and the
// commission rate are snapshots taken at checkout and never change.
type VendorSubOrder struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	VendorID       uuid.UUID       `json:"vendor_id"`
	Lines          []OrderLine     `json:"lines"`
	Subtotal       int64           `json:"subtotal"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Commission     int64           `json:"commission"`
	VendorEarnings int64           `json:"vendor_earnings"`
	ShippingShare  int64           `json:"shipping_share"`
	TaxShare       int64           `json:"tax_share"`
	Status         SubOrderStatus  `json:"status"`
	CreditedAt     *time.Time      `json:"credited_at,omitempty"`
	MaturedAt      *time.Time      `json:"matured_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CheckConservation verifies commission + earnings == subtotal == Σ lines.
func (s *VendorSubOrder) CheckConservation() error {
	var sum int64
	for _, l := range s.Lines {
		sum += l.LineTotal()
	}
	if sum != s.Subtotal {
		return fmt.Errorf("sub-order %s: subtotal %d != line sum %d", s.ID, s.Subtotal, sum)
	}
	if s.Commission+s.VendorEarnings != s.Subtotal {
		return fmt.Errorf("sub-order %s: commission %d + earnings %d != subtotal %d",
			s.ID, s.Commission, s.VendorEarnings, s.Subtotal)
	}
	return nil
}

// RollUpOrderStatus derives the parent order status from its sub-orders.
// It returns ok=false when the sub-orders do not imply a change.
func RollUpOrderStatus(subs []VendorSubOrder) (OrderStatus, bool) {
	if len(subs) == 0 {
		return "", false
	}
	var delivered, cancelled, shipped int
	for _, s := range subs {
		switch s.Status {
		case SubOrderStatusDelivered:
			delivered++
		case SubOrderStatusCancelled:
			cancelled++
		case SubOrderStatusShipped:
			shipped++
		}
	}
	switch {
	case cancelled == len(subs):
		return OrderStatusCancelled, true
	case delivered+cancelled == len(subs):
		return OrderStatusDelivered, true
	case shipped > 0 || delivered > 0:
		return OrderStatusShipped, true
	}
	return "", false
}
