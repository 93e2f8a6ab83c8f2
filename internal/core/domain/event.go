package domain

import (
	"time"

	"github.com/google/uuid"
)

// SettlementEventType names an after-commit notification for downstream consumers.
type SettlementEventType string

const (
	EventOrderCreated     SettlementEventType = "order.created"
	EventOrderPaid        SettlementEventType = "order.paid"
	EventOrderPaymentFail SettlementEventType = "order.payment_failed"
	EventOrderCancelled   SettlementEventType = "order.cancelled"
	EventPayoutRequested  SettlementEventType = "payout.requested"
	EventPayoutCompleted  SettlementEventType = "payout.completed"
	EventPayoutRejected   SettlementEventType = "payout.rejected"
	EventPayoutCancelled  SettlementEventType = "payout.cancelled"
)

// SettlementEvent is published after the transaction that caused it commits.
type SettlementEvent struct {
	ID          uuid.UUID           `json:"id"`
	Type        SettlementEventType `json:"type"`
	AggregateID uuid.UUID           `json:"aggregate_id"`
	VendorID    *uuid.UUID          `json:"vendor_id,omitempty"`
	Amount      int64               `json:"amount,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// NewSettlementEvent stamps a new event.
func NewSettlementEvent(t SettlementEventType, aggregateID uuid.UUID) SettlementEvent {
	return SettlementEvent{
		ID:          uuid.New(),
		Type:        t,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
	}
}
