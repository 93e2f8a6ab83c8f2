package domain

import (
	"time"
)

// GatewayEventType is the normalized kind of a gateway notification.
type GatewayEventType string

const (
	GatewayEventPaymentSucceeded GatewayEventType = "payment_succeeded"
	GatewayEventPaymentFailed    GatewayEventType = "payment_failed"
	GatewayEventTransferPaid     GatewayEventType = "transfer_paid"
	GatewayEventTransferFailed   GatewayEventType = "transfer_failed"
	GatewayEventUnknown          GatewayEventType = "unknown"
)

// WebhookResult records what reconciliation did with an event.
type WebhookResult string

const (
	WebhookResultApplied WebhookResult = "applied"
	WebhookResultNoop    WebhookResult = "noop"
	WebhookResultIgnored WebhookResult = "ignored"
	WebhookResultAnomaly WebhookResult = "anomaly"
)

// WebhookEvent is the durable dedup record for a processed gateway event.
type WebhookEvent struct {
	EventID    string           `json:"event_id"`
	EventType  GatewayEventType `json:"event_type"`
	RawType    string           `json:"raw_type"`
	Reference  string           `json:"reference"` // intent or transfer ref
	Result     WebhookResult    `json:"result"`
	ReceivedAt time.Time        `json:"received_at"`
}
