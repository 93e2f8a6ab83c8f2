package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
)

// SignatureHeader is the header Stripe signs webhooks in.
const SignatureHeader = "Stripe-Signature"

// Stripe event types the reconciler understands.
const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventTransferCreated  = "transfer.created"
	eventTransferReversed = "transfer.reversed"
)

func (g *Gateway) SignatureHeader() string {
	return SignatureHeader
}

// VerifyEvent checks the Stripe signature and normalizes the event.
func (g *Gateway) VerifyEvent(payload []byte, signature string) (*ports.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidWebhookSignature, err)
	}

	out := &ports.GatewayEvent{
		ID:      event.ID,
		RawType: string(event.Type),
		Type:    domain.GatewayEventUnknown,
	}
	if event.Data == nil {
		return out, nil
	}

	switch string(event.Type) {
	case eventPaymentSucceeded, eventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decoding payment intent: %w", err)
		}
		intent := toIntent(&pi)
		out.IntentRef = pi.ID
		out.TransactionID = intent.TransactionID
		out.FailureReason = intent.FailureReason
		out.Type = domain.GatewayEventPaymentSucceeded
		if string(event.Type) == eventPaymentFailed {
			out.Type = domain.GatewayEventPaymentFailed
		}
	case eventTransferCreated, eventTransferReversed:
		var tr stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
			return nil, fmt.Errorf("decoding transfer: %w", err)
		}
		out.TransferRef = tr.ID
		out.Type = domain.GatewayEventTransferPaid
		if string(event.Type) == eventTransferReversed {
			out.Type = domain.GatewayEventTransferFailed
			out.FailureReason = "transfer reversed"
		}
	}
	return out, nil
}
