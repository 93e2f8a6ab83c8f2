package ports

import (
	"context"
	"errors"
	"fmt"

	"marketplace-settlement/internal/core/domain"
)

// ErrGatewayTransport marks a gateway failure that may succeed on retry
// (timeout, connection reset, 5xx, rate limit).
var ErrGatewayTransport = errors.New("payment gateway transport failure")

// PermanentError is a gateway refusal that will not change on retry
// (invalid destination, declined, bad request).
type PermanentError struct {
	Code   string
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("payment gateway rejected request (%s): %s", e.Code, e.Reason)
}

// IntentStatus is the gateway's view of a payment intent.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
	IntentStatusCancelled IntentStatus = "cancelled"
)

// TransferStatus is the gateway's view of an outbound transfer.
type TransferStatus string

const (
	TransferStatusPending TransferStatus = "pending"
	TransferStatusPaid    TransferStatus = "paid"
	TransferStatusFailed  TransferStatus = "failed"
)

// IntentRequest asks the gateway to collect Amount from the customer.
type IntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is a created or retrieved payment intent.
type Intent struct {
	Ref           string
	ClientSecret  string
	Status        IntentStatus
	Amount        int64
	TransactionID string // charge id once captured
	FailureReason string
}

// TransferRequest asks the gateway to send Amount to Destination.
type TransferRequest struct {
	Destination    string
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Transfer is a created outbound transfer.
type Transfer struct {
	Ref           string
	Status        TransferStatus
	FailureReason string
}

// PaymentGateway is the contract the engine needs from a payment processor.
// Every call may be slow, fail, or be duplicated; mutating calls carry an
// idempotency key so a retry never charges or pays twice.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, ref string) (*Intent, error)
	CancelIntent(ctx context.Context, ref string, idempotencyKey string) error
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}

// GatewayEvent is a verified gateway notification normalized across providers.
type GatewayEvent struct {
	ID            string
	Type          domain.GatewayEventType
	RawType       string
	IntentRef     string
	TransferRef   string
	TransactionID string
	FailureReason string
}

// Reference returns the intent or transfer ref the event is about.
func (e *GatewayEvent) Reference() string {
	if e.IntentRef != "" {
		return e.IntentRef
	}
	return e.TransferRef
}

// WebhookVerifier authenticates and decodes raw gateway webhook payloads.
type WebhookVerifier interface {
	// SignatureHeader is the HTTP header carrying the signature.
	SignatureHeader() string
	// VerifyEvent returns an error wrapping ErrInvalidWebhookSignature when
	// the payload is not authentic.
	VerifyEvent(payload []byte, signature string) (*GatewayEvent, error)
}

// ErrInvalidWebhookSignature is returned for unauthenticated webhook payloads.
var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
