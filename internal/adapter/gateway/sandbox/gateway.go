// Package sandbox is an in-process payment gateway for development and
// tests. It keeps intents and transfers in memory, honours idempotency keys,
// and signs its webhook events the same way a real processor would.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
)

// Raw event types emitted by the sandbox.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventTransferPaid     = "transfer.paid"
	EventTransferFailed   = "transfer.failed"
)

// Transfer destinations starting with these prefixes steer the outcome.
const (
	DestinationRejectPrefix  = "reject_"
	DestinationPendingPrefix = "pending_"
)

// Gateway is the sandbox payment processor.
type Gateway struct {
	mu            sync.Mutex
	secret        string
	intents       map[string]*ports.Intent
	intentKeys    map[string]string
	transfers     map[string]*ports.Transfer
	transferKeys  map[string]string
	failNext      int
	createdCount  int
	transferCount int
	now           func() time.Time
}

// New returns a sandbox gateway signing events with webhookSecret.
func New(webhookSecret string) *Gateway {
	return &Gateway{
		secret:       webhookSecret,
		intents:      make(map[string]*ports.Intent),
		intentKeys:   make(map[string]string),
		transfers:    make(map[string]*ports.Transfer),
		transferKeys: make(map[string]string),
		now:          time.Now,
	}
}

// FailNext makes the next n calls fail with a transport error.
func (g *Gateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

// IntentsCreated counts distinct intents (idempotent replays excluded).
func (g *Gateway) IntentsCreated() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createdCount
}

// TransfersCreated counts distinct transfers.
func (g *Gateway) TransfersCreated() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transferCount
}

// takeFailure must be called with g.mu held.
func (g *Gateway) takeFailure(op string) error {
	if g.failNext > 0 {
		g.failNext--
		return fmt.Errorf("%w: sandbox %s connection reset", ports.ErrGatewayTransport, op)
	}
	return nil
}

func (g *Gateway) CreateIntent(ctx context.Context, req ports.IntentRequest) (*ports.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("create intent"); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, &ports.PermanentError{Code: "amount_too_small", Reason: "amount must be positive"}
	}
	if req.IdempotencyKey != "" {
		if ref, ok := g.intentKeys[req.IdempotencyKey]; ok {
			cp := *g.intents[ref]
			return &cp, nil
		}
	}

	ref := "pi_sbx_" + compactID()
	intent := &ports.Intent{
		Ref:          ref,
		ClientSecret: ref + "_secret_" + compactID()[:12],
		Status:       ports.IntentStatusPending,
		Amount:       req.Amount,
	}
	g.intents[ref] = intent
	if req.IdempotencyKey != "" {
		g.intentKeys[req.IdempotencyKey] = ref
	}
	g.createdCount++

	cp := *intent
	return &cp, nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, ref string) (*ports.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("retrieve intent"); err != nil {
		return nil, err
	}
	intent, ok := g.intents[ref]
	if !ok {
		return nil, &ports.PermanentError{Code: "resource_missing", Reason: "no such payment intent: " + ref}
	}
	cp := *intent
	return &cp, nil
}

func (g *Gateway) CancelIntent(ctx context.Context, ref string, idempotencyKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("cancel intent"); err != nil {
		return err
	}
	intent, ok := g.intents[ref]
	if !ok {
		return &ports.PermanentError{Code: "resource_missing", Reason: "no such payment intent: " + ref}
	}
	switch intent.Status {
	case ports.IntentStatusSucceeded:
		return &ports.PermanentError{Code: "payment_intent_unexpected_state", Reason: "intent already succeeded"}
	case ports.IntentStatusCancelled:
		return nil
	}
	intent.Status = ports.IntentStatusCancelled
	return nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, req ports.TransferRequest) (*ports.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("create transfer"); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if ref, ok := g.transferKeys[req.IdempotencyKey]; ok {
			cp := *g.transfers[ref]
			return &cp, nil
		}
	}
	if req.Amount <= 0 {
		return nil, &ports.PermanentError{Code: "amount_too_small", Reason: "amount must be positive"}
	}
	if strings.HasPrefix(req.Destination, DestinationRejectPrefix) {
		return nil, &ports.PermanentError{Code: "account_invalid", Reason: "destination account cannot receive transfers"}
	}

	status := ports.TransferStatusPaid
	if strings.HasPrefix(req.Destination, DestinationPendingPrefix) {
		status = ports.TransferStatusPending
	}
	tr := &ports.Transfer{Ref: "tr_sbx_" + compactID(), Status: status}
	g.transfers[tr.Ref] = tr
	if req.IdempotencyKey != "" {
		g.transferKeys[req.IdempotencyKey] = tr.Ref
	}
	g.transferCount++

	cp := *tr
	return &cp, nil
}

// SettleIntent plays the customer side: it marks the intent succeeded (or
// failed with reason) and returns the signed webhook the processor would send.
func (g *Gateway) SettleIntent(ref string, succeeded bool, reason string) ([]byte, string, error) {
	g.mu.Lock()
	intent, ok := g.intents[ref]
	if !ok {
		g.mu.Unlock()
		return nil, "", fmt.Errorf("sandbox: unknown intent %s", ref)
	}
	rawType := EventPaymentFailed
	if succeeded {
		intent.Status = ports.IntentStatusSucceeded
		intent.TransactionID = "ch_sbx_" + compactID()
		rawType = EventPaymentSucceeded
	} else {
		intent.Status = ports.IntentStatusFailed
		intent.FailureReason = reason
	}
	data := EventData{IntentRef: ref, TransactionID: intent.TransactionID, FailureReason: reason}
	g.mu.Unlock()

	return g.SignedEvent("evt_sbx_"+compactID(), rawType, data)
}

// SettleTransfer resolves a pending transfer and returns the signed webhook.
func (g *Gateway) SettleTransfer(ref string, paid bool, reason string) ([]byte, string, error) {
	g.mu.Lock()
	tr, ok := g.transfers[ref]
	if !ok {
		g.mu.Unlock()
		return nil, "", fmt.Errorf("sandbox: unknown transfer %s", ref)
	}
	rawType := EventTransferFailed
	if paid {
		tr.Status = ports.TransferStatusPaid
		rawType = EventTransferPaid
	} else {
		tr.Status = ports.TransferStatusFailed
		tr.FailureReason = reason
	}
	g.mu.Unlock()

	return g.SignedEvent("evt_sbx_"+compactID(), rawType, EventData{TransferRef: ref, FailureReason: reason})
}

// SignedEvent encodes an event envelope and signs it.
func (g *Gateway) SignedEvent(id, rawType string, data EventData) ([]byte, string, error) {
	payload, err := json.Marshal(envelope{ID: id, Type: rawType, Created: g.now().Unix(), Data: data})
	if err != nil {
		return nil, "", fmt.Errorf("encoding sandbox event: %w", err)
	}
	return payload, SignatureHeaderValue(g.secret, g.now(), payload), nil
}

// SignatureHeader implements ports.WebhookVerifier.
func (g *Gateway) SignatureHeader() string {
	return SignatureHeader
}

// VerifyEvent implements ports.WebhookVerifier.
func (g *Gateway) VerifyEvent(payload []byte, signature string) (*ports.GatewayEvent, error) {
	if err := VerifySignature(g.secret, payload, signature, g.now(), DefaultTolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidWebhookSignature, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding sandbox event: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("sandbox event has no id")
	}

	return &ports.GatewayEvent{
		ID:            env.ID,
		Type:          normalizeType(env.Type),
		RawType:       env.Type,
		IntentRef:     env.Data.IntentRef,
		TransferRef:   env.Data.TransferRef,
		TransactionID: env.Data.TransactionID,
		FailureReason: env.Data.FailureReason,
	}, nil
}

type envelope struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData is the object an event is about.
type EventData struct {
	IntentRef     string `json:"intent_ref,omitempty"`
	TransferRef   string `json:"transfer_ref,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func normalizeType(raw string) domain.GatewayEventType {
	switch raw {
	case EventPaymentSucceeded:
		return domain.GatewayEventPaymentSucceeded
	case EventPaymentFailed:
		return domain.GatewayEventPaymentFailed
	case EventTransferPaid:
		return domain.GatewayEventTransferPaid
	case EventTransferFailed:
		return domain.GatewayEventTransferFailed
	}
	return domain.GatewayEventUnknown
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
