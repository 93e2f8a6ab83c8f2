package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
)

const testSecret = "whsec_sandbox"

func TestSign_Deterministic(t *testing.T) {
	sig1 := Sign("key", 1708092000, []byte("data"))
	sig2 := Sign("key", 1708092000, []byte("data"))

	assert.Regexp(t, `^[0-9a-f]{64}$`, sig1)
	assert.Equal(t, sig1, sig2)
	assert.NotEqual(t, sig1, Sign("key", 1708092001, []byte("data")))
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1708092000, 0)
	payload := []byte(`{"id":"evt_1"}`)
	header := SignatureHeaderValue(testSecret, now, payload)

	tests := []struct {
		name    string
		secret  string
		payload []byte
		header  string
		now     time.Time
		wantErr error
	}{
		{"valid", testSecret, payload, header, now, nil},
		{"wrong secret", "other", payload, header, now, errMismatch},
		{"tampered payload", testSecret, []byte(`{"id":"evt_2"}`), header, now, errMismatch},
		{"stale", testSecret, payload, header, now.Add(10 * time.Minute), errStaleTimestamp},
		{"garbage header", testSecret, payload, "nonsense", now, errMalformedHeader},
		{"missing v1", testSecret, payload, "t=1708092000", now, errMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, tt.payload, tt.header, tt.now, DefaultTolerance)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateIntent_Idempotent(t *testing.T) {
	g := New(testSecret)
	ctx := context.Background()
	req := ports.IntentRequest{Amount: 15000, Currency: "USD", IdempotencyKey: "order:1:intent"}

	first, err := g.CreateIntent(ctx, req)
	require.NoError(t, err)
	second, err := g.CreateIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.Equal(t, ports.IntentStatusPending, first.Status)
	assert.Equal(t, 1, g.IntentsCreated())
}

func TestCreateIntent_RejectsZeroAmount(t *testing.T) {
	g := New(testSecret)

	_, err := g.CreateIntent(context.Background(), ports.IntentRequest{Amount: 0})

	var perm *ports.PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, "amount_too_small", perm.Code)
}

func TestFailNext_TransportErrors(t *testing.T) {
	g := New(testSecret)
	g.FailNext(1)
	ctx := context.Background()

	_, err := g.CreateTransfer(ctx, ports.TransferRequest{Destination: "acct_1", Amount: 100, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ports.ErrGatewayTransport)

	tr, err := g.CreateTransfer(ctx, ports.TransferRequest{Destination: "acct_1", Amount: 100, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ports.TransferStatusPaid, tr.Status)
}

func TestCreateTransfer_DestinationOutcomes(t *testing.T) {
	g := New(testSecret)
	ctx := context.Background()

	_, err := g.CreateTransfer(ctx, ports.TransferRequest{Destination: DestinationRejectPrefix + "acct", Amount: 100})
	var perm *ports.PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, "account_invalid", perm.Code)

	tr, err := g.CreateTransfer(ctx, ports.TransferRequest{Destination: DestinationPendingPrefix + "acct", Amount: 100, IdempotencyKey: "p"})
	require.NoError(t, err)
	assert.Equal(t, ports.TransferStatusPending, tr.Status)

	again, err := g.CreateTransfer(ctx, ports.TransferRequest{Destination: DestinationPendingPrefix + "acct", Amount: 100, IdempotencyKey: "p"})
	require.NoError(t, err)
	assert.Equal(t, tr.Ref, again.Ref)
	assert.Equal(t, 1, g.TransfersCreated())
}

func TestCancelIntent(t *testing.T) {
	g := New(testSecret)
	ctx := context.Background()

	intent, err := g.CreateIntent(ctx, ports.IntentRequest{Amount: 100})
	require.NoError(t, err)
	require.NoError(t, g.CancelIntent(ctx, intent.Ref, "order:1:cancel"))
	require.NoError(t, g.CancelIntent(ctx, intent.Ref, "order:1:cancel"))

	got, err := g.RetrieveIntent(ctx, intent.Ref)
	require.NoError(t, err)
	assert.Equal(t, ports.IntentStatusCancelled, got.Status)

	paid, err := g.CreateIntent(ctx, ports.IntentRequest{Amount: 100})
	require.NoError(t, err)
	_, _, err = g.SettleIntent(paid.Ref, true, "")
	require.NoError(t, err)
	assert.Error(t, g.CancelIntent(ctx, paid.Ref, "order:2:cancel"))
}

func TestSettleIntent_ProducesVerifiableEvent(t *testing.T) {
	g := New(testSecret)
	intent, err := g.CreateIntent(context.Background(), ports.IntentRequest{Amount: 500})
	require.NoError(t, err)

	payload, header, err := g.SettleIntent(intent.Ref, true, "")
	require.NoError(t, err)

	evt, err := g.VerifyEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayEventPaymentSucceeded, evt.Type)
	assert.Equal(t, intent.Ref, evt.IntentRef)
	assert.NotEmpty(t, evt.TransactionID)
	assert.Equal(t, intent.Ref, evt.Reference())

	got, err := g.RetrieveIntent(context.Background(), intent.Ref)
	require.NoError(t, err)
	assert.Equal(t, ports.IntentStatusSucceeded, got.Status)
	assert.Equal(t, evt.TransactionID, got.TransactionID)
}

func TestVerifyEvent_RejectsForgery(t *testing.T) {
	g := New(testSecret)
	forger := New("not-the-secret")

	payload, header, err := forger.SignedEvent("evt_forged", EventPaymentSucceeded, EventData{IntentRef: "pi_x"})
	require.NoError(t, err)

	_, err = g.VerifyEvent(payload, header)
	assert.ErrorIs(t, err, ports.ErrInvalidWebhookSignature)
}

func TestVerifyEvent_UnknownType(t *testing.T) {
	g := New(testSecret)
	payload, header, err := g.SignedEvent("evt_1", "customer.created", EventData{})
	require.NoError(t, err)

	evt, err := g.VerifyEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayEventUnknown, evt.Type)
	assert.Equal(t, "customer.created", evt.RawType)
}

func TestSettleTransfer(t *testing.T) {
	g := New(testSecret)
	tr, err := g.CreateTransfer(context.Background(), ports.TransferRequest{Destination: DestinationPendingPrefix + "a", Amount: 100})
	require.NoError(t, err)

	payload, header, err := g.SettleTransfer(tr.Ref, false, "account closed")
	require.NoError(t, err)

	evt, err := g.VerifyEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayEventTransferFailed, evt.Type)
	assert.Equal(t, tr.Ref, evt.TransferRef)
	assert.Equal(t, "account closed", evt.FailureReason)
}
