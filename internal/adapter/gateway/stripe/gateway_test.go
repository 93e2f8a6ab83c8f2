package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"marketplace-settlement/config"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
)

const testWebhookSecret = "whsec_test_secret"

type fakeAPI struct {
	intentParams   *stripe.PaymentIntentParams
	cancelParams   *stripe.PaymentIntentCancelParams
	transferParams *stripe.TransferParams

	intent   *stripe.PaymentIntent
	transfer *stripe.Transfer
	err      error
}

func (f *fakeAPI) NewPaymentIntent(_ context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.intentParams = params
	return f.intent, f.err
}

func (f *fakeAPI) GetPaymentIntent(_ context.Context, _ string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.intentParams = params
	return f.intent, f.err
}

func (f *fakeAPI) CancelPaymentIntent(_ context.Context, _ string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	f.cancelParams = params
	return f.intent, f.err
}

func (f *fakeAPI) NewTransfer(_ context.Context, params *stripe.TransferParams) (*stripe.Transfer, error) {
	f.transferParams = params
	return f.transfer, f.err
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(config.GatewayConfig{APIKey: "  "})
	assert.ErrorIs(t, err, errAPIKeyRequired)
}

func TestCreateIntent_SendsIdempotencyKeyAndMetadata(t *testing.T) {
	api := &fakeAPI{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_abc",
		Amount:       15000,
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	g := NewWithAPI(api, testWebhookSecret)

	intent, err := g.CreateIntent(context.Background(), ports.IntentRequest{
		Amount:         15000,
		Currency:       "USD",
		Metadata:       map[string]string{"order_id": "o-1"},
		IdempotencyKey: "order:o-1:intent",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", intent.Ref)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, ports.IntentStatusPending, intent.Status)

	require.NotNil(t, api.intentParams.IdempotencyKey)
	assert.Equal(t, "order:o-1:intent", *api.intentParams.IdempotencyKey)
	assert.Equal(t, "usd", *api.intentParams.Currency)
	assert.Equal(t, int64(15000), *api.intentParams.Amount)
	assert.Equal(t, "o-1", api.intentParams.Metadata["order_id"])
}

func TestRetrieveIntent_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		pi   *stripe.PaymentIntent
		want ports.IntentStatus
	}{
		{"succeeded", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, LatestCharge: &stripe.Charge{ID: "ch_1"}}, ports.IntentStatusSucceeded},
		{"canceled", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}, ports.IntentStatusCancelled},
		{"awaiting method", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, ports.IntentStatusPending},
		{"declined attempt", &stripe.PaymentIntent{
			Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
			LastPaymentError: &stripe.Error{Msg: "card declined"},
		}, ports.IntentStatusFailed},
		{"processing", &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}, ports.IntentStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithAPI(&fakeAPI{intent: tt.pi}, testWebhookSecret)
			got, err := g.RetrieveIntent(context.Background(), "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransport bool
		wantCode      string
	}{
		{"server error", &stripe.Error{HTTPStatusCode: 503, Msg: "unavailable"}, true, ""},
		{"rate limited", &stripe.Error{HTTPStatusCode: 429, Msg: "slow down"}, true, ""},
		{"no status", &stripe.Error{Msg: "connection reset"}, true, ""},
		{"network", errors.New("dial tcp: i/o timeout"), true, ""},
		{"invalid account", &stripe.Error{HTTPStatusCode: 400, Code: "account_invalid", Msg: "no such destination"}, false, "account_invalid"},
		{"card declined", &stripe.Error{HTTPStatusCode: 402, Type: stripe.ErrorTypeCard, Msg: "declined"}, false, "card_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.wantTransport {
				assert.ErrorIs(t, got, ports.ErrGatewayTransport)
				return
			}
			var perm *ports.PermanentError
			require.True(t, errors.As(got, &perm))
			assert.Equal(t, tt.wantCode, perm.Code)
		})
	}
}

func TestCreateTransfer(t *testing.T) {
	api := &fakeAPI{transfer: &stripe.Transfer{ID: "tr_1"}}
	g := NewWithAPI(api, testWebhookSecret)

	tr, err := g.CreateTransfer(context.Background(), ports.TransferRequest{
		Destination:    "acct_123",
		Amount:         980,
		Currency:       "USD",
		IdempotencyKey: "payout:p-1:transfer:1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_1", tr.Ref)
	assert.Equal(t, ports.TransferStatusPaid, tr.Status)
	assert.Equal(t, "acct_123", *api.transferParams.Destination)
	assert.Equal(t, "payout:p-1:transfer:1", *api.transferParams.IdempotencyKey)
}

func TestCreateTransfer_PermanentFailure(t *testing.T) {
	api := &fakeAPI{err: &stripe.Error{HTTPStatusCode: 400, Code: "account_invalid", Msg: "closed"}}
	g := NewWithAPI(api, testWebhookSecret)

	_, err := g.CreateTransfer(context.Background(), ports.TransferRequest{Destination: "acct_x", Amount: 1})

	var perm *ports.PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, "closed", perm.Reason)
}

func TestCancelIntent_UsesKey(t *testing.T) {
	api := &fakeAPI{intent: &stripe.PaymentIntent{ID: "pi_1"}}
	g := NewWithAPI(api, testWebhookSecret)

	require.NoError(t, g.CancelIntent(context.Background(), "pi_1", "order:o-1:cancel"))
	assert.Equal(t, "order:o-1:cancel", *api.cancelParams.IdempotencyKey)
}

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	})
	return sp.Header, sp.Payload
}

func TestVerifyEvent_PaymentSucceeded(t *testing.T) {
	g := NewWithAPI(&fakeAPI{}, testWebhookSecret)
	header, payload := signed(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "status": "succeeded", "amount": 1500, "latest_charge": "ch_9"}}
	}`)

	evt, err := g.VerifyEvent(payload, header)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, domain.GatewayEventPaymentSucceeded, evt.Type)
	assert.Equal(t, "pi_1", evt.IntentRef)
	assert.Equal(t, "ch_9", evt.TransactionID)
}

func TestVerifyEvent_TransferReversed(t *testing.T) {
	g := NewWithAPI(&fakeAPI{}, testWebhookSecret)
	header, payload := signed(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "transfer.reversed",
		"data": {"object": {"id": "tr_1", "object": "transfer", "reversed": true}}
	}`)

	evt, err := g.VerifyEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayEventTransferFailed, evt.Type)
	assert.Equal(t, "tr_1", evt.TransferRef)
}

func TestVerifyEvent_UnknownTypeAcknowledged(t *testing.T) {
	g := NewWithAPI(&fakeAPI{}, testWebhookSecret)
	header, payload := signed(t, `{"id": "evt_3", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	evt, err := g.VerifyEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayEventUnknown, evt.Type)
	assert.Equal(t, "customer.created", evt.RawType)
}

func TestVerifyEvent_BadSignature(t *testing.T) {
	g := NewWithAPI(&fakeAPI{}, "whsec_other")
	header, payload := signed(t, `{"id": "evt_4", "object": "event", "type": "payment_intent.succeeded"}`)

	_, err := g.VerifyEvent(payload, header)
	assert.ErrorIs(t, err, ports.ErrInvalidWebhookSignature)
}
