// Package stripe adapts Stripe payment intents, connected-account transfers
// and signed webhooks to ports.PaymentGateway.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/transfer"

	"marketplace-settlement/config"
	"marketplace-settlement/internal/core/ports"
)

var errAPIKeyRequired = errors.New("stripe api key is required")

// API is the subset of stripe-go the adapter calls.
type API interface {
	NewPaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	NewTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error)
}

type resourceAPI struct{}

func (resourceAPI) NewPaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return paymentintent.New(params)
}

func (resourceAPI) GetPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return paymentintent.Get(id, params)
}

func (resourceAPI) CancelPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return paymentintent.Cancel(id, params)
}

func (resourceAPI) NewTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error) {
	params.Context = ctx
	return transfer.New(params)
}

// Gateway implements ports.PaymentGateway and ports.WebhookVerifier on Stripe.
type Gateway struct {
	api           API
	webhookSecret string
}

// New initializes the Stripe SDK with the configured key.
func New(cfg config.GatewayConfig) (*Gateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	stripe.Key = apiKey
	return NewWithAPI(resourceAPI{}, cfg.WebhookSecret), nil
}

// NewWithAPI builds a gateway over an explicit API implementation.
func NewWithAPI(api API, webhookSecret string) *Gateway {
	return &Gateway{api: api, webhookSecret: strings.TrimSpace(webhookSecret)}
}

func (g *Gateway) CreateIntent(ctx context.Context, req ports.IntentRequest) (*ports.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.NewPaymentIntent(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return toIntent(pi), nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, ref string) (*ports.Intent, error) {
	pi, err := g.api.GetPaymentIntent(ctx, ref, &stripe.PaymentIntentParams{})
	if err != nil {
		return nil, classify(err)
	}
	return toIntent(pi), nil
}

func (g *Gateway) CancelIntent(ctx context.Context, ref string, idempotencyKey string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	if _, err := g.api.CancelPaymentIntent(ctx, ref, params); err != nil {
		return classify(err)
	}
	return nil
}

// CreateTransfer moves funds to a connected account. Stripe transfers
// settle synchronously; a reversal arrives later as transfer.reversed.
func (g *Gateway) CreateTransfer(ctx context.Context, req ports.TransferRequest) (*ports.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	tr, err := g.api.NewTransfer(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	out := &ports.Transfer{Ref: tr.ID, Status: ports.TransferStatusPaid}
	if tr.Reversed {
		out.Status = ports.TransferStatusFailed
		out.FailureReason = "transfer reversed"
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *ports.Intent {
	out := &ports.Intent{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Status:       ports.IntentStatusPending,
	}
	if pi.LatestCharge != nil {
		out.TransactionID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = ports.IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		out.Status = ports.IntentStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A failed attempt drops the intent back to requires_payment_method.
		if pi.LastPaymentError != nil {
			out.Status = ports.IntentStatusFailed
		}
	}
	return out
}

// classify splits Stripe errors into transport (retry) and permanent.
// Rate limits, 5xx and errors without an HTTP status are transport.
func classify(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ports.ErrGatewayTransport, err)
	}

	if se.HTTPStatusCode == 0 || se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: stripe %d: %s", ports.ErrGatewayTransport, se.HTTPStatusCode, se.Msg)
	}

	code := string(se.Code)
	if code == "" {
		code = string(se.Type)
	}
	return &ports.PermanentError{Code: code, Reason: se.Msg}
}
