// Package gateway holds the payment processor adapters and the retrying
// decorator every adapter is wrapped in.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"marketplace-settlement/config"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/metrics"
)

// Operation labels used in logs and metrics.
const (
	OpCreateIntent   = "create_intent"
	OpRetrieveIntent = "retrieve_intent"
	OpCancelIntent   = "cancel_intent"
	OpCreateTransfer = "create_transfer"
)

// RetryingGateway bounds every call with a timeout and retries transport
// failures with exponential backoff. Permanent errors are returned at once.
// Retries reuse the caller's idempotency key.
type RetryingGateway struct {
	next       ports.PaymentGateway
	timeout    time.Duration
	maxRetries uint64
	backoff    time.Duration
	metrics    *metrics.GatewayMetrics
	log        zerolog.Logger
}

// NewRetryingGateway wraps next.
func NewRetryingGateway(next ports.PaymentGateway, cfg config.GatewayConfig, m *metrics.GatewayMetrics, log zerolog.Logger) *RetryingGateway {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RetryingGateway{
		next:       next,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		metrics:    m,
		log:        log.With().Str("component", "gateway").Logger(),
	}
}

func (g *RetryingGateway) CreateIntent(ctx context.Context, req ports.IntentRequest) (*ports.Intent, error) {
	return do(ctx, g, OpCreateIntent, func(ctx context.Context) (*ports.Intent, error) {
		return g.next.CreateIntent(ctx, req)
	})
}

func (g *RetryingGateway) RetrieveIntent(ctx context.Context, ref string) (*ports.Intent, error) {
	return do(ctx, g, OpRetrieveIntent, func(ctx context.Context) (*ports.Intent, error) {
		return g.next.RetrieveIntent(ctx, ref)
	})
}

func (g *RetryingGateway) CancelIntent(ctx context.Context, ref string, idempotencyKey string) error {
	_, err := do(ctx, g, OpCancelIntent, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.CancelIntent(ctx, ref, idempotencyKey)
	})
	return err
}

func (g *RetryingGateway) CreateTransfer(ctx context.Context, req ports.TransferRequest) (*ports.Transfer, error) {
	return do(ctx, g, OpCreateTransfer, func(ctx context.Context) (*ports.Transfer, error) {
		return g.next.CreateTransfer(ctx, req)
	})
}

func do[T any](ctx context.Context, g *RetryingGateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := retry.WithMaxRetries(g.maxRetries, retry.NewExponential(g.backoff))
	attempt := 0

	return retry.DoValue(ctx, b, func(ctx context.Context) (T, error) {
		attempt++
		if attempt > 1 {
			g.metrics.IncRetry(op)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		v, err := fn(callCtx)
		elapsed := time.Since(start)

		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s timed out after %s", ports.ErrGatewayTransport, op, g.timeout)
		}

		switch {
		case err == nil:
			g.metrics.ObserveCall(op, metrics.OutcomeSuccess, elapsed)
			return v, nil
		case errors.Is(err, ports.ErrGatewayTransport):
			g.metrics.ObserveCall(op, metrics.OutcomeTransport, elapsed)
			g.log.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Msg("gateway transport failure")
			return v, retry.RetryableError(err)
		default:
			g.metrics.ObserveCall(op, metrics.OutcomePermanent, elapsed)
			return v, err
		}
	})
}
