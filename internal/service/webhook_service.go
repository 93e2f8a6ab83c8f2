package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const defaultEventTTL = 24 * time.Hour

// webhookService implements ports.WebhookService.
//
// Dedup runs in two layers: a Redis marker skips obvious redeliveries
// cheaply, and the webhook_events row claimed inside the reconciliation
// transaction is the authoritative record. The marker is only written after
// that transaction commits, so a delivery that fails part way leaves nothing
// behind that could drop the gateway's redelivery.
type webhookService struct {
	verifier   ports.WebhookVerifier
	dedup      ports.EventDedupCache
	eventRepo  ports.WebhookEventRepository
	orderRepo  ports.OrderRepository
	payoutRepo ports.PayoutRepository
	transactor ports.DBTransactor
	payments   *paymentSettler
	payouts    *payoutSettler
	audit      ports.AuditService
	publisher  ports.EventPublisher
	eventTTL   time.Duration
	log        zerolog.Logger
}

// NewWebhookService creates a new webhook reconciler.
func NewWebhookService(
	verifier ports.WebhookVerifier,
	dedup ports.EventDedupCache,
	eventRepo ports.WebhookEventRepository,
	orderRepo ports.OrderRepository,
	payoutRepo ports.PayoutRepository,
	ledger ports.LedgerService,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	publisher ports.EventPublisher,
	maturationDelay time.Duration,
	eventTTL time.Duration,
	log zerolog.Logger,
) ports.WebhookService {
	if eventTTL <= 0 {
		eventTTL = defaultEventTTL
	}
	return &webhookService{
		verifier:   verifier,
		dedup:      dedup,
		eventRepo:  eventRepo,
		orderRepo:  orderRepo,
		payoutRepo: payoutRepo,
		transactor: transactor,
		payments:   newPaymentSettler(orderRepo, ledger, maturationDelay, log),
		payouts:    &payoutSettler{payoutRepo: payoutRepo, ledger: ledger},
		audit:      audit,
		publisher:  publisher,
		eventTTL:   eventTTL,
		log:        log,
	}
}

// HandleWebhook verifies and applies one gateway notification.
func (s *webhookService) HandleWebhook(ctx context.Context, payload []byte, signature string) (domain.WebhookResult, error) {
	event, err := s.verifier.VerifyEvent(payload, signature)
	if err != nil {
		s.log.Warn().Err(err).Int("payload_bytes", len(payload)).Msg("rejected webhook with invalid signature")
		s.auditRejected(ctx, err)
		return "", apperror.ErrInvalidSignature()
	}

	log := s.log.With().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Logger()

	// Layer 1: Redis dedup marker
	seen, err := s.dedup.Seen(ctx, event.ID)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("redis webhook dedup failed, falling through to DB")
	case seen:
		log.Debug().Msg("duplicate webhook skipped")
		return domain.WebhookResultNoop, nil
	}

	// Layer 2: durable claim inside the reconciliation transaction
	var (
		result  domain.WebhookResult
		events  []domain.SettlementEvent
		anomaly *domain.Order
	)
	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events, anomaly = nil, nil

		claimed, err := s.eventRepo.Claim(ctx, tx, &domain.WebhookEvent{
			EventID:    event.ID,
			EventType:  event.Type,
			RawType:    event.RawType,
			Reference:  event.Reference(),
			Result:     domain.WebhookResultApplied,
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("claim webhook event: %w", err)
		}
		if !claimed {
			result = domain.WebhookResultNoop
			return nil
		}

		result, events, anomaly, err = s.dispatchTx(ctx, tx, event)
		if err != nil {
			return err
		}
		if err := s.eventRepo.SetResult(ctx, tx, event.ID, result); err != nil {
			return fmt.Errorf("record webhook result: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("webhook reconciliation failed")
		return "", asAppError(err)
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.dedup.MarkSeen(ctx, event.ID, s.eventTTL); err != nil {
		log.Warn().Err(err).Msg("failed to set webhook dedup marker")
	}

	if anomaly != nil {
		auditPaymentAnomaly(ctx, s.audit, anomaly, event.IntentRef)
	}
	publishEvents(ctx, s.publisher, log, events...)

	log.Info().Str("reference", event.Reference()).Str("result", string(result)).Msg("webhook reconciled")
	return result, nil
}

func (s *webhookService) dispatchTx(ctx context.Context, tx pgx.Tx, event *ports.GatewayEvent) (domain.WebhookResult, []domain.SettlementEvent, *domain.Order, error) {
	switch event.Type {
	case domain.GatewayEventPaymentSucceeded, domain.GatewayEventPaymentFailed:
		if event.IntentRef == "" {
			return domain.WebhookResultIgnored, nil, nil, nil
		}
		order, err := s.orderRepo.GetByIntentRefForUpdate(ctx, tx, event.IntentRef)
		if err != nil {
			return "", nil, nil, fmt.Errorf("lock order by intent: %w", err)
		}
		if order == nil {
			s.log.Warn().Str("intent_ref", event.IntentRef).Msg("webhook for unknown payment intent")
			return domain.WebhookResultIgnored, nil, nil, nil
		}
		if event.Type == domain.GatewayEventPaymentFailed {
			result, events, err := s.payments.failedTx(ctx, tx, order, event.FailureReason)
			return result, events, nil, err
		}
		result, events, err := s.payments.succeededTx(ctx, tx, order, event.TransactionID)
		if result == domain.WebhookResultAnomaly {
			return result, events, order, err
		}
		return result, events, nil, err

	case domain.GatewayEventTransferPaid, domain.GatewayEventTransferFailed:
		if event.TransferRef == "" {
			return domain.WebhookResultIgnored, nil, nil, nil
		}
		payout, err := s.payoutRepo.GetByTransferRefForUpdate(ctx, tx, event.TransferRef)
		if err != nil {
			return "", nil, nil, fmt.Errorf("lock payout by transfer: %w", err)
		}
		if payout == nil {
			s.log.Warn().Str("transfer_ref", event.TransferRef).Msg("webhook for unknown transfer")
			return domain.WebhookResultIgnored, nil, nil, nil
		}
		if payout.Status != domain.PayoutStatusProcessing {
			return domain.WebhookResultNoop, nil, nil, nil
		}

		var ev domain.SettlementEvent
		if event.Type == domain.GatewayEventTransferPaid {
			ev, err = s.payouts.completeTx(ctx, tx, payout, event.TransferRef)
		} else {
			reason := event.FailureReason
			if reason == "" {
				reason = "transfer failed"
			}
			ev, err = s.payouts.releaseTx(ctx, tx, payout, domain.PayoutStatusRejected, reason)
		}
		if err != nil {
			return "", nil, nil, err
		}
		return domain.WebhookResultApplied, []domain.SettlementEvent{ev}, nil, nil
	}

	return domain.WebhookResultIgnored, nil, nil, nil
}

func (s *webhookService) auditRejected(ctx context.Context, cause error) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionWebhookRejected,
		ResourceType: "webhook",
		Details:      string(details),
		CreatedAt:    time.Now().UTC(),
	})
}
