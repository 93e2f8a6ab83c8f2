package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	orderRepo  ports.OrderRepository
	gateway    ports.PaymentGateway
	transactor ports.DBTransactor
	settler    *paymentSettler
	audit      ports.AuditService
	publisher  ports.EventPublisher
	log        zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	orderRepo ports.OrderRepository,
	ledger ports.LedgerService,
	gateway ports.PaymentGateway,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	publisher ports.EventPublisher,
	maturationDelay time.Duration,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		orderRepo:  orderRepo,
		gateway:    gateway,
		transactor: transactor,
		settler:    newPaymentSettler(orderRepo, ledger, maturationDelay, log),
		audit:      audit,
		publisher:  publisher,
		log:        log,
	}
}

func (s *PaymentServiceImpl) ownedOrder(ctx context.Context, customerID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil || order.CustomerID != customerID {
		return nil, apperror.ErrNotFound("Order")
	}
	return order, nil
}

// CreateIntent returns the order's payment intent, creating it on first use.
// The gateway call is keyed by order id, so a retried request reuses the
// same intent.
func (s *PaymentServiceImpl) CreateIntent(ctx context.Context, customerID, orderID uuid.UUID) (*ports.Intent, error) {
	order, err := s.ownedOrder(ctx, customerID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsAwaitingPayment() {
		return nil, apperror.ErrOrderNotPayable(string(order.PaymentStatus))
	}

	if order.PaymentIntentRef != nil {
		intent, err := s.gateway.RetrieveIntent(ctx, *order.PaymentIntentRef)
		if err != nil {
			return nil, gatewayError(err)
		}
		return intent, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, ports.IntentRequest{
		Amount:   order.Total,
		Currency: order.Currency,
		Metadata: map[string]string{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
		},
		IdempotencyKey: domain.BuildIntentIdempotencyKey(order.ID),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("create payment intent failed")
		return nil, gatewayError(err)
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.orderRepo.GetByIDForUpdate(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if locked == nil {
			return apperror.ErrNotFound("Order")
		}
		if locked.PaymentIntentRef != nil {
			return nil
		}
		ref := intent.Ref
		locked.PaymentIntentRef = &ref
		if err := s.orderRepo.Update(ctx, tx, locked); err != nil {
			return fmt.Errorf("store intent ref: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("intent_ref", intent.Ref).
		Int64("amount", order.Total).
		Msg("payment intent created")
	return intent, nil
}

// ConfirmPayment asks the gateway for the intent's state and settles the
// order when it has succeeded. It is the synchronous twin of the webhook.
func (s *PaymentServiceImpl) ConfirmPayment(ctx context.Context, customerID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.ownedOrder(ctx, customerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}
	if !order.IsAwaitingPayment() {
		return nil, apperror.ErrOrderNotPayable(string(order.PaymentStatus))
	}
	if order.PaymentIntentRef == nil {
		return nil, apperror.ErrOrderNotPayable(string(order.PaymentStatus)).WithDetail("reason", "no payment intent")
	}

	intent, err := s.gateway.RetrieveIntent(ctx, *order.PaymentIntentRef)
	if err != nil {
		return nil, gatewayError(err)
	}
	if intent.Status != ports.IntentStatusSucceeded && intent.Status != ports.IntentStatusFailed {
		return order, nil
	}

	var (
		result domain.WebhookResult
		events []domain.SettlementEvent
	)
	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.orderRepo.GetByIDForUpdate(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if locked == nil {
			return apperror.ErrNotFound("Order")
		}
		if intent.Status == ports.IntentStatusSucceeded {
			result, events, err = s.settler.succeededTx(ctx, tx, locked, intent.TransactionID)
		} else {
			result, events, err = s.settler.failedTx(ctx, tx, locked, intent.FailureReason)
		}
		order = locked
		return err
	})
	if err != nil {
		return nil, asAppError(err)
	}

	if result == domain.WebhookResultAnomaly {
		auditPaymentAnomaly(ctx, s.audit, order, intent.Ref)
	}
	publishEvents(ctx, s.publisher, s.log, events...)

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("payment_status", string(order.PaymentStatus)).
		Str("result", string(result)).
		Msg("payment confirmed")
	return order, nil
}

func auditPaymentAnomaly(ctx context.Context, audit ports.AuditService, order *domain.Order, intentRef string) {
	if audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{
		"intent_ref":   intentRef,
		"order_status": string(order.Status),
	})
	audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionPaymentAnomaly,
		ResourceType: "order",
		ResourceID:   order.ID.String(),
		Details:      string(details),
		CreatedAt:    time.Now().UTC(),
	})
}

// gatewayError maps a gateway failure to the client-facing taxonomy.
func gatewayError(err error) error {
	var perm *ports.PermanentError
	if errors.As(err, &perm) {
		return apperror.ErrGatewayRejected(perm.Reason, err)
	}
	return apperror.ErrGatewayUnavailable(err)
}
