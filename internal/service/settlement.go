package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// paymentSettler applies a gateway payment outcome to a locked order. It is
// shared by synchronous confirmation and webhook reconciliation so both
// paths settle an order exactly the same way.
type paymentSettler struct {
	orderRepo    ports.OrderRepository
	ledger       ports.LedgerService
	matureInline bool
	log          zerolog.Logger
}

func newPaymentSettler(orderRepo ports.OrderRepository, ledger ports.LedgerService, maturationDelay time.Duration, log zerolog.Logger) *paymentSettler {
	return &paymentSettler{
		orderRepo:    orderRepo,
		ledger:       ledger,
		matureInline: maturationDelay <= 0,
		log:          log,
	}
}

// succeededTx marks order paid and credits every vendor's earnings. The
// caller must hold the order row lock. A payment for a cancelled order is
// reported as an anomaly and credits nothing.
func (p *paymentSettler) succeededTx(ctx context.Context, tx pgx.Tx, order *domain.Order, transactionID string) (domain.WebhookResult, []domain.SettlementEvent, error) {
	if order.Status == domain.OrderStatusCancelled {
		p.log.Error().
			Str("order_id", order.ID.String()).
			Str("transaction_id", transactionID).
			Msg("payment succeeded for cancelled order")
		return domain.WebhookResultAnomaly, nil, nil
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return domain.WebhookResultNoop, nil, nil
	}

	now := time.Now().UTC()
	order.PaymentStatus = domain.PaymentStatusPaid
	if order.Status.CanTransition(domain.OrderStatusProcessing) {
		order.Status = domain.OrderStatusProcessing
	}
	order.PaidAt = &now
	if transactionID != "" {
		order.GatewayTransactionID = &transactionID
	}
	if err := p.orderRepo.Update(ctx, tx, order); err != nil {
		return "", nil, fmt.Errorf("mark order paid: %w", err)
	}

	subs, err := p.orderRepo.SubOrdersForUpdate(ctx, tx, order.ID)
	if err != nil {
		return "", nil, fmt.Errorf("lock sub-orders: %w", err)
	}

	credits := make([]ports.LedgerCredit, 0, len(subs))
	for _, sub := range subs {
		if sub.CreditedAt != nil {
			continue
		}
		credits = append(credits, ports.LedgerCredit{
			VendorID: sub.VendorID,
			Amount:   sub.VendorEarnings,
			Bucket:   domain.BucketPending,
			Ref:      ports.LedgerRef{Type: domain.ReferenceSubOrder, ID: sub.ID.String()},
		})
	}
	if err := p.ledger.CreditManyTx(ctx, tx, credits); err != nil {
		return "", nil, err
	}

	for i := range subs {
		if subs[i].CreditedAt != nil {
			continue
		}
		subs[i].CreditedAt = &now
		if p.matureInline {
			if _, err := p.ledger.MatureSubOrderTx(ctx, tx, &subs[i]); err != nil {
				return "", nil, err
			}
			continue
		}
		if err := p.orderRepo.UpdateSubOrder(ctx, tx, &subs[i]); err != nil {
			return "", nil, fmt.Errorf("stamp sub-order credited: %w", err)
		}
	}

	ev := domain.NewSettlementEvent(domain.EventOrderPaid, order.ID)
	ev.Amount = order.Total
	ev.Currency = order.Currency
	return domain.WebhookResultApplied, []domain.SettlementEvent{ev}, nil
}

// failedTx moves an order awaiting payment to failed. Paid orders are never
// overwritten.
func (p *paymentSettler) failedTx(ctx context.Context, tx pgx.Tx, order *domain.Order, reason string) (domain.WebhookResult, []domain.SettlementEvent, error) {
	if !order.IsAwaitingPayment() {
		return domain.WebhookResultNoop, nil, nil
	}
	order.PaymentStatus = domain.PaymentStatusFailed
	if err := p.orderRepo.Update(ctx, tx, order); err != nil {
		return "", nil, fmt.Errorf("mark order payment failed: %w", err)
	}
	p.log.Info().
		Str("order_id", order.ID.String()).
		Str("reason", reason).
		Msg("order payment failed")

	ev := domain.NewSettlementEvent(domain.EventOrderPaymentFail, order.ID)
	ev.Amount = order.Total
	ev.Currency = order.Currency
	return domain.WebhookResultApplied, []domain.SettlementEvent{ev}, nil
}

// payoutSettler finishes a payout and settles its wallet reservation in the
// caller's transaction. The caller must hold the payout row lock.
type payoutSettler struct {
	payoutRepo ports.PayoutRepository
	ledger     ports.LedgerService
}

func (p *payoutSettler) completeTx(ctx context.Context, tx pgx.Tx, payout *domain.PayoutRequest, transferRef string) (domain.SettlementEvent, error) {
	if !payout.Status.CanTransition(domain.PayoutStatusCompleted) {
		return domain.SettlementEvent{}, invalidPayoutTransition(payout, domain.PayoutStatusCompleted)
	}
	ref := ports.LedgerRef{Type: domain.ReferencePayout, ID: payout.ID.String()}
	if _, err := p.ledger.SettleReservationTx(ctx, tx, payout.VendorID, payout.RequestedAmount, domain.OutcomeCompleted, ref); err != nil {
		return domain.SettlementEvent{}, err
	}

	now := time.Now().UTC()
	payout.Status = domain.PayoutStatusCompleted
	payout.CompletedAt = &now
	payout.LastFailureReason = nil
	if transferRef != "" {
		payout.TransactionReference = &transferRef
	}
	if err := p.payoutRepo.Update(ctx, tx, payout); err != nil {
		return domain.SettlementEvent{}, fmt.Errorf("complete payout: %w", err)
	}
	return payoutEvent(domain.EventPayoutCompleted, payout), nil
}

// releaseTx ends a payout as rejected or cancelled and returns the reserved
// amount to the available balance.
func (p *payoutSettler) releaseTx(ctx context.Context, tx pgx.Tx, payout *domain.PayoutRequest, to domain.PayoutStatus, reason string) (domain.SettlementEvent, error) {
	if !payout.Status.CanTransition(to) {
		return domain.SettlementEvent{}, invalidPayoutTransition(payout, to)
	}
	outcome, evType := domain.OutcomeRejected, domain.EventPayoutRejected
	if to == domain.PayoutStatusCancelled {
		outcome, evType = domain.OutcomeCancelled, domain.EventPayoutCancelled
	}

	ref := ports.LedgerRef{Type: domain.ReferencePayout, ID: payout.ID.String()}
	if _, err := p.ledger.SettleReservationTx(ctx, tx, payout.VendorID, payout.RequestedAmount, outcome, ref); err != nil {
		return domain.SettlementEvent{}, err
	}

	payout.Status = to
	if reason != "" {
		payout.RejectionReason = &reason
	}
	if err := p.payoutRepo.Update(ctx, tx, payout); err != nil {
		return domain.SettlementEvent{}, fmt.Errorf("release payout: %w", err)
	}
	return payoutEvent(evType, payout), nil
}

func payoutEvent(t domain.SettlementEventType, p *domain.PayoutRequest) domain.SettlementEvent {
	ev := domain.NewSettlementEvent(t, p.ID)
	vendorID := p.VendorID
	ev.VendorID = &vendorID
	ev.Amount = p.RequestedAmount
	ev.Currency = p.Currency
	return ev
}
