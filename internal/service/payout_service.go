package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const defaultProcessingTimeout = 15 * time.Minute

// PayoutServiceImpl implements ports.PayoutService.
type PayoutServiceImpl struct {
	payoutRepo ports.PayoutRepository
	methodRepo ports.PaymentMethodRepository
	ledger     ports.LedgerService
	gateway    ports.PaymentGateway
	encSvc     ports.EncryptionService
	transactor ports.DBTransactor
	settler    *payoutSettler
	publisher  ports.EventPublisher
	policy     PayoutPolicy
	log        zerolog.Logger
}

// NewPayoutService creates a new PayoutServiceImpl.
func NewPayoutService(
	payoutRepo ports.PayoutRepository,
	methodRepo ports.PaymentMethodRepository,
	ledger ports.LedgerService,
	gateway ports.PaymentGateway,
	encSvc ports.EncryptionService,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	policy PayoutPolicy,
	log zerolog.Logger,
) *PayoutServiceImpl {
	return &PayoutServiceImpl{
		payoutRepo: payoutRepo,
		methodRepo: methodRepo,
		ledger:     ledger,
		gateway:    gateway,
		encSvc:     encSvc,
		transactor: transactor,
		settler:    &payoutSettler{payoutRepo: payoutRepo, ledger: ledger},
		publisher:  publisher,
		policy:     policy,
		log:        log,
	}
}

func invalidPayoutTransition(p *domain.PayoutRequest, to domain.PayoutStatus) error {
	return apperror.ErrInvalidTransition(string(p.Status), string(to))
}

// Request reserves amount from the vendor's available balance and records a
// payout in the requested state.
func (s *PayoutServiceImpl) Request(ctx context.Context, vendorID uuid.UUID, amount int64, paymentMethodID uuid.UUID) (*domain.PayoutRequest, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if amount < s.policy.Minimum {
		return nil, apperror.ErrBelowMinimumWithdrawal(s.policy.Minimum, amount)
	}

	method, err := s.methodRepo.GetByID(ctx, paymentMethodID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment method: %w", err))
	}
	if method == nil {
		return nil, apperror.ErrNotFound("Payment method")
	}
	if method.VendorID != vendorID {
		return nil, apperror.ErrForbidden()
	}
	if !method.Verified {
		return nil, apperror.ErrPaymentMethodUnverified()
	}

	fees := s.policy.Fees(amount)
	if fees.Total >= amount {
		return nil, apperror.ErrFeesExceedAmount(fees.Total, amount)
	}

	now := time.Now().UTC()
	payout := &domain.PayoutRequest{
		ID:              uuid.New(),
		VendorID:        vendorID,
		RequestedAmount: amount,
		Fees:            fees,
		NetAmount:       amount - fees.Total,
		Currency:        s.policy.Currency,
		PaymentMethodID: paymentMethodID,
		Status:          domain.PayoutStatusRequested,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ref := ports.LedgerRef{Type: domain.ReferencePayout, ID: payout.ID.String()}
		if _, err := s.ledger.ReserveTx(ctx, tx, vendorID, amount, ref); err != nil {
			return err
		}
		if err := s.payoutRepo.Create(ctx, tx, payout); err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	publishEvents(ctx, s.publisher, s.log, payoutEvent(domain.EventPayoutRequested, payout))
	s.log.Info().
		Str("payout_id", payout.ID.String()).
		Str("vendor_id", vendorID.String()).
		Int64("amount", amount).
		Int64("fees", fees.Total).
		Msg("payout requested")
	return payout, nil
}

// transition locks a payout, runs fn on it and publishes the events fn
// returns once the transaction commits.
func (s *PayoutServiceImpl) transition(ctx context.Context, payoutID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error)) (*domain.PayoutRequest, error) {
	var (
		payout *domain.PayoutRequest
		events []domain.SettlementEvent
	)
	err := s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := s.payoutRepo.GetByIDForUpdate(ctx, tx, payoutID)
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		if p == nil {
			return apperror.ErrNotFound("Payout request")
		}
		events, err = fn(ctx, tx, p)
		payout = p
		return err
	})
	if err != nil {
		return nil, asAppError(err)
	}
	publishEvents(ctx, s.publisher, s.log, events...)
	return payout, nil
}

// Cancel lets the owning vendor withdraw a payout that nobody has looked at yet.
func (s *PayoutServiceImpl) Cancel(ctx context.Context, vendorID, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := s.transition(ctx, payoutID, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
		if p.VendorID != vendorID {
			return nil, apperror.ErrForbidden()
		}
		if p.Status != domain.PayoutStatusRequested {
			return nil, invalidPayoutTransition(p, domain.PayoutStatusCancelled)
		}
		ev, err := s.settler.releaseTx(ctx, tx, p, domain.PayoutStatusCancelled, "")
		if err != nil {
			return nil, err
		}
		return []domain.SettlementEvent{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("payout_id", payoutID.String()).Msg("payout cancelled by vendor")
	return p, nil
}

// Review marks a requested payout as under review by adminID.
func (s *PayoutServiceImpl) Review(ctx context.Context, adminID, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	return s.transition(ctx, payoutID, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
		if !p.Status.CanTransition(domain.PayoutStatusUnderReview) {
			return nil, invalidPayoutTransition(p, domain.PayoutStatusUnderReview)
		}
		p.Status = domain.PayoutStatusUnderReview
		p.ReviewedBy = &adminID
		if err := s.payoutRepo.Update(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("review payout: %w", err)
		}
		return nil, nil
	})
}

// Approve clears a payout for processing. A requested payout passes through
// under_review implicitly.
func (s *PayoutServiceImpl) Approve(ctx context.Context, adminID, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	return s.transition(ctx, payoutID, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
		if p.Status == domain.PayoutStatusRequested {
			p.Status = domain.PayoutStatusUnderReview
		}
		if !p.Status.CanTransition(domain.PayoutStatusApproved) {
			return nil, invalidPayoutTransition(p, domain.PayoutStatusApproved)
		}
		p.Status = domain.PayoutStatusApproved
		p.ReviewedBy = &adminID
		if err := s.payoutRepo.Update(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("approve payout: %w", err)
		}
		s.log.Info().Str("payout_id", p.ID.String()).Str("admin_id", adminID.String()).Msg("payout approved")
		return nil, nil
	})
}

// Reject ends a payout and releases its reservation. A payout whose transfer
// is in flight cannot be rejected by an admin.
func (s *PayoutServiceImpl) Reject(ctx context.Context, adminID, payoutID uuid.UUID, reason string) (*domain.PayoutRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.Validation("rejection reason is required")
	}
	return s.transition(ctx, payoutID, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
		if p.Status == domain.PayoutStatusProcessing {
			return nil, invalidPayoutTransition(p, domain.PayoutStatusRejected)
		}
		p.ReviewedBy = &adminID
		ev, err := s.settler.releaseTx(ctx, tx, p, domain.PayoutStatusRejected, reason)
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("payout_id", p.ID.String()).Str("reason", reason).Msg("payout rejected")
		return []domain.SettlementEvent{ev}, nil
	})
}

// Process sends an approved payout to the gateway. The move to processing
// commits before the transfer call so no other worker picks the payout up;
// the outcome is applied in a second transaction that runs even when ctx is
// cancelled during the call, so a payout cannot be stranded in processing by
// a dropped request.
func (s *PayoutServiceImpl) Process(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	current, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payout: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("Payout request")
	}
	if current.Status != domain.PayoutStatusApproved {
		return nil, invalidPayoutTransition(current, domain.PayoutStatusProcessing)
	}

	method, err := s.methodRepo.GetByID(ctx, current.PaymentMethodID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get payment method: %w", err))
	}
	if method == nil {
		return nil, apperror.ErrNotFound("Payment method")
	}
	destination, err := s.encSvc.Decrypt(method.DestinationEnc, method.VendorID.String())
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	// tx1: approved -> processing
	payout, err := s.transition(ctx, payoutID, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
		if p.Status != domain.PayoutStatusApproved {
			return nil, invalidPayoutTransition(p, domain.PayoutStatusProcessing)
		}
		// A transport failure keeps the attempt number so the retry reuses the
		// transfer idempotency key and cannot pay twice.
		if p.Attempts == 0 {
			p.Attempts = 1
		}
		p.Status = domain.PayoutStatusProcessing
		if err := s.payoutRepo.Update(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("start processing payout: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	transfer, callErr := s.gateway.CreateTransfer(ctx, ports.TransferRequest{
		Destination: destination,
		Amount:      payout.NetAmount,
		Currency:    payout.Currency,
		Metadata: map[string]string{
			"payout_id": payout.ID.String(),
			"vendor_id": payout.VendorID.String(),
		},
		IdempotencyKey: domain.BuildTransferIdempotencyKey(payout.ID, payout.Attempts),
	})

	log := s.log.With().Str("payout_id", payout.ID.String()).Int("attempt", payout.Attempts).Logger()

	// tx2: apply the gateway outcome
	ctx = context.WithoutCancel(ctx)
	var perm *ports.PermanentError
	switch {
	case callErr != nil && errors.As(callErr, &perm):
		log.Warn().Err(callErr).Msg("payout transfer rejected by gateway")
		if _, err := s.finish(ctx, payoutID, domain.PayoutStatusRejected, "", perm.Reason); err != nil {
			return nil, err
		}
		return nil, apperror.ErrGatewayRejected(perm.Reason, callErr)

	case callErr != nil:
		log.Warn().Err(callErr).Msg("payout transfer failed in transport, returning to approved")
		if _, err := s.finish(ctx, payoutID, domain.PayoutStatusApproved, "", callErr.Error()); err != nil {
			return nil, err
		}
		return nil, apperror.ErrGatewayUnavailable(callErr)

	case transfer.Status == ports.TransferStatusFailed:
		reason := transfer.FailureReason
		if reason == "" {
			reason = "transfer failed"
		}
		log.Warn().Str("transfer_ref", transfer.Ref).Str("reason", reason).Msg("payout transfer failed")
		if _, err := s.finish(ctx, payoutID, domain.PayoutStatusRejected, transfer.Ref, reason); err != nil {
			return nil, err
		}
		return nil, apperror.ErrGatewayRejected(reason, nil)

	case transfer.Status == ports.TransferStatusPaid:
		p, err := s.finish(ctx, payoutID, domain.PayoutStatusCompleted, transfer.Ref, "")
		if err != nil {
			return nil, err
		}
		log.Info().Str("transfer_ref", transfer.Ref).Int64("net_amount", p.NetAmount).Msg("payout completed")
		return p, nil

	default:
		p, err := s.finish(ctx, payoutID, domain.PayoutStatusProcessing, transfer.Ref, "")
		if err != nil {
			return nil, err
		}
		log.Info().Str("transfer_ref", transfer.Ref).Msg("payout transfer pending")
		return p, nil
	}
}

// finish applies a transfer outcome to a processing payout. to is completed,
// rejected, approved (transport failure) or processing (transfer pending).
func (s *PayoutServiceImpl) finish(ctx context.Context, payoutID uuid.UUID, to domain.PayoutStatus, transferRef, reason string) (*domain.PayoutRequest, error) {
	return s.transition(ctx, payoutID, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
		if p.Status != domain.PayoutStatusProcessing {
			// A webhook settled the transfer first.
			return nil, nil
		}
		switch to {
		case domain.PayoutStatusCompleted:
			ev, err := s.settler.completeTx(ctx, tx, p, transferRef)
			if err != nil {
				return nil, err
			}
			return []domain.SettlementEvent{ev}, nil

		case domain.PayoutStatusRejected:
			if transferRef != "" {
				p.TransactionReference = &transferRef
			}
			p.LastFailureReason = &reason
			ev, err := s.settler.releaseTx(ctx, tx, p, domain.PayoutStatusRejected, reason)
			if err != nil {
				return nil, err
			}
			return []domain.SettlementEvent{ev}, nil

		case domain.PayoutStatusApproved:
			p.Status = domain.PayoutStatusApproved
			p.LastFailureReason = &reason

		default:
			p.TransactionReference = &transferRef
			p.LastFailureReason = nil
		}
		if err := s.payoutRepo.Update(ctx, tx, p); err != nil {
			return nil, fmt.Errorf("record transfer outcome: %w", err)
		}
		return nil, nil
	})
}

// DispatchRetryable re-processes up to limit approved payouts whose last
// transfer attempt failed in transport. Payouts left in processing without a
// transfer reference for longer than the processing timeout are returned to
// approved first; the retry keeps their attempt number, so the gateway sees
// the same idempotency key and cannot pay twice.
func (s *PayoutServiceImpl) DispatchRetryable(ctx context.Context, limit int) (int, error) {
	var errs error
	if _, err := s.recoverStale(ctx, limit); err != nil {
		errs = multierr.Append(errs, err)
	}

	ids, err := s.payoutRepo.ListRetryable(ctx, limit)
	if err != nil {
		errs = multierr.Append(errs, apperror.InternalError(fmt.Errorf("list retryable payouts: %w", err)))
		return 0, errs
	}

	var dispatched int
	for _, id := range ids {
		if _, err := s.Process(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", id, err))
			continue
		}
		dispatched++
	}
	return dispatched, errs
}

// recoverStale returns processing payouts whose transfer outcome was never
// recorded to approved.
func (s *PayoutServiceImpl) recoverStale(ctx context.Context, limit int) (int, error) {
	timeout := s.policy.ProcessingTimeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	cutoff := time.Now().UTC().Add(-timeout)

	ids, err := s.payoutRepo.ListStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list stale payouts: %w", err))
	}

	var (
		recovered int
		errs      error
	)
	for _, id := range ids {
		var moved bool
		_, err := s.transition(ctx, id, func(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) ([]domain.SettlementEvent, error) {
			moved = false
			if p.Status != domain.PayoutStatusProcessing || p.TransactionReference != nil || !p.UpdatedAt.Before(cutoff) {
				return nil, nil
			}
			reason := "transfer outcome unknown"
			p.Status = domain.PayoutStatusApproved
			p.LastFailureReason = &reason
			if err := s.payoutRepo.Update(ctx, tx, p); err != nil {
				return nil, fmt.Errorf("return stale payout to approved: %w", err)
			}
			moved = true
			s.log.Warn().
				Str("payout_id", p.ID.String()).
				Int("attempt", p.Attempts).
				Msg("payout stuck in processing, scheduled for retry")
			return nil, nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", id, err))
			continue
		}
		if moved {
			recovered++
		}
	}
	return recovered, errs
}

// List returns the vendor's payouts, newest first.
func (s *PayoutServiceImpl) List(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.PayoutRequest, int64, error) {
	payouts, total, err := s.payoutRepo.ListByVendor(ctx, vendorID, limit, offset)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list payouts: %w", err))
	}
	return payouts, total, nil
}
