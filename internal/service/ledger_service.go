package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/pkg/apperror"
	"marketplace-settlement/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// LedgerServiceImpl implements ports.LedgerService. Every balance change goes
// through mutateTx, which holds the wallet row lock, applies the domain
// method, and journals the result in the same transaction.
type LedgerServiceImpl struct {
	walletRepo      ports.WalletRepository
	orderRepo       ports.OrderRepository
	transactor      ports.DBTransactor
	currency        string
	maturationDelay time.Duration
	metrics         *metrics.LedgerMetrics
	log             zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	walletRepo ports.WalletRepository,
	orderRepo ports.OrderRepository,
	transactor ports.DBTransactor,
	currency string,
	maturationDelay time.Duration,
	m *metrics.LedgerMetrics,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		walletRepo:      walletRepo,
		orderRepo:       orderRepo,
		transactor:      transactor,
		currency:        currency,
		maturationDelay: maturationDelay,
		metrics:         m,
		log:             log,
	}
}

// MaturationDelay is how long credited earnings stay pending.
func (s *LedgerServiceImpl) MaturationDelay() time.Duration {
	return s.maturationDelay
}

type walletOp struct {
	entryType       domain.EntryType
	amount          int64
	createIfMissing bool
	apply           func(w *domain.Wallet) error
}

func (s *LedgerServiceImpl) mutateTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, op walletOp, ref ports.LedgerRef) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByVendorIDForUpdate(ctx, tx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if wallet == nil {
		if !op.createIfMissing {
			// An absent wallet behaves as an empty one, so the caller gets
			// the same insufficient-balance error a zero wallet would give.
			if err := op.apply(domain.NewWallet(vendorID, s.currency)); err != nil {
				return nil, err
			}
			return nil, apperror.ErrLedgerInvariant(fmt.Errorf("wallet %s missing", vendorID))
		}
		if err := s.walletRepo.Create(ctx, tx, domain.NewWallet(vendorID, s.currency)); err != nil {
			return nil, fmt.Errorf("create wallet: %w", err)
		}
		wallet, err = s.walletRepo.GetByVendorIDForUpdate(ctx, tx, vendorID)
		if err != nil {
			return nil, fmt.Errorf("lock wallet: %w", err)
		}
		if wallet == nil {
			return nil, fmt.Errorf("wallet %s not visible after create", vendorID)
		}
	}

	if err := op.apply(wallet); err != nil {
		return nil, err
	}

	if err := s.walletRepo.Update(ctx, tx, wallet); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	entry := domain.NewWalletEntry(wallet, op.entryType, op.amount, ref.Type, ref.ID)
	if err := s.walletRepo.AddEntry(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("journal wallet entry: %w", err)
	}

	s.metrics.ObserveEntry(string(op.entryType), op.amount)
	s.log.Debug().
		Str("vendor_id", vendorID.String()).
		Str("entry_type", string(op.entryType)).
		Int64("amount", op.amount).
		Str("reference", ref.ID).
		Msg("wallet mutated")

	return wallet, nil
}

// withinTx runs fn in its own transaction and maps unexpected errors to SYS_001.
func (s *LedgerServiceImpl) withinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) (*domain.Wallet, error)) (*domain.Wallet, error) {
	var wallet *domain.Wallet
	err := s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		w, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return wallet, nil
}

// asAppError passes AppErrors through and wraps anything else as internal.
func asAppError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.InternalError(err)
}

func (s *LedgerServiceImpl) CreditTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, bucket domain.Bucket, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.mutateTx(ctx, tx, vendorID, walletOp{
		entryType:       domain.EntryTypeForCredit(bucket),
		amount:          amount,
		createIfMissing: true,
		apply:           func(w *domain.Wallet) error { return w.Credit(amount, bucket) },
	}, ref)
}

// CreditManyTx credits several vendors in one transaction. Wallets are locked
// in ascending vendor id order so concurrent batches cannot deadlock.
func (s *LedgerServiceImpl) CreditManyTx(ctx context.Context, tx pgx.Tx, credits []ports.LedgerCredit) error {
	sorted := slices.Clone(credits)
	slices.SortStableFunc(sorted, func(a, b ports.LedgerCredit) int {
		return bytes.Compare(a.VendorID[:], b.VendorID[:])
	})
	for _, c := range sorted {
		if c.Amount == 0 {
			continue
		}
		if _, err := s.CreditTx(ctx, tx, c.VendorID, c.Amount, c.Bucket, c.Ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *LedgerServiceImpl) MaturePendingTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.mutateTx(ctx, tx, vendorID, walletOp{
		entryType: domain.EntryTypeMature,
		amount:    amount,
		apply:     func(w *domain.Wallet) error { return w.MaturePending(amount) },
	}, ref)
}

func (s *LedgerServiceImpl) ReserveTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.mutateTx(ctx, tx, vendorID, walletOp{
		entryType: domain.EntryTypeReserve,
		amount:    amount,
		apply:     func(w *domain.Wallet) error { return w.Reserve(amount) },
	}, ref)
}

func (s *LedgerServiceImpl) SettleReservationTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, outcome domain.SettlementOutcome, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.mutateTx(ctx, tx, vendorID, walletOp{
		entryType: domain.EntryTypeForOutcome(outcome),
		amount:    amount,
		apply:     func(w *domain.Wallet) error { return w.SettleReservation(amount, outcome) },
	}, ref)
}

func (s *LedgerServiceImpl) Credit(ctx context.Context, vendorID uuid.UUID, amount int64, bucket domain.Bucket, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.withinTx(ctx, func(ctx context.Context, tx pgx.Tx) (*domain.Wallet, error) {
		return s.CreditTx(ctx, tx, vendorID, amount, bucket, ref)
	})
}

func (s *LedgerServiceImpl) MaturePending(ctx context.Context, vendorID uuid.UUID, amount int64, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.withinTx(ctx, func(ctx context.Context, tx pgx.Tx) (*domain.Wallet, error) {
		return s.MaturePendingTx(ctx, tx, vendorID, amount, ref)
	})
}

func (s *LedgerServiceImpl) Reserve(ctx context.Context, vendorID uuid.UUID, amount int64, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.withinTx(ctx, func(ctx context.Context, tx pgx.Tx) (*domain.Wallet, error) {
		return s.ReserveTx(ctx, tx, vendorID, amount, ref)
	})
}

func (s *LedgerServiceImpl) SettleReservation(ctx context.Context, vendorID uuid.UUID, amount int64, outcome domain.SettlementOutcome, ref ports.LedgerRef) (*domain.Wallet, error) {
	return s.withinTx(ctx, func(ctx context.Context, tx pgx.Tx) (*domain.Wallet, error) {
		return s.SettleReservationTx(ctx, tx, vendorID, amount, outcome, ref)
	})
}

// GetWallet returns the vendor's wallet, or an empty one if the vendor has
// never been credited.
func (s *LedgerServiceImpl) GetWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByVendorID(ctx, vendorID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return domain.NewWallet(vendorID, s.currency), nil
	}
	return wallet, nil
}

// MatureSubOrderTx moves sub's earnings from pending to available and stamps
// MaturedAt. The caller must hold the sub-order row lock.
func (s *LedgerServiceImpl) MatureSubOrderTx(ctx context.Context, tx pgx.Tx, sub *domain.VendorSubOrder) (bool, error) {
	if sub.CreditedAt == nil || sub.MaturedAt != nil {
		return false, nil
	}
	if sub.VendorEarnings > 0 {
		ref := ports.LedgerRef{Type: domain.ReferenceSubOrder, ID: sub.ID.String()}
		if _, err := s.MaturePendingTx(ctx, tx, sub.VendorID, sub.VendorEarnings, ref); err != nil {
			return false, err
		}
	}
	now := time.Now().UTC()
	sub.MaturedAt = &now
	if err := s.orderRepo.UpdateSubOrder(ctx, tx, sub); err != nil {
		return false, fmt.Errorf("stamp sub-order matured: %w", err)
	}
	return true, nil
}

// MatureDue matures sub-orders whose maturation delay has elapsed. Each
// sub-order is matured in its own transaction; failures are collected and
// do not stop the batch.
func (s *LedgerServiceImpl) MatureDue(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-s.maturationDelay)
	ids, err := s.orderRepo.ListMaturable(ctx, cutoff, limit)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list maturable sub-orders: %w", err))
	}

	var (
		matured int
		errs    error
	)
	for _, id := range ids {
		var done bool
		err := s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			sub, err := s.orderRepo.GetSubOrderForUpdate(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("lock sub-order: %w", err)
			}
			if sub == nil {
				return nil
			}
			done, err = s.MatureSubOrderTx(ctx, tx, sub)
			return err
		})
		if err != nil {
			s.log.Error().Err(err).Str("sub_order_id", id.String()).Msg("failed to mature sub-order")
			errs = multierr.Append(errs, fmt.Errorf("sub-order %s: %w", id, err))
			continue
		}
		if done {
			matured++
		}
	}

	if matured > 0 {
		s.log.Info().Int("matured", matured).Int("candidates", len(ids)).Msg("matured vendor earnings")
	}
	return matured, errs
}

// maxEarlyMaturation caps how many sub-orders one early maturation considers.
const maxEarlyMaturation = 500

// MatureVendor matures the vendor's pending sub-orders ahead of the sweep.
// Every matured sub-order is stamped through MatureSubOrderTx, so the sweep
// never matures the same earnings twice. The picked sub-orders are locked
// before the wallet, the same order the sweep uses.
func (s *LedgerServiceImpl) MatureVendor(ctx context.Context, vendorID uuid.UUID, amount int64) (*ports.Maturation, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	ids, err := s.orderRepo.ListPendingByVendor(ctx, vendorID, maxEarlyMaturation)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list pending sub-orders: %w", err))
	}

	var result *ports.Maturation
	err = s.transactor.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		result = &ports.Maturation{}

		var (
			picked    []*domain.VendorSubOrder
			remaining = amount
		)
		for _, id := range ids {
			sub, err := s.orderRepo.GetSubOrderForUpdate(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("lock sub-order: %w", err)
			}
			if sub == nil || sub.VendorID != vendorID || sub.CreditedAt == nil || sub.MaturedAt != nil {
				continue
			}
			if sub.VendorEarnings > remaining {
				break
			}
			remaining -= sub.VendorEarnings
			picked = append(picked, sub)
		}
		if len(picked) == 0 {
			return apperror.ErrInsufficientPendingBalance(0, amount).
				WithDetail("reason", "no pending sub-order fits the requested amount")
		}

		for _, sub := range picked {
			if _, err := s.MatureSubOrderTx(ctx, tx, sub); err != nil {
				return err
			}
			result.Amount += sub.VendorEarnings
			result.SubOrders++
		}

		wallet, err := s.walletRepo.GetByVendorIDForUpdate(ctx, tx, vendorID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		result.Wallet = wallet
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.log.Info().
		Str("vendor_id", vendorID.String()).
		Int64("requested", amount).
		Int64("matured", result.Amount).
		Int("sub_orders", result.SubOrders).
		Msg("matured vendor earnings early")
	return result, nil
}
