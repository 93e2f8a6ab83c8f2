package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketplace-settlement/pkg/apperror"
)

// Bucket selects which balance a credit lands in.
type Bucket string

const (
	BucketPending   Bucket = "pending"
	BucketAvailable Bucket = "available"
)

// SettlementOutcome is how a payout reservation is released.
type SettlementOutcome string

const (
	OutcomeCompleted SettlementOutcome = "completed"
	OutcomeRejected  SettlementOutcome = "rejected"
	OutcomeCancelled SettlementOutcome = "cancelled"
)

// Wallet is a vendor's balance sheet. Only the ledger service mutates it,
// always through the methods below while holding the row lock.
type Wallet struct {
	VendorID         uuid.UUID `json:"vendor_id"`
	Currency         string    `json:"currency"`
	PendingBalance   int64     `json:"pending_balance"`
	AvailableBalance int64     `json:"available_balance"`
	ReservedBalance  int64     `json:"reserved_balance"`
	TotalCredited    int64     `json:"total_credited"`
	TotalWithdrawn   int64     `json:"total_withdrawn"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewWallet returns an empty wallet for vendorID.
func NewWallet(vendorID uuid.UUID, currency string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		VendorID:  vendorID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInvariants verifies non-negativity and that the balances account for
// exactly what was credited minus what was withdrawn.
func (w *Wallet) CheckInvariants() error {
	if w.PendingBalance < 0 || w.AvailableBalance < 0 || w.ReservedBalance < 0 {
		return apperror.ErrLedgerInvariant(fmt.Errorf(
			"wallet %s: negative balance pending=%d available=%d reserved=%d",
			w.VendorID, w.PendingBalance, w.AvailableBalance, w.ReservedBalance))
	}
	held := w.PendingBalance + w.AvailableBalance + w.ReservedBalance
	if held != w.TotalCredited-w.TotalWithdrawn {
		return apperror.ErrLedgerInvariant(fmt.Errorf(
			"wallet %s: held %d != credited %d - withdrawn %d",
			w.VendorID, held, w.TotalCredited, w.TotalWithdrawn))
	}
	return nil
}

// Credit adds amount to the chosen bucket.
func (w *Wallet) Credit(amount int64, bucket Bucket) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	switch bucket {
	case BucketPending:
		w.PendingBalance += amount
	case BucketAvailable:
		w.AvailableBalance += amount
	default:
		return apperror.Validation(fmt.Sprintf("unknown balance bucket %q", bucket))
	}
	w.TotalCredited += amount
	return w.CheckInvariants()
}

// MaturePending moves amount from pending to available.
func (w *Wallet) MaturePending(amount int64) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if amount > w.PendingBalance {
		return apperror.ErrInsufficientPendingBalance(w.PendingBalance, amount)
	}
	w.PendingBalance -= amount
	w.AvailableBalance += amount
	return w.CheckInvariants()
}

// Reserve earmarks amount of the available balance for a payout.
func (w *Wallet) Reserve(amount int64) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if amount > w.AvailableBalance {
		return apperror.ErrInsufficientAvailableBalance(w.AvailableBalance, amount)
	}
	w.AvailableBalance -= amount
	w.ReservedBalance += amount
	return w.CheckInvariants()
}

// SettleReservation spends a reservation (completed) or returns it to the
// available balance (rejected, cancelled).
func (w *Wallet) SettleReservation(amount int64, outcome SettlementOutcome) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if amount > w.ReservedBalance {
		return apperror.ErrInsufficientReservedBalance(w.ReservedBalance, amount)
	}
	switch outcome {
	case OutcomeCompleted:
		w.ReservedBalance -= amount
		w.TotalWithdrawn += amount
	case OutcomeRejected, OutcomeCancelled:
		w.ReservedBalance -= amount
		w.AvailableBalance += amount
	default:
		return apperror.ErrInvalidOutcome(string(outcome))
	}
	return w.CheckInvariants()
}
