package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryType is the kind of balance movement recorded in the wallet journal.
type EntryType string

const (
	EntryTypeCreditPending   EntryType = "credit_pending"
	EntryTypeCreditAvailable EntryType = "credit_available"
	EntryTypeMature          EntryType = "mature"
	EntryTypeReserve         EntryType = "reserve"
	EntryTypeRelease         EntryType = "release"
	EntryTypeWithdraw        EntryType = "withdraw"
)

// ReferenceType names the aggregate that caused an entry.
type ReferenceType string

const (
	ReferenceSubOrder ReferenceType = "sub_order"
	ReferencePayout   ReferenceType = "payout"
	ReferenceManual   ReferenceType = "manual"
)

// WalletEntry is an immutable journal row written alongside every wallet mutation.
type WalletEntry struct {
	ID             uuid.UUID     `json:"id"`
	VendorID       uuid.UUID     `json:"vendor_id"`
	EntryType      EntryType     `json:"entry_type"`
	Amount         int64         `json:"amount"`
	PendingAfter   int64         `json:"pending_after"`
	AvailableAfter int64         `json:"available_after"`
	ReservedAfter  int64         `json:"reserved_after"`
	ReferenceType  ReferenceType `json:"reference_type"`
	ReferenceID    string        `json:"reference_id"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewWalletEntry snapshots w after a mutation.
func NewWalletEntry(w *Wallet, entryType EntryType, amount int64, refType ReferenceType, refID string) *WalletEntry {
	return &WalletEntry{
		ID:             uuid.New(),
		VendorID:       w.VendorID,
		EntryType:      entryType,
		Amount:         amount,
		PendingAfter:   w.PendingBalance,
		AvailableAfter: w.AvailableBalance,
		ReservedAfter:  w.ReservedBalance,
		ReferenceType:  refType,
		ReferenceID:    refID,
		CreatedAt:      time.Now().UTC(),
	}
}

// EntryTypeForCredit maps a credit bucket to its journal entry type.
func EntryTypeForCredit(b Bucket) EntryType {
	if b == BucketAvailable {
		return EntryTypeCreditAvailable
	}
	return EntryTypeCreditPending
}

// EntryTypeForOutcome maps a settlement outcome to its journal entry type.
func EntryTypeForOutcome(o SettlementOutcome) EntryType {
	if o == OutcomeCompleted {
		return EntryTypeWithdraw
	}
	return EntryTypeRelease
}
