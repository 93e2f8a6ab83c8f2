package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the payout workflow state.
type PayoutStatus string

const (
	PayoutStatusRequested   PayoutStatus = "requested"
	PayoutStatusUnderReview PayoutStatus = "under_review"
	PayoutStatusApproved    PayoutStatus = "approved"
	PayoutStatusProcessing  PayoutStatus = "processing"
	PayoutStatusCompleted   PayoutStatus = "completed"
	PayoutStatusRejected    PayoutStatus = "rejected"
	PayoutStatusCancelled   PayoutStatus = "cancelled"
)

// processing -> approved is the transport-failure path; the transfer may be retried.
var payoutTransitions = transitions[PayoutStatus]{
	PayoutStatusRequested:   {PayoutStatusUnderReview, PayoutStatusRejected, PayoutStatusCancelled},
	PayoutStatusUnderReview: {PayoutStatusApproved, PayoutStatusRejected},
	PayoutStatusApproved:    {PayoutStatusProcessing, PayoutStatusRejected},
	PayoutStatusProcessing:  {PayoutStatusCompleted, PayoutStatusApproved, PayoutStatusRejected},
}

// CanTransition reports whether the payout may move from s to next.
func (s PayoutStatus) CanTransition(next PayoutStatus) bool {
	return payoutTransitions.allows(s, next)
}

// IsTerminal returns true for completed, rejected and cancelled.
func (s PayoutStatus) IsTerminal() bool {
	return payoutTransitions.terminal(s)
}

// HoldsReservation returns true while the requested amount sits in the
// wallet's reserved balance.
func (s PayoutStatus) HoldsReservation() bool {
	return !s.IsTerminal()
}

// FeeBreakdown itemizes payout fees in minor units.
type FeeBreakdown struct {
	Percentage int64 `json:"percentage"`
	Flat       int64 `json:"flat"`
	Total      int64 `json:"total"`
}

// PayoutRequest is one vendor withdrawal attempt.
type PayoutRequest struct {
	ID                   uuid.UUID    `json:"id"`
	VendorID             uuid.UUID    `json:"vendor_id"`
	RequestedAmount      int64        `json:"requested_amount"`
	Fees                 FeeBreakdown `json:"fees"`
	NetAmount            int64        `json:"net_amount"`
	Currency             string       `json:"currency"`
	PaymentMethodID      uuid.UUID    `json:"payment_method_id"`
	Status               PayoutStatus `json:"status"`
	RejectionReason      *string      `json:"rejection_reason,omitempty"`
	TransactionReference *string      `json:"transaction_reference,omitempty"`
	LastFailureReason    *string      `json:"last_failure_reason,omitempty"`
	Attempts             int          `json:"attempts"`
	ReviewedBy           *uuid.UUID   `json:"reviewed_by,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
}
