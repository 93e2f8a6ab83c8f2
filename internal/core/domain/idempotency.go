package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// Idempotency keys passed to the gateway on every mutating call. They are
// derived from aggregate ids so a retried call collapses onto the first one.

// BuildIntentIdempotencyKey keys the payment intent of an order.
func BuildIntentIdempotencyKey(orderID uuid.UUID) string {
	return "order:" + orderID.String() + ":intent"
}

// BuildCancelIdempotencyKey keys the intent cancellation of an expired order.
func BuildCancelIdempotencyKey(orderID uuid.UUID) string {
	return "order:" + orderID.String() + ":cancel"
}

// BuildTransferIdempotencyKey keys one transfer attempt of a payout. Transport
// retries inside an attempt reuse the key; a new attempt starts only after the
// previous one was returned to approved.
func BuildTransferIdempotencyKey(payoutID uuid.UUID, attempt int) string {
	return "payout:" + payoutID.String() + ":transfer:" + strconv.Itoa(attempt)
}
