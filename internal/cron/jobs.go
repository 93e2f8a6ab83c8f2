package cron

import (
	"context"
	"fmt"

	"marketplace-settlement/internal/core/ports"

	"github.com/rs/zerolog"
)

const defaultBatchSize = 100

// Job names, also used as metric labels and lock keys.
const (
	JobOrderExpiry      = "order-expiry"
	JobWalletMaturation = "wallet-maturation"
	JobPayoutDispatch   = "payout-dispatch"
)

func batchOrDefault(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}

// orderExpiryJob cancels unpaid orders past their TTL and restores stock.
type orderExpiryJob struct {
	orders ports.OrderService
	batch  int
	log    zerolog.Logger
}

// NewOrderExpiryJob builds the job that sweeps stale unpaid orders.
func NewOrderExpiryJob(orders ports.OrderService, batch int, log zerolog.Logger) Job {
	return &orderExpiryJob{orders: orders, batch: batchOrDefault(batch), log: log}
}

func (j *orderExpiryJob) Name() string { return JobOrderExpiry }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	n, err := j.orders.SweepExpired(ctx, j.batch)
	if n > 0 {
		j.log.Info().Int("expired", n).Msg("expired unpaid orders")
	}
	if err != nil {
		return fmt.Errorf("sweep expired orders: %w", err)
	}
	return nil
}

// walletMaturationJob moves matured sub-order earnings from pending to available.
type walletMaturationJob struct {
	ledger ports.LedgerService
	batch  int
	log    zerolog.Logger
}

// NewWalletMaturationJob builds the job that matures credited earnings.
func NewWalletMaturationJob(ledger ports.LedgerService, batch int, log zerolog.Logger) Job {
	return &walletMaturationJob{ledger: ledger, batch: batchOrDefault(batch), log: log}
}

func (j *walletMaturationJob) Name() string { return JobWalletMaturation }

func (j *walletMaturationJob) Run(ctx context.Context) error {
	n, err := j.ledger.MatureDue(ctx, j.batch)
	if n > 0 {
		j.log.Info().Int("matured", n).Msg("matured sub-order earnings")
	}
	if err != nil {
		return fmt.Errorf("mature due earnings: %w", err)
	}
	return nil
}

// payoutDispatchJob retries approved payouts whose transfer failed in transport.
type payoutDispatchJob struct {
	payouts ports.PayoutService
	batch   int
	log     zerolog.Logger
}

// NewPayoutDispatchJob builds the job that re-sends retryable payouts.
func NewPayoutDispatchJob(payouts ports.PayoutService, batch int, log zerolog.Logger) Job {
	return &payoutDispatchJob{payouts: payouts, batch: batchOrDefault(batch), log: log}
}

func (j *payoutDispatchJob) Name() string { return JobPayoutDispatch }

func (j *payoutDispatchJob) Run(ctx context.Context) error {
	n, err := j.payouts.DispatchRetryable(ctx, j.batch)
	if n > 0 {
		j.log.Info().Int("dispatched", n).Msg("re-dispatched payouts")
	}
	if err != nil {
		return fmt.Errorf("dispatch retryable payouts: %w", err)
	}
	return nil
}
