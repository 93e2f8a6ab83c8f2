package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"marketplace-settlement/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"go.uber.org/multierr"
)

func TestOrderExpiryJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	orders := mocks.NewMockOrderService(ctrl)
	job := NewOrderExpiryJob(orders, 0, zerolog.New(io.Discard))

	assert.Equal(t, JobOrderExpiry, job.Name())

	orders.EXPECT().SweepExpired(gomock.Any(), defaultBatchSize).Return(3, nil)
	assert.NoError(t, job.Run(context.Background()))

	partial := multierr.Combine(errors.New("order a: locked"), errors.New("order b: locked"))
	orders.EXPECT().SweepExpired(gomock.Any(), defaultBatchSize).Return(1, partial)
	err := job.Run(context.Background())
	assert.Error(t, err)
	assert.Len(t, multierr.Errors(errors.Unwrap(err)), 2)
}

func TestWalletMaturationJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedgerService(ctrl)
	job := NewWalletMaturationJob(ledger, 25, zerolog.New(io.Discard))

	assert.Equal(t, JobWalletMaturation, job.Name())

	ledger.EXPECT().MatureDue(gomock.Any(), 25).Return(0, nil)
	assert.NoError(t, job.Run(context.Background()))

	ledger.EXPECT().MatureDue(gomock.Any(), 25).Return(0, errors.New("db down"))
	assert.ErrorContains(t, job.Run(context.Background()), "db down")
}

func TestPayoutDispatchJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	payouts := mocks.NewMockPayoutService(ctrl)
	job := NewPayoutDispatchJob(payouts, 10, zerolog.New(io.Discard))

	assert.Equal(t, JobPayoutDispatch, job.Name())

	payouts.EXPECT().DispatchRetryable(gomock.Any(), 10).Return(2, nil)
	assert.NoError(t, job.Run(context.Background()))
}
