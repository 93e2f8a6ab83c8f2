package service

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-settlement/internal/adapter/storage/memory"
	"marketplace-settlement/internal/core/domain"
	"marketplace-settlement/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func auditEntry(action domain.AuditAction) *domain.AuditLog {
	admin := uuid.New()
	return &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &admin,
		Action:       action,
		ResourceType: "payout",
		ResourceID:   uuid.NewString(),
		IPAddress:    "10.0.0.8",
		CreatedAt:    time.Now(),
	}
}

func TestAuditService_CloseFlushesQueue(t *testing.T) {
	store := memory.NewStore()
	svc := NewAuditService(store.Audit(), newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, a := range []domain.AuditAction{
		domain.AuditActionPayoutReview,
		domain.AuditActionPayoutApprove,
		domain.AuditActionPayoutProcess,
	} {
		svc.Log(ctx, auditEntry(a))
	}
	require.NoError(t, svc.Close())

	logged := store.Audit().List()
	require.Len(t, logged, 3)
	assert.Equal(t, domain.AuditActionPayoutReview, logged[0].Action)
	assert.Equal(t, domain.AuditActionPayoutProcess, logged[2].Action)
}

func TestAuditService_RepoFailureDoesNotStopWriter(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockAuditRepository(ctrl)

	var written atomic.Int32
	gomock.InOrder(
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection reset")),
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ *domain.AuditLog) error {
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline)
				written.Add(1)
				return nil
			}),
	)

	svc := NewAuditService(repo, newTestLogger())
	svc.Log(context.Background(), auditEntry(domain.AuditActionMethodVerify))
	svc.Log(context.Background(), auditEntry(domain.AuditActionWalletMature))
	require.NoError(t, svc.Close())

	assert.Equal(t, int32(1), written.Load())
}

func TestAuditService_LogAfterCloseIsDropped(t *testing.T) {
	store := memory.NewStore()
	svc := NewAuditService(store.Audit(), newTestLogger())
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	svc.Log(context.Background(), auditEntry(domain.AuditActionPayoutCancel))

	assert.Empty(t, store.Audit().List())
}

func TestAuditService_NilRepoOnlyLogs(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())

	svc.Log(context.Background(), auditEntry(domain.AuditActionMethodAdd))
	assert.NoError(t, svc.Close())
}
