package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_RollbackRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wallets := s.Wallets()
	vendorID := uuid.New()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return wallets.Create(ctx, tx, domain.NewWallet(vendorID, "USD"))
	}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		w, err := wallets.GetByVendorIDForUpdate(ctx, tx, vendorID)
		require.NoError(t, err)
		require.NoError(t, w.Credit(500, domain.BucketAvailable))
		require.NoError(t, wallets.Update(ctx, tx, w))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := wallets.GetByVendorID(ctx, vendorID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.AvailableBalance)
	assert.Equal(t, int64(0), w.Version)
}

func TestTx_DoubleCommitIsClosed(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)

	// The lock was released by the first commit.
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
}

func TestWalletRepo_UpdateVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wallets := s.Wallets()
	vendorID := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, wallets.Create(ctx, tx, domain.NewWallet(vendorID, "USD")))

	stale, _ := wallets.GetByVendorIDForUpdate(ctx, tx, vendorID)
	fresh, _ := wallets.GetByVendorIDForUpdate(ctx, tx, vendorID)
	require.NoError(t, fresh.Credit(10, domain.BucketPending))
	require.NoError(t, wallets.Update(ctx, tx, fresh))

	require.NoError(t, stale.Credit(20, domain.BucketPending))
	assert.Error(t, wallets.Update(ctx, tx, stale))
	require.NoError(t, tx.Commit(ctx))
}

func TestWithinTx_Serializes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wallets := s.Wallets()
	vendorID := uuid.New()
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return wallets.Create(ctx, tx, domain.NewWallet(vendorID, "USD"))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				w, err := wallets.GetByVendorIDForUpdate(ctx, tx, vendorID)
				if err != nil {
					return err
				}
				if err := w.Credit(5, domain.BucketAvailable); err != nil {
					return err
				}
				return wallets.Update(ctx, tx, w)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, _ := wallets.GetByVendorID(ctx, vendorID)
	assert.Equal(t, int64(100), w.AvailableBalance)
	assert.Equal(t, int64(20), w.Version)
	assert.NoError(t, w.CheckInvariants())
}

func TestOrderRepo_QueriesAndSubOrders(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	orders := s.Orders()
	old := time.Now().Add(-time.Hour)

	order := &domain.Order{
		ID: uuid.New(), OrderNumber: "ORD-2610-AAAAAA",
		Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending, CreatedAt: old,
	}
	sub := domain.VendorSubOrder{ID: uuid.New(), OrderID: order.ID, Status: domain.SubOrderStatusPending}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, orders.Create(ctx, tx, order, []domain.VendorSubOrder{sub}))
	exists, err := orders.OrderNumberExists(ctx, tx, "ORD-2610-AAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Error(t, orders.Create(ctx, tx, &domain.Order{ID: uuid.New(), OrderNumber: "ORD-2610-AAAAAA"}, nil))

	ref := "pi_1"
	order.PaymentIntentRef = &ref
	require.NoError(t, orders.Update(ctx, tx, order))
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.Begin(ctx)
	byRef, err := orders.GetByIntentRefForUpdate(ctx, tx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, byRef)
	assert.Equal(t, order.ID, byRef.ID)
	_ = tx.Rollback(ctx)

	expired, err := orders.ListExpiredUnpaid(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{order.ID}, expired)

	subs, err := orders.ListSubOrders(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	now := time.Now().Add(-time.Minute)
	tx, _ = s.Begin(ctx)
	subs[0].CreditedAt = &now
	require.NoError(t, orders.UpdateSubOrder(ctx, tx, &subs[0]))
	require.NoError(t, tx.Commit(ctx))

	maturable, err := orders.ListMaturable(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{sub.ID}, maturable)
}

func TestWalletRepo_ListEntriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	wallets := s.Wallets()
	w := domain.NewWallet(uuid.New(), "USD")

	tx, _ := s.Begin(ctx)
	for i := 1; i <= 3; i++ {
		e := domain.NewWalletEntry(w, domain.EntryTypeCreditPending, int64(i), domain.ReferenceManual, "m")
		require.NoError(t, wallets.AddEntry(ctx, tx, e))
	}
	require.NoError(t, tx.Commit(ctx))

	entries, total, err := wallets.ListEntries(ctx, w.VendorID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].Amount)

	entries, _, err = wallets.ListEntries(ctx, w.VendorID, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWebhookEventRepo_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	events := s.WebhookEvents()

	tx, _ := s.Begin(ctx)
	ok, err := events.Claim(ctx, tx, &domain.WebhookEvent{EventID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = events.Claim(ctx, tx, &domain.WebhookEvent{EventID: "evt_1"})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Commit(ctx))
}

func TestProductRepo_AdjustStock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	products := s.Products()
	p := &domain.Product{ID: uuid.New(), Stock: 2}
	require.NoError(t, products.Upsert(ctx, p))

	tx, _ := s.Begin(ctx)
	require.NoError(t, products.AdjustStock(ctx, tx, p.ID, -2, 2))
	assert.Error(t, products.AdjustStock(ctx, tx, p.ID, -1, 1))
	require.NoError(t, tx.Commit(ctx))

	got, _ := products.GetByID(ctx, p.ID)
	assert.Equal(t, int64(0), got.Stock)
	assert.Equal(t, int64(2), got.SalesCount)
}
