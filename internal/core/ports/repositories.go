package ports

import (
	"context"
	"time"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repositories follow one rule: methods taking a pgx.Tx run inside the
// caller's transaction (and the ...ForUpdate ones lock the row until commit);
// methods without one read committed state and must not be used to make a
// balance decision. Lookups return (nil, nil) when the row does not exist.

// ProductRepository is the catalog/inventory boundary used by checkout.
type ProductRepository interface {
	// GetByIDsForUpdate locks the products in ascending id order.
	GetByIDsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error)
	// AdjustStock applies stock and sales deltas; it fails rather than drive stock negative.
	AdjustStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, stockDelta, salesDelta int64) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	Upsert(ctx context.Context, product *domain.Product) error
}

// VendorRepository is the vendor-profile boundary (commission rates).
type VendorRepository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Vendor, error)
	Upsert(ctx context.Context, vendor *domain.Vendor) error
}

// PaymentMethodRepository stores vendor payout destinations.
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *domain.PaymentMethod) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentMethod, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentMethod, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// OrderRepository persists orders and their vendor sub-orders.
type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order, subOrders []domain.VendorSubOrder) error
	OrderNumberExists(ctx context.Context, tx pgx.Tx, orderNumber string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	GetByIntentRefForUpdate(ctx context.Context, tx pgx.Tx, intentRef string) (*domain.Order, error)
	// Update writes the mutable order fields (statuses, payment refs, timestamps).
	Update(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]domain.VendorSubOrder, error)
	SubOrdersForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.VendorSubOrder, error)
	GetSubOrder(ctx context.Context, id uuid.UUID) (*domain.VendorSubOrder, error)
	GetSubOrderForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.VendorSubOrder, error)
	// UpdateSubOrder writes status, credited_at and matured_at; money columns are immutable.
	UpdateSubOrder(ctx context.Context, tx pgx.Tx, sub *domain.VendorSubOrder) error
	// ListExpiredUnpaid returns orders still awaiting payment that were created before cutoff.
	ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	// ListMaturable returns credited, unmatured sub-orders credited before cutoff.
	ListMaturable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	// ListPendingByVendor returns the vendor's credited, unmatured sub-orders, oldest credit first.
	ListPendingByVendor(ctx context.Context, vendorID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// WalletRepository persists vendor wallets and their journal.
type WalletRepository interface {
	GetByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)
	GetByVendorIDForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error)
	// Create inserts the wallet if absent; a concurrent creator wins silently.
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	// Update writes balances guarded by wallet.Version and bumps it.
	Update(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	AddEntry(ctx context.Context, tx pgx.Tx, entry *domain.WalletEntry) error
	ListEntries(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.WalletEntry, int64, error)
}

// PayoutRepository persists payout requests.
type PayoutRepository interface {
	Create(ctx context.Context, tx pgx.Tx, payout *domain.PayoutRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error)
	GetByTransferRefForUpdate(ctx context.Context, tx pgx.Tx, transferRef string) (*domain.PayoutRequest, error)
	Update(ctx context.Context, tx pgx.Tx, payout *domain.PayoutRequest) error
	ListByVendor(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.PayoutRequest, int64, error)
	// ListRetryable returns approved payouts whose last transfer attempt failed in transport.
	ListRetryable(ctx context.Context, limit int) ([]uuid.UUID, error)
	// ListStaleProcessing returns processing payouts with no transfer reference last updated before cutoff.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// WebhookEventRepository is the durable dedup log for gateway events.
type WebhookEventRepository interface {
	// Claim inserts the event; it returns false when the event id was already recorded.
	Claim(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) (bool, error)
	SetResult(ctx context.Context, tx pgx.Tx, eventID string, result domain.WebhookResult) error
}

// AuditRepository persists audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// WithinTx runs fn in a transaction, commits on nil, rolls back otherwise.
	// Serialization failures and deadlocks are retried a bounded number of times,
	// so fn must be safe to re-run.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}
