package ports

import (
	"context"
	"time"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EncryptionService handles AES-256-GCM encryption/decryption. The
// associated data binds a ciphertext to its owner: decrypting with a
// different aad fails.
type EncryptionService interface {
	Encrypt(plaintext, aad string) (string, error)
	Decrypt(ciphertext, aad string) (string, error)
}

// Roles carried in access tokens.
const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
)

// TokenService handles JWT token operations. Tokens are issued by the
// identity service; Generate exists for tooling and tests.
type TokenService interface {
	Generate(subject uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject uuid.UUID
	Role    string
}

// CartStore is the cart boundary: read at checkout, cleared after commit.
type CartStore interface {
	GetCart(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int64) error
	ClearCart(ctx context.Context, userID uuid.UUID) error
}

// EventDedupCache is the Redis-layer webhook dedup check (fast path). The
// database dedup inside the reconciliation transaction is authoritative.
type EventDedupCache interface {
	// Seen reports whether the event id was marked within its ttl.
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkSeen records an event whose reconciliation has committed.
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error
}

// RateLimitStore counts requests per key over a trailing window.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// DistributedLock guards singleton background work across replicas.
type DistributedLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key string, token string) error
}

// EventPublisher ships settlement events to downstream consumers after commit.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.SettlementEvent) error
	Close() error
}

// --- Service Ports (Business Logic) ---

// CheckoutRequest holds validated checkout input.
type CheckoutRequest struct {
	CustomerID    uuid.UUID
	PaymentMethod string
}

// OrderService is the order splitter plus order reads and vendor fulfillment.
type OrderService interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, []domain.VendorSubOrder, error)
	GetOrder(ctx context.Context, customerID, orderID uuid.UUID) (*domain.Order, []domain.VendorSubOrder, error)
	UpdateSubOrderStatus(ctx context.Context, vendorID, subOrderID uuid.UUID, status domain.SubOrderStatus) (*domain.VendorSubOrder, error)
	// ExpireUnpaid cancels one unpaid order past its TTL and restores stock.
	ExpireUnpaid(ctx context.Context, orderID uuid.UUID) (bool, error)
	// SweepExpired runs ExpireUnpaid over up to limit stale orders.
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// PaymentService creates intents and confirms payments synchronously.
type PaymentService interface {
	CreateIntent(ctx context.Context, customerID, orderID uuid.UUID) (*Intent, error)
	ConfirmPayment(ctx context.Context, customerID, orderID uuid.UUID) (*domain.Order, error)
}

// WebhookService reconciles gateway notifications.
type WebhookService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (domain.WebhookResult, error)
}

// LedgerService owns every wallet balance mutation.
type LedgerService interface {
	Credit(ctx context.Context, vendorID uuid.UUID, amount int64, bucket domain.Bucket, ref LedgerRef) (*domain.Wallet, error)
	MaturePending(ctx context.Context, vendorID uuid.UUID, amount int64, ref LedgerRef) (*domain.Wallet, error)
	Reserve(ctx context.Context, vendorID uuid.UUID, amount int64, ref LedgerRef) (*domain.Wallet, error)
	SettleReservation(ctx context.Context, vendorID uuid.UUID, amount int64, outcome domain.SettlementOutcome, ref LedgerRef) (*domain.Wallet, error)
	GetWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)

	// The ...Tx forms join the caller's transaction.
	CreditTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, bucket domain.Bucket, ref LedgerRef) (*domain.Wallet, error)
	// CreditManyTx locks every touched wallet in ascending vendor id order before crediting.
	CreditManyTx(ctx context.Context, tx pgx.Tx, credits []LedgerCredit) error
	MaturePendingTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, ref LedgerRef) (*domain.Wallet, error)
	ReserveTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, ref LedgerRef) (*domain.Wallet, error)
	SettleReservationTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, amount int64, outcome domain.SettlementOutcome, ref LedgerRef) (*domain.Wallet, error)

	// MatureSubOrderTx moves a credited sub-order's earnings from pending to
	// available once; it returns false when the sub-order was already matured.
	MatureSubOrderTx(ctx context.Context, tx pgx.Tx, sub *domain.VendorSubOrder) (bool, error)
	// MatureDue matures up to limit sub-orders credited longer ago than the maturation delay.
	MatureDue(ctx context.Context, limit int) (int, error)
	// MatureVendor matures a vendor's pending sub-orders ahead of schedule,
	// oldest first and whole sub-orders only, while their earnings fit in amount.
	MatureVendor(ctx context.Context, vendorID uuid.UUID, amount int64) (*Maturation, error)
}

// Maturation reports an early maturation.
type Maturation struct {
	Amount    int64
	SubOrders int
	Wallet    *domain.Wallet
}

// LedgerRef names what caused a ledger mutation; it lands in the wallet journal.
type LedgerRef struct {
	Type domain.ReferenceType
	ID   string
}

// LedgerCredit is one credit of a batch.
type LedgerCredit struct {
	VendorID uuid.UUID
	Amount   int64
	Bucket   domain.Bucket
	Ref      LedgerRef
}

// PayoutService is the payout workflow.
type PayoutService interface {
	Request(ctx context.Context, vendorID uuid.UUID, amount int64, paymentMethodID uuid.UUID) (*domain.PayoutRequest, error)
	Cancel(ctx context.Context, vendorID, payoutID uuid.UUID) (*domain.PayoutRequest, error)
	Review(ctx context.Context, adminID, payoutID uuid.UUID) (*domain.PayoutRequest, error)
	Approve(ctx context.Context, adminID, payoutID uuid.UUID) (*domain.PayoutRequest, error)
	Reject(ctx context.Context, adminID, payoutID uuid.UUID, reason string) (*domain.PayoutRequest, error)
	Process(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRequest, error)
	// DispatchRetryable re-runs Process for approved payouts whose last attempt
	// failed in transport.
	DispatchRetryable(ctx context.Context, limit int) (int, error)
	List(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.PayoutRequest, int64, error)
}

// VendorService manages vendor payout destinations.
type VendorService interface {
	AddPaymentMethod(ctx context.Context, vendorID uuid.UUID, methodType domain.PaymentMethodType, destination string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentMethod, error)
	VerifyPaymentMethod(ctx context.Context, adminID, methodID uuid.UUID) (*domain.PaymentMethod, error)
}

// ReportingService serves vendor wallet statements.
type ReportingService interface {
	GetWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)
	ListEntries(ctx context.Context, vendorID uuid.UUID, page, pageSize int) ([]domain.WalletEntry, int64, error)
}

// AuditService records audit events asynchronously.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
