// Package memory is a process-local implementation of the repository ports.
// Transactions are serialized by a single lock and roll back by restoring a
// snapshot, so the ledger behaves the same as on PostgreSQL within one process.
// Writes made outside a transaction while another one is open are discarded if
// that transaction rolls back.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type state struct {
	products      map[uuid.UUID]domain.Product
	vendors       map[uuid.UUID]domain.Vendor
	methods       map[uuid.UUID]domain.PaymentMethod
	orders        map[uuid.UUID]domain.Order
	subOrders     map[uuid.UUID]domain.VendorSubOrder
	subsByOrder   map[uuid.UUID][]uuid.UUID
	wallets       map[uuid.UUID]domain.Wallet
	entries       []domain.WalletEntry
	payouts       map[uuid.UUID]domain.PayoutRequest
	webhookEvents map[string]domain.WebhookEvent
	audit         []domain.AuditLog
}

func newState() state {
	return state{
		products:      make(map[uuid.UUID]domain.Product),
		vendors:       make(map[uuid.UUID]domain.Vendor),
		methods:       make(map[uuid.UUID]domain.PaymentMethod),
		orders:        make(map[uuid.UUID]domain.Order),
		subOrders:     make(map[uuid.UUID]domain.VendorSubOrder),
		subsByOrder:   make(map[uuid.UUID][]uuid.UUID),
		wallets:       make(map[uuid.UUID]domain.Wallet),
		payouts:       make(map[uuid.UUID]domain.PayoutRequest),
		webhookEvents: make(map[string]domain.WebhookEvent),
	}
}

func (s state) clone() state {
	subsByOrder := make(map[uuid.UUID][]uuid.UUID, len(s.subsByOrder))
	for k, v := range s.subsByOrder {
		subsByOrder[k] = slices.Clone(v)
	}
	return state{
		products:      maps.Clone(s.products),
		vendors:       maps.Clone(s.vendors),
		methods:       maps.Clone(s.methods),
		orders:        maps.Clone(s.orders),
		subOrders:     maps.Clone(s.subOrders),
		subsByOrder:   subsByOrder,
		wallets:       maps.Clone(s.wallets),
		entries:       slices.Clone(s.entries),
		payouts:       maps.Clone(s.payouts),
		webhookEvents: maps.Clone(s.webhookEvents),
		audit:         slices.Clone(s.audit),
	}
}

// Store owns all in-memory tables.
//
// txMu serializes transactions the way row locks would. mu guards the maps
// themselves so reads outside a transaction never race with a writer.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

// Begin starts a transaction. It blocks until the previous one finishes.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()
	return &memTx{store: s, snapshot: snapshot}, nil
}

// WithinTx implements ports.DBTransactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name returns the dependency name.
func (s *Store) Name() string {
	return "memory"
}

func (s *Store) read(fn func(d *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.data)
}

func (s *Store) write(fn func(d *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}
