package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Catalog ---

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct{ s *Store }

// Products returns the product repository view of the store.
func (s *Store) Products() *ProductRepo { return &ProductRepo{s: s} }

func (r *ProductRepo) GetByIDsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	out := make(map[uuid.UUID]*domain.Product, len(ids))
	r.s.read(func(d *state) {
		for _, id := range ids {
			if p, ok := d.products[id]; ok {
				out[id] = &p
			}
		}
	})
	return out, nil
}

func (r *ProductRepo) AdjustStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, stockDelta, salesDelta int64) error {
	var err error
	r.s.write(func(d *state) {
		p, ok := d.products[id]
		if !ok || p.Stock+stockDelta < 0 {
			err = fmt.Errorf("adjust product stock: product %s missing or stock would go negative", id)
			return
		}
		p.Stock += stockDelta
		p.SalesCount = max(p.SalesCount+salesDelta, 0)
		d.products[id] = p
	})
	return err
}

func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var out *domain.Product
	r.s.read(func(d *state) {
		if p, ok := d.products[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *ProductRepo) Upsert(ctx context.Context, p *domain.Product) error {
	r.s.write(func(d *state) { d.products[p.ID] = *p })
	return nil
}

// VendorRepo implements ports.VendorRepository.
type VendorRepo struct{ s *Store }

// Vendors returns the vendor repository view of the store.
func (s *Store) Vendors() *VendorRepo { return &VendorRepo{s: s} }

func (r *VendorRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Vendor, error) {
	out := make(map[uuid.UUID]*domain.Vendor, len(ids))
	r.s.read(func(d *state) {
		for _, id := range ids {
			if v, ok := d.vendors[id]; ok {
				out[id] = &v
			}
		}
	})
	return out, nil
}

func (r *VendorRepo) Upsert(ctx context.Context, v *domain.Vendor) error {
	r.s.write(func(d *state) { d.vendors[v.ID] = *v })
	return nil
}

// PaymentMethodRepo implements ports.PaymentMethodRepository.
type PaymentMethodRepo struct{ s *Store }

// PaymentMethods returns the payment method repository view of the store.
func (s *Store) PaymentMethods() *PaymentMethodRepo { return &PaymentMethodRepo{s: s} }

func (r *PaymentMethodRepo) Create(ctx context.Context, m *domain.PaymentMethod) error {
	r.s.write(func(d *state) { d.methods[m.ID] = *m })
	return nil
}

func (r *PaymentMethodRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	var out *domain.PaymentMethod
	r.s.read(func(d *state) {
		if m, ok := d.methods[id]; ok {
			out = &m
		}
	})
	return out, nil
}

func (r *PaymentMethodRepo) ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentMethod, error) {
	var out []domain.PaymentMethod
	r.s.read(func(d *state) {
		for _, m := range d.methods {
			if m.VendorID == vendorID {
				out = append(out, m)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *PaymentMethodRepo) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	var err error
	r.s.write(func(d *state) {
		m, ok := d.methods[id]
		if !ok {
			err = fmt.Errorf("payment method not found: %s", id)
			return
		}
		m.Verified = true
		m.VerifiedAt = &at
		d.methods[id] = m
	})
	return err
}

// --- Orders ---

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct{ s *Store }

// Orders returns the order repository view of the store.
func (s *Store) Orders() *OrderRepo { return &OrderRepo{s: s} }

func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order, subs []domain.VendorSubOrder) error {
	var err error
	r.s.write(func(d *state) {
		for _, existing := range d.orders {
			if existing.OrderNumber == o.OrderNumber {
				err = fmt.Errorf("insert order: duplicate order number %s", o.OrderNumber)
				return
			}
		}
		d.orders[o.ID] = *o
		ids := make([]uuid.UUID, 0, len(subs))
		for _, s := range subs {
			d.subOrders[s.ID] = s
			ids = append(ids, s.ID)
		}
		d.subsByOrder[o.ID] = ids
	})
	return err
}

func (r *OrderRepo) OrderNumberExists(ctx context.Context, tx pgx.Tx, orderNumber string) (bool, error) {
	var exists bool
	r.s.read(func(d *state) {
		for _, o := range d.orders {
			if o.OrderNumber == orderNumber {
				exists = true
				return
			}
		}
	})
	return exists, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var out *domain.Order
	r.s.read(func(d *state) {
		if o, ok := d.orders[id]; ok {
			out = &o
		}
	})
	return out, nil
}

func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *OrderRepo) GetByIntentRefForUpdate(ctx context.Context, tx pgx.Tx, intentRef string) (*domain.Order, error) {
	var out *domain.Order
	r.s.read(func(d *state) {
		for _, o := range d.orders {
			if o.PaymentIntentRef != nil && *o.PaymentIntentRef == intentRef {
				out = &o
				return
			}
		}
	})
	return out, nil
}

func (r *OrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	var err error
	o.UpdatedAt = time.Now().UTC()
	r.s.write(func(d *state) {
		existing, ok := d.orders[o.ID]
		if !ok {
			err = fmt.Errorf("order not found: %s", o.ID)
			return
		}
		existing.Status = o.Status
		existing.PaymentStatus = o.PaymentStatus
		existing.PaymentMethod = o.PaymentMethod
		existing.PaymentIntentRef = o.PaymentIntentRef
		existing.GatewayTransactionID = o.GatewayTransactionID
		existing.PaidAt = o.PaidAt
		existing.CancelledAt = o.CancelledAt
		existing.UpdatedAt = o.UpdatedAt
		d.orders[o.ID] = existing
	})
	return err
}

func (r *OrderRepo) ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]domain.VendorSubOrder, error) {
	var out []domain.VendorSubOrder
	r.s.read(func(d *state) {
		for _, id := range d.subsByOrder[orderID] {
			out = append(out, d.subOrders[id])
		}
	})
	return out, nil
}

func (r *OrderRepo) SubOrdersForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.VendorSubOrder, error) {
	return r.ListSubOrders(ctx, orderID)
}

func (r *OrderRepo) GetSubOrder(ctx context.Context, id uuid.UUID) (*domain.VendorSubOrder, error) {
	return r.GetSubOrderForUpdate(ctx, nil, id)
}

func (r *OrderRepo) GetSubOrderForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.VendorSubOrder, error) {
	var out *domain.VendorSubOrder
	r.s.read(func(d *state) {
		if s, ok := d.subOrders[id]; ok {
			out = &s
		}
	})
	return out, nil
}

func (r *OrderRepo) UpdateSubOrder(ctx context.Context, tx pgx.Tx, s *domain.VendorSubOrder) error {
	var err error
	s.UpdatedAt = time.Now().UTC()
	r.s.write(func(d *state) {
		existing, ok := d.subOrders[s.ID]
		if !ok {
			err = fmt.Errorf("sub-order not found: %s", s.ID)
			return
		}
		existing.Status = s.Status
		existing.CreditedAt = s.CreditedAt
		existing.MaturedAt = s.MaturedAt
		existing.UpdatedAt = s.UpdatedAt
		d.subOrders[s.ID] = existing
	})
	return err
}

func (r *OrderRepo) ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var found []domain.Order
	r.s.read(func(d *state) {
		for _, o := range d.orders {
			unpaid := o.PaymentStatus == domain.PaymentStatusPending || o.PaymentStatus == domain.PaymentStatusFailed
			if unpaid && o.Status != domain.OrderStatusCancelled && o.CreatedAt.Before(cutoff) {
				found = append(found, o)
			}
		}
	})
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	ids := make([]uuid.UUID, 0, min(len(found), limit))
	for _, o := range found[:min(len(found), limit)] {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (r *OrderRepo) ListMaturable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var found []domain.VendorSubOrder
	r.s.read(func(d *state) {
		for _, s := range d.subOrders {
			if s.CreditedAt != nil && s.MaturedAt == nil && s.CreditedAt.Before(cutoff) {
				found = append(found, s)
			}
		}
	})
	sort.Slice(found, func(i, j int) bool { return found[i].CreditedAt.Before(*found[j].CreditedAt) })
	ids := make([]uuid.UUID, 0, min(len(found), limit))
	for _, s := range found[:min(len(found), limit)] {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (r *OrderRepo) ListPendingByVendor(ctx context.Context, vendorID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var found []domain.VendorSubOrder
	r.s.read(func(d *state) {
		for _, s := range d.subOrders {
			if s.VendorID == vendorID && s.CreditedAt != nil && s.MaturedAt == nil {
				found = append(found, s)
			}
		}
	})
	sort.Slice(found, func(i, j int) bool {
		if !found[i].CreditedAt.Equal(*found[j].CreditedAt) {
			return found[i].CreditedAt.Before(*found[j].CreditedAt)
		}
		return found[i].ID.String() < found[j].ID.String()
	})
	ids := make([]uuid.UUID, 0, min(len(found), limit))
	for _, s := range found[:min(len(found), limit)] {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// --- Ledger ---

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct{ s *Store }

// Wallets returns the wallet repository view of the store.
func (s *Store) Wallets() *WalletRepo { return &WalletRepo{s: s} }

func (r *WalletRepo) GetByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	var out *domain.Wallet
	r.s.read(func(d *state) {
		if w, ok := d.wallets[vendorID]; ok {
			out = &w
		}
	})
	return out, nil
}

func (r *WalletRepo) GetByVendorIDForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error) {
	return r.GetByVendorID(ctx, vendorID)
}

func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	r.s.write(func(d *state) {
		if _, ok := d.wallets[w.VendorID]; !ok {
			d.wallets[w.VendorID] = *w
		}
	})
	return nil
}

func (r *WalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	var err error
	r.s.write(func(d *state) {
		existing, ok := d.wallets[w.VendorID]
		if !ok || existing.Version != w.Version {
			err = fmt.Errorf("wallet %s: version conflict", w.VendorID)
			return
		}
		w.Version++
		w.UpdatedAt = time.Now().UTC()
		d.wallets[w.VendorID] = *w
	})
	return err
}

func (r *WalletRepo) AddEntry(ctx context.Context, tx pgx.Tx, e *domain.WalletEntry) error {
	r.s.write(func(d *state) { d.entries = append(d.entries, *e) })
	return nil
}

func (r *WalletRepo) ListEntries(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.WalletEntry, int64, error) {
	var all []domain.WalletEntry
	r.s.read(func(d *state) {
		for _, e := range d.entries {
			if e.VendorID == vendorID {
				all = append(all, e)
			}
		}
	})
	// Journal is append-only, so reversed insertion order is newest first.
	slices.Reverse(all)
	total := int64(len(all))
	if offset >= len(all) {
		return []domain.WalletEntry{}, total, nil
	}
	return all[offset:min(offset+limit, len(all))], total, nil
}

// --- Payouts ---

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct{ s *Store }

// Payouts returns the payout repository view of the store.
func (s *Store) Payouts() *PayoutRepo { return &PayoutRepo{s: s} }

func (r *PayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error {
	r.s.write(func(d *state) { d.payouts[p.ID] = *p })
	return nil
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	var out *domain.PayoutRequest
	r.s.read(func(d *state) {
		if p, ok := d.payouts[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *PayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *PayoutRepo) GetByTransferRefForUpdate(ctx context.Context, tx pgx.Tx, ref string) (*domain.PayoutRequest, error) {
	var out *domain.PayoutRequest
	r.s.read(func(d *state) {
		for _, p := range d.payouts {
			if p.TransactionReference != nil && *p.TransactionReference == ref {
				out = &p
				return
			}
		}
	})
	return out, nil
}

func (r *PayoutRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error {
	var err error
	p.UpdatedAt = time.Now().UTC()
	r.s.write(func(d *state) {
		if _, ok := d.payouts[p.ID]; !ok {
			err = fmt.Errorf("payout not found: %s", p.ID)
			return
		}
		d.payouts[p.ID] = *p
	})
	return err
}

func (r *PayoutRepo) ListByVendor(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.PayoutRequest, int64, error) {
	var all []domain.PayoutRequest
	r.s.read(func(d *state) {
		for _, p := range d.payouts {
			if p.VendorID == vendorID {
				all = append(all, p)
			}
		}
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return bytes.Compare(all[i].ID[:], all[j].ID[:]) > 0
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []domain.PayoutRequest{}, total, nil
	}
	return all[offset:min(offset+limit, len(all))], total, nil
}

func (r *PayoutRepo) ListRetryable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var found []domain.PayoutRequest
	r.s.read(func(d *state) {
		for _, p := range d.payouts {
			if p.Status == domain.PayoutStatusApproved && p.LastFailureReason != nil {
				found = append(found, p)
			}
		}
	})
	sort.Slice(found, func(i, j int) bool { return found[i].UpdatedAt.Before(found[j].UpdatedAt) })
	ids := make([]uuid.UUID, 0, min(len(found), limit))
	for _, p := range found[:min(len(found), limit)] {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (r *PayoutRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var found []domain.PayoutRequest
	r.s.read(func(d *state) {
		for _, p := range d.payouts {
			if p.Status == domain.PayoutStatusProcessing && p.TransactionReference == nil && p.UpdatedAt.Before(cutoff) {
				found = append(found, p)
			}
		}
	})
	sort.Slice(found, func(i, j int) bool { return found[i].UpdatedAt.Before(found[j].UpdatedAt) })
	ids := make([]uuid.UUID, 0, min(len(found), limit))
	for _, p := range found[:min(len(found), limit)] {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// --- Webhooks and audit ---

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct{ s *Store }

// WebhookEvents returns the webhook event repository view of the store.
func (s *Store) WebhookEvents() *WebhookEventRepo { return &WebhookEventRepo{s: s} }

func (r *WebhookEventRepo) Claim(ctx context.Context, tx pgx.Tx, ev *domain.WebhookEvent) (bool, error) {
	claimed := false
	r.s.write(func(d *state) {
		if _, ok := d.webhookEvents[ev.EventID]; ok {
			return
		}
		d.webhookEvents[ev.EventID] = *ev
		claimed = true
	})
	return claimed, nil
}

func (r *WebhookEventRepo) SetResult(ctx context.Context, tx pgx.Tx, eventID string, result domain.WebhookResult) error {
	r.s.write(func(d *state) {
		if ev, ok := d.webhookEvents[eventID]; ok {
			ev.Result = result
			d.webhookEvents[eventID] = ev
		}
	})
	return nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct{ s *Store }

// Audit returns the audit repository view of the store.
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.s.write(func(d *state) { d.audit = append(d.audit, *log) })
	return nil
}

// List returns audit records in insertion order.
func (r *AuditRepo) List() []domain.AuditLog {
	var out []domain.AuditLog
	r.s.read(func(d *state) { out = slices.Clone(d.audit) })
	return out
}
