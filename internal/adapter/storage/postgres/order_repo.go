package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, order_number, customer_id, lines, subtotal, shipping_cost, tax, total, currency,
	status, payment_status, payment_method, payment_intent_ref, gateway_transaction_id,
	paid_at, cancelled_at, created_at, updated_at`

const subOrderColumns = `id, order_id, vendor_id, lines, subtotal, commission_rate::text, commission,
	vendor_earnings, shipping_share, tax_share, status, credited_at, matured_at, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	o := &domain.Order{}
	var lines []byte
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &lines, &o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total, &o.Currency,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentIntentRef, &o.GatewayTransactionID,
		&o.PaidAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("decode order lines: %w", err)
	}
	return o, nil
}

func scanSubOrder(row rowScanner) (*domain.VendorSubOrder, error) {
	s := &domain.VendorSubOrder{}
	var (
		lines []byte
		rate  string
	)
	err := row.Scan(
		&s.ID, &s.OrderID, &s.VendorID, &lines, &s.Subtotal, &rate, &s.Commission,
		&s.VendorEarnings, &s.ShippingShare, &s.TaxShare, &s.Status, &s.CreditedAt, &s.MaturedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &s.Lines); err != nil {
		return nil, fmt.Errorf("decode sub-order lines: %w", err)
	}
	if s.CommissionRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("decode commission rate: %w", err)
	}
	return s, nil
}

// Create inserts the order and all of its sub-orders within tx.
func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order, subs []domain.VendorSubOrder) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("encode order lines: %w", err)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = tx.Exec(ctx, query,
		o.ID, o.OrderNumber, o.CustomerID, lines, o.Subtotal, o.ShippingCost, o.Tax, o.Total, o.Currency,
		o.Status, o.PaymentStatus, o.PaymentMethod, o.PaymentIntentRef, o.GatewayTransactionID,
		o.PaidAt, o.CancelledAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return insertError("insert order", err)
	}

	subQuery := `INSERT INTO vendor_sub_orders (id, order_id, vendor_id, lines, subtotal, commission_rate, commission,
		vendor_earnings, shipping_share, tax_share, status, credited_at, matured_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	for i := range subs {
		s := &subs[i]
		subLines, err := json.Marshal(s.Lines)
		if err != nil {
			return fmt.Errorf("encode sub-order lines: %w", err)
		}
		_, err = tx.Exec(ctx, subQuery,
			s.ID, s.OrderID, s.VendorID, subLines, s.Subtotal, s.CommissionRate.String(), s.Commission,
			s.VendorEarnings, s.ShippingShare, s.TaxShare, s.Status, s.CreditedAt, s.MaturedAt,
			s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert sub-order for vendor %s: %w", s.VendorID, err)
		}
	}
	return nil
}

// OrderNumberExists checks the unique human-readable number before insert.
func (r *OrderRepo) OrderNumberExists(ctx context.Context, tx pgx.Tx, orderNumber string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`, orderNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

// GetByID fetches an order (non-locking read).
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// GetByIDForUpdate fetches an order with pessimistic locking.
// This MUST be called within a transaction.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order for update: %w", err)
	}
	return o, nil
}

// GetByIntentRefForUpdate resolves a gateway intent reference to its order and locks it.
func (r *OrderRepo) GetByIntentRefForUpdate(ctx context.Context, tx pgx.Tx, intentRef string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_ref = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, intentRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by intent ref: %w", err)
	}
	return o, nil
}

// Update writes the mutable order columns.
func (r *OrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	o.UpdatedAt = time.Now().UTC()
	query := `UPDATE orders SET status = $2, payment_status = $3, payment_method = $4,
		payment_intent_ref = $5, gateway_transaction_id = $6, paid_at = $7, cancelled_at = $8, updated_at = $9
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		o.ID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.PaymentIntentRef, o.GatewayTransactionID, o.PaidAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", o.ID)
	}
	return nil
}

// ListSubOrders returns the sub-orders of an order in creation order.
func (r *OrderRepo) ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]domain.VendorSubOrder, error) {
	query := `SELECT ` + subOrderColumns + ` FROM vendor_sub_orders WHERE order_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list sub-orders: %w", err)
	}
	return collectSubOrders(rows)
}

// SubOrdersForUpdate locks every sub-order of an order.
func (r *OrderRepo) SubOrdersForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) ([]domain.VendorSubOrder, error) {
	query := `SELECT ` + subOrderColumns + ` FROM vendor_sub_orders WHERE order_id = $1 ORDER BY created_at, id FOR UPDATE`
	rows, err := tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("lock sub-orders: %w", err)
	}
	return collectSubOrders(rows)
}

func collectSubOrders(rows pgx.Rows) ([]domain.VendorSubOrder, error) {
	defer rows.Close()

	var out []domain.VendorSubOrder
	for rows.Next() {
		s, err := scanSubOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sub-order: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-orders: %w", err)
	}
	return out, nil
}

// GetSubOrderForUpdate fetches one sub-order with pessimistic locking.
// GetSubOrder reads a sub-order without locking it.
func (r *OrderRepo) GetSubOrder(ctx context.Context, id uuid.UUID) (*domain.VendorSubOrder, error) {
	query := `SELECT ` + subOrderColumns + ` FROM vendor_sub_orders WHERE id = $1`

	s, err := scanSubOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sub-order: %w", err)
	}
	return s, nil
}

func (r *OrderRepo) GetSubOrderForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.VendorSubOrder, error) {
	query := `SELECT ` + subOrderColumns + ` FROM vendor_sub_orders WHERE id = $1 FOR UPDATE`

	s, err := scanSubOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sub-order for update: %w", err)
	}
	return s, nil
}

// UpdateSubOrder writes status and ledger timestamps. Money columns are never rewritten.
func (r *OrderRepo) UpdateSubOrder(ctx context.Context, tx pgx.Tx, s *domain.VendorSubOrder) error {
	s.UpdatedAt = time.Now().UTC()
	query := `UPDATE vendor_sub_orders SET status = $2, credited_at = $3, matured_at = $4, updated_at = $5 WHERE id = $1`

	tag, err := tx.Exec(ctx, query, s.ID, s.Status, s.CreditedAt, s.MaturedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update sub-order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sub-order not found: %s", s.ID)
	}
	return nil
}

// ListExpiredUnpaid returns unpaid, uncancelled orders created before cutoff.
func (r *OrderRepo) ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM orders
		WHERE payment_status IN ('pending', 'failed') AND status <> 'cancelled' AND created_at < $1
		ORDER BY created_at LIMIT $2`
	return r.listIDs(ctx, "list expired orders", query, cutoff, limit)
}

// ListMaturable returns sub-orders credited to pending before cutoff and not yet matured.
func (r *OrderRepo) ListMaturable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM vendor_sub_orders
		WHERE credited_at IS NOT NULL AND matured_at IS NULL AND credited_at < $1
		ORDER BY credited_at LIMIT $2`
	return r.listIDs(ctx, "list maturable sub-orders", query, cutoff, limit)
}

func (r *OrderRepo) ListPendingByVendor(ctx context.Context, vendorID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM vendor_sub_orders
		WHERE vendor_id = $1 AND credited_at IS NOT NULL AND matured_at IS NULL
		ORDER BY credited_at, id LIMIT $2`
	return r.listIDs(ctx, "list pending sub-orders", query, vendorID, limit)
}

func (r *OrderRepo) listIDs(ctx context.Context, op, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}
