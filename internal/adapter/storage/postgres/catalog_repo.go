package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct {
	pool Pool
}

// NewProductRepo creates a new ProductRepo.
func NewProductRepo(pool Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

const productColumns = `id, vendor_id, name, price, stock, sales_count, is_active`

func scanProduct(row rowScanner) (*domain.Product, error) {
	p := &domain.Product{}
	err := row.Scan(&p.ID, &p.VendorID, &p.Name, &p.Price, &p.Stock, &p.SalesCount, &p.IsActive)
	return p, err
}

// GetByIDsForUpdate locks the requested products in id order so concurrent
// checkouts touching the same products cannot deadlock.
func (r *ProductRepo) GetByIDsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`

	rows, err := tx.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// AdjustStock applies stock and sales-count deltas. The stock guard lives in
// the WHERE clause so the row is never driven negative.
func (r *ProductRepo) AdjustStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, stockDelta, salesDelta int64) error {
	query := `UPDATE products SET stock = stock + $2, sales_count = GREATEST(sales_count + $3, 0)
		WHERE id = $1 AND stock + $2 >= 0`

	tag, err := tx.Exec(ctx, query, id, stockDelta, salesDelta)
	if err != nil {
		return fmt.Errorf("adjust product stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjust product stock: product %s missing or stock would go negative", id)
	}
	return nil
}

// GetByID fetches a product (non-locking read).
func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product by id: %w", err)
	}
	return p, nil
}

// Upsert creates or replaces a catalog row.
func (r *ProductRepo) Upsert(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = EXCLUDED.vendor_id, name = EXCLUDED.name, price = EXCLUDED.price,
			stock = EXCLUDED.stock, is_active = EXCLUDED.is_active`

	_, err := r.pool.Exec(ctx, query, p.ID, p.VendorID, p.Name, p.Price, p.Stock, p.SalesCount, p.IsActive)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// VendorRepo implements ports.VendorRepository.
type VendorRepo struct {
	pool Pool
}

// NewVendorRepo creates a new VendorRepo.
func NewVendorRepo(pool Pool) *VendorRepo {
	return &VendorRepo{pool: pool}
}

// GetByIDs returns the vendors that exist among ids.
func (r *VendorRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Vendor, error) {
	query := `SELECT id, name, commission_rate::text, created_at, updated_at
		FROM vendors WHERE id = ANY($1::uuid[])`

	rows, err := r.pool.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("get vendors: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*domain.Vendor, len(ids))
	for rows.Next() {
		v := &domain.Vendor{}
		var rate string
		if err := rows.Scan(&v.ID, &v.Name, &rate, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		if v.CommissionRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("vendor %s commission rate: %w", v.ID, err)
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendors: %w", err)
	}
	return out, nil
}

// Upsert creates or updates a vendor profile.
func (r *VendorRepo) Upsert(ctx context.Context, v *domain.Vendor) error {
	query := `INSERT INTO vendors (id, name, commission_rate, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, commission_rate = EXCLUDED.commission_rate, updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query, v.ID, v.Name, v.CommissionRate.String(), v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vendor: %w", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
