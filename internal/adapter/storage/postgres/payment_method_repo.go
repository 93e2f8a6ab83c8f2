package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentMethodRepo implements ports.PaymentMethodRepository.
type PaymentMethodRepo struct {
	pool Pool
}

// NewPaymentMethodRepo creates a new PaymentMethodRepo.
func NewPaymentMethodRepo(pool Pool) *PaymentMethodRepo {
	return &PaymentMethodRepo{pool: pool}
}

const paymentMethodColumns = `id, vendor_id, type, destination_enc, last4, verified, created_at, verified_at`

func scanPaymentMethod(row rowScanner) (*domain.PaymentMethod, error) {
	m := &domain.PaymentMethod{}
	err := row.Scan(&m.ID, &m.VendorID, &m.Type, &m.DestinationEnc, &m.Last4, &m.Verified, &m.CreatedAt, &m.VerifiedAt)
	return m, err
}

// Create inserts a new payment method.
func (r *PaymentMethodRepo) Create(ctx context.Context, m *domain.PaymentMethod) error {
	query := `INSERT INTO payment_methods (` + paymentMethodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.VendorID, m.Type, m.DestinationEnc, m.Last4, m.Verified, m.CreatedAt, m.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

// GetByID fetches a payment method by its UUID.
func (r *PaymentMethodRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE id = $1`

	m, err := scanPaymentMethod(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	return m, nil
}

// ListByVendor returns every method registered by a vendor.
func (r *PaymentMethodRepo) ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE vendor_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []domain.PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		methods = append(methods, *m)
	}
	return methods, rows.Err()
}

// MarkVerified flags a method as verified.
func (r *PaymentMethodRepo) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_methods SET verified = TRUE, verified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("verify payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment method not found: %s", id)
	}
	return nil
}
