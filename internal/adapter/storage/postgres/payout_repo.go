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
)

// PayoutRepo implements ports.PayoutRepository.
type PayoutRepo struct {
	pool Pool
}

// NewPayoutRepo creates a new PayoutRepo.
func NewPayoutRepo(pool Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

const payoutColumns = `id, vendor_id, requested_amount, fee_breakdown, net_amount, currency, payment_method_id,
	status, rejection_reason, transaction_reference, last_failure_reason, attempts, reviewed_by,
	created_at, updated_at, completed_at`

func scanPayout(row rowScanner) (*domain.PayoutRequest, error) {
	p := &domain.PayoutRequest{}
	var fees []byte
	err := row.Scan(
		&p.ID, &p.VendorID, &p.RequestedAmount, &fees, &p.NetAmount, &p.Currency, &p.PaymentMethodID,
		&p.Status, &p.RejectionReason, &p.TransactionReference, &p.LastFailureReason, &p.Attempts, &p.ReviewedBy,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fees, &p.Fees); err != nil {
		return nil, fmt.Errorf("decode fee breakdown: %w", err)
	}
	return p, nil
}

// Create inserts a payout request within tx.
func (r *PayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error {
	fees, err := json.Marshal(p.Fees)
	if err != nil {
		return fmt.Errorf("encode fee breakdown: %w", err)
	}

	query := `INSERT INTO payout_requests (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = tx.Exec(ctx, query,
		p.ID, p.VendorID, p.RequestedAmount, fees, p.NetAmount, p.Currency, p.PaymentMethodID,
		p.Status, p.RejectionReason, p.TransactionReference, p.LastFailureReason, p.Attempts, p.ReviewedBy,
		p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		return insertError("insert payout", err)
	}
	return nil
}

// GetByID fetches a payout (non-locking read).
func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1`

	p, err := scanPayout(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout by id: %w", err)
	}
	return p, nil
}

// GetByIDForUpdate fetches a payout with pessimistic locking.
func (r *PayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1 FOR UPDATE`

	p, err := scanPayout(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout for update: %w", err)
	}
	return p, nil
}

// GetByTransferRefForUpdate resolves a gateway transfer reference to its payout.
func (r *PayoutRepo) GetByTransferRefForUpdate(ctx context.Context, tx pgx.Tx, ref string) (*domain.PayoutRequest, error) {
	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE transaction_reference = $1 FOR UPDATE`

	p, err := scanPayout(tx.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payout by transfer ref: %w", err)
	}
	return p, nil
}

// Update writes the workflow columns. Amounts and fees are immutable after creation.
func (r *PayoutRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error {
	p.UpdatedAt = time.Now().UTC()
	query := `UPDATE payout_requests SET status = $2, rejection_reason = $3, transaction_reference = $4,
		last_failure_reason = $5, attempts = $6, reviewed_by = $7, updated_at = $8, completed_at = $9
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		p.ID, p.Status, p.RejectionReason, p.TransactionReference,
		p.LastFailureReason, p.Attempts, p.ReviewedBy, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout not found: %s", p.ID)
	}
	return nil
}

// ListByVendor pages through a vendor's payouts, newest first.
func (r *PayoutRepo) ListByVendor(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.PayoutRequest, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payout_requests WHERE vendor_id = $1`, vendorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payouts: %w", err)
	}

	query := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE vendor_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, vendorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	payouts := make([]domain.PayoutRequest, 0, limit)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payout: %w", err)
		}
		payouts = append(payouts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payouts: %w", err)
	}
	return payouts, total, nil
}

// ListRetryable returns approved payouts whose last transfer attempt failed in transport.
func (r *PayoutRepo) ListRetryable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM payout_requests
		WHERE status = 'approved' AND last_failure_reason IS NOT NULL
		ORDER BY updated_at LIMIT $1`

	return r.listIDs(ctx, "list retryable payouts", query, limit)
}

func (r *PayoutRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM payout_requests
		WHERE status = 'processing' AND transaction_reference IS NULL AND updated_at < $1
		ORDER BY updated_at LIMIT $2`
	return r.listIDs(ctx, "list stale processing payouts", query, cutoff, limit)
}

func (r *PayoutRepo) listIDs(ctx context.Context, op, query string, args ...any) ([]uuid.UUID, error) {
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
