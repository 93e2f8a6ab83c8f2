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

// ErrWalletVersionConflict is returned when a wallet row changed between read and write.
var ErrWalletVersionConflict = errors.New("wallet version conflict")

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = `vendor_id, currency, pending_balance, available_balance, reserved_balance,
	total_credited, total_withdrawn, version, created_at, updated_at`

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.VendorID, &w.Currency, &w.PendingBalance, &w.AvailableBalance, &w.ReservedBalance,
		&w.TotalCredited, &w.TotalWithdrawn, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

// Create inserts a wallet unless one already exists for the vendor.
func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (vendor_id) DO NOTHING`

	_, err := tx.Exec(ctx, query,
		w.VendorID, w.Currency, w.PendingBalance, w.AvailableBalance, w.ReservedBalance,
		w.TotalCredited, w.TotalWithdrawn, w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByVendorID fetches a wallet (non-locking read).
func (r *WalletRepo) GetByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE vendor_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, vendorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by vendor: %w", err)
	}
	return w, nil
}

// GetByVendorIDForUpdate fetches a wallet with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByVendorIDForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE vendor_id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, vendorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet for update: %w", err)
	}
	return w, nil
}

// Update writes the balances if the row still carries w.Version, then bumps it.
func (r *WalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	now := time.Now().UTC()
	query := `UPDATE wallets SET pending_balance = $2, available_balance = $3, reserved_balance = $4,
		total_credited = $5, total_withdrawn = $6, version = version + 1, updated_at = $7
		WHERE vendor_id = $1 AND version = $8`

	tag, err := tx.Exec(ctx, query,
		w.VendorID, w.PendingBalance, w.AvailableBalance, w.ReservedBalance,
		w.TotalCredited, w.TotalWithdrawn, now, w.Version,
	)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", w.VendorID, ErrWalletVersionConflict)
	}
	w.Version++
	w.UpdatedAt = now
	return nil
}

// AddEntry appends a journal row.
func (r *WalletRepo) AddEntry(ctx context.Context, tx pgx.Tx, e *domain.WalletEntry) error {
	query := `INSERT INTO wallet_entries (id, vendor_id, entry_type, amount, pending_after, available_after,
		reserved_after, reference_type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.VendorID, e.EntryType, e.Amount, e.PendingAfter, e.AvailableAfter,
		e.ReservedAfter, e.ReferenceType, e.ReferenceID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet entry: %w", err)
	}
	return nil
}

// ListEntries pages through a vendor's journal, newest first.
func (r *WalletRepo) ListEntries(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.WalletEntry, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_entries WHERE vendor_id = $1`, vendorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wallet entries: %w", err)
	}

	query := `SELECT id, vendor_id, entry_type, amount, pending_after, available_after, reserved_after,
		reference_type, reference_id, created_at
		FROM wallet_entries WHERE vendor_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, vendorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallet entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.WalletEntry, 0, limit)
	for rows.Next() {
		var e domain.WalletEntry
		if err := rows.Scan(
			&e.ID, &e.VendorID, &e.EntryType, &e.Amount, &e.PendingAfter, &e.AvailableAfter, &e.ReservedAfter,
			&e.ReferenceType, &e.ReferenceID, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan wallet entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate wallet entries: %w", err)
	}
	return entries, total, nil
}
