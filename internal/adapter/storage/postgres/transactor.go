package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-settlement/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// Transactor implements ports.DBTransactor using pgxpool.Pool.
type Transactor struct {
	pool       Pool
	maxRetries uint64
	backoff    time.Duration
}

// NewTransactor creates a new Transactor wrapping the connection pool.
// maxRetries bounds how often WithinTx re-runs a transaction that lost a
// serialization or deadlock race.
func NewTransactor(pool Pool, maxRetries uint64, backoff time.Duration) *Transactor {
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	return &Transactor{pool: pool, maxRetries: maxRetries, backoff: backoff}
}

// Begin starts a new database transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}

// WithinTx runs fn in a transaction and commits it.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	b := retry.WithMaxRetries(t.maxRetries, retry.NewExponential(t.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := t.runOnce(ctx, fn)
		if IsRetryableTxError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (t *Transactor) runOnce(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsRetryableTxError reports whether err is a serialization failure or deadlock.
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// insertError maps a unique violation to a 409 so a lost insert race is not
// reported as an internal failure.
func insertError(what string, err error) error {
	if isUniqueViolation(err) {
		return apperror.ErrDuplicateOperation(err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
