package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactor_WithinTx_Commits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tr := NewTransactor(mock, 2, time.Millisecond)
	err = tr.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "UPDATE wallets SET version = version + 1")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_WithinTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("insufficient funds")
	tr := NewTransactor(mock, 2, time.Millisecond)
	calls := 0
	err = tr.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-retryable errors must not re-run fn")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_WithinTx_RetriesSerializationFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	tr := NewTransactor(mock, 3, time.Millisecond)
	calls := 0
	err = tr.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("lock wallet: %w", &pgconn.PgError{Code: sqlStateSerializationFailure})
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_WithinTx_GivesUpAfterMaxRetries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	tr := NewTransactor(mock, 1, time.Millisecond)
	err = tr.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return &pgconn.PgError{Code: sqlStateDeadlockDetected}
	})
	require.Error(t, err)
	assert.True(t, IsRetryableTxError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_WithinTx_BeginFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	tr := NewTransactor(mock, 0, 0)
	err = tr.WithinTx(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		t.Fatal("fn must not run without a transaction")
		return nil
	})
	assert.ErrorContains(t, err, "begin tx")
}

func TestIsRetryableTxError(t *testing.T) {
	assert.True(t, IsRetryableTxError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryableTxError(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, IsRetryableTxError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryableTxError(errors.New("plain")))
	assert.False(t, IsRetryableTxError(nil))
}
