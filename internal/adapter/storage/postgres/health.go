package postgres

import (
	"context"
	"errors"
	"fmt"
)

// schemaProbe looks for the table created by the newest migration.
const schemaProbe = `SELECT to_regclass('public.audit_logs') IS NOT NULL`

var errSchemaMissing = errors.New("ledger schema not found, run migrations")

// HealthCheck reports whether the ledger database is reachable and migrated.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var migrated bool
	if err := h.pool.QueryRow(ctx, schemaProbe).Scan(&migrated); err != nil {
		return fmt.Errorf("postgres probe: %w", err)
	}
	if !migrated {
		return errSchemaMissing
	}
	return nil
}

func (h *HealthCheck) Name() string { return "postgresql" }
