package postgres

import (
	"context"
	"fmt"

	"marketplace-settlement/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// Claim records the event id; the primary key turns a replay into a no-op insert.
func (r *WebhookEventRepo) Claim(ctx context.Context, tx pgx.Tx, ev *domain.WebhookEvent) (bool, error) {
	query := `INSERT INTO webhook_events (event_id, event_type, raw_type, reference, result, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		ev.EventID, ev.EventType, ev.RawType, ev.Reference, ev.Result, ev.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetResult stores the reconciliation outcome.
func (r *WebhookEventRepo) SetResult(ctx context.Context, tx pgx.Tx, eventID string, result domain.WebhookResult) error {
	_, err := tx.Exec(ctx, `UPDATE webhook_events SET result = $2 WHERE event_id = $1`, eventID, result)
	if err != nil {
		return fmt.Errorf("set webhook result: %w", err)
	}
	return nil
}
