package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/emviapp/emviapp-backend/models"
)

type webhookRepository struct {
	q querier
}

// Claim relies on the (provider, event_id) primary key: a second insert of
// the same key affects zero rows.
func (r *webhookRepository) Claim(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	const q = `INSERT INTO webhook_events (provider, event_id, event_type, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id) DO NOTHING`

	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}

	tag, err := r.q.Exec(ctx, q, event.Provider, event.EventID, event.EventType, event.Payload, event.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *webhookRepository) IsProcessed(ctx context.Context, provider models.WebhookProvider, eventID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM webhook_events WHERE provider = $1 AND event_id = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, q, provider, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}

	return exists, nil
}
