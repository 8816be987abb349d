package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthline/waitlist/internal/model"
)

// InsertAnalyticsEvent stores one analytics event.
func (r *Repository) InsertAnalyticsEvent(ctx context.Context, event *model.AnalyticsEvent) error {
	query := `
		INSERT INTO analytics_events (
			id, name, path, session_id, referrer,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			properties, visitor_hash, occurred_at, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	props := event.Properties
	if len(props) == 0 {
		props = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.Name,
		event.Path,
		event.SessionID,
		event.Referrer,
		event.Attribution.Source,
		event.Attribution.Medium,
		event.Attribution.Campaign,
		event.Attribution.Term,
		event.Attribution.Content,
		[]byte(props),
		event.VisitorHash,
		event.OccurredAt,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}

	return nil
}
