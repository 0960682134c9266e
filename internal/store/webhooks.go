package store

import (
	"context"
	"fmt"
)

type Webhook struct {
	ID           string
	Name         string
	URL          string
	TriggerEvent string
	Active       bool
}

// ActiveWebhooks lists the active webhooks registered for event.
func (s *Store) ActiveWebhooks(ctx context.Context, event string) ([]Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, webhook_url, trigger_event, is_active
		FROM webhooks
		WHERE trigger_event = $1 AND is_active AND webhook_url <> ''
		ORDER BY created_at ASC`,
		event,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		var w Webhook
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.TriggerEvent, &w.Active); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
