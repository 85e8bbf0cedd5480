// Package inbox remembers which Kafka events this service has already
// applied, keyed by the event_id header (or the message key).
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidyslot/tidyslot/libs/db"
)

var ErrMissingEventID = errors.New("inbox: event has no id")

type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

// Record claims eventID and reports false when it was claimed before.
func (r *Repository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, ErrMissingEventID
	}
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("record %s event %s: %w", eventType, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Forget releases a claim after the handler gave up, so a redelivery of the
// same event is applied.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, strings.TrimSpace(eventID)); err != nil {
		return fmt.Errorf("forget event %s: %w", eventID, err)
	}
	return nil
}
