package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

const TopicCalendarBusyChanged = "calendar.busy.changed.v1"

// Invalidator drops cached external busy intervals for an owner.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID string) error
}

type busyChangedPayload struct {
	OwnerID string `json:"owner_id"`
}

// BusyChangedHandler invalidates the owner's cached calendar data when a
// linked calendar reports a change.
func BusyChangedHandler(inv Invalidator) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload busyChangedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("decode busy changed event: %w", err)
		}
		owner := strings.TrimSpace(payload.OwnerID)
		if owner == "" {
			return errors.New("busy changed event without owner_id")
		}
		return inv.Invalidate(ctx, owner)
	}
}
