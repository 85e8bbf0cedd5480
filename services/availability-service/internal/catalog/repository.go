// Package catalog reads the booking policy of services owned by the catalog
// collaborator.
package catalog

import (
	"context"
	"fmt"

	"github.com/tidyslot/tidyslot/libs/db"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) Service(ctx context.Context, serviceID string) (model.Service, error) {
	var svc model.Service
	err := r.conn.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, slot_duration_minutes, lead_time_days, turnaround_days, booking_window_days
		FROM services
		WHERE id = $1
	`, serviceID).Scan(
		&svc.ID,
		&svc.OwnerID,
		&svc.Name,
		&svc.SlotDurationMinutes,
		&svc.LeadTimeDays,
		&svc.TurnaroundDays,
		&svc.BookingWindowDays,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Service{}, apperr.NotFound("service", serviceID)
		}
		return model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if svc.SlotDurationMinutes <= 0 {
		return model.Service{}, fmt.Errorf("service %s has no slot duration", serviceID)
	}
	return svc, nil
}
