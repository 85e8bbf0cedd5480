// Package calendar adapts external calendars into busy intervals. Sources
// report three typed failures so callers can tell "nothing linked" apart from
// "linked but unreadable".
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

var (
	// ErrNoIntegration means the owner has no linked calendar for the source.
	ErrNoIntegration = errors.New("calendar: no integration linked")
	// ErrReauthRequired means a linked calendar's credentials were revoked or expired.
	ErrReauthRequired = errors.New("calendar: reauthorization required")
	// ErrTransientFetch covers timeouts, 5xx and network failures.
	ErrTransientFetch = errors.New("calendar: transient fetch failure")
)

// Source returns external busy intervals for an owner over [start, end).
type Source interface {
	Name() string
	FetchBusyIntervals(ctx context.Context, ownerID string, start, end time.Time) ([]model.BusyInterval, error)
}
