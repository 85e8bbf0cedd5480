// Package busy assembles every interval during which an owner cannot be
// booked: their confirmed bookings plus whatever linked external calendars
// report.
package busy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tidyslot/tidyslot/libs/metrics"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/calendar"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

type BookingReader interface {
	ConfirmedOverlapping(ctx context.Context, ownerID string, start, end time.Time) ([]model.Booking, error)
}

type Aggregator struct {
	bookings     BookingReader
	sources      []calendar.Source
	fetchTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.AvailabilityMetrics
	tracer       trace.Tracer
}

func NewAggregator(bookings BookingReader, sources []calendar.Source, fetchTimeout time.Duration, logger *slog.Logger, m *metrics.AvailabilityMetrics) *Aggregator {
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	return &Aggregator{
		bookings:     bookings,
		sources:      sources,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		metrics:      m,
		tracer:       otel.Tracer("availability-service/busy"),
	}
}

// BusyIntervals returns the owner's busy intervals overlapping [start, end),
// sorted by start. Only calendar.ErrNoIntegration is treated as "nothing to
// add"; any other source failure, timeouts included, yields a
// *apperr.DegradedAvailabilityError.
func (a *Aggregator) BusyIntervals(ctx context.Context, ownerID string, start, end time.Time) ([]model.BusyInterval, error) {
	ctx, span := a.tracer.Start(ctx, "busy.intervals", trace.WithAttributes(
		attribute.String("owner.id", ownerID),
		attribute.Int("busy.sources", len(a.sources)),
	))
	defer span.End()

	var (
		mu  sync.Mutex
		out []model.BusyInterval
	)
	add := func(in []model.BusyInterval) {
		mu.Lock()
		out = append(out, in...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bookings, err := a.bookings.ConfirmedOverlapping(gctx, ownerID, start, end)
		if err != nil {
			return fmt.Errorf("load confirmed bookings: %w", err)
		}
		intervals := make([]model.BusyInterval, 0, len(bookings))
		for _, b := range bookings {
			intervals = append(intervals, model.BusyInterval{
				OwnerID:   ownerID,
				Start:     b.Start.UTC(),
				End:       b.End.UTC(),
				Source:    model.SourceConfirmedBooking,
				SourceRef: b.ID,
			})
		}
		add(intervals)
		return nil
	})
	for _, src := range a.sources {
		g.Go(func() error {
			intervals, err := a.fetch(gctx, src, ownerID, start, end)
			if err != nil {
				return err
			}
			add(intervals)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return normalize(out, start, end), nil
}

func (a *Aggregator) fetch(ctx context.Context, src calendar.Source, ownerID string, start, end time.Time) ([]model.BusyInterval, error) {
	fctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	intervals, err := src.FetchBusyIntervals(fctx, ownerID, start, end)
	switch {
	case err == nil:
		a.metrics.ObserveExternalFetch(src.Name(), "ok")
		for i := range intervals {
			intervals[i].OwnerID = ownerID
			intervals[i].Source = model.SourceExternalCalendar
		}
		return intervals, nil
	case errors.Is(err, calendar.ErrNoIntegration):
		a.metrics.ObserveExternalFetch(src.Name(), "no_integration")
		return nil, nil
	}

	// The caller went away; that is not the calendar's fault.
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	result := "transient"
	switch {
	case errors.Is(err, calendar.ErrReauthRequired):
		result = "reauth_required"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded):
		result = "timeout"
	}
	a.metrics.ObserveExternalFetch(src.Name(), result)
	a.logger.Warn("external busy fetch failed; availability degraded",
		"owner_id", ownerID, "source", src.Name(), "result", result, "err", err)
	return nil, &apperr.DegradedAvailabilityError{OwnerID: ownerID, Source: src.Name(), Err: err}
}

// normalize drops empty or out-of-range intervals, collapses duplicate
// (source, sourceRef) pairs and sorts by start.
func normalize(in []model.BusyInterval, start, end time.Time) []model.BusyInterval {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.BusyInterval, 0, len(in))
	for _, b := range in {
		b.Start, b.End = b.Start.UTC(), b.End.UTC()
		if !b.End.After(b.Start) || !b.Start.Before(end) || !b.End.After(start) {
			continue
		}
		if b.SourceRef != "" {
			key := string(b.Source) + "|" + b.SourceRef
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
