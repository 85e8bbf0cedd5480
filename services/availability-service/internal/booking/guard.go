// Package booking is the only writer of confirmed bookings. Reserve re-checks
// availability and inserts under a per-owner lock inside one transaction; the
// database exclusion constraint catches any writer that slips past the check.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidyslot/tidyslot/libs/metrics"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/outbox"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/tz"
)

// Tx is the transactional view of the booking store.
type Tx interface {
	LockOwner(ctx context.Context, ownerID string) error
	HasConfirmedOverlap(ctx context.Context, ownerID string, start, end time.Time) (bool, error)
	// Insert must report an exclusion violation as *apperr.ConflictError.
	Insert(ctx context.Context, b model.Booking) error
	GetForUpdate(ctx context.Context, bookingID string) (model.Booking, error)
	SetStatus(ctx context.Context, bookingID string, status model.BookingStatus, reason string, at time.Time) (model.Booking, error)
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Get(ctx context.Context, bookingID string) (model.Booking, error)
	ListForOwner(ctx context.Context, ownerID string, from, to time.Time, limit int) ([]model.Booking, error)
}

type Catalog interface {
	Service(ctx context.Context, serviceID string) (model.Service, error)
}

// SlotChecker reports whether [start, end) is currently an offered slot.
type SlotChecker interface {
	Offered(ctx context.Context, svc model.Service, start, end, now time.Time) (bool, error)
}

type Config struct {
	ReserveTimeout time.Duration
	ListLimit      int
	Now            func() time.Time
}

type Guard struct {
	store   Store
	catalog Catalog
	slots   SlotChecker
	logger  *slog.Logger
	metrics *metrics.AvailabilityMetrics
	tracer  trace.Tracer
	cfg     Config
}

func NewGuard(store Store, catalog Catalog, slots SlotChecker, logger *slog.Logger, m *metrics.AvailabilityMetrics, cfg Config) *Guard {
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 3 * time.Second
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 200
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{
		store:   store,
		catalog: catalog,
		slots:   slots,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("availability-service/booking"),
		cfg:     cfg,
	}
}

type ReserveRequest struct {
	ServiceID string
	Start     time.Time
	End       time.Time
	Timezone  string
	Invitee   model.Invitee
}

func (r *ReserveRequest) normalize() error {
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	if _, err := uuid.Parse(r.ServiceID); err != nil {
		return apperr.Validation("service_id", "must be a uuid")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return apperr.Validation("start", "start and end are required")
	}
	if !r.End.After(r.Start) {
		return apperr.Validation("end", "must be after start")
	}
	r.Start, r.End = r.Start.UTC(), r.End.UTC()

	r.Timezone = strings.TrimSpace(r.Timezone)
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if _, err := tz.LoadLocation(r.Timezone); err != nil {
		return err
	}

	r.Invitee.Name = strings.TrimSpace(r.Invitee.Name)
	r.Invitee.Email = strings.TrimSpace(r.Invitee.Email)
	r.Invitee.Phone = strings.TrimSpace(r.Invitee.Phone)
	if r.Invitee.Name == "" {
		return apperr.Validation("invitee.name", "is required")
	}
	if _, err := mail.ParseAddress(r.Invitee.Email); err != nil {
		return apperr.Validation("invitee.email", "must be a valid address")
	}
	return nil
}

// Reserve confirms the requested slot or returns a ConflictError when it is no
// longer free. Conflicts are never retried; callers re-query slots.
func (g *Guard) Reserve(ctx context.Context, req ReserveRequest) (model.Booking, error) {
	ctx, span := g.tracer.Start(ctx, "booking.reserve", trace.WithAttributes(attribute.String("service.id", req.ServiceID)))
	defer span.End()

	b, err := g.reserve(ctx, req)
	g.metrics.ObserveReservation(outcome(err, "confirmed"))
	if err != nil {
		recordError(span, err)
		return model.Booking{}, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	g.logger.Info("booking confirmed", "booking_id", b.ID, "owner_id", b.OwnerID, "start", b.Start.Format(time.RFC3339))
	return b, nil
}

func (g *Guard) reserve(ctx context.Context, req ReserveRequest) (model.Booking, error) {
	if err := req.normalize(); err != nil {
		return model.Booking{}, err
	}
	now := g.cfg.Now().UTC()

	svc, err := g.catalog.Service(ctx, req.ServiceID)
	if err != nil {
		return model.Booking{}, err
	}
	if req.End.Sub(req.Start) != svc.SlotDuration() {
		return model.Booking{}, apperr.Validation("end", "slot must last %d minutes", svc.SlotDurationMinutes)
	}

	ok, err := g.slots.Offered(ctx, svc, req.Start, req.End, now)
	if err != nil {
		return model.Booking{}, err
	}
	if !ok {
		return model.Booking{}, apperr.Conflict(apperr.ErrSlotUnavailable)
	}

	b := model.Booking{
		ID:        uuid.NewString(),
		OwnerID:   svc.OwnerID,
		ServiceID: svc.ID,
		Start:     req.Start,
		End:       req.End,
		Timezone:  req.Timezone,
		Status:    model.StatusConfirmed,
		Invitee:   req.Invitee,
		CreatedAt: now,
		UpdatedAt: now,
	}
	evt, err := outbox.BookingEvent(outbox.EventBookingConfirmed, b, now)
	if err != nil {
		return model.Booking{}, err
	}

	txCtx, cancel := context.WithTimeout(ctx, g.cfg.ReserveTimeout)
	defer cancel()
	err = g.store.InTx(txCtx, func(tx Tx) error {
		if err := tx.LockOwner(txCtx, b.OwnerID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		overlap, err := tx.HasConfirmedOverlap(txCtx, b.OwnerID, b.Start, b.End)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlap {
			return apperr.Conflict(apperr.ErrSlotUnavailable)
		}
		if err := tx.Insert(txCtx, b); err != nil {
			return err
		}
		return tx.AppendEvent(txCtx, evt)
	})
	if err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

// Cancel moves a future confirmed booking to cancelled. Cancelling an already
// cancelled booking returns it unchanged and emits nothing.
func (g *Guard) Cancel(ctx context.Context, bookingID, reason string) (model.Booking, error) {
	ctx, span := g.tracer.Start(ctx, "booking.cancel", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	b, changed, err := g.cancel(ctx, bookingID, reason)
	switch {
	case err != nil:
		g.metrics.ObserveCancellation(outcome(err, ""))
		recordError(span, err)
		return model.Booking{}, err
	case !changed:
		g.metrics.ObserveCancellation("already_cancelled")
	default:
		g.metrics.ObserveCancellation("cancelled")
		g.logger.Info("booking cancelled", "booking_id", b.ID, "owner_id", b.OwnerID)
	}
	return b, nil
}

func (g *Guard) cancel(ctx context.Context, bookingID, reason string) (model.Booking, bool, error) {
	if _, err := uuid.Parse(strings.TrimSpace(bookingID)); err != nil {
		return model.Booking{}, false, apperr.Validation("booking_id", "must be a uuid")
	}
	bookingID = strings.TrimSpace(bookingID)
	reason = strings.TrimSpace(reason)
	now := g.cfg.Now().UTC()

	var (
		out     model.Booking
		changed bool
	)
	err := g.store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		switch cur.Status {
		case model.StatusCancelled:
			out = cur
			return nil
		case model.StatusCompleted, model.StatusNoShow:
			return apperr.Conflict(fmt.Sprintf("booking is %s", cur.Status))
		}
		if !cur.Start.After(now) {
			return apperr.Conflict("booking has already started")
		}
		updated, err := tx.SetStatus(ctx, bookingID, model.StatusCancelled, reason, now)
		if err != nil {
			return err
		}
		evt, err := outbox.BookingEvent(outbox.EventBookingCancelled, updated, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, evt); err != nil {
			return err
		}
		out, changed = updated, true
		return nil
	})
	if err != nil {
		return model.Booking{}, false, err
	}
	return out, changed, nil
}

// RecordOutcome closes a past confirmed booking as completed or no-show.
// Repeating the same outcome is a no-op.
func (g *Guard) RecordOutcome(ctx context.Context, bookingID string, status model.BookingStatus) (model.Booking, error) {
	if _, err := uuid.Parse(strings.TrimSpace(bookingID)); err != nil {
		return model.Booking{}, apperr.Validation("booking_id", "must be a uuid")
	}
	if status != model.StatusCompleted && status != model.StatusNoShow {
		return model.Booking{}, apperr.Validation("status", "must be completed or no_show")
	}
	bookingID = strings.TrimSpace(bookingID)
	now := g.cfg.Now().UTC()

	var out model.Booking
	err := g.store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status == status {
			out = cur
			return nil
		}
		if cur.Status != model.StatusConfirmed {
			return apperr.Conflict(fmt.Sprintf("booking is %s", cur.Status))
		}
		if cur.Start.After(now) {
			return apperr.Conflict("booking has not started yet")
		}
		updated, err := tx.SetStatus(ctx, bookingID, status, "", now)
		if err != nil {
			return err
		}
		evt, err := outbox.BookingEvent(outbox.EventBookingOutcome, updated, now)
		if err != nil {
			return err
		}
		out = updated
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		return model.Booking{}, err
	}
	return out, nil
}

func (g *Guard) Get(ctx context.Context, bookingID string) (model.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if _, err := uuid.Parse(bookingID); err != nil {
		return model.Booking{}, apperr.Validation("booking_id", "must be a uuid")
	}
	return g.store.Get(ctx, bookingID)
}

// ListForOwner returns bookings of any status starting in [from, to).
func (g *Guard) ListForOwner(ctx context.Context, ownerID string, from, to time.Time) ([]model.Booking, error) {
	ownerID = strings.TrimSpace(ownerID)
	if _, err := uuid.Parse(ownerID); err != nil {
		return nil, apperr.Validation("owner_id", "must be a uuid")
	}
	if !to.After(from) {
		return nil, apperr.Validation("to", "must be after from")
	}
	return g.store.ListForOwner(ctx, ownerID, from.UTC(), to.UTC(), g.cfg.ListLimit)
}

func outcome(err error, success string) string {
	switch {
	case err == nil:
		return success
	case apperr.IsConflict(err):
		return "conflict"
	case apperr.IsDegraded(err):
		return "degraded"
	case apperr.IsValidation(err):
		return "invalid"
	case apperr.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	if !apperr.IsConflict(err) && !apperr.IsValidation(err) && !apperr.IsNotFound(err) {
		span.SetStatus(codes.Error, err.Error())
	}
}
