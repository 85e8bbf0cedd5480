// Package slots computes bookable slots on demand. Nothing is materialized:
// every call reads rules, expands them to UTC, subtracts the owner's busy
// intervals and cuts the remainder into fixed-length slots.
package slots

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tidyslot/tidyslot/libs/metrics"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/availability"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/tz"
)

type RuleSource interface {
	RulesFor(ctx context.Context, ownerID, serviceID string) ([]model.AvailabilityRule, error)
}

type Catalog interface {
	Service(ctx context.Context, serviceID string) (model.Service, error)
}

type BusySource interface {
	BusyIntervals(ctx context.Context, ownerID string, start, end time.Time) ([]model.BusyInterval, error)
}

const DefaultMaxRange = 93 * 24 * time.Hour

type Calculator struct {
	rules    RuleSource
	catalog  Catalog
	busy     BusySource
	metrics  *metrics.AvailabilityMetrics
	tracer   trace.Tracer
	maxRange time.Duration
	now      func() time.Time
}

type Option func(*Calculator)

// WithMaxRange bounds the span of a single query.
func WithMaxRange(d time.Duration) Option {
	return func(c *Calculator) {
		if d > 0 {
			c.maxRange = d
		}
	}
}

// WithClock supplies "now" for queries that do not carry one.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCalculator(rules RuleSource, catalog Catalog, busy BusySource, m *metrics.AvailabilityMetrics, opts ...Option) *Calculator {
	c := &Calculator{
		rules:    rules,
		catalog:  catalog,
		busy:     busy,
		metrics:  m,
		tracer:   otel.Tracer("availability-service/slots"),
		maxRange: DefaultMaxRange,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query asks for slots of ServiceID inside [RangeStart, RangeEnd). Now is the
// single instant used for every time comparison of the call.
type Query struct {
	ServiceID       string
	RangeStart      time.Time
	RangeEnd        time.Time
	DisplayTimezone string
	Now             time.Time
}

type Result struct {
	Service  model.Service
	Location *time.Location
	Slots    []model.Slot
}

// ComputeSlots returns the slots sorted by start. An owner without rules has
// no slots, which is not an error.
func (c *Calculator) ComputeSlots(ctx context.Context, q Query) ([]model.Slot, error) {
	res, err := c.Compute(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Slots, nil
}

func (c *Calculator) Compute(ctx context.Context, q Query) (Result, error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "slots.compute", trace.WithAttributes(attribute.String("service.id", q.ServiceID)))
	defer span.End()

	res, err := c.compute(ctx, q)
	outcome := queryOutcome(res, err)
	c.metrics.ObserveSlotQuery(outcome, time.Since(started))
	span.SetAttributes(attribute.String("slots.outcome", outcome), attribute.Int("slots.count", len(res.Slots)))
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	return res, nil
}

func (c *Calculator) compute(ctx context.Context, q Query) (Result, error) {
	q.ServiceID = strings.TrimSpace(q.ServiceID)
	if _, err := uuid.Parse(q.ServiceID); err != nil {
		return Result{}, apperr.Validation("service_id", "must be a uuid")
	}
	if q.RangeStart.IsZero() || q.RangeEnd.IsZero() {
		return Result{}, apperr.Validation("start", "start and end are required")
	}
	if !q.RangeEnd.After(q.RangeStart) {
		return Result{}, apperr.Validation("end", "must be after start")
	}
	if q.RangeEnd.Sub(q.RangeStart) > c.maxRange {
		return Result{}, apperr.Validation("end", "range may span at most %d days", int(c.maxRange.Hours()/24))
	}
	display := strings.TrimSpace(q.DisplayTimezone)
	if display == "" {
		display = "UTC"
	}
	loc, err := tz.LoadLocation(display)
	if err != nil {
		return Result{}, err
	}
	now := q.Now
	if now.IsZero() {
		now = c.now()
	}

	svc, err := c.catalog.Service(ctx, q.ServiceID)
	if err != nil {
		return Result{}, err
	}
	found, err := c.slotsFor(ctx, svc, q.RangeStart.UTC(), q.RangeEnd.UTC(), now.UTC())
	if err != nil {
		return Result{}, err
	}

	out := make([]model.Slot, 0, len(found))
	for _, s := range found {
		out = append(out, model.Slot{
			Start:        s.Start,
			End:          s.End,
			DisplayStart: tz.ToDisplay(s.Start, loc),
			DisplayEnd:   tz.ToDisplay(s.End, loc),
		})
	}
	return Result{Service: svc, Location: loc, Slots: out}, nil
}

// Offered reports whether [start, end) is one of the slots currently offered
// for svc.
func (c *Calculator) Offered(ctx context.Context, svc model.Service, start, end, now time.Time) (bool, error) {
	found, err := c.slotsFor(ctx, svc, start.UTC(), end.UTC(), now.UTC())
	if err != nil {
		return false, err
	}
	for _, s := range found {
		if s.Start.Equal(start) && s.End.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Calculator) slotsFor(ctx context.Context, svc model.Service, rangeStart, rangeEnd, now time.Time) ([]availability.Interval, error) {
	// A slot must start at or after lo and end at or before hi.
	lo := maxTime(rangeStart, now.Add(svc.LeadTime()))
	hi := minTime(rangeEnd, now.Add(svc.BookingWindow()))
	duration := svc.SlotDuration()
	if duration <= 0 || hi.Sub(lo) < duration {
		return nil, nil
	}

	rules, err := c.rules.RulesFor(ctx, svc.OwnerID, svc.ID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	window := availability.Interval{Start: lo, End: hi}
	var opens []availability.Interval
	for _, rule := range rules {
		loc, err := tz.LoadLocation(rule.Timezone)
		if err != nil {
			return nil, err
		}
		for _, date := range tz.DatesCovering(lo, hi, loc) {
			open, ok, err := tz.ExpandRule(rule, date)
			if err != nil {
				return nil, err
			}
			if ok && open.Overlaps(window) {
				opens = append(opens, open)
			}
		}
	}
	opens = availability.Merge(opens)
	hull, ok := availability.Hull(opens)
	if !ok {
		return nil, nil
	}

	busy, err := c.busy.BusyIntervals(ctx, svc.OwnerID, hull.Start, hull.End)
	if err != nil {
		return nil, err
	}
	blocks := make([]availability.Interval, 0, len(busy))
	for _, b := range busy {
		blocks = append(blocks, availability.Interval{Start: b.Start.UTC(), End: b.End.UTC()})
	}

	var out []availability.Interval
	for _, open := range opens {
		for _, free := range availability.Subtract(open, blocks) {
			for _, slot := range availability.Discretize(free, duration) {
				if window.Contains(slot) {
					out = append(out, slot)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func queryOutcome(res Result, err error) string {
	switch {
	case err == nil && len(res.Slots) == 0:
		return "empty"
	case err == nil:
		return "ok"
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

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
