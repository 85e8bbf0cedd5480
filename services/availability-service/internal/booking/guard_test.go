package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/outbox"
)

const (
	ownerID   = "5d1c2a9e-5f0a-4c55-9d0c-8a3c7f0b1e01"
	serviceID = "9b8f6c1d-2e3a-4b5c-8d7e-0f1a2b3c4d5e"
)

var now = time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

type staticCatalog struct{ svc model.Service }

func (c staticCatalog) Service(_ context.Context, id string) (model.Service, error) {
	if id != c.svc.ID {
		return model.Service{}, apperr.NotFound("service", id)
	}
	return c.svc, nil
}

type stubSlots struct {
	offered bool
	err     error
}

func (s stubSlots) Offered(context.Context, model.Service, time.Time, time.Time, time.Time) (bool, error) {
	return s.offered, s.err
}

func newGuard(store *memStore, slots SlotChecker) *Guard {
	svc := model.Service{ID: serviceID, OwnerID: ownerID, SlotDurationMinutes: 60, BookingWindowDays: 90}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGuard(store, staticCatalog{svc: svc}, slots, logger, nil, Config{Now: func() time.Time { return now }})
}

func reserveAt(start time.Time) ReserveRequest {
	return ReserveRequest{
		ServiceID: serviceID,
		Start:     start,
		End:       start.Add(time.Hour),
		Timezone:  "Australia/Sydney",
		Invitee:   model.Invitee{Name: "Ada Lovelace", Email: "ada@example.com"},
	}
}

// Monday 2026-10-12 10:00 in Sydney.
var slotStart = time.Date(2026, 10, 11, 23, 0, 0, 0, time.UTC)

func TestReserveConfirmsAndEmitsEvent(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})

	b, err := g.Reserve(context.Background(), reserveAt(slotStart))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)
	assert.Equal(t, ownerID, b.OwnerID)
	assert.Equal(t, "Australia/Sydney", b.Timezone)
	assert.Len(t, store.confirmed(), 1)
	assert.Equal(t, []string{outbox.EventBookingConfirmed}, store.eventTypes())
}

func TestReserveSameSlotTwiceConflicts(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})

	_, err := g.Reserve(context.Background(), reserveAt(slotStart))
	require.NoError(t, err)
	_, err = g.Reserve(context.Background(), reserveAt(slotStart.Add(30*time.Minute)))
	assert.True(t, apperr.IsConflict(err), "got %v", err)
	assert.Len(t, store.confirmed(), 1)
}

func TestReserveNotOfferedIsConflict(t *testing.T) {
	g := newGuard(newMemStore(), stubSlots{offered: false})
	_, err := g.Reserve(context.Background(), reserveAt(slotStart))
	require.Error(t, err)
	var conflict *apperr.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, apperr.ErrSlotUnavailable, conflict.Reason)
}

func TestReservePropagatesDegradedAvailability(t *testing.T) {
	degraded := &apperr.DegradedAvailabilityError{OwnerID: ownerID, Source: "google"}
	store := newMemStore()
	g := newGuard(store, stubSlots{err: degraded})

	_, err := g.Reserve(context.Background(), reserveAt(slotStart))
	assert.True(t, apperr.IsDegraded(err))
	assert.Empty(t, store.confirmed())
}

func TestReserveValidation(t *testing.T) {
	g := newGuard(newMemStore(), stubSlots{offered: true})
	cases := map[string]func(*ReserveRequest){
		"bad service id":   func(r *ReserveRequest) { r.ServiceID = "nope" },
		"end before start": func(r *ReserveRequest) { r.End = r.Start.Add(-time.Hour) },
		"wrong duration":   func(r *ReserveRequest) { r.End = r.Start.Add(45 * time.Minute) },
		"bad timezone":     func(r *ReserveRequest) { r.Timezone = "Mars/Base" },
		"missing name":     func(r *ReserveRequest) { r.Invitee.Name = " " },
		"bad email":        func(r *ReserveRequest) { r.Invitee.Email = "not-an-email" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := reserveAt(slotStart)
			mutate(&req)
			_, err := g.Reserve(context.Background(), req)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestReserveUnknownService(t *testing.T) {
	g := newGuard(newMemStore(), stubSlots{offered: true})
	req := reserveAt(slotStart)
	req.ServiceID = "11111111-2222-3333-4444-555555555555"
	_, err := g.Reserve(context.Background(), req)
	assert.True(t, apperr.IsNotFound(err))
}

func TestConcurrentReserveExactlyOneWins(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := g.Reserve(context.Background(), reserveAt(slotStart))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, store.confirmed(), 1)
}

func TestConcurrentReserveCaughtByConstraintWhenBothPassCheck(t *testing.T) {
	store := newMemStore()
	store.skipLock = true
	var checked sync.WaitGroup
	checked.Add(2)
	store.afterCheck = func() {
		checked.Done()
		checked.Wait()
	}
	g := newGuard(store, stubSlots{offered: true})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Reserve(context.Background(), reserveAt(slotStart))
			errs <- err
		}()
	}
	var wins, conflicts int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			wins++
		} else if apperr.IsConflict(err) {
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, store.confirmed(), 1)
}

func TestCancelIsIdempotent(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})
	ctx := context.Background()

	b, err := g.Reserve(ctx, reserveAt(slotStart))
	require.NoError(t, err)

	first, err := g.Cancel(ctx, b.ID, "client request")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, first.Status)
	require.NotNil(t, first.CancelledAt)

	second, err := g.Cancel(ctx, b.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, second.Status)
	assert.Equal(t, "client request", second.CancelReason)
	assert.Equal(t, []string{outbox.EventBookingConfirmed, outbox.EventBookingCancelled}, store.eventTypes())

	// The freed slot can be booked again exactly once.
	_, err = g.Reserve(ctx, reserveAt(slotStart))
	require.NoError(t, err)
	assert.Len(t, store.confirmed(), 1)
}

func TestCancelRejectsStartedAndTerminalBookings(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})
	ctx := context.Background()

	past := model.Booking{ID: "0b9c7a1e-1111-4f1e-9c1d-000000000001", OwnerID: ownerID, ServiceID: serviceID,
		Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour), Status: model.StatusConfirmed}
	done := past
	done.ID = "0b9c7a1e-1111-4f1e-9c1d-000000000002"
	done.Status = model.StatusCompleted
	store.bookings[past.ID] = past
	store.bookings[done.ID] = done

	_, err := g.Cancel(ctx, past.ID, "")
	assert.True(t, apperr.IsConflict(err))
	_, err = g.Cancel(ctx, done.ID, "")
	assert.True(t, apperr.IsConflict(err))

	_, err = g.Cancel(ctx, "0b9c7a1e-1111-4f1e-9c1d-00000000ffff", "")
	assert.True(t, apperr.IsNotFound(err))
	_, err = g.Cancel(ctx, "not-a-uuid", "")
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordOutcome(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})
	ctx := context.Background()

	past := model.Booking{ID: "0b9c7a1e-1111-4f1e-9c1d-000000000003", OwnerID: ownerID, ServiceID: serviceID,
		Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour), Status: model.StatusConfirmed}
	store.bookings[past.ID] = past

	b, err := g.RecordOutcome(ctx, past.ID, model.StatusNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, b.Status)

	again, err := g.RecordOutcome(ctx, past.ID, model.StatusNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, again.Status)

	_, err = g.RecordOutcome(ctx, past.ID, model.StatusCompleted)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, []string{outbox.EventBookingOutcome}, store.eventTypes())

	future, err := g.Reserve(ctx, reserveAt(slotStart))
	require.NoError(t, err)
	_, err = g.RecordOutcome(ctx, future.ID, model.StatusCompleted)
	assert.True(t, apperr.IsConflict(err))

	_, err = g.RecordOutcome(ctx, future.ID, model.StatusCancelled)
	assert.True(t, apperr.IsValidation(err))
}

func TestListForOwner(t *testing.T) {
	store := newMemStore()
	g := newGuard(store, stubSlots{offered: true})
	ctx := context.Background()

	_, err := g.Reserve(ctx, reserveAt(slotStart))
	require.NoError(t, err)
	_, err = g.Reserve(ctx, reserveAt(slotStart.Add(2*time.Hour)))
	require.NoError(t, err)

	got, err := g.ListForOwner(ctx, ownerID, slotStart, slotStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got[0].Start.Before(got[1].Start))

	_, err = g.ListForOwner(ctx, ownerID, slotStart, slotStart)
	assert.True(t, apperr.IsValidation(err))
}
