package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/outbox"
)

// memStore mimics the Postgres store: writes are staged per transaction and
// applied at commit, and Insert enforces the no-overlap constraint against
// committed rows the way the exclusion constraint does.
type memStore struct {
	mu       sync.Mutex
	bookings map[string]model.Booking
	events   []outbox.Event

	ownerLocks sync.Map
	// skipLock disables LockOwner so two transactions can both pass the
	// overlap check.
	skipLock bool
	// afterCheck runs after HasConfirmedOverlap returns.
	afterCheck func()
}

func newMemStore() *memStore {
	return &memStore{bookings: map[string]model.Booking{}}
}

type memTx struct {
	s        *memStore
	staged   []model.Booking
	events   []outbox.Event
	unlockFn []func()
}

func (s *memStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{s: s}
	defer func() {
		for _, u := range tx.unlockFn {
			u()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range tx.staged {
		if b.Status == model.StatusConfirmed && s.overlapsLocked(b.OwnerID, b.ID, b.Start, b.End) {
			return apperr.Conflict(apperr.ErrSlotUnavailable)
		}
		s.bookings[b.ID] = b
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *memStore) overlapsLocked(ownerID, exceptID string, start, end time.Time) bool {
	for _, b := range s.bookings {
		if b.ID == exceptID || b.OwnerID != ownerID || b.Status != model.StatusConfirmed {
			continue
		}
		if b.Start.Before(end) && start.Before(b.End) {
			return true
		}
	}
	return false
}

func (s *memStore) Get(_ context.Context, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, apperr.NotFound("booking", id)
	}
	return b, nil
}

func (s *memStore) ListForOwner(_ context.Context, ownerID string, from, to time.Time, limit int) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.OwnerID == ownerID && !b.Start.Before(from) && b.Start.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) confirmed() []model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.Status == model.StatusConfirmed {
			out = append(out, b)
		}
	}
	return out
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (tx *memTx) LockOwner(_ context.Context, ownerID string) error {
	if tx.s.skipLock {
		return nil
	}
	m, _ := tx.s.ownerLocks.LoadOrStore(ownerID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	tx.unlockFn = append(tx.unlockFn, mu.Unlock)
	return nil
}

func (tx *memTx) HasConfirmedOverlap(_ context.Context, ownerID string, start, end time.Time) (bool, error) {
	tx.s.mu.Lock()
	overlap := tx.s.overlapsLocked(ownerID, "", start, end)
	tx.s.mu.Unlock()
	if tx.s.afterCheck != nil {
		tx.s.afterCheck()
	}
	return overlap, nil
}

func (tx *memTx) Insert(_ context.Context, b model.Booking) error {
	tx.staged = append(tx.staged, b)
	return nil
}

func (tx *memTx) GetForUpdate(ctx context.Context, id string) (model.Booking, error) {
	return tx.s.Get(ctx, id)
}

func (tx *memTx) SetStatus(_ context.Context, id string, status model.BookingStatus, reason string, at time.Time) (model.Booking, error) {
	tx.s.mu.Lock()
	b, ok := tx.s.bookings[id]
	tx.s.mu.Unlock()
	if !ok {
		return model.Booking{}, apperr.NotFound("booking", id)
	}
	b.Status = status
	b.UpdatedAt = at
	if status == model.StatusCancelled {
		b.CancelledAt = &at
		b.CancelReason = reason
	}
	tx.staged = append(tx.staged, b)
	return b, nil
}

func (tx *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	tx.events = append(tx.events, evt)
	return nil
}
