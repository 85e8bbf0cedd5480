package calendar

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryStore struct {
	mu           sync.Mutex
	integrations []Integration
	saved        map[string]*oauth2.Token
	reauth       map[string]bool
}

func newMemoryStore(in ...Integration) *memoryStore {
	return &memoryStore{integrations: in, saved: map[string]*oauth2.Token{}, reauth: map[string]bool{}}
}

func (s *memoryStore) ListForOwner(_ context.Context, ownerID, provider string) ([]Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Integration
	for _, in := range s.integrations {
		if in.OwnerID == ownerID && in.Provider == provider {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *memoryStore) SaveToken(_ context.Context, id string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = tok
	return nil
}

func (s *memoryStore) MarkReauthRequired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reauth[id] = true
	return nil
}

func (s *memoryStore) flagged(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reauth[id]
}

type stubSource struct {
	mu    sync.Mutex
	calls int
	busy  []model.BusyInterval
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchBusyIntervals(context.Context, string, time.Time, time.Time) ([]model.BusyInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.busy, s.err
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
