package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

// ErrProviderNotConfigured is wrapped with ErrTransientFetch when an owner has
// linked a calendar this deployment has no client credentials for.
var ErrProviderNotConfigured = fmt.Errorf("%w: provider not configured", ErrTransientFetch)

// Unconfigured stands in for a provider whose client is not set up. Owners
// without a linked calendar are unaffected; owners with one are degraded
// instead of being shown slots their calendar may already cover.
type Unconfigured struct {
	provider string
	store    IntegrationStore
}

func NewUnconfigured(provider string, store IntegrationStore) *Unconfigured {
	return &Unconfigured{provider: provider, store: store}
}

func (u *Unconfigured) Name() string { return u.provider }

func (u *Unconfigured) FetchBusyIntervals(ctx context.Context, ownerID string, _, _ time.Time) ([]model.BusyInterval, error) {
	integrations, err := u.store.ListForOwner(ctx, ownerID, u.provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
	}
	if len(integrations) == 0 {
		return nil, ErrNoIntegration
	}
	return nil, ErrProviderNotConfigured
}
