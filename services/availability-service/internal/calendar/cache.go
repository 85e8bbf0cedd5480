package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidyslot/tidyslot/libs/metrics"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

// Cache is a read-through Redis cache in front of a Source. Only successful
// fetches are stored, so a failing calendar is retried on every query and
// never served stale. Invalidate bumps a per-owner generation which orphans
// every cached window for that owner.
type Cache struct {
	next    Source
	rdb     *redis.Client
	ttl     time.Duration
	prefix  string
	logger  *slog.Logger
	metrics *metrics.AvailabilityMetrics
}

func NewCache(next Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.AvailabilityMetrics) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		next:    next,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "calendar:busy:" + next.Name(),
		logger:  logger,
		metrics: m,
	}
}

func (c *Cache) Name() string { return c.next.Name() }

type cachedInterval struct {
	Start time.Time `json:"s"`
	End   time.Time `json:"e"`
	Ref   string    `json:"r"`
}

func (c *Cache) FetchBusyIntervals(ctx context.Context, ownerID string, start, end time.Time) ([]model.BusyInterval, error) {
	key, err := c.key(ctx, ownerID, start, end)
	if err == nil {
		raw, gerr := c.rdb.Get(ctx, key).Bytes()
		switch {
		case gerr == nil:
			var cached []cachedInterval
			if jerr := json.Unmarshal(raw, &cached); jerr == nil {
				c.metrics.ObserveCache("hit")
				return fromCached(ownerID, cached), nil
			}
			c.metrics.ObserveCache("error")
		case errors.Is(gerr, redis.Nil):
			c.metrics.ObserveCache("miss")
		default:
			c.metrics.ObserveCache("error")
			c.logger.Warn("calendar cache read failed", "owner_id", ownerID, "err", gerr)
		}
	} else {
		c.metrics.ObserveCache("error")
		c.logger.Warn("calendar cache generation read failed", "owner_id", ownerID, "err", err)
	}

	busy, ferr := c.next.FetchBusyIntervals(ctx, ownerID, start, end)
	if ferr != nil {
		return nil, ferr
	}
	if err == nil {
		if payload, merr := json.Marshal(toCached(busy)); merr == nil {
			if serr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
				c.logger.Warn("calendar cache write failed", "owner_id", ownerID, "err", serr)
			}
		}
	}
	return busy, nil
}

// Invalidate drops every cached window for ownerID.
func (c *Cache) Invalidate(ctx context.Context, ownerID string) error {
	return c.rdb.Incr(ctx, c.generationKey(ownerID)).Err()
}

func (c *Cache) key(ctx context.Context, ownerID string, start, end time.Time) (string, error) {
	gen, err := c.rdb.Get(ctx, c.generationKey(ownerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d:%d:%d", c.prefix, ownerID, gen, start.Unix(), end.Unix()), nil
}

func (c *Cache) generationKey(ownerID string) string {
	return c.prefix + ":gen:" + ownerID
}

func toCached(in []model.BusyInterval) []cachedInterval {
	out := make([]cachedInterval, 0, len(in))
	for _, b := range in {
		out = append(out, cachedInterval{Start: b.Start.UTC(), End: b.End.UTC(), Ref: b.SourceRef})
	}
	return out
}

func fromCached(ownerID string, in []cachedInterval) []model.BusyInterval {
	out := make([]model.BusyInterval, 0, len(in))
	for _, c := range in {
		out = append(out, model.BusyInterval{
			OwnerID:   ownerID,
			Start:     c.Start,
			End:       c.End,
			Source:    model.SourceExternalCalendar,
			SourceRef: c.Ref,
		})
	}
	return out
}
