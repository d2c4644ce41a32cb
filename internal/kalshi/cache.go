package kalshi

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedEvents wraps an EventReader with a Redis read-through cache. Entries expire
// after ttl; a Redis outage degrades to calling the primary directly.
type CachedEvents struct {
	primary EventReader
	rdb     *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewCachedEvents creates a cached wrapper around primary.
func NewCachedEvents(primary EventReader, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedEvents {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &CachedEvents{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger.With().Str("component", "kalshi_cache").Logger(),
	}
}

// ListEvents checks the cache before listing events upstream.
func (s *CachedEvents) ListEvents(ctx context.Context, q EventsQuery) ([]Event, error) {
	key := eventsKey(q)
	var events []Event
	if s.load(ctx, key, &events) {
		return events, nil
	}

	events, err := s.primary.ListEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, events)
	return events, nil
}

// GetEvent checks the cache before fetching the event upstream.
func (s *CachedEvents) GetEvent(ctx context.Context, eventTicker string) (*EventDetail, error) {
	key := eventKey(eventTicker)
	var detail EventDetail
	if s.load(ctx, key, &detail) {
		return &detail, nil
	}

	fresh, err := s.primary.GetEvent(ctx, eventTicker)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, fresh)
	return fresh, nil
}

// ListMarkets is not cached; quotes move faster than any useful TTL.
func (s *CachedEvents) ListMarkets(ctx context.Context, q MarketsQuery) ([]Market, error) {
	return s.primary.ListMarkets(ctx, q)
}

func (s *CachedEvents) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedEvents) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func eventsKey(q EventsQuery) string {
	return fmt.Sprintf("gapwatch:events:%s:%s:%d:%s", q.SeriesTicker, q.Status, q.Limit, q.Cursor)
}

func eventKey(ticker string) string { return fmt.Sprintf("gapwatch:event:%s", ticker) }

var _ EventReader = (*CachedEvents)(nil)
