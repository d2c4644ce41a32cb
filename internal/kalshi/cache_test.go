package kalshi

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	listCalls int
	getCalls  int
}

func (c *countingReader) ListEvents(ctx context.Context, q EventsQuery) ([]Event, error) {
	c.listCalls++
	return []Event{{EventTicker: "KXBTCD-A", SeriesTicker: q.SeriesTicker}}, nil
}

func (c *countingReader) GetEvent(ctx context.Context, ticker string) (*EventDetail, error) {
	c.getCalls++
	return &EventDetail{Event: Event{EventTicker: ticker}}, nil
}

func (c *countingReader) ListMarkets(ctx context.Context, q MarketsQuery) ([]Market, error) {
	return []Market{{Ticker: "T1", EventTicker: q.EventTicker}}, nil
}

func TestCachedEventsFallsBackWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	primary := &countingReader{}
	cached := NewCachedEvents(primary, rdb, time.Second, zerolog.Nop())

	events, err := cached.ListEvents(context.Background(), EventsQuery{SeriesTicker: "KXBTCD", Status: "open"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "KXBTCD", events[0].SeriesTicker)

	detail, err := cached.GetEvent(context.Background(), "KXBTCD-A")
	require.NoError(t, err)
	assert.Equal(t, "KXBTCD-A", detail.Event.EventTicker)

	assert.Equal(t, 1, primary.listCalls)
	assert.Equal(t, 1, primary.getCalls)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "gapwatch:events:KXBTCD:open:20:", eventsKey(EventsQuery{SeriesTicker: "KXBTCD", Status: "open", Limit: 20}))
	assert.Equal(t, "gapwatch:event:KXBTCD-A", eventKey("KXBTCD-A"))
}
