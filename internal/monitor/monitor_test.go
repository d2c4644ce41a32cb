package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapwatch/internal/alerting"
	"gapwatch/internal/fetcher"
	"gapwatch/internal/kalshi"
	"gapwatch/internal/state"
	"gapwatch/internal/storage"
)

type fakeSpot struct {
	price decimal.Decimal
	err   error
}

func (f *fakeSpot) FetchSpot(context.Context) (fetcher.SpotQuote, error) {
	if f.err != nil {
		return fetcher.SpotQuote{}, f.err
	}
	return fetcher.SpotQuote{Source: "binance", Symbol: "BTCUSDT", Price: f.price, Timestamp: time.Now().UTC()}, nil
}

type fakeEvents struct {
	events    []kalshi.Event
	markets   []kalshi.Market
	listed    []kalshi.Market
	listErr   error
	detailErr error
}

func (f *fakeEvents) ListEvents(context.Context, kalshi.EventsQuery) ([]kalshi.Event, error) {
	return f.events, f.listErr
}

func (f *fakeEvents) GetEvent(_ context.Context, ticker string) (*kalshi.EventDetail, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return &kalshi.EventDetail{Event: kalshi.Event{EventTicker: ticker}, Markets: f.markets}, nil
}

func (f *fakeEvents) ListMarkets(context.Context, kalshi.MarketsQuery) ([]kalshi.Market, error) {
	return f.listed, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

type recordingGaps struct {
	storage.GapStore
	inserted []state.GapObservation
}

func (r *recordingGaps) InsertGap(_ context.Context, gap state.GapObservation) error {
	r.inserted = append(r.inserted, gap)
	return nil
}

type recordingBroadcaster struct {
	gaps []state.GapObservation
}

func (r *recordingBroadcaster) BroadcastGap(gap state.GapObservation) {
	r.gaps = append(r.gaps, gap)
}

func btcEvents() *fakeEvents {
	return &fakeEvents{
		events: []kalshi.Event{
			{EventTicker: "KXBTCD-25JAN0216", StrikeDate: "2025-01-02T21:00:00Z"},
			{EventTicker: "KXBTCD-25JAN0217", StrikeDate: "2025-01-02T22:00:00Z"},
		},
		markets: []kalshi.Market{
			{Ticker: "T94500", Subtitle: "$94,500 or above", YesBid: 80, YesAsk: 84},
			{Ticker: "T94700", Subtitle: "$94,700 or above", YesBid: 48, YesAsk: 54},
			{Ticker: "TBAD", Subtitle: "Above the range", YesBid: 50, YesAsk: 50},
			{Ticker: "T95000", Subtitle: "$95,000 or above", YesBid: 30, YesAsk: 36},
		},
	}
}

func newTestMonitor(t *testing.T, spot fetcher.SpotPriceFetcher, events kalshi.EventReader, mutate func(*Options, *Deps)) (*Monitor, *state.Store) {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "monitor_state.json"), zerolog.Nop())
	opts := Options{SeriesTicker: "KXBTCD", Threshold: decimal.NewFromInt(150), HistoryWindow: 24 * time.Hour}
	deps := Deps{Spot: spot, Events: events, State: store}
	if mutate != nil {
		mutate(&opts, &deps)
	}
	m, err := New(opts, deps, zerolog.Nop())
	require.NoError(t, err)
	return m, store
}

func TestComputeGap(t *testing.T) {
	threshold := decimal.NewFromInt(150)

	up := ComputeGap(decimal.NewFromInt(95000), decimal.NewFromInt(94700), threshold)
	assert.True(t, up.USD.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, DirectionUp, up.Direction)
	assert.True(t, up.IsOpportunity)

	down := ComputeGap(decimal.NewFromInt(94800), decimal.NewFromInt(94900), threshold)
	assert.True(t, down.USD.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, DirectionDown, down.Direction)
	assert.False(t, down.IsOpportunity)

	edge := ComputeGap(decimal.NewFromInt(95150), decimal.NewFromInt(95000), threshold)
	assert.False(t, edge.IsOpportunity, "gap equal to the threshold is not an opportunity")
}

func TestBrierScore(t *testing.T) {
	one, zero := 1, 0
	preds := []state.Prediction{
		{PredictedProb: 80, Resolved: true, Outcome: &one},
		{PredictedProb: 30, Resolved: true, Outcome: &zero},
		{PredictedProb: 99},
	}
	score := BrierScore(preds)
	require.NotNil(t, score)
	assert.InDelta(t, 0.065, *score, 1e-9)

	assert.Nil(t, BrierScore(nil))
	assert.Nil(t, BrierScore([]state.Prediction{{PredictedProb: 50}}))
}

func TestSelectEventPrefersLatestStrike(t *testing.T) {
	ev, ok := SelectEvent(btcEvents().events)
	require.True(t, ok)
	assert.Equal(t, "KXBTCD-25JAN0217", ev.EventTicker)

	ev, ok = SelectEvent([]kalshi.Event{{EventTicker: "A"}, {EventTicker: "B"}})
	require.True(t, ok)
	assert.Equal(t, "A", ev.EventTicker)

	_, ok = SelectEvent(nil)
	assert.False(t, ok)
}

func TestRankCandidates(t *testing.T) {
	ranked := RankCandidates(btcEvents().markets)
	require.Len(t, ranked, 3)
	assert.Equal(t, "T94700", ranked[0].Ticker)
	assert.True(t, ranked[0].Strike.Equal(decimal.NewFromInt(94700)))
	assert.InDelta(t, 51, ranked[0].MidProbability, 1e-9)
	assert.Equal(t, "T95000", ranked[1].Ticker)
}

func TestRankCandidatesFallsBackToYesSubTitle(t *testing.T) {
	ranked := RankCandidates([]kalshi.Market{{Ticker: "T1", YesSubTitle: "$96,000 or above", YesBid: 50, YesAsk: 50}})
	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].Strike.Equal(decimal.NewFromInt(96000)))
}

func TestStatusDoesNotAppend(t *testing.T) {
	m, store := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, btcEvents(), nil)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.Implied.Price)
	assert.True(t, status.Implied.Price.Equal(decimal.NewFromInt(94700)))
	require.NotNil(t, status.Implied.Event)
	assert.Equal(t, "KXBTCD-25JAN0217", status.Implied.Event.Ticker)
	require.NotNil(t, status.Gap.USD)
	assert.True(t, status.Gap.USD.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, DirectionUp, *status.Gap.Direction)
	assert.True(t, status.Gap.IsOpportunity)
	assert.Nil(t, status.History.BrierScore)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.GapsDetected)
}

func TestPollAppendsAndPublishes(t *testing.T) {
	notifier := &recordingNotifier{}
	gaps := &recordingGaps{}
	hub := &recordingBroadcaster{}
	m, store := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, btcEvents(), func(o *Options, d *Deps) {
		o.AlertsEnabled = true
		o.AlertCooldown = time.Hour
		d.Notifier = notifier
		d.Gaps = gaps
		d.Broadcaster = hub
	})

	status, err := m.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, status.History.Gaps24h, 1)

	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc.GapsDetected, 1)
	obs := doc.GapsDetected[0]
	assert.Equal(t, DirectionUp, obs.Direction)
	assert.Equal(t, "KXBTCD-25JAN0217", obs.EventTicker)
	assert.Equal(t, "T94700", obs.MarketTicker)

	assert.Len(t, gaps.inserted, 1)
	assert.Len(t, hub.gaps, 1)
	require.Len(t, notifier.notes, 1)
	assert.True(t, notifier.notes[0].GapUSD.Equal(decimal.NewFromInt(300)))

	_, err = m.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.notes, 1, "cooldown suppresses the second alert")
	assert.Len(t, hub.gaps, 2)
}

func TestPollTrimsToMaxGaps(t *testing.T) {
	m, store := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, btcEvents(), func(o *Options, _ *Deps) {
		o.MaxGaps = 2
	})

	for i := 0; i < 4; i++ {
		_, err := m.Poll(context.Background())
		require.NoError(t, err)
	}
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, doc.GapsDetected, 2)
}

func TestPollReferenceFailureIsFatal(t *testing.T) {
	upstream := &fetcher.UpstreamError{Source: "binance", Status: 503}
	m, store := newTestMonitor(t, &fakeSpot{err: upstream}, btcEvents(), nil)

	_, err := m.Poll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrUpstream)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.GapsDetected)
}

func TestEventFailureDegradesToNull(t *testing.T) {
	events := btcEvents()
	events.listErr = &kalshi.APIError{Status: 500, Path: "/events"}
	m, store := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, events, nil)

	status, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Implied.Price)
	assert.Nil(t, status.Implied.Event)
	assert.Nil(t, status.Gap.USD)
	assert.Nil(t, status.Gap.Direction)
	assert.False(t, status.Gap.IsOpportunity)
	assert.NotNil(t, status.Implied.CandidateMarkets)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.GapsDetected)
}

func TestNoOpenEventAndNoEventsSource(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, &fakeEvents{}, nil)
	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Implied.Price)

	m, _ = newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, nil, nil)
	status, err = m.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Implied.Price)
}

func TestMarketListingFailureKeepsEvent(t *testing.T) {
	events := btcEvents()
	events.detailErr = errors.New("timeout")
	m, _ := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, events, nil)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Implied.Price)
	require.NotNil(t, status.Implied.Event)
}

func TestLogPredictionValidation(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(1)}, nil, nil)
	ctx := context.Background()

	_, err := m.LogPrediction(ctx, "", 50, "")
	assert.ErrorIs(t, err, ErrInvalidPrediction)
	_, err = m.LogPrediction(ctx, "T1", 101, "")
	assert.ErrorIs(t, err, ErrInvalidPrediction)
	_, err = m.LogPrediction(ctx, "T1", -1, "")
	assert.ErrorIs(t, err, ErrInvalidPrediction)
	_, _, err = m.ResolvePrediction(ctx, "T1", 2)
	assert.ErrorIs(t, err, ErrInvalidPrediction)
}

func TestResolveTargetsNewestUnresolved(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(1)}, nil, nil)
	ctx := context.Background()

	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return t1 }
	_, err := m.LogPrediction(ctx, "T1", 80, "first")
	require.NoError(t, err)

	t2 := t1.Add(time.Hour)
	m.now = func() time.Time { return t2 }
	_, err = m.LogPrediction(ctx, "T1", 30, "second")
	require.NoError(t, err)
	_, err = m.LogPrediction(ctx, "T2", 60, "other")
	require.NoError(t, err)

	doc, n, err := m.ResolvePrediction(ctx, "T1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, doc.Predictions, 3)
	assert.False(t, doc.Predictions[0].Resolved, "older prediction stays open")
	assert.True(t, doc.Predictions[1].Resolved)
	require.NotNil(t, doc.Predictions[1].Outcome)
	assert.Equal(t, 1, *doc.Predictions[1].Outcome)
	require.NotNil(t, doc.Predictions[1].ResolvedAt)
	assert.False(t, doc.Predictions[2].Resolved)

	doc, n, err = m.ResolvePrediction(ctx, "T1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, doc.Predictions[0].Resolved)
	assert.Equal(t, 0, *doc.Predictions[0].Outcome)
	assert.Equal(t, 1, *doc.Predictions[1].Outcome, "already resolved prediction is untouched")

	doc, n, err = m.ResolvePrediction(ctx, "T1", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, doc.ResolvedCount())

	_, n, err = m.ResolvePrediction(ctx, "MISSING", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConcurrentLogAndPollKeepBoth(t *testing.T) {
	m, store := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, btcEvents(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.LogPrediction(ctx, "T1", 50, "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := m.Poll(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Predictions, 10)
	assert.Len(t, doc.GapsDetected, 10)
}

func TestEmptyEventFallsBackToMarketListing(t *testing.T) {
	events := btcEvents()
	events.listed = events.markets
	events.markets = nil
	m, _ := newTestMonitor(t, &fakeSpot{price: decimal.NewFromInt(95000)}, events, nil)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.Implied.Price)
	assert.True(t, status.Implied.Price.Equal(decimal.NewFromInt(94700)))
	assert.Len(t, status.Implied.CandidateMarkets, 3)
}
