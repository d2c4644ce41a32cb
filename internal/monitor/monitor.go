package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gapwatch/internal/alerting"
	"gapwatch/internal/fetcher"
	"gapwatch/internal/kalshi"
	"gapwatch/internal/metrics"
	"gapwatch/internal/state"
	"gapwatch/internal/storage"
)

// ErrInvalidPrediction reports a rejected log or resolve request.
var ErrInvalidPrediction = errors.New("monitor: invalid prediction")

const (
	candidateLimit = 5
	eventPageSize  = 50
)

// Broadcaster receives every appended observation.
type Broadcaster interface {
	BroadcastGap(gap state.GapObservation)
}

// Options tune classification, retention and alerting.
type Options struct {
	SeriesTicker  string
	Threshold     decimal.Decimal
	HistoryWindow time.Duration
	MaxGaps       int
	AlertCooldown time.Duration
	AlertsEnabled bool
	Channels      []string
}

// Deps are the collaborators of a Monitor. Spot and State are required.
type Deps struct {
	Spot        fetcher.SpotPriceFetcher
	Events      kalshi.EventReader
	State       *state.Store
	Gaps        storage.GapStore
	Alerts      storage.AlertStore
	Notifier    alerting.Notifier
	Broadcaster Broadcaster
}

// Monitor runs the gap poll cycle and owns prediction bookkeeping.
type Monitor struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	alertMu   sync.Mutex
	lastAlert time.Time
}

// New constructs a Monitor.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Monitor, error) {
	if deps.Spot == nil {
		return nil, errors.New("monitor: spot fetcher required")
	}
	if deps.State == nil {
		return nil, errors.New("monitor: state store required")
	}
	if opts.Threshold.IsZero() {
		opts.Threshold = DefaultThresholdUSD
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 24 * time.Hour
	}

	return &Monitor{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "monitor").Logger(),
		now:    time.Now,
	}, nil
}

// Threshold returns the configured opportunity cutoff.
func (m *Monitor) Threshold() decimal.Decimal { return m.opts.Threshold }

// Status evaluates the current gap without appending to history.
func (m *Monitor) Status(ctx context.Context) (GapStatus, error) {
	status, _, err := m.evaluate(ctx)
	if err != nil {
		return GapStatus{}, err
	}

	doc, err := m.deps.State.Load()
	if err != nil {
		return GapStatus{}, fmt.Errorf("load state: %w", err)
	}
	status.History = m.history(doc)
	return status, nil
}

// Poll evaluates the current gap and, when both prices are known, appends the observation,
// mirrors it, broadcasts it and alerts on opportunities.
func (m *Monitor) Poll(ctx context.Context) (GapStatus, error) {
	status, obs, err := m.evaluate(ctx)
	if err != nil {
		return GapStatus{}, err
	}

	var doc state.MonitorState
	if obs == nil {
		doc, err = m.deps.State.Load()
		if err != nil {
			return GapStatus{}, fmt.Errorf("load state: %w", err)
		}
		status.History = m.history(doc)
		return status, nil
	}

	doc, err = m.deps.State.Update(func(s *state.MonitorState) error {
		s.GapsDetected = append(s.GapsDetected, *obs)
		if m.opts.MaxGaps > 0 && len(s.GapsDetected) > m.opts.MaxGaps {
			s.GapsDetected = s.GapsDetected[len(s.GapsDetected)-m.opts.MaxGaps:]
		}
		return nil
	})
	if err != nil {
		return GapStatus{}, fmt.Errorf("append gap: %w", err)
	}
	status.History = m.history(doc)

	m.publish(ctx, *obs)
	return status, nil
}

// LogPrediction appends an unresolved forecast. probability is on the 0-100 scale.
func (m *Monitor) LogPrediction(ctx context.Context, ticker string, probability float64, notes string) (state.MonitorState, error) {
	if ticker == "" {
		return state.MonitorState{}, fmt.Errorf("%w: market_ticker is required", ErrInvalidPrediction)
	}
	if math.IsNaN(probability) || probability < 0 || probability > 100 {
		return state.MonitorState{}, fmt.Errorf("%w: predicted_prob %v outside [0,100]", ErrInvalidPrediction, probability)
	}

	p := state.Prediction{
		ID:            uuid.NewString(),
		Timestamp:     m.now().UTC(),
		MarketTicker:  ticker,
		PredictedProb: probability,
		Notes:         notes,
	}
	doc, err := m.deps.State.Update(func(s *state.MonitorState) error {
		s.Predictions = append(s.Predictions, p)
		return nil
	})
	if err != nil {
		return state.MonitorState{}, fmt.Errorf("log prediction: %w", err)
	}

	m.logger.Info().Str("ticker", ticker).Float64("prob", probability).Str("id", p.ID).Msg("prediction logged")
	return doc, nil
}

// ResolvePrediction resolves the newest unresolved prediction for ticker and returns how many
// predictions changed (0 or 1).
func (m *Monitor) ResolvePrediction(ctx context.Context, ticker string, outcome int) (state.MonitorState, int, error) {
	if ticker == "" {
		return state.MonitorState{}, 0, fmt.Errorf("%w: market_ticker is required", ErrInvalidPrediction)
	}
	if outcome != 0 && outcome != 1 {
		return state.MonitorState{}, 0, fmt.Errorf("%w: outcome must be 0 or 1, got %d", ErrInvalidPrediction, outcome)
	}

	resolved := 0
	doc, err := m.deps.State.Update(func(s *state.MonitorState) error {
		resolved = resolveNewest(s.Predictions, ticker, outcome, m.now().UTC())
		return nil
	})
	if err != nil {
		return state.MonitorState{}, 0, fmt.Errorf("resolve prediction: %w", err)
	}

	if resolved == 0 {
		m.logger.Warn().Str("ticker", ticker).Msg("no unresolved prediction for ticker")
	} else {
		m.logger.Info().Str("ticker", ticker).Int("outcome", outcome).Msg("prediction resolved")
	}
	return doc, resolved, nil
}

func resolveNewest(predictions []state.Prediction, ticker string, outcome int, at time.Time) int {
	for i := len(predictions) - 1; i >= 0; i-- {
		p := &predictions[i]
		if p.MarketTicker != ticker || p.Resolved {
			continue
		}
		o := outcome
		p.Resolved = true
		p.Outcome = &o
		p.ResolvedAt = &at
		return 1
	}
	return 0
}

func (m *Monitor) evaluate(ctx context.Context) (GapStatus, *state.GapObservation, error) {
	quote, err := m.deps.Spot.FetchSpot(ctx)
	if err != nil {
		metrics.PollsTotal.WithLabelValues("upstream_error").Inc()
		m.logger.Error().Err(err).Msg("reference price unavailable")
		return GapStatus{}, nil, fmt.Errorf("fetch reference price: %w", err)
	}

	status := GapStatus{
		Reference: ReferenceView{Price: quote.Price, Source: quote.Source, Timestamp: quote.Timestamp},
		Implied:   m.discover(ctx),
	}

	if status.Implied.Price == nil {
		metrics.PollsTotal.WithLabelValues("no_market").Inc()
		return status, nil, nil
	}

	gap := ComputeGap(quote.Price, *status.Implied.Price, m.opts.Threshold)
	status.Gap = GapView{USD: &gap.USD, Direction: &gap.Direction, IsOpportunity: gap.IsOpportunity}
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	metrics.GapUSD.Set(gap.USD.InexactFloat64())

	obs := &state.GapObservation{
		Timestamp:      m.now().UTC(),
		ReferencePrice: quote.Price,
		ImpliedPrice:   *status.Implied.Price,
		GapUSD:         gap.USD,
		Direction:      gap.Direction,
		IsOpportunity:  gap.IsOpportunity,
	}
	if status.Implied.Event != nil {
		obs.EventTicker = status.Implied.Event.Ticker
	}
	if len(status.Implied.CandidateMarkets) > 0 {
		obs.MarketTicker = status.Implied.CandidateMarkets[0].Ticker
	}

	m.logger.Debug().
		Str("reference", quote.Price.String()).
		Str("implied", obs.ImpliedPrice.String()).
		Str("gap", gap.USD.String()).
		Str("direction", gap.Direction).
		Bool("opportunity", gap.IsOpportunity).
		Msg("gap evaluated")
	return status, obs, nil
}

// discover finds the implied price. Failures degrade to a null price.
func (m *Monitor) discover(ctx context.Context) ImpliedView {
	view := ImpliedView{CandidateMarkets: []Candidate{}}
	if m.deps.Events == nil {
		return view
	}

	events, err := m.deps.Events.ListEvents(ctx, kalshi.EventsQuery{
		SeriesTicker: m.opts.SeriesTicker,
		Status:       "open",
		Limit:        eventPageSize,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("series", m.opts.SeriesTicker).Msg("event discovery failed")
		return view
	}

	event, ok := SelectEvent(events)
	if !ok {
		m.logger.Info().Str("series", m.opts.SeriesTicker).Msg("no open event for series")
		return view
	}
	view.Event = &EventView{Ticker: event.EventTicker, Title: event.Title, StrikeDate: event.StrikeDate}

	detail, err := m.deps.Events.GetEvent(ctx, event.EventTicker)
	if err != nil {
		m.logger.Warn().Err(err).Str("event", event.EventTicker).Msg("event lookup failed")
		return view
	}

	markets := detail.Markets
	if len(markets) == 0 {
		markets, err = m.deps.Events.ListMarkets(ctx, kalshi.MarketsQuery{EventTicker: event.EventTicker, Status: "open"})
		if err != nil {
			m.logger.Warn().Err(err).Str("event", event.EventTicker).Msg("market listing failed")
			return view
		}
	}

	candidates := RankCandidates(markets)
	if len(candidates) == 0 {
		m.logger.Info().Str("event", event.EventTicker).Msg("no market with a parseable strike")
		return view
	}
	if len(candidates) > candidateLimit {
		candidates = candidates[:candidateLimit]
	}

	price := candidates[0].Strike
	view.Price = &price
	view.CandidateMarkets = candidates
	return view
}

// SelectEvent picks the open event with the latest strike date, or the first event when none
// carries one.
func SelectEvent(events []kalshi.Event) (kalshi.Event, bool) {
	if len(events) == 0 {
		return kalshi.Event{}, false
	}

	best := -1
	var bestStrike time.Time
	for i, e := range events {
		strike, ok := e.Strike()
		if !ok {
			continue
		}
		if best < 0 || strike.After(bestStrike) {
			best, bestStrike = i, strike
		}
	}
	if best < 0 {
		return events[0], true
	}
	return events[best], true
}

// RankCandidates parses each market's strike and orders them by distance of the mid
// probability from 50. Markets without a parseable strike are skipped.
func RankCandidates(markets []kalshi.Market) []Candidate {
	out := make([]Candidate, 0, len(markets))
	for _, mk := range markets {
		strike, err := ParseStrike(mk.Subtitle)
		if err != nil {
			strike, err = ParseStrike(mk.YesSubTitle)
		}
		if err != nil {
			continue
		}
		mid := mk.MidProbability()
		out = append(out, Candidate{
			Ticker:         mk.Ticker,
			Subtitle:       subtitleOf(mk),
			Strike:         strike,
			YesBid:         mk.YesBid,
			YesAsk:         mk.YesAsk,
			MidProbability: mid,
			distance:       math.Abs(mid - 50),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	return out
}

func subtitleOf(mk kalshi.Market) string {
	if mk.Subtitle != "" {
		return mk.Subtitle
	}
	return mk.YesSubTitle
}

func (m *Monitor) history(doc state.MonitorState) HistoryView {
	since := m.now().Add(-m.opts.HistoryWindow)
	return HistoryView{
		Gaps24h:             doc.GapsSince(since),
		TotalPredictions:    len(doc.Predictions),
		ResolvedPredictions: doc.ResolvedCount(),
		BrierScore:          BrierScore(doc.Predictions),
	}
}

func (m *Monitor) publish(ctx context.Context, obs state.GapObservation) {
	if m.deps.Gaps != nil {
		if err := m.deps.Gaps.InsertGap(ctx, obs); err != nil {
			m.logger.Error().Err(err).Time("observed_at", obs.Timestamp).Msg("failed to mirror gap")
		}
	}
	if m.deps.Broadcaster != nil {
		m.deps.Broadcaster.BroadcastGap(obs)
	}
	if !obs.IsOpportunity {
		return
	}

	metrics.OpportunitiesTotal.WithLabelValues(obs.Direction).Inc()
	m.logger.Info().
		Str("gap", obs.GapUSD.String()).
		Str("direction", obs.Direction).
		Str("event", obs.EventTicker).
		Msg("gap opportunity detected")

	if !m.opts.AlertsEnabled || m.deps.Notifier == nil || !m.claimAlert(obs.Timestamp) {
		return
	}
	m.Alert(ctx, obs, "")
}

// Alert persists an audit record and dispatches a notification for obs.
func (m *Monitor) Alert(ctx context.Context, obs state.GapObservation, extra string) {
	if m.deps.Alerts != nil {
		record := storage.AlertRecord{
			ObservedAt:   obs.Timestamp,
			EventTicker:  obs.EventTicker,
			GapUSD:       obs.GapUSD,
			ThresholdUSD: m.opts.Threshold,
			Direction:    obs.Direction,
			Channels:     m.opts.Channels,
		}
		if _, err := m.deps.Alerts.InsertAlert(ctx, record); err != nil {
			m.logger.Error().Err(err).Time("observed_at", obs.Timestamp).Msg("failed to persist alert record")
		}
	}
	if m.deps.Notifier == nil {
		return
	}

	note := alerting.Notification{
		ObservedAt:     obs.Timestamp,
		ReferencePrice: obs.ReferencePrice,
		ImpliedPrice:   obs.ImpliedPrice,
		GapUSD:         obs.GapUSD,
		ThresholdUSD:   m.opts.Threshold,
		Direction:      obs.Direction,
		EventTicker:    obs.EventTicker,
		MarketTicker:   obs.MarketTicker,
		Channels:       m.opts.Channels,
		AdditionalMsg:  extra,
	}
	if err := m.deps.Notifier.Notify(ctx, note); err != nil {
		m.logger.Error().Err(err).Time("observed_at", obs.Timestamp).Msg("failed to dispatch alert")
	}
}

// claimAlert enforces the cooldown between notifications.
func (m *Monitor) claimAlert(at time.Time) bool {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()
	if !m.lastAlert.IsZero() && m.opts.AlertCooldown > 0 && at.Sub(m.lastAlert) < m.opts.AlertCooldown {
		return false
	}
	m.lastAlert = at
	return true
}
