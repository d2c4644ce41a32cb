package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prediction is a logged forecast on a market ticker. PredictedProb is on the 0-100 scale.
type Prediction struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	MarketTicker  string     `json:"market_ticker"`
	PredictedProb float64    `json:"predicted_prob"`
	Notes         string     `json:"notes"`
	Resolved      bool       `json:"resolved"`
	Outcome       *int       `json:"outcome"`
	ResolvedAt    *time.Time `json:"resolved_at"`
}

// GapObservation is one recorded spot-vs-implied comparison. Never mutated after creation.
type GapObservation struct {
	Timestamp      time.Time       `json:"timestamp"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	ImpliedPrice   decimal.Decimal `json:"implied_price"`
	GapUSD         decimal.Decimal `json:"gap_usd"`
	Direction      string          `json:"direction"`
	IsOpportunity  bool            `json:"is_opportunity"`
	EventTicker    string          `json:"event_ticker,omitempty"`
	MarketTicker   string          `json:"market_ticker,omitempty"`
}

// MonitorState is the single persisted document.
type MonitorState struct {
	Predictions  []Prediction     `json:"predictions"`
	GapsDetected []GapObservation `json:"gaps_detected"`
	LastUpdate   *time.Time       `json:"last_update"`
}

// Empty returns a well-formed document with no history.
func Empty() MonitorState {
	return MonitorState{
		Predictions:  []Prediction{},
		GapsDetected: []GapObservation{},
	}
}

// GapsSince returns observations with Timestamp at or after since, oldest first.
func (s MonitorState) GapsSince(since time.Time) []GapObservation {
	out := make([]GapObservation, 0)
	for _, g := range s.GapsDetected {
		if !g.Timestamp.Before(since) {
			out = append(out, g)
		}
	}
	return out
}

// ResolvedCount counts predictions with Resolved set.
func (s MonitorState) ResolvedCount() int {
	n := 0
	for _, p := range s.Predictions {
		if p.Resolved {
			n++
		}
	}
	return n
}

func (s *MonitorState) normalize() {
	if s.Predictions == nil {
		s.Predictions = []Prediction{}
	}
	if s.GapsDetected == nil {
		s.GapsDetected = []GapObservation{}
	}
}

// clone copies the slices so callers cannot alias the store's document.
func (s MonitorState) clone() MonitorState {
	out := MonitorState{
		Predictions:  append([]Prediction(nil), s.Predictions...),
		GapsDetected: append([]GapObservation(nil), s.GapsDetected...),
		LastUpdate:   s.LastUpdate,
	}
	out.normalize()
	return out
}
