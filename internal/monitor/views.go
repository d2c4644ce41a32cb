package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"gapwatch/internal/state"
)

// GapStatus is the read model served by GET /api/gap. Optional values are null when unknown.
type GapStatus struct {
	Reference ReferenceView `json:"reference"`
	Implied   ImpliedView   `json:"implied"`
	Gap       GapView       `json:"gap"`
	History   HistoryView   `json:"history"`
}

// ReferenceView is the spot leg.
type ReferenceView struct {
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// ImpliedView is the prediction-market leg.
type ImpliedView struct {
	Price            *decimal.Decimal `json:"price"`
	Event            *EventView       `json:"event"`
	CandidateMarkets []Candidate      `json:"candidate_markets"`
}

// EventView identifies the event the implied price came from.
type EventView struct {
	Ticker     string `json:"ticker"`
	Title      string `json:"title"`
	StrikeDate string `json:"strike_date,omitempty"`
}

// Candidate is a market considered for the implied price, closest to 50 first.
type Candidate struct {
	Ticker         string          `json:"ticker"`
	Subtitle       string          `json:"subtitle"`
	Strike         decimal.Decimal `json:"strike"`
	YesBid         int             `json:"yes_bid"`
	YesAsk         int             `json:"yes_ask"`
	MidProbability float64         `json:"mid_probability"`

	distance float64
}

// GapView is null-valued when no implied price was found.
type GapView struct {
	USD           *decimal.Decimal `json:"usd"`
	Direction     *string          `json:"direction"`
	IsOpportunity bool             `json:"is_opportunity"`
}

// HistoryView summarises the persisted document.
type HistoryView struct {
	Gaps24h             []state.GapObservation `json:"gaps_24h"`
	TotalPredictions    int                    `json:"total_predictions"`
	ResolvedPredictions int                    `json:"resolved_predictions"`
	BrierScore          *float64               `json:"brier_score"`
}
