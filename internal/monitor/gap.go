package monitor

import (
	"github.com/shopspring/decimal"

	"gapwatch/internal/state"
)

// Gap directions.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// DefaultThresholdUSD is the opportunity cutoff used when none is configured.
var DefaultThresholdUSD = decimal.NewFromInt(150)

// Gap classifies the spread between reference and implied price.
type Gap struct {
	USD           decimal.Decimal `json:"usd"`
	Direction     string          `json:"direction"`
	IsOpportunity bool            `json:"is_opportunity"`
}

// ComputeGap returns |reference - implied|, UP when reference > implied else DOWN, and
// is_opportunity when the gap strictly exceeds threshold.
func ComputeGap(reference, implied, threshold decimal.Decimal) Gap {
	diff := reference.Sub(implied)
	direction := DirectionDown
	if diff.IsPositive() {
		direction = DirectionUp
	}
	usd := diff.Abs()
	return Gap{
		USD:           usd,
		Direction:     direction,
		IsOpportunity: usd.GreaterThan(threshold),
	}
}

// BrierScore is mean((p/100 - outcome)^2) over resolved predictions, nil when none are resolved.
func BrierScore(predictions []state.Prediction) *float64 {
	var sum float64
	n := 0
	for _, p := range predictions {
		if !p.Resolved || p.Outcome == nil {
			continue
		}
		d := p.PredictedProb/100 - float64(*p.Outcome)
		sum += d * d
		n++
	}
	if n == 0 {
		return nil
	}
	score := sum / float64(n)
	return &score
}
