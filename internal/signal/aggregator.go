package signal

import (
	"math"
	"time"

	"vela/internal/analysis"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// Composite is the aggregated multi-timeframe candidate signal. Produced
// fresh on every analysis cycle and never mutated, only superseded.
type Composite struct {
	Symbol      string                      `json:"symbol"`
	Direction   Direction                   `json:"direction"`
	Strength    float64                     `json:"strength"`     // weighted sum, [-1,1]
	StrengthPct float64                     `json:"strength_pct"` // Strength expressed as signed percent
	Agreement   int                         `json:"agreement"`    // timeframes agreeing with Direction
	Scores      map[string]float64          `json:"scores,omitempty"`
	Readings    map[string]analysis.Reading `json:"readings,omitempty"`
	LastClose   float64                     `json:"last_close"`
	CreatedAt   time.Time                   `json:"created_at"`
}

// Aggregator folds per-timeframe analyzer readings into one composite vote.
type Aggregator struct {
	weights  map[string]float64
	floorPct float64
}

func NewAggregator(weights map[string]float64, minStrengthPct float64) *Aggregator {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		if v > 0 {
			w[k] = v
		}
	}
	return &Aggregator{weights: w, floorPct: minStrengthPct}
}

// Combine produces the composite for one symbol. A timeframe that is absent
// from readings, or still warming up, abstains: its weight is excluded from
// the divisor rather than counted as a zero vote.
func (a *Aggregator) Combine(symbol string, readings map[string]analysis.Reading) Composite {
	out := Composite{
		Symbol:    symbol,
		Direction: DirectionNone,
		Scores:    make(map[string]float64),
		Readings:  readings,
		CreatedAt: time.Now(),
	}

	weightSum := 0.0
	weighted := 0.0
	for interval, weight := range a.weights {
		reading, ok := readings[interval]
		if !ok || reading.Warmup {
			continue
		}
		weightSum += weight
		weighted += weight * reading.Strength
		out.Scores[interval] = reading.Strength
		if reading.LastClose > 0 {
			out.LastClose = reading.LastClose
		}
	}
	if weightSum == 0 {
		return out
	}

	out.Strength = weighted / weightSum
	out.StrengthPct = out.Strength * 100

	if out.Strength == 0 || math.Abs(out.StrengthPct) < a.floorPct {
		out.Direction = DirectionNone
		return out
	}

	if out.Strength > 0 {
		out.Direction = DirectionLong
	} else {
		out.Direction = DirectionShort
	}
	for _, s := range out.Scores {
		if (out.Direction == DirectionLong && s > 0) || (out.Direction == DirectionShort && s < 0) {
			out.Agreement++
		}
	}
	return out
}

// Actionable reports whether the composite should reach the validator.
func (c Composite) Actionable() bool {
	return c.Direction != DirectionNone
}
