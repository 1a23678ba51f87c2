// Package risk manages open positions: a three-level protective stop ladder
// that ratchets with favorable excursion, and a three-level take-profit
// ladder with partial closes. All threshold comparisons are decimal-exact;
// a price sitting precisely on a boundary triggers it.
package risk

import (
	"github.com/shopspring/decimal"

	"vela/internal/config"
	"vela/internal/gateway/exchange"
)

var hundred = decimal.NewFromInt(100)

// Ladder is the immutable level table read from configuration at entry
// time. Positions opened under one configuration keep it for life.
type Ladder struct {
	stops []config.StopLevel
	takes []config.TakeLevel
}

func NewLadder(cfg config.RiskConfig) Ladder {
	stops := make([]config.StopLevel, len(cfg.StopLevels))
	copy(stops, cfg.StopLevels)
	takes := make([]config.TakeLevel, len(cfg.TakeLevels))
	copy(takes, cfg.TakeLevels)
	return Ladder{stops: stops, takes: takes}
}

func (l Ladder) StopLevels() []config.StopLevel { return l.stops }
func (l Ladder) TakeLevels() []config.TakeLevel { return l.takes }

// excursionPct is the favorable move from entry to price in percent.
// Positive means the position is in profit for its side.
func excursionPct(side exchange.Side, entry, price decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(entry)
	if side == exchange.SideShort {
		diff = diff.Neg()
	}
	return diff.Div(entry).Mul(hundred)
}

// drawdownPct is the adverse move from the favorable extreme to price in
// percent. Positive means price has retreated from the extreme.
func drawdownPct(side exchange.Side, extreme, price decimal.Decimal) decimal.Decimal {
	if extreme.IsZero() {
		return decimal.Zero
	}
	diff := extreme.Sub(price)
	if side == exchange.SideShort {
		diff = diff.Neg()
	}
	return diff.Div(extreme).Mul(hundred)
}

// beyond reports whether price is a new favorable extreme for the side.
func beyond(side exchange.Side, extreme, price decimal.Decimal) bool {
	if side == exchange.SideShort {
		return price.LessThan(extreme)
	}
	return price.GreaterThan(extreme)
}
