package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vela/internal/config"
	"vela/internal/gateway/exchange"
)

type State string

const (
	StateOpen    State = "open"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// Position is the immutable record of a confirmed entry fill.
type Position struct {
	ID            string
	Symbol        string
	Side          exchange.Side
	EntryPrice    float64
	InitialQty    float64
	Leverage      int
	ClientOrderID string
	OpenedAt      time.Time
}

// TakeHit records one take-profit level crossing.
type TakeHit struct {
	Level     int
	TargetPct float64
	Ratio     float64
	CloseQty  float64
}

// Outcome is what one price application produced. ArmedStops lists newly
// armed stop levels (1-based). When CloseAll is set the remaining quantity
// must be closed and the position leaves OPEN.
type Outcome struct {
	ArmedStops []int
	TakeHits   []TakeHit
	CloseAll   bool
	Reason     string
}

// Tracker holds the mutable risk state of one position. Apply is called by
// a single goroutine; the lock exists so snapshots can be read concurrently.
// Every transition is one-directional: the extreme never retreats, armed
// stop levels never disarm, consumed take levels never rearm, and
// OPEN -> CLOSING -> CLOSED never reverses.
type Tracker struct {
	mu sync.Mutex

	pos    Position
	ladder Ladder

	state     State
	entry     decimal.Decimal
	extreme   decimal.Decimal
	remaining decimal.Decimal
	armedIdx  int // number of armed stop levels; active stop is stops[armedIdx-1]
	takeIdx   int // next take level to evaluate
}

func NewTracker(pos Position, cfg config.RiskConfig) *Tracker {
	t := &Tracker{
		pos:       pos,
		ladder:    NewLadder(cfg),
		state:     StateOpen,
		entry:     decimal.NewFromFloat(pos.EntryPrice),
		extreme:   decimal.NewFromFloat(pos.EntryPrice),
		remaining: decimal.NewFromFloat(pos.InitialQty),
	}
	// Levels with a zero unlock threshold are armed from the moment of entry.
	for t.armedIdx < len(t.ladder.stops) && t.ladder.stops[t.armedIdx].ArmAtPct <= 0 {
		t.armedIdx++
	}
	return t
}

func (t *Tracker) Position() Position { return t.pos }

// Apply folds one price into the state and returns what it triggered.
// Ticks arriving while the position is no longer OPEN are ignored.
func (t *Tracker) Apply(price float64) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out Outcome
	if t.state != StateOpen || price <= 0 {
		return out
	}
	p := decimal.NewFromFloat(price)

	// The extreme ratchets before anything is evaluated, so a fresh
	// extreme can never simultaneously register as a drawdown.
	if beyond(t.pos.Side, t.extreme, p) {
		t.extreme = p
	}

	peak := excursionPct(t.pos.Side, t.entry, t.extreme)
	for t.armedIdx < len(t.ladder.stops) &&
		peak.GreaterThanOrEqual(decimal.NewFromFloat(t.ladder.stops[t.armedIdx].ArmAtPct)) {
		t.armedIdx++
		out.ArmedStops = append(out.ArmedStops, t.armedIdx)
	}

	cur := excursionPct(t.pos.Side, t.entry, p)
	for t.takeIdx < len(t.ladder.takes) {
		lvl := t.ladder.takes[t.takeIdx]
		if cur.LessThan(decimal.NewFromFloat(lvl.TargetPct)) {
			break
		}
		hit := TakeHit{Level: t.takeIdx + 1, TargetPct: lvl.TargetPct, Ratio: lvl.CloseRatio}
		final := t.takeIdx == len(t.ladder.takes)-1
		if final {
			hit.CloseQty, _ = t.remaining.Float64()
			t.remaining = decimal.Zero
			out.CloseAll = true
			out.Reason = fmt.Sprintf("take_level_%d", hit.Level)
		} else {
			qty := decimal.NewFromFloat(t.pos.InitialQty).Mul(decimal.NewFromFloat(lvl.CloseRatio))
			if qty.GreaterThan(t.remaining) {
				qty = t.remaining
			}
			hit.CloseQty, _ = qty.Float64()
			t.remaining = t.remaining.Sub(qty)
		}
		// A take level may force-arm a stop level its excursion threshold
		// alone would not have unlocked yet.
		for lvl.ArmStopLevel > t.armedIdx && t.armedIdx < len(t.ladder.stops) {
			t.armedIdx++
			out.ArmedStops = append(out.ArmedStops, t.armedIdx)
		}
		out.TakeHits = append(out.TakeHits, hit)
		t.takeIdx++
		if out.CloseAll {
			return out
		}
	}

	if t.armedIdx > 0 {
		active := t.ladder.stops[t.armedIdx-1]
		dd := drawdownPct(t.pos.Side, t.extreme, p)
		if dd.GreaterThanOrEqual(decimal.NewFromFloat(active.DrawdownPct)) {
			out.CloseAll = true
			out.Reason = fmt.Sprintf("stop_level_%d", t.armedIdx)
		}
	}
	return out
}

// MarkClosing moves OPEN -> CLOSING. Returns false if the position had
// already left OPEN.
func (t *Tracker) MarkClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return false
	}
	t.state = StateClosing
	return true
}

// MarkClosed moves CLOSING -> CLOSED.
func (t *Tracker) MarkClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateClosing {
		return false
	}
	t.state = StateClosed
	return true
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, _ := t.remaining.Float64()
	return f
}

// Snapshot is the read-only view exposed over the control API.
type Snapshot struct {
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	State        string    `json:"state"`
	EntryPrice   float64   `json:"entry_price"`
	Extreme      float64   `json:"extreme"`
	InitialQty   float64   `json:"initial_qty"`
	RemainingQty float64   `json:"remaining_qty"`
	ArmedStop    int       `json:"armed_stop_level"`
	NextTake     int       `json:"next_take_level"`
	Leverage     int       `json:"leverage"`
	OpenedAt     time.Time `json:"opened_at"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	extreme, _ := t.extreme.Float64()
	remaining, _ := t.remaining.Float64()
	next := 0
	if t.takeIdx < len(t.ladder.takes) {
		next = t.takeIdx + 1
	}
	return Snapshot{
		Symbol:       t.pos.Symbol,
		Side:         string(t.pos.Side),
		State:        string(t.state),
		EntryPrice:   t.pos.EntryPrice,
		Extreme:      extreme,
		InitialQty:   t.pos.InitialQty,
		RemainingQty: remaining,
		ArmedStop:    t.armedIdx,
		NextTake:     next,
		Leverage:     t.pos.Leverage,
		OpenedAt:     t.pos.OpenedAt,
	}
}
