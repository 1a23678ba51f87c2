package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"vela/internal/config"
	"vela/internal/errs"
	"vela/internal/events"
	"vela/internal/gateway/exchange"
	"vela/internal/logger"
	"vela/internal/market"
)

// Closer submits reduce-only close orders. Satisfied by the executor.
type Closer interface {
	Close(ctx context.Context, symbol string, side exchange.Side, quantity float64, clientOrderID string) (exchange.OrderAck, error)
}

// defaultDrainTimeout bounds how long a decided close keeps retrying after
// the run context has ended.
const defaultDrainTimeout = 45 * time.Second

// Monitor owns one position from fill to CLOSED. A single goroutine
// consumes the tick feed, applies each price to the tracker and executes
// the resulting closes, so risk state never needs cross-goroutine writes.
type Monitor struct {
	tracker      *Tracker
	closer       Closer
	bus          *events.Bus
	ticks        chan market.TickEvent
	alertAfter   int
	drainTimeout time.Duration
	onClosed     func(pos Position, reason string)

	lastTradeTime int64
	closedQty     float64 // exchange-confirmed quantity closed so far
	closeReason   string
}

func NewMonitor(pos Position, cfg config.RiskConfig, closer Closer, bus *events.Bus, onClosed func(Position, string)) *Monitor {
	buffer := cfg.TickBuffer
	if buffer <= 0 {
		buffer = 256
	}
	alertAfter := cfg.CloseRetryAlertAfter
	if alertAfter <= 0 {
		alertAfter = 5
	}
	return &Monitor{
		tracker:      NewTracker(pos, cfg),
		closer:       closer,
		bus:          bus,
		ticks:        make(chan market.TickEvent, buffer),
		alertAfter:   alertAfter,
		drainTimeout: defaultDrainTimeout,
		onClosed:     onClosed,
	}
}

func (m *Monitor) Snapshot() Snapshot { return m.tracker.Snapshot() }

// Offer hands a tick to the monitor without blocking the feed. A full
// buffer drops the tick; the next one re-establishes the current price.
func (m *Monitor) Offer(tick market.TickEvent) {
	select {
	case m.ticks <- tick:
	default:
		logger.Debugf("[risk] %s: tick buffer full, dropping", m.tracker.pos.Symbol)
	}
}

// Run drives the position until it is CLOSED or the context ends. It is
// the only writer of the tracker, and may be re-entered on a fresh context
// after a previous run was cut short by shutdown.
func (m *Monitor) Run(ctx context.Context) {
	pos := m.tracker.Position()
	if m.tracker.State() == StateClosing {
		// Re-attached with a close still owed from the previous run.
		m.finishClose(ctx, pos, m.closeReason, 0)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-m.ticks:
			// Trades can arrive out of order across reconnects; an older
			// trade must not pull the extreme or trigger a stale stop.
			if tick.TradeTime > 0 && tick.TradeTime < m.lastTradeTime {
				continue
			}
			if tick.TradeTime > 0 {
				m.lastTradeTime = tick.TradeTime
			}

			out := m.tracker.Apply(tick.Price)
			m.publishArmed(pos, out, tick.Price)

			if !out.CloseAll {
				for _, hit := range out.TakeHits {
					if !m.partialClose(ctx, pos, hit, tick.Price) {
						out.CloseAll = true
						out.Reason = fmt.Sprintf("partial_close_failed_level_%d", hit.Level)
						break
					}
				}
			} else {
				for _, hit := range out.TakeHits {
					m.publishTakeHit(pos, hit, tick.Price)
				}
			}

			if out.CloseAll {
				m.closeAll(ctx, pos, out.Reason, tick.Price)
				return
			}
		}
	}
}

func (m *Monitor) publishArmed(pos Position, out Outcome, price float64) {
	for _, level := range out.ArmedStops {
		stop := m.tracker.ladder.stops[level-1]
		logger.Infof("[risk] %s: stop ratcheted to level %d (%.2f%% from extreme)", pos.Symbol, level, stop.DrawdownPct)
		m.bus.Publish(events.New(events.TypeStopRatcheted, pos.Symbol, map[string]any{
			"position_id":  pos.ID,
			"level":        level,
			"drawdown_pct": stop.DrawdownPct,
			"price":        price,
		}))
	}
}

func (m *Monitor) publishTakeHit(pos Position, hit TakeHit, price float64) {
	m.bus.Publish(events.New(events.TypeTakeLevelHit, pos.Symbol, map[string]any{
		"position_id": pos.ID,
		"level":       hit.Level,
		"target_pct":  hit.TargetPct,
		"close_ratio": hit.Ratio,
		"price":       price,
	}))
}

// partialClose executes one take-profit reduction. A few attempts are made;
// if the exchange keeps refusing, the caller escalates to a full close so
// the position is never left carrying more size than the ladder intends.
func (m *Monitor) partialClose(ctx context.Context, pos Position, hit TakeHit, price float64) bool {
	m.publishTakeHit(pos, hit, price)
	if hit.CloseQty <= 0 {
		return true
	}
	clientID := fmt.Sprintf("vela-tp%d-%s", hit.Level, uuid.NewString())
	op := func() error {
		_, err := m.closer.Close(ctx, pos.Symbol, pos.Side.Opposite(), hit.CloseQty, clientID)
		if err != nil && !errs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
		logger.Errorf("[risk] %s: partial close at take level %d failed: %v", pos.Symbol, hit.Level, err)
		return false
	}
	m.closedQty += hit.CloseQty
	logger.Infof("[risk] %s: closed %.8f at take level %d", pos.Symbol, hit.CloseQty, hit.Level)
	m.bus.Publish(events.New(events.TypePartialClose, pos.Symbol, map[string]any{
		"position_id":   pos.ID,
		"level":         hit.Level,
		"quantity":      hit.CloseQty,
		"remaining_qty": pos.InitialQty - m.closedQty,
		"price":         price,
	}))
	return true
}

// closeAll decides the full close. A position in CLOSING never returns to
// OPEN.
func (m *Monitor) closeAll(ctx context.Context, pos Position, reason string, price float64) {
	if !m.tracker.MarkClosing() {
		return
	}
	m.closeReason = reason
	m.bus.Publish(events.New(events.TypePositionClosing, pos.Symbol, map[string]any{
		"position_id": pos.ID,
		"reason":      reason,
		"price":       price,
	}))
	m.finishClose(ctx, pos, reason, price)
}

// finishClose retries the full close until it succeeds. The quantity is
// what the exchange still holds (initial minus confirmed partial fills),
// never the ladder bookkeeping: an escalated close must also cover a
// partial the exchange never executed. If the run context ends mid-retry
// the close continues on a detached, bounded context; only its expiry
// abandons the attempt, leaving the position in CLOSING for the next run.
func (m *Monitor) finishClose(ctx context.Context, pos Position, reason string, price float64) {
	qty := pos.InitialQty - m.closedQty
	if qty <= 0 {
		m.settle(pos, reason, 0, price)
		return
	}
	clientID := "vela-close-" + uuid.NewString()

	cctx := ctx
	detached := false
	delay := time.Second
	failures := 0
	for {
		_, err := m.closer.Close(cctx, pos.Symbol, pos.Side.Opposite(), qty, clientID)
		if err == nil {
			break
		}
		if cctx.Err() != nil {
			if detached {
				logger.Errorf("[risk] %s: close still owed after drain window (%s)", pos.Symbol, reason)
				return
			}
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(context.Background(), m.drainTimeout)
			defer cancel()
			detached = true
			continue
		}
		failures++
		logger.Errorf("[risk] %s: close attempt %d failed: %v", pos.Symbol, failures, err)
		if failures == m.alertAfter {
			m.bus.Publish(events.New(events.TypeCloseRetryAlert, pos.Symbol, map[string]any{
				"position_id": pos.ID,
				"failures":    failures,
				"reason":      reason,
				"error":       err.Error(),
			}))
		}
		// A fresh client ID per attempt: a rejected order cannot fill late,
		// and a duplicate-ID rejection must not wedge the close loop.
		if !errs.IsTransient(err) {
			clientID = "vela-close-" + uuid.NewString()
		}
		select {
		case <-cctx.Done():
		case <-time.After(delay):
		}
		if delay *= 2; delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	m.closedQty += qty
	m.settle(pos, reason, qty, price)
}

func (m *Monitor) settle(pos Position, reason string, qty, price float64) {
	m.tracker.MarkClosed()
	logger.Infof("[risk] %s: position closed (%s)", pos.Symbol, reason)
	m.bus.Publish(events.New(events.TypePositionClosed, pos.Symbol, map[string]any{
		"position_id": pos.ID,
		"reason":      reason,
		"quantity":    qty,
		"price":       price,
	}))
	if m.onClosed != nil {
		m.onClosed(pos, reason)
	}
}
