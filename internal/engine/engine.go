// Package engine orchestrates one decision cycle per evaluation boundary:
// analyze every configured timeframe, aggregate, gate through the external
// validator, size, submit, then hand the filled position to its risk
// monitor. Symbols are isolated: one symbol failing, or being halted on a
// fatal error, never stops the others.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vela/internal/analysis"
	"vela/internal/config"
	"vela/internal/errs"
	"vela/internal/events"
	"vela/internal/executor"
	"vela/internal/gateway/exchange"
	"vela/internal/logger"
	"vela/internal/market"
	"vela/internal/risk"
	"vela/internal/scheduler"
	"vela/internal/signal"
	"vela/internal/sizing"
	"vela/internal/validator"
)

// Deps are the collaborators the engine coordinates. All are constructed by
// the app layer; the engine owns none of their lifecycles except the
// per-position monitors.
type Deps struct {
	Config    config.Config
	Source    market.Source
	History   *market.History
	Gateway   exchange.Gateway
	Validator *validator.Client
	Sizer     *sizing.Sizer
	Executor  *executor.Executor
	Bus       *events.Bus
}

type Engine struct {
	cfg       config.Config
	source    market.Source
	history   *market.History
	gateway   exchange.Gateway
	validator *validator.Client
	sizer     *sizing.Sizer
	exec      *executor.Executor
	bus       *events.Bus
	agg       *signal.Aggregator
	analyzers map[string]map[string]*analysis.Analyzer // symbol -> interval

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	positions map[string]*risk.Monitor
	reserved  map[string]struct{}
	halted    map[string]string
}

func New(deps Deps) *Engine {
	cfg := deps.Config
	analyzers := make(map[string]map[string]*analysis.Analyzer)
	for _, symbol := range cfg.Market.Symbols {
		byInterval := make(map[string]*analysis.Analyzer)
		for _, interval := range cfg.Analysis.Intervals {
			byInterval[interval] = analysis.New(analysis.Settings{
				Symbol:   symbol,
				Interval: interval,
				EMA:      analysis.EMASettings(cfg.Analysis.EMA),
				RSI:      analysis.RSISettings(cfg.Analysis.RSI),
			})
		}
		analyzers[symbol] = byInterval
	}
	return &Engine{
		cfg:       cfg,
		source:    deps.Source,
		history:   deps.History,
		gateway:   deps.Gateway,
		validator: deps.Validator,
		sizer:     deps.Sizer,
		exec:      deps.Executor,
		bus:       deps.Bus,
		agg:       signal.NewAggregator(cfg.Analysis.Weights, cfg.Analysis.MinStrengthPct),
		analyzers: analyzers,
		positions: make(map[string]*risk.Monitor),
		reserved:  make(map[string]struct{}),
		halted:    make(map[string]string),
	}
}

// Start seeds history, attaches the live streams and launches the aligned
// evaluation loop. It returns once everything is running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	if err := e.seedHistory(runCtx); err != nil {
		e.shutdown()
		return fmt.Errorf("seed history: %w", err)
	}

	candles, err := e.source.Subscribe(runCtx, e.cfg.Market.Symbols, e.cfg.Analysis.Intervals, market.SubscribeOptions{})
	if err != nil {
		e.shutdown()
		return fmt.Errorf("subscribe candles: %w", err)
	}
	ticks, err := e.source.SubscribeTrades(runCtx, e.cfg.Market.Symbols, market.SubscribeOptions{})
	if err != nil {
		e.shutdown()
		return fmt.Errorf("subscribe trades: %w", err)
	}

	e.wg.Add(2)
	go e.consumeCandles(runCtx, candles)
	go e.consumeTicks(runCtx, ticks)

	// Monitors that survived a previous Stop are re-attached to the new
	// run; their positions keep blocking the symbol slot until closed.
	e.mu.Lock()
	for _, mon := range e.positions {
		mon := mon
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			mon.Run(runCtx)
		}()
	}
	e.mu.Unlock()

	evalEvery, ok := scheduler.ParseIntervalDuration(e.cfg.Analysis.EvalInterval)
	if !ok {
		evalEvery = time.Minute
	}
	sched := scheduler.NewAlignedScheduler(runCtx, evalEvery, time.Duration(e.cfg.Analysis.OffsetSeconds)*time.Second)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		sched.Start(func() { e.evaluateAll(runCtx) })
	}()

	logger.Infof("[engine] started: %d symbols, eval every %s", len(e.cfg.Market.Symbols), evalEvery)
	e.bus.Publish(events.New(events.TypeEngineStarted, "", map[string]any{
		"symbols":       e.cfg.Market.Symbols,
		"intervals":     e.cfg.Analysis.Intervals,
		"eval_interval": e.cfg.Analysis.EvalInterval,
	}))
	return nil
}

// Stop cancels the run context and waits for the loops to drain. A close
// already decided finishes (within a bounded drain window) before Stop
// returns; open positions keep their monitors and are re-attached by the
// next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.shutdown()
	e.bus.Publish(events.New(events.TypeEngineStopped, "", nil))
	logger.Infof("[engine] stopped")
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.running = false
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Positions reports a snapshot of every live position.
func (e *Engine) Positions() []risk.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]risk.Snapshot, 0, len(e.positions))
	for _, mon := range e.positions {
		out = append(out, mon.Snapshot())
	}
	return out
}

// Halted reports the symbols removed from trading and why.
func (e *Engine) Halted() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.halted))
	for k, v := range e.halted {
		out[k] = v
	}
	return out
}

func (e *Engine) seedHistory(ctx context.Context) error {
	limit := e.cfg.Market.HistoryBars
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, symbol := range e.cfg.Market.Symbols {
		for _, interval := range e.cfg.Analysis.Intervals {
			symbol, interval := symbol, interval
			g.Go(func() error {
				candles, err := e.source.FetchHistory(gctx, symbol, interval, limit)
				if err != nil {
					return fmt.Errorf("%s/%s: %w", symbol, interval, err)
				}
				e.history.Seed(symbol, interval, candles)
				logger.Debugf("[engine] seeded %s/%s with %d bars", symbol, interval, len(candles))
				return nil
			})
		}
	}
	return g.Wait()
}

func (e *Engine) consumeCandles(ctx context.Context, ch <-chan market.CandleEvent) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.history.Append(ev.Symbol, ev.Interval, ev.Candle)
		}
	}
}

func (e *Engine) consumeTicks(ctx context.Context, ch <-chan market.TickEvent) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			e.mu.Lock()
			mon := e.positions[tick.Symbol]
			e.mu.Unlock()
			if mon != nil {
				mon.Offer(tick)
			}
		}
	}
}

// evaluateAll runs one decision cycle across all tradable symbols. Each
// symbol is evaluated independently; an error on one is logged (or halts
// that symbol) and never aborts the cycle for the rest.
func (e *Engine) evaluateAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, symbol := range e.cfg.Market.Symbols {
		if e.isHalted(symbol) {
			continue
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := e.evaluateSymbol(ctx, symbol); err != nil {
				if errs.IsFatal(err) {
					e.haltSymbol(symbol, err)
					return
				}
				logger.Warnf("[engine] %s: cycle skipped: %v", symbol, err)
			}
		}(symbol)
	}
	wg.Wait()
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string) error {
	readings := make(map[string]analysis.Reading, len(e.cfg.Analysis.Intervals))
	for interval, analyzer := range e.analyzers[symbol] {
		bars := e.history.Bars(symbol, interval)
		readings[interval] = analyzer.Evaluate(bars)
	}
	sig := e.agg.Combine(symbol, readings)
	if !sig.Actionable() {
		logger.Debugf("[engine] %s: no actionable signal (strength %.4f%%)", symbol, sig.StrengthPct)
		return nil
	}
	e.bus.Publish(events.New(events.TypeSignalEmitted, symbol, map[string]any{
		"direction":    string(sig.Direction),
		"strength_pct": sig.StrengthPct,
		"agreement":    sig.Agreement,
		"scores":       sig.Scores,
	}))

	// The slot is reserved before the validator round-trip so two cycles
	// can never race a second position onto the same symbol.
	if !e.tryReserve(symbol) {
		e.bus.Publish(events.New(events.TypeSignalSkipped, symbol, map[string]any{
			"reason": "position_already_open",
		}))
		return nil
	}
	keep := false
	defer func() {
		if !keep {
			e.release(symbol)
		}
	}()

	ticker, err := e.gateway.Ticker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}

	verdict, err := e.validator.Validate(ctx, sig, validator.MarketContext{
		Price:     ticker.Price,
		VolumeUSD: ticker.Volume * ticker.Price,
	})
	if err != nil {
		e.bus.Publish(events.New(events.TypeSignalRejected, symbol, map[string]any{
			"reason": "validator_error",
			"error":  err.Error(),
		}))
		logger.Warnf("[engine] %s: validator failed closed: %v", symbol, err)
		return nil
	}
	if !e.validator.Gate(verdict) {
		e.bus.Publish(events.New(events.TypeSignalRejected, symbol, map[string]any{
			"approved":       verdict.Approved,
			"confidence":     verdict.Confidence,
			"min_confidence": e.validator.MinConfidence(),
			"rationale":      verdict.Rationale,
		}))
		logger.Infof("[engine] %s: rejected by validator (approved=%v confidence=%.1f)",
			symbol, verdict.Approved, verdict.Confidence)
		return nil
	}
	e.bus.Publish(events.New(events.TypeSignalValidated, symbol, map[string]any{
		"confidence": verdict.Confidence,
		"rationale":  verdict.Rationale,
	}))

	balance, err := e.gateway.Balance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	rules, err := e.gateway.SymbolRules(ctx, symbol)
	if err != nil {
		return fmt.Errorf("symbol rules: %w", err)
	}
	req, err := e.sizer.Build(sig, balance, rules, ticker.Price)
	if err != nil {
		if errs.KindOf(err) == errs.KindSizingInfeasible {
			e.bus.Publish(events.New(events.TypeSizingSkipped, symbol, map[string]any{
				"reason": err.Error(),
			}))
			logger.Infof("[engine] %s: sizing infeasible: %v", symbol, err)
			return nil
		}
		return fmt.Errorf("sizing: %w", err)
	}

	e.bus.Publish(events.New(events.TypeOrderPlaced, symbol, map[string]any{
		"side":            string(req.Side),
		"quantity":        req.Quantity,
		"leverage":        req.Leverage,
		"client_order_id": req.ClientOrderID,
	}))
	fill, err := e.exec.Open(ctx, req)
	if err != nil {
		return fmt.Errorf("open order: %w", err)
	}
	e.bus.Publish(events.New(events.TypeOrderFilled, symbol, map[string]any{
		"side":            string(fill.Side),
		"quantity":        fill.Quantity,
		"entry_price":     fill.EntryPrice,
		"client_order_id": fill.ClientOrderID,
	}))
	logger.Infof("[engine] %s: %s %.8f filled at %.4f", symbol, fill.Side, fill.Quantity, fill.EntryPrice)

	pos := risk.Position{
		ID:            uuid.NewString(),
		Symbol:        fill.Symbol,
		Side:          fill.Side,
		EntryPrice:    fill.EntryPrice,
		InitialQty:    fill.Quantity,
		Leverage:      fill.Leverage,
		ClientOrderID: fill.ClientOrderID,
		OpenedAt:      fill.FilledAt,
	}
	mon := risk.NewMonitor(pos, e.cfg.Risk, e.exec, e.bus, e.onPositionClosed)

	e.mu.Lock()
	delete(e.reserved, symbol)
	e.positions[symbol] = mon
	e.mu.Unlock()
	keep = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		mon.Run(ctx)
	}()

	e.placeBackstop(ctx, pos, rules)
	return nil
}

// placeBackstop parks an exchange-side stop-market order at twice the widest
// ladder distance, a safety net for the engine itself dying mid-position.
// Failure to place it is logged, never fatal.
func (e *Engine) placeBackstop(ctx context.Context, pos risk.Position, rules exchange.SymbolRules) {
	if len(e.cfg.Risk.StopLevels) == 0 {
		return
	}
	distPct := e.cfg.Risk.StopLevels[0].DrawdownPct * 2
	stopPrice := pos.EntryPrice * (1 - distPct/100)
	if pos.Side == exchange.SideShort {
		stopPrice = pos.EntryPrice * (1 + distPct/100)
	}
	stopPrice = roundToTick(stopPrice, rules.TickSize)
	clientID := "vela-bs-" + uuid.NewString()
	if _, err := e.exec.PlaceProtectiveStop(ctx, pos.Symbol, pos.Side.Opposite(), pos.InitialQty, stopPrice, clientID); err != nil {
		logger.Warnf("[engine] %s: backstop stop order failed: %v", pos.Symbol, err)
		return
	}
	logger.Infof("[engine] %s: backstop stop parked at %.4f", pos.Symbol, stopPrice)
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	steps := int64(price / tick)
	return float64(steps) * tick
}

func (e *Engine) onPositionClosed(pos risk.Position, reason string) {
	e.mu.Lock()
	delete(e.positions, pos.Symbol)
	e.mu.Unlock()
	logger.Infof("[engine] %s: slot freed (%s)", pos.Symbol, reason)
	// Balance moves on close; refresh it off the risk path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if bal, err := e.gateway.Balance(ctx); err == nil {
			logger.Infof("[engine] balance after close: %.2f %s free", bal.Free, bal.Asset)
		}
	}()
}

func (e *Engine) tryReserve(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, open := e.positions[symbol]; open {
		return false
	}
	if _, pending := e.reserved[symbol]; pending {
		return false
	}
	e.reserved[symbol] = struct{}{}
	return true
}

func (e *Engine) release(symbol string) {
	e.mu.Lock()
	delete(e.reserved, symbol)
	e.mu.Unlock()
}

func (e *Engine) isHalted(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.halted[symbol]
	return ok
}

func (e *Engine) haltSymbol(symbol string, cause error) {
	e.mu.Lock()
	e.halted[symbol] = cause.Error()
	e.mu.Unlock()
	logger.Errorf("[engine] %s: halted: %v", symbol, cause)
	e.bus.Publish(events.New(events.TypeSymbolHalted, strings.ToUpper(symbol), map[string]any{
		"error": cause.Error(),
	}))
}
