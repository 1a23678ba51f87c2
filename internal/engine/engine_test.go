package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vela/internal/config"
	"vela/internal/errs"
	"vela/internal/events"
	"vela/internal/gateway/exchange"
	"vela/internal/market"
	"vela/internal/risk"
	"vela/internal/validator"
)

type stubGateway struct{}

func (stubGateway) Ticker(context.Context, string) (exchange.Ticker, error) {
	return exchange.Ticker{Price: 50000}, nil
}
func (stubGateway) Balance(context.Context) (exchange.Balance, error) {
	return exchange.Balance{Asset: "USDT", Free: 1000}, nil
}
func (stubGateway) SymbolRules(context.Context, string) (exchange.SymbolRules, error) {
	return exchange.SymbolRules{StepSize: 0.001}, nil
}
func (stubGateway) SetLeverage(context.Context, string, int) error { return nil }
func (stubGateway) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{Status: "FILLED", AvgPrice: 50000}, nil
}
func (stubGateway) PlaceStopOrder(context.Context, exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{Status: "NEW"}, nil
}
func (stubGateway) OrderStatus(context.Context, string, string) (exchange.OrderLookup, error) {
	return exchange.OrderLookup{}, nil
}

// stubSource feeds nothing until the test pushes a tick by hand.
type stubSource struct {
	mu    sync.Mutex
	ticks chan market.TickEvent
}

func (s *stubSource) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, nil
}

func (s *stubSource) Subscribe(context.Context, []string, []string, market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	return make(chan market.CandleEvent), nil
}

func (s *stubSource) SubscribeTrades(context.Context, []string, market.SubscribeOptions) (<-chan market.TickEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = make(chan market.TickEvent, 16)
	return s.ticks, nil
}

func (s *stubSource) Stats() market.SourceStats { return market.SourceStats{} }
func (s *stubSource) Close() error              { return nil }

func (s *stubSource) push(tick market.TickEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks <- tick
}

type okCloser struct {
	mu    sync.Mutex
	calls int
}

func (c *okCloser) Close(context.Context, string, exchange.Side, float64, string) (exchange.OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return exchange.OrderAck{Status: "FILLED"}, nil
}

func testRiskLadder() config.RiskConfig {
	return config.RiskConfig{
		StopLevels: []config.StopLevel{
			{ArmAtPct: 0, DrawdownPct: 2.0},
			{ArmAtPct: 1.0, DrawdownPct: 1.2},
			{ArmAtPct: 2.5, DrawdownPct: 0.6},
		},
		TakeLevels: []config.TakeLevel{
			{TargetPct: 1.5, CloseRatio: 0.3, ArmStopLevel: 2},
			{TargetPct: 3.0, CloseRatio: 0.3, ArmStopLevel: 3},
			{TargetPct: 5.0, CloseRatio: 1.0},
		},
	}
}

func testEngine(t *testing.T) (*Engine, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	cfg := config.Config{
		Market: config.MarketConfig{Symbols: []string{"BTCUSDT", "ETHUSDT"}},
		Analysis: config.AnalysisConfig{
			Intervals:      []string{"15m", "1h"},
			Weights:        map[string]float64{"15m": 1, "1h": 2},
			MinStrengthPct: 0.03,
		},
		Risk: testRiskLadder(),
	}
	eng := New(Deps{
		Config:  cfg,
		History: market.NewHistory(100),
		Gateway: stubGateway{},
		Bus:     bus,
	})
	return eng, bus
}

func trendCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      price,
			High:      price + step,
			Low:       price - step,
			Close:     price + step,
			Volume:    10,
		}
		price += step
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestTryReserveSingleWinner(t *testing.T) {
	eng, _ := testEngine(t)

	const contenders = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if eng.tryReserve("BTCUSDT") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	// Released slots can be won again, other symbols are unaffected.
	eng.release("BTCUSDT")
	assert.True(t, eng.tryReserve("BTCUSDT"))
	assert.True(t, eng.tryReserve("ETHUSDT"))
}

func TestReserveBlockedByOpenPosition(t *testing.T) {
	eng, bus := testEngine(t)
	pos := risk.Position{ID: "p1", Symbol: "BTCUSDT", Side: exchange.SideLong, EntryPrice: 50000, InitialQty: 1}
	mon := risk.NewMonitor(pos, eng.cfg.Risk, nil, bus, nil)

	eng.mu.Lock()
	eng.positions["BTCUSDT"] = mon
	eng.mu.Unlock()

	assert.False(t, eng.tryReserve("BTCUSDT"))
	require.Len(t, eng.Positions(), 1)
	assert.Equal(t, "BTCUSDT", eng.Positions()[0].Symbol)

	eng.onPositionClosed(pos, "stop_level_1")
	assert.Empty(t, eng.Positions())
	assert.True(t, eng.tryReserve("BTCUSDT"))
}

func TestHaltSymbolIsSticky(t *testing.T) {
	eng, bus := testEngine(t)
	seen, cancel := bus.Subscribe(8)
	defer cancel()

	assert.False(t, eng.isHalted("BTCUSDT"))
	eng.haltSymbol("BTCUSDT", errs.New(errs.KindFatal, "invalid api key"))
	assert.True(t, eng.isHalted("BTCUSDT"))
	assert.False(t, eng.isHalted("ETHUSDT"))
	assert.Contains(t, eng.Halted(), "BTCUSDT")

	ev := <-seen
	assert.Equal(t, events.TypeSymbolHalted, ev.Type)
	assert.Equal(t, "BTCUSDT", ev.Symbol)
}

func TestBelowFloorSkipsValidator(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"approved\": false, \"confidence\": 10, \"reason\": \"weak\"}"}}]}`)
	}))
	defer server.Close()

	build := func(floorPct float64) *Engine {
		bus := events.NewBus()
		t.Cleanup(bus.Close)
		cfg := config.Config{
			Market: config.MarketConfig{Symbols: []string{"BTCUSDT"}},
			Analysis: config.AnalysisConfig{
				Intervals:      []string{"15m"},
				Weights:        map[string]float64{"15m": 1},
				MinStrengthPct: floorPct,
				EMA:            config.EMASettings{Fast: 9, Mid: 21, Slow: 50},
			},
			Risk: testRiskLadder(),
		}
		eng := New(Deps{
			Config:  cfg,
			History: market.NewHistory(200),
			Gateway: stubGateway{},
			Validator: validator.NewClient(validator.Config{
				APIURL:        server.URL,
				MaxAttempts:   1,
				MinConfidence: 60,
			}),
			Bus: bus,
		})
		eng.history.Seed("BTCUSDT", "15m", trendCandles(120, 100, 0.5))
		return eng
	}

	// A floor no composite can reach: the cycle ends with direction none
	// and the validator sees no traffic at all.
	eng := build(1000)
	require.NoError(t, eng.evaluateSymbol(context.Background(), "BTCUSDT"))
	assert.Zero(t, atomic.LoadInt32(&calls))

	// The same market with an achievable floor does reach the validator,
	// proving the zero count above is the floor's doing.
	eng = build(0.0001)
	require.NoError(t, eng.evaluateSymbol(context.Background(), "BTCUSDT"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRestartReadoptsOpenPositions(t *testing.T) {
	src := &stubSource{}
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	cfg := config.Config{
		Market: config.MarketConfig{Symbols: []string{"BTCUSDT"}},
		Analysis: config.AnalysisConfig{
			Intervals:      []string{"15m"},
			Weights:        map[string]float64{"15m": 1},
			MinStrengthPct: 0.03,
		},
		Risk: testRiskLadder(),
	}
	eng := New(Deps{
		Config:  cfg,
		Source:  src,
		History: market.NewHistory(100),
		Gateway: stubGateway{},
		Bus:     bus,
	})

	pos := risk.Position{ID: "p1", Symbol: "BTCUSDT", Side: exchange.SideLong, EntryPrice: 100, InitialQty: 1}
	closer := &okCloser{}
	mon := risk.NewMonitor(pos, cfg.Risk, closer, bus, eng.onPositionClosed)
	eng.mu.Lock()
	eng.positions["BTCUSDT"] = mon
	eng.mu.Unlock()

	require.NoError(t, eng.Start(context.Background()))
	eng.Stop()

	// The stop leaves the open position in place with its slot taken.
	require.Len(t, eng.Positions(), 1)
	assert.False(t, eng.tryReserve("BTCUSDT"))

	// A restart re-attaches the monitor: a breaching tick still closes the
	// position and frees the slot.
	require.NoError(t, eng.Start(context.Background()))
	src.push(market.TickEvent{Symbol: "BTCUSDT", Price: 97, TradeTime: 1})
	waitFor(t, 3*time.Second, func() bool { return len(eng.Positions()) == 0 })
	assert.True(t, eng.tryReserve("BTCUSDT"))
	eng.release("BTCUSDT")
	eng.Stop()
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 108.3, roundToTick(108.35, 0.1), 1e-9)
	assert.Equal(t, 108.35, roundToTick(108.35, 0))
	assert.InDelta(t, 50000.0, roundToTick(50000.4, 0.5), 1e-9)
}
