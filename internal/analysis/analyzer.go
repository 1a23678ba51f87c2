package analysis

import (
	"math"

	"github.com/markcheno/go-talib"

	"vela/internal/market"
)

// Settings is the minimal per-stream configuration for the analyzer.
type Settings struct {
	Symbol   string
	Interval string
	EMA      EMASettings
	RSI      RSISettings
}

type EMASettings struct {
	Fast int `json:"fast,omitempty"`
	Mid  int `json:"mid,omitempty"`
	Slow int `json:"slow,omitempty"`
}

type RSISettings struct {
	Period     int     `json:"period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
}

// Reading is one timeframe's contribution: a normalized strength in [-1,1]
// (negative bearish, positive bullish) plus the per-indicator sub-scores
// behind it. Warmup readings carry zero strength and abstain downstream.
type Reading struct {
	Symbol    string             `json:"symbol"`
	Interval  string             `json:"interval"`
	Strength  float64            `json:"strength"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	LastClose float64            `json:"last_close"`
	Bars      int                `json:"bars"`
	Warmup    bool               `json:"warmup,omitempty"`
}

type Analyzer struct {
	cfg Settings
}

func New(cfg Settings) *Analyzer {
	if cfg.EMA.Fast <= 0 {
		cfg.EMA.Fast = 21
	}
	if cfg.EMA.Mid <= 0 {
		cfg.EMA.Mid = 50
	}
	if cfg.EMA.Slow <= 0 {
		cfg.EMA.Slow = 200
	}
	if cfg.RSI.Period <= 0 {
		cfg.RSI.Period = 14
	}
	if cfg.RSI.Overbought == 0 {
		cfg.RSI.Overbought = 70
	}
	if cfg.RSI.Oversold == 0 {
		cfg.RSI.Oversold = 30
	}
	return &Analyzer{cfg: cfg}
}

// WarmupBars is the minimum history needed for a full-strength reading.
func (a *Analyzer) WarmupBars() int {
	return a.cfg.EMA.Slow + 1
}

// Evaluate computes the composite reading for one ordered candle sequence.
// Short histories yield a neutral warm-up reading, never an error, and the
// same input always yields the same output.
func (a *Analyzer) Evaluate(candles []market.Candle) Reading {
	rep := Reading{
		Symbol:   a.cfg.Symbol,
		Interval: a.cfg.Interval,
		Bars:     len(candles),
		Scores:   make(map[string]float64),
	}
	if len(candles) < a.WarmupBars() {
		rep.Warmup = true
		if n := len(candles); n > 0 {
			rep.LastClose = candles[n-1].Close
		}
		return rep
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	price := closes[len(closes)-1]
	rep.LastClose = price

	emaFast := lastValid(talib.Ema(closes, a.cfg.EMA.Fast))
	emaMid := lastValid(talib.Ema(closes, a.cfg.EMA.Mid))
	emaSlow := lastValid(talib.Ema(closes, a.cfg.EMA.Slow))
	rep.Scores["ema_trend"] = emaTrendScore(price, emaFast, emaMid, emaSlow)

	rsi := lastValid(talib.Rsi(closes, a.cfg.RSI.Period))
	rep.Scores["rsi"] = centeredScore(rsi)

	_, _, hist := talib.Macd(closes, 12, 26, 9)
	rep.Scores["macd"] = macdScore(lastValid(hist), price)

	k, _ := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	rep.Scores["stoch"] = centeredScore(lastValid(k))

	roc := lastValid(talib.Roc(closes, 9))
	rep.Scores["roc"] = clampScore(roc / 2)

	upper, _, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	rep.Scores["bands"] = bandScore(price, lastValid(upper), lastValid(lower))

	sum := 0.0
	for _, s := range rep.Scores {
		sum += s
	}
	rep.Strength = clampScore(sum / float64(len(rep.Scores)))
	return rep
}

// emaTrendScore grades price/EMA stacking: fully bullish when
// price > fast > mid > slow, fully bearish when inverted.
func emaTrendScore(price, fast, mid, slow float64) float64 {
	if fast == 0 || mid == 0 || slow == 0 {
		return 0
	}
	score := signOf(price-fast) + signOf(fast-mid) + signOf(mid-slow)
	return score / 3
}

// centeredScore maps a 0-100 oscillator to [-1,1] around its midpoint.
func centeredScore(v float64) float64 {
	return clampScore((v - 50) / 50)
}

// macdScore normalizes the histogram by a 0.2% price band so the score
// saturates on decisive momentum regardless of the symbol's price scale.
func macdScore(hist, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return clampScore(hist / (price * 0.002))
}

func bandScore(price, upper, lower float64) float64 {
	if upper <= lower {
		return 0
	}
	b := (price - lower) / (upper - lower)
	return clampScore(2*b - 1)
}

func signOf(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
