package market

import (
	"sort"
	"sync"
)

// History is a bounded per-(symbol, interval) candle cache fed by the live
// subscription. A restated bar (same OpenTime) replaces the previous copy so
// the tail always reflects the latest close.
type History struct {
	mu       sync.RWMutex
	maxBars  int
	byStream map[streamKey][]Candle
}

type streamKey struct {
	symbol   string
	interval string
}

func NewHistory(maxBars int) *History {
	if maxBars <= 0 {
		maxBars = 500
	}
	return &History{
		maxBars:  maxBars,
		byStream: make(map[streamKey][]Candle),
	}
}

// Seed replaces the stream with a fetched history, sorted by open time.
func (h *History) Seed(symbol, interval string, candles []Candle) {
	cp := make([]Candle, len(candles))
	copy(cp, candles)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OpenTime < cp[j].OpenTime })
	if len(cp) > h.maxBars {
		cp = cp[len(cp)-h.maxBars:]
	}
	h.mu.Lock()
	h.byStream[streamKey{symbol, interval}] = cp
	h.mu.Unlock()
}

// Append adds a bar to the stream tail. Bars older than the current tail are
// ignored; a bar with the tail's open time replaces it.
func (h *History) Append(symbol, interval string, c Candle) {
	key := streamKey{symbol, interval}
	h.mu.Lock()
	defer h.mu.Unlock()
	bars := h.byStream[key]
	if n := len(bars); n > 0 {
		last := bars[n-1]
		switch {
		case c.OpenTime < last.OpenTime:
			return
		case c.OpenTime == last.OpenTime:
			bars[n-1] = c
			return
		}
	}
	bars = append(bars, c)
	if len(bars) > h.maxBars {
		bars = bars[len(bars)-h.maxBars:]
	}
	h.byStream[key] = bars
}

// Bars returns a copy of the stream, oldest first.
func (h *History) Bars(symbol, interval string) []Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.byStream[streamKey{symbol, interval}]
	if len(bars) == 0 {
		return nil
	}
	out := make([]Candle, len(bars))
	copy(out, bars)
	return out
}

// LastClose returns the most recent close price for the stream, or 0 when
// the stream is empty.
func (h *History) LastClose(symbol, interval string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.byStream[streamKey{symbol, interval}]
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}
