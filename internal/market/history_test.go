package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bar(openTime int64, close float64) Candle {
	return Candle{OpenTime: openTime, CloseTime: openTime + 59_999, Close: close}
}

func TestSeedSortsAndTrims(t *testing.T) {
	h := NewHistory(3)
	h.Seed("BTCUSDT", "1m", []Candle{bar(300, 3), bar(100, 1), bar(200, 2), bar(400, 4)})

	bars := h.Bars("BTCUSDT", "1m")
	assert.Len(t, bars, 3)
	assert.Equal(t, int64(200), bars[0].OpenTime)
	assert.Equal(t, int64(400), bars[2].OpenTime)
	assert.Equal(t, 4.0, h.LastClose("BTCUSDT", "1m"))
}

func TestAppendReplacesRestatedBar(t *testing.T) {
	h := NewHistory(10)
	h.Seed("BTCUSDT", "1m", []Candle{bar(100, 1), bar(200, 2)})

	// The feed restates the open bar as it forms.
	h.Append("BTCUSDT", "1m", bar(200, 2.5))
	bars := h.Bars("BTCUSDT", "1m")
	assert.Len(t, bars, 2)
	assert.Equal(t, 2.5, bars[1].Close)
}

func TestAppendIgnoresOlderBar(t *testing.T) {
	h := NewHistory(10)
	h.Seed("BTCUSDT", "1m", []Candle{bar(100, 1), bar(200, 2)})

	h.Append("BTCUSDT", "1m", bar(100, 9))
	bars := h.Bars("BTCUSDT", "1m")
	assert.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Close)
}

func TestAppendBounded(t *testing.T) {
	h := NewHistory(2)
	h.Append("BTCUSDT", "1m", bar(100, 1))
	h.Append("BTCUSDT", "1m", bar(200, 2))
	h.Append("BTCUSDT", "1m", bar(300, 3))

	bars := h.Bars("BTCUSDT", "1m")
	assert.Len(t, bars, 2)
	assert.Equal(t, int64(200), bars[0].OpenTime)
}

func TestStreamsAreIndependent(t *testing.T) {
	h := NewHistory(10)
	h.Append("BTCUSDT", "1m", bar(100, 1))
	h.Append("BTCUSDT", "5m", bar(100, 5))
	h.Append("ETHUSDT", "1m", bar(100, 9))

	assert.Len(t, h.Bars("BTCUSDT", "1m"), 1)
	assert.Equal(t, 5.0, h.LastClose("BTCUSDT", "5m"))
	assert.Equal(t, 9.0, h.LastClose("ETHUSDT", "1m"))
	assert.Nil(t, h.Bars("SOLUSDT", "1m"))
	assert.Zero(t, h.LastClose("SOLUSDT", "1m"))
}

func TestBarsReturnsCopy(t *testing.T) {
	h := NewHistory(10)
	h.Seed("BTCUSDT", "1m", []Candle{bar(100, 1)})
	bars := h.Bars("BTCUSDT", "1m")
	bars[0].Close = 42
	assert.Equal(t, 1.0, h.LastClose("BTCUSDT", "1m"))
}
