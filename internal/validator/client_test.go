package validator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vela/internal/errs"
	"vela/internal/signal"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func testSignal() signal.Composite {
	return signal.Composite{
		Symbol:      "BTCUSDT",
		Direction:   signal.DirectionLong,
		Strength:    0.4,
		StrengthPct: 40,
		Agreement:   3,
		Scores:      map[string]float64{"1h": 0.5, "15m": 0.3},
	}
}

func TestValidateApproved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		json.NewEncoder(w).Encode(chatResponse(`{"approved": true, "confidence": 81, "reason": "strong trend"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, Model: "test", MinConfidence: 60, MaxAttempts: 1})
	v, err := c.Validate(context.Background(), testSignal(), MarketContext{Price: 50000})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.True(t, c.Gate(v))
}

func TestValidateGateRejectsLowConfidence(t *testing.T) {
	c := NewClient(Config{MinConfidence: 60})
	assert.False(t, c.Gate(Verdict{Approved: true, Confidence: 59.9}))
	assert.False(t, c.Gate(Verdict{Approved: false, Confidence: 95}))
	assert.True(t, c.Gate(Verdict{Approved: true, Confidence: 60}))
}

func TestValidateMalformedResponseFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(chatResponse("the market looks fine to me"))
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, MaxAttempts: 1})
	_, err := c.Validate(context.Background(), testSignal(), MarketContext{})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestValidateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(chatResponse(`{"approved": true, "confidence": 70}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, MaxAttempts: 3, Timeout: 5 * time.Second})
	v, err := c.Validate(context.Background(), testSignal(), MarketContext{})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Equal(t, int32(2), calls.Load())
}

func TestValidateExhaustedRetriesFailClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, MaxAttempts: 2})
	_, err := c.Validate(context.Background(), testSignal(), MarketContext{})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestValidateClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, MaxAttempts: 3})
	_, err := c.Validate(context.Background(), testSignal(), MarketContext{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
