// Package validator is the boundary adapter for the external reasoning
// service. It sends one candidate signal with market context and returns an
// approve/reject verdict. Every ambiguous outcome is a rejection.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vela/internal/errs"
	"vela/internal/logger"
	"vela/internal/signal"
)

// Verdict is produced from exactly one composite signal and consumed once.
type Verdict struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// MarketContext is the price snapshot attached to the validation request.
type MarketContext struct {
	Price     float64 `json:"price"`
	VolumeUSD float64 `json:"volume_usd,omitempty"`
}

type Config struct {
	APIURL        string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxAttempts   int
	MinConfidence float64
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

// Validate asks the reasoning service for a verdict on sig. Transient
// failures are retried with bounded exponential backoff; once attempts are
// exhausted, or the response cannot be parsed, the signal is rejected
// (fail-closed) and the returned error carries the cause.
func (c *Client) Validate(ctx context.Context, sig signal.Composite, mctx MarketContext) (Verdict, error) {
	payload, err := c.buildRequest(sig, mctx)
	if err != nil {
		return Verdict{}, errs.Wrap(errs.KindValidation, err)
	}

	var content string
	op := func() error {
		var callErr error
		content, callErr = c.call(ctx, payload)
		if callErr == nil {
			return nil
		}
		if errs.IsTransient(callErr) {
			return callErr
		}
		return backoff.Permanent(callErr)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx)); err != nil {
		return Verdict{}, errs.Wrap(errs.KindValidation, fmt.Errorf("validator unavailable: %w", err))
	}

	verdict, err := ParseVerdict(content)
	if err != nil {
		logger.Warnf("[validator] %s: malformed verdict: %v", sig.Symbol, err)
		return Verdict{}, errs.Wrap(errs.KindValidation, err)
	}
	return verdict, nil
}

// Gate is the engine's final decision: the verdict must claim approval AND
// clear the configured confidence threshold.
func (c *Client) Gate(v Verdict) bool {
	return v.Approved && v.Confidence >= c.cfg.MinConfidence
}

func (c *Client) MinConfidence() float64 { return c.cfg.MinConfidence }

func (c *Client) buildRequest(sig signal.Composite, mctx MarketContext) ([]byte, error) {
	signalJSON, err := json.Marshal(struct {
		Symbol      string             `json:"symbol"`
		Direction   string             `json:"direction"`
		StrengthPct float64            `json:"strength_pct"`
		Agreement   int                `json:"timeframe_agreement"`
		Scores      map[string]float64 `json:"timeframe_scores"`
		Context     MarketContext      `json:"market_context"`
	}{
		Symbol:      sig.Symbol,
		Direction:   string(sig.Direction),
		StrengthPct: sig.StrengthPct,
		Agreement:   sig.Agreement,
		Scores:      sig.Scores,
		Context:     mctx,
	})
	if err != nil {
		return nil, err
	}
	user := fmt.Sprintf("Candidate futures signal:\n%s\nRespond with a JSON object: "+
		`{"approved": true|false, "confidence": 0-100, "reason": "..."}`, signalJSON)
	body := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	}
	return json.Marshal(body)
}

const systemPrompt = "You are a risk reviewer for an automated crypto futures desk. " +
	"Given one candidate signal, decide whether entering the trade is justified. " +
	"Reject anything you are not confident about."

func (c *Client) call(ctx context.Context, payload []byte) (string, error) {
	url := strings.TrimRight(c.cfg.APIURL, "/")
	if !strings.HasSuffix(url, "/chat/completions") {
		url += "/chat/completions"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		io.Copy(io.Discard, resp.Body)
		return "", errs.New(errs.KindTransient, "validator returned status %d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", errs.New(errs.KindValidation, "validator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Wrap(errs.KindValidation, err)
	}
	if len(out.Choices) == 0 {
		return "", errs.New(errs.KindValidation, "validator response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
