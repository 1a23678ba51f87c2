// Package executor submits entry and close orders with at-most-once
// semantics: an acknowledged-but-unconfirmed submission is reconciled via
// the order status endpoint before any resubmission is considered.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vela/internal/errs"
	"vela/internal/gateway/exchange"
	"vela/internal/logger"
)

// Fill is the confirmed result of an entry order. Exactly one Position is
// created from each Fill.
type Fill struct {
	Symbol        string
	Side          exchange.Side
	Quantity      float64
	EntryPrice    float64
	Leverage      int
	ClientOrderID string
	FilledAt      time.Time
}

type Executor struct {
	gw             exchange.Gateway
	confirmTimeout time.Duration
}

func New(gw exchange.Gateway, confirmTimeout time.Duration) *Executor {
	if confirmTimeout <= 0 {
		confirmTimeout = 10 * time.Second
	}
	return &Executor{gw: gw, confirmTimeout: confirmTimeout}
}

// Open places the entry order and confirms the fill. When the confirmation
// read times out after the exchange may have received the order, the order
// status is queried by client ID first; only a definitive "no such order"
// permits the single resubmission (and the client ID is reused so a
// late-arriving first copy cannot double-fill).
func (e *Executor) Open(ctx context.Context, req exchange.OrderRequest) (Fill, error) {
	if req.ClientOrderID == "" {
		return Fill{}, errs.New(errs.KindExchangeRejected, "entry order requires a client order id")
	}
	if err := e.gw.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		return Fill{}, fmt.Errorf("set leverage %s: %w", req.Symbol, err)
	}

	ack, err := e.submitOnce(ctx, req)
	if err != nil {
		if !errs.IsTransient(err) {
			return Fill{}, err
		}
		// The exchange may or may not have the order. Reconcile before
		// deciding to resubmit.
		lookup, lookupErr := e.lookupWithRetry(ctx, req.Symbol, req.ClientOrderID)
		if lookupErr != nil {
			return Fill{}, fmt.Errorf("entry unconfirmed and lookup failed: %w", lookupErr)
		}
		if !lookup.Found {
			logger.Infof("[executor] %s: no trace of order %s, resubmitting once", req.Symbol, req.ClientOrderID)
			ack, err = e.submitOnce(ctx, req)
			if err != nil {
				return Fill{}, fmt.Errorf("resubmission failed: %w", err)
			}
		} else {
			ack = exchange.OrderAck{
				ClientOrderID: req.ClientOrderID,
				Status:        lookup.Status,
				AvgPrice:      lookup.AvgPrice,
				ExecutedQty:   lookup.ExecutedQty,
			}
		}
	}

	return e.confirmFill(ctx, req, ack)
}

// Close issues a reduce-only market order against an open position.
// Quantity 0 is rejected; partial closes pass the explicit amount.
func (e *Executor) Close(ctx context.Context, symbol string, side exchange.Side, quantity float64, clientOrderID string) (exchange.OrderAck, error) {
	if quantity <= 0 {
		return exchange.OrderAck{}, errs.New(errs.KindExchangeRejected, "close quantity must be > 0")
	}
	req := exchange.OrderRequest{
		Symbol:        strings.ToUpper(symbol),
		Side:          side,
		Quantity:      quantity,
		Type:          exchange.OrderTypeMarket,
		ReduceOnly:    true,
		ClientOrderID: clientOrderID,
	}
	cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	return e.gw.PlaceOrder(cctx, req)
}

// PlaceProtectiveStop parks an exchange-side stop-market order as a backstop
// beneath the engine-managed ladder.
func (e *Executor) PlaceProtectiveStop(ctx context.Context, symbol string, side exchange.Side, quantity, stopPrice float64, clientOrderID string) (exchange.OrderAck, error) {
	req := exchange.OrderRequest{
		Symbol:        strings.ToUpper(symbol),
		Side:          side,
		Quantity:      quantity,
		Type:          exchange.OrderTypeStopMarket,
		StopPrice:     stopPrice,
		ReduceOnly:    true,
		ClientOrderID: clientOrderID,
	}
	cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	return e.gw.PlaceStopOrder(cctx, req)
}

func (e *Executor) submitOnce(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	return e.gw.PlaceOrder(cctx, req)
}

func (e *Executor) lookupWithRetry(ctx context.Context, symbol, clientOrderID string) (exchange.OrderLookup, error) {
	var lookup exchange.OrderLookup
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
		defer cancel()
		var err error
		lookup, err = e.gw.OrderStatus(cctx, symbol, clientOrderID)
		if err != nil && !errs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	return lookup, err
}

// confirmFill waits until the acknowledged order reports a fill. Market
// orders normally fill in the acknowledgement itself; the poll covers the
// exchange occasionally reporting NEW first.
func (e *Executor) confirmFill(ctx context.Context, req exchange.OrderRequest, ack exchange.OrderAck) (Fill, error) {
	filled := func(status string, avgPrice float64) bool {
		return strings.EqualFold(status, "FILLED") && avgPrice > 0
	}
	status := ack.Status
	avgPrice := ack.AvgPrice
	executed := ack.ExecutedQty
	if !filled(status, avgPrice) {
		op := func() error {
			lookup, err := e.gw.OrderStatus(ctx, req.Symbol, req.ClientOrderID)
			if err != nil {
				if !errs.IsTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			if !lookup.Found {
				return backoff.Permanent(errs.New(errs.KindExchangeRejected, "order %s vanished before fill", req.ClientOrderID))
			}
			if !filled(lookup.Status, lookup.AvgPrice) {
				return errs.New(errs.KindTransient, "order %s still %s", req.ClientOrderID, lookup.Status)
			}
			status, avgPrice, executed = lookup.Status, lookup.AvgPrice, lookup.ExecutedQty
			return nil
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.MaxInterval = 5 * time.Second
		if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 6), ctx)); err != nil {
			return Fill{}, fmt.Errorf("order %s not confirmed filled: %w", req.ClientOrderID, err)
		}
	}
	qty := executed
	if qty <= 0 {
		qty = req.Quantity
	}
	return Fill{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      qty,
		EntryPrice:    avgPrice,
		Leverage:      req.Leverage,
		ClientOrderID: req.ClientOrderID,
		FilledAt:      time.Now(),
	}, nil
}
