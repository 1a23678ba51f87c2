// Package exchange defines the narrow capability surface the engine needs
// from a trading venue. The engine never talks to an exchange SDK directly;
// it sees this interface plus the error kinds in internal/errs.
package exchange

import (
	"context"
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopMarket OrderType = "stop_market"
)

type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	UpdatedAt time.Time
}

type Balance struct {
	Asset     string
	Free      float64
	Used      float64
	UpdatedAt time.Time
}

// SymbolRules carries the exchange precision constraints used for sizing.
type SymbolRules struct {
	Symbol      string
	StepSize    float64
	MinNotional float64
	TickSize    float64
}

// OrderRequest is immutable once built and submitted at most once per
// decision. ClientOrderID makes the submission idempotent to query back.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      float64
	Leverage      int
	Type          OrderType
	StopPrice     float64
	ReduceOnly    bool
	ClientOrderID string
}

type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// OrderLookup is the reconciliation view used after a confirmation timeout.
type OrderLookup struct {
	Found       bool
	Status      string
	AvgPrice    float64
	ExecutedQty float64
}

// Gateway is the consumed exchange surface. Every call may fail with a
// rate-limit (transient), auth (fatal) or plain network error kind.
type Gateway interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Balance(ctx context.Context) (Balance, error)
	SymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	PlaceStopOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	OrderStatus(ctx context.Context, symbol, clientOrderID string) (OrderLookup, error)
}
