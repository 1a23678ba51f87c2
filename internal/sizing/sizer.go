// Package sizing converts an approved signal into an order request that
// honors the exchange precision rules.
package sizing

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vela/internal/errs"
	"vela/internal/gateway/exchange"
	"vela/internal/signal"
)

type Sizer struct {
	policy   Policy
	leverage int
}

func NewSizer(policy Policy, leverage int) *Sizer {
	if leverage < 1 {
		leverage = 1
	}
	return &Sizer{policy: policy, leverage: leverage}
}

func (s *Sizer) PolicyName() string { return s.policy.Name() }

// Build computes the order for an approved composite. Quantity is the
// policy notional divided by price, rounded DOWN to the symbol step; when
// the rounded notional no longer clears the exchange minimum the sizer
// fails with KindSizingInfeasible rather than upsizing.
func (s *Sizer) Build(sig signal.Composite, balance exchange.Balance, rules exchange.SymbolRules, price float64) (exchange.OrderRequest, error) {
	if sig.Direction == signal.DirectionNone {
		return exchange.OrderRequest{}, errs.New(errs.KindSizingInfeasible, "cannot size a directionless signal")
	}
	if price <= 0 {
		return exchange.OrderRequest{}, errs.New(errs.KindSizingInfeasible, "no valid price for %s", sig.Symbol)
	}
	notional, err := s.policy.Notional(balance)
	if err != nil {
		return exchange.OrderRequest{}, err
	}

	qty := roundToStep(notional/price, rules.StepSize)
	if qty <= 0 {
		return exchange.OrderRequest{}, errs.New(errs.KindSizingInfeasible,
			"%s: notional %.2f at price %.4f rounds to zero quantity (step %v)",
			sig.Symbol, notional, price, rules.StepSize)
	}
	if rules.MinNotional > 0 {
		rounded := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
		if rounded.LessThan(decimal.NewFromFloat(rules.MinNotional)) {
			return exchange.OrderRequest{}, errs.New(errs.KindSizingInfeasible,
				"%s: rounded notional %s below exchange minimum %.2f",
				sig.Symbol, rounded.StringFixed(4), rules.MinNotional)
		}
	}

	side := exchange.SideLong
	if sig.Direction == signal.DirectionShort {
		side = exchange.SideShort
	}
	return exchange.OrderRequest{
		Symbol:        strings.ToUpper(sig.Symbol),
		Side:          side,
		Quantity:      qty,
		Leverage:      s.leverage,
		Type:          exchange.OrderTypeMarket,
		ClientOrderID: "vela-" + uuid.NewString(),
	}, nil
}

// roundToStep floors quantity to the nearest valid step size. A zero step
// leaves the quantity untouched.
func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	st := decimal.NewFromFloat(step)
	floored := q.Div(st).Floor().Mul(st)
	f, _ := floored.Float64()
	return f
}
