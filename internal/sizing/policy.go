package sizing

import (
	"fmt"

	"vela/internal/errs"
	"vela/internal/gateway/exchange"
)

// Policy decides the quote-currency notional to commit to one trade. The
// active policy is injected into the Sizer; the sizer itself never branches
// on policy names.
type Policy interface {
	Name() string
	Notional(balance exchange.Balance) (float64, error)
}

// FixedNotional trades a constant USD-equivalent amount.
type FixedNotional struct {
	USD float64
}

func (p FixedNotional) Name() string { return "fixed_notional" }

func (p FixedNotional) Notional(exchange.Balance) (float64, error) {
	if p.USD <= 0 {
		return 0, errs.New(errs.KindSizingInfeasible, "fixed notional must be > 0")
	}
	return p.USD, nil
}

// BalanceFraction trades a configured fraction of the free balance.
type BalanceFraction struct {
	Fraction float64
}

func (p BalanceFraction) Name() string { return "balance_fraction" }

func (p BalanceFraction) Notional(balance exchange.Balance) (float64, error) {
	if p.Fraction <= 0 || p.Fraction > 1 {
		return 0, errs.New(errs.KindSizingInfeasible, "balance fraction must be within (0,1]")
	}
	if balance.Free <= 0 {
		return 0, errs.New(errs.KindSizingInfeasible, "no free balance available")
	}
	return balance.Free * p.Fraction, nil
}

// PolicyFromConfig builds the injected policy from its config name.
func PolicyFromConfig(name string, notionalUSD, fraction float64) (Policy, error) {
	switch name {
	case "fixed_notional":
		return FixedNotional{USD: notionalUSD}, nil
	case "balance_fraction":
		return BalanceFraction{Fraction: fraction}, nil
	default:
		return nil, fmt.Errorf("unknown sizing policy %q", name)
	}
}
