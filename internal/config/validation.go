package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols cannot be empty")
	}
	seen := make(map[string]bool, len(c.Market.Symbols))
	for i, sym := range c.Market.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return fmt.Errorf("market.symbols[%d] is empty", i)
		}
		if seen[sym] {
			return fmt.Errorf("market.symbols contains %s twice", sym)
		}
		seen[sym] = true
		c.Market.Symbols[i] = sym
	}

	for _, iv := range c.Analysis.Intervals {
		w, ok := c.Analysis.Weights[iv]
		if !ok {
			return fmt.Errorf("analysis.weights missing interval %s", iv)
		}
		if w <= 0 {
			return fmt.Errorf("analysis.weights[%s] must be > 0", iv)
		}
	}
	if c.Analysis.MinStrengthPct <= 0 {
		return fmt.Errorf("analysis.min_strength_pct must be > 0")
	}

	if c.Validator.APIURL == "" {
		return fmt.Errorf("validator.api_url is required")
	}
	if c.Validator.MinConfidence < 0 || c.Validator.MinConfidence > 100 {
		return fmt.Errorf("validator.min_confidence must be within [0,100]")
	}

	switch c.Trading.SizingPolicy {
	case "fixed_notional":
		if c.Trading.NotionalUSD <= 0 {
			return fmt.Errorf("trading.notional_usd must be > 0 for fixed_notional")
		}
	case "balance_fraction":
		if c.Trading.BalanceFraction <= 0 || c.Trading.BalanceFraction > 1 {
			return fmt.Errorf("trading.balance_fraction must be within (0,1]")
		}
	default:
		return fmt.Errorf("trading.sizing_policy %q is not supported", c.Trading.SizingPolicy)
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be within [1,125]")
	}

	if err := validateStopLadder(c.Risk.StopLevels); err != nil {
		return err
	}
	if err := validateTakeLadder(c.Risk.TakeLevels); err != nil {
		return err
	}
	return nil
}

// validateStopLadder enforces the ratchet shape: level 1 is the widest stop,
// higher levels arm later and protect tighter.
func validateStopLadder(levels []StopLevel) error {
	if len(levels) != 3 {
		return fmt.Errorf("risk.stop_levels must define exactly 3 levels, got %d", len(levels))
	}
	for i, lv := range levels {
		if lv.DrawdownPct <= 0 {
			return fmt.Errorf("risk.stop_levels[%d].drawdown_pct must be > 0", i)
		}
		if lv.ArmAtPct < 0 {
			return fmt.Errorf("risk.stop_levels[%d].arm_at_pct cannot be negative", i)
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1]
		if lv.DrawdownPct > prev.DrawdownPct {
			return fmt.Errorf("risk.stop_levels[%d].drawdown_pct must not be looser than level %d", i, i-1)
		}
		if lv.ArmAtPct < prev.ArmAtPct {
			return fmt.Errorf("risk.stop_levels[%d].arm_at_pct must not unlock before level %d", i, i-1)
		}
	}
	return nil
}

func validateTakeLadder(levels []TakeLevel) error {
	if len(levels) != 3 {
		return fmt.Errorf("risk.take_levels must define exactly 3 levels, got %d", len(levels))
	}
	partial := 0.0
	for i, lv := range levels {
		if lv.TargetPct <= 0 {
			return fmt.Errorf("risk.take_levels[%d].target_pct must be > 0", i)
		}
		if lv.CloseRatio <= 0 || lv.CloseRatio > 1 {
			return fmt.Errorf("risk.take_levels[%d].close_ratio must be within (0,1]", i)
		}
		if lv.ArmStopLevel < 0 || lv.ArmStopLevel > 3 {
			return fmt.Errorf("risk.take_levels[%d].arm_stop_level must be within [0,3]", i)
		}
		if i > 0 && lv.TargetPct <= levels[i-1].TargetPct {
			return fmt.Errorf("risk.take_levels[%d].target_pct must be strictly increasing", i)
		}
		if i < len(levels)-1 {
			partial += lv.CloseRatio
		}
	}
	if levels[len(levels)-1].CloseRatio != 1 {
		return fmt.Errorf("risk.take_levels final close_ratio must be 1 (full close)")
	}
	if partial >= 1 {
		return fmt.Errorf("risk.take_levels partial ratios must leave quantity for the final level")
	}
	return nil
}
