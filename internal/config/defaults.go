package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8712"
	}

	if c.Market.RESTBaseURL == "" {
		c.Market.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.Market.HistoryBars <= 0 {
		c.Market.HistoryBars = 300
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 500
	}

	if len(c.Analysis.Intervals) == 0 {
		c.Analysis.Intervals = []string{"5m", "15m", "1h"}
	}
	if len(c.Analysis.Weights) == 0 {
		c.Analysis.Weights = map[string]float64{"5m": 1, "15m": 1.5, "1h": 2}
	}
	if c.Analysis.MinStrengthPct <= 0 {
		c.Analysis.MinStrengthPct = 0.03
	}
	if c.Analysis.EvalInterval == "" {
		c.Analysis.EvalInterval = "1m"
	}
	if c.Analysis.EMA.Fast <= 0 {
		c.Analysis.EMA.Fast = 21
	}
	if c.Analysis.EMA.Mid <= 0 {
		c.Analysis.EMA.Mid = 50
	}
	if c.Analysis.EMA.Slow <= 0 {
		c.Analysis.EMA.Slow = 200
	}
	if c.Analysis.RSI.Period <= 0 {
		c.Analysis.RSI.Period = 14
	}
	if c.Analysis.RSI.Oversold == 0 {
		c.Analysis.RSI.Oversold = 30
	}
	if c.Analysis.RSI.Overbought == 0 {
		c.Analysis.RSI.Overbought = 70
	}

	if c.Validator.TimeoutSeconds <= 0 {
		c.Validator.TimeoutSeconds = 30
	}
	if c.Validator.MaxAttempts <= 0 {
		c.Validator.MaxAttempts = 3
	}
	if c.Validator.MinConfidence <= 0 {
		c.Validator.MinConfidence = 60
	}

	if c.Trading.SizingPolicy == "" {
		c.Trading.SizingPolicy = "fixed_notional"
	}
	if c.Trading.NotionalUSD <= 0 {
		c.Trading.NotionalUSD = 100
	}
	if c.Trading.Leverage <= 0 {
		c.Trading.Leverage = 5
	}

	if len(c.Risk.StopLevels) == 0 {
		c.Risk.StopLevels = []StopLevel{
			{ArmAtPct: 0, DrawdownPct: 2.0},
			{ArmAtPct: 1.0, DrawdownPct: 1.2},
			{ArmAtPct: 2.5, DrawdownPct: 0.6},
		}
	}
	if len(c.Risk.TakeLevels) == 0 {
		c.Risk.TakeLevels = []TakeLevel{
			{TargetPct: 1.5, CloseRatio: 0.3, ArmStopLevel: 2},
			{TargetPct: 3.0, CloseRatio: 0.3, ArmStopLevel: 3},
			{TargetPct: 5.0, CloseRatio: 1.0},
		}
	}
	if c.Risk.CloseRetryAlertAfter <= 0 {
		c.Risk.CloseRetryAlertAfter = 5
	}
	if c.Risk.TickBuffer <= 0 {
		c.Risk.TickBuffer = 256
	}

	if c.Store.EventLogPath == "" {
		c.Store.EventLogPath = "data/events.db"
	}
}
