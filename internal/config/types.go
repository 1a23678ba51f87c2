package config

// Config is the immutable runtime configuration. It is loaded once at
// startup, defaulted, validated, and never mutated afterwards.
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Validator ValidatorConfig `toml:"validator"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type MarketConfig struct {
	RESTBaseURL string   `toml:"rest_base_url"`
	APIKey      string   `toml:"api_key"`
	APISecret   string   `toml:"api_secret"`
	Symbols     []string `toml:"symbols"`
	HistoryBars int      `toml:"history_bars"`
	MaxCached   int      `toml:"max_cached"`
}

// AnalysisConfig drives the technical analyzer and the multi-timeframe
// aggregation. Weights are keyed by interval ("5m", "15m", ...); an interval
// without a weight never contributes to the composite.
type AnalysisConfig struct {
	Intervals      []string           `toml:"intervals"`
	Weights        map[string]float64 `toml:"weights"`
	MinStrengthPct float64            `toml:"min_strength_pct"`
	EvalInterval   string             `toml:"eval_interval"`
	OffsetSeconds  int                `toml:"offset_seconds"`
	EMA            EMASettings        `toml:"ema"`
	RSI            RSISettings        `toml:"rsi"`
}

type EMASettings struct {
	Fast int `toml:"fast"`
	Mid  int `toml:"mid"`
	Slow int `toml:"slow"`
}

type RSISettings struct {
	Period     int     `toml:"period"`
	Oversold   float64 `toml:"oversold"`
	Overbought float64 `toml:"overbought"`
}

type ValidatorConfig struct {
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxAttempts    int     `toml:"max_attempts"`
	MinConfidence  float64 `toml:"min_confidence"`
}

type TradingConfig struct {
	SizingPolicy    string  `toml:"sizing_policy"` // "fixed_notional" | "balance_fraction"
	NotionalUSD     float64 `toml:"notional_usd"`
	BalanceFraction float64 `toml:"balance_fraction"`
	Leverage        int     `toml:"leverage"`
}

// RiskConfig carries the protective ladders. Stop levels are ordered widest
// to tightest; take levels are ordered nearest to farthest target. The
// unlock thresholds and close fractions come from configuration, never
// inferred at runtime.
type RiskConfig struct {
	StopLevels           []StopLevel `toml:"stop_levels"`
	TakeLevels           []TakeLevel `toml:"take_levels"`
	CloseRetryAlertAfter int         `toml:"close_retry_alert_after"`
	TickBuffer           int         `toml:"tick_buffer"`
}

// StopLevel arms once favorable excursion from entry reaches ArmAtPct; its
// DrawdownPct then becomes the active stop distance from the favorable
// extreme.
type StopLevel struct {
	ArmAtPct    float64 `toml:"arm_at_pct"`
	DrawdownPct float64 `toml:"drawdown_pct"`
}

// TakeLevel triggers at TargetPct favorable excursion from entry, closes
// CloseRatio of the initial quantity, and arms stop level ArmStopLevel
// (1-based; 0 leaves the stop ladder untouched).
type TakeLevel struct {
	TargetPct    float64 `toml:"target_pct"`
	CloseRatio   float64 `toml:"close_ratio"`
	ArmStopLevel int     `toml:"arm_stop_level"`
}

type StoreConfig struct {
	EventLogPath string `toml:"event_log_path"`
}
