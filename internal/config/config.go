package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the limitless trading engine.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Finnhub  Finnhub        `yaml:"finnhub"`
	Logging  Logging        `yaml:"logging"`
	Trading  TradingConfig  `yaml:"trading"`
	Caps     DailyCaps      `yaml:"daily_caps"`
	Windows  SessionWindows `yaml:"windows"`
	Strategy Strategy       `yaml:"strategy"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	AuditPath  string `yaml:"audit_path"`
}

// Server holds the status HTTP listener configuration.
type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ControlToken string `yaml:"control_token"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"` // iex | sip; empty selects by base URL
}

// Finnhub holds the earnings-calendar API configuration.
type Finnhub struct {
	APIKey          string `yaml:"api_key"`
	SkipEarningsDay bool   `yaml:"skip_earnings_day"`
	SkipNextDay     bool   `yaml:"skip_next_day"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines the engine's risk and execution parameters.
type TradingConfig struct {
	Watchlist          []string           `yaml:"watchlist"`
	PaperMode          bool               `yaml:"paper_mode"`
	ScanInterval       time.Duration      `yaml:"scan_interval"`
	ConcurrencyCap     int                `yaml:"concurrency_cap"`
	CooldownSec        int                `yaml:"cooldown_sec"`
	EntryCancelMinutes int                `yaml:"entry_cancel_minutes"`
	OrderTimeoutSec    int                `yaml:"order_timeout_sec"`
	EntryOrderType     string             `yaml:"entry_order_type"` // buy_stop | buy_limit
	TierSizes          map[string]float64 `yaml:"tier_sizes"`       // notional per symbol
	DefaultNotional    float64            `yaml:"default_notional"`
	UtilizationPct     float64            `yaml:"utilization_pct"` // fraction of buying power per entry
	InitialCash        float64            `yaml:"initial_cash"`    // seed when no ledger state exists
}

// DailyCaps configures soft/hard halts in both PnL directions. A negative
// value disables that direction.
type DailyCaps struct {
	SoftGainPct float64 `yaml:"soft_gain_pct"`
	HardGainPct float64 `yaml:"hard_gain_pct"`
	SoftLossPct float64 `yaml:"soft_loss_pct"`
	HardLossPct float64 `yaml:"hard_loss_pct"`
}

// SessionWindows holds ET time-of-day boundaries ("HH:MM").
type SessionWindows struct {
	MorningStart  string `yaml:"morning_start"`
	MorningEnd    string `yaml:"morning_end"`
	PowerStart    string `yaml:"power_start"`
	PowerEnd      string `yaml:"power_end"`
	FridayFlatten string `yaml:"friday_flatten"`
}

// Strategy holds signal-provider tolerances and exit parameters.
type Strategy struct {
	TargetPct        float64 `yaml:"target_pct"`
	VWAPTouchPct     float64 `yaml:"vwap_touch_pct"`
	VWAPExtensionPct float64 `yaml:"vwap_extension_pct"`
	ATRLen           int     `yaml:"atr_len"`
	ATRTakeProfitK   float64 `yaml:"atr_take_profit_k"`
	ATRTrailK        float64 `yaml:"atr_trail_k"`
	MAEStopK         float64 `yaml:"mae_stop_k"`
	RVOLMin          float64 `yaml:"rvol_min"`
	SpreadMaxPct     float64 `yaml:"spread_max_pct"`
	SlippageMaxPct   float64 `yaml:"slippage_max_pct"`
	ConfirmHigherLow bool    `yaml:"confirm_higher_low"`
	ConfirmVWAPRecl  bool    `yaml:"confirm_vwap_reclaim"`
	RetestLookback   int     `yaml:"retest_lookback"`
	BarLimit         int     `yaml:"bar_limit"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Trading.Watchlist) == 0 {
		return fmt.Errorf("config: empty watchlist")
	}
	if c.Trading.ConcurrencyCap < 1 {
		return fmt.Errorf("config: concurrency_cap must be >= 1, got %d", c.Trading.ConcurrencyCap)
	}
	if c.Trading.UtilizationPct <= 0 || c.Trading.UtilizationPct > 1 {
		return fmt.Errorf("config: utilization_pct must be in (0, 1], got %v", c.Trading.UtilizationPct)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.ScanInterval == 0 {
		cfg.Trading.ScanInterval = 5 * time.Second
	}
	if cfg.Trading.ConcurrencyCap == 0 {
		cfg.Trading.ConcurrencyCap = 3
	}
	if cfg.Trading.CooldownSec == 0 {
		cfg.Trading.CooldownSec = 600
	}
	if cfg.Trading.EntryCancelMinutes == 0 {
		cfg.Trading.EntryCancelMinutes = 2
	}
	if cfg.Trading.OrderTimeoutSec == 0 {
		cfg.Trading.OrderTimeoutSec = 10
	}
	if cfg.Trading.EntryOrderType == "" {
		cfg.Trading.EntryOrderType = "buy_stop"
	}
	if cfg.Trading.DefaultNotional == 0 {
		cfg.Trading.DefaultNotional = 5000
	}
	if cfg.Trading.UtilizationPct == 0 {
		cfg.Trading.UtilizationPct = 0.93
	}
	if cfg.Caps.SoftGainPct == 0 {
		cfg.Caps.SoftGainPct = 0.01
	}
	if cfg.Caps.HardGainPct == 0 {
		cfg.Caps.HardGainPct = 0.015
	}
	if cfg.Caps.SoftLossPct == 0 {
		cfg.Caps.SoftLossPct = 0.01
	}
	if cfg.Caps.HardLossPct == 0 {
		cfg.Caps.HardLossPct = 0.015
	}
	if cfg.Windows.MorningStart == "" {
		cfg.Windows.MorningStart = "09:45"
	}
	if cfg.Windows.MorningEnd == "" {
		cfg.Windows.MorningEnd = "11:15"
	}
	if cfg.Windows.PowerStart == "" {
		cfg.Windows.PowerStart = "15:00"
	}
	if cfg.Windows.PowerEnd == "" {
		cfg.Windows.PowerEnd = "15:55"
	}
	if cfg.Windows.FridayFlatten == "" {
		cfg.Windows.FridayFlatten = "15:45"
	}
	if cfg.Strategy.TargetPct == 0 {
		cfg.Strategy.TargetPct = 0.005
	}
	if cfg.Strategy.VWAPTouchPct == 0 {
		cfg.Strategy.VWAPTouchPct = 0.0015
	}
	if cfg.Strategy.VWAPExtensionPct == 0 {
		cfg.Strategy.VWAPExtensionPct = 0.01
	}
	if cfg.Strategy.ATRLen == 0 {
		cfg.Strategy.ATRLen = 14
	}
	if cfg.Strategy.ATRTakeProfitK == 0 {
		cfg.Strategy.ATRTakeProfitK = 0.5
	}
	if cfg.Strategy.ATRTrailK == 0 {
		cfg.Strategy.ATRTrailK = 1.0
	}
	if cfg.Strategy.MAEStopK == 0 {
		cfg.Strategy.MAEStopK = 1.2
	}
	if cfg.Strategy.RVOLMin == 0 {
		cfg.Strategy.RVOLMin = 1.1
	}
	if cfg.Strategy.SpreadMaxPct == 0 {
		cfg.Strategy.SpreadMaxPct = 0.0015
	}
	if cfg.Strategy.SlippageMaxPct == 0 {
		cfg.Strategy.SlippageMaxPct = 0.003
	}
	if cfg.Strategy.RetestLookback == 0 {
		cfg.Strategy.RetestLookback = 5
	}
	if cfg.Strategy.BarLimit == 0 {
		cfg.Strategy.BarLimit = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("AUDIT_PATH"); v != "" {
		cfg.Storage.AuditPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_DATA_FEED"); v != "" {
		cfg.Alpaca.Feed = strings.ToLower(v)
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		cfg.Server.ControlToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("WATCHLIST"); v != "" {
		var syms []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				syms = append(syms, strings.ToUpper(s))
			}
		}
		if len(syms) > 0 {
			cfg.Trading.Watchlist = syms
		}
	}
	if v := os.Getenv("CONCURRENCY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.ConcurrencyCap = n
		}
	}
	if v := os.Getenv("PAPER_MODE"); v != "" {
		cfg.Trading.PaperMode = v == "1" || strings.EqualFold(v, "true")
	}

	// Standard Alpaca env vars take highest priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// NotionalFor returns the per-entry notional budget for a symbol: its tier
// size if configured, the default otherwise.
func (t TradingConfig) NotionalFor(symbol string) float64 {
	if n, ok := t.TierSizes[symbol]; ok && n > 0 {
		return n
	}
	return t.DefaultNotional
}
