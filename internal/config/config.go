package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved, layered configuration for one bot process.
// Layering order (lowest to highest precedence): built-in defaults →
// trading-profile defaults → bot-mode defaults → .env file → process
// environment → explicit CLI flags.
type Config struct {
	KalshiAPIKeyID    string
	KalshiPrivKeyPath string
	KalshiEnv         string // "prod" or "demo"
	DryRun            bool
	JournalPath       string

	DashboardPort int
	DashboardHost string
	JournalDir    string

	TradingProfile TradingProfile
	BotMode        BotMode

	PollIntervalSeconds     int
	MarketLimit             int
	TargetSeriesTickers     []string
	TargetMarketQueryGroups []string
	TargetMarketStatus      []string

	SignalMinEdgeBps    float64
	SignalStoreAll      bool
	SignalMinConfidence float64

	KellyFractionScale                    float64
	PaperTradeMaxPositionDollars          float64
	PaperTradeMaxPortfolioExposureDollars float64
	CooldownMinutes                       int
	QueueMaxDepth                         int
	QueueStaleMinutes                     int
	RepriceCooldownMinutes                int
	RepriceMaxPerWindow                   int
	MinPriceCents                         int
	MaxPriceCents                         int

	BracketArbEnabled                 bool
	BracketArbMinProfitAfterFeesCents int

	SizingMode                  string // "kelly" | "fixed"
	FixedContractCount          int
	DefaultFillProbability      float64
	FillProbabilityLookbackDays int
	FillProbabilityMinSamples   int
	MakerOnly                   bool
	SignalTypeWhitelist         []string
	QueueManagementEnabled      bool
	RepriceEnabled              bool

	WeatherLiveGateMinResolvedDays   int
	WeatherLiveGateMinBrierAdvantage float64
	WeatherLiveGateMinSimProfitCents int
	WeatherLiveGateMaxCalibrationErr float64

	WeatherLatitude         float64
	WeatherLongitude        float64
	WeatherTimezone         string
	WeatherEnsembleModels   []string
	WeatherForecastDays     int
	BTCSymbol               string
	ResolutionLookbackHours int

	HistoricalBackfillEnabled bool
	HistoricalBackfillDays    int
	HistoricalMarkets         int

	AutoTrade bool

	LogLevel string
}

func (c *Config) BaseURL() string {
	if c.KalshiEnv == "prod" {
		return "https://api.elections.kalshi.com/trade-api/v2"
	}
	return "https://demo-api.kalshi.co/trade-api/v2"
}

func (c *Config) WSBaseURL() string {
	if c.KalshiEnv == "prod" {
		return "wss://api.elections.kalshi.com/trade-api/ws/v2"
	}
	return "wss://demo-api.kalshi.co/trade-api/ws/v2"
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Load resolves the layered configuration. flags, if non-nil, is the
// already-parsed CLI flag set (built by RegisterFlags); pass nil to skip
// the flag layer, e.g. in tests.
func Load(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("kalshi_env", "demo")
	v.SetDefault("dry_run", true)
	v.SetDefault("journal_path", "./journal.jsonl")
	v.SetDefault("kalshi_priv_key_path", "./kalshi_private_key.pem")
	v.SetDefault("dashboard_port", 8080)
	v.SetDefault("dashboard_host", "localhost")
	v.SetDefault("dashboard_journal_dir", ".")
	v.SetDefault("trading_profile", string(ProfileBalanced))
	v.SetDefault("bot_mode", string(ModeCustom))
	v.SetDefault("poll_interval_seconds", 300)
	v.SetDefault("market_limit", 100)
	v.SetDefault("min_price_cents", 1)
	v.SetDefault("max_price_cents", 99)
	v.SetDefault("reprice_cooldown_minutes", 10)
	v.SetDefault("reprice_max_per_window", 3)
	v.SetDefault("weather_live_gate_min_resolved_days", 14)
	v.SetDefault("weather_live_gate_min_brier_advantage", 0.02)
	v.SetDefault("weather_live_gate_min_sim_profit_cents", 0)
	v.SetDefault("weather_live_gate_max_calibration_error", 0.10)
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_store_all", false)
	v.SetDefault("weather_latitude", 40.7794) // Central Park, NYC -- matches the NWS CLI NYC benchmark
	v.SetDefault("weather_longitude", -73.9692)
	v.SetDefault("weather_timezone", "America/New_York")
	v.SetDefault("weather_ensemble_models", []string{"gfs_ensemble", "ecmwf_ifs025_ensemble"})
	v.SetDefault("weather_forecast_days", 2)
	v.SetDefault("btc_symbol", "BTCUSD")
	v.SetDefault("resolution_lookback_hours", 48)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	profile := TradingProfile(v.GetString("trading_profile"))
	if pd, ok := profileTable[profile]; ok {
		v.SetDefault("signal_min_edge_bps", pd.SignalMinEdgeBps)
		v.SetDefault("signal_min_confidence", pd.SignalMinConfidence)
		v.SetDefault("kelly_fraction_scale", pd.KellyFractionScale)
		v.SetDefault("paper_trade_max_position_dollars", pd.MaxPositionDollars)
		v.SetDefault("paper_trade_max_portfolio_exposure_dollars", pd.MaxPortfolioExposureDollars)
		v.SetDefault("bracket_arb_min_profit_after_fees_cents", pd.BracketArbMinProfitAfterFees)
		v.SetDefault("cooldown_minutes", pd.CooldownMinutes)
		v.SetDefault("queue_max_depth", pd.QueueMaxDepth)
		v.SetDefault("queue_stale_minutes", pd.QueueStaleMinutes)
	}

	mode := BotMode(v.GetString("bot_mode"))
	if md, ok := modeTable[mode]; ok {
		v.SetDefault("kalshi_env", md.KalshiEnv)
		v.SetDefault("dry_run", md.DryRun)
		v.SetDefault("auto_trade", md.AutoTrade)
	}
	v.SetDefault("bracket_arb_enabled", true)
	v.SetDefault("sizing_mode", "kelly")
	v.SetDefault("fixed_contract_count", 1)
	v.SetDefault("default_fill_probability", 0.5)
	v.SetDefault("fill_probability_lookback_days", 14)
	v.SetDefault("fill_probability_min_samples", 20)
	v.SetDefault("maker_only", true)
	v.SetDefault("signal_type_whitelist", []string{"weather", "btc"})
	v.SetDefault("queue_management_enabled", true)
	v.SetDefault("reprice_enabled", true)
	v.SetDefault("historical_backfill_enabled", true)
	v.SetDefault("historical_backfill_days", 7)
	v.SetDefault("historical_markets", 10)

	cfg := &Config{
		KalshiAPIKeyID:                        v.GetString("kalshi_api_key_id"),
		KalshiPrivKeyPath:                     v.GetString("kalshi_priv_key_path"),
		KalshiEnv:                             v.GetString("kalshi_env"),
		DryRun:                                v.GetBool("dry_run"),
		JournalPath:                           v.GetString("journal_path"),
		DashboardPort:                         v.GetInt("dashboard_port"),
		DashboardHost:                         v.GetString("dashboard_host"),
		JournalDir:                            v.GetString("dashboard_journal_dir"),
		TradingProfile:                        profile,
		BotMode:                               mode,
		PollIntervalSeconds:                   v.GetInt("poll_interval_seconds"),
		MarketLimit:                           v.GetInt("market_limit"),
		TargetSeriesTickers:                   v.GetStringSlice("target_series_tickers"),
		TargetMarketQueryGroups:               v.GetStringSlice("target_market_query_groups"),
		TargetMarketStatus:                    v.GetStringSlice("target_market_status"),
		SignalMinEdgeBps:                      v.GetFloat64("signal_min_edge_bps"),
		SignalStoreAll:                        v.GetBool("signal_store_all"),
		SignalMinConfidence:                   v.GetFloat64("signal_min_confidence"),
		KellyFractionScale:                    v.GetFloat64("kelly_fraction_scale"),
		PaperTradeMaxPositionDollars:          v.GetFloat64("paper_trade_max_position_dollars"),
		PaperTradeMaxPortfolioExposureDollars: v.GetFloat64("paper_trade_max_portfolio_exposure_dollars"),
		CooldownMinutes:                       v.GetInt("cooldown_minutes"),
		QueueMaxDepth:                         v.GetInt("queue_max_depth"),
		QueueStaleMinutes:                     v.GetInt("queue_stale_minutes"),
		RepriceCooldownMinutes:                v.GetInt("reprice_cooldown_minutes"),
		RepriceMaxPerWindow:                   v.GetInt("reprice_max_per_window"),
		MinPriceCents:                         v.GetInt("min_price_cents"),
		MaxPriceCents:                         v.GetInt("max_price_cents"),
		BracketArbEnabled:                     v.GetBool("bracket_arb_enabled"),
		BracketArbMinProfitAfterFeesCents:     v.GetInt("bracket_arb_min_profit_after_fees_cents"),
		SizingMode:                            v.GetString("sizing_mode"),
		FixedContractCount:                    v.GetInt("fixed_contract_count"),
		DefaultFillProbability:                v.GetFloat64("default_fill_probability"),
		FillProbabilityLookbackDays:           v.GetInt("fill_probability_lookback_days"),
		FillProbabilityMinSamples:             v.GetInt("fill_probability_min_samples"),
		MakerOnly:                             v.GetBool("maker_only"),
		SignalTypeWhitelist:                   v.GetStringSlice("signal_type_whitelist"),
		QueueManagementEnabled:                v.GetBool("queue_management_enabled"),
		RepriceEnabled:                        v.GetBool("reprice_enabled"),
		WeatherLiveGateMinResolvedDays:        v.GetInt("weather_live_gate_min_resolved_days"),
		WeatherLiveGateMinBrierAdvantage:      v.GetFloat64("weather_live_gate_min_brier_advantage"),
		WeatherLiveGateMinSimProfitCents:      v.GetInt("weather_live_gate_min_sim_profit_cents"),
		WeatherLiveGateMaxCalibrationErr:      v.GetFloat64("weather_live_gate_max_calibration_error"),
		WeatherLatitude:                       v.GetFloat64("weather_latitude"),
		WeatherLongitude:                      v.GetFloat64("weather_longitude"),
		WeatherTimezone:                       v.GetString("weather_timezone"),
		WeatherEnsembleModels:                 v.GetStringSlice("weather_ensemble_models"),
		WeatherForecastDays:                   v.GetInt("weather_forecast_days"),
		BTCSymbol:                             v.GetString("btc_symbol"),
		ResolutionLookbackHours:               v.GetInt("resolution_lookback_hours"),
		HistoricalBackfillEnabled:             v.GetBool("historical_backfill_enabled"),
		HistoricalBackfillDays:                v.GetInt("historical_backfill_days"),
		HistoricalMarkets:                     v.GetInt("historical_markets"),
		AutoTrade:                             v.GetBool("auto_trade"),
		LogLevel:                              v.GetString("log_level"),
	}

	if v.GetBool("debug") {
		cfg.LogLevel = "debug"
	}

	if cfg.KalshiAPIKeyID == "" {
		return nil, fmt.Errorf("kalshi_api_key_id is required")
	}
	if cfg.KalshiEnv != "prod" && cfg.KalshiEnv != "demo" {
		return nil, fmt.Errorf("kalshi_env must be 'prod' or 'demo', got %q", cfg.KalshiEnv)
	}
	if !validProfile(string(cfg.TradingProfile)) {
		return nil, fmt.Errorf("unknown trading_profile %q", cfg.TradingProfile)
	}
	if !validMode(string(cfg.BotMode)) {
		return nil, fmt.Errorf("unknown bot_mode %q", cfg.BotMode)
	}

	return cfg, nil
}

// RegisterFlags builds the CLI flag layer consumed by Load. Call
// flags.Parse(os.Args[1:]) before passing it in.
func RegisterFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("kalshi-signal-bot", pflag.ContinueOnError)
	flags.Bool("dry_run", true, "run without submitting live orders")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("trading_profile", string(ProfileBalanced), "conservative|balanced|aggressive")
	flags.String("bot_mode", string(ModeCustom), "custom|demo_safe|live_safe|live_auto")
	return flags
}
