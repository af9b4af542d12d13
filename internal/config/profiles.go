package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// TradingProfile is one of the built-in risk postures a bot mode layers on
// top of. Values here become viper defaults, not hard constants, so a .env
// or CLI flag can still override any single field.
type TradingProfile string

const (
	ProfileConservative TradingProfile = "conservative"
	ProfileBalanced     TradingProfile = "balanced"
	ProfileAggressive   TradingProfile = "aggressive"
)

type profileDefaults struct {
	SignalMinEdgeBps             float64 `yaml:"signal_min_edge_bps"`
	SignalMinConfidence          float64 `yaml:"signal_min_confidence"`
	KellyFractionScale           float64 `yaml:"kelly_fraction_scale"`
	MaxPositionDollars           float64 `yaml:"max_position_dollars"`
	MaxPortfolioExposureDollars  float64 `yaml:"max_portfolio_exposure_dollars"`
	BracketArbMinProfitAfterFees int     `yaml:"bracket_arb_min_profit_after_fees_cents"`
	CooldownMinutes              int     `yaml:"cooldown_minutes"`
	QueueMaxDepth                int     `yaml:"queue_max_depth"`
	QueueStaleMinutes            int     `yaml:"queue_stale_minutes"`
}

//go:embed trading_profiles.yaml
var tradingProfilesYAML []byte

//go:embed bot_modes.yaml
var botModesYAML []byte

var profileTable map[TradingProfile]profileDefaults

type modeDefaults struct {
	KalshiEnv      string `yaml:"kalshi_env"`
	AutoTrade      bool   `yaml:"auto_trade"`
	DryRun         bool   `yaml:"dry_run"`
	RequireCalGate bool   `yaml:"require_calibration_gate"`
}

var modeTable map[BotMode]modeDefaults

// BotMode is the top-level safety gate: custom is fully manual, demo_safe
// runs against the demo environment with auto-trading off, live_safe runs
// against the live environment with auto-trading off, live_auto trades
// live. Transitions into any live_* mode are two-phase; see
// internal/orchestrator.
type BotMode string

const (
	ModeCustom   BotMode = "custom"
	ModeDemoSafe BotMode = "demo_safe"
	ModeLiveSafe BotMode = "live_safe"
	ModeLiveAuto BotMode = "live_auto"
)

func init() {
	var profiles map[string]profileDefaults
	if err := yaml.Unmarshal(tradingProfilesYAML, &profiles); err != nil {
		panic(fmt.Errorf("parse embedded trading_profiles.yaml: %w", err))
	}
	profileTable = make(map[TradingProfile]profileDefaults, len(profiles))
	for k, v := range profiles {
		profileTable[TradingProfile(k)] = v
	}

	var modes map[string]modeDefaults
	if err := yaml.Unmarshal(botModesYAML, &modes); err != nil {
		panic(fmt.Errorf("parse embedded bot_modes.yaml: %w", err))
	}
	modeTable = make(map[BotMode]modeDefaults, len(modes))
	for k, v := range modes {
		modeTable[BotMode(k)] = v
	}
}

func validProfile(p string) bool {
	_, ok := profileTable[TradingProfile(p)]
	return ok
}

func validMode(m string) bool {
	_, ok := modeTable[BotMode(m)]
	return ok
}
