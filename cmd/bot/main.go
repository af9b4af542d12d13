package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/collectors"
	"github.com/sdibella/kalshi-signal-bot/internal/config"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/execution"
	"github.com/sdibella/kalshi-signal-bot/internal/feeds"
	"github.com/sdibella/kalshi-signal-bot/internal/journal"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/notify"
	"github.com/sdibella/kalshi-signal-bot/internal/orchestrator"
	"github.com/sdibella/kalshi-signal-bot/internal/priceprovider"
	"github.com/sdibella/kalshi-signal-bot/internal/runtime"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
	"github.com/sdibella/kalshi-signal-bot/internal/ws"
)

func main() {
	flags := config.RegisterFlags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parse error", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("kalshi signal bot starting",
		"env", cfg.KalshiEnv,
		"mode", cfg.BotMode,
		"dryRun", cfg.DryRun,
		"profile", cfg.TradingProfile,
	)

	client, err := kalshi.NewClient(cfg)
	if err != nil {
		slog.Error("kalshi client init failed", "err", err)
		os.Exit(1)
	}

	bal, err := client.GetBalance(context.Background())
	if err != nil {
		slog.Error("auth check failed — cannot reach Kalshi API", "err", err)
		os.Exit(1)
	}
	slog.Info("authenticated", "balance", fmt.Sprintf("$%.2f", float64(bal.Balance)/100.0))

	j, err := journal.New(cfg.JournalPath)
	if err != nil {
		slog.Error("journal init failed", "err", err)
		os.Exit(1)
	}
	defer j.Close()
	_ = j.Log(journal.NewSessionStart(cfg.KalshiEnv, cfg.DryRun, bal.Balance))
	slog.Info("journal opened", "path", cfg.JournalPath)

	st := store.New(j)

	// Wire the market-data plane: one WSManager-backed feed per venue,
	// sharing the same reconnect/heartbeat/subscribe-replay implementation.
	binanceFeed := feeds.NewBinanceFeed("wss://stream.binance.com:9443/ws/btcusdt@trade")
	coinbaseFeed := feeds.NewCoinbaseFeed("wss://ws-feed.exchange.coinbase.com")
	krakenFeed := feeds.NewKrakenFeed("wss://ws.kraken.com/v2")

	kalshiAuth := func() (map[string]string, error) {
		return client.AuthHeaders("GET", "/trade-api/ws/v2")
	}
	kalshiFeed := feeds.NewKalshiFeed(cfg.WSBaseURL(), ws.AuthHeadersProvider(kalshiAuth))

	pp := &priceprovider.Provider{
		Binance:   binanceFeed,
		Coinbase:  coinbaseFeed,
		Kraken:    krakenFeed,
		Kalshi:    kalshiFeed,
		Store:     st,
		Client:    client,
		BTCSymbol: cfg.BTCSymbol,
	}

	weatherCollector := collectors.NewWeatherCollector(cfg.WeatherLatitude, cfg.WeatherLongitude, cfg.WeatherTimezone, cfg.WeatherEnsembleModels, cfg.WeatherForecastDays)
	cryptoCollector := collectors.NewCryptoCollector(cfg.BTCSymbol)
	resolutionCollector := collectors.NewResolutionCollector(client, cfg.TargetSeriesTickers, cfg.ResolutionLookbackHours)

	whitelist := make([]domain.SignalType, 0, len(cfg.SignalTypeWhitelist))
	for _, s := range cfg.SignalTypeWhitelist {
		whitelist = append(whitelist, domain.SignalType(s))
	}
	execCfg := execution.Config{
		Sizing: execution.SizingConfig{
			Mode:                execution.SizingMode(cfg.SizingMode),
			FixedContracts:      cfg.FixedContractCount,
			KellyFractionScale:  cfg.KellyFractionScale,
			MaxPositionDollars:  cfg.PaperTradeMaxPositionDollars,
			MaxPortfolioDollars: cfg.PaperTradeMaxPortfolioExposureDollars,
		},
		Pricing: execution.PricingConfig{
			MakerOnly:     cfg.MakerOnly,
			MinPriceCents: cfg.MinPriceCents,
			MaxPriceCents: cfg.MaxPriceCents,
		},
		MinEdgeBps:                        cfg.SignalMinEdgeBps,
		MinConfidence:                     cfg.SignalMinConfidence,
		SignalTypeWhitelist:               whitelist,
		CooldownMinutes:                   cfg.CooldownMinutes,
		BracketArbEnabled:                 cfg.BracketArbEnabled,
		BracketArbMinProfitAfterFeesCents: cfg.BracketArbMinProfitAfterFeesCents,
		DefaultFillProbability:            cfg.DefaultFillProbability,
		FillProbabilityLookbackDays:       cfg.FillProbabilityLookbackDays,
		FillProbabilityMinSamples:         cfg.FillProbabilityMinSamples,
		QueueManagementEnabled:            cfg.QueueManagementEnabled,
		QueueMaxDepth:                     cfg.QueueMaxDepth,
		QueueStaleMinutes:                 cfg.QueueStaleMinutes,
		RepriceEnabled:                    cfg.RepriceEnabled,
		RepriceCooldownMinutes:            cfg.RepriceCooldownMinutes,
		RepriceMaxPerWindow:               cfg.RepriceMaxPerWindow,
	}
	exec := execution.NewEngine(execCfg, st, client)

	notifier := notify.NewCooldownNotifier(notify.NewLogNotifier(logger))

	orch := orchestrator.New(cfg, client, st, pp, weatherCollector, cryptoCollector, resolutionCollector, exec, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dashboardCmd := startDashboard()

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		if dashboardCmd != nil && dashboardCmd.Process != nil {
			dashboardCmd.Process.Signal(syscall.SIGTERM)
		}
		cancel()
	}()

	// Health-audit targets are populated from the first tick's discovered
	// markets rather than guessed up front, so this starts empty; RunOnce
	// re-derives its own market set every tick regardless.
	var healthTargets []runtime.HealthCheckTarget

	sup := &runtime.Supervisor{
		Feeds:              []runtime.Feed{binanceFeed, coinbaseFeed, krakenFeed, kalshiFeed},
		Orchestrator:       orch,
		PriceProvider:      pp,
		Client:             client,
		PollInterval: cfg.PollInterval(),
		HealthAuditTargets: healthTargets,
		KalshiFeed:         kalshiFeed,
		TickerPrefixes: cfg.TargetSeriesTickers,
		Logger:             logger,
	}

	// Run one tick immediately so the process proves useful before the
	// first poll-interval tick fires, matching the teacher's "connect,
	// authenticate, then start working" startup order.
	if _, err := orch.RunOnce(ctx, time.Now()); err != nil {
		slog.Error("initial run_once failed", "err", err)
	}

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("runtime supervisor exited", "err", err)
		os.Exit(1)
	}

	slog.Info("bot stopped")
}

func startDashboard() *exec.Cmd {
	exePath, err := os.Executable()
	if err != nil {
		slog.Error("failed to get executable path", "err", err)
		return nil
	}

	dashboardBinary := filepath.Join(filepath.Dir(exePath), "dashboard")
	if _, err := os.Stat(dashboardBinary); err != nil {
		slog.Warn("dashboard binary not found", "path", dashboardBinary)
		return nil
	}

	cmd := exec.Command(dashboardBinary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		slog.Error("failed to start dashboard", "err", err)
		return nil
	}

	slog.Info("dashboard started", "pid", cmd.Process.Pid)
	return cmd
}
