// Package orchestrator runs the per-tick pipeline: resolve markets,
// collect data, compute signals, scan arbitrage, execute orders,
// reconcile resting orders, and fan out alerts. It owns the mode state
// machine (custom/demo_safe/live_safe/live_auto) and the pause toggle
// that gate execution and reconciliation.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/arb"
	"github.com/sdibella/kalshi-signal-bot/internal/collectors"
	"github.com/sdibella/kalshi-signal-bot/internal/config"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/execution"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/notify"
	"github.com/sdibella/kalshi-signal-bot/internal/priceprovider"
	"github.com/sdibella/kalshi-signal-bot/internal/signal"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
)

// Stats is the merged per-tick summary recorded at the end of RunOnce.
type Stats struct {
	LastPollAt         time.Time
	MarketsSeen        int
	SignalsEmitted     int
	OrdersSubmitted    int
	ArbOpportunities   int
	AlertsSent         int
	WeatherGateBlocked bool
}

// Orchestrator wires the pipeline's collaborators together. All fields
// besides the mutable mode/pause state are set once at construction.
type Orchestrator struct {
	Cfg                 *config.Config
	Client              *kalshi.Client
	Store               store.Store
	PriceProvider       *priceprovider.Provider
	WeatherCollector    *collectors.WeatherCollector
	CryptoCollector     *collectors.CryptoCollector
	ResolutionCollector *collectors.ResolutionCollector
	Execution           *execution.Engine
	Notifier            notify.Notifier

	mu              sync.Mutex
	mode            Mode
	pendingLiveMode *Mode
	paused          bool
	backfilled      bool
	lastStats       Stats
}

func New(cfg *config.Config, client *kalshi.Client, st store.Store, pp *priceprovider.Provider, wc *collectors.WeatherCollector, cc *collectors.CryptoCollector, rc *collectors.ResolutionCollector, exec *execution.Engine, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{
		Cfg:                 cfg,
		Client:              client,
		Store:               st,
		PriceProvider:       pp,
		WeatherCollector:    wc,
		CryptoCollector:     cc,
		ResolutionCollector: rc,
		Execution:           exec,
		Notifier:            notifier,
		mode:                Mode(cfg.BotMode),
	}
}

// RequestModeChange stages a transition into a live_* mode; anything else
// applies immediately since only live modes carry execution risk.
func (o *Orchestrator) RequestModeChange(m Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m.isLive() {
		pending := m
		o.pendingLiveMode = &pending
		return
	}
	o.mode = m
	o.pendingLiveMode = nil
}

// ConfirmPendingMode applies a staged live-mode transition, if any.
func (o *Orchestrator) ConfirmPendingMode() (Mode, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pendingLiveMode == nil {
		return o.mode, false
	}
	o.mode = *o.pendingLiveMode
	o.pendingLiveMode = nil
	return o.mode, true
}

func (o *Orchestrator) Pause()  { o.mu.Lock(); o.paused = true; o.mu.Unlock() }
func (o *Orchestrator) Resume() { o.mu.Lock(); o.paused = false; o.mu.Unlock() }

func (o *Orchestrator) snapshot() (mode Mode, paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode, o.paused
}

// Status reports the current mode, pause state, and the stats recorded
// by the last completed RunOnce, for dashboards and runtime supervision.
func (o *Orchestrator) Status() (mode Mode, paused bool, last Stats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode, o.paused, o.lastStats
}

// RunOnce executes one full pipeline tick.
func (o *Orchestrator) RunOnce(ctx context.Context, now time.Time) (Stats, error) {
	mode, paused := o.snapshot()
	stats := Stats{LastPollAt: now}

	markets, err := o.resolveMarkets(ctx)
	if err != nil {
		return stats, fmt.Errorf("resolve markets: %w", err)
	}
	stats.MarketsSeen = len(markets)
	if _, err := o.Store.UpsertMarkets(ctx, markets); err != nil {
		return stats, fmt.Errorf("upsert markets: %w", err)
	}

	books := make(execution.Books, len(markets))
	for _, mkt := range markets {
		book, err := o.PriceProvider.GetKalshiOrderbook(ctx, mkt.Ticker)
		if err == nil && book != nil {
			books[mkt.Ticker] = book
		}
		if snap, err := o.PriceProvider.GetMarketSnapshot(ctx, mkt.Ticker); err == nil && snap != nil {
			_, _ = o.Store.InsertSnapshots(ctx, []domain.MarketSnapshot{*snap})
		}
	}

	if o.Cfg.HistoricalBackfillEnabled && !o.backfilled {
		o.backfillResolutions(ctx, markets, now)
		o.backfilled = true
	}

	weatherSamples := o.WeatherCollector.FetchEnsembleSamples(ctx, now)
	if len(weatherSamples) > 0 {
		_, _ = o.Store.InsertEnsembleSamples(ctx, weatherSamples)
	}
	spotTicks := o.CryptoCollector.FetchBTCSpotTicks(ctx, now)
	if len(spotTicks) > 0 {
		_, _ = o.Store.InsertSpotTicks(ctx, spotTicks)
	}

	weatherMarkets, btcMarkets := classifyMarkets(markets)
	sigCfg := signal.Config{MinEdgeBps: o.Cfg.SignalMinEdgeBps, StoreAll: o.Cfg.SignalStoreAll, MinConfidence: o.Cfg.SignalMinConfidence}

	var signals []domain.Signal
	signals = append(signals, o.weatherSignals(weatherMarkets, weatherSamples, books, sigCfg, now)...)
	btcSignals, err := o.btcSignals(ctx, btcMarkets, books, sigCfg, now)
	if err != nil {
		return stats, fmt.Errorf("btc signals: %w", err)
	}
	signals = append(signals, btcSignals...)

	if len(signals) > 0 {
		if _, err := o.Store.InsertSignals(ctx, signals); err != nil {
			return stats, fmt.Errorf("insert signals: %w", err)
		}
	}
	stats.SignalsEmitted = len(signals)

	seedTickers := make([]string, 0, len(markets))
	for _, m := range markets {
		seedTickers = append(seedTickers, m.Ticker)
	}
	resolutions := o.ResolutionCollector.CollectResolutions(ctx, seedTickers, now)
	if len(resolutions) > 0 {
		_, _ = o.Store.UpsertResolutions(ctx, resolutions)
	}

	executable := signals
	if mode.isLive() {
		blocked, err := o.weatherGateBlocked(ctx)
		if err != nil {
			return stats, fmt.Errorf("weather gate: %w", err)
		}
		if blocked {
			stats.WeatherGateBlocked = true
			executable = dropSignalType(signals, domain.SignalWeather)
		}
	}

	arbOpps := o.scanArb(markets, books, now)
	stats.ArbOpportunities = len(arbOpps)

	autoTrade := autoTradeFor(mode, o.Cfg.AutoTrade)
	executing := !paused && autoTrade
	if !executing || !o.Cfg.BracketArbEnabled {
		// The engine records the opportunities it executes itself; anything
		// it won't see this tick is still persisted as detected-not-taken.
		for _, opp := range arbOpps {
			_ = o.Store.InsertArbOpportunity(ctx, opp, false)
		}
	}
	var orders []domain.PaperOrder
	if executing {
		provider := domain.ProviderSimulate
		if mode.isLive() {
			provider = domain.ProviderSandbox
		}
		bankroll, exposure := o.portfolio(ctx)
		orders, err = o.Execution.Execute(ctx, now, executable, books, arbOpps, execution.Portfolio{BankrollCents: bankroll, CurrentExposureCents: exposure}, provider)
		if err != nil {
			return stats, fmt.Errorf("execute: %w", err)
		}
		if provider == domain.ProviderSandbox {
			directions := make(map[string]domain.Direction, len(executable))
			for _, s := range executable {
				directions[s.Ticker] = s.Direction
			}
			bankroll2, exposure2 := o.portfolio(ctx)
			_, _ = o.Execution.Reconcile(ctx, now, directions, books, execution.Portfolio{BankrollCents: bankroll2, CurrentExposureCents: exposure2}, provider)
		}
	}
	stats.OrdersSubmitted = len(orders)

	alerts := o.buildAlerts(ctx, now, executable, orders, arbOpps, stats)
	for _, a := range alerts {
		_ = o.Store.InsertAlertEvent(ctx, a)
	}
	stats.AlertsSent = len(alerts)

	o.mu.Lock()
	o.lastStats = stats
	o.mu.Unlock()
	return stats, nil
}

func (o *Orchestrator) resolveMarkets(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	seriesTickers := mergeSeries(o.Cfg.TargetSeriesTickers, o.Cfg.TargetMarketQueryGroups)
	if len(seriesTickers) == 0 {
		seriesTickers = []string{""}
	}
	statuses := o.Cfg.TargetMarketStatus
	if len(statuses) == 0 {
		statuses = []string{"open"}
	}
	for _, series := range seriesTickers {
		for _, status := range statuses {
			apiMarkets, err := o.Client.GetMarkets(ctx, series, status)
			if err != nil {
				return nil, err
			}
			for _, m := range apiMarkets {
				out = append(out, apiMarketToDomain(m))
				if o.Cfg.MarketLimit > 0 && len(out) >= o.Cfg.MarketLimit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// mergeSeries flattens the per-series list and the query-group list
// (groups are comma-joined series bundles queried as one batch) into a
// deduplicated series set.
func mergeSeries(series, groups []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range series {
		add(s)
	}
	for _, g := range groups {
		for _, s := range strings.Split(g, ",") {
			add(s)
		}
	}
	return out
}

func apiMarketToDomain(m kalshi.Market) domain.Market {
	status := domain.MarketUnknown
	switch m.Status {
	case "open":
		status = domain.MarketOpen
	case "closed":
		status = domain.MarketClosed
	case "settled", "finalized":
		status = domain.MarketSettled
	}
	closeTime, _ := m.CloseTimeParsed()
	return domain.Market{
		Ticker:       m.Ticker,
		Title:        m.Title,
		Status:       status,
		CloseTime:    closeTime,
		EventTicker:  m.EventTicker,
		RawAttributes: map[string]any{
			"subtitle": m.Subtitle, "yes_sub_title": m.YesSubTitle, "no_sub_title": m.NoSubTitle,
			"floor_strike": m.FloorStrike, "cap_strike": m.CapStrike,
		},
	}
}

// classifyMarkets splits markets into weather-bracket candidates
// (non-BTC tickers with parseable bounds) and BTC candidates (ticker
// contains "BTC").
func classifyMarkets(markets []domain.Market) (weather, btc []domain.Market) {
	for _, m := range markets {
		if strings.Contains(strings.ToUpper(m.Ticker), "BTC") {
			btc = append(btc, m)
			continue
		}
		if _, _, ok := domain.ParseBracketBounds(m); ok {
			weather = append(weather, m)
		}
	}
	return weather, btc
}

func (o *Orchestrator) weatherSignals(markets []domain.Market, samples []domain.EnsembleSample, books execution.Books, cfg signal.Config, now time.Time) []domain.Signal {
	inputs := make([]signal.WeatherMarketInput, 0, len(markets))
	for _, m := range markets {
		// No book means no market price to compare against; skip the
		// market this tick rather than signal off an invented midpoint.
		book := books[m.Ticker]
		if book == nil {
			continue
		}
		ask, ok := book.BestYesAsk()
		if !ok {
			continue
		}
		inputs = append(inputs, signal.WeatherMarketInput{Market: m, MarketProb: float64(ask) / 100, Samples: samples})
	}
	return signal.WeatherSignals(inputs, cfg, now)
}

func (o *Orchestrator) btcSignals(ctx context.Context, markets []domain.Market, books execution.Books, cfg signal.Config, now time.Time) ([]domain.Signal, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	current, err := o.PriceProvider.GetBTCPrices(ctx, now)
	if err != nil {
		return nil, err
	}
	anchor, err := o.anchorPrices(ctx, now)
	if err != nil {
		return nil, err
	}
	currentSrc := toSourcePrices(current)
	anchorSrc := toSourcePrices(anchor)

	inputs := make([]signal.BTCMarketInput, 0, len(markets))
	for _, m := range markets {
		book := books[m.Ticker]
		if book == nil {
			continue
		}
		inputs = append(inputs, signal.BTCMarketInput{
			Market: m, CurrentPrices: currentSrc, AnchorPrices: anchorSrc,
			Book: book, BookIsWS: true, VWAPTargetQty: 10,
		})
	}
	return signal.BTCSignals(inputs, cfg, now), nil
}

// anchorPrices reconstructs each source's price as of one momentum
// lookback window ago from the store's recent tick history, used as the
// fair-value fusion's comparison point for BTC momentum.
func (o *Orchestrator) anchorPrices(ctx context.Context, now time.Time) (map[string]priceprovider.PriceSnapshot, error) {
	const lookback = 15 * time.Minute
	since := now.Add(-2 * lookback)
	anchorAt := now.Add(-lookback)
	out := make(map[string]priceprovider.PriceSnapshot)
	ticks, err := o.Store.GetRecentSpotTicks(ctx, o.Cfg.BTCSymbol, since)
	if err != nil {
		return nil, err
	}
	for _, source := range []domain.SpotSource{domain.SourceBinance, domain.SourceCoinbase, domain.SourceKraken} {
		var closest *domain.SpotTick
		for i := range ticks {
			if ticks[i].Source != source || ticks[i].Ts.After(anchorAt) {
				continue
			}
			t := ticks[i]
			if closest == nil || t.Ts.After(closest.Ts) {
				closest = &t
			}
		}
		if closest != nil {
			out[string(source)] = priceprovider.PriceSnapshot{Price: closest.PriceUSD, Ts: closest.Ts, Source: domain.DataSourceRest}
		}
	}
	return out, nil
}

func toSourcePrices(in map[string]priceprovider.PriceSnapshot) map[string]signal.SourcePrice {
	out := make(map[string]signal.SourcePrice, len(in))
	for k, v := range in {
		out[k] = signal.SourcePrice{Price: v.Price, Tier: v.Source}
	}
	return out
}

func (o *Orchestrator) scanArb(markets []domain.Market, books execution.Books, now time.Time) []domain.BracketArbOpportunity {
	byEvent := make(map[string][]string)
	for _, m := range markets {
		if m.EventTicker == "" || books[m.Ticker] == nil {
			continue
		}
		byEvent[m.EventTicker] = append(byEvent[m.EventTicker], m.Ticker)
	}
	var out []domain.BracketArbOpportunity
	for event, tickers := range byEvent {
		legs := make([]arb.MarketBook, 0, len(tickers))
		for _, t := range tickers {
			legs = append(legs, arb.MarketBook{Ticker: t, Book: books[t]})
		}
		if opp := arb.Scan(event, legs, o.Cfg.BracketArbMinProfitAfterFeesCents, now); opp != nil {
			out = append(out, *opp)
		}
	}
	return out
}

func (o *Orchestrator) backfillResolutions(ctx context.Context, markets []domain.Market, now time.Time) {
	limit := o.Cfg.HistoricalMarkets
	if limit <= 0 || limit > len(markets) {
		limit = len(markets)
	}
	seed := make([]string, 0, limit)
	for _, m := range markets[:limit] {
		seed = append(seed, m.Ticker)
	}
	resolutions := o.ResolutionCollector.CollectResolutions(ctx, seed, now.Add(-time.Duration(o.Cfg.HistoricalBackfillDays)*24*time.Hour))
	if len(resolutions) > 0 {
		_, _ = o.Store.UpsertResolutions(ctx, resolutions)
	}
}

// weatherGateBlocked checks the live-mode calibration gates: minimum
// resolved sample count, the model's Brier advantage over the market's
// own Brier (market_brier - model_brier), minimum simulated profit, and
// maximum calibration error.
func (o *Orchestrator) weatherGateBlocked(ctx context.Context) (bool, error) {
	metrics, err := o.Store.AccuracyMetrics(ctx)
	if err != nil {
		return false, err
	}
	rows, err := o.Store.WeatherBacktestRows(ctx)
	if err != nil {
		return false, err
	}
	bins, err := o.Store.CalibrationCurve(ctx, 10)
	if err != nil {
		return false, err
	}

	if countDistinctDays(rows) < o.Cfg.WeatherLiveGateMinResolvedDays {
		return true, nil
	}
	modelBrier, marketBrier, resolved := brierScores(rows)
	if resolved == 0 {
		return true, nil
	}
	if (marketBrier - modelBrier) < o.Cfg.WeatherLiveGateMinBrierAdvantage {
		return true, nil
	}
	if metrics.TotalPnLCents < float64(o.Cfg.WeatherLiveGateMinSimProfitCents) {
		return true, nil
	}
	if calibrationError(bins) > o.Cfg.WeatherLiveGateMaxCalibrationErr {
		return true, nil
	}
	return false, nil
}

// brierScores computes the model's and the market's Brier score over the
// resolved backtest rows, using each signal's quoted market probability
// at emission time as the market's prediction.
func brierScores(rows []store.WeatherBacktestRow) (modelBrier, marketBrier float64, resolved int) {
	for _, r := range rows {
		if r.Result != domain.ResultYes && r.Result != domain.ResultNo {
			continue
		}
		actual := 0.0
		if r.Result == domain.ResultYes {
			actual = 1.0
		}
		modelBrier += (r.Probability - actual) * (r.Probability - actual)
		marketBrier += (r.MarketProbability - actual) * (r.MarketProbability - actual)
		resolved++
	}
	if resolved > 0 {
		modelBrier /= float64(resolved)
		marketBrier /= float64(resolved)
	}
	return modelBrier, marketBrier, resolved
}

func countDistinctDays(rows []store.WeatherBacktestRow) int {
	seen := make(map[string]bool)
	for _, r := range rows {
		seen[r.Date.Format("2006-01-02")] = true
	}
	return len(seen)
}

func calibrationError(bins []store.CalibrationBin) float64 {
	var weighted, totalCount float64
	for _, b := range bins {
		if b.Count == 0 {
			continue
		}
		weighted += math.Abs(b.PredictedMean-b.ActualMean) * float64(b.Count)
		totalCount += float64(b.Count)
	}
	if totalCount == 0 {
		return 0
	}
	return weighted / totalCount
}

func dropSignalType(signals []domain.Signal, t domain.SignalType) []domain.Signal {
	var out []domain.Signal
	for _, s := range signals {
		if s.Type == t {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (o *Orchestrator) portfolio(ctx context.Context) (bankrollCents, exposureCents int) {
	if o.Client != nil {
		if bal, err := o.Client.GetBalance(ctx); err == nil {
			bankrollCents = bal.Balance
		}
	}
	positions, err := o.Store.OpenPositionsRollup(ctx)
	if err != nil {
		return bankrollCents, 0
	}
	for _, p := range positions {
		exposureCents += int(p.AveragePrice * float64(p.TotalCount))
	}
	return bankrollCents, exposureCents
}

// buildAlerts assembles the per-tick digest plus operational messages:
// gate-blocked notice, edge-decay on open positions without a matching
// live signal (excluding hedged positions with both sides open), and
// newly discovered arbitrage opportunities.
func (o *Orchestrator) buildAlerts(ctx context.Context, now time.Time, signals []domain.Signal, orders []domain.PaperOrder, arbOpps []domain.BracketArbOpportunity, stats Stats) []domain.AlertEvent {
	var events []domain.AlertEvent
	events = append(events, o.Notifier.Notify(now, signals, orders)...)

	var messages []string
	if stats.WeatherGateBlocked {
		messages = append(messages, "weather live-trading gate blocked: calibration thresholds not met")
	}
	messages = append(messages, o.edgeDecayMessages(ctx, signals)...)
	for _, opp := range arbOpps {
		messages = append(messages, fmt.Sprintf("arb discovered: event=%s type=%s profit_after_fees=%dc", opp.EventKey, opp.ArbType, opp.ProfitAfterFeesCents))
	}
	if len(messages) > 0 {
		events = append(events, o.Notifier.NotifyOperational(now, messages)...)
	}
	return events
}

func (o *Orchestrator) edgeDecayMessages(ctx context.Context, signals []domain.Signal) []string {
	positions, err := o.Store.OpenPositionsRollup(ctx)
	if err != nil {
		return nil
	}
	bySide := make(map[string]map[domain.OrderSide]bool)
	for _, p := range positions {
		if bySide[p.Ticker] == nil {
			bySide[p.Ticker] = make(map[domain.OrderSide]bool)
		}
		bySide[p.Ticker][p.Side] = true
	}
	current := make(map[string]domain.Signal, len(signals))
	for _, s := range signals {
		current[s.Ticker] = s
	}

	var messages []string
	for ticker, sides := range bySide {
		if sides[domain.SideYes] && sides[domain.SideNo] {
			continue // hedged, not a decay concern
		}
		sig, ok := current[ticker]
		switch {
		case !ok:
			messages = append(messages, fmt.Sprintf("edge decay: %s has an open position with no current signal", ticker))
		case sig.Direction == domain.DirectionFlat:
			messages = append(messages, fmt.Sprintf("edge decay: %s signal has decayed to flat", ticker))
		case sides[domain.SideYes] && sig.Direction == domain.DirectionBuyNo:
			messages = append(messages, fmt.Sprintf("edge decay: %s signal flipped to buy_no against an open yes position", ticker))
		case sides[domain.SideNo] && sig.Direction == domain.DirectionBuyYes:
			messages = append(messages, fmt.Sprintf("edge decay: %s signal flipped to buy_yes against an open no position", ticker))
		}
	}
	return messages
}
