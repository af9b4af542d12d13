package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sdibella/kalshi-signal-bot/internal/config"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
)

func TestModeTwoPhaseConfirmation(t *testing.T) {
	o := &Orchestrator{mode: ModeCustom}
	o.RequestModeChange(ModeLiveAuto)
	if o.mode != ModeCustom {
		t.Fatalf("expected mode unchanged before confirmation, got %s", o.mode)
	}
	applied, ok := o.ConfirmPendingMode()
	if !ok || applied != ModeLiveAuto {
		t.Fatalf("expected live_auto applied, got %s ok=%v", applied, ok)
	}
	if _, ok := o.ConfirmPendingMode(); ok {
		t.Fatal("expected no pending mode left to confirm")
	}
}

func TestRequestModeChangeNonLiveAppliesImmediately(t *testing.T) {
	o := &Orchestrator{mode: ModeLiveAuto}
	o.RequestModeChange(ModeCustom)
	if o.mode != ModeCustom {
		t.Fatalf("expected immediate switch to custom, got %s", o.mode)
	}
}

func TestPauseResume(t *testing.T) {
	o := &Orchestrator{}
	o.Pause()
	if _, paused := o.snapshot(); !paused {
		t.Fatal("expected paused after Pause()")
	}
	o.Resume()
	if _, paused := o.snapshot(); paused {
		t.Fatal("expected resumed after Resume()")
	}
}

func TestAutoTradeForLiveModes(t *testing.T) {
	if !autoTradeFor(ModeLiveAuto, false) {
		t.Fatal("live_auto must always auto-trade")
	}
	if autoTradeFor(ModeLiveSafe, true) {
		t.Fatal("live_safe must never auto-trade")
	}
	if autoTradeFor(ModeCustom, true) != true {
		t.Fatal("custom mode should defer to configured default")
	}
}

func TestClassifyMarkets(t *testing.T) {
	markets := []domain.Market{
		{Ticker: "KXBTCHOUR-1", Title: "btc bracket"},
		{Ticker: "KXHIGHNY-1", Title: "High below 72"},
		{Ticker: "KXUNPARSEABLE-1", Title: "no numbers here"},
	}
	weather, btc := classifyMarkets(markets)
	if len(btc) != 1 || btc[0].Ticker != "KXBTCHOUR-1" {
		t.Fatalf("expected 1 btc market, got %v", btc)
	}
	if len(weather) != 1 || weather[0].Ticker != "KXHIGHNY-1" {
		t.Fatalf("expected 1 weather market, got %v", weather)
	}
}

func TestCalibrationErrorWeightsByCount(t *testing.T) {
	bins := []store.CalibrationBin{
		{PredictedMean: 0.5, ActualMean: 0.6, Count: 10},
		{PredictedMean: 0.8, ActualMean: 0.8, Count: 90},
	}
	err := calibrationError(bins)
	if err <= 0 || err > 0.02 {
		t.Fatalf("expected a small count-weighted calibration error, got %f", err)
	}
}

func TestDropSignalType(t *testing.T) {
	signals := []domain.Signal{
		{Type: domain.SignalWeather, Ticker: "A"},
		{Type: domain.SignalBTC, Ticker: "B"},
	}
	out := dropSignalType(signals, domain.SignalWeather)
	if len(out) != 1 || out[0].Type != domain.SignalBTC {
		t.Fatalf("expected only btc signal to remain, got %v", out)
	}
}

func openOrder(st store.Store, ticker string, side domain.OrderSide) {
	_ = st.InsertPaperTradeOrder(context.Background(), domain.PaperOrder{
		ID:              uuid.New(),
		MarketTicker:    ticker,
		Side:            side,
		Count:           10,
		LimitPriceCents: 50,
		Status:          domain.OrderSubmitted,
		CreatedAt:       time.Now().UTC(),
	})
}

func TestEdgeDecaySuppressedForHedgedPositions(t *testing.T) {
	st := store.New(nil)
	openOrder(st, "KXHIGHNY-1", domain.SideYes)
	openOrder(st, "KXHIGHNY-1", domain.SideNo)

	o := &Orchestrator{Store: st}
	messages := o.edgeDecayMessages(context.Background(), nil)
	if len(messages) != 0 {
		t.Fatalf("hedged position must not produce decay alerts, got %v", messages)
	}
}

func TestEdgeDecayAlertsOnMissingAndFlippedSignals(t *testing.T) {
	st := store.New(nil)
	openOrder(st, "KXHIGHNY-1", domain.SideYes)
	openOrder(st, "KXHIGHNY-2", domain.SideYes)

	signals := []domain.Signal{
		{Ticker: "KXHIGHNY-2", Direction: domain.DirectionBuyNo},
	}
	o := &Orchestrator{Store: st}
	messages := o.edgeDecayMessages(context.Background(), signals)
	if len(messages) != 2 {
		t.Fatalf("expected a no-signal alert and a flipped-direction alert, got %v", messages)
	}
	joined := strings.Join(messages, "\n")
	if !strings.Contains(joined, "KXHIGHNY-1") || !strings.Contains(joined, "KXHIGHNY-2") {
		t.Fatalf("expected both tickers alerted, got %v", messages)
	}
}

func TestMergeSeriesFlattensQueryGroups(t *testing.T) {
	out := mergeSeries([]string{"kxhighny"}, []string{"KXBTCHOUR, kxhighny", "KXBTCD"})
	if len(out) != 3 {
		t.Fatalf("expected 3 deduplicated series, got %v", out)
	}
	if out[0] != "KXHIGHNY" || out[1] != "KXBTCHOUR" || out[2] != "KXBTCD" {
		t.Fatalf("unexpected merge order/content: %v", out)
	}
}

func weatherGateFixture(result domain.ResolutionResult) *Orchestrator {
	st := store.New(nil)
	_, _ = st.InsertSignals(context.Background(), []domain.Signal{{
		Ticker:     "KXHIGHNY-1",
		Type:       domain.SignalWeather,
		Direction:  domain.DirectionBuyYes,
		ModelProb:  0.95,
		MarketProb: 0.5,
		EdgeBps:    4500,
		CreatedAt:  time.Now().UTC(),
	}})
	_, _ = st.UpsertResolutions(context.Background(), []domain.Resolution{{
		Ticker: "KXHIGHNY-1", Result: result, ResolvedAt: time.Now().UTC(),
	}})
	return &Orchestrator{
		Cfg: &config.Config{
			WeatherLiveGateMinResolvedDays:   1,
			WeatherLiveGateMinBrierAdvantage: 0.02,
			WeatherLiveGateMinSimProfitCents: 0,
			WeatherLiveGateMaxCalibrationErr: 0.5,
		},
		Store: st,
	}
}

func TestWeatherGatePassesWhenModelBeatsMarket(t *testing.T) {
	// Model at 0.95 on a YES outcome: model Brier 0.0025 vs the market's
	// 0.25 at a 50c quote, an advantage well past the 0.02 floor.
	o := weatherGateFixture(domain.ResultYes)
	blocked, err := o.weatherGateBlocked(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocked {
		t.Fatal("expected the gate open when the model's Brier beats the market's")
	}
}

func TestWeatherGateBlocksWhenMarketBeatsModel(t *testing.T) {
	// Same signal resolving NO inverts the comparison: model Brier 0.9025
	// vs market 0.25, a negative advantage.
	o := weatherGateFixture(domain.ResultNo)
	blocked, err := o.weatherGateBlocked(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blocked {
		t.Fatal("expected the gate blocked when the market out-predicts the model")
	}
}
