package signal

import (
	"testing"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

func TestWeatherSignalBuyYes(t *testing.T) {
	market := domain.Market{Ticker: "KXHIGHNY-1", Title: "High below 72"}
	samples := make([]domain.EnsembleSample, 0, 60)
	for i := 0; i < 60; i++ {
		temp := 68.0
		if i%10 == 0 {
			temp = 75.0
		}
		samples = append(samples, domain.EnsembleSample{MaxTempF: temp})
	}
	in := WeatherMarketInput{Market: market, MarketProb: 0.5, Samples: samples}
	cfg := Config{MinEdgeBps: 100}

	sigs := WeatherSignals([]WeatherMarketInput{in}, cfg, time.Now())
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	s := sigs[0]
	if s.Direction != domain.DirectionBuyYes {
		t.Fatalf("expected buy_yes, got %s", s.Direction)
	}
	if s.ModelProb <= s.MarketProb {
		t.Fatalf("expected model prob > market prob, got model=%f market=%f", s.ModelProb, s.MarketProb)
	}
}

func TestWeatherSignalFlatDroppedWithoutStoreAll(t *testing.T) {
	market := domain.Market{Ticker: "KXHIGHNY-2", Title: "High below 90"}
	samples := []domain.EnsembleSample{{MaxTempF: 70}, {MaxTempF: 71}}
	in := WeatherMarketInput{Market: market, MarketProb: 1.0, Samples: samples}
	cfg := Config{MinEdgeBps: 100, StoreAll: false}

	sigs := WeatherSignals([]WeatherMarketInput{in}, cfg, time.Now())
	if len(sigs) != 0 {
		t.Fatalf("expected flat signal dropped, got %d", len(sigs))
	}
}

func TestWeatherSignalNoBoundsSkipped(t *testing.T) {
	market := domain.Market{Ticker: "KXHIGHNY-3", Title: "no parseable bounds here"}
	in := WeatherMarketInput{Market: market, MarketProb: 0.5, Samples: []domain.EnsembleSample{{MaxTempF: 70}}}
	sigs := WeatherSignals([]WeatherMarketInput{in}, Config{MinEdgeBps: 100, StoreAll: true}, time.Now())
	if len(sigs) != 0 {
		t.Fatalf("expected no signal for unparseable market, got %d", len(sigs))
	}
}

func bookWithAsks(yesAskPrice, yesAskQty, noAskPrice, noAskQty int) *domain.OrderBookSnapshot {
	// AskLevels("yes") derives from the No book (complement rule), and
	// AskLevels("no") from the Yes book.
	return &domain.OrderBookSnapshot{
		Ticker: "KXBTC-1",
		No:     map[int]int{100 - yesAskPrice: yesAskQty},
		Yes:    map[int]int{100 - noAskPrice: noAskQty},
	}
}

func TestBTCSignalMomentumAndEdge(t *testing.T) {
	current := map[string]SourcePrice{
		"binance":  {Price: 101000, Tier: domain.DataSourceWS},
		"coinbase": {Price: 101010, Tier: domain.DataSourceWS},
	}
	anchor := map[string]SourcePrice{
		"binance":  {Price: 100000, Tier: domain.DataSourceWS},
		"coinbase": {Price: 100010, Tier: domain.DataSourceWS},
	}
	book := bookWithAsks(40, 20, 62, 20)
	in := BTCMarketInput{
		Market:        domain.Market{Ticker: "KXBTCHOUR-1"},
		CurrentPrices: current,
		AnchorPrices:  anchor,
		Book:          book,
		BookIsWS:      true,
		VWAPTargetQty: 10,
	}
	sigs := BTCSignals([]BTCMarketInput{in}, Config{MinEdgeBps: 50}, time.Now())
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	s := sigs[0]
	if s.DataSource != domain.DataSourceWS {
		t.Fatalf("expected ws data source, got %s", s.DataSource)
	}
	if s.VWAPCents == nil {
		t.Fatal("expected vwap cents to be set")
	}
}

func TestBTCSignalNoBookSkipped(t *testing.T) {
	in := BTCMarketInput{
		Market:        domain.Market{Ticker: "KXBTCHOUR-2"},
		CurrentPrices: map[string]SourcePrice{"binance": {Price: 100, Tier: domain.DataSourceWS}},
		AnchorPrices:  map[string]SourcePrice{"binance": {Price: 100, Tier: domain.DataSourceWS}},
	}
	sigs := BTCSignals([]BTCMarketInput{in}, Config{MinEdgeBps: 50}, time.Now())
	if len(sigs) != 0 {
		t.Fatalf("expected no signal without a book, got %d", len(sigs))
	}
}

func TestEdgeBpsInvariant(t *testing.T) {
	edge := domain.RoundEdgeBps(0.65, 0.50)
	want := 1500.0
	if edge != want {
		t.Fatalf("expected %f, got %f", want, edge)
	}
}
