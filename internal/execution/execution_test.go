package execution

import (
	"context"
	"testing"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
)

func TestKellyFractionPositiveEdge(t *testing.T) {
	kelly, ok := KellyFraction(domain.DirectionBuyYes, 0.6, 50)
	if !ok {
		t.Fatal("expected a positive kelly fraction")
	}
	if diff := kelly - 0.2; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected kelly=0.2, got %f", kelly)
	}
}

func TestKellyFractionZeroEdge(t *testing.T) {
	_, ok := KellyFraction(domain.DirectionBuyYes, 0.5, 50)
	if ok {
		t.Fatal("expected zero-edge candidate to size to nothing")
	}
}

func TestMakerPriceLocked(t *testing.T) {
	bid, ask := 40, 41
	price, ok := MakerPrice(&bid, &ask, PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99})
	if !ok || price != 40 {
		t.Fatalf("expected locked-market maker price 40, got %d ok=%v", price, ok)
	}
}

func TestMakerPriceNormal(t *testing.T) {
	bid, ask := 40, 45
	price, ok := MakerPrice(&bid, &ask, PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99})
	if !ok || price != 41 {
		t.Fatalf("expected normal-spread maker price 41, got %d ok=%v", price, ok)
	}
}

func TestMakerPriceDeclinesWithNoBid(t *testing.T) {
	ask := 50
	_, ok := MakerPrice(nil, &ask, PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99})
	if ok {
		t.Fatal("expected decline with no resting bid")
	}
}

func TestSizeKellyScalesAndCaps(t *testing.T) {
	in := SizingInput{
		Direction:            domain.DirectionBuyYes,
		ModelProb:            0.6,
		PriceCents:           50,
		Confidence:           1.0,
		FillProbability:      1.0,
		BankrollCents:        1_000_00,
		CurrentExposureCents: 0,
	}
	cfg := SizingConfig{
		Mode:                SizingKelly,
		KellyFractionScale:  1.0,
		MaxPositionDollars:  1000,
		MaxPortfolioDollars: 1000,
	}
	contracts := Size(in, cfg)
	if contracts <= 0 {
		t.Fatal("expected a positive contract count")
	}
}

func TestSizeFixedMode(t *testing.T) {
	contracts := Size(SizingInput{Direction: domain.DirectionBuyYes, ModelProb: 0.5, PriceCents: 50}, SizingConfig{Mode: SizingFixed, FixedContracts: 4})
	if contracts != 4 {
		t.Fatalf("expected fixed contracts=4, got %d", contracts)
	}
}

type fakeSubmitter struct {
	order *kalshi.Order
	err   error
}

func (f *fakeSubmitter) CreateOrder(ctx context.Context, req kalshi.OrderRequest) (*kalshi.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}
func (f *fakeSubmitter) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeSubmitter) GetOrderRaw(ctx context.Context, orderID string) ([]byte, error) {
	return nil, nil
}
func (f *fakeSubmitter) GetOrderQueuePositionsRaw(ctx context.Context, orderIDs []string) ([]byte, error) {
	return nil, nil
}

func testBook(yesBid, yesAsk int) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Yes: map[int]int{yesBid: 100},
		No:  map[int]int{100 - yesAsk: 100},
	}
}

func TestEngineExecuteSimulatesOrder(t *testing.T) {
	st := store.New(nil)
	eng := NewEngine(Config{
		Sizing:                 SizingConfig{Mode: SizingKelly, KellyFractionScale: 1, MaxPositionDollars: 1000, MaxPortfolioDollars: 1000},
		Pricing:                PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99},
		MinEdgeBps:             10,
		MinConfidence:          0,
		SignalTypeWhitelist:    []domain.SignalType{domain.SignalBTC},
		DefaultFillProbability: 0.5,
	}, st, &fakeSubmitter{})

	sig := domain.Signal{
		Type: domain.SignalBTC, Ticker: "KXBTC-1", Direction: domain.DirectionBuyYes,
		ModelProb: 0.65, MarketProb: 0.5, EdgeBps: 1500, Confidence: 0.8, CreatedAt: time.Now(),
	}
	books := Books{"KXBTC-1": testBook(39, 41)}

	orders, err := eng.Execute(context.Background(), time.Now(), []domain.Signal{sig}, books, nil, Portfolio{BankrollCents: 100000}, domain.ProviderSimulate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Status != domain.OrderSimulated {
		t.Fatalf("expected simulated status, got %s", orders[0].Status)
	}
}

func TestEngineExecuteRespectsCooldown(t *testing.T) {
	st := store.New(nil)
	eng := NewEngine(Config{
		Sizing:                 SizingConfig{Mode: SizingKelly, KellyFractionScale: 1, MaxPositionDollars: 1000, MaxPortfolioDollars: 1000},
		Pricing:                PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99},
		MinEdgeBps:             10,
		CooldownMinutes:        60,
		SignalTypeWhitelist:    []domain.SignalType{domain.SignalBTC},
		DefaultFillProbability: 0.5,
	}, st, &fakeSubmitter{})

	sig := domain.Signal{
		Type: domain.SignalBTC, Ticker: "KXBTC-1", Direction: domain.DirectionBuyYes,
		ModelProb: 0.65, MarketProb: 0.5, EdgeBps: 1500, Confidence: 0.8, CreatedAt: time.Now(),
	}
	books := Books{"KXBTC-1": testBook(39, 41)}
	now := time.Now()

	first, _ := eng.Execute(context.Background(), now, []domain.Signal{sig}, books, nil, Portfolio{BankrollCents: 100000}, domain.ProviderSimulate)
	if len(first) != 1 {
		t.Fatalf("expected first tick to submit, got %d", len(first))
	}
	second, _ := eng.Execute(context.Background(), now.Add(time.Minute), []domain.Signal{sig}, books, nil, Portfolio{BankrollCents: 100000}, domain.ProviderSimulate)
	if len(second) != 0 {
		t.Fatalf("expected cooldown to suppress resubmission, got %d", len(second))
	}
}
