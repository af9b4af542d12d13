package execution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
)

func newOrderID() uuid.UUID { return uuid.New() }

// OrderSubmitter is the subset of *kalshi.Client the execution engine
// depends on, kept as an interface so tests can stub it.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, req kalshi.OrderRequest) (*kalshi.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderRaw(ctx context.Context, orderID string) ([]byte, error)
	GetOrderQueuePositionsRaw(ctx context.Context, orderIDs []string) ([]byte, error)
}

// Config is the execution engine's tunables, assembled by the
// orchestrator from *config.Config.
type Config struct {
	Sizing              SizingConfig
	Pricing             PricingConfig
	MinEdgeBps          float64
	MinConfidence       float64
	SignalTypeWhitelist []domain.SignalType
	CooldownMinutes     int

	BracketArbEnabled                 bool
	BracketArbMinProfitAfterFeesCents int

	DefaultFillProbability      float64
	FillProbabilityLookbackDays int
	FillProbabilityMinSamples   int

	QueueManagementEnabled bool
	QueueMaxDepth          int
	QueueStaleMinutes      int
	RepriceEnabled         bool
	RepriceCooldownMinutes int
	RepriceMaxPerWindow    int
}

// Engine sizes, prices and submits orders against candidate signals and
// arbitrage opportunities, respecting a per-(ticker,direction) cooldown.
type Engine struct {
	cfg    Config
	store  store.Store
	client OrderSubmitter

	mu               sync.Mutex
	cooldowns        map[string]time.Time
	repriceCooldowns map[string]time.Time
	repriceHistory   map[string][]time.Time
	lastQueuePos     map[uuid.UUID]int
}

func NewEngine(cfg Config, st store.Store, client OrderSubmitter) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     st,
		client:    client,
		cooldowns: make(map[string]time.Time),
	}
}

// Books supplies the order book the engine needs per ticker to derive
// maker prices and fillable depth.
type Books map[string]*domain.OrderBookSnapshot

// Portfolio is the bankroll/exposure snapshot sizing needs for one tick.
type Portfolio struct {
	BankrollCents        int
	CurrentExposureCents int
}

// Execute runs one tick's order-generation pass: filters and ranks
// candidate signals, executes bracket arbitrage first when enabled, then
// sizes, prices, cooldown-gates and submits the remaining candidates.
// provider selects simulate (store-only) vs sandbox (live API submission
// against the demo environment) behavior.
func (e *Engine) Execute(ctx context.Context, now time.Time, signals []domain.Signal, books Books, arbOpps []domain.BracketArbOpportunity, port Portfolio, provider domain.OrderProvider) ([]domain.PaperOrder, error) {
	var orders []domain.PaperOrder

	if e.cfg.BracketArbEnabled {
		for _, opp := range arbOpps {
			if opp.ProfitAfterFeesCents < e.cfg.BracketArbMinProfitAfterFeesCents {
				continue
			}
			legOrders := e.executeArbLegs(ctx, now, opp, provider)
			orders = append(orders, legOrders...)
		}
	}

	candidates := e.filterAndRank(signals)
	for _, sig := range candidates {
		order, ok := e.executeCandidate(ctx, now, sig, books, port, provider)
		if !ok {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (e *Engine) filterAndRank(signals []domain.Signal) []domain.Signal {
	whitelist := make(map[domain.SignalType]bool, len(e.cfg.SignalTypeWhitelist))
	for _, t := range e.cfg.SignalTypeWhitelist {
		whitelist[t] = true
	}

	var out []domain.Signal
	for _, s := range signals {
		if len(whitelist) > 0 && !whitelist[s.Type] {
			continue
		}
		if math.Abs(s.EdgeBps) < e.cfg.MinEdgeBps {
			continue
		}
		if s.Confidence < e.cfg.MinConfidence {
			continue
		}
		if s.Direction != domain.DirectionBuyYes && s.Direction != domain.DirectionBuyNo {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].EdgeBps) > math.Abs(out[j].EdgeBps)
	})
	return out
}

func cooldownKey(ticker string, direction domain.Direction) string {
	return ticker + "|" + string(direction)
}

func (e *Engine) onCooldown(ticker string, direction domain.Direction, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.cooldowns[cooldownKey(ticker, direction)]
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(e.cfg.CooldownMinutes)*time.Minute
}

func (e *Engine) markCooldown(ticker string, direction domain.Direction, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[cooldownKey(ticker, direction)] = now
}

func (e *Engine) executeCandidate(ctx context.Context, now time.Time, sig domain.Signal, books Books, port Portfolio, provider domain.OrderProvider) (domain.PaperOrder, bool) {
	if e.onCooldown(sig.Ticker, sig.Direction, now) {
		return domain.PaperOrder{}, false
	}

	book := books[sig.Ticker]
	if book == nil {
		return domain.PaperOrder{}, false
	}

	var side domain.OrderSide
	var bestBid, bestAsk *int
	switch sig.Direction {
	case domain.DirectionBuyYes:
		side = domain.SideYes
		if v, ok := book.BestYesBid(); ok {
			bestBid = &v
		}
		if v, ok := book.BestYesAsk(); ok {
			bestAsk = &v
		}
	case domain.DirectionBuyNo:
		side = domain.SideNo
		if v, ok := book.BestNoBid(); ok {
			bestBid = &v
		}
		if v, ok := book.BestNoAsk(); ok {
			bestAsk = &v
		}
	default:
		return domain.PaperOrder{}, false
	}

	priceCents, ok := MakerPrice(bestBid, bestAsk, e.cfg.Pricing)
	if !ok {
		return domain.PaperOrder{}, false
	}

	fillProb := e.fillProbability(ctx, sig.Ticker, priceCents)
	contracts := Size(SizingInput{
		Direction:            sig.Direction,
		ModelProb:            sig.ModelProb,
		PriceCents:           priceCents,
		Confidence:           sig.Confidence,
		FillProbability:      fillProb,
		BankrollCents:        port.BankrollCents,
		CurrentExposureCents: port.CurrentExposureCents,
	}, e.cfg.Sizing)
	if contracts <= 0 {
		return domain.PaperOrder{}, false
	}

	order := domain.PaperOrder{
		ID:              newOrderID(),
		MarketTicker:    sig.Ticker,
		SignalType:      sig.Type,
		Direction:       string(sig.Direction),
		Side:            side,
		Count:           contracts,
		LimitPriceCents: priceCents,
		Provider:        provider,
		Status:          domain.OrderSimulated,
		Reason:          fmt.Sprintf("edge=%.2fbps conf=%.2f", sig.EdgeBps, sig.Confidence),
		CreatedAt:       now,
	}

	e.submit(ctx, &order, provider)

	if err := e.store.InsertPaperTradeOrder(ctx, order); err != nil {
		order.Status = domain.OrderFailed
		order.Reason = "store insert failed: " + err.Error()
	}
	e.markCooldown(sig.Ticker, sig.Direction, now)
	return order, true
}

func (e *Engine) executeArbLegs(ctx context.Context, now time.Time, opp domain.BracketArbOpportunity, provider domain.OrderProvider) []domain.PaperOrder {
	orders := make([]domain.PaperOrder, 0, len(opp.Legs))
	for _, leg := range opp.Legs {
		side := domain.SideYes
		if leg.Side == "no" {
			side = domain.SideNo
		}
		order := domain.PaperOrder{
			ID:              newOrderID(),
			MarketTicker:    leg.Ticker,
			SignalType:      domain.SignalArb,
			Direction:       "arbitrage",
			Side:            side,
			Count:           opp.MaxSets,
			LimitPriceCents: leg.PriceCents,
			Provider:        provider,
			Status:          domain.OrderSimulated,
			Reason:          fmt.Sprintf("%s arb event=%s profit_after_fees=%d", opp.ArbType, opp.EventKey, opp.ProfitAfterFeesCents),
			CreatedAt:       now,
		}
		e.submit(ctx, &order, provider)
		if err := e.store.InsertPaperTradeOrder(ctx, order); err != nil {
			order.Status = domain.OrderFailed
			order.Reason = "store insert failed: " + err.Error()
		}
		orders = append(orders, order)
	}
	_ = e.store.InsertArbOpportunity(ctx, opp, true)
	return orders
}

// submit mutates order in place: sandbox provider calls the live API,
// anything else stays a pure simulation.
func (e *Engine) submit(ctx context.Context, order *domain.PaperOrder, provider domain.OrderProvider) {
	if provider != domain.ProviderSandbox || e.client == nil {
		order.Status = domain.OrderSimulated
		return
	}

	req := kalshi.OrderRequest{
		Ticker:      order.MarketTicker,
		Action:      "buy",
		Side:        string(order.Side),
		Type:        "limit",
		Count:       order.Count,
		TimeInForce: "good_till_canceled",
	}
	if order.Side == domain.SideYes {
		req.YesPrice = order.LimitPriceCents
	} else {
		req.NoPrice = order.LimitPriceCents
	}
	order.RequestPayload = map[string]any{
		"ticker": req.Ticker, "side": req.Side, "count": req.Count,
		"yes_price": req.YesPrice, "no_price": req.NoPrice,
	}

	resp, err := e.client.CreateOrder(ctx, req)
	if err != nil {
		order.Status = domain.OrderFailed
		order.Reason = strings.TrimSpace(order.Reason + " submit failed: " + err.Error())
		return
	}
	order.Status = domain.OrderSubmitted
	order.ExternalOrderID = resp.OrderID
	order.ResponsePayload = map[string]any{"order_id": resp.OrderID, "status": resp.Status}
}

func (e *Engine) fillProbability(ctx context.Context, ticker string, priceCents int) float64 {
	prefix := tickerPrefix(ticker)
	prob, ok, err := e.store.EstimateFillProbability(ctx, prefix, e.cfg.FillProbabilityLookbackDays, priceCents, e.cfg.FillProbabilityMinSamples)
	if err != nil || !ok {
		return e.cfg.DefaultFillProbability
	}
	return prob
}

func tickerPrefix(ticker string) string {
	if i := strings.Index(ticker, "-"); i > 0 {
		return ticker[:i]
	}
	return ticker
}
