// Package domain holds the core entities shared across the pipeline:
// markets, order books, signals, paper orders and their lifecycle events.
// Nothing here talks to a network or a store; these are plain records.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MarketStatus is the lifecycle state of a Market.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "open"
	MarketClosed  MarketStatus = "closed"
	MarketSettled MarketStatus = "settled"
	MarketUnknown MarketStatus = "unknown"
)

// Market is a single tradable Kalshi contract.
type Market struct {
	Ticker        string
	Title         string
	Status        MarketStatus
	CloseTime     time.Time
	SeriesTicker  string
	EventTicker   string
	RawAttributes map[string]any
}

// OrderBookSnapshot holds both sides of a market's resting liquidity.
// Invariant: YesAsk() == 100-BestNoBid(), NoAsk() == 100-BestYesBid().
type OrderBookSnapshot struct {
	Ticker    string
	Yes       map[int]int // price cents -> quantity
	No        map[int]int
	Seq       int64
	UpdatedAt time.Time
}

// PriceLevel is a single resting price/quantity pair, used wherever an
// ordered slice view of a side is needed (VWAP walks, depth sums).
type PriceLevel struct {
	PriceCents int
	Quantity   int
}

func (ob *OrderBookSnapshot) BestYesBid() (int, bool) {
	return maxKey(ob.Yes)
}

func (ob *OrderBookSnapshot) BestNoBid() (int, bool) {
	return maxKey(ob.No)
}

// BestYesAsk is derived from the complementary side's best bid, never
// from a per-level walk of the yes book itself.
func (ob *OrderBookSnapshot) BestYesAsk() (int, bool) {
	noBid, ok := ob.BestNoBid()
	if !ok {
		return 0, false
	}
	return 100 - noBid, true
}

func (ob *OrderBookSnapshot) BestNoAsk() (int, bool) {
	yesBid, ok := ob.BestYesBid()
	if !ok {
		return 0, false
	}
	return 100 - yesBid, true
}

func maxKey(m map[int]int) (int, bool) {
	best := 0
	found := false
	for k := range m {
		if !found || k > best {
			best = k
			found = true
		}
	}
	return best, found
}

// AskLevels returns the ask-side depth a buyer of `side` would walk,
// converted to the buyer's price via the 100-p complement rule and
// sorted best (lowest ask) first.
func (ob *OrderBookSnapshot) AskLevels(side string) []PriceLevel {
	var source map[int]int
	if side == "yes" {
		source = ob.No
	} else {
		source = ob.Yes
	}
	levels := make([]PriceLevel, 0, len(source))
	for price, qty := range source {
		if qty <= 0 {
			continue
		}
		levels = append(levels, PriceLevel{PriceCents: 100 - price, Quantity: qty})
	}
	sortLevelsAscending(levels)
	return levels
}

func sortLevelsAscending(levels []PriceLevel) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].PriceCents < levels[j-1].PriceCents; j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// MarketSnapshot is a normalized (ticker, ts) probability reading,
// idempotent on that pair.
type MarketSnapshot struct {
	Ticker   string
	Ts       time.Time
	YesPrice float64 // in [0,1]
	NoPrice  float64
	Volume   *int
	Source   string
}

type SpotSource string

const (
	SourceBinance  SpotSource = "binance"
	SourceCoinbase SpotSource = "coinbase"
	SourceKraken   SpotSource = "kraken"
	SourceBitstamp SpotSource = "bitstamp"
)

// SpotTick is a single crypto spot observation, idempotent on (ts, source, symbol).
type SpotTick struct {
	Ts       time.Time
	Source   SpotSource
	Symbol   string
	PriceUSD float64
}

// EnsembleSample is one ensemble member's forecast daily max, idempotent
// on (collected_at, target_date, model, member).
type EnsembleSample struct {
	CollectedAt time.Time
	TargetDate  time.Time // date-only, local
	Model       string
	Member      string
	MaxTempF    float64
}

type SignalType string

const (
	SignalWeather SignalType = "weather"
	SignalBTC     SignalType = "btc"
	SignalArb     SignalType = "arb"
)

type Direction string

const (
	DirectionBuyYes Direction = "buy_yes"
	DirectionBuyNo  Direction = "buy_no"
	DirectionFlat   Direction = "flat"
)

type DataSourceTier string

const (
	DataSourceWS           DataSourceTier = "ws"
	DataSourceMixed        DataSourceTier = "mixed"
	DataSourceRestFallback DataSourceTier = "rest_fallback"
	DataSourceRest         DataSourceTier = "rest"
)

// Signal is a per-market, per-type edge reading.
type Signal struct {
	Type                SignalType
	Ticker              string
	Direction           Direction
	ModelProb           float64
	MarketProb          float64
	EdgeBps             float64
	Confidence          float64
	DataSource          DataSourceTier
	VWAPCents           *float64
	FillableQty         *int
	LiquiditySufficient *bool
	CreatedAt           time.Time
}

// RoundEdgeBps implements the invariant
// edge_bps = round((model_prob-market_prob)*10000, 2).
func RoundEdgeBps(modelProb, marketProb float64) float64 {
	raw := (modelProb - marketProb) * 10000
	return roundTo(raw, 2)
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return -float64(int64(-v*scale+0.5)) / scale
}

// BracketArbType distinguishes the two cross-bracket arbitrage shapes.
type BracketArbType string

const (
	ArbAllYes BracketArbType = "all_yes"
	ArbAllNo  BracketArbType = "all_no"
)

// ArbLeg is one leg of a BracketArbOpportunity.
type ArbLeg struct {
	Ticker     string
	Side       string // "yes" or "no"
	PriceCents int
	Depth      int
}

// BracketArbOpportunity is a detected cross-bracket arbitrage within one event.
type BracketArbOpportunity struct {
	EventKey             string
	ArbType              BracketArbType
	Legs                 []ArbLeg
	CostCents            int
	PayoutCents          int
	ProfitCents          int
	ProfitAfterFeesCents int
	MaxSets              int
	DetectedAt           time.Time
}

type OrderSide string

const (
	SideYes OrderSide = "yes"
	SideNo  OrderSide = "no"
)

type OrderProvider string

const (
	ProviderSimulate OrderProvider = "simulate"
	ProviderSandbox  OrderProvider = "sandbox"
)

type OrderStatus string

const (
	OrderSimulated       OrderStatus = "simulated"
	OrderSubmitted       OrderStatus = "submitted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderFailed          OrderStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderSimulated, OrderFilled, OrderCanceled, OrderFailed:
		return true
	default:
		return false
	}
}

// PaperOrder is a simulated or sandbox limit order and its lifecycle state.
type PaperOrder struct {
	ID              uuid.UUID
	MarketTicker    string
	SignalType      SignalType
	Direction       string // "buy_yes" | "buy_no" | "arbitrage"
	Side            OrderSide
	Count           int
	LimitPriceCents int
	Provider        OrderProvider
	Status          OrderStatus
	Reason          string
	ExternalOrderID string
	RequestPayload  map[string]any
	ResponsePayload map[string]any
	CreatedAt       time.Time
}

// OrderEvent is one append-only lifecycle transition for a PaperOrder.
type OrderEvent struct {
	OrderID       uuid.UUID
	Ts            time.Time
	Status        OrderStatus
	QueuePosition *int
	Details       string
}

type ResolutionResult string

const (
	ResultYes     ResolutionResult = "yes"
	ResultNo      ResolutionResult = "no"
	ResultUnknown ResolutionResult = "unknown"
)

// Resolution is the settled outcome of a market, upserted by ticker.
type Resolution struct {
	Ticker      string
	ResolvedAt  time.Time
	Result      ResolutionResult
	ActualValue *float64
}

// AlertEvent is the persisted record of one outbound notification attempt.
type AlertEvent struct {
	ID        uuid.UUID
	Kind      string
	Message   string
	Status    string // "sent" | "failed"
	DedupKey  string
	CreatedAt time.Time
}

func NewAlertEvent(kind, message, dedupKey, status string, now time.Time) AlertEvent {
	return AlertEvent{
		ID:        uuid.New(),
		Kind:      kind,
		Message:   message,
		Status:    status,
		DedupKey:  dedupKey,
		CreatedAt: now,
	}
}
