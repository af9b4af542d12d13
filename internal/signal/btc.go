package signal

import (
	"math"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// sourceWeights are the fixed per-venue fusion weights from spec.md
// §4.5.2; they do not change with how many sources are present, but the
// fusion renormalizes over whichever subset is currently available.
var sourceWeights = map[string]float64{
	"binance":  0.25,
	"coinbase": 0.30,
	"kraken":   0.20,
	"bitstamp": 0.15,
}

// SourcePrice is one venue's price reading plus its provenance tier, the
// signal-package-local view of priceprovider.PriceSnapshot (kept
// decoupled so this package has no dependency on how prices were
// fetched).
type SourcePrice struct {
	Price float64
	Tier  domain.DataSourceTier
}

// fuseFairValue computes the weighted fair value and its agreement
// factor over whatever sources are present.
func fuseFairValue(prices map[string]SourcePrice) (fair, agreement float64, ok bool) {
	var weightedSum, weightSum float64
	var values []float64
	for name, p := range prices {
		w, known := sourceWeights[name]
		if !known || p.Price <= 0 {
			continue
		}
		weightedSum += w * p.Price
		weightSum += w
		values = append(values, p.Price)
	}
	if weightSum <= 0 || len(values) == 0 {
		return 0, 0, false
	}
	fair = weightedSum / weightSum

	switch {
	case len(values) >= 2:
		min, max := values[0], values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		spreadBps := 10000 * (max - min) / fair
		agreement = clamp01(1 - math.Min(1, spreadBps/100))
	default:
		agreement = 0.7
	}
	return fair, agreement, true
}

// BTCMarketInput is one BTC bracket market plus the current and
// lookback-anchor price readings and order book needed to evaluate it.
type BTCMarketInput struct {
	Market         domain.Market
	CurrentPrices  map[string]SourcePrice
	AnchorPrices   map[string]SourcePrice
	Book           *domain.OrderBookSnapshot
	BookIsWS       bool
	VWAPTargetQty  int
	LookbackWindow time.Duration
}

// BTCSignals evaluates a batch of BTC bracket markets against the
// weighted cross-venue fair value and each market's order-book VWAP.
func BTCSignals(inputs []BTCMarketInput, cfg Config, now time.Time) []domain.Signal {
	var out []domain.Signal
	for _, in := range inputs {
		sig, ok := btcSignal(in, cfg, now)
		if !ok {
			continue
		}
		if sig.Direction == domain.DirectionFlat && !cfg.StoreAll {
			continue
		}
		out = append(out, sig)
	}
	return out
}

func btcSignal(in BTCMarketInput, cfg Config, now time.Time) (domain.Signal, bool) {
	fairNow, agreementNow, ok := fuseFairValue(in.CurrentPrices)
	if !ok {
		return domain.Signal{}, false
	}
	fairAnchor, agreementAnchor, ok := fuseFairValue(in.AnchorPrices)
	if !ok || fairAnchor <= 0 {
		return domain.Signal{}, false
	}
	if in.Book == nil {
		return domain.Signal{}, false
	}

	momentumBps := 10000 * (fairNow/fairAnchor - 1)
	fairYesProb := clamp(0.5+clamp(momentumBps/800, -0.35, 0.35), 0.01, 0.99)
	confidence := clamp01((agreementNow + agreementAnchor) / 2)

	qty := in.VWAPTargetQty
	if qty <= 0 {
		qty = 10
	}

	yesVWAP, yesDepth, yesOK := vwapEffectiveAsk(in.Book, "yes", qty)
	noVWAP, noDepth, noOK := vwapEffectiveAsk(in.Book, "no", qty)

	type candidate struct {
		side       string
		edgeBps    float64
		modelProb  float64
		marketProb float64
		vwapCents  float64
		depth      int
		sufficient bool
	}
	var candidates []candidate
	if yesOK {
		marketProb := yesVWAP / 100
		candidates = append(candidates, candidate{
			side: "yes", modelProb: fairYesProb, marketProb: marketProb,
			edgeBps: domain.RoundEdgeBps(fairYesProb, marketProb),
			vwapCents: yesVWAP, depth: yesDepth, sufficient: yesDepth >= qty,
		})
	}
	if noOK {
		fairNoProb := 1 - fairYesProb
		marketProb := noVWAP / 100
		candidates = append(candidates, candidate{
			side: "no", modelProb: fairNoProb, marketProb: marketProb,
			edgeBps: domain.RoundEdgeBps(fairNoProb, marketProb),
			vwapCents: noVWAP, depth: noDepth, sufficient: noDepth >= qty,
		})
	}
	if len(candidates) == 0 {
		return domain.Signal{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if math.Abs(c.edgeBps) > math.Abs(best.edgeBps) {
			best = c
		}
	}

	direction := domain.DirectionFlat
	switch best.side {
	case "yes":
		switch {
		case best.edgeBps >= cfg.MinEdgeBps:
			direction = domain.DirectionBuyYes
		case best.edgeBps <= -cfg.MinEdgeBps:
			direction = domain.DirectionBuyNo
		}
	case "no":
		switch {
		case best.edgeBps >= cfg.MinEdgeBps:
			direction = domain.DirectionBuyNo
		case best.edgeBps <= -cfg.MinEdgeBps:
			direction = domain.DirectionBuyYes
		}
	}

	vwapCents := best.vwapCents
	depth := best.depth
	sufficient := best.sufficient

	return domain.Signal{
		Type:                domain.SignalBTC,
		Ticker:              in.Market.Ticker,
		Direction:           direction,
		ModelProb:           best.modelProb,
		MarketProb:          best.marketProb,
		EdgeBps:             best.edgeBps,
		Confidence:          confidence,
		DataSource:          dataSourceTier(in.CurrentPrices, in.AnchorPrices, in.BookIsWS),
		VWAPCents:           &vwapCents,
		FillableQty:         &depth,
		LiquiditySufficient: &sufficient,
		CreatedAt:           now,
	}, true
}

// vwapEffectiveAsk walks the book's ask-side levels for side ("yes" or
// "no") and returns the volume-weighted average cents to fill up to qty
// units, the depth actually available (capped at qty), and whether any
// depth existed at all.
func vwapEffectiveAsk(book *domain.OrderBookSnapshot, side string, qty int) (vwapCents float64, depth int, ok bool) {
	levels := book.AskLevels(side)
	if len(levels) == 0 {
		return 0, 0, false
	}
	remaining := qty
	var cost float64
	var filled int
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Quantity
		if take > remaining {
			take = remaining
		}
		cost += float64(take * lvl.PriceCents)
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0, 0, false
	}
	return cost / float64(filled), filled, true
}

// dataSourceTier reports the provenance mix of the inputs that fed one
// BTC signal: "ws" when every price source and the order book came from a
// live feed, "rest" when no price source and not the book came from a live
// feed, "rest_fallback" when no price source came from a live feed but the
// book did, and "mixed" otherwise (WS and non-WS price sources together,
// or only WS prices with a non-WS book). Every non-WS price tier counts as
// REST here.
func dataSourceTier(current, anchor map[string]SourcePrice, bookIsWS bool) domain.DataSourceTier {
	wsCount, restCount := 0, 0
	for _, p := range current {
		tally(p.Tier, &wsCount, &restCount)
	}
	for _, p := range anchor {
		tally(p.Tier, &wsCount, &restCount)
	}

	switch {
	case wsCount > 0 && restCount == 0 && bookIsWS:
		return domain.DataSourceWS
	case wsCount == 0 && restCount > 0 && !bookIsWS:
		return domain.DataSourceRest
	case wsCount > 0 && restCount > 0:
		return domain.DataSourceMixed
	case restCount > 0:
		return domain.DataSourceRestFallback
	default:
		return domain.DataSourceMixed
	}
}

func tally(tier domain.DataSourceTier, wsCount, restCount *int) {
	switch tier {
	case domain.DataSourceWS:
		*wsCount++
	default:
		*restCount++
	}
}
