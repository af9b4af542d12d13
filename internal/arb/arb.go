// Package arb detects cross-bracket arbitrage within a single event's
// complementary markets: buying YES on every bracket (or NO on every
// bracket, for n>=2) for less than the guaranteed $1 payout, after taker
// fees.
package arb

import (
	"math"
	"sort"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// TakerFeeCents is the per-leg taker fee in cents: ceil(7*p*(1-p)) with
// p = priceCents/100, floored at 1 cent. Maker fills are free.
func TakerFeeCents(priceCents int) int {
	p := float64(priceCents) / 100.0
	fee := math.Ceil(7 * p * (1 - p))
	if fee < 1 {
		fee = 1
	}
	return int(fee)
}

// MarketBook is one bracket leg's ticker and order book within an event.
type MarketBook struct {
	Ticker string
	Book   *domain.OrderBookSnapshot
}

// Scan evaluates one event's bracket set for both arbitrage shapes and
// returns the candidate with the greater profit_after_fees_cents, or nil
// if neither is profitable. minProfitAfterFeesCents is the configured
// floor below which a candidate is not emitted at all.
func Scan(eventKey string, legs []MarketBook, minProfitAfterFeesCents int, now time.Time) *domain.BracketArbOpportunity {
	allYes := scanAllYes(eventKey, legs, now)
	allNo := scanAllNo(eventKey, legs, now)

	best := pickBetter(allYes, allNo)
	if best == nil {
		return nil
	}
	if best.ProfitAfterFeesCents < minProfitAfterFeesCents {
		return nil
	}
	return best
}

func pickBetter(a, b *domain.BracketArbOpportunity) *domain.BracketArbOpportunity {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.ProfitAfterFeesCents > a.ProfitAfterFeesCents:
		return b
	default:
		return a
	}
}

// scanAllYes buys YES on every bracket leg at yes_ask = 100 - best_no_bid.
func scanAllYes(eventKey string, legs []MarketBook, now time.Time) *domain.BracketArbOpportunity {
	if len(legs) == 0 {
		return nil
	}
	var arbLegs []domain.ArbLeg
	var cost, fees, maxSets int
	for i, leg := range legs {
		if leg.Book == nil {
			return nil
		}
		noBid, ok := leg.Book.BestNoBid()
		if !ok {
			return nil
		}
		yesAsk := 100 - noBid
		depth := leg.Book.No[noBid]
		if depth <= 0 {
			return nil
		}
		cost += yesAsk
		fees += TakerFeeCents(yesAsk)
		if i == 0 || depth < maxSets {
			maxSets = depth
		}
		arbLegs = append(arbLegs, domain.ArbLeg{Ticker: leg.Ticker, Side: "yes", PriceCents: yesAsk, Depth: depth})
	}
	return buildOpportunity(eventKey, domain.ArbAllYes, arbLegs, cost, 100, fees, maxSets, now)
}

// scanAllNo buys NO on every bracket leg at no_ask = 100 - best_yes_bid;
// requires at least 2 legs since a single NO leg can't guarantee payout.
func scanAllNo(eventKey string, legs []MarketBook, now time.Time) *domain.BracketArbOpportunity {
	if len(legs) < 2 {
		return nil
	}
	var arbLegs []domain.ArbLeg
	var cost, fees, maxSets int
	for i, leg := range legs {
		if leg.Book == nil {
			return nil
		}
		yesBid, ok := leg.Book.BestYesBid()
		if !ok {
			return nil
		}
		noAsk := 100 - yesBid
		depth := leg.Book.Yes[yesBid]
		if depth <= 0 {
			return nil
		}
		cost += noAsk
		fees += TakerFeeCents(noAsk)
		if i == 0 || depth < maxSets {
			maxSets = depth
		}
		arbLegs = append(arbLegs, domain.ArbLeg{Ticker: leg.Ticker, Side: "no", PriceCents: noAsk, Depth: depth})
	}
	payout := (len(legs) - 1) * 100
	return buildOpportunity(eventKey, domain.ArbAllNo, arbLegs, cost, payout, fees, maxSets, now)
}

func buildOpportunity(eventKey string, arbType domain.BracketArbType, legs []domain.ArbLeg, costCents, payoutCents, feesCents, maxSets int, now time.Time) *domain.BracketArbOpportunity {
	profit := payoutCents - costCents
	if profit <= 0 {
		return nil
	}
	profitAfterFees := profit - feesCents
	if profitAfterFees <= 0 {
		return nil
	}
	if maxSets <= 0 {
		return nil
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].Ticker < legs[j].Ticker })
	return &domain.BracketArbOpportunity{
		EventKey:             eventKey,
		ArbType:              arbType,
		Legs:                 legs,
		CostCents:            costCents,
		PayoutCents:          payoutCents,
		ProfitCents:          profit,
		ProfitAfterFeesCents: profitAfterFees,
		MaxSets:              maxSets,
		DetectedAt:           now,
	}
}
