package arb

import (
	"testing"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

func bookFromBids(noBid, noBidDepth, yesBid, yesBidDepth int) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		No:  map[int]int{noBid: noBidDepth},
		Yes: map[int]int{yesBid: yesBidDepth},
	}
}

func TestAllYesArbDetected(t *testing.T) {
	// yes_ask = 100-no_bid: no_bid=70 -> yes_ask=30; no_bid=68 -> yes_ask=32.
	legs := []MarketBook{
		{Ticker: "A", Book: bookFromBids(70, 50, 1, 1)},
		{Ticker: "B", Book: bookFromBids(68, 50, 1, 1)},
	}
	opp := Scan("EVT", legs, 0, time.Now())
	if opp == nil {
		t.Fatal("expected an all-yes arb opportunity")
	}
	if opp.ArbType != domain.ArbAllYes {
		t.Fatalf("expected all_yes, got %s", opp.ArbType)
	}
	if opp.CostCents != 62 {
		t.Fatalf("expected cost 62, got %d", opp.CostCents)
	}
	if opp.ProfitAfterFeesCents <= 0 {
		t.Fatalf("expected positive profit after fees, got %d", opp.ProfitAfterFeesCents)
	}
}

func TestAllNoRequiresAtLeastTwoLegs(t *testing.T) {
	legs := []MarketBook{{Ticker: "A", Book: bookFromBids(70, 50, 90, 50)}}
	opp := scanAllNo("EVT", legs, time.Now())
	if opp != nil {
		t.Fatal("expected no all-no opportunity with a single bracket")
	}
}

func TestDepthBoundIsMinimumAcrossLegs(t *testing.T) {
	legs := []MarketBook{
		{Ticker: "A", Book: bookFromBids(75, 50, 1, 1)},
		{Ticker: "B", Book: bookFromBids(72, 2, 1, 1)},
		{Ticker: "C", Book: bookFromBids(70, 60, 1, 1)},
	}
	opp := scanAllYes("EVT", legs, time.Now())
	if opp == nil {
		t.Fatal("expected an opportunity")
	}
	if opp.MaxSets != 2 {
		t.Fatalf("expected max_sets=2, got %d", opp.MaxSets)
	}
}

func TestTakerFee(t *testing.T) {
	if fee := TakerFeeCents(50); fee != 2 {
		t.Fatalf("expected fee_cents=2 at p=0.5, got %d", fee)
	}
	if fee := TakerFeeCents(5); fee < 1 {
		t.Fatalf("expected fee_cents>=1 at p=0.05, got %d", fee)
	}
}

func TestArbInvariants(t *testing.T) {
	legs := []MarketBook{
		{Ticker: "A", Book: bookFromBids(70, 50, 1, 1)},
		{Ticker: "B", Book: bookFromBids(68, 50, 1, 1)},
	}
	opp := Scan("EVT", legs, 0, time.Now())
	if opp == nil {
		t.Fatal("expected opportunity")
	}
	var legSum, feeSum int
	for _, l := range opp.Legs {
		legSum += l.PriceCents
		feeSum += TakerFeeCents(l.PriceCents)
	}
	if legSum+feeSum >= opp.PayoutCents {
		t.Fatalf("invariant violated: legs(%d)+fees(%d) >= payout(%d)", legSum, feeSum, opp.PayoutCents)
	}
	minDepth := opp.Legs[0].Depth
	for _, l := range opp.Legs {
		if l.Depth < minDepth {
			minDepth = l.Depth
		}
	}
	if opp.MaxSets > minDepth {
		t.Fatalf("max_sets %d exceeds min leg depth %d", opp.MaxSets, minDepth)
	}
}
