// Package execution turns signals into sized, priced paper orders:
// Kelly-scaled position sizing, a maker-only pricing state machine,
// per-candidate cooldowns, order submission against the configured
// provider, and reconciliation of resting sandbox orders.
package execution

import (
	"github.com/shopspring/decimal"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// SizingMode selects between the Kelly sizer and a fixed contract count.
type SizingMode string

const (
	SizingKelly SizingMode = "kelly"
	SizingFixed SizingMode = "fixed"
)

// SizingConfig carries the knobs Size depends on.
type SizingConfig struct {
	Mode                SizingMode
	FixedContracts      int
	KellyFractionScale  float64
	MaxPositionDollars  float64
	MaxPortfolioDollars float64
}

// SizingInput is one candidate's sizing inputs.
type SizingInput struct {
	Direction       domain.Direction
	ModelProb       float64
	PriceCents      int
	Confidence      float64
	FillProbability float64
	BankrollCents   int
	CurrentExposureCents int
}

// KellyFraction computes edge/win for one candidate:
// win = 100-price, loss = price on the yes side (reversed on the no
// side); edge = p*win - (1-p)*loss (yes) or (1-p)*win - p*loss (no).
// Returns ok=false when edge <= 0 or win <= 0, in which case the
// candidate sizes to zero contracts.
func KellyFraction(direction domain.Direction, modelProb float64, priceCents int) (kelly float64, ok bool) {
	price := clampInt(priceCents, 1, 99)
	p := modelProb

	var win, loss, edge float64
	switch direction {
	case domain.DirectionBuyYes:
		win = float64(100 - price)
		loss = float64(price)
		edge = p*win - (1-p)*loss
	case domain.DirectionBuyNo:
		win = float64(price)
		loss = float64(100 - price)
		edge = (1-p)*win - p*loss
	default:
		return 0, false
	}
	if edge <= 0 || win <= 0 {
		return 0, false
	}
	return edge / win, true
}

// Size returns the contract count for one candidate, or 0 if the Kelly
// edge is non-positive or the sizing collapses to nothing. Money math runs
// in decimal.Decimal to keep bankroll/exposure comparisons exact.
func Size(in SizingInput, cfg SizingConfig) int {
	if cfg.Mode == SizingFixed {
		if cfg.FixedContracts > 0 {
			return cfg.FixedContracts
		}
		return 1
	}

	kelly, ok := KellyFraction(in.Direction, in.ModelProb, in.PriceCents)
	if !ok {
		return 0
	}

	fillProb := clampFloat(in.FillProbability, 0, 1)
	kellyPrime := kelly * fillProb

	bankroll := decimal.NewFromInt(int64(in.BankrollCents)).Div(decimal.NewFromInt(100))
	targetDollars := bankroll.
		Mul(decimal.NewFromFloat(kellyPrime)).
		Mul(decimal.NewFromFloat(cfg.KellyFractionScale)).
		Mul(decimal.NewFromFloat(in.Confidence))

	maxPosition := decimal.NewFromFloat(cfg.MaxPositionDollars)
	if cfg.MaxPositionDollars > 0 && targetDollars.GreaterThan(maxPosition) {
		targetDollars = maxPosition
	}

	remainingExposure := decimal.NewFromFloat(cfg.MaxPortfolioDollars).
		Sub(decimal.NewFromInt(int64(in.CurrentExposureCents)).Div(decimal.NewFromInt(100)))
	if cfg.MaxPortfolioDollars > 0 && targetDollars.GreaterThan(remainingExposure) {
		targetDollars = remainingExposure
	}
	if targetDollars.Sign() <= 0 {
		return 0
	}

	price := clampInt(in.PriceCents, 1, 99)
	unitPrice := decimal.NewFromInt(int64(price)).Div(decimal.NewFromInt(100))
	contracts := targetDollars.Div(unitPrice).Floor().IntPart()
	if contracts <= 0 {
		return 0
	}
	return int(contracts)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
