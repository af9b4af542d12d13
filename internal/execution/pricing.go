package execution

// PricingConfig carries the price-bound knobs MakerPrice depends on.
type PricingConfig struct {
	MakerOnly     bool
	MinPriceCents int
	MaxPriceCents int
}

// MakerPrice chooses the limit price to submit at, given the current best
// bid/ask for the side being bought (nil when no resting interest exists
// on that side). ok is false when no acceptable price exists and the
// candidate should be declined rather than submitted.
//
// Not maker-only: cross the spread at the ask, falling back to the bid
// if no ask is resting; clamp to [min,max].
//
// Maker-only: never join or cross the ask. With no bid at all there is
// nothing to improve on, so decline. With no ask, there is no ceiling to
// respect, so rest at the (clamped) bid. Otherwise the ceiling is the bid
// itself when the market is locked (spread<=1) or ask-1 when it isn't;
// propose bid+1 but never above that ceiling, then clamp to [min,max]. If
// clamping pushes the price above the ceiling, decline rather than cross.
func MakerPrice(bestBid, bestAsk *int, cfg PricingConfig) (priceCents int, ok bool) {
	minPx, maxPx := cfg.MinPriceCents, cfg.MaxPriceCents
	if minPx <= 0 {
		minPx = 1
	}
	if maxPx <= 0 {
		maxPx = 99
	}

	if !cfg.MakerOnly {
		switch {
		case bestAsk != nil:
			return clampInt(*bestAsk, minPx, maxPx), true
		case bestBid != nil:
			return clampInt(*bestBid, minPx, maxPx), true
		default:
			return 0, false
		}
	}

	if bestBid == nil {
		return 0, false
	}
	if bestAsk == nil {
		return clampInt(*bestBid, minPx, maxPx), true
	}

	spread := *bestAsk - *bestBid
	ceiling := *bestAsk - 1
	if spread <= 1 {
		ceiling = *bestBid
	}

	propose := *bestBid + 1
	if propose > ceiling {
		propose = ceiling
	}

	clamped := clampInt(propose, minPx, maxPx)
	if clamped > ceiling {
		return 0, false
	}
	return clamped, true
}
