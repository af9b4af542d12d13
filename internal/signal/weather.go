// Package signal computes per-market fair-value probabilities and signed
// edge against quoted order-book prices: weather bracket probability from
// an ensemble, BTC momentum fair value with weighted cross-venue fusion,
// and VWAP-adjusted order-book edge for both.
package signal

import (
	"math"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// Config carries the knobs signal emission depends on; orchestrator
// builds one from *config.Config so this package stays decoupled from it.
type Config struct {
	MinEdgeBps    float64
	StoreAll      bool
	MinConfidence float64
}

// WeatherMarketInput is one weather bracket market plus the freshest
// ensemble samples collected for its target date.
type WeatherMarketInput struct {
	Market     domain.Market
	MarketProb float64 // normalized YES price in [0,1]
	Samples    []domain.EnsembleSample
}

// WeatherSignals emits one signal per market with a parseable bracket and
// a non-empty ensemble; flat signals are dropped unless cfg.StoreAll.
func WeatherSignals(inputs []WeatherMarketInput, cfg Config, now time.Time) []domain.Signal {
	var out []domain.Signal
	for _, in := range inputs {
		sig, ok := weatherSignal(in, cfg, now)
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

func weatherSignal(in WeatherMarketInput, cfg Config, now time.Time) (domain.Signal, bool) {
	lower, upper, ok := domain.ParseBracketBounds(in.Market)
	if !ok || len(in.Samples) == 0 {
		return domain.Signal{}, false
	}

	hits := 0
	for _, s := range in.Samples {
		if inBracket(s.MaxTempF, lower, upper) {
			hits++
		}
	}
	modelProb := float64(hits) / float64(len(in.Samples))
	marketProb := in.MarketProb
	edgeBps := domain.RoundEdgeBps(modelProb, marketProb)

	sampleStrength := math.Min(1, float64(len(in.Samples))/60.0)
	minEdge := cfg.MinEdgeBps
	if minEdge <= 0 {
		minEdge = 1
	}
	edgeStrength := math.Min(1, math.Abs(edgeBps)/(3*minEdge))
	confidence := clamp01(sampleStrength * edgeStrength)

	direction := domain.DirectionFlat
	switch {
	case edgeBps >= cfg.MinEdgeBps:
		direction = domain.DirectionBuyYes
	case edgeBps <= -cfg.MinEdgeBps:
		direction = domain.DirectionBuyNo
	}

	return domain.Signal{
		Type:       domain.SignalWeather,
		Ticker:     in.Market.Ticker,
		Direction:  direction,
		ModelProb:  modelProb,
		MarketProb: marketProb,
		EdgeBps:    edgeBps,
		Confidence: confidence,
		DataSource: domain.DataSourceRest,
		CreatedAt:  now,
	}, true
}

// inBracket applies the half-open [lower, upper) convention: a bound that
// is nil is unconstrained on that side.
func inBracket(v float64, lower, upper *float64) bool {
	if lower != nil && v < *lower {
		return false
	}
	if upper != nil && v >= *upper {
		return false
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
