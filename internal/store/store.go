// Package store defines the abstract persistence contract the rest of the
// core depends on, plus an in-memory reference implementation. No SQL
// schema lives here: the persistent store is an external collaborator,
// specified only by this interface.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// SpotTickRef is the freshness-annotated view get_btc_prices' REST
// fallback path needs: the tick plus how old it is right now.
type SpotTickRef struct {
	Tick       domain.SpotTick
	AgeSeconds float64
}

// OpenPosition is one row of the `(ticker, side)` rollup over submitted
// and partially-filled orders.
type OpenPosition struct {
	Ticker       string
	Side         domain.OrderSide
	TotalCount   int
	AveragePrice float64
}

// CalibrationBin is one bucket of the weather calibration curve.
type CalibrationBin struct {
	BucketLow     float64
	BucketHigh    float64
	PredictedMean float64
	ActualMean    float64
	Count         int
}

// AccuracyMetrics is the derived Signal x Resolution rollup.
//
// SharpeRatio is (AvgPnLCents/100) * sqrt(SampleCount) — a proxy borrowed
// from the per-contract PnL series, not a true Sharpe ratio (there is no
// variance term), kept for parity with the original reporting and flagged
// as such wherever it's surfaced.
type AccuracyMetrics struct {
	Brier           float64
	LogLoss         float64
	EdgeReliability float64
	HitRate         float64
	AvgPnLCents     float64
	TotalPnLCents   float64
	SharpeRatio     float64
	SampleCount     int
}

// FillMetrics summarizes order-fill performance for the fill-probability
// estimator and for reporting.
type FillMetrics struct {
	FillRate       float64
	AvgFillMinutes float64
}

// WeatherBacktestRow is one (date, ticker) probability/resolution pair.
// MarketProbability carries the quoted YES price at emission time so the
// live gate can compare the model's Brier against the market's own.
type WeatherBacktestRow struct {
	Date              time.Time
	Ticker            string
	Probability       float64
	MarketProbability float64
	Result            domain.ResolutionResult
}

// Store is the abstract contract the orchestrator, execution engine and
// price provider depend on. All inserts keyed by a natural key in
// internal/domain are idempotent; upserts overwrite on conflict.
type Store interface {
	UpsertMarkets(ctx context.Context, markets []domain.Market) (insertedOrUpdated int, err error)
	InsertSnapshots(ctx context.Context, snapshots []domain.MarketSnapshot) (inserted int, err error)
	InsertSpotTicks(ctx context.Context, ticks []domain.SpotTick) (inserted int, err error)
	InsertEnsembleSamples(ctx context.Context, samples []domain.EnsembleSample) (inserted int, err error)
	InsertSignals(ctx context.Context, signals []domain.Signal) (inserted int, err error)
	UpsertResolutions(ctx context.Context, resolutions []domain.Resolution) (insertedOrUpdated int, err error)

	// InsertPaperTradeOrder also writes the order's initial OrderEvent.
	InsertPaperTradeOrder(ctx context.Context, order domain.PaperOrder) error
	InsertOrderEvent(ctx context.Context, event domain.OrderEvent) error
	UpdatePaperTradeOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error
	InsertArbOpportunity(ctx context.Context, opp domain.BracketArbOpportunity, executed bool) error
	InsertAlertEvent(ctx context.Context, event domain.AlertEvent) error

	GetLatestSpotTick(ctx context.Context, source domain.SpotSource, symbol string, now time.Time) (*SpotTickRef, error)
	GetRecentSpotTicks(ctx context.Context, symbol string, since time.Time) ([]domain.SpotTick, error)

	RecentSignals(ctx context.Context, limit int) ([]domain.Signal, error)
	RecentOrders(ctx context.Context, limit int) ([]domain.PaperOrder, error)
	OpenOrdersSince(ctx context.Context, since time.Time) ([]domain.PaperOrder, error)
	OpenPositionsRollup(ctx context.Context) ([]OpenPosition, error)

	CalibrationCurve(ctx context.Context, bins int) ([]CalibrationBin, error)
	AccuracyMetrics(ctx context.Context) (AccuracyMetrics, error)
	FillMetrics(ctx context.Context) (FillMetrics, error)
	WeatherBacktestRows(ctx context.Context) ([]WeatherBacktestRow, error)

	// EstimateFillProbability computes (filled+partially_filled) /
	// (filled+partially_filled+canceled+failed) for orders on
	// tickerPrefix within priceCents +-10, over the trailing
	// lookbackDays. Returns ok=false if no orders or fewer than
	// minSamples orders match, in which case callers fall back to a
	// configured default.
	EstimateFillProbability(ctx context.Context, tickerPrefix string, lookbackDays int, priceCents int, minSamples int) (probability float64, ok bool, err error)
}
