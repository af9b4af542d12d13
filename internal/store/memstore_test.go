package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestInsertSnapshotsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	ts := time.Now().UTC()
	snap := domain.MarketSnapshot{Ticker: "KXBTC-1", Ts: ts, YesPrice: 0.5, NoPrice: 0.5}

	n1, err := s.InsertSnapshots(ctx, []domain.MarketSnapshot{snap})
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := s.InsertSnapshots(ctx, []domain.MarketSnapshot{snap})
	require.NoError(t, err)
	require.Equal(t, 0, n2, "re-inserting the same (ticker,ts) must not insert again")
}

func TestEstimateFillProbabilityRequiresMinSamples(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	for i := 0; i < 5; i++ {
		order := domain.PaperOrder{
			ID:              uuid.New(),
			MarketTicker:    "KXBTC-1",
			LimitPriceCents: 50,
			Status:          domain.OrderFilled,
			CreatedAt:       time.Now().UTC(),
		}
		require.NoError(t, s.InsertPaperTradeOrder(ctx, order))
	}

	_, ok, err := s.EstimateFillProbability(ctx, "KXBTC", 30, 50, 20)
	require.NoError(t, err)
	require.False(t, ok, "5 samples should be below the min_samples=20 threshold")

	prob, ok, err := s.EstimateFillProbability(ctx, "KXBTC", 30, 50, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 1.0, prob, 1e-9)
}

func TestOpenPositionsRollupAveragesPrice(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	orders := []domain.PaperOrder{
		{ID: uuid.New(), MarketTicker: "KXBTC-1", Side: domain.SideYes, Count: 10, LimitPriceCents: 40, Status: domain.OrderSubmitted, CreatedAt: time.Now()},
		{ID: uuid.New(), MarketTicker: "KXBTC-1", Side: domain.SideYes, Count: 10, LimitPriceCents: 60, Status: domain.OrderPartiallyFilled, CreatedAt: time.Now()},
		{ID: uuid.New(), MarketTicker: "KXBTC-1", Side: domain.SideYes, Count: 5, LimitPriceCents: 99, Status: domain.OrderCanceled, CreatedAt: time.Now()},
	}
	for _, o := range orders {
		require.NoError(t, s.InsertPaperTradeOrder(ctx, o))
	}

	rollup, err := s.OpenPositionsRollup(ctx)
	require.NoError(t, err)
	require.Len(t, rollup, 1)
	require.Equal(t, 20, rollup[0].TotalCount)
	require.InDelta(t, 50.0, rollup[0].AveragePrice, 1e-9)
}

func TestCalibrationCurveBrierOnlyIncludesResolved(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, err := s.InsertSignals(ctx, []domain.Signal{
		{Ticker: "KXW-1", Type: domain.SignalWeather, ModelProb: 0.9, Direction: domain.DirectionBuyYes, CreatedAt: time.Now()},
		{Ticker: "KXW-2", Type: domain.SignalWeather, ModelProb: 0.2, Direction: domain.DirectionBuyNo, CreatedAt: time.Now()},
	})
	require.NoError(t, err)

	_, err = s.UpsertResolutions(ctx, []domain.Resolution{
		{Ticker: "KXW-1", Result: domain.ResultYes, ResolvedAt: time.Now()},
	})
	require.NoError(t, err)

	bins, err := s.CalibrationCurve(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bins, 1, "only the resolved ticker should contribute a bucket")

	metrics, err := s.AccuracyMetrics(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, metrics.SampleCount)
	require.InDelta(t, 0.01, metrics.Brier, 1e-9)
}

func TestAccuracyMetricsBrierExtremes(t *testing.T) {
	ctx := context.Background()

	perfect := New(nil)
	_, err := perfect.InsertSignals(ctx, []domain.Signal{
		{Ticker: "A", ModelProb: 1.0, Direction: domain.DirectionBuyYes, CreatedAt: time.Now()},
		{Ticker: "B", ModelProb: 0.0, Direction: domain.DirectionBuyNo, CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	_, err = perfect.UpsertResolutions(ctx, []domain.Resolution{
		{Ticker: "A", Result: domain.ResultYes, ResolvedAt: time.Now()},
		{Ticker: "B", Result: domain.ResultNo, ResolvedAt: time.Now()},
	})
	require.NoError(t, err)
	metrics, err := perfect.AccuracyMetrics(ctx)
	require.NoError(t, err)
	require.InDelta(t, 0.0, metrics.Brier, 1e-9)

	inverted := New(nil)
	_, err = inverted.InsertSignals(ctx, []domain.Signal{
		{Ticker: "A", ModelProb: 1.0, Direction: domain.DirectionBuyYes, CreatedAt: time.Now()},
		{Ticker: "B", ModelProb: 0.0, Direction: domain.DirectionBuyNo, CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	_, err = inverted.UpsertResolutions(ctx, []domain.Resolution{
		{Ticker: "A", Result: domain.ResultNo, ResolvedAt: time.Now()},
		{Ticker: "B", Result: domain.ResultYes, ResolvedAt: time.Now()},
	})
	require.NoError(t, err)
	metrics, err = inverted.AccuracyMetrics(ctx)
	require.NoError(t, err)
	require.InDelta(t, 1.0, metrics.Brier, 1e-9)
}
