package priceprovider

import (
	"context"
	"testing"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	store.Store
	latest *store.SpotTickRef
	ticks  []domain.SpotTick
}

func (f *fakeStore) GetLatestSpotTick(ctx context.Context, source domain.SpotSource, symbol string, now time.Time) (*store.SpotTickRef, error) {
	return f.latest, nil
}

func (f *fakeStore) GetRecentSpotTicks(ctx context.Context, symbol string, since time.Time) ([]domain.SpotTick, error) {
	return f.ticks, nil
}

func TestGetBTCPricesFallsBackToStoreWhenNoFeedsWired(t *testing.T) {
	now := time.Now().UTC()
	fs := &fakeStore{latest: &store.SpotTickRef{
		Tick:       domain.SpotTick{PriceUSD: 50000, Ts: now.Add(-10 * time.Second), Source: domain.SourceBinance},
		AgeSeconds: 10,
	}}
	p := &Provider{Store: fs}

	prices, err := p.GetBTCPrices(context.Background(), now)
	require.NoError(t, err)
	require.Contains(t, prices, "binance")
	require.Equal(t, domain.DataSourceRestFallback, prices["binance"].Source)
	require.Equal(t, 50000.0, prices["binance"].Price)
}

func TestGetBTCPricesOmitsStaleStoreTick(t *testing.T) {
	now := time.Now().UTC()
	fs := &fakeStore{latest: &store.SpotTickRef{
		Tick:       domain.SpotTick{PriceUSD: 50000, Ts: now.Add(-40 * time.Second)},
		AgeSeconds: 40,
	}}
	p := &Provider{Store: fs}

	prices, err := p.GetBTCPrices(context.Background(), now)
	require.NoError(t, err)
	require.NotContains(t, prices, "binance")
}

func TestGetBTCMomentumRequiresAtLeastTwoPoints(t *testing.T) {
	now := time.Now().UTC()
	fs := &fakeStore{ticks: []domain.SpotTick{
		{PriceUSD: 50000, Ts: now.Add(-5 * time.Minute)},
	}}
	p := &Provider{Store: fs}

	_, ok, err := p.GetBTCMomentum(context.Background(), now, 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetBTCMomentumComputesPctChange(t *testing.T) {
	now := time.Now().UTC()
	fs := &fakeStore{ticks: []domain.SpotTick{
		{PriceUSD: 50000, Ts: now.Add(-5 * time.Minute)},
		{PriceUSD: 51000, Ts: now},
	}}
	p := &Provider{Store: fs}

	momentum, ok, err := p.GetBTCMomentum(context.Background(), now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 0.02, momentum, 1e-9)
}

func TestGetMarketSnapshotNoSourcesReturnsNil(t *testing.T) {
	p := &Provider{}
	snap, err := p.GetMarketSnapshot(context.Background(), "KXBTC-1")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestNormalizePrice(t *testing.T) {
	require.InDelta(t, 0.55, normalizePrice(55), 1e-9)
	require.InDelta(t, 0.55, normalizePrice(0.55), 1e-9)
}
