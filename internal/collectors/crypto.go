// Package collectors holds the poll-interval REST fetchers: BTC spot
// ticks, the weather ensemble forecast, and market resolutions.
package collectors

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/go-resty/resty/v2"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// CryptoCollector fetches a best-effort BTC spot tick per venue. A
// single venue's failure never aborts the others.
type CryptoCollector struct {
	http      *resty.Client
	binance   *binance.Client
	btcSymbol string
}

func NewCryptoCollector(btcSymbol string) *CryptoCollector {
	return &CryptoCollector{
		http:      resty.New().SetTimeout(10 * time.Second),
		binance:   binance.NewClient("", ""),
		btcSymbol: btcSymbol,
	}
}

// FetchBTCSpotTicks queries Binance, Coinbase and Kraken independently,
// falling back to Bitstamp only if every other venue failed.
func (c *CryptoCollector) FetchBTCSpotTicks(ctx context.Context, now time.Time) []domain.SpotTick {
	var ticks []domain.SpotTick

	if price, ok := c.fetchBinance(ctx); ok {
		ticks = append(ticks, domain.SpotTick{Ts: now, Source: domain.SourceBinance, Symbol: c.btcSymbol, PriceUSD: price})
	}
	if price, ok := c.fetchCoinbase(ctx); ok {
		ticks = append(ticks, domain.SpotTick{Ts: now, Source: domain.SourceCoinbase, Symbol: c.btcSymbol, PriceUSD: price})
	}
	if price, ok := c.fetchKraken(ctx); ok {
		ticks = append(ticks, domain.SpotTick{Ts: now, Source: domain.SourceKraken, Symbol: c.btcSymbol, PriceUSD: price})
	}

	if len(ticks) == 0 {
		if price, ok := c.fetchBitstamp(ctx); ok {
			ticks = append(ticks, domain.SpotTick{Ts: now, Source: domain.SourceBitstamp, Symbol: c.btcSymbol, PriceUSD: price})
		}
	}

	return ticks
}

func (c *CryptoCollector) fetchBinance(ctx context.Context) (float64, bool) {
	prices, err := c.binance.NewListPricesService().Symbol("BTCUSDT").Do(ctx)
	if err != nil || len(prices) == 0 {
		slog.Warn("btc_source_failed", "source", "binance", "err", err)
		return 0, false
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (c *CryptoCollector) fetchCoinbase(ctx context.Context) (float64, bool) {
	var payload struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&payload).
		Get("https://api.exchange.coinbase.com/products/BTC-USD/ticker")
	if err != nil || resp.IsError() {
		slog.Warn("btc_source_failed", "source", "coinbase", "status", statusOf(resp), "err", err)
		return 0, false
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (c *CryptoCollector) fetchKraken(ctx context.Context) (float64, bool) {
	var payload struct {
		Result map[string]struct {
			Close []string `json:"c"`
		} `json:"result"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&payload).
		SetQueryParam("pair", "XBTUSD").
		Get("https://api.kraken.com/0/public/Ticker")
	if err != nil || resp.IsError() {
		slog.Warn("btc_source_failed", "source", "kraken", "status", statusOf(resp), "err", err)
		return 0, false
	}
	for _, v := range payload.Result {
		if len(v.Close) == 0 {
			continue
		}
		if price, err := strconv.ParseFloat(v.Close[0], 64); err == nil {
			return price, true
		}
	}
	return 0, false
}

func (c *CryptoCollector) fetchBitstamp(ctx context.Context) (float64, bool) {
	var payload struct {
		Last string `json:"last"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&payload).
		Get("https://www.bitstamp.net/api/v2/ticker/btcusd/")
	if err != nil || resp.IsError() {
		slog.Warn("btc_source_failed", "source", "bitstamp", "status", statusOf(resp), "err", err)
		return 0, false
	}
	price, err := strconv.ParseFloat(payload.Last, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}
