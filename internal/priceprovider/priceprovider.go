// Package priceprovider is the unified "WS first, DB fallback, REST last"
// price accessor used by the signal engine.
package priceprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/feeds"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
)

const (
	wsFreshSeconds      = 5.0
	restFallbackSeconds = 30.0
	kalshiBookFreshSecs = 10.0
)

// PriceSnapshot is one source's price reading with its provenance tier.
type PriceSnapshot struct {
	Price  float64
	Ts     time.Time
	Source domain.DataSourceTier // ws | rest_fallback
}

// Provider layers live WS feeds over the store's recent ticks over a
// final REST read.
type Provider struct {
	Binance  *feeds.BinanceFeed
	Coinbase *feeds.CoinbaseFeed
	Kraken   *feeds.KrakenFeed
	Kalshi   *feeds.KalshiFeed

	Store     store.Store
	Client    *kalshi.Client
	BTCSymbol string
}

type wsFeed interface {
	IsConnected() bool
	AgeSeconds(now time.Time) float64
	LatestPrice() (float64, bool)
}

func (p *Provider) wsSources() []struct {
	name string
	feed wsFeed
} {
	return []struct {
		name string
		feed wsFeed
	}{
		{"binance", p.Binance},
		{"coinbase", p.Coinbase},
		{"kraken", p.Kraken},
	}
}

// GetBTCPrices returns the freshest usable price per enabled source:
// WS tier if connected and age < 5s, else a store tick with age <= 30s,
// else the source is omitted.
func (p *Provider) GetBTCPrices(ctx context.Context, now time.Time) (map[string]PriceSnapshot, error) {
	out := make(map[string]PriceSnapshot)

	for _, s := range p.wsSources() {
		if s.feed != nil && !isNilFeed(s.feed) && s.feed.IsConnected() {
			if price, ok := s.feed.LatestPrice(); ok && s.feed.AgeSeconds(now) < wsFreshSeconds {
				out[s.name] = PriceSnapshot{Price: price, Ts: now, Source: domain.DataSourceWS}
				continue
			}
		}

		if p.Store == nil {
			continue
		}
		ref, err := p.Store.GetLatestSpotTick(ctx, domain.SpotSource(s.name), p.symbol(), now)
		if err != nil {
			return nil, fmt.Errorf("get latest spot tick %s: %w", s.name, err)
		}
		if ref == nil || ref.AgeSeconds > restFallbackSeconds {
			continue
		}
		out[s.name] = PriceSnapshot{Price: ref.Tick.PriceUSD, Ts: ref.Tick.Ts, Source: domain.DataSourceRestFallback}
	}

	return out, nil
}

func (p *Provider) symbol() string {
	if p.BTCSymbol == "" {
		return "BTCUSD"
	}
	return p.BTCSymbol
}

// isNilFeed guards against typed-nil interfaces (a *feeds.BinanceFeed(nil)
// assigned to the wsFeed interface is non-nil as an interface value).
func isNilFeed(f wsFeed) bool {
	switch v := f.(type) {
	case *feeds.BinanceFeed:
		return v == nil
	case *feeds.CoinbaseFeed:
		return v == nil
	case *feeds.KrakenFeed:
		return v == nil
	default:
		return false
	}
}

// GetBTCMomentum returns (last-first)/first over the trailing window,
// preferring Binance's live windowed history, falling back to the store's
// recent ticks. Requires >=2 points.
func (p *Provider) GetBTCMomentum(ctx context.Context, now time.Time, window time.Duration) (float64, bool, error) {
	if p.Binance != nil && p.Binance.IsConnected() {
		history := p.Binance.PriceHistoryWindow(now, window)
		if len(history) >= 2 && history[0] > 0 {
			return (history[len(history)-1] - history[0]) / history[0], true, nil
		}
	}

	if p.Store == nil {
		return 0, false, nil
	}
	since := now.Add(-window)
	if window < 10*time.Second {
		since = now.Add(-10 * time.Second)
	}
	ticks, err := p.Store.GetRecentSpotTicks(ctx, p.symbol(), since)
	if err != nil {
		return 0, false, fmt.Errorf("get recent spot ticks: %w", err)
	}
	var prices []float64
	for _, t := range ticks {
		if t.PriceUSD > 0 {
			prices = append(prices, t.PriceUSD)
		}
	}
	if len(prices) < 2 {
		return 0, false, nil
	}
	first, last := prices[0], prices[len(prices)-1]
	return (last - first) / first, true, nil
}

// GetKalshiOrderbook prefers the live WS book (age <= 10s) and falls back
// to a REST read.
func (p *Provider) GetKalshiOrderbook(ctx context.Context, ticker string) (*domain.OrderBookSnapshot, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, nil
	}

	if p.Kalshi != nil {
		if ob, ok := p.Kalshi.Book(ticker); ok {
			age := time.Since(ob.UpdatedAt).Seconds()
			if age <= kalshiBookFreshSecs {
				return ob, nil
			}
		}
	}

	if p.Client == nil {
		return nil, nil
	}
	restBook, err := p.Client.GetOrderbook(ctx, ticker, 0)
	if err != nil {
		return nil, fmt.Errorf("rest orderbook %s: %w", ticker, err)
	}
	ob := &domain.OrderBookSnapshot{Ticker: ticker, Yes: map[int]int{}, No: map[int]int{}, UpdatedAt: time.Now().UTC()}
	for _, level := range restBook.Yes {
		if len(level) >= 2 {
			ob.Yes[level[0]] = level[1]
		}
	}
	for _, level := range restBook.No {
		if len(level) >= 2 {
			ob.No[level[0]] = level[1]
		}
	}
	return ob, nil
}

// GetMarketSnapshot derives yes/no prices from the freshest order book,
// falling back to the REST market endpoint. Values > 1 are treated as
// cents and normalized to [0,1].
func (p *Provider) GetMarketSnapshot(ctx context.Context, ticker string) (*domain.MarketSnapshot, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, nil
	}
	now := time.Now().UTC()

	ob, err := p.GetKalshiOrderbook(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if ob != nil && (len(ob.Yes) > 0 || len(ob.No) > 0) {
		var yesPrice, noPrice *float64
		if ask, ok := ob.BestYesAsk(); ok {
			v := float64(ask) / 100.0
			yesPrice = &v
		}
		if ask, ok := ob.BestNoAsk(); ok {
			v := float64(ask) / 100.0
			noPrice = &v
		}
		snap := domain.MarketSnapshot{Ticker: ticker, Ts: now, Source: string(domain.DataSourceWS)}
		if yesPrice != nil {
			snap.YesPrice = *yesPrice
		}
		if noPrice != nil {
			snap.NoPrice = *noPrice
		}
		return &snap, nil
	}

	if p.Client == nil {
		return nil, nil
	}
	market, err := p.Client.GetMarket(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("rest market snapshot %s: %w", ticker, err)
	}
	snap := domain.MarketSnapshot{
		Ticker: ticker,
		Ts:     now,
		Source: string(domain.DataSourceRest),
	}
	if market.YesAsk > 0 {
		snap.YesPrice = normalizePrice(float64(market.YesAsk))
	} else if market.YesBid > 0 {
		snap.YesPrice = normalizePrice(float64(market.YesBid))
	}
	if market.NoAsk > 0 {
		snap.NoPrice = normalizePrice(float64(market.NoAsk))
	} else if market.NoBid > 0 {
		snap.NoPrice = normalizePrice(float64(market.NoBid))
	}
	return &snap, nil
}

func normalizePrice(v float64) float64 {
	if v > 1 {
		return v / 100.0
	}
	return v
}

func normalizeTicker(ticker string) string {
	out := make([]byte, 0, len(ticker))
	for i := 0; i < len(ticker); i++ {
		c := ticker[i]
		if c == ' ' || c == '\t' || c == '\n' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
