package feeds

import (
	"context"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/ws"
)

// CoinbaseFeed tracks the Coinbase Exchange BTC-USD ticker channel.
type CoinbaseFeed struct {
	manager *ws.Manager
	ring    *ring
}

func NewCoinbaseFeed(url string) *CoinbaseFeed {
	f := &CoinbaseFeed{ring: newRing(ringCapacity)}
	if url == "" {
		url = "wss://ws-feed.exchange.coinbase.com"
	}
	f.manager = ws.New(ws.Options{
		URL:               url,
		OnMessage:         f.onMessage,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 60 * time.Second,
	})
	// auto-subscribe, mirroring the reference feed's run() append.
	_ = f.manager.SubscribeRaw(map[string]any{
		"type":        "subscribe",
		"product_ids": []string{"BTC-USD"},
		"channels":    []string{"ticker"},
	})
	return f
}

func (f *CoinbaseFeed) onMessage(msg map[string]any) {
	msgType := asLowerString(msg["type"])
	if msgType == "subscriptions" || msgType != "ticker" {
		return
	}
	price, ok := asFloat(msg["price"])
	if !ok {
		return
	}
	ts := time.Now().UTC()
	if raw, ok := msg["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed
		}
	}
	f.ring.push(tick{
		ts:      ts,
		price:   price,
		bestBid: asFloatPtr(msg["best_bid"]),
		bestAsk: asFloatPtr(msg["best_ask"]),
	})
}

func (f *CoinbaseFeed) Run(ctx context.Context) error { return f.manager.Run(ctx) }
func (f *CoinbaseFeed) Close() error                  { return f.manager.Close() }
func (f *CoinbaseFeed) IsConnected() bool             { return f.manager.IsConnected() }
func (f *CoinbaseFeed) AgeSeconds(now time.Time) float64 { return f.ring.ageSeconds(now) }

func (f *CoinbaseFeed) LatestPrice() (float64, bool) {
	t, ok := f.ring.last()
	if !ok {
		return 0, false
	}
	return t.price, true
}
