package feeds

import (
	"context"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/ws"
)

// KrakenFeed tracks the Kraken v2 ticker channel for BTC/USD. Kraken's
// ticker push omits a per-tick timestamp, so the receipt time is used,
// matching the reference feed.
type KrakenFeed struct {
	manager *ws.Manager
	ring    *ring
}

func NewKrakenFeed(url string) *KrakenFeed {
	f := &KrakenFeed{ring: newRing(ringCapacity)}
	if url == "" {
		url = "wss://ws.kraken.com/v2"
	}
	f.manager = ws.New(ws.Options{
		URL:               url,
		OnMessage:         f.onMessage,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 60 * time.Second,
	})
	_ = f.manager.SubscribeRaw(map[string]any{
		"method": "subscribe",
		"params": map[string]any{"channel": "ticker", "symbol": []string{"BTC/USD"}},
	})
	return f
}

func (f *KrakenFeed) onMessage(msg map[string]any) {
	if asLowerString(msg["channel"]) != "ticker" {
		return
	}
	rows, ok := msg["data"].([]any)
	if !ok || len(rows) == 0 {
		return
	}
	row, ok := rows[0].(map[string]any)
	if !ok {
		return
	}
	price, ok := asFloat(row["last"])
	if !ok {
		return
	}
	f.ring.push(tick{
		ts:      time.Now().UTC(),
		price:   price,
		bestBid: asFloatPtr(row["bid"]),
		bestAsk: asFloatPtr(row["ask"]),
	})
}

func (f *KrakenFeed) Run(ctx context.Context) error     { return f.manager.Run(ctx) }
func (f *KrakenFeed) Close() error                      { return f.manager.Close() }
func (f *KrakenFeed) IsConnected() bool                 { return f.manager.IsConnected() }
func (f *KrakenFeed) AgeSeconds(now time.Time) float64  { return f.ring.ageSeconds(now) }

func (f *KrakenFeed) LatestPrice() (float64, bool) {
	t, ok := f.ring.last()
	if !ok {
		return 0, false
	}
	return t.price, true
}
