package feeds

import (
	"context"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/ws"
)

// BinanceFeed tracks the btcusdt trade stream. The raw message
// shape matches adshao/go-binance's websocket trade event field names
// (e, p, q, T), read here generically since we manage the socket ourselves
// through internal/ws rather than that SDK's own dialer.
type BinanceFeed struct {
	manager *ws.Manager
	ring    *ring
}

func NewBinanceFeed(url string) *BinanceFeed {
	f := &BinanceFeed{ring: newRing(ringCapacity)}
	if url == "" {
		url = "wss://stream.binance.com:9443/ws/btcusdt@trade"
	}
	f.manager = ws.New(ws.Options{
		URL:               url,
		OnMessage:         f.onMessage,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 60 * time.Second,
	})
	return f
}

func (f *BinanceFeed) onMessage(msg map[string]any) {
	if asLowerString(msg["e"]) != "trade" {
		return
	}
	price, ok1 := asFloat(msg["p"])
	qty, ok2 := asFloat(msg["q"])
	tsMs, ok3 := asFloat(msg["T"])
	if !ok1 || !ok2 || !ok3 {
		return
	}
	ts := time.UnixMilli(int64(tsMs)).UTC()
	f.ring.push(tick{ts: ts, price: price, quantity: qty})
}

func (f *BinanceFeed) Run(ctx context.Context) error { return f.manager.Run(ctx) }
func (f *BinanceFeed) Close() error                  { return f.manager.Close() }
func (f *BinanceFeed) IsConnected() bool             { return f.manager.IsConnected() }

func (f *BinanceFeed) AgeSeconds(now time.Time) float64 { return f.ring.ageSeconds(now) }

func (f *BinanceFeed) LatestPrice() (float64, bool) {
	t, ok := f.ring.last()
	if !ok {
		return 0, false
	}
	return t.price, true
}

// VWAP returns the volume-weighted average price over the trailing window,
// walking the ring backward from the freshest tick until ts < cutoff.
func (f *BinanceFeed) VWAP(now time.Time, window time.Duration) (float64, bool) {
	if window <= 0 {
		window = time.Second
	}
	cutoff := now.Add(-window)
	ordered := f.ring.ordered()
	var weighted, volume float64
	for i := len(ordered) - 1; i >= 0; i-- {
		t := ordered[i]
		if t.ts.Before(cutoff) {
			break
		}
		weighted += t.price * t.quantity
		volume += t.quantity
	}
	if volume <= 0 {
		return 0, false
	}
	return weighted / volume, true
}

// PriceHistoryWindow returns prices oldest-first within the trailing window.
func (f *BinanceFeed) PriceHistoryWindow(now time.Time, window time.Duration) []float64 {
	cutoff := now.Add(-window)
	ordered := f.ring.ordered()
	var rev []float64
	for i := len(ordered) - 1; i >= 0; i-- {
		t := ordered[i]
		if t.ts.Before(cutoff) {
			break
		}
		rev = append(rev, t.price)
	}
	out := make([]float64, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}
