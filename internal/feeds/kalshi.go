package feeds

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/ws"
)

// LifecycleEvent is sent on the feed's Lifecycle() channel so the runtime
// can auto-subscribe to newly discovered tickers matching a configured
// prefix.
type LifecycleEvent struct {
	Ticker  string
	Message map[string]any
}

// KalshiFeed maintains the live order book for every subscribed ticker
// plus a lifecycle event stream, over a single authenticated WSManager
// connection.
type KalshiFeed struct {
	manager *ws.Manager

	mu    sync.RWMutex
	books map[string]*domain.OrderBookSnapshot

	lifecycleMu sync.Mutex
	lifecycle   chan LifecycleEvent
}

// NewKalshiFeed builds the feed. authHeaders is re-evaluated on each
// reconnect so the RSA-PSS signature carries a fresh timestamp.
func NewKalshiFeed(wsURL string, authHeaders ws.AuthHeadersProvider) *KalshiFeed {
	f := &KalshiFeed{
		books:     make(map[string]*domain.OrderBookSnapshot),
		lifecycle: make(chan LifecycleEvent, 256),
	}
	f.manager = ws.New(ws.Options{
		URL:               wsURL,
		AuthHeaders:       authHeaders,
		OnMessage:         f.onMessage,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 60 * time.Second,
	})
	return f
}

func (f *KalshiFeed) Run(ctx context.Context) error { return f.manager.Run(ctx) }
func (f *KalshiFeed) Close() error                  { return f.manager.Close() }

// Lifecycle exposes the channel the runtime drains to auto-subscribe to
// newly discovered tickers; it is never mutated reentrantly from within
// message handling.
func (f *KalshiFeed) Lifecycle() <-chan LifecycleEvent { return f.lifecycle }

func (f *KalshiFeed) SubscribeMarket(ticker string) error {
	return f.manager.Subscribe([]string{"orderbook_delta", "ticker"}, []string{ticker})
}

func (f *KalshiFeed) SubscribeLifecycle() error {
	return f.manager.Subscribe([]string{"market_lifecycle_v2"}, nil)
}

func (f *KalshiFeed) Book(ticker string) (*domain.OrderBookSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ob, ok := f.books[ticker]
	return ob, ok
}

func (f *KalshiFeed) bookFor(ticker string) *domain.OrderBookSnapshot {
	ob, ok := f.books[ticker]
	if !ok {
		ob = &domain.OrderBookSnapshot{Ticker: ticker, Yes: map[int]int{}, No: map[int]int{}}
		f.books[ticker] = ob
	}
	return ob
}

func (f *KalshiFeed) onMessage(msg map[string]any) {
	msgType := strings.ToLower(firstNonEmpty(msg["type"], msg["msg_type"], msg["channel"]))

	switch {
	case strings.Contains(msgType, "snapshot"):
		f.handleSnapshot(msg)
	case strings.Contains(msgType, "orderbook_delta") || strings.Contains(msgType, "delta"):
		f.handleDelta(msg)
	case strings.Contains(msgType, "ticker"):
		f.handleTicker(msg)
	case strings.Contains(msgType, "lifecycle"):
		f.handleLifecycle(msg)
	}
}

func firstNonEmpty(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func tickerFrom(msg map[string]any) string {
	return strings.TrimSpace(firstNonEmpty(msg["market_ticker"], msg["ticker"]))
}

func (f *KalshiFeed) handleSnapshot(msg map[string]any) {
	ticker := tickerFrom(msg)
	if ticker == "" {
		return
	}
	yesLevels := parseLevelList(msg["yes"], msg["yes_levels"])
	noLevels := parseLevelList(msg["no"], msg["no_levels"])

	f.mu.Lock()
	defer f.mu.Unlock()
	ob := f.bookFor(ticker)

	seq, hasSeq := asFloat(msg["seq"])
	if hasSeq && int64(seq) < ob.Seq {
		// Stale snapshot (e.g. replayed after reconnect): drop, keep the
		// book as last maintained by a newer message.
		return
	}

	ob.Yes = yesLevels
	ob.No = noLevels
	if hasSeq {
		ob.Seq = int64(seq)
	}
	ob.UpdatedAt = time.Now().UTC()
}

func parseLevelList(primary, fallback any) map[int]int {
	levels := primary
	if arr, ok := levels.([]any); !ok || len(arr) == 0 {
		levels = fallback
	}
	out := map[int]int{}
	arr, ok := levels.([]any)
	if !ok {
		return out
	}
	for _, raw := range arr {
		switch v := raw.(type) {
		case map[string]any:
			px, okPx := asFloat(v["price"])
			qty, okQty := asFloat(firstNonNil(v["quantity"], v["qty"]))
			if okPx && okQty {
				out[int(px)] = int(qty)
			}
		case []any:
			if len(v) < 2 {
				continue
			}
			px, okPx := asFloat(v[0])
			qty, okQty := asFloat(v[1])
			if okPx && okQty {
				out[int(px)] = int(qty)
			}
		}
	}
	return out
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func (f *KalshiFeed) handleDelta(msg map[string]any) {
	ticker := tickerFrom(msg)
	if ticker == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ob := f.bookFor(ticker)

	seq, hasSeq := asFloat(msg["seq"])
	if hasSeq && int64(seq) <= ob.Seq {
		// Non-increasing seq: a duplicate or out-of-order delta, ignored
		// so receipt order is preserved per ticker.
		return
	}

	applySide := func(side map[int]int, raw any) {
		arr, ok := raw.([]any)
		if !ok {
			return
		}
		for _, rawLevel := range arr {
			var price int
			var delta, qty *int

			switch lvl := rawLevel.(type) {
			case map[string]any:
				px, okPx := asFloat(lvl["price"])
				if !okPx {
					continue
				}
				price = int(px)
				if d, ok := asFloat(lvl["delta"]); ok {
					di := int(d)
					delta = &di
				}
				if q, ok := asFloat(firstNonNil(lvl["quantity"], lvl["qty"])); ok {
					qi := int(q)
					qty = &qi
				}
			case []any:
				if len(lvl) < 2 {
					continue
				}
				px, okPx := asFloat(lvl[0])
				d, okD := asFloat(lvl[1])
				if !okPx || !okD {
					continue
				}
				price = int(px)
				di := int(d)
				delta = &di
			default:
				continue
			}

			if delta != nil {
				newQty := side[price] + *delta
				if newQty <= 0 {
					delete(side, price)
				} else {
					side[price] = newQty
				}
				continue
			}
			if qty != nil {
				if *qty <= 0 {
					delete(side, price)
				} else {
					side[price] = *qty
				}
			}
		}
	}

	applySide(ob.Yes, msg["yes"])
	applySide(ob.No, msg["no"])
	if hasSeq {
		ob.Seq = int64(seq)
	}
	ob.UpdatedAt = time.Now().UTC()
}

func (f *KalshiFeed) handleTicker(msg map[string]any) {
	ticker := tickerFrom(msg)
	if ticker == "" {
		return
	}
	f.mu.Lock()
	ob := f.bookFor(ticker)
	ob.UpdatedAt = time.Now().UTC()
	f.mu.Unlock()
	// Ticker payloads carry summary yes_bid/yes_ask/no_bid fields but the
	// authoritative book state is always recomputed from the maintained
	// level maps (BestYesBid/BestYesAsk on domain.OrderBookSnapshot),
	// never overwritten here.
}

func (f *KalshiFeed) handleLifecycle(msg map[string]any) {
	ticker := tickerFrom(msg)
	if ticker == "" {
		return
	}
	select {
	case f.lifecycle <- LifecycleEvent{Ticker: ticker, Message: msg}:
	default:
	}
}
