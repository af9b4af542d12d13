package feeds

import (
	"testing"
	"time"
)

func TestRingOverwritesOldestAtCapacity(t *testing.T) {
	r := newRing(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		r.push(tick{ts: base.Add(time.Duration(i) * time.Second), price: float64(i)})
	}
	ordered := r.ordered()
	if len(ordered) != 3 {
		t.Fatalf("expected ring size capped at 3, got %d", len(ordered))
	}
	if ordered[0].price != 2 || ordered[2].price != 4 {
		t.Fatalf("expected oldest entries overwritten, got %v", ordered)
	}
}

func TestBinanceVWAPWindowed(t *testing.T) {
	f := NewBinanceFeed("")
	now := time.Now().UTC()
	f.ring.push(tick{ts: now.Add(-2 * time.Minute), price: 90000, quantity: 100})
	f.ring.push(tick{ts: now.Add(-30 * time.Second), price: 100000, quantity: 1})
	f.ring.push(tick{ts: now.Add(-10 * time.Second), price: 101000, quantity: 1})

	vwap, ok := f.VWAP(now, time.Minute)
	if !ok {
		t.Fatal("expected a vwap inside the window")
	}
	if vwap != 100500 {
		t.Fatalf("expected the 2-minute-old tick excluded, got vwap=%f", vwap)
	}
}

func TestBinancePriceHistoryWindowOldestFirst(t *testing.T) {
	f := NewBinanceFeed("")
	now := time.Now().UTC()
	f.ring.push(tick{ts: now.Add(-40 * time.Second), price: 1})
	f.ring.push(tick{ts: now.Add(-20 * time.Second), price: 2})
	f.ring.push(tick{ts: now.Add(-5 * time.Second), price: 3})

	history := f.PriceHistoryWindow(now, time.Minute)
	if len(history) != 3 || history[0] != 1 || history[2] != 3 {
		t.Fatalf("expected oldest-first [1 2 3], got %v", history)
	}
}

func snapshotMsg(ticker string, seq int, yes, no [][]int) map[string]any {
	toAny := func(levels [][]int) []any {
		out := make([]any, 0, len(levels))
		for _, l := range levels {
			out = append(out, []any{float64(l[0]), float64(l[1])})
		}
		return out
	}
	return map[string]any{
		"type":          "orderbook_snapshot",
		"market_ticker": ticker,
		"seq":           float64(seq),
		"yes":           toAny(yes),
		"no":            toAny(no),
	}
}

func TestKalshiFeedSnapshotSeedsBothSides(t *testing.T) {
	f := NewKalshiFeed("wss://example.test", nil)
	f.onMessage(snapshotMsg("KXHIGHNY-1", 10, [][]int{{40, 100}}, [][]int{{55, 50}}))

	book, ok := f.Book("KXHIGHNY-1")
	if !ok {
		t.Fatal("expected a book after snapshot")
	}
	if bid, _ := book.BestYesBid(); bid != 40 {
		t.Fatalf("expected best yes bid 40, got %d", bid)
	}
	if ask, _ := book.BestYesAsk(); ask != 45 {
		t.Fatalf("expected yes ask derived as 100-55=45, got %d", ask)
	}
}

func TestKalshiFeedDeltaAppliesAndRemovesLevels(t *testing.T) {
	f := NewKalshiFeed("wss://example.test", nil)
	f.onMessage(snapshotMsg("KXHIGHNY-1", 10, [][]int{{40, 100}}, [][]int{{55, 50}}))

	f.onMessage(map[string]any{
		"type": "orderbook_delta", "market_ticker": "KXHIGHNY-1", "seq": float64(11),
		"yes": []any{map[string]any{"price": float64(41), "delta": float64(20)}},
		"no":  []any{map[string]any{"price": float64(55), "delta": float64(-50)}},
	})

	book, _ := f.Book("KXHIGHNY-1")
	if bid, _ := book.BestYesBid(); bid != 41 {
		t.Fatalf("expected new best yes bid 41, got %d", bid)
	}
	if _, ok := book.BestNoBid(); ok {
		t.Fatal("expected the no side emptied once its level hit zero")
	}
}

func TestKalshiFeedIgnoresNonIncreasingSeq(t *testing.T) {
	f := NewKalshiFeed("wss://example.test", nil)
	f.onMessage(snapshotMsg("KXHIGHNY-1", 10, [][]int{{40, 100}}, [][]int{{55, 50}}))

	// A delta replaying an already-applied seq must not mutate the book.
	f.onMessage(map[string]any{
		"type": "orderbook_delta", "market_ticker": "KXHIGHNY-1", "seq": float64(10),
		"yes": []any{map[string]any{"price": float64(90), "delta": float64(5)}},
	})
	book, _ := f.Book("KXHIGHNY-1")
	if bid, _ := book.BestYesBid(); bid != 40 {
		t.Fatalf("expected stale delta ignored, best yes bid moved to %d", bid)
	}

	// A stale snapshot is dropped too.
	f.onMessage(snapshotMsg("KXHIGHNY-1", 9, [][]int{{1, 1}}, [][]int{{1, 1}}))
	book, _ = f.Book("KXHIGHNY-1")
	if bid, _ := book.BestYesBid(); bid != 40 {
		t.Fatalf("expected stale snapshot dropped, best yes bid moved to %d", bid)
	}

	// A newer snapshot overwrites both sides atomically.
	f.onMessage(snapshotMsg("KXHIGHNY-1", 12, [][]int{{30, 10}}, [][]int{{60, 10}}))
	book, _ = f.Book("KXHIGHNY-1")
	if bid, _ := book.BestYesBid(); bid != 30 {
		t.Fatalf("expected newer snapshot applied, got best yes bid %d", bid)
	}
}

func TestKalshiFeedLifecycleEventDelivered(t *testing.T) {
	f := NewKalshiFeed("wss://example.test", nil)
	f.onMessage(map[string]any{"type": "market_lifecycle_v2", "market_ticker": "KXHIGHNY-NEW"})

	select {
	case ev := <-f.Lifecycle():
		if ev.Ticker != "KXHIGHNY-NEW" {
			t.Fatalf("unexpected lifecycle ticker %q", ev.Ticker)
		}
	default:
		t.Fatal("expected a lifecycle event queued")
	}
}
