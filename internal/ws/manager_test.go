package ws

import (
	"testing"
	"time"
)

func TestNewAppliesFloors(t *testing.T) {
	m := New(Options{URL: "wss://example.test", ReconnectDelay: 10 * time.Millisecond, HeartbeatInterval: time.Millisecond})
	if m.opts.ReconnectDelay != minReconnectDelay {
		t.Fatalf("expected reconnect delay floored to %v, got %v", minReconnectDelay, m.opts.ReconnectDelay)
	}
	if m.opts.HeartbeatInterval != 30*time.Second {
		t.Fatalf("expected heartbeat interval to fall back to 30s, got %v", m.opts.HeartbeatInterval)
	}
	if m.opts.QueueCapacity != defaultQueueCapacity {
		t.Fatalf("expected default queue capacity %d, got %d", defaultQueueCapacity, m.opts.QueueCapacity)
	}
}

func TestHandleRawDropsOldestOnOverflow(t *testing.T) {
	m := New(Options{URL: "wss://example.test", QueueCapacity: 2})

	m.handleRaw([]byte(`{"n":1}`))
	m.handleRaw([]byte(`{"n":2}`))
	m.handleRaw([]byte(`{"n":3}`))

	if len(m.inbound) != 2 {
		t.Fatalf("expected queue to stay at capacity 2, got %d", len(m.inbound))
	}

	first := <-m.inbound
	if first["n"].(float64) != 2 {
		t.Fatalf("expected oldest message (n=1) to have been dropped, got n=%v", first["n"])
	}
}

func TestHandleRawDropsNonObjectMessages(t *testing.T) {
	m := New(Options{URL: "wss://example.test"})
	m.handleRaw([]byte(`[1,2,3]`))
	m.handleRaw([]byte(`not json`))
	if len(m.inbound) != 0 {
		t.Fatalf("expected non-object/invalid payloads to be dropped, got %d queued", len(m.inbound))
	}
}

func TestSubscribeBuffersWhenDisconnected(t *testing.T) {
	m := New(Options{URL: "wss://example.test"})
	if err := m.Subscribe([]string{"orderbook_delta"}, []string{"TICKER-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.subMu.Lock()
	n := len(m.subscriptions)
	m.subMu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 buffered subscription, got %d", n)
	}
}
