// Package ws provides a generic reconnecting WebSocket client: connect,
// subscription replay, heartbeat/pong timeout, exponential backoff and a
// bounded inbound queue with oldest-drop overflow policy. Concrete feeds
// (internal/feeds) and the Kalshi order-book client build on top of it.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// AuthHeadersProvider is re-evaluated on every reconnect so signed headers
// (e.g. Kalshi's RSA-PSS signature) carry a fresh timestamp.
type AuthHeadersProvider func() (map[string]string, error)

// MessageHandler processes one decoded JSON object. Handlers run
// synchronously on the manager's read goroutine's consumer; slow handlers
// should hand off to their own goroutine.
type MessageHandler func(msg map[string]any)

// ErrorHandler is invoked for any non-cancellation error; it never stops
// the manager.
type ErrorHandler func(err error)

const (
	defaultQueueCapacity = 4096
	minReconnectDelay    = 500 * time.Millisecond
	minHeartbeatInterval = 5 * time.Second
	pongTimeout          = 10 * time.Second
	pingWriteTimeout     = 5 * time.Second
)

// Options configures a Manager. Zero values fall back to the defaults
// mirrored from the reference Python implementation.
type Options struct {
	URL               string
	AuthHeaders       AuthHeadersProvider
	OnMessage         MessageHandler
	OnError           ErrorHandler
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	HeartbeatInterval time.Duration
	QueueCapacity     int
}

// Manager is a single-connection, auto-reconnecting WebSocket client.
type Manager struct {
	opts Options

	mu   sync.RWMutex
	conn *websocket.Conn

	subMu         sync.Mutex
	subscriptions []map[string]any

	inbound chan map[string]any

	backoff *backoff.Backoff

	running bool
	runMu   sync.Mutex
}

// New constructs a Manager. Call Run in its own goroutine and Subscribe
// any time thereafter; subscriptions sent while disconnected are buffered
// and replayed on the next successful connect.
func New(opts Options) *Manager {
	if opts.ReconnectDelay < minReconnectDelay {
		opts.ReconnectDelay = minReconnectDelay
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = 60 * time.Second
	}
	if opts.HeartbeatInterval < minHeartbeatInterval {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}

	return &Manager{
		opts:    opts,
		inbound: make(chan map[string]any, opts.QueueCapacity),
		backoff: &backoff.Backoff{
			Min:    opts.ReconnectDelay,
			Max:    opts.ReconnectMaxDelay,
			Factor: 2,
			Jitter: false,
		},
	}
}

// Inbound exposes the bounded decoded-message queue for callers that want
// to drain it themselves instead of (or in addition to) OnMessage.
func (m *Manager) Inbound() <-chan map[string]any {
	return m.inbound
}

// IsConnected reports whether a live socket is currently held.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// Subscribe buffers a subscription payload and sends it immediately if
// connected; on every future reconnect all buffered subscriptions replay
// in order.
func (m *Manager) Subscribe(channels []string, tickers []string) error {
	payload := map[string]any{"cmd": "subscribe", "channels": channels}
	if len(tickers) > 0 {
		payload["market_tickers"] = tickers
	}

	m.subMu.Lock()
	m.subscriptions = append(m.subscriptions, payload)
	m.subMu.Unlock()

	return m.send(payload)
}

// SubscribeRaw buffers and sends an arbitrary subscription payload, for
// feeds whose subscribe message shape isn't the generic
// {cmd,channels,market_tickers} form (Coinbase, Kraken).
func (m *Manager) SubscribeRaw(payload map[string]any) error {
	m.subMu.Lock()
	m.subscriptions = append(m.subscriptions, payload)
	m.subMu.Unlock()
	return m.send(payload)
}

func (m *Manager) send(payload map[string]any) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.WriteJSON(payload)
}

// Run blocks, connecting and reconnecting with backoff until ctx is
// canceled or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	m.runMu.Lock()
	m.running = true
	m.runMu.Unlock()

	for {
		if !m.isRunning() {
			return nil
		}
		if err := m.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("ws loop failed", "url", m.opts.URL, "err", err)
			if m.opts.OnError != nil {
				m.opts.OnError(err)
			}
		}
		if !m.isRunning() {
			return nil
		}
		wait := m.backoff.Duration()
		slog.Info("ws reconnecting", "url", m.opts.URL, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Manager) isRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *Manager) runOnce(ctx context.Context) error {
	headers := map[string]string{}
	if m.opts.AuthHeaders != nil {
		h, err := m.opts.AuthHeaders()
		if err != nil {
			return fmt.Errorf("auth headers: %w", err)
		}
		headers = h
	}

	httpHeaders := make(map[string][]string, len(headers))
	for k, v := range headers {
		httpHeaders[k] = []string{v}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.opts.URL, httpHeaders)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.backoff.Reset()

	slog.Info("ws connected", "url", m.opts.URL)

	defer func() {
		conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	m.subMu.Lock()
	replay := append([]map[string]any(nil), m.subscriptions...)
	m.subMu.Unlock()
	for _, payload := range replay {
		if err := conn.WriteJSON(payload); err != nil {
			slog.Warn("subscription replay failed", "err", err)
		}
	}

	heartbeatDone := make(chan struct{})
	heartbeatErr := make(chan error, 1)
	go m.heartbeat(ctx, conn, heartbeatDone, heartbeatErr)
	defer close(heartbeatDone)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-heartbeatErr:
			return err
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handleRaw(data)
	}
}

// heartbeat sends an application-level ping every HeartbeatInterval and
// arms a pongTimeout read deadline on the connection; a pong clears the
// deadline, a missed pong lets conn.ReadMessage in runOnce's read loop
// time out, which returns an error and forces reconnect.
func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout)); err != nil {
				select {
				case errCh <- fmt.Errorf("heartbeat ping: %w", err):
				default:
				}
				return
			}
			if err := conn.SetReadDeadline(time.Now().Add(pongTimeout)); err != nil {
				select {
				case errCh <- fmt.Errorf("heartbeat read deadline: %w", err):
				default:
				}
				return
			}
		}
	}
}

func (m *Manager) handleRaw(data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	select {
	case m.inbound <- payload:
	default:
		select {
		case <-m.inbound:
		default:
		}
		select {
		case m.inbound <- payload:
		default:
		}
		slog.Warn("ws inbound queue overflow, dropped oldest", "url", m.opts.URL)
	}

	if m.opts.OnMessage != nil {
		m.opts.OnMessage(payload)
	}
}

// Close stops the manager; Run returns once the current connection (if
// any) is closed.
func (m *Manager) Close() error {
	m.runMu.Lock()
	m.running = false
	m.runMu.Unlock()

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
