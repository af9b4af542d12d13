// Package notify fans out per-tick digests and operational alerts. The
// core only depends on the Notifier contract: any delivery, sent or
// failed, yields exactly one domain.AlertEvent for the store to persist.
package notify

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// Notifier fans out per-tick digests and operational alerts.
type Notifier interface {
	Notify(now time.Time, signals []domain.Signal, orders []domain.PaperOrder) []domain.AlertEvent
	NotifyOperational(now time.Time, messages []string) []domain.AlertEvent
}

// LogNotifier writes formatted digests through slog, the only outbound
// channel the teacher's own deployment ever wired up.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

const digestTopN = 5

func (n *LogNotifier) Notify(now time.Time, signals []domain.Signal, orders []domain.PaperOrder) []domain.AlertEvent {
	if len(signals) == 0 && len(orders) == 0 {
		return nil
	}
	top := topByEdge(signals, digestTopN)
	msg := fmt.Sprintf("tick digest: %d signals (top %s), %d orders", len(signals), strings.Join(top, ", "), len(orders))
	n.Logger.Info("digest", "signals", len(signals), "orders", len(orders), "top_edges", strings.Join(top, ","))
	return []domain.AlertEvent{domain.NewAlertEvent("digest", msg, digestDedupKey(now), "sent", now)}
}

// topByEdge formats the n strongest signals as "TICKER direction edge".
func topByEdge(signals []domain.Signal, n int) []string {
	ranked := append([]domain.Signal(nil), signals...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].EdgeBps) > math.Abs(ranked[j].EdgeBps)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, fmt.Sprintf("%s %s %.0fbps", s.Ticker, s.Direction, s.EdgeBps))
	}
	return out
}

func (n *LogNotifier) NotifyOperational(now time.Time, messages []string) []domain.AlertEvent {
	var events []domain.AlertEvent
	for _, m := range messages {
		n.Logger.Warn("operational alert", "message", m)
		events = append(events, domain.NewAlertEvent("operational", m, m, "sent", now))
	}
	return events
}

func digestDedupKey(now time.Time) string {
	return "digest:" + now.Truncate(time.Minute).Format(time.RFC3339)
}

// CooldownNotifier wraps another Notifier, suppressing repeat deliveries
// of the same dedup key within the cooldown window and capping the
// number of deliveries per call to maxPerCycle. Suppressed alerts still
// do not generate an AlertEvent — only what actually goes out front does.
type CooldownNotifier struct {
	inner       Notifier
	cooldown    time.Duration
	maxPerCycle int

	mu       sync.Mutex
	lastSent map[string]time.Time
}

const (
	defaultCooldown    = 6 * time.Hour
	defaultMaxPerCycle = 3
)

// NewCooldownNotifier wraps inner with a 6h per-key dedup window and a
// cap of 3 deliveries per call, matching the bot's digest/alert cadence.
func NewCooldownNotifier(inner Notifier) *CooldownNotifier {
	return &CooldownNotifier{
		inner:       inner,
		cooldown:    defaultCooldown,
		maxPerCycle: defaultMaxPerCycle,
		lastSent:    make(map[string]time.Time),
	}
}

func (c *CooldownNotifier) Notify(now time.Time, signals []domain.Signal, orders []domain.PaperOrder) []domain.AlertEvent {
	events := c.inner.Notify(now, signals, orders)
	return c.gate(now, events)
}

func (c *CooldownNotifier) NotifyOperational(now time.Time, messages []string) []domain.AlertEvent {
	c.mu.Lock()
	var fresh []string
	for _, m := range messages {
		if len(fresh) >= c.maxPerCycle {
			break
		}
		if last, ok := c.lastSent[m]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		fresh = append(fresh, m)
	}
	c.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}
	events := c.inner.NotifyOperational(now, fresh)
	return c.gate(now, events)
}

func (c *CooldownNotifier) gate(now time.Time, events []domain.AlertEvent) []domain.AlertEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var allowed []domain.AlertEvent
	for _, e := range events {
		if len(allowed) >= c.maxPerCycle {
			break
		}
		if last, ok := c.lastSent[e.DedupKey]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		c.lastSent[e.DedupKey] = now
		allowed = append(allowed, e)
	}
	return allowed
}
