// Package runtime supervises the long-lived tasks a running bot process
// needs co-scheduled: one goroutine per WS feed, the poll loop that
// drives the orchestrator's per-tick pipeline, a health-audit loop that
// spot-checks WS prices against REST, and a command-intake loop that
// applies pause/resume/mode-change requests. All tasks share one
// cancellation signal and shutdown waits for feeds to close cleanly,
// matching the teacher's signal -> cancel -> awaited-goroutines sequence
// generalized from one engine to N supervised tasks.
package runtime

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/feeds"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/orchestrator"
	"github.com/sdibella/kalshi-signal-bot/internal/priceprovider"
)

// Feed is the subset of a feeds.* type the supervisor needs to run and
// shut down a WS connection without depending on the concrete type.
type Feed interface {
	Run(ctx context.Context) error
	Close() error
}

// Command is one control message delivered through the command-intake
// loop: "pause", "resume", "mode <x>", or "confirm-mode".
type Command struct {
	Kind string // "pause" | "resume" | "mode" | "confirm-mode"
	Mode orchestrator.Mode
}

// HealthCheckTarget is one ticker spot-checked each health-audit tick.
type HealthCheckTarget struct {
	Ticker string
}

// Supervisor co-schedules a bot process's background tasks.
type Supervisor struct {
	Feeds         []Feed
	Orchestrator  *orchestrator.Orchestrator
	PriceProvider *priceprovider.Provider
	Client        *kalshi.Client
	Commands      <-chan Command

	PollInterval       time.Duration
	HealthAuditTargets []HealthCheckTarget

	// KalshiFeed and TickerPrefixes drive lifecycle-based auto-subscribe:
	// any ticker reported through KalshiFeed.Lifecycle() whose prefix
	// matches one of TickerPrefixes is subscribed for orderbook/ticker
	// updates. Both are optional; nil KalshiFeed disables the loop.
	KalshiFeed    *feeds.KalshiFeed
	TickerPrefixes []string

	Logger *slog.Logger
}

const (
	healthAuditInterval   = 60 * time.Second
	healthAuditAlertCents = 2
)

// Run starts every supervised task and blocks until ctx is canceled,
// then cancels all tasks, closes feeds, and waits for everything to
// stop.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	for _, f := range s.Feeds {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("feed run exited", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pollLoop(ctx, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.healthAuditLoop(ctx, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.commandLoop(ctx, logger)
	}()

	if s.KalshiFeed != nil {
		if err := s.KalshiFeed.SubscribeLifecycle(); err != nil {
			logger.Warn("kalshi lifecycle subscribe failed", "err", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.lifecycleLoop(ctx, logger)
		}()
	}

	<-ctx.Done()

	for _, f := range s.Feeds {
		if err := f.Close(); err != nil {
			logger.Warn("feed close error", "err", err)
		}
	}
	wg.Wait()
	return nil
}

func (s *Supervisor) pollLoop(ctx context.Context, logger *slog.Logger) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnceLogged(ctx, logger)
		}
	}
}

func (s *Supervisor) runOnceLogged(ctx context.Context, logger *slog.Logger) {
	stats, err := s.Orchestrator.RunOnce(ctx, time.Now())
	if err != nil {
		logger.Error("run_once failed", "err", err)
		return
	}
	logger.Info("run_once complete",
		"markets", stats.MarketsSeen, "signals", stats.SignalsEmitted,
		"orders", stats.OrdersSubmitted, "arb", stats.ArbOpportunities,
		"alerts", stats.AlertsSent, "weather_gate_blocked", stats.WeatherGateBlocked)
}

// healthAuditLoop compares each target's live WS best-yes-ask against a
// fresh REST read every 60s, alerting when they disagree by more than 2
// cents -- a sign the WS book has drifted from the exchange's truth.
func (s *Supervisor) healthAuditLoop(ctx context.Context, logger *slog.Logger) {
	if len(s.HealthAuditTargets) == 0 || s.Client == nil {
		return
	}
	ticker := time.NewTicker(healthAuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auditOnce(ctx, logger)
		}
	}
}

func (s *Supervisor) auditOnce(ctx context.Context, logger *slog.Logger) {
	for _, target := range s.HealthAuditTargets {
		wsBook, err := s.PriceProvider.GetKalshiOrderbook(ctx, target.Ticker)
		if err != nil || wsBook == nil {
			continue
		}
		wsAsk, ok := wsBook.BestYesAsk()
		if !ok {
			continue
		}

		restMarket, err := s.Client.GetMarket(ctx, target.Ticker)
		if err != nil {
			continue
		}
		restAsk := restMarket.YesAsk
		if math.Abs(float64(wsAsk-restAsk)) > healthAuditAlertCents {
			logger.Warn("health_audit_mismatch", "ticker", target.Ticker, "ws_yes_ask", wsAsk, "rest_yes_ask", restAsk)
		}
	}
}

// lifecycleLoop drains the Kalshi feed's lifecycle channel on its own
// task, per spec.md's callback-list redesign note: lifecycle delivery
// must never reenter the feed's own message-handling goroutine. Any
// ticker matching a configured series prefix is auto-subscribed for
// orderbook and ticker updates.
func (s *Supervisor) lifecycleLoop(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.KalshiFeed.Lifecycle():
			if !ok {
				return
			}
			if !s.matchesTrackedPrefix(ev.Ticker) {
				continue
			}
			if err := s.KalshiFeed.SubscribeMarket(ev.Ticker); err != nil {
				logger.Warn("kalshi auto-subscribe failed", "ticker", ev.Ticker, "err", err)
			}
		}
	}
}

func (s *Supervisor) matchesTrackedPrefix(ticker string) bool {
	if len(s.TickerPrefixes) == 0 {
		return true
	}
	for _, prefix := range s.TickerPrefixes {
		if prefix != "" && strings.HasPrefix(ticker, prefix) {
			return true
		}
	}
	return false
}

func (s *Supervisor) commandLoop(ctx context.Context, logger *slog.Logger) {
	if s.Commands == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-s.Commands:
			if !ok {
				return
			}
			s.applyCommand(cmd, logger)
		}
	}
}

func (s *Supervisor) applyCommand(cmd Command, logger *slog.Logger) {
	switch cmd.Kind {
	case "pause":
		s.Orchestrator.Pause()
	case "resume":
		s.Orchestrator.Resume()
	case "mode":
		s.Orchestrator.RequestModeChange(cmd.Mode)
	case "confirm-mode":
		if applied, ok := s.Orchestrator.ConfirmPendingMode(); ok {
			logger.Info("mode_confirmed", "mode", applied)
		}
	default:
		logger.Warn("unknown_command", "kind", cmd.Kind)
	}
}
