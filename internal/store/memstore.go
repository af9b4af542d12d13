package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/journal"
)

// logSink is the subset of *journal.Journal memstore needs; tests inject
// a no-op so they don't touch the filesystem.
type logSink interface {
	Log(event any) error
}

type noopSink struct{}

func (noopSink) Log(any) error { return nil }

// memstore is the in-memory reference Store: mutex-guarded slices/maps,
// every mutating call also appended to a journal line. Used by
// orchestrator tests and as the default backing store in -dry-run.
type memstore struct {
	mu sync.RWMutex
	j  logSink

	markets     map[string]domain.Market
	snapshots   map[string]domain.MarketSnapshot // key: ticker|ts
	spotTicks   []domain.SpotTick
	ensemble    []domain.EnsembleSample
	signals     []domain.Signal
	resolutions map[string]domain.Resolution
	orders      map[uuid.UUID]domain.PaperOrder
	orderEvents map[uuid.UUID][]domain.OrderEvent
	arbs        []arbRecord
	alerts      []domain.AlertEvent
}

type arbRecord struct {
	opp      domain.BracketArbOpportunity
	executed bool
}

// New builds an in-memory Store. j may be nil to skip journaling (e.g. in
// unit tests); otherwise pass a *journal.Journal.
func New(j *journal.Journal) Store {
	var sink logSink = noopSink{}
	if j != nil {
		sink = j
	}
	return &memstore{
		j:           sink,
		markets:     make(map[string]domain.Market),
		snapshots:   make(map[string]domain.MarketSnapshot),
		resolutions: make(map[string]domain.Resolution),
		orders:      make(map[uuid.UUID]domain.PaperOrder),
		orderEvents: make(map[uuid.UUID][]domain.OrderEvent),
	}
}

func (m *memstore) UpsertMarkets(_ context.Context, markets []domain.Market) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mk := range markets {
		m.markets[mk.Ticker] = mk
		n++
		_ = m.j.Log(journal.NewEntryUpserted("market", mk.Ticker))
	}
	return n, nil
}

func (m *memstore) InsertSnapshots(_ context.Context, snapshots []domain.MarketSnapshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range snapshots {
		key := s.Ticker + "|" + s.Ts.UTC().Format(time.RFC3339Nano)
		if _, exists := m.snapshots[key]; exists {
			continue
		}
		m.snapshots[key] = s
		n++
	}
	return n, nil
}

func (m *memstore) InsertSpotTicks(_ context.Context, ticks []domain.SpotTick) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range ticks {
		if m.hasSpotTick(t) {
			continue
		}
		m.spotTicks = append(m.spotTicks, t)
		n++
	}
	return n, nil
}

func (m *memstore) hasSpotTick(t domain.SpotTick) bool {
	for _, existing := range m.spotTicks {
		if existing.Ts.Equal(t.Ts) && existing.Source == t.Source && existing.Symbol == t.Symbol {
			return true
		}
	}
	return false
}

func (m *memstore) InsertEnsembleSamples(_ context.Context, samples []domain.EnsembleSample) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range samples {
		dup := false
		for _, existing := range m.ensemble {
			if existing.CollectedAt.Equal(s.CollectedAt) && existing.TargetDate.Equal(s.TargetDate) &&
				existing.Model == s.Model && existing.Member == s.Member {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.ensemble = append(m.ensemble, s)
		n++
	}
	return n, nil
}

func (m *memstore) InsertSignals(_ context.Context, signals []domain.Signal) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range signals {
		m.signals = append(m.signals, s)
		_ = m.j.Log(journal.NewSignalEmitted(s.Ticker, string(s.Type), string(s.Direction), s.EdgeBps))
	}
	return len(signals), nil
}

func (m *memstore) UpsertResolutions(_ context.Context, resolutions []domain.Resolution) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range resolutions {
		m.resolutions[r.Ticker] = r
		n++
		_ = m.j.Log(journal.NewEntryUpserted("resolution", r.Ticker))
	}
	return n, nil
}

func (m *memstore) InsertPaperTradeOrder(_ context.Context, order domain.PaperOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	ev := domain.OrderEvent{OrderID: order.ID, Ts: order.CreatedAt, Status: order.Status, Details: order.Reason}
	m.orderEvents[order.ID] = append(m.orderEvents[order.ID], ev)
	_ = m.j.Log(journal.NewOrderInserted(order.ID.String(), order.MarketTicker, string(order.Side), order.Count, order.LimitPriceCents, string(order.Status)))
	return nil
}

func (m *memstore) InsertOrderEvent(_ context.Context, event domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderEvents[event.OrderID] = append(m.orderEvents[event.OrderID], event)
	_ = m.j.Log(journal.NewOrderEventAppended(event.OrderID.String(), string(event.Status), event.Details))
	return nil
}

func (m *memstore) UpdatePaperTradeOrderStatus(_ context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil
	}
	order.Status = status
	m.orders[orderID] = order
	return nil
}

func (m *memstore) InsertArbOpportunity(_ context.Context, opp domain.BracketArbOpportunity, executed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arbs = append(m.arbs, arbRecord{opp: opp, executed: executed})
	_ = m.j.Log(journal.NewArbRecorded(opp.EventKey, string(opp.ArbType), opp.ProfitAfterFeesCents, executed))
	return nil
}

func (m *memstore) InsertAlertEvent(_ context.Context, event domain.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, event)
	_ = m.j.Log(journal.NewAlertRecorded(event.Kind, event.Status))
	return nil
}

func (m *memstore) GetLatestSpotTick(_ context.Context, source domain.SpotSource, symbol string, now time.Time) (*SpotTickRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.SpotTick
	for i := range m.spotTicks {
		t := m.spotTicks[i]
		if t.Source != source || t.Symbol != symbol {
			continue
		}
		if latest == nil || t.Ts.After(latest.Ts) {
			tc := t
			latest = &tc
		}
	}
	if latest == nil {
		return nil, nil
	}
	age := now.Sub(latest.Ts).Seconds()
	if age < 0 {
		age = 0
	}
	return &SpotTickRef{Tick: *latest, AgeSeconds: age}, nil
}

func (m *memstore) GetRecentSpotTicks(_ context.Context, symbol string, since time.Time) ([]domain.SpotTick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SpotTick
	for _, t := range m.spotTicks {
		if t.Symbol == symbol && !t.Ts.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

func (m *memstore) RecentSignals(_ context.Context, limit int) ([]domain.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.signals, limit), nil
}

func (m *memstore) RecentOrders(_ context.Context, limit int) ([]domain.PaperOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]domain.PaperOrder, 0, len(m.orders))
	for _, o := range m.orders {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return lastN(all, limit), nil
}

func (m *memstore) OpenOrdersSince(_ context.Context, since time.Time) ([]domain.PaperOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PaperOrder
	for _, o := range m.orders {
		if o.CreatedAt.Before(since) {
			continue
		}
		if o.Status == domain.OrderSubmitted || o.Status == domain.OrderPartiallyFilled {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memstore) OpenPositionsRollup(_ context.Context) ([]OpenPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct {
		ticker string
		side   domain.OrderSide
	}
	acc := map[key]*OpenPosition{}
	for _, o := range m.orders {
		if o.Status != domain.OrderSubmitted && o.Status != domain.OrderPartiallyFilled {
			continue
		}
		k := key{ticker: o.MarketTicker, side: o.Side}
		p, ok := acc[k]
		if !ok {
			p = &OpenPosition{Ticker: o.MarketTicker, Side: o.Side}
			acc[k] = p
		}
		totalPriceWeighted := p.AveragePrice*float64(p.TotalCount) + float64(o.LimitPriceCents)*float64(o.Count)
		p.TotalCount += o.Count
		if p.TotalCount > 0 {
			p.AveragePrice = totalPriceWeighted / float64(p.TotalCount)
		}
	}
	out := make([]OpenPosition, 0, len(acc))
	for _, p := range acc {
		out = append(out, *p)
	}
	return out, nil
}

// CalibrationCurve buckets signals with a known resolution into `bins`
// equal-width probability buckets, per the 10-bin width_bucket reference.
func (m *memstore) CalibrationCurve(_ context.Context, bins int) ([]CalibrationBin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bins <= 0 {
		bins = 10
	}
	type acc struct {
		sumPredicted float64
		sumActual    float64
		count        int
	}
	buckets := make([]acc, bins)
	width := 1.0 / float64(bins)

	for _, s := range m.signals {
		res, ok := m.resolutions[s.Ticker]
		if !ok || res.Result == domain.ResultUnknown {
			continue
		}
		idx := int(s.ModelProb / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		actual := 0.0
		if res.Result == domain.ResultYes {
			actual = 1.0
		}
		buckets[idx].sumPredicted += s.ModelProb
		buckets[idx].sumActual += actual
		buckets[idx].count++
	}

	out := make([]CalibrationBin, 0, bins)
	for i, b := range buckets {
		if b.count == 0 {
			continue
		}
		out = append(out, CalibrationBin{
			BucketLow:     float64(i) * width,
			BucketHigh:    float64(i+1) * width,
			PredictedMean: b.sumPredicted / float64(b.count),
			ActualMean:    b.sumActual / float64(b.count),
			Count:         b.count,
		})
	}
	return out, nil
}

// logLossClampMin/Max standardize the clamp bounds per the resolved Open
// Question: [1e-6, 1-1e-6] uniformly, not the store's GREATEST/LEAST
// variant.
const (
	logLossClampMin = 1e-6
	logLossClampMax = 1 - 1e-6
)

func (m *memstore) AccuracyMetrics(_ context.Context) (AccuracyMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var brierSum, logLossSum, edgeRelSum, pnlSum float64
	var hits, n int

	for _, s := range m.signals {
		res, ok := m.resolutions[s.Ticker]
		if !ok || res.Result == domain.ResultUnknown {
			continue
		}
		actual := 0.0
		if res.Result == domain.ResultYes {
			actual = 1.0
		}
		p := s.ModelProb
		brierSum += (p - actual) * (p - actual)

		clamped := math.Min(logLossClampMax, math.Max(logLossClampMin, p))
		if actual >= 0.5 {
			logLossSum -= math.Log(clamped)
		} else {
			logLossSum -= math.Log(1 - clamped)
		}

		predictedDir := actual >= 0.5
		signalDir := s.Direction == domain.DirectionBuyYes
		if predictedDir == signalDir {
			hits++
		}
		edgeRelSum += math.Abs(s.EdgeBps)

		pnl := signalPnLCents(s, res)
		pnlSum += pnl
		n++
	}

	if n == 0 {
		return AccuracyMetrics{}, nil
	}
	avgPnL := pnlSum / float64(n)
	return AccuracyMetrics{
		Brier:           brierSum / float64(n),
		LogLoss:         logLossSum / float64(n),
		EdgeReliability: edgeRelSum / float64(n),
		HitRate:         float64(hits) / float64(n),
		AvgPnLCents:     avgPnL,
		TotalPnLCents:   pnlSum,
		SampleCount:     n,
		// Proxy only, see AccuracyMetrics.SharpeRatio.
		SharpeRatio: (avgPnL / 100) * math.Sqrt(float64(n)),
	}, nil
}

// signalPnLCents computes per-contract PnL using the signal's market
// probability at emission time and its direction, per §3's
// PredictionAccuracy derivation.
func signalPnLCents(s domain.Signal, res domain.Resolution) float64 {
	marketPriceCents := s.MarketProb * 100
	won := (s.Direction == domain.DirectionBuyYes && res.Result == domain.ResultYes) ||
		(s.Direction == domain.DirectionBuyNo && res.Result == domain.ResultNo)
	if s.Direction == domain.DirectionFlat {
		return 0
	}
	if won {
		return 100 - marketPriceCents
	}
	return -marketPriceCents
}

func (m *memstore) FillMetrics(_ context.Context) (FillMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var filled, total int
	var fillMinutesSum float64
	var fillCount int
	for _, o := range m.orders {
		if o.Status == domain.OrderSimulated {
			continue
		}
		total++
		if o.Status == domain.OrderFilled {
			filled++
			events := m.orderEvents[o.ID]
			if len(events) > 0 {
				delta := events[len(events)-1].Ts.Sub(o.CreatedAt).Minutes()
				fillMinutesSum += delta
				fillCount++
			}
		}
	}
	if total == 0 {
		return FillMetrics{}, nil
	}
	avgMinutes := 0.0
	if fillCount > 0 {
		avgMinutes = fillMinutesSum / float64(fillCount)
	}
	return FillMetrics{FillRate: float64(filled) / float64(total), AvgFillMinutes: avgMinutes}, nil
}

func (m *memstore) WeatherBacktestRows(_ context.Context) ([]WeatherBacktestRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := map[string]domain.Signal{}
	for _, s := range m.signals {
		if s.Type != domain.SignalWeather {
			continue
		}
		key := s.CreatedAt.UTC().Format("2006-01-02") + "|" + s.Ticker
		if existing, ok := latest[key]; !ok || s.CreatedAt.After(existing.CreatedAt) {
			latest[key] = s
		}
	}
	out := make([]WeatherBacktestRow, 0, len(latest))
	for _, s := range latest {
		res := m.resolutions[s.Ticker]
		out = append(out, WeatherBacktestRow{
			Date:              s.CreatedAt,
			Ticker:            s.Ticker,
			Probability:       s.ModelProb,
			MarketProbability: s.MarketProb,
			Result:            res.Result,
		})
	}
	return out, nil
}

func (m *memstore) EstimateFillProbability(_ context.Context, tickerPrefix string, lookbackDays int, priceCents int, minSamples int) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)
	var filled, partial, canceled, failed int
	for _, o := range m.orders {
		if o.CreatedAt.Before(cutoff) {
			continue
		}
		if len(tickerPrefix) > 0 && !hasPrefix(o.MarketTicker, tickerPrefix) {
			continue
		}
		if o.LimitPriceCents < priceCents-10 || o.LimitPriceCents > priceCents+10 {
			continue
		}
		switch o.Status {
		case domain.OrderFilled:
			filled++
		case domain.OrderPartiallyFilled:
			partial++
		case domain.OrderCanceled:
			canceled++
		case domain.OrderFailed:
			failed++
		}
	}
	total := filled + partial + canceled + failed
	if total == 0 || total < minSamples {
		return 0, false, nil
	}
	return float64(filled+partial) / float64(total), true, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func lastN[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}
