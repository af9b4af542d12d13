package execution

import (
	"context"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/google/uuid"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
)

// normalizeStatus maps the various vendor spellings of an order's lifecycle
// state onto the fixed domain.OrderStatus set.
func normalizeStatus(raw string) (domain.OrderStatus, bool) {
	switch raw {
	case "resting", "open", "pending", "submitted":
		return domain.OrderSubmitted, true
	case "partially_filled", "partially-filled":
		return domain.OrderPartiallyFilled, true
	case "filled", "executed", "complete", "completed", "matched":
		return domain.OrderFilled, true
	case "canceled", "cancelled", "expired", "voided":
		return domain.OrderCanceled, true
	case "failed", "rejected", "error":
		return domain.OrderFailed, true
	default:
		return "", false
	}
}

// orderStatusFromRaw walks a raw order-status payload for the status
// string, trying the flat key first and falling back to a nested "order"
// object, since the vendor has used both shapes across API versions.
func orderStatusFromRaw(body []byte) (string, bool) {
	js, err := simplejson.NewJson(body)
	if err != nil {
		return "", false
	}
	for _, key := range []string{"status", "order_status"} {
		if s, err := js.Get(key).String(); err == nil && s != "" {
			return s, true
		}
	}
	order := js.Get("order")
	for _, key := range []string{"status", "order_status"} {
		if s, err := order.Get(key).String(); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

// queuePositionFor walks the queue-position payload for orderID, which may
// appear as a top-level map keyed by order id, or as an array of entries
// each carrying one of order_id/id/ticker.
func queuePositionFor(body []byte, orderID, ticker string) (int, bool) {
	js, err := simplejson.NewJson(body)
	if err != nil {
		return 0, false
	}

	if entry, ok := js.CheckGet(orderID); ok {
		return intFromEntry(entry)
	}

	if arr, err := js.Get("queue_positions").Array(); err == nil {
		for i := range arr {
			entry := js.Get("queue_positions").GetIndex(i)
			id, _ := entry.Get("order_id").String()
			if id == "" {
				id, _ = entry.Get("id").String()
			}
			tk, _ := entry.Get("ticker").String()
			if id == orderID || (ticker != "" && tk == ticker) {
				return intFromEntry(entry)
			}
		}
	}
	return 0, false
}

func intFromEntry(entry *simplejson.Json) (int, bool) {
	if n, err := entry.Int(); err == nil {
		return n, true
	}
	if n, err := entry.Get("queue_position").Int(); err == nil {
		return n, true
	}
	if n, err := entry.Get("position").Int(); err == nil {
		return n, true
	}
	return 0, false
}

// ReconcileResult summarizes one reconciliation pass for logging.
type ReconcileResult struct {
	Checked      int
	Transitioned int
	Repriced     int
}

// Reconcile refreshes order status for every submitted/partially-filled
// order placed within the last 24h, recording a transition event whenever
// status or queue position changes, and reprices orders that have sat too
// deep in the queue for too long. currentDirection reports, for a
// ticker, the direction a reprice replacement order should target — a
// reprice only fires when the live signal still agrees with the resting
// order's direction.
func (e *Engine) Reconcile(ctx context.Context, now time.Time, currentDirection map[string]domain.Direction, books Books, port Portfolio, provider domain.OrderProvider) (ReconcileResult, error) {
	var result ReconcileResult
	if e.client == nil {
		return result, nil
	}

	since := now.Add(-24 * time.Hour)
	open, err := e.store.OpenOrdersSince(ctx, since)
	if err != nil {
		return result, err
	}

	var stillOpen []domain.PaperOrder
	for _, order := range open {
		if order.Status.Terminal() || order.ExternalOrderID == "" {
			continue
		}
		result.Checked++

		body, err := e.client.GetOrderRaw(ctx, order.ExternalOrderID)
		if err != nil {
			_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
				OrderID: order.ID, Ts: now, Status: order.Status,
				Details: "status_check_failed: " + err.Error(),
			})
			stillOpen = append(stillOpen, order)
			continue
		}

		raw, ok := orderStatusFromRaw(body)
		if !ok {
			stillOpen = append(stillOpen, order)
			continue
		}
		status, ok := normalizeStatus(raw)
		if !ok {
			stillOpen = append(stillOpen, order)
			continue
		}

		if status != order.Status {
			if err := e.store.UpdatePaperTradeOrderStatus(ctx, order.ID, status); err == nil {
				_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
					OrderID: order.ID, Ts: now, Status: status,
					Details: "status_transition: " + string(order.Status) + " -> " + string(status),
				})
				result.Transitioned++
			}
			order.Status = status
		}
		if status.Terminal() {
			e.forgetQueuePosition(order.ID)
			continue
		}
		stillOpen = append(stillOpen, order)
	}

	if !e.cfg.QueueManagementEnabled || len(stillOpen) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(stillOpen))
	for _, o := range stillOpen {
		ids = append(ids, o.ExternalOrderID)
	}
	qBody, err := e.client.GetOrderQueuePositionsRaw(ctx, ids)
	if err != nil {
		for _, order := range stillOpen {
			_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
				OrderID: order.ID, Ts: now, Status: order.Status,
				Details: "queue_refresh_failed: " + err.Error(),
			})
		}
		return result, nil
	}

	for _, order := range stillOpen {
		pos, ok := queuePositionFor(qBody, order.ExternalOrderID, order.MarketTicker)
		if !ok {
			continue
		}
		// Only an actual position change produces a new resting event;
		// identical refreshes across passes stay silent.
		if e.queuePositionChanged(order.ID, pos) {
			qp := pos
			_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
				OrderID: order.ID, Ts: now, Status: order.Status, QueuePosition: &qp,
				Details: "queue_position_refreshed",
			})
		}

		if e.repriceOrder(ctx, now, order, pos, currentDirection, books, port, provider) {
			result.Repriced++
		}
	}
	return result, nil
}

func (e *Engine) queuePositionChanged(orderID uuid.UUID, pos int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastQueuePos == nil {
		e.lastQueuePos = make(map[uuid.UUID]int)
	}
	if last, ok := e.lastQueuePos[orderID]; ok && last == pos {
		return false
	}
	e.lastQueuePos[orderID] = pos
	return true
}

func (e *Engine) forgetQueuePosition(orderID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastQueuePos, orderID)
}

func (e *Engine) repriceOrder(ctx context.Context, now time.Time, order domain.PaperOrder, queuePosition int, currentDirection map[string]domain.Direction, books Books, port Portfolio, provider domain.OrderProvider) bool {
	if !e.cfg.RepriceEnabled || queuePosition <= e.cfg.QueueMaxDepth {
		return false
	}
	if now.Sub(order.CreatedAt) < time.Duration(e.cfg.QueueStaleMinutes)*time.Minute {
		return false
	}
	direction, ok := currentDirection[order.MarketTicker]
	if !ok || string(direction) != order.Direction {
		return false
	}
	if e.onRepriceCooldown(order.MarketTicker, now) {
		return false
	}
	if e.repriceWindowExceeded(order.MarketTicker, now) {
		return false
	}

	book := books[order.MarketTicker]
	if book == nil {
		return false
	}
	var bestBid, bestAsk *int
	if order.Side == domain.SideYes {
		if v, ok := book.BestYesBid(); ok {
			bestBid = &v
		}
		if v, ok := book.BestYesAsk(); ok {
			bestAsk = &v
		}
	} else {
		if v, ok := book.BestNoBid(); ok {
			bestBid = &v
		}
		if v, ok := book.BestNoAsk(); ok {
			bestAsk = &v
		}
	}
	newPrice, ok := MakerPrice(bestBid, bestAsk, e.cfg.Pricing)
	if !ok || newPrice == order.LimitPriceCents {
		return false
	}

	if err := e.client.CancelOrder(ctx, order.ExternalOrderID); err != nil {
		_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
			OrderID: order.ID, Ts: now, Status: order.Status,
			Details: "reprice_cancel_failed: " + err.Error(),
		})
		return false
	}
	_ = e.store.UpdatePaperTradeOrderStatus(ctx, order.ID, domain.OrderCanceled)
	_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
		OrderID: order.ID, Ts: now, Status: domain.OrderCanceled, Details: "reprice_canceled",
	})

	replacement := domain.PaperOrder{
		ID:              uuid.New(),
		MarketTicker:    order.MarketTicker,
		SignalType:      order.SignalType,
		Direction:       order.Direction,
		Side:            order.Side,
		Count:           order.Count,
		LimitPriceCents: newPrice,
		Provider:        provider,
		Status:          domain.OrderSimulated,
		Reason:          "reprice of " + order.ID.String(),
		CreatedAt:       now,
	}
	e.submit(ctx, &replacement, provider)
	if err := e.store.InsertPaperTradeOrder(ctx, replacement); err == nil {
		_ = e.store.InsertOrderEvent(ctx, domain.OrderEvent{
			OrderID: replacement.ID, Ts: now, Status: replacement.Status, Details: "reprice_submitted",
		})
	}
	e.markRepriceCooldown(order.MarketTicker, now)
	e.recordRepriceWindow(order.MarketTicker, now)
	return true
}

// repriceWindowExceeded caps reprices per ticker to RepriceMaxPerWindow
// within a rolling hour, independent of the shorter per-reprice cooldown.
func (e *Engine) repriceWindowExceeded(ticker string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.RepriceMaxPerWindow <= 0 {
		return false
	}
	if e.repriceHistory == nil {
		e.repriceHistory = make(map[string][]time.Time)
	}
	window := time.Hour
	history := e.repriceHistory[ticker]
	kept := history[:0]
	for _, ts := range history {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	e.repriceHistory[ticker] = kept
	return len(kept) >= e.cfg.RepriceMaxPerWindow
}

func (e *Engine) recordRepriceWindow(ticker string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repriceHistory == nil {
		e.repriceHistory = make(map[string][]time.Time)
	}
	e.repriceHistory[ticker] = append(e.repriceHistory[ticker], now)
}

func (e *Engine) onRepriceCooldown(ticker string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repriceCooldowns == nil {
		return false
	}
	last, ok := e.repriceCooldowns[ticker]
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(e.cfg.RepriceCooldownMinutes)*time.Minute
}

func (e *Engine) markRepriceCooldown(ticker string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repriceCooldowns == nil {
		e.repriceCooldowns = make(map[string]time.Time)
	}
	e.repriceCooldowns[ticker] = now
}
