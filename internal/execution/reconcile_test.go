package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sdibella/kalshi-signal-bot/internal/domain"
	"github.com/sdibella/kalshi-signal-bot/internal/kalshi"
	"github.com/sdibella/kalshi-signal-bot/internal/store"
)

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.OrderStatus
		ok   bool
	}{
		{"resting", domain.OrderSubmitted, true},
		{"open", domain.OrderSubmitted, true},
		{"pending", domain.OrderSubmitted, true},
		{"partially_filled", domain.OrderPartiallyFilled, true},
		{"partially-filled", domain.OrderPartiallyFilled, true},
		{"executed", domain.OrderFilled, true},
		{"matched", domain.OrderFilled, true},
		{"cancelled", domain.OrderCanceled, true},
		{"expired", domain.OrderCanceled, true},
		{"rejected", domain.OrderFailed, true},
		{"something_else", "", false},
	}
	for _, tc := range cases {
		got, ok := normalizeStatus(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		if ok {
			require.Equal(t, tc.want, got, tc.raw)
		}
	}
}

func TestOrderStatusFromRawShapes(t *testing.T) {
	s, ok := orderStatusFromRaw([]byte(`{"status":"resting"}`))
	require.True(t, ok)
	require.Equal(t, "resting", s)

	s, ok = orderStatusFromRaw([]byte(`{"order":{"order_status":"filled"}}`))
	require.True(t, ok)
	require.Equal(t, "filled", s)

	_, ok = orderStatusFromRaw([]byte(`{"unrelated":1}`))
	require.False(t, ok)
}

func TestQueuePositionForShapes(t *testing.T) {
	pos, ok := queuePositionFor([]byte(`{"ext-1":{"queue_position":7}}`), "ext-1", "")
	require.True(t, ok)
	require.Equal(t, 7, pos)

	body := []byte(`{"queue_positions":[{"order_id":"ext-2","queue_position":3},{"ticker":"KXBTC-1","position":9}]}`)
	pos, ok = queuePositionFor(body, "ext-2", "")
	require.True(t, ok)
	require.Equal(t, 3, pos)

	pos, ok = queuePositionFor(body, "missing", "KXBTC-1")
	require.True(t, ok)
	require.Equal(t, 9, pos)

	_, ok = queuePositionFor(body, "missing", "")
	require.False(t, ok)
}

// reconcileFake scripts the order-status and queue-position payloads the
// engine sees during a reconciliation pass.
type reconcileFake struct {
	statusBody []byte
	queueBody  []byte
	queueErr   bool
	canceled   []string
	created    []kalshi.OrderRequest
}

func (f *reconcileFake) CreateOrder(ctx context.Context, req kalshi.OrderRequest) (*kalshi.Order, error) {
	f.created = append(f.created, req)
	return &kalshi.Order{OrderID: "ext-new", Status: "resting"}, nil
}

func (f *reconcileFake) CancelOrder(ctx context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *reconcileFake) GetOrderRaw(ctx context.Context, orderID string) ([]byte, error) {
	return f.statusBody, nil
}

func (f *reconcileFake) GetOrderQueuePositionsRaw(ctx context.Context, orderIDs []string) ([]byte, error) {
	if f.queueErr {
		return nil, errors.New("queue positions unavailable")
	}
	return f.queueBody, nil
}

func submittedOrder(st store.Store, ticker string, price int, createdAt time.Time) domain.PaperOrder {
	order := domain.PaperOrder{
		ID:              uuid.New(),
		MarketTicker:    ticker,
		SignalType:      domain.SignalBTC,
		Direction:       string(domain.DirectionBuyYes),
		Side:            domain.SideYes,
		Count:           5,
		LimitPriceCents: price,
		Provider:        domain.ProviderSandbox,
		Status:          domain.OrderSubmitted,
		ExternalOrderID: "ext-1",
		CreatedAt:       createdAt,
	}
	_ = st.InsertPaperTradeOrder(context.Background(), order)
	return order
}

func TestReconcileAppliesTerminalStatus(t *testing.T) {
	ctx := context.Background()
	st := store.New(nil)
	now := time.Now().UTC()
	submittedOrder(st, "KXBTC-1", 40, now.Add(-time.Hour))

	fake := &reconcileFake{statusBody: []byte(`{"order":{"status":"canceled"}}`)}
	eng := NewEngine(Config{QueueManagementEnabled: true}, st, fake)

	result, err := eng.Reconcile(ctx, now, nil, nil, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 1, result.Checked)
	require.Equal(t, 1, result.Transitioned)

	orders, err := st.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, domain.OrderCanceled, orders[0].Status)

	// A second pass sees no open orders: terminal states never reopen.
	result, err = eng.Reconcile(ctx, now.Add(time.Minute), nil, nil, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 0, result.Checked)
}

func TestReconcileRepricesDeepStaleOrder(t *testing.T) {
	ctx := context.Background()
	st := store.New(nil)
	now := time.Now().UTC()
	submittedOrder(st, "KXBTC-1", 38, now.Add(-30*time.Minute))

	fake := &reconcileFake{
		statusBody: []byte(`{"status":"resting"}`),
		queueBody:  []byte(`{"queue_positions":[{"order_id":"ext-1","queue_position":42}]}`),
	}
	eng := NewEngine(Config{
		Pricing:                PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99},
		QueueManagementEnabled: true,
		QueueMaxDepth:          10,
		QueueStaleMinutes:      15,
		RepriceEnabled:         true,
		RepriceCooldownMinutes: 10,
		RepriceMaxPerWindow:    3,
	}, st, fake)

	directions := map[string]domain.Direction{"KXBTC-1": domain.DirectionBuyYes}
	books := Books{"KXBTC-1": testBook(40, 45)}

	result, err := eng.Reconcile(ctx, now, directions, books, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 1, result.Repriced)
	require.Equal(t, []string{"ext-1"}, fake.canceled)
	require.Len(t, fake.created, 1)
	require.Equal(t, 41, fake.created[0].YesPrice, "replacement should rest at bid+1")

	orders, err := st.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// No further reprice fires on the immediate next pass.
	result, err = eng.Reconcile(ctx, now.Add(time.Minute), directions, books, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 0, result.Repriced)
}

func TestReconcileSkipsRepriceWhenDirectionFlipped(t *testing.T) {
	ctx := context.Background()
	st := store.New(nil)
	now := time.Now().UTC()
	submittedOrder(st, "KXBTC-1", 38, now.Add(-30*time.Minute))

	fake := &reconcileFake{
		statusBody: []byte(`{"status":"resting"}`),
		queueBody:  []byte(`{"queue_positions":[{"order_id":"ext-1","queue_position":42}]}`),
	}
	eng := NewEngine(Config{
		Pricing:                PricingConfig{MakerOnly: true, MinPriceCents: 1, MaxPriceCents: 99},
		QueueManagementEnabled: true,
		QueueMaxDepth:          10,
		QueueStaleMinutes:      15,
		RepriceEnabled:         true,
	}, st, fake)

	directions := map[string]domain.Direction{"KXBTC-1": domain.DirectionBuyNo}
	books := Books{"KXBTC-1": testBook(40, 45)}

	result, err := eng.Reconcile(ctx, now, directions, books, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 0, result.Repriced)
	require.Empty(t, fake.canceled)
}

// eventCountingStore wraps a Store and records every order event appended,
// so tests can assert on event cadence the interface doesn't expose.
type eventCountingStore struct {
	store.Store
	events []domain.OrderEvent
}

func (s *eventCountingStore) InsertOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	s.events = append(s.events, event)
	return s.Store.InsertOrderEvent(ctx, event)
}

func countDetails(events []domain.OrderEvent, prefix string) int {
	n := 0
	for _, e := range events {
		if len(e.Details) >= len(prefix) && e.Details[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func TestReconcileQueueEventOnlyOnPositionChange(t *testing.T) {
	ctx := context.Background()
	st := &eventCountingStore{Store: store.New(nil)}
	now := time.Now().UTC()
	submittedOrder(st, "KXBTC-1", 38, now.Add(-time.Hour))

	fake := &reconcileFake{
		statusBody: []byte(`{"status":"resting"}`),
		queueBody:  []byte(`{"queue_positions":[{"order_id":"ext-1","queue_position":7}]}`),
	}
	eng := NewEngine(Config{QueueManagementEnabled: true}, st, fake)

	for i := 0; i < 3; i++ {
		_, err := eng.Reconcile(ctx, now.Add(time.Duration(i)*time.Minute), nil, nil, Portfolio{}, domain.ProviderSandbox)
		require.NoError(t, err)
	}
	require.Equal(t, 1, countDetails(st.events, "queue_position_refreshed"),
		"identical queue positions across passes must not stack events")

	fake.queueBody = []byte(`{"queue_positions":[{"order_id":"ext-1","queue_position":9}]}`)
	_, err := eng.Reconcile(ctx, now.Add(10*time.Minute), nil, nil, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 2, countDetails(st.events, "queue_position_refreshed"))
}

func TestReconcileQueueFetchFailureAppendsEvent(t *testing.T) {
	ctx := context.Background()
	st := &eventCountingStore{Store: store.New(nil)}
	now := time.Now().UTC()
	submittedOrder(st, "KXBTC-1", 38, now.Add(-time.Hour))

	fake := &reconcileFake{
		statusBody: []byte(`{"status":"resting"}`),
		queueErr:   true,
	}
	eng := NewEngine(Config{QueueManagementEnabled: true}, st, fake)

	_, err := eng.Reconcile(ctx, now, nil, nil, Portfolio{}, domain.ProviderSandbox)
	require.NoError(t, err)
	require.Equal(t, 1, countDetails(st.events, "queue_refresh_failed"))
}
