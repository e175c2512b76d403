package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdesk/internal/broker"
	"riskdesk/internal/domain"
	"riskdesk/internal/quote"
)

type memJournal struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (j *memJournal) SaveEvent(_ context.Context, ev domain.OrderEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) ListEvents(_ context.Context, orderID int64, _ int) ([]domain.OrderEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.OrderEvent
	for _, ev := range j.events {
		if orderID == 0 || ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (j *memJournal) kinds() []domain.OrderEventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.OrderEventKind
	for _, ev := range j.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	sim     *broker.SimulatorBroker
	engine  *Engine
	journal *memJournal
	events  <-chan domain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := broker.NewSimulatorBroker()
	e := NewEngine(sim, NewRiskManager(DefaultMaxPositionSize, DefaultMaxDailyLoss), nil)
	j := &memJournal{}
	e.SetJournal(j)
	id, ch := sim.Subscribe(64)
	t.Cleanup(func() { sim.Unsubscribe(id) })
	return &fixture{sim: sim, engine: e, journal: j, events: ch}
}

// fill executes an order at the simulator and applies the resulting order
// updates to the engine.
func (f *fixture) fill(t *testing.T, id int64, price float64) {
	t.Helper()
	require.NoError(t, f.sim.Fill(id, price))
	f.drain()
}

func (f *fixture) drain() {
	for {
		select {
		case ev := <-f.events:
			if ev.Kind == domain.EventOrderUpdate {
				f.engine.ApplyOrderUpdate(*ev.Order)
			}
		default:
			return
		}
	}
}

var ctx = context.Background()

func TestPlaceRejectsInvalidOrders(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	cases := []struct {
		name  string
		order domain.Order
	}{
		{"empty symbol", domain.Order{Type: domain.OrderTypeMarket, Side: domain.OrderSideBuy, Qty: 1}},
		{"zero qty", domain.Order{Symbol: "X", Type: domain.OrderTypeMarket, Side: domain.OrderSideBuy}},
		{"negative qty", domain.Order{Symbol: "X", Type: domain.OrderTypeMarket, Side: domain.OrderSideBuy, Qty: -5}},
		{"limit without price", domain.Order{Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy, Qty: 1}},
		{"limit negative price", domain.Order{Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy, Qty: 1, LimitPrice: -1}},
		{"stop without stop", domain.Order{Symbol: "X", Type: domain.OrderTypeStop, Side: domain.OrderSideSell, Qty: 1}},
		{"stop limit missing stop", domain.Order{Symbol: "X", Type: domain.OrderTypeStopLimit, Side: domain.OrderSideBuy, Qty: 1, LimitPrice: 10}},
		{"stop limit missing limit", domain.Order{Symbol: "X", Type: domain.OrderTypeStopLimit, Side: domain.OrderSideBuy, Qty: 1, StopPrice: 10}},
		{"unknown side", domain.Order{Symbol: "X", Type: domain.OrderTypeMarket, Side: "hold", Qty: 1}},
		{"unknown type", domain.Order{Symbol: "X", Type: "iceberg", Side: domain.OrderSideBuy, Qty: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := e.SubmitOrder(ctx, tc.order)
			assert.Zero(t, id)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
	assert.Empty(t, e.AllOrders())

	// Convenience helpers route through the same checks.
	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 0)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	id, err = e.PlaceStopOrder(ctx, "X", domain.OrderSideSell, 1, 0)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	id, err = e.PlaceStopLimitOrder(ctx, "X", domain.OrderSideSell, 1, 10, 0)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	id, err = e.PlaceMarketOrder(ctx, "", domain.OrderSideBuy, 1)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Empty(t, e.AllOrders())
}

func TestNotionalLimitBoundary(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	// 100 * 100 == 10000: equality is accepted.
	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 100, 100)
	require.NoError(t, err)
	assert.Positive(t, id)

	id, err = e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 100, 100.01)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrRiskLimit)
	assert.Len(t, e.AllOrders(), 1)
}

func TestRiskLimitChangesApplyToNextOrder(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	_, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	require.NoError(t, err)

	e.Risk().SetMaxPositionSize(400)
	assert.Equal(t, 400.0, e.Risk().Limits().MaxPositionSize)
	_, err = e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	assert.ErrorIs(t, err, ErrRiskLimit)

	// The earlier order is untouched.
	assert.Len(t, e.OrdersByStatus(domain.OrderStatusSubmitted), 1)
}

func TestMarketOrderNotionalUsesReferencePrice(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	// Without a reference price the notional check does not apply.
	_, err := e.PlaceMarketOrder(ctx, "X", domain.OrderSideBuy, 1_000_000)
	require.NoError(t, err)

	book := quote.NewBook()
	book.Apply(domain.PriceTick{Symbol: "X", Field: domain.TickLast, Price: 50})
	e.Risk().SetReferencePrices(book)

	_, err = e.PlaceMarketOrder(ctx, "X", domain.OrderSideBuy, 200)
	assert.NoError(t, err)
	_, err = e.PlaceMarketOrder(ctx, "X", domain.OrderSideBuy, 201)
	assert.ErrorIs(t, err, ErrRiskLimit)
}

func TestVenueFailureLeavesBookUnchanged(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	f.sim.FailNext(errors.New("connection reset"))
	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrVenueRejected)
	assert.Empty(t, e.AllOrders())
	assert.Equal(t, []domain.OrderEventKind{domain.OrderEventRejected}, f.journal.kinds())
}

func TestPlaceCancelEndToEnd(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	require.NoError(t, err)
	require.Positive(t, id)

	bySymbol := e.OrdersBySymbol("X")
	require.Len(t, bySymbol, 1)
	assert.Equal(t, id, bySymbol[0].ID)
	assert.Equal(t, domain.OrderStatusSubmitted, bySymbol[0].Status)
	assert.Equal(t, 10.0, bySymbol[0].Qty)
	assert.Equal(t, 50.0, bySymbol[0].LimitPrice)
	assert.False(t, bySymbol[0].CreatedAt.IsZero())

	require.NoError(t, e.CancelOrder(ctx, id))
	o, ok := e.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Empty(t, e.OrdersByStatus(domain.OrderStatusSubmitted))
	assert.Len(t, e.OrdersByStatus(domain.OrderStatusCancelled), 1)

	// The venue's own cancelled update is a no-op on a terminal order.
	f.drain()
	o, _ = e.GetOrder(id)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)

	assert.Equal(t, []domain.OrderEventKind{domain.OrderEventAccepted, domain.OrderEventCancelled}, f.journal.kinds())
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
	require.NoError(t, err)
	before := e.AllOrders()

	err = e.CancelOrder(ctx, id+100)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, before, e.AllOrders())

	_, ok := e.GetOrder(id + 100)
	assert.False(t, ok)
}

func TestCancelVenueFailureKeepsStatus(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
	require.NoError(t, err)

	f.sim.FailNext(errors.New("too late to cancel"))
	err = e.CancelOrder(ctx, id)
	assert.ErrorIs(t, err, ErrVenueRejected)
	o, _ := e.GetOrder(id)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
}

func TestCancelAndModifyClosedOrder(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
	require.NoError(t, err)
	f.fill(t, id, 10)

	assert.ErrorIs(t, e.CancelOrder(ctx, id), ErrOrderClosed)
	err = e.ModifyOrder(ctx, id, domain.Order{Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy, Qty: 2, LimitPrice: 10})
	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestModifyPreservesID(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	require.NoError(t, err)
	orig, _ := e.GetOrder(id)

	replacement := domain.Order{
		ID: 424242, Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy,
		Qty: 20, LimitPrice: 49, Status: domain.OrderStatusFilled,
	}
	require.NoError(t, e.ModifyOrder(ctx, id, replacement))

	o, ok := e.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, id, o.ID)
	assert.Equal(t, 20.0, o.Qty)
	assert.Equal(t, 49.0, o.LimitPrice)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
	assert.Equal(t, orig.CreatedAt, o.CreatedAt)
	_, ok = e.GetOrder(424242)
	assert.False(t, ok)

	venue, _ := f.sim.Order(id)
	assert.Equal(t, 20.0, venue.Qty)
}

func TestModifyFailures(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	err := e.ModifyOrder(ctx, 1, domain.Order{Symbol: "X", Type: domain.OrderTypeMarket, Side: domain.OrderSideBuy, Qty: 1})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	require.NoError(t, err)

	err = e.ModifyOrder(ctx, id, domain.Order{Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy, Qty: 0, LimitPrice: 50})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	err = e.ModifyOrder(ctx, id, domain.Order{Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy, Qty: 1000, LimitPrice: 50})
	assert.ErrorIs(t, err, ErrRiskLimit)

	f.sim.FailNext(errors.New("replace rejected"))
	err = e.ModifyOrder(ctx, id, domain.Order{Symbol: "X", Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy, Qty: 5, LimitPrice: 50})
	assert.ErrorIs(t, err, ErrVenueRejected)

	o, _ := e.GetOrder(id)
	assert.Equal(t, 10.0, o.Qty)
}

func TestWinRateAndPnL(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	assert.Zero(t, e.WinRate())
	assert.Zero(t, e.TotalTrades())

	buy, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	require.NoError(t, err)
	// Placement alone is not a trade.
	assert.Zero(t, e.TotalTrades())

	f.fill(t, buy, 50)
	assert.Equal(t, 1, e.TotalTrades())
	assert.Zero(t, e.WinningTrades())

	sell, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideSell, 10, 55)
	require.NoError(t, err)
	f.fill(t, sell, 55)

	assert.Equal(t, 2, e.TotalTrades())
	assert.Equal(t, 1, e.WinningTrades())
	assert.InDelta(t, 0.5, e.WinRate(), 1e-12)
	assert.InDelta(t, 50.0, e.TotalPnL(), 1e-9)
	assert.InDelta(t, 50.0, e.DailyPnL(), 1e-9)

	// A duplicate filled update does not count twice.
	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: sell, Status: domain.OrderStatusFilled, FilledQty: 10, AvgFillPrice: 55})
	assert.Equal(t, 2, e.TotalTrades())

	e.ResetDaily()
	assert.Zero(t, e.DailyPnL())
	assert.InDelta(t, 50.0, e.TotalPnL(), 1e-9)
}

func TestDailyLossLimitBlocksTrading(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	e.Risk().SetMaxDailyLoss(100)

	buy, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 100, 50)
	require.NoError(t, err)
	f.fill(t, buy, 50)
	sell, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideSell, 100, 48)
	require.NoError(t, err)
	f.fill(t, sell, 48)
	require.InDelta(t, -200.0, e.DailyPnL(), 1e-9)

	_, err = e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
	assert.ErrorIs(t, err, ErrRiskLimit)

	e.ResetDaily()
	_, err = e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
	assert.NoError(t, err)
}

func TestApplyOrderUpdate(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	// Unknown ids never enter the book on their own.
	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: 99, Status: domain.OrderStatusFilled})
	assert.Empty(t, e.AllOrders())
	assert.Zero(t, e.TotalTrades())

	id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 10, 50)
	require.NoError(t, err)

	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: id, Status: domain.OrderStatusSubmitted, FilledQty: 4, RemainingQty: 6, AvgFillPrice: 49.5})
	o, _ := e.GetOrder(id)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
	assert.Equal(t, 4.0, o.FilledQty)
	assert.Equal(t, 6.0, o.RemainingQty)
	assert.Zero(t, e.TotalTrades())

	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: id, Status: domain.OrderStatusRejected})
	o, _ = e.GetOrder(id)
	assert.Equal(t, domain.OrderStatusRejected, o.Status)

	// Terminal orders do not move again.
	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: id, Status: domain.OrderStatusFilled, FilledQty: 10})
	o, _ = e.GetOrder(id)
	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assert.Zero(t, e.TotalTrades())
}

// fastVenue reports the fill from inside Place, before the engine has the
// id in its book.
type fastVenue struct {
	*broker.SimulatorBroker
	engine *Engine
	price  float64
}

func (v *fastVenue) Place(ctx context.Context, o domain.Order) (int64, error) {
	id, err := v.SimulatorBroker.Place(ctx, o)
	if err != nil {
		return 0, err
	}
	v.engine.ApplyOrderUpdate(domain.OrderUpdate{
		OrderID: id, Status: domain.OrderStatusFilled, FilledQty: o.Qty, AvgFillPrice: v.price,
	})
	return id, nil
}

func TestFillBeforePlaceReturns(t *testing.T) {
	v := &fastVenue{SimulatorBroker: broker.NewSimulatorBroker(), price: 50}
	e := NewEngine(v, NewRiskManager(DefaultMaxPositionSize, DefaultMaxDailyLoss), nil)
	v.engine = e

	var fills []Execution
	e.SetFillHandler(func(x Execution) { fills = append(fills, x) })

	id, err := e.PlaceMarketOrder(ctx, "X", domain.OrderSideBuy, 10)
	require.NoError(t, err)

	o, ok := e.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, 10.0, o.FilledQty)
	assert.Equal(t, 50.0, o.AvgFillPrice)
	assert.Equal(t, 1, e.TotalTrades())

	v.price = 60
	_, err = e.PlaceMarketOrder(ctx, "X", domain.OrderSideSell, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, e.TotalTrades())
	assert.InDelta(t, 100.0, e.TotalPnL(), 1e-9)

	require.Len(t, fills, 2)
	assert.Equal(t, id, fills[0].OrderID)
	assert.InDelta(t, 100.0, fills[1].Realized, 1e-9)
}

func TestEarlyUpdatesAreBounded(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	for i := 0; i < maxEarlyOrders+10; i++ {
		e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: int64(i + 1), Status: domain.OrderStatusSubmitted})
	}
	e.mu.Lock()
	n := len(e.early)
	e.mu.Unlock()
	assert.Equal(t, maxEarlyOrders, n)
	assert.Empty(t, e.AllOrders())
}

func TestMarketFillWithoutPriceUsesReference(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	book := quote.NewBook()
	book.Apply(domain.PriceTick{Symbol: "X", Field: domain.TickLast, Price: 40})
	e.Risk().SetReferencePrices(book)

	buy, err := e.PlaceMarketOrder(ctx, "X", domain.OrderSideBuy, 10)
	require.NoError(t, err)
	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: buy, Status: domain.OrderStatusFilled, FilledQty: 10})

	sell, err := e.PlaceMarketOrder(ctx, "X", domain.OrderSideSell, 10)
	require.NoError(t, err)
	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: sell, Status: domain.OrderStatusFilled, FilledQty: 10, AvgFillPrice: 50})

	assert.InDelta(t, 100.0, e.TotalPnL(), 1e-9)
	assert.Equal(t, 1, e.WinningTrades())
}

func TestMarketFillWithoutAnyPriceSkipsLedger(t *testing.T) {
	f := newFixture(t)
	e := f.engine
	ledger := NewAverageCostLedger()
	e.SetLedger(ledger)

	id, err := e.PlaceMarketOrder(ctx, "X", domain.OrderSideBuy, 10)
	require.NoError(t, err)
	e.ApplyOrderUpdate(domain.OrderUpdate{OrderID: id, Status: domain.OrderStatusFilled, FilledQty: 10})

	o, _ := e.GetOrder(id)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, 1, e.TotalTrades())
	qty, cost := ledger.holding("X")
	assert.Zero(t, qty)
	assert.Zero(t, cost)
}

func TestConcurrentPlacements(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := e.PlaceLimitOrder(ctx, "X", domain.OrderSideBuy, 1, 10)
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, e.AllOrders(), n)
}
