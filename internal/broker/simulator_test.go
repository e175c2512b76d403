package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdesk/internal/domain"
	"riskdesk/internal/quote"
)

func limitBuy(symbol string, qty, price float64) domain.Order {
	return domain.Order{
		Symbol:     symbol,
		Type:       domain.OrderTypeLimit,
		Side:       domain.OrderSideBuy,
		Qty:        qty,
		LimitPrice: price,
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker()
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorPlaceAssignsSequentialIDs(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()

	id1, err := b.Place(ctx, limitBuy("AAPL", 1, 10))
	require.NoError(t, err)
	id2, err := b.Place(ctx, limitBuy("AAPL", 1, 10))
	require.NoError(t, err)

	assert.Equal(t, int64(simulatorFirstID), id1)
	assert.Equal(t, id1+1, id2)

	o, ok := b.Order(id1)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
}

func TestSimulatorFailNext(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	boom := errors.New("venue down")

	b.FailNext(boom)
	_, err := b.Place(ctx, limitBuy("AAPL", 1, 10))
	assert.ErrorIs(t, err, boom)

	// The failure is consumed by a single call.
	_, err = b.Place(ctx, limitBuy("AAPL", 1, 10))
	assert.NoError(t, err)
}

func TestSimulatorCancelUnknown(t *testing.T) {
	b := NewSimulatorBroker()
	err := b.Cancel(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestSimulatorFillPublishesEvents(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()
	subID, ch := b.Subscribe(16)
	defer b.Unsubscribe(subID)

	id, err := b.Place(ctx, limitBuy("MSFT", 10, 400))
	require.NoError(t, err)
	require.NoError(t, b.Fill(id, 399.5))

	var kinds []domain.EventKind
	for i := 0; i < 3; i++ {
		evt := <-ch
		kinds = append(kinds, evt.Kind)
		switch evt.Kind {
		case domain.EventOrderUpdate:
			assert.Equal(t, id, evt.Order.OrderID)
			assert.Equal(t, domain.OrderStatusFilled, evt.Order.Status)
			assert.Equal(t, 399.5, evt.Order.AvgFillPrice)
		case domain.EventPositionUpdate:
			assert.Equal(t, "MSFT", evt.Position.Symbol)
			assert.Equal(t, 10.0, evt.Position.Qty)
			assert.Equal(t, 399.5, evt.Position.AvgPrice)
		case domain.EventPriceTick:
			assert.Equal(t, domain.TickLast, evt.Tick.Field)
		}
	}
	assert.ElementsMatch(t, []domain.EventKind{
		domain.EventPriceTick, domain.EventOrderUpdate, domain.EventPositionUpdate,
	}, kinds)

	// A filled order cannot be filled or cancelled again.
	assert.Error(t, b.Fill(id, 400))
	assert.Error(t, b.Cancel(ctx, id))
}

func TestSimulatorPositionAveraging(t *testing.T) {
	b := NewSimulatorBroker()
	ctx := context.Background()

	id1, _ := b.Place(ctx, limitBuy("X", 10, 50))
	require.NoError(t, b.Fill(id1, 50))
	id2, _ := b.Place(ctx, limitBuy("X", 10, 60))
	require.NoError(t, b.Fill(id2, 60))

	sell := limitBuy("X", 15, 70)
	sell.Side = domain.OrderSideSell
	id3, _ := b.Place(ctx, sell)
	require.NoError(t, b.Fill(id3, 70))

	positions := b.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 5.0, positions[0].Qty)
	assert.InDelta(t, 55.0, positions[0].AvgPrice, 1e-9)
}

func TestFeedDropsForSlowConsumer(t *testing.T) {
	f := NewFeed()
	id, ch := f.Subscribe(1)

	assert.Equal(t, 1, f.PublishTick(domain.PriceTick{Symbol: "A", Price: 1}))
	assert.Equal(t, 0, f.PublishTick(domain.PriceTick{Symbol: "A", Price: 2}))

	evt := <-ch
	assert.Equal(t, 1.0, evt.Tick.Price)

	f.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestSimulatorAutoFillMarketOrders(t *testing.T) {
	book := quote.NewBook()
	book.Apply(domain.PriceTick{Symbol: "X", Field: domain.TickLast, Price: 25})

	b := NewSimulatorBroker()
	b.SetAutoFill(book)
	_, events := b.Subscribe(16)
	ctx := context.Background()

	id, err := b.Place(ctx, domain.Order{Symbol: "X", Type: domain.OrderTypeMarket, Side: domain.OrderSideBuy, Qty: 4})
	require.NoError(t, err)
	limit, err := b.Place(ctx, limitBuy("X", 1, 20))
	require.NoError(t, err)
	unpriced, err := b.Place(ctx, domain.Order{Symbol: "Y", Type: domain.OrderTypeMarket, Side: domain.OrderSideBuy, Qty: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		o, _ := b.Order(id)
		return o.Status == domain.OrderStatusFilled
	}, time.Second, 5*time.Millisecond)
	o, _ := b.Order(id)
	assert.Equal(t, 25.0, o.AvgFillPrice)

	var fill *domain.OrderUpdate
	require.Eventually(t, func() bool {
		for len(events) > 0 {
			if ev := <-events; ev.Kind == domain.EventOrderUpdate {
				fill = ev.Order
			}
		}
		return fill != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, fill.OrderID)

	o, _ = b.Order(limit)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
	o, _ = b.Order(unpriced)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
}

func TestSimulatorRejectClosesOrder(t *testing.T) {
	b := NewSimulatorBroker()
	_, events := b.Subscribe(4)

	id, err := b.Place(context.Background(), limitBuy("X", 1, 10))
	require.NoError(t, err)
	require.NoError(t, b.Reject(id))

	ev := <-events
	require.Equal(t, domain.EventOrderUpdate, ev.Kind)
	assert.Equal(t, domain.OrderStatusRejected, ev.Order.Status)

	assert.Error(t, b.Reject(id))
	assert.ErrorIs(t, b.Reject(12345), ErrUnknownOrder)
}
