package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"riskdesk/internal/domain"
	"riskdesk/internal/quote"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// simulatorFirstID mirrors the id range handed out by paper venues.
const simulatorFirstID = 1001

// SimulatorBroker implements the Broker interface for paper trading and
// tests. It tracks orders and positions in memory without making external
// API calls. Fills happen when Fill is called, or, with SetAutoFill, for
// market orders as soon as they are placed.
type SimulatorBroker struct {
	*Feed

	mu        sync.Mutex
	nextID    int64
	orders    map[int64]domain.Order
	positions map[string]*domain.PositionUpdate
	failNext  error
	autoFill  quote.Source
}

// NewSimulatorBroker creates a new SimulatorBroker with empty position and
// order maps.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		Feed:      NewFeed(),
		nextID:    simulatorFirstID,
		orders:    make(map[int64]domain.Order),
		positions: make(map[string]*domain.PositionUpdate),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// FailNext makes the next Place, Cancel, or Modify call return err.
func (b *SimulatorBroker) FailNext(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// SetAutoFill fills market orders at the price prices reports for their
// symbol. The fill runs on its own goroutine after Place returns the id;
// orders for symbols without a price stay open.
func (b *SimulatorBroker) SetAutoFill(prices quote.Source) {
	b.mu.Lock()
	b.autoFill = prices
	b.mu.Unlock()
}

// takeFailure returns and clears the injected failure. Must be called with
// mu held.
func (b *SimulatorBroker) takeFailure() error {
	err := b.failNext
	b.failNext = nil
	return err
}

// Place records the order in memory and assigns the next id.
func (b *SimulatorBroker) Place(_ context.Context, order domain.Order) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return 0, err
	}
	id := b.nextID
	b.nextID++
	order.ID = id
	order.Status = domain.OrderStatusSubmitted
	order.RemainingQty = order.Qty
	b.orders[id] = order
	if b.autoFill != nil && order.Type == domain.OrderTypeMarket {
		go b.fillAtReference(id, order.Symbol, b.autoFill)
	}
	return id, nil
}

func (b *SimulatorBroker) fillAtReference(id int64, symbol string, prices quote.Source) {
	price, ok := prices.Price(symbol)
	if !ok || price <= 0 {
		return
	}
	// Fill fails only when the order closed first.
	_ = b.Fill(id, price)
}

// Cancel marks the specified order as cancelled.
func (b *SimulatorBroker) Cancel(_ context.Context, orderID int64) error {
	b.mu.Lock()
	if err := b.takeFailure(); err != nil {
		b.mu.Unlock()
		return err
	}
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("cancel %d: %w", orderID, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		b.mu.Unlock()
		return fmt.Errorf("cancel %d: order is %s", orderID, o.Status)
	}
	o.Status = domain.OrderStatusCancelled
	b.orders[orderID] = o
	b.mu.Unlock()

	b.PublishOrder(domain.OrderUpdate{
		OrderID:      orderID,
		Status:       domain.OrderStatusCancelled,
		FilledQty:    o.FilledQty,
		RemainingQty: o.RemainingQty,
		At:           time.Now(),
	})
	return nil
}

// Modify replaces the parameters of an open order, keeping its id.
func (b *SimulatorBroker) Modify(_ context.Context, orderID int64, order domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("modify %d: %w", orderID, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("modify %d: order is %s", orderID, o.Status)
	}
	order.ID = orderID
	order.Status = o.Status
	order.RemainingQty = order.Qty - o.FilledQty
	order.FilledQty = o.FilledQty
	b.orders[orderID] = order
	return nil
}

// Fill executes the remaining quantity of an open order at price and
// publishes the resulting order update, position snapshot, and last-price
// tick.
func (b *SimulatorBroker) Fill(orderID int64, price float64) error {
	now := time.Now()

	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("fill %d: %w", orderID, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		b.mu.Unlock()
		return fmt.Errorf("fill %d: order is %s", orderID, o.Status)
	}
	qty := o.Qty - o.FilledQty
	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.RemainingQty = 0
	o.AvgFillPrice = price
	b.orders[orderID] = o
	pos := b.applyFill(o.Symbol, o.Side, qty, price, now)
	b.mu.Unlock()

	b.PublishTick(domain.PriceTick{Symbol: o.Symbol, Field: domain.TickLast, Price: price, At: now})
	b.PublishOrder(domain.OrderUpdate{
		OrderID:      orderID,
		Status:       domain.OrderStatusFilled,
		FilledQty:    o.FilledQty,
		RemainingQty: 0,
		AvgFillPrice: price,
		At:           now,
	})
	b.PublishPosition(pos)
	return nil
}

// applyFill folds a fill into the simulated position. Must be called with mu
// held.
func (b *SimulatorBroker) applyFill(symbol string, side domain.OrderSide, qty, price float64, at time.Time) domain.PositionUpdate {
	p, ok := b.positions[symbol]
	if !ok {
		p = &domain.PositionUpdate{Symbol: symbol}
		b.positions[symbol] = p
	}
	signed := qty
	if side == domain.OrderSideSell {
		signed = -qty
	}
	newQty := p.Qty + signed
	switch {
	case newQty == 0:
		p.AvgPrice = 0
	case p.Qty == 0 || math.Signbit(p.Qty) != math.Signbit(newQty):
		// Opened or flipped: the remainder is at the fill price.
		p.AvgPrice = price
	case math.Abs(newQty) > math.Abs(p.Qty):
		p.AvgPrice = (p.AvgPrice*math.Abs(p.Qty) + price*qty) / math.Abs(newQty)
	}
	p.Qty = newQty
	p.At = at
	return *p
}

// Reject marks an open order as rejected and publishes the update.
func (b *SimulatorBroker) Reject(orderID int64) error {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("reject %d: %w", orderID, ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		b.mu.Unlock()
		return fmt.Errorf("reject %d: order is %s", orderID, o.Status)
	}
	o.Status = domain.OrderStatusRejected
	b.orders[orderID] = o
	b.mu.Unlock()

	b.PublishOrder(domain.OrderUpdate{
		OrderID:      orderID,
		Status:       domain.OrderStatusRejected,
		FilledQty:    o.FilledQty,
		RemainingQty: o.RemainingQty,
		At:           time.Now(),
	})
	return nil
}

// Order returns the simulator's copy of an order.
func (b *SimulatorBroker) Order(orderID int64) (domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	return o, ok
}

// Positions returns all simulated position snapshots.
func (b *SimulatorBroker) Positions() []domain.PositionUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.PositionUpdate, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}
