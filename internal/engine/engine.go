// Package engine is the order risk gateway. Every order passes validation
// and risk checks before it reaches the broker; the engine keeps the
// authoritative order book and basic trade statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"riskdesk/internal/broker"
	"riskdesk/internal/domain"
	"riskdesk/internal/metrics"
	"riskdesk/internal/store"
	"riskdesk/internal/util"
)

// journalTimeout bounds journal writes made from venue callbacks.
const journalTimeout = 5 * time.Second

// maxEarlyOrders caps how many unknown order ids can have parked updates.
const maxEarlyOrders = 256

// Execution describes one order reaching filled.
type Execution struct {
	OrderID  int64
	Symbol   string
	Side     domain.OrderSide
	Qty      float64
	Price    float64
	Realized float64
	At       time.Time
}

// Engine orchestrates the order lifecycle by delegating to a broker for
// execution and a risk manager for pre-trade checks.
//
// One mutex guards the order book and the trade statistics. The broker and
// the journal are never called while it is held, so placements for
// different orders can be in flight at the venue at the same time.
type Engine struct {
	broker  broker.Broker
	risk    *RiskManager
	log     *slog.Logger
	journal store.EventStore
	ledger  FillLedger
	onFill  func(Execution)

	mu            sync.Mutex
	orders        map[int64]domain.Order
	early         map[int64][]domain.OrderUpdate
	totalPnL      float64
	dailyPnL      float64
	totalTrades   int
	winningTrades int
}

// NewEngine creates a new Engine wired with the given dependencies. A nil
// risk manager gets the default limits.
func NewEngine(b broker.Broker, risk *RiskManager, log *slog.Logger) *Engine {
	if risk == nil {
		risk = NewRiskManager(DefaultMaxPositionSize, DefaultMaxDailyLoss)
	}
	return &Engine{
		broker: b,
		risk:   risk,
		log:    util.OrDefault(log).With("component", "engine"),
		ledger: NewAverageCostLedger(),
		orders: make(map[int64]domain.Order),
		early:  make(map[int64][]domain.OrderUpdate),
	}
}

// SetJournal records gateway decisions to j. Call before the engine is used.
func (e *Engine) SetJournal(j store.EventStore) { e.journal = j }

// SetLedger replaces the fill ledger. Call before the engine is used.
func (e *Engine) SetLedger(l FillLedger) { e.ledger = l }

// SetFillHandler registers fn to run after each transition into filled,
// outside the engine lock. Call before the engine is used.
func (e *Engine) SetFillHandler(fn func(Execution)) { e.onFill = fn }

// Risk returns the engine's risk manager.
func (e *Engine) Risk() *RiskManager { return e.risk }

// ---------------------------------------------------------------------------
// Placement
// ---------------------------------------------------------------------------

// PlaceMarketOrder places a market order.
func (e *Engine) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (int64, error) {
	return e.SubmitOrder(ctx, domain.Order{Symbol: symbol, Type: domain.OrderTypeMarket, Side: side, Qty: qty})
}

// PlaceLimitOrder places a limit order.
func (e *Engine) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, limitPrice float64) (int64, error) {
	return e.SubmitOrder(ctx, domain.Order{
		Symbol: symbol, Type: domain.OrderTypeLimit, Side: side, Qty: qty, LimitPrice: limitPrice,
	})
}

// PlaceStopOrder places a stop order.
func (e *Engine) PlaceStopOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, stopPrice float64) (int64, error) {
	return e.SubmitOrder(ctx, domain.Order{
		Symbol: symbol, Type: domain.OrderTypeStop, Side: side, Qty: qty, StopPrice: stopPrice,
	})
}

// PlaceStopLimitOrder places a stop-limit order.
func (e *Engine) PlaceStopLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, limitPrice, stopPrice float64) (int64, error) {
	return e.SubmitOrder(ctx, domain.Order{
		Symbol: symbol, Type: domain.OrderTypeStopLimit, Side: side, Qty: qty,
		LimitPrice: limitPrice, StopPrice: stopPrice,
	})
}

// SubmitOrder validates order and forwards it to the broker. On success the
// order enters the book as submitted under the venue-assigned id, which is
// returned. Venue updates that arrived for the id before Place returned are
// applied right after the insert. On failure the id is 0, the book is
// unchanged, and the error wraps ErrInvalidOrder, ErrRiskLimit, or
// ErrVenueRejected.
func (e *Engine) SubmitOrder(ctx context.Context, order domain.Order) (int64, error) {
	now := time.Now()
	order.ID = 0
	order.Status = domain.OrderStatusPending
	order.FilledQty = 0
	order.AvgFillPrice = 0
	order.RemainingQty = order.Qty
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := e.ValidateOrder(order); err != nil {
		e.rejected(ctx, order, err)
		return 0, err
	}

	id, err := e.broker.Place(ctx, order)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrVenueRejected, err)
		e.rejected(ctx, order, err)
		return 0, err
	}
	if id <= 0 {
		err = fmt.Errorf("%w: venue returned id %d", ErrVenueRejected, id)
		e.rejected(ctx, order, err)
		return 0, err
	}

	order.ID = id
	order.Status = domain.OrderStatusSubmitted
	e.mu.Lock()
	e.orders[id] = order
	parked := e.early[id]
	delete(e.early, id)
	e.mu.Unlock()

	metrics.OrdersPlaced.WithLabelValues(string(order.Type)).Inc()
	e.log.Info("order submitted", "id", id, "symbol", order.Symbol, "type", order.Type,
		"side", order.Side, "qty", order.Qty)
	e.record(ctx, domain.OrderEvent{
		OrderID: id, Symbol: order.Symbol, Kind: domain.OrderEventAccepted, Status: order.Status,
	})
	for _, u := range parked {
		e.ApplyOrderUpdate(u)
	}
	return id, nil
}

// ValidateOrder runs the structural checks and then the risk check against
// the current daily PnL.
func (e *Engine) ValidateOrder(order domain.Order) error {
	switch {
	case order.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	case order.Qty <= 0:
		return fmt.Errorf("%w: quantity %v must be positive", ErrInvalidOrder, order.Qty)
	case order.Side != domain.OrderSideBuy && order.Side != domain.OrderSideSell:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, order.Side)
	}
	switch order.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop, domain.OrderTypeStopLimit:
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, order.Type)
	}
	if order.Type.NeedsLimitPrice() && order.LimitPrice <= 0 {
		return fmt.Errorf("%w: %s order needs a positive limit price", ErrInvalidOrder, order.Type)
	}
	if order.Type.NeedsStopPrice() && order.StopPrice <= 0 {
		return fmt.Errorf("%w: %s order needs a positive stop price", ErrInvalidOrder, order.Type)
	}
	return e.risk.CheckOrder(order, e.DailyPnL())
}

func (e *Engine) rejected(ctx context.Context, order domain.Order, err error) {
	reason := metrics.ReasonVenue
	switch {
	case errors.Is(err, ErrInvalidOrder):
		reason = metrics.ReasonInvalid
	case errors.Is(err, ErrRiskLimit):
		reason = metrics.ReasonRisk
	}
	metrics.OrdersRejected.WithLabelValues(reason).Inc()
	e.log.Warn("order rejected", "symbol", order.Symbol, "type", order.Type, "side", order.Side,
		"qty", order.Qty, "reason", reason, "error", err)
	e.record(ctx, domain.OrderEvent{
		Symbol: order.Symbol, Kind: domain.OrderEventRejected, Status: domain.OrderStatusRejected,
		Detail: err.Error(),
	})
}

// ---------------------------------------------------------------------------
// Cancel / modify
// ---------------------------------------------------------------------------

// lookupOpen returns a copy of an open order.
func (e *Engine) lookupOpen(id int64) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.Status.IsTerminal() {
		return domain.Order{}, fmt.Errorf("%w: %d is %s", ErrOrderClosed, id, o.Status)
	}
	return o, nil
}

// CancelOrder asks the venue to cancel an open order. The order is marked
// cancelled only after the venue confirms.
func (e *Engine) CancelOrder(ctx context.Context, id int64) error {
	o, err := e.lookupOpen(id)
	if err != nil {
		return err
	}

	if err := e.broker.Cancel(ctx, id); err != nil {
		e.log.Warn("cancel rejected by venue", "id", id, "error", err)
		return fmt.Errorf("%w: %w", ErrVenueRejected, err)
	}

	e.mu.Lock()
	cur := e.orders[id]
	if !cur.Status.IsTerminal() {
		cur.Status = domain.OrderStatusCancelled
		cur.UpdatedAt = time.Now()
		e.orders[id] = cur
	}
	e.mu.Unlock()

	metrics.OrdersCancelled.Inc()
	e.log.Info("order cancelled", "id", id, "symbol", o.Symbol)
	e.record(ctx, domain.OrderEvent{
		OrderID: id, Symbol: o.Symbol, Kind: domain.OrderEventCancelled, Status: cur.Status,
	})
	return nil
}

// ModifyOrder replaces an open order with newOrder once the venue accepts
// the change. The stored id, status, creation time, and fill progress are
// kept; any id carried by newOrder is discarded.
func (e *Engine) ModifyOrder(ctx context.Context, id int64, newOrder domain.Order) error {
	if _, err := e.lookupOpen(id); err != nil {
		return err
	}
	if err := e.ValidateOrder(newOrder); err != nil {
		e.log.Warn("modify rejected", "id", id, "error", err)
		return err
	}

	newOrder.ID = id
	if err := e.broker.Modify(ctx, id, newOrder); err != nil {
		e.log.Warn("modify rejected by venue", "id", id, "error", err)
		return fmt.Errorf("%w: %w", ErrVenueRejected, err)
	}

	e.mu.Lock()
	cur := e.orders[id]
	newOrder.Status = cur.Status
	newOrder.CreatedAt = cur.CreatedAt
	newOrder.FilledQty = cur.FilledQty
	newOrder.AvgFillPrice = cur.AvgFillPrice
	newOrder.RemainingQty = max(newOrder.Qty-cur.FilledQty, 0)
	newOrder.UpdatedAt = time.Now()
	e.orders[id] = newOrder
	e.mu.Unlock()

	e.log.Info("order modified", "id", id, "symbol", newOrder.Symbol, "qty", newOrder.Qty)
	e.record(ctx, domain.OrderEvent{
		OrderID: id, Symbol: newOrder.Symbol, Kind: domain.OrderEventModified, Status: newOrder.Status,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetOrder returns a copy of the order and whether it exists.
func (e *Engine) GetOrder(id int64) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	return o, ok
}

// AllOrders returns every order in the book, in no particular order.
func (e *Engine) AllOrders() []domain.Order {
	return e.filter(func(domain.Order) bool { return true })
}

// OrdersBySymbol returns the orders for symbol, in no particular order.
func (e *Engine) OrdersBySymbol(symbol string) []domain.Order {
	return e.filter(func(o domain.Order) bool { return o.Symbol == symbol })
}

// OrdersByStatus returns the orders in status, in no particular order.
func (e *Engine) OrdersByStatus(status domain.OrderStatus) []domain.Order {
	return e.filter(func(o domain.Order) bool { return o.Status == status })
}

func (e *Engine) filter(keep func(domain.Order) bool) []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Venue updates and statistics
// ---------------------------------------------------------------------------

// ApplyOrderUpdate applies a venue status change. Updates for ids not yet in
// the book are parked until SubmitOrder inserts the id; updates for terminal
// orders are ignored. The transition into filled counts one trade and books
// the realized PnL from the fill ledger.
func (e *Engine) ApplyOrderUpdate(u domain.OrderUpdate) {
	at := u.At
	if at.IsZero() {
		at = time.Now()
		u.At = at
	}

	e.mu.Lock()
	o, ok := e.orders[u.OrderID]
	if !ok {
		parked := e.park(u)
		e.mu.Unlock()
		if !parked {
			e.log.Warn("dropping update for unknown order", "id", u.OrderID, "status", u.Status)
		}
		return
	}
	if o.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	prev := o.Status
	if u.FilledQty > 0 {
		o.FilledQty = u.FilledQty
		o.RemainingQty = u.RemainingQty
	}
	if u.AvgFillPrice > 0 {
		o.AvgFillPrice = u.AvgFillPrice
	}
	if u.Status != "" && u.Status != domain.OrderStatusPending {
		o.Status = u.Status
	}
	o.UpdatedAt = at

	var (
		realized, price float64
		unpriced        bool
	)
	filled := prev != domain.OrderStatusFilled && o.Status == domain.OrderStatusFilled
	if filled {
		qty := o.FilledQty
		if qty <= 0 {
			qty = o.Qty
			o.FilledQty = qty
		}
		o.RemainingQty = 0
		if price = e.fillPrice(o); price > 0 {
			realized = e.ledger.Fill(o.Symbol, o.Side, qty, price)
		} else {
			unpriced = true
		}
		e.totalTrades++
		e.totalPnL += realized
		e.dailyPnL += realized
		if realized > 0 {
			e.winningTrades++
		}
	}
	e.orders[u.OrderID] = o
	daily := e.dailyPnL
	e.mu.Unlock()

	if filled {
		metrics.OrdersFilled.Inc()
		metrics.DailyPnL.Set(daily)
		if unpriced {
			e.log.Warn("fill has no price, ledger not updated", "id", o.ID, "symbol", o.Symbol,
				"qty", o.FilledQty)
		}
		e.log.Info("order filled", "id", o.ID, "symbol", o.Symbol, "qty", o.FilledQty,
			"price", price, "realized", realized)
		if e.onFill != nil {
			e.onFill(Execution{
				OrderID: o.ID, Symbol: o.Symbol, Side: o.Side, Qty: o.FilledQty,
				Price: price, Realized: realized, At: at,
			})
		}
	}
	if prev != o.Status {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		e.record(ctx, domain.OrderEvent{
			OrderID: o.ID, Symbol: o.Symbol, Kind: domain.OrderEventStatus, Status: o.Status,
		})
	}
}

// park holds an update for an id the book does not know yet and reports
// whether it was kept. Must be called with mu held.
func (e *Engine) park(u domain.OrderUpdate) bool {
	if _, ok := e.early[u.OrderID]; !ok && len(e.early) >= maxEarlyOrders {
		return false
	}
	e.early[u.OrderID] = append(e.early[u.OrderID], u)
	return true
}

// fillPrice picks the price a fill is booked at: the venue average, then the
// order's own limit or stop, then the reference price. Zero means unknown.
func (e *Engine) fillPrice(o domain.Order) float64 {
	switch {
	case o.AvgFillPrice > 0:
		return o.AvgFillPrice
	case o.LimitPrice > 0:
		return o.LimitPrice
	case o.StopPrice > 0:
		return o.StopPrice
	}
	if p, ok := e.risk.ReferencePrice(o.Symbol); ok {
		return p
	}
	return 0
}

// ResetDaily zeroes the daily PnL at session rollover.
func (e *Engine) ResetDaily() {
	e.mu.Lock()
	e.dailyPnL = 0
	e.mu.Unlock()
	metrics.DailyPnL.Set(0)
}

// TotalPnL returns the realized PnL since the engine started.
func (e *Engine) TotalPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalPnL
}

// DailyPnL returns the realized PnL since the last ResetDaily.
func (e *Engine) DailyPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dailyPnL
}

// TotalTrades returns the number of orders that reached filled.
func (e *Engine) TotalTrades() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalTrades
}

// WinningTrades returns the number of fills that realized a profit.
func (e *Engine) WinningTrades() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.winningTrades
}

// WinRate returns winning / total trades, or 0 with no trades.
func (e *Engine) WinRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.totalTrades == 0 {
		return 0
	}
	return float64(e.winningTrades) / float64(e.totalTrades)
}

func (e *Engine) record(ctx context.Context, ev domain.OrderEvent) {
	if e.journal == nil {
		return
	}
	ev.CreatedAt = time.Now()
	if err := e.journal.SaveEvent(ctx, ev); err != nil {
		e.log.Error("journal write failed", "order_id", ev.OrderID, "kind", ev.Kind, "error", err)
	}
}
