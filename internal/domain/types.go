// Package domain defines the core types shared by the order gateway, the
// portfolio engine, and the venue adapters.
package domain

import "time"

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType determines which price fields an order carries.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// NeedsLimitPrice reports whether orders of this type must carry a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether orders of this type must carry a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a single instruction to the venue. ID is zero until the venue
// accepts the order.
type Order struct {
	ID           int64       `json:"id"`
	Symbol       string      `json:"symbol"`
	Type         OrderType   `json:"type"`
	Side         OrderSide   `json:"side"`
	Qty          float64     `json:"qty"`
	LimitPrice   float64     `json:"limit_price,omitempty"`
	StopPrice    float64     `json:"stop_price,omitempty"`
	Status       OrderStatus `json:"status"`
	FilledQty    float64     `json:"filled_qty,omitempty"`
	RemainingQty float64     `json:"remaining_qty,omitempty"`
	AvgFillPrice float64     `json:"avg_fill_price,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Positions and account
// ---------------------------------------------------------------------------

// Position is the authoritative venue snapshot for one symbol. Qty is signed;
// negative means short.
type Position struct {
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	AvgPrice      float64   `json:"avg_price"`
	MarketValue   float64   `json:"market_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AccountInfo is a snapshot of the account's financial metrics.
type AccountInfo struct {
	AccountID      string  `json:"account_id"`
	NetLiquidation float64 `json:"net_liquidation"`
	BuyingPower    float64 `json:"buying_power"`
	Cash           float64 `json:"cash"`
	Currency       string  `json:"currency"`
}

// RiskLimits is the gateway's mutable risk configuration. It applies
// uniformly to every symbol.
type RiskLimits struct {
	MaxPositionSize float64 `json:"max_position_size"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
}

// ---------------------------------------------------------------------------
// Venue events
// ---------------------------------------------------------------------------

// OrderUpdate reports a status change for an order the venue knows about.
type OrderUpdate struct {
	OrderID      int64
	Status       OrderStatus
	FilledQty    float64
	RemainingQty float64
	AvgFillPrice float64
	At           time.Time
}

// PositionUpdate is a position snapshot pushed by the venue.
type PositionUpdate struct {
	Symbol   string
	Qty      float64
	AvgPrice float64
	At       time.Time
}

// AccountUpdate carries one key/value pair of the account snapshot.
type AccountUpdate struct {
	Key      string
	Value    string
	Currency string
	At       time.Time
}

// TickField identifies which side of the quote a tick updates.
type TickField string

const (
	TickBid  TickField = "bid"
	TickAsk  TickField = "ask"
	TickLast TickField = "last"
)

// PriceTick is an opaque price observation for an instrument.
type PriceTick struct {
	Symbol string
	Field  TickField
	Price  float64
	At     time.Time
}

// EventKind discriminates the payload carried by an Event.
type EventKind string

const (
	EventOrderUpdate    EventKind = "order_update"
	EventPositionUpdate EventKind = "position_update"
	EventAccountUpdate  EventKind = "account_update"
	EventPriceTick      EventKind = "price_tick"
)

// Event is the envelope pushed by venue adapters. Exactly one payload field
// is set, matching Kind.
type Event struct {
	Kind     EventKind
	Order    *OrderUpdate
	Position *PositionUpdate
	Account  *AccountUpdate
	Tick     *PriceTick
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// OrderEventKind names a gateway decision recorded in the journal.
type OrderEventKind string

const (
	OrderEventAccepted  OrderEventKind = "accepted"
	OrderEventRejected  OrderEventKind = "rejected"
	OrderEventCancelled OrderEventKind = "cancelled"
	OrderEventModified  OrderEventKind = "modified"
	OrderEventStatus    OrderEventKind = "status"
)

// OrderEvent is one entry of the order-event journal.
type OrderEvent struct {
	ID        string         `json:"id"`
	OrderID   int64          `json:"order_id"`
	Symbol    string         `json:"symbol"`
	Kind      OrderEventKind `json:"kind"`
	Status    OrderStatus    `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Bar is a daily OHLCV bar. Bars of a benchmark symbol feed the market
// return series used for beta.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}
