// Package riskdesk is the Go client SDK for the riskdesk trader's Desk
// service. Requests and responses travel as google.protobuf.Struct
// messages whose fields mirror the JSON form of the types below.
package riskdesk

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"riskdesk/internal/domain"
	"riskdesk/internal/portfolio"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "riskdesk.v1.Desk"

// Desk methods.
const (
	MethodPlaceOrder   = "PlaceOrder"
	MethodCancelOrder  = "CancelOrder"
	MethodGetOrder     = "GetOrder"
	MethodListOrders   = "ListOrders"
	MethodGetPortfolio = "GetPortfolio"
	MethodRebalance    = "Rebalance"
)

// FullMethod returns the gRPC path of a Desk method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// PlaceOrderRequest describes a new order. Limit and stop prices are only
// read for the order types that need them.
type PlaceOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       domain.OrderSide `json:"side"`
	Type       domain.OrderType `json:"type"`
	Qty        float64          `json:"qty"`
	LimitPrice float64          `json:"limit_price,omitempty"`
	StopPrice  float64          `json:"stop_price,omitempty"`
}

// Order converts the request into a gateway order.
func (r PlaceOrderRequest) Order() domain.Order {
	return domain.Order{
		Symbol:     r.Symbol,
		Side:       r.Side,
		Type:       r.Type,
		Qty:        r.Qty,
		LimitPrice: r.LimitPrice,
		StopPrice:  r.StopPrice,
	}
}

// PlaceOrderResponse carries the venue-assigned order id.
type PlaceOrderResponse struct {
	ID int64 `json:"id"`
}

// OrderRequest addresses one order by id.
type OrderRequest struct {
	ID int64 `json:"id"`
}

// OrderResponse carries a single order.
type OrderResponse struct {
	Order domain.Order `json:"order"`
}

// ListOrdersRequest filters the order book. Empty fields match everything.
type ListOrdersRequest struct {
	Status domain.OrderStatus `json:"status,omitempty"`
	Symbol string             `json:"symbol,omitempty"`
}

// ListOrdersResponse holds orders sorted by id.
type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// GatewayStats summarises the order gateway's running statistics.
type GatewayStats struct {
	TotalPnL      float64           `json:"total_pnl"`
	DailyPnL      float64           `json:"daily_pnl"`
	TotalTrades   int               `json:"total_trades"`
	WinningTrades int               `json:"winning_trades"`
	WinRate       float64           `json:"win_rate"`
	Limits        domain.RiskLimits `json:"limits"`
}

// PortfolioResponse pairs the portfolio analytics with gateway stats and
// the venue account snapshot.
type PortfolioResponse struct {
	Portfolio portfolio.Summary  `json:"portfolio"`
	Gateway   GatewayStats       `json:"gateway"`
	Account   domain.AccountInfo `json:"account"`
}

// RebalanceRequest overrides the trader's configured target allocation and
// drift threshold. Nil fields use the configured values.
type RebalanceRequest struct {
	Target    map[string]float64 `json:"target,omitempty"`
	Threshold *float64           `json:"threshold,omitempty"`
}

// RebalanceResponse lists the ids of accepted orders and the reasons the
// others were rejected.
type RebalanceResponse struct {
	OrderIDs []int64  `json:"order_ids"`
	Errors   []string `json:"errors,omitempty"`
}

// ---------------------------------------------------------------------------
// Struct codec
// ---------------------------------------------------------------------------

// Encode converts a message into a protobuf Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a protobuf Struct. A nil Struct leaves v unchanged.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
