package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"riskdesk/internal/domain"
	"riskdesk/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// alpacaAPI is the subset of *alpaca.Client used by AlpacaBroker.
type alpacaAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	ReplaceOrder(orderID string, req alpaca.ReplaceOrderRequest) (*alpaca.Order, error)
	GetPositions() ([]alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
	StreamTradeUpdatesInBackground(ctx context.Context, handler func(alpaca.TradeUpdate))
}

// Account value keys published by AlpacaBroker. They follow the names the
// portfolio cash source recognises.
const (
	AccountKeyCash           = "TotalCashValue"
	AccountKeyNetLiquidation = "NetLiquidation"
	AccountKeyBuyingPower    = "BuyingPower"
)

const (
	syncAttempts  = 3
	syncBaseDelay = 500 * time.Millisecond
)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
// Alpaca identifies orders by UUID strings; AlpacaBroker hands out local
// int64 ids and keeps the mapping in both directions. The client order id
// is mapped before the request is sent, so trade updates that beat the
// PlaceOrder response still resolve.
type AlpacaBroker struct {
	*Feed

	client  alpacaAPI
	limiter *util.RateLimiter
	log     *slog.Logger

	mu        sync.Mutex
	nextID    int64
	venueIDs  map[int64]string
	localIDs  map[string]int64
	clientIDs map[string]int64

	refresh chan struct{}
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. ratePerMin bounds REST calls per minute.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, ratePerMin int, log *slog.Logger) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaBroker(client, ratePerMin, log)
}

func newAlpacaBroker(client alpacaAPI, ratePerMin int, log *slog.Logger) *AlpacaBroker {
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	return &AlpacaBroker{
		Feed:      NewFeed(),
		client:    client,
		limiter:   util.NewRateLimiter(ratePerMin, 10),
		log:       util.OrDefault(log).With("component", "alpaca"),
		nextID:    1,
		venueIDs:  make(map[int64]string),
		localIDs:  make(map[string]int64),
		clientIDs: make(map[string]int64),
		refresh:   make(chan struct{}, 1),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// ---------------------------------------------------------------------------
// Order entry
// ---------------------------------------------------------------------------

// Place submits an order to Alpaca and returns its local id.
func (b *AlpacaBroker) Place(ctx context.Context, order domain.Order) (int64, error) {
	req, err := placeRequest(order)
	if err != nil {
		return 0, err
	}
	req.ClientOrderID = uuid.NewString()

	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.clientIDs[req.ClientOrderID] = id
	b.mu.Unlock()

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		b.mu.Lock()
		delete(b.clientIDs, req.ClientOrderID)
		b.mu.Unlock()
		return 0, fmt.Errorf("alpaca place %s: %w", order.Symbol, err)
	}

	b.mu.Lock()
	b.venueIDs[id] = placed.ID
	b.localIDs[placed.ID] = id
	b.mu.Unlock()

	b.log.Debug("order placed", "id", id, "alpaca_id", placed.ID, "symbol", order.Symbol)
	return id, nil
}

// Cancel requests cancellation of an open order via the Alpaca API. The
// cancelled status arrives later on the trade-update stream.
func (b *AlpacaBroker) Cancel(ctx context.Context, orderID int64) error {
	venueID, err := b.venueID(orderID)
	if err != nil {
		return fmt.Errorf("cancel %d: %w", orderID, err)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.client.CancelOrder(venueID); err != nil {
		return fmt.Errorf("alpaca cancel %d: %w", orderID, err)
	}
	return nil
}

// Modify replaces quantity and prices of an open order. Alpaca issues a new
// venue id for the replacement; the local id is re-pointed to it.
func (b *AlpacaBroker) Modify(ctx context.Context, orderID int64, order domain.Order) error {
	venueID, err := b.venueID(orderID)
	if err != nil {
		return fmt.Errorf("modify %d: %w", orderID, err)
	}
	req := alpaca.ReplaceOrderRequest{
		Qty:           decimalPtr(order.Qty),
		TimeInForce:   alpaca.Day,
		ClientOrderID: uuid.NewString(),
	}
	if order.Type.NeedsLimitPrice() {
		req.LimitPrice = decimalPtr(order.LimitPrice)
	}
	if order.Type.NeedsStopPrice() {
		req.StopPrice = decimalPtr(order.StopPrice)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.clientIDs[req.ClientOrderID] = orderID
	b.mu.Unlock()

	replaced, err := b.client.ReplaceOrder(venueID, req)
	if err != nil {
		b.mu.Lock()
		delete(b.clientIDs, req.ClientOrderID)
		b.mu.Unlock()
		return fmt.Errorf("alpaca replace %d: %w", orderID, err)
	}

	b.mu.Lock()
	delete(b.localIDs, venueID)
	b.venueIDs[orderID] = replaced.ID
	b.localIDs[replaced.ID] = orderID
	b.mu.Unlock()
	return nil
}

func (b *AlpacaBroker) venueID(orderID int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.venueIDs[orderID]
	if !ok {
		return "", ErrUnknownOrder
	}
	return id, nil
}

func placeRequest(order domain.Order) (alpaca.PlaceOrderRequest, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:      order.Symbol,
		Qty:         decimalPtr(order.Qty),
		TimeInForce: alpaca.Day,
	}
	switch order.Side {
	case domain.OrderSideBuy:
		req.Side = alpaca.Buy
	case domain.OrderSideSell:
		req.Side = alpaca.Sell
	default:
		return req, fmt.Errorf("alpaca: unsupported side %q", order.Side)
	}
	switch order.Type {
	case domain.OrderTypeMarket:
		req.Type = alpaca.Market
	case domain.OrderTypeLimit:
		req.Type = alpaca.Limit
	case domain.OrderTypeStop:
		req.Type = alpaca.Stop
	case domain.OrderTypeStopLimit:
		req.Type = alpaca.StopLimit
	default:
		return req, fmt.Errorf("alpaca: unsupported order type %q", order.Type)
	}
	if order.Type.NeedsLimitPrice() {
		req.LimitPrice = decimalPtr(order.LimitPrice)
	}
	if order.Type.NeedsStopPrice() {
		req.StopPrice = decimalPtr(order.StopPrice)
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Streaming and sync
// ---------------------------------------------------------------------------

// Start performs an initial position/account sync, then streams trade
// updates into the feed until ctx is cancelled. Fills trigger a position
// refresh on a background goroutine.
func (b *AlpacaBroker) Start(ctx context.Context) error {
	if err := b.Sync(ctx); err != nil {
		return err
	}
	b.client.StreamTradeUpdatesInBackground(ctx, b.handleTradeUpdate)
	go b.refreshLoop(ctx)
	return nil
}

func (b *AlpacaBroker) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.refresh:
			if err := b.Sync(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("position refresh failed", "error", err)
			}
		}
	}
}

func (b *AlpacaBroker) requestRefresh() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

// handleTradeUpdate translates one Alpaca trade update into feed events.
// Orders are matched by client order id first, then by venue id.
func (b *AlpacaBroker) handleTradeUpdate(tu alpaca.TradeUpdate) {
	b.mu.Lock()
	id, ok := b.clientIDs[tu.Order.ClientOrderID]
	if !ok {
		id, ok = b.localIDs[tu.Order.ID]
	}
	b.mu.Unlock()
	if !ok {
		b.log.Debug("trade update for untracked order", "alpaca_id", tu.Order.ID, "event", tu.Event)
		return
	}

	status, ok := tradeEventStatus(tu.Event)
	if !ok {
		return
	}

	at := tu.At
	if at.IsZero() {
		at = time.Now()
	}
	filled := tu.Order.FilledQty.InexactFloat64()
	var remaining float64
	if tu.Order.Qty != nil {
		remaining = tu.Order.Qty.InexactFloat64() - filled
	}
	var avg float64
	if tu.Order.FilledAvgPrice != nil {
		avg = tu.Order.FilledAvgPrice.InexactFloat64()
	}

	if tu.Price != nil && (tu.Event == "fill" || tu.Event == "partial_fill") {
		b.PublishTick(domain.PriceTick{
			Symbol: tu.Order.Symbol,
			Field:  domain.TickLast,
			Price:  tu.Price.InexactFloat64(),
			At:     at,
		})
	}
	b.PublishOrder(domain.OrderUpdate{
		OrderID:      id,
		Status:       status,
		FilledQty:    filled,
		RemainingQty: remaining,
		AvgFillPrice: avg,
		At:           at,
	})

	if tu.Event == "fill" || tu.Event == "partial_fill" {
		b.requestRefresh()
	}
}

// tradeEventStatus maps an Alpaca trade-update event to an order status.
// Events that carry no status change report false.
func tradeEventStatus(event string) (domain.OrderStatus, bool) {
	switch event {
	case "new", "accepted", "pending_new", "partial_fill", "replaced":
		return domain.OrderStatusSubmitted, true
	case "fill":
		return domain.OrderStatusFilled, true
	case "canceled", "expired", "done_for_day":
		return domain.OrderStatusCancelled, true
	case "rejected":
		return domain.OrderStatusRejected, true
	}
	return "", false
}

// Sync fetches positions and account balances and publishes them as
// position and account updates. Reads are retried with backoff.
func (b *AlpacaBroker) Sync(ctx context.Context) error {
	var positions []alpaca.Position
	err := util.Retry(ctx, syncAttempts, syncBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		positions, err = b.client.GetPositions()
		return err
	})
	if err != nil {
		return fmt.Errorf("alpaca positions: %w", err)
	}

	now := time.Now()
	for _, p := range positions {
		b.PublishPosition(domain.PositionUpdate{
			Symbol:   p.Symbol,
			Qty:      p.Qty.InexactFloat64(),
			AvgPrice: p.AvgEntryPrice.InexactFloat64(),
			At:       now,
		})
		if p.CurrentPrice != nil {
			b.PublishTick(domain.PriceTick{
				Symbol: p.Symbol,
				Field:  domain.TickLast,
				Price:  p.CurrentPrice.InexactFloat64(),
				At:     now,
			})
		}
	}

	info, err := b.Account(ctx)
	if err != nil {
		return err
	}
	for key, value := range map[string]float64{
		AccountKeyCash:           info.Cash,
		AccountKeyNetLiquidation: info.NetLiquidation,
		AccountKeyBuyingPower:    info.BuyingPower,
	} {
		b.PublishAccount(domain.AccountUpdate{
			Key:      key,
			Value:    strconv.FormatFloat(value, 'f', -1, 64),
			Currency: info.Currency,
			At:       now,
		})
	}
	return nil
}

// Account returns the current account information from the Alpaca API.
func (b *AlpacaBroker) Account(ctx context.Context) (domain.AccountInfo, error) {
	var acct *alpaca.Account
	err := util.Retry(ctx, syncAttempts, syncBaseDelay, func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		acct, err = b.client.GetAccount()
		return err
	})
	if err != nil {
		return domain.AccountInfo{}, fmt.Errorf("alpaca account: %w", err)
	}
	return domain.AccountInfo{
		AccountID:      acct.ID,
		NetLiquidation: acct.Equity.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		Cash:           acct.Cash.InexactFloat64(),
		Currency:       acct.Currency,
	}, nil
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}
