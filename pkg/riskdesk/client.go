package riskdesk

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"riskdesk/internal/domain"
)

// Client provides a Go SDK for the riskdesk trader's Desk service.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
}

// Dial connects to a Desk server at target. Without options the
// connection uses plaintext credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return Decode(out, resp)
}

// PlaceOrder submits an order and returns its id.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (int64, error) {
	var resp PlaceOrderResponse
	if err := c.invoke(ctx, MethodPlaceOrder, req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, id int64) error {
	return c.invoke(ctx, MethodCancelOrder, OrderRequest{ID: id}, nil)
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var resp OrderResponse
	if err := c.invoke(ctx, MethodGetOrder, OrderRequest{ID: id}, &resp); err != nil {
		return domain.Order{}, err
	}
	return resp.Order, nil
}

// ListOrders returns the orders matching req.
func (c *Client) ListOrders(ctx context.Context, req ListOrdersRequest) ([]domain.Order, error) {
	var resp ListOrdersResponse
	if err := c.invoke(ctx, MethodListOrders, req, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// GetPortfolio retrieves the portfolio analytics and gateway stats.
func (c *Client) GetPortfolio(ctx context.Context) (PortfolioResponse, error) {
	var resp PortfolioResponse
	err := c.invoke(ctx, MethodGetPortfolio, struct{}{}, &resp)
	return resp, err
}

// Rebalance asks the trader to rebalance toward its target allocation.
func (c *Client) Rebalance(ctx context.Context, req RebalanceRequest) (RebalanceResponse, error) {
	var resp RebalanceResponse
	err := c.invoke(ctx, MethodRebalance, req, &resp)
	return resp, err
}
