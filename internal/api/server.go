// Package api serves the riskdesk.v1.Desk gRPC service: order placement,
// cancellation and queries against the gateway, portfolio analytics, and
// on-demand rebalancing.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"riskdesk/internal/config"
	"riskdesk/internal/desk"
	"riskdesk/internal/domain"
	"riskdesk/internal/engine"
	"riskdesk/internal/util"
	"riskdesk/pkg/riskdesk"
)

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements DeskServer over a Desk.
type Service struct {
	desk      *desk.Desk
	target    map[string]float64
	threshold float64
	log       *slog.Logger
}

var _ DeskServer = (*Service)(nil)

// NewService creates a Service. target and threshold are the rebalance
// defaults used when a request does not override them.
func NewService(d *desk.Desk, target map[string]float64, threshold float64, log *slog.Logger) *Service {
	return &Service{
		desk:      d,
		target:    target,
		threshold: threshold,
		log:       util.OrDefault(log).With("component", "api"),
	}
}

// PlaceOrder submits a new order through the gateway.
func (s *Service) PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req riskdesk.PlaceOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	id, err := s.desk.Engine().SubmitOrder(ctx, req.Order())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(riskdesk.PlaceOrderResponse{ID: id})
}

// CancelOrder cancels an open order.
func (s *Service) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req riskdesk.OrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.desk.Engine().CancelOrder(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return encode(riskdesk.OrderRequest{ID: req.ID})
}

// GetOrder returns one order from the book.
func (s *Service) GetOrder(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req riskdesk.OrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	o, ok := s.desk.Engine().GetOrder(req.ID)
	if !ok {
		return nil, toStatus(fmt.Errorf("%w: %d", engine.ErrOrderNotFound, req.ID))
	}
	return encode(riskdesk.OrderResponse{Order: o})
}

// ListOrders returns the book filtered by status and symbol.
func (s *Service) ListOrders(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req riskdesk.ListOrdersRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	e := s.desk.Engine()
	var orders []domain.Order
	switch {
	case req.Status != "":
		orders = e.OrdersByStatus(req.Status)
	case req.Symbol != "":
		orders = e.OrdersBySymbol(req.Symbol)
	default:
		orders = e.AllOrders()
	}
	if req.Status != "" && req.Symbol != "" {
		kept := orders[:0]
		for _, o := range orders {
			if o.Symbol == req.Symbol {
				kept = append(kept, o)
			}
		}
		orders = kept
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if orders == nil {
		orders = []domain.Order{}
	}
	return encode(riskdesk.ListOrdersResponse{Orders: orders})
}

// GetPortfolio returns the portfolio summary and gateway statistics.
func (s *Service) GetPortfolio(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	e := s.desk.Engine()
	return encode(riskdesk.PortfolioResponse{
		Portfolio: s.desk.Portfolio().Summary(),
		Gateway: riskdesk.GatewayStats{
			TotalPnL:      e.TotalPnL(),
			DailyPnL:      e.DailyPnL(),
			TotalTrades:   e.TotalTrades(),
			WinningTrades: e.WinningTrades(),
			WinRate:       e.WinRate(),
			Limits:        e.Risk().Limits(),
		},
		Account: s.desk.Account(),
	})
}

// Rebalance submits rebalancing orders. Rejected orders are reported in the
// response rather than failing the call.
func (s *Service) Rebalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req riskdesk.RebalanceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	target, threshold := s.target, s.threshold
	if req.Target != nil {
		target = req.Target
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	for sym, w := range target {
		if w < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "negative target weight for %s", sym)
		}
	}
	if threshold < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "negative threshold %v", threshold)
	}

	ids, err := s.desk.Rebalance(ctx, target, threshold)
	resp := riskdesk.RebalanceResponse{OrderIDs: ids}
	if resp.OrderIDs == nil {
		resp.OrderIDs = []int64{}
	}
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{err.Error()}
		}
	}
	return encode(resp)
}

func decode(in *structpb.Struct, v any) error {
	if err := riskdesk.Decode(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	s, err := riskdesk.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// toStatus maps gateway errors onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		code = codes.InvalidArgument
	case errors.Is(err, engine.ErrRiskLimit), errors.Is(err, engine.ErrOrderClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, engine.ErrOrderNotFound):
		code = codes.NotFound
	case errors.Is(err, engine.ErrVenueRejected):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server hosts the Desk service on the configured gRPC port.
type Server struct {
	grpcAddr string
	srv      *grpc.Server
	log      *slog.Logger
}

// NewServer creates a Server for svc listening on cfg.Server.Host and
// cfg.Server.GRPCPort.
func NewServer(cfg *config.Config, svc DeskServer, log *slog.Logger) *Server {
	log = util.OrDefault(log).With("component", "grpc")
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(log)))
	RegisterDeskServer(srv, svc)
	return &Server{
		grpcAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)),
		srv:      srv,
		log:      log,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.grpcAddr }

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc server listening", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and blocks until ctx is
// cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()
	return s.Serve(lis)
}

// Shutdown stops accepting new RPCs and waits for in-flight ones until ctx
// expires, after which remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.srv.Stop()
		return ctx.Err()
	}
}

func logUnary(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelDebug
		if code != codes.OK {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "rpc", "method", info.FullMethod, "code", code.String(), "elapsed", time.Since(start))
		return resp, err
	}
}
