package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"riskdesk/pkg/riskdesk"
)

// DeskServer is the server API for the riskdesk.v1.Desk service.
type DeskServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPortfolio(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Rebalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type deskMethod func(DeskServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary builds the method descriptor for one Struct-in, Struct-out call.
func unary(name string, call deskMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DeskServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: riskdesk.FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(DeskServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// DeskServiceDesc describes the riskdesk.v1.Desk service.
var DeskServiceDesc = grpc.ServiceDesc{
	ServiceName: riskdesk.ServiceName,
	HandlerType: (*DeskServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(riskdesk.MethodPlaceOrder, DeskServer.PlaceOrder),
		unary(riskdesk.MethodCancelOrder, DeskServer.CancelOrder),
		unary(riskdesk.MethodGetOrder, DeskServer.GetOrder),
		unary(riskdesk.MethodListOrders, DeskServer.ListOrders),
		unary(riskdesk.MethodGetPortfolio, DeskServer.GetPortfolio),
		unary(riskdesk.MethodRebalance, DeskServer.Rebalance),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "riskdesk/v1/desk.proto",
}

// RegisterDeskServer registers srv on s.
func RegisterDeskServer(s grpc.ServiceRegistrar, srv DeskServer) {
	s.RegisterService(&DeskServiceDesc, srv)
}
