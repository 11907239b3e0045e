package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "kestrel.v1.Exchange"

// Exchange is the RPC surface. Messages are free-form structs so clients
// need no generated stubs.
type Exchange interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Revise(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelMarket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Archive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTrades(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPositions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDepth(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(Exchange, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, icpt grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if icpt == nil {
				return fn(srv.(Exchange), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return icpt(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(Exchange), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Exchange)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", Exchange.Submit),
		unary("Revise", Exchange.Revise),
		unary("Cancel", Exchange.Cancel),
		unary("CancelMarket", Exchange.CancelMarket),
		unary("Archive", Exchange.Archive),
		unary("GetOrder", Exchange.GetOrder),
		unary("ListOrders", Exchange.ListOrders),
		unary("ListTrades", Exchange.ListTrades),
		unary("ListPositions", Exchange.ListPositions),
		unary("GetDepth", Exchange.GetDepth),
	},
	Metadata: "kestrel/exchange",
}

func Register(s grpc.ServiceRegistrar, x Exchange) {
	s.RegisterService(&ServiceDesc, x)
}

// Invoke calls method on a client connection.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
