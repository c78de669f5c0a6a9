package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cascade.v1.CascadeService"

const (
	resolveMethod = "/" + ServiceName + "/Resolve"
	routeMethod   = "/" + ServiceName + "/Route"
)

// CascadeServer is the server API for CascadeService.
//
// Messages are google.protobuf.Struct documents so that field values keep
// their JSON types on the wire without a generated schema per rule set.
//
//	Resolve: {scope_id, values{}, resolved{}} -> {hidden[], required[], recalculate[], computed{}, converged, passes}
//	Route:   {targets[], values{}} -> {results[{scope_id, pass, converged, passes, hidden[], error}]}
type CascadeServer interface {
	Resolve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Route(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCascadeServer registers srv on s.
func RegisterCascadeServer(s grpc.ServiceRegistrar, srv CascadeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes CascadeService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CascadeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: resolveHandler},
		{MethodName: "Route", Handler: routeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cascade/v1/cascade.proto",
}

func resolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CascadeServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resolveMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CascadeServer).Resolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func routeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CascadeServer).Route(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: routeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CascadeServer).Route(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls CascadeService over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Resolve calls CascadeService/Resolve.
func (c *Client) Resolve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, resolveMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Route calls CascadeService/Route.
func (c *Client) Route(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, routeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
