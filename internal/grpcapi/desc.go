package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "lockgate.v1.LockService"

// Full method names.
const (
	StatusMethod  = "/" + ServiceName + "/Status"
	UnlockMethod  = "/" + ServiceName + "/Unlock"
	HistoryMethod = "/" + ServiceName + "/History"
	WatchMethod   = "/" + ServiceName + "/Watch"
)

// LockServiceServer is the server side of lockgate.v1.LockService.  Every
// message is a google.protobuf.Struct carrying the same fields as the HTTP
// API's JSON bodies.
type LockServiceServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func unaryHandler(name string, call func(LockServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LockServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: name}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LockServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LockServiceServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var LockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unaryHandler(StatusMethod, LockServiceServer.Status)},
		{MethodName: "Unlock", Handler: unaryHandler(UnlockMethod, LockServiceServer.Unlock)},
		{MethodName: "History", Handler: unaryHandler(HistoryMethod, LockServiceServer.History)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "lockgate/v1/lock.proto",
}

// Client calls lockgate.v1.LockService over conn.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, StatusMethod, in, opts...)
}

func (c *Client) Unlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, UnlockMethod, in, opts...)
}

func (c *Client) History(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, HistoryMethod, in, opts...)
}

func (c *Client) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &LockServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
