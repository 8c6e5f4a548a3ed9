package sessiongrpc

import (
	"context"

	"google.golang.org/grpc"
	"pkt.systems/shellkeep/schema"
)

const serviceName = "shellkeep.v1.Sessions"

const (
	attachMethod = "/" + serviceName + "/Attach"
	detachMethod = "/" + serviceName + "/Detach"
	killMethod   = "/" + serviceName + "/Kill"
	listMethod   = "/" + serviceName + "/List"
	pingMethod   = "/" + serviceName + "/Ping"
)

// SessionsServer is the daemon side of the sessions service.
type SessionsServer interface {
	Attach(stream grpc.BidiStreamingServer[AttachFrame, ServerFrame]) error
	Detach(ctx context.Context, req *schema.DetachRequest) (*schema.DetachResult, error)
	Kill(ctx context.Context, req *schema.KillRequest) (*schema.KillResult, error)
	List(ctx context.Context, req *ListRequest) (*schema.ListResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

// RegisterSessionsServer registers srv on registrar.
func RegisterSessionsServer(registrar grpc.ServiceRegistrar, srv SessionsServer) {
	registrar.RegisterService(&sessionsServiceDesc, srv)
}

var sessionsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detach", Handler: unaryHandler(detachMethod, SessionsServer.Detach)},
		{MethodName: "Kill", Handler: unaryHandler(killMethod, SessionsServer.Kill)},
		{MethodName: "List", Handler: unaryHandler(listMethod, SessionsServer.List)},
		{MethodName: "Ping", Handler: unaryHandler(pingMethod, SessionsServer.Ping)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Attach",
			Handler:       attachHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "shellkeep/v1/sessions",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(SessionsServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionsServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func attachHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionsServer).Attach(&grpc.GenericServerStream[AttachFrame, ServerFrame]{ServerStream: stream})
}
