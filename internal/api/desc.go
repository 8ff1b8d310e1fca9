package api

import (
	"context"
	"errors"

	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/store"
	"github.com/matheus3301/wirego/internal/work"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	SessionServiceName      = "wire.v1.SessionService"
	ConversationServiceName = "wire.v1.ConversationService"
)

// SessionServer is the server API of wire.v1.SessionService.
type SessionServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetForeground(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckHealth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// ConversationServer is the server API of wire.v1.ConversationService.
type ConversationServer interface {
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListClients(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unary(service, name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// SessionServiceDesc describes wire.v1.SessionService for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(SessionServer).GetStatus(ctx, req)
		}),
		unary(SessionServiceName, "Connect", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(SessionServer).Connect(ctx, req)
		}),
		unary(SessionServiceName, "Disconnect", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(SessionServer).Disconnect(ctx, req)
		}),
		unary(SessionServiceName, "SetForeground", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(SessionServer).SetForeground(ctx, req)
		}),
		unary(SessionServiceName, "CheckHealth", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(SessionServer).CheckHealth(ctx, req)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SessionServer).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "wire/v1/session.proto",
}

// ConversationServiceDesc describes wire.v1.ConversationService.
var ConversationServiceDesc = grpc.ServiceDesc{
	ServiceName: ConversationServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ConversationServiceName, "ListConversations", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ConversationServer).ListConversations(ctx, req)
		}),
		unary(ConversationServiceName, "ListClients", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ConversationServer).ListClients(ctx, req)
		}),
		unary(ConversationServiceName, "ListMessages", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ConversationServer).ListMessages(ctx, req)
		}),
		unary(ConversationServiceName, "SendText", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ConversationServer).SendText(ctx, req)
		}),
	},
	Metadata: "wire/v1/conversation.proto",
}

// Register adds both services to srv.
func Register(srv grpc.ServiceRegistrar, session SessionServer, conversations ConversationServer) {
	srv.RegisterService(&SessionServiceDesc, session)
	srv.RegisterService(&ConversationServiceDesc, conversations)
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, work.ErrUnknownWork):
		code = codes.NotFound
	case errors.Is(err, store.ErrInvalidWindow):
		code = codes.InvalidArgument
	case store.IsConstraintViolation(err):
		code = codes.FailedPrecondition
	case errors.Is(err, socket.ErrNotConnected), errors.Is(err, socket.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
