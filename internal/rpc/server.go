// Package rpc serves the dispatcher as the gRPC service playwright.Playwright.
// Every command is a unary method taking and returning google.protobuf.Struct;
// the session is read from the "session-id" metadata key.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/neboloop/browserd/internal/browser"
	"github.com/neboloop/browserd/internal/dispatch"
	"github.com/neboloop/browserd/internal/logging"
	"github.com/neboloop/browserd/internal/middleware"
)

const (
	ServiceName = "playwright.Playwright"

	// SessionKey selects the session a call runs against.
	SessionKey = "session-id"

	// KindKey is the trailer carrying the error kind of a failed call.
	KindKey = "error-kind"
)

// PlaywrightServer is the handler type registered for ServiceName.
type PlaywrightServer interface {
	Call(ctx context.Context, command dispatch.Command, in *structpb.Struct) (*structpb.Struct, error)
}

// Service implements PlaywrightServer on a dispatcher.
type Service struct {
	d *dispatch.Dispatcher
}

func NewService(d *dispatch.Dispatcher) *Service {
	return &Service{d: d}
}

// Call runs command with in as its payload.
func (s *Service) Call(ctx context.Context, command dispatch.Command, in *structpb.Struct) (*structpb.Struct, error) {
	session := sessionFromContext(ctx)
	if !middleware.SessionAllowed(ctx, session) {
		return nil, status.Errorf(codes.PermissionDenied, "token is not valid for session %q", session)
	}

	var payload json.RawMessage
	if len(in.GetFields()) > 0 {
		b, err := protojson.Marshal(in)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "encode payload: %v", err)
		}
		payload = b
	}

	resp, err := s.d.Dispatch(ctx, session, dispatch.Request{Command: string(command), Payload: payload})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return toStruct(resp)
}

func sessionFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(SessionKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

func toStruct(resp *dispatch.Response) (*structpb.Struct, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// CodeForKind maps an error kind to a gRPC status code.
func CodeForKind(kind browser.Kind) codes.Code {
	switch kind {
	case browser.KindIndexOutOfRange:
		return codes.OutOfRange
	case browser.KindMalformedPayload:
		return codes.InvalidArgument
	case browser.KindUnknownCommand:
		return codes.Unimplemented
	case browser.KindEngineUnavailable, browser.KindNoBrowserOpen:
		return codes.FailedPrecondition
	case browser.KindLaunchTimeout:
		return codes.DeadlineExceeded
	case browser.KindProcessCrashed:
		return codes.Aborted
	case browser.KindNavigation, browser.KindSessionClosed:
		return codes.Unavailable
	case browser.KindSessionLimit:
		return codes.ResourceExhausted
	case browser.KindCanceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func toStatus(ctx context.Context, err error) error {
	kind := browser.KindOf(err)
	if terr := grpc.SetTrailer(ctx, metadata.Pairs(KindKey, string(kind))); terr != nil {
		logging.Debugf("[rpc] set trailer: %v", terr)
	}
	return status.Error(CodeForKind(kind), err.Error())
}

func unaryHandler(command dispatch.Command) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + string(command)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(PlaywrightServer).Call(ctx, command, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(PlaywrightServer).Call(ctx, command, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes one unary method per dispatcher command.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(dispatch.Commands))
	for _, c := range dispatch.Commands {
		methods = append(methods, grpc.MethodDesc{
			MethodName: string(c),
			Handler:    unaryHandler(c),
		})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*PlaywrightServer)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "playwright.proto",
	}
}

// unknownMethod answers calls to methods the service does not define so the
// caller still gets an error-kind trailer.
func unknownMethod(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	stream.SetTrailer(metadata.Pairs(KindKey, string(browser.KindUnknownCommand)))
	name := method[strings.LastIndex(method, "/")+1:]
	return status.Error(codes.Unimplemented, fmt.Sprintf("%v: %q", browser.ErrUnknownCommand, name))
}

// NewServer returns a gRPC server exposing d. A non-empty secret requires a
// bearer JWT on every call.
func NewServer(d *dispatch.Dispatcher, secret string, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoveryInterceptor(), AuthInterceptor(secret)),
		grpc.UnknownServiceHandler(unknownMethod),
	}, opts...)
	s := grpc.NewServer(opts...)
	s.RegisterService(&ServiceDesc, NewService(d))
	return s
}
