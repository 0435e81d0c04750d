// Package remote serves a topology Directory over gRPC so a harness run can
// resolve identifiers owned by partitions it does not load locally.
//
// The service uses protobuf well-known types for its messages, so no
// generated code is needed:
//
//	Resolve(StringValue "2:1(0)") returns StringValue "fd00:2:2:1::"
//	Enumerate(StringValue "2") returns ListValue ["2:1", "2:2"]
package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

const (
	ServiceName     = "routeharness.topology.v1.AddressService"
	resolveMethod   = "/" + ServiceName + "/Resolve"
	enumerateMethod = "/" + ServiceName + "/Enumerate"

	runIDMetadataKey = "x-run-id"
)

// AddressServer is the server API of the address service.
type AddressServer interface {
	Resolve(ctx context.Context, ref *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Enumerate(ctx context.Context, prefix *wrapperspb.StringValue) (*structpb.ListValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AddressServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: resolveHandler},
		{MethodName: "Enumerate", Handler: enumerateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "routeharness/topology/v1/address.proto",
}

// RegisterAddressServer registers srv on s.
func RegisterAddressServer(s grpc.ServiceRegistrar, srv AddressServer) {
	s.RegisterService(&serviceDesc, srv)
}

func resolveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AddressServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resolveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AddressServer).Resolve(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func enumerateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AddressServer).Enumerate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: enumerateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AddressServer).Enumerate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ToStatusError maps topology errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, topology.ErrUnresolvedIdentifier):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, topology.ErrBadID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, topology.ErrAddressUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatusError maps a status returned by the service back onto the
// topology sentinels. Anything that is not a definite answer about the
// identifier becomes ErrAddressUnavailable.
func FromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		return errors.Join(topology.ErrUnresolvedIdentifier, err)
	case codes.InvalidArgument:
		return errors.Join(topology.ErrBadID, err)
	default:
		return errors.Join(topology.ErrAddressUnavailable, err)
	}
}

// RunIDUnaryServerInterceptor adopts the caller's run_id from inbound
// metadata, if provided, and attaches a per-request logger annotated with
// run_id and method.
func RunIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(runIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRunID(ctx, vals[0])
			}
		}
		ctx, reqLog := logging.WithRunLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		return handler(ctx, req)
	}
}

// RunIDUnaryClientInterceptor forwards the run_id on ctx as outbound
// metadata so server logs can be joined with the calling run.
func RunIDUnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := logging.RunIDFromContext(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, runIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
