package remote

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// Server answers address queries from a local Directory.
type Server struct {
	dir *topology.Directory
	log logging.Logger
}

// NewServer returns a Server backed by dir.
func NewServer(dir *topology.Directory, log logging.Logger) *Server {
	return &Server{dir: dir, log: logging.OrNoop(log)}
}

func (s *Server) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// Resolve implements AddressServer.
func (s *Server) Resolve(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	ref, err := topology.ParseIfaceRef(req.GetValue(), 0)
	if err != nil {
		return nil, ToStatusError(err)
	}
	addr, err := s.dir.Resolve(ctx, ref.Host, ref.Iface)
	if err != nil {
		s.logger(ctx).Debug(ctx, "resolve failed",
			logging.String("ref", ref.String()),
			logging.Err(err),
		)
		return nil, ToStatusError(err)
	}
	return wrapperspb.String(addr.String()), nil
}

// Enumerate implements AddressServer.
func (s *Server) Enumerate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	prefix, err := topology.ParseID(req.GetValue())
	if err != nil {
		return nil, ToStatusError(err)
	}
	ids := s.dir.Enumerate(prefix)
	values := make([]*structpb.Value, len(ids))
	for i, id := range ids {
		values[i] = structpb.NewStringValue(id.String())
	}
	s.logger(ctx).Debug(ctx, "enumerated hosts",
		logging.String("prefix", prefix.String()),
		logging.Int("hosts", len(ids)),
	)
	return &structpb.ListValue{Values: values}, nil
}

var _ AddressServer = (*Server)(nil)

func parseList(list *structpb.ListValue) ([]topology.ID, error) {
	out := make([]topology.ID, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: non-string entry in host list", topology.ErrBadID)
		}
		id, err := topology.ParseID(sv.StringValue)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
