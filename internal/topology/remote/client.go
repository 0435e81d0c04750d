package remote

import (
	"context"
	"fmt"
	"net/netip"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/routeharness/internal/topology"
)

// Client is a topology.Resolver backed by a remote AddressService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the AddressService at target. Extra options are appended
// after the defaults, so tests can swap the transport.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RunIDUnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial address service %q: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Resolve implements topology.Resolver.
func (c *Client) Resolve(ctx context.Context, id topology.ID, iface int) (netip.Addr, error) {
	ref := topology.IfaceRef{Host: id, Iface: iface}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, resolveMethod, wrapperspb.String(ref.String()), out); err != nil {
		return netip.Addr{}, fmt.Errorf("remote resolve %s: %w", ref, FromStatusError(err))
	}
	addr, err := netip.ParseAddr(out.GetValue())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: remote returned %q for %s", topology.ErrAddressUnavailable, out.GetValue(), ref)
	}
	return addr, nil
}

// Enumerate lists the remote hosts beneath prefix.
func (c *Client) Enumerate(ctx context.Context, prefix topology.ID) ([]topology.ID, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, enumerateMethod, wrapperspb.String(prefix.String()), out); err != nil {
		return nil, fmt.Errorf("remote enumerate %q: %w", prefix, FromStatusError(err))
	}
	return parseList(out)
}

var _ topology.Resolver = (*Client)(nil)
