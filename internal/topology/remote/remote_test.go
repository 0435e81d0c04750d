package remote

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

const topo = `
net:
  nets:
    - id_range: {min: 1, max: 4}
      hosts:
        - id: 1
          interfaces: [0, 1]
          graph:
            sessions: [{name: bgp}, {name: test}]
`

func directory(t *testing.T, opts ...topology.DirectoryOption) *topology.Directory {
	t.Helper()
	desc, err := topology.Load(strings.NewReader(topo))
	require.NoError(t, err)
	dir, faults := topology.NewDirectory(&desc.Net, opts...)
	require.Empty(t, faults)
	return dir
}

func startServer(t *testing.T, dir *topology.Directory, interceptors ...grpc.UnaryServerInterceptor) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	RegisterAddressServer(srv, NewServer(dir, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientResolvesLikeDirectory(t *testing.T) {
	dir := directory(t)
	client := startServer(t, dir)
	ctx := context.Background()

	for _, ref := range []topology.IfaceRef{
		{Host: topology.ID{1, 1}, Iface: 0},
		{Host: topology.ID{3, 1}, Iface: 1},
	} {
		want, err := dir.Resolve(ctx, ref.Host, ref.Iface)
		require.NoError(t, err)
		got, err := client.Resolve(ctx, ref.Host, ref.Iface)
		require.NoError(t, err)
		require.Equal(t, want, got, ref.String())
	}
}

func TestClientMapsErrors(t *testing.T) {
	client := startServer(t, directory(t, topology.WithPartitions(1)))
	ctx := context.Background()

	_, err := client.Resolve(ctx, topology.ID{1, 9}, 0)
	require.ErrorIs(t, err, topology.ErrUnresolvedIdentifier)

	_, err = client.Resolve(ctx, topology.ID{2, 1}, 0)
	require.ErrorIs(t, err, topology.ErrAddressUnavailable)
}

func TestChainFallsBackToRemote(t *testing.T) {
	client := startServer(t, directory(t))
	local := directory(t, topology.WithPartitions(1, 2))
	chain := topology.ChainResolver{Local: local, Remote: client}

	got, err := chain.Resolve(context.Background(), topology.ID{4, 1}, 0)
	require.NoError(t, err)
	want, err := topology.AddressFor(topology.ID{4, 1}, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEnumerate(t *testing.T) {
	client := startServer(t, directory(t))

	ids, err := client.Enumerate(context.Background(), topology.ID{})
	require.NoError(t, err)
	var got []string
	for _, id := range ids {
		got = append(got, id.String())
	}
	require.Equal(t, []string{"1:1", "2:1", "3:1", "4:1"}, got)

	ids, err = client.Enumerate(context.Background(), topology.ID{3})
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestRunIDPropagatesToServer(t *testing.T) {
	var seen string
	capture := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		seen = logging.RunIDFromContext(ctx)
		return handler(ctx, req)
	}
	client := startServer(t, directory(t), RunIDUnaryServerInterceptor(nil), capture)

	ctx := logging.ContextWithRunID(context.Background(), "run-42")
	_, err := client.Resolve(ctx, topology.ID{1, 1}, 0)
	require.NoError(t, err)
	require.Equal(t, "run-42", seen)
}

func TestRunIDServerInterceptorMintsID(t *testing.T) {
	interceptor := RunIDUnaryServerInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: resolveMethod}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})

	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		require.NotEmpty(t, logging.RunIDFromContext(ctx))
		require.NotNil(t, logging.LoggerFromContext(ctx))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestToStatusError(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{topology.ErrUnresolvedIdentifier, codes.NotFound},
		{topology.ErrBadID, codes.InvalidArgument},
		{topology.ErrAddressUnavailable, codes.Unavailable},
		{status.Error(codes.Aborted, "x"), codes.Aborted},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, status.Code(ToStatusError(tc.err)), tc.err.Error())
	}
	require.NoError(t, ToStatusError(nil))
}
