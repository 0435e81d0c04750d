package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/observability"
	"github.com/signalsfoundry/routeharness/internal/topology"
	"github.com/signalsfoundry/routeharness/internal/topology/remote"
)

type serveOptions struct {
	topology    string
	addr        string
	metricsAddr string
	partitions  []int
}

func newServeResolverCmd() *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve-resolver",
		Short: "Serve address resolution for a topology over gRPC",
		Long: "serve-resolver answers Resolve and Enumerate calls for the hosts of a topology, " +
			"so runs that only hold some partitions locally can resolve the rest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			lis, err := net.Listen("tcp", o.addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", o.addr, err)
			}
			return o.serve(cmd.Context(), lis)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.topology, "topology", "t", "", "YAML topology description")
	f.StringVar(&o.addr, "addr", ":50061", "gRPC listen address")
	f.StringVar(&o.metricsAddr, "metrics-addr", ":9101", "Prometheus metrics listen address (empty to disable)")
	f.IntSliceVar(&o.partitions, "partition", nil, "top-level network ids to serve (default: all)")
	_ = cmd.MarkFlagRequired("topology")
	return cmd
}

// serve runs the address service on lis until ctx ends.
func (o *serveOptions) serve(ctx context.Context, lis net.Listener) error {
	log := logging.NewFromEnv()

	tcfg := observability.TracingConfigFromEnv(observability.RoleResolver)
	tcfg.Topology = o.topology
	shutdown, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	desc, err := topology.LoadFile(o.topology)
	if err != nil {
		return err
	}
	var opts []topology.DirectoryOption
	if len(o.partitions) > 0 {
		opts = append(opts, topology.WithPartitions(o.partitions...))
	}
	dir, faults := topology.NewDirectory(&desc.Net, opts...)
	for _, f := range faults {
		log.Warn(ctx, "skipping malformed topology node", logging.Err(f))
	}

	collector, err := observability.NewResolverCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	collector.SetDirectoryHosts(len(dir.Enumerate(nil)))

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			remote.RunIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	remote.RegisterAddressServer(srv, remote.NewServer(dir, log))

	g, gctx := errgroup.WithContext(ctx)
	if ms := newMetricsServer(o.metricsAddr, collector.Handler()); ms != nil {
		g.Go(serveUntilDone(gctx, ms, log))
	}
	g.Go(func() error {
		log.Info(ctx, "address service listening",
			logging.String("addr", lis.Addr().String()),
			logging.Int("hosts", len(dir.Enumerate(nil))),
		)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down address service")
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}
