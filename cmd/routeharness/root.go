package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/topology"
	"github.com/signalsfoundry/routeharness/internal/topology/remote"
)

var rootCmd = &cobra.Command{
	Use:   "routeharness",
	Short: "Routing protocol conformance harness",
	Long: "routeharness builds a simulated network from a YAML topology, runs the scripted " +
		"test agents it declares in virtual time and checks the checkpoints they record.",
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newScenariosCmd())
	rootCmd.AddCommand(newServeResolverCmd())
}

// resolverFlags are shared by the commands that resolve addresses.
type resolverFlags struct {
	partitions []int
	remoteAddr string
}

func (f *resolverFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&f.partitions, "partition", nil, "top-level network ids resolvable locally (default: all)")
	cmd.Flags().StringVar(&f.remoteAddr, "resolver", "", "address of a remote resolver for identifiers outside the local partitions")
}

// dialRemote connects to the remote resolver when one is configured. The
// returned close function is never nil.
func (f *resolverFlags) dialRemote() (topology.Resolver, func(), error) {
	if f.remoteAddr == "" {
		if len(f.partitions) > 0 {
			return nil, nil, errors.New("--partition needs --resolver")
		}
		return nil, func() {}, nil
	}
	client, err := remote.Dial(f.remoteAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial resolver %s: %w", f.remoteAddr, err)
	}
	return client, func() { _ = client.Close() }, nil
}

// newMetricsServer returns an HTTP server for /metrics, or nil when addr is
// empty.
func newMetricsServer(addr string, h http.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serveUntilDone runs srv until ctx ends, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server, log logging.Logger) func() error {
	return func() error {
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		log.Info(ctx, "serving Prometheus metrics", logging.String("addr", srv.Addr))

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("metrics server: %w", err)
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
