package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/routeharness/internal/harness"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/observability"
	"github.com/signalsfoundry/routeharness/internal/testbed"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// errChecksFailed is returned by run when the checkpoint log does not
// satisfy the configured scenarios.
var errChecksFailed = errors.New("scenario checks failed")

type runOptions struct {
	topology     string
	horizon      time.Duration
	latency      time.Duration
	validate     bool
	basicAttribs bool
	metricsAddr  string
	resolver     resolverFlags
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenarios declared by a topology and check their checkpoints",
		Example: "  routeharness run --topology configs/withdrawal.yaml\n" +
			"  routeharness run --topology configs/forwarding.yaml --validate --horizon 30s",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.topology, "topology", "t", "", "YAML topology description")
	f.DurationVar(&o.horizon, "horizon", 5*time.Minute, "simulated time to run for")
	f.DurationVar(&o.latency, "latency", 0, "link latency for links that do not set one (default 10ms)")
	f.BoolVar(&o.validate, "validate", false, "record forwarding checkpoints at app receivers")
	f.BoolVar(&o.basicAttribs, "basic-attribs", false, "advertise routes without an ORIGIN attribute")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	o.resolver.register(cmd)
	_ = cmd.MarkFlagRequired("topology")
	return cmd
}

func (o *runOptions) harnessOptions() harness.Options {
	opts := harness.Options{BasicAttributes: o.basicAttribs}
	if o.validate {
		opts.Validation = harness.ValidationOn
	}
	return opts
}

func (o *runOptions) run(ctx context.Context, out io.Writer) error {
	ctx, log := logging.WithRunLogger(ctx, logging.NewFromEnv())

	tcfg := observability.TracingConfigFromEnv(observability.RoleRun)
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
	remote, closeRemote, err := o.resolver.dialRemote()
	if err != nil {
		return err
	}
	defer closeRemote()

	metrics, err := observability.NewHarnessCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	tb, err := testbed.Build(ctx, testbed.Config{
		Description:    desc,
		Options:        o.harnessOptions(),
		Partitions:     o.resolver.partitions,
		Remote:         remote,
		DefaultLatency: o.latency,
		Log:            log,
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("build testbed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if srv := newMetricsServer(o.metricsAddr, metrics.Handler()); srv != nil {
		g.Go(serveUntilDone(gctx, srv, log))
	}
	var rep harness.Report
	g.Go(func() error {
		defer cancel()
		var err error
		rep, err = tb.Run(gctx, o.horizon)
		return err
	})
	runErr := g.Wait()

	fmt.Fprintf(out, "stopped: %s after %s (%d events, %d agents)\n", rep.Reason, rep.Elapsed, rep.Events, rep.Agents)
	if delivered, dropped := tb.Delivered(); delivered+dropped > 0 {
		fmt.Fprintf(out, "app messages: %d delivered, %d dropped\n", delivered, dropped)
	}
	if runErr != nil {
		return runErr
	}

	results, err := tb.Verify()
	for _, r := range results {
		fmt.Fprintln(out, r.String())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errChecksFailed, err)
	}
	return nil
}
