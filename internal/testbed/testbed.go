// Package testbed turns a topology description into a runnable simulated
// network: hosts and links in a knowledge base, a reference routing
// engine for every "bgp" session, and test agents for the sessions that
// ask for one.
package testbed

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/routeharness/core"
	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/engine"
	"github.com/signalsfoundry/routeharness/internal/engine/refengine"
	"github.com/signalsfoundry/routeharness/internal/harness"
	"github.com/signalsfoundry/routeharness/internal/harness/scenarios"
	"github.com/signalsfoundry/routeharness/internal/locator"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/observability"
	"github.com/signalsfoundry/routeharness/internal/sched"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// UseApp selects the app agent for a session.
const UseApp = "app"

const (
	defaultLatency = 10 * time.Millisecond
)

var defaultStart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrUnknownUse is returned for a session whose implementation is not
// known.
var ErrUnknownUse = errors.New("unknown session implementation")

// Config describes how to build a testbed.
type Config struct {
	Description *topology.Description
	Options     harness.Options

	// Partitions, when set, limits what agents can resolve locally to the
	// listed top-level networks; Remote answers for the rest.
	Partitions []int
	Remote     topology.Resolver

	Start          time.Time
	DefaultLatency time.Duration

	Log     logging.Logger
	Metrics *observability.HarnessCollector
}

// Testbed is a built network ready to run.
type Testbed struct {
	KB        *core.KnowledgeBase
	Directory *topology.Directory
	Driver    *sched.Driver
	Recorder  *checkpoint.Recorder
	Engines   map[string]*refengine.Engine
	Processes []*harness.Process
	Apps      []*harness.AppAgent
	// Faults are the malformed topology nodes skipped while building.
	Faults []error

	env          *harness.Env
	runner       *harness.Runner
	fabric       *Fabric
	expectations map[checkpoint.Tag]checkpoint.Expectation
	log          logging.Logger
}

// Build constructs the network described by cfg.
func Build(ctx context.Context, cfg Config) (*Testbed, error) {
	if cfg.Description == nil {
		return nil, errors.New("testbed: no topology description")
	}
	log := logging.OrNoop(cfg.Log)
	start := cfg.Start
	if start.IsZero() {
		start = defaultStart
	}
	latency := cfg.DefaultLatency
	if latency <= 0 {
		latency = defaultLatency
	}

	dir, faults := topology.NewDirectory(&cfg.Description.Net)
	for _, f := range faults {
		log.Warn(ctx, "skipping malformed topology node", logging.Err(f))
	}

	tb := &Testbed{
		KB:           core.NewKnowledgeBase(),
		Directory:    dir,
		Driver:       sched.NewDriver(start),
		Engines:      make(map[string]*refengine.Engine),
		Faults:       faults,
		expectations: make(map[checkpoint.Tag]checkpoint.Expectation),
		log:          log,
	}

	recOpts := []checkpoint.Option{checkpoint.WithClock(tb.Driver.Clock), checkpoint.WithLogger(log)}
	if cfg.Metrics != nil {
		tb.Driver.Metrics = cfg.Metrics
		recOpts = append(recOpts, checkpoint.WithMetrics(cfg.Metrics))
	}
	tb.Recorder = checkpoint.NewRecorder(recOpts...)

	tb.env = &harness.Env{
		Scheduler: tb.Driver.Scheduler,
		Locator:   locator.New(tb.KB),
		Resolver:  agentResolver(cfg, dir),
		Topology:  &cfg.Description.Net,
		Recorder:  tb.Recorder,
		Log:       log,
		Options:   cfg.Options,
	}
	if cfg.Metrics != nil {
		tb.env.Metrics = cfg.Metrics
	}
	tb.runner = harness.NewRunner(tb.Driver, tb.env)
	tb.fabric = NewFabric(tb.KB, tb.Driver.Scheduler, log)

	if err := tb.addHosts(ctx); err != nil {
		return nil, err
	}
	if err := tb.addLinks(cfg.Description.Links, latency); err != nil {
		return nil, err
	}
	for _, p := range tb.Processes {
		tb.runner.Add(p)
	}
	for _, a := range tb.Apps {
		tb.runner.Add(a)
	}

	log.Info(ctx, "testbed built",
		logging.Int("hosts", len(tb.KB.NodeIDs())),
		logging.Int("links", len(tb.KB.GetAllNetworkLinks())),
		logging.Int("engines", len(tb.Engines)),
		logging.Int("processes", len(tb.Processes)),
		logging.Int("apps", len(tb.Apps)),
	)
	return tb, nil
}

func agentResolver(cfg Config, full *topology.Directory) topology.Resolver {
	if len(cfg.Partitions) == 0 {
		return full
	}
	local, _ := topology.NewDirectory(&cfg.Description.Net, topology.WithPartitions(cfg.Partitions...))
	return topology.ChainResolver{Local: local, Remote: cfg.Remote}
}

func (tb *Testbed) addHosts(ctx context.Context) error {
	for _, id := range tb.Directory.Enumerate(nil) {
		host, _ := tb.Directory.Host(id)
		node := id.String()
		if err := tb.KB.AddNode(&core.NetworkNode{ID: node, AS: id[0]}); err != nil {
			return err
		}
		for _, idx := range host.InterfaceIDs() {
			addr, err := tb.Directory.Resolve(ctx, id, idx)
			if err != nil {
				return err
			}
			ref := topology.IfaceRef{Host: id, Iface: idx}
			if err := tb.KB.AddInterface(&core.NetworkInterface{
				ID:            ref.String(),
				ParentNodeID:  node,
				Index:         idx,
				Address:       addr,
				IsOperational: true,
			}); err != nil {
				return err
			}
		}
		for _, s := range host.Graph.Sessions {
			if err := tb.addSession(id, host, s); err != nil {
				return fmt.Errorf("host %s session %q: %w", node, s.Name, err)
			}
		}
	}
	return nil
}

func (tb *Testbed) addSession(id topology.ID, host *topology.Host, s topology.Session) error {
	use := s.Use
	if use == "" {
		use = s.Name
	}
	node := id.String()

	switch {
	case use == engine.SessionName:
		eng := refengine.New(node, id[0], tb.Driver.Scheduler, tb.log)
		if err := tb.KB.RegisterSession(node, eng); err != nil {
			return err
		}
		tb.Engines[node] = eng
		return nil

	case use == UseApp:
		cfg, err := harness.ParseAppConfig(s.Options)
		if err != nil {
			return err
		}
		a := harness.NewAppAgent(id, s.Name, host.InterfaceIDs(), tb.env, tb.fabric)
		if err := a.Configure(cfg); err != nil {
			return err
		}
		if err := tb.KB.RegisterSession(node, a); err != nil {
			return err
		}
		tb.fabric.Attach(a)
		tb.Apps = append(tb.Apps, a)
		if cfg.Receiver && tb.env.Options.Validation == harness.ValidationOn {
			for _, tag := range checkpoint.ForwardingTags {
				tb.expectations[tag] = checkpoint.Expectation{Scenario: tag, Steps: []int{1}}
			}
		}
		return nil
	}

	sc, ok := scenarios.Lookup(use)
	if !ok {
		if s.Use != "" {
			return fmt.Errorf("%w: %q", ErrUnknownUse, s.Use)
		}
		tb.log.Debug(context.Background(), "session has no implementation, ignored",
			logging.String("host", node),
			logging.String("session", s.Name),
		)
		return nil
	}
	script, err := sc.Script(s.Options)
	if err != nil {
		return err
	}
	tb.Processes = append(tb.Processes, harness.NewProcess(id, s.Name, script, tb.env))
	tb.expectations[sc.Tag] = sc.Expectation()
	return nil
}

func (tb *Testbed) addLinks(links []topology.Link, latency time.Duration) error {
	var attached []attachment
	for i, l := range links {
		a, err := topology.ParseIfaceRef(l.A, 0)
		if err != nil {
			return fmt.Errorf("link %d: %w", i, err)
		}
		b, err := topology.ParseIfaceRef(l.B, 0)
		if err != nil {
			return fmt.Errorf("link %d: %w", i, err)
		}
		link := &core.NetworkLink{
			ID:         a.String() + "-" + b.String(),
			InterfaceA: a.String(),
			InterfaceB: b.String(),
			Latency:    latency,
			IsUp:       true,
		}
		if l.Latency > 0 {
			link.Latency = l.Latency
		}
		if err := tb.KB.AddNetworkLink(link); err != nil {
			return fmt.Errorf("link %s: %w", link.ID, err)
		}

		engA, engB := tb.Engines[a.Host.String()], tb.Engines[b.Host.String()]
		ifA := tb.KB.GetNetworkInterface(a.String())
		ifB := tb.KB.GetNetworkInterface(b.String())
		switch {
		case engA != nil && engB != nil:
			if err := refengine.Connect(engA, ifA.ID, ifA.Address, engB, ifB.ID, ifB.Address, link); err != nil {
				return fmt.Errorf("link %s: %w", link.ID, err)
			}
		case engA != nil:
			attached = append(attached, attachment{engA, ifB.Address})
		case engB != nil:
			attached = append(attached, attachment{engB, ifA.Address})
		}
	}
	// Originate once every session is up so each route reaches all peers.
	for _, at := range attached {
		at.eng.Originate(netip.PrefixFrom(at.addr, at.addr.BitLen()), at.addr)
	}
	return nil
}

// attachment is a host interface on the far end of a router's link.
type attachment struct {
	eng  *refengine.Engine
	addr netip.Addr
}

// Run drives the network until horizon or until an agent fails.
func (tb *Testbed) Run(ctx context.Context, horizon time.Duration) (harness.Report, error) {
	return tb.runner.Run(ctx, horizon)
}

// Expectations returns what the configured scenarios must record, sorted
// by tag.
func (tb *Testbed) Expectations() []checkpoint.Expectation {
	out := make([]checkpoint.Expectation, 0, len(tb.expectations))
	for _, e := range tb.expectations {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scenario < out[j].Scenario })
	return out
}

// Verify checks the recorded checkpoints against every configured
// scenario.
func (tb *Testbed) Verify() ([]checkpoint.Result, error) {
	return checkpoint.Verify(tb.Recorder.Snapshot(), tb.Expectations()...)
}

// Delivered reports how many app messages the fabric delivered and
// dropped.
func (tb *Testbed) Delivered() (delivered, dropped int) {
	return tb.fabric.delivered, tb.fabric.dropped
}
