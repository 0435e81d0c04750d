package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// ErrConfigurationConflict is returned when an agent's options contradict
// each other.
var ErrConfigurationConflict = errors.New("configuration conflict")

// DestAll is the dest value that selects every other host running the
// same app session.
const DestAll = "all"

const defaultFrequency = time.Second

// DestList accepts a single dest or a list of them.
type DestList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DestList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*d = DestList{value.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := value.Decode(&out); err != nil {
			return err
		}
		*d = out
		return nil
	default:
		return fmt.Errorf("dest: expected a string or a list, got %s", value.Tag)
	}
}

// AppConfig are an app agent's options.
type AppConfig struct {
	Sender    bool     `yaml:"sender"`
	Receiver  bool     `yaml:"receiver"`
	Verbose   bool     `yaml:"verbose"`
	Dest      DestList `yaml:"dest"`
	Frequency int      `yaml:"frequency"` // seconds
}

// ParseAppConfig decodes session options as read from a topology file.
func ParseAppConfig(raw map[string]any) (AppConfig, error) {
	var cfg AppConfig
	if err := DecodeOptions(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("app options: %w", err)
	}
	return cfg, nil
}

// DecodeOptions decodes a session's free-form options into out. Fields of
// out that raw does not mention keep their values; unknown keys are an
// error.
func DecodeOptions(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Period returns the send period.
func (c AppConfig) Period() time.Duration {
	if c.Frequency <= 0 {
		return defaultFrequency
	}
	return time.Duration(c.Frequency) * time.Second
}

// Transport carries app messages between hosts.
type Transport interface {
	Send(ctx context.Context, msg AppMessage) error
}

// AppMessage is one test datagram.
type AppMessage struct {
	Src     string
	Dst     string
	SrcAddr netip.Addr
	DstAddr netip.Addr
	SentAt  time.Duration
}

// AppAgent sends test traffic to a set of destinations at a fixed period
// and, as a receiver, records forwarding checkpoints for what arrives.
type AppAgent struct {
	host      topology.ID
	session   string
	ifaces    []int
	env       *Env
	transport Transport
	ctx       context.Context

	cfg        AppConfig
	configured bool
	all        bool
	literals   []topology.IfaceRef

	setup    bool
	setups   int
	addr     netip.Addr
	dests    topology.DestinationTable
	sent     int
	received int
	ignored  int
}

// NewAppAgent returns an unconfigured agent for session on host. ifaces
// are the host's interfaces; an app host must have exactly one.
func NewAppAgent(host topology.ID, session string, ifaces []int, env *Env, t Transport) *AppAgent {
	return &AppAgent{
		host:      host,
		session:   session,
		ifaces:    ifaces,
		env:       env,
		transport: t,
		ctx:       context.Background(),
	}
}

func (a *AppAgent) Name() string { return a.host.String() + "/" + a.session }

// SessionName registers the agent under its session name on the host.
func (a *AppAgent) SessionName() string { return a.session }

// Host returns the agent's host identifier.
func (a *AppAgent) Host() topology.ID { return a.host }

// Configure validates cfg. "all" and literal destinations are mutually
// exclusive whichever comes first.
func (a *AppAgent) Configure(cfg AppConfig) error {
	var (
		all      bool
		literals []topology.IfaceRef
	)
	for _, d := range cfg.Dest {
		if d == DestAll {
			if len(literals) > 0 {
				return fmt.Errorf("%w: dest %q after literal destinations", ErrConfigurationConflict, DestAll)
			}
			all = true
			continue
		}
		if all {
			return fmt.Errorf("%w: dest %q after %q", ErrConfigurationConflict, d, DestAll)
		}
		ref, err := topology.ParseIfaceRef(d, 0)
		if err != nil {
			return fmt.Errorf("dest %q: %w", d, err)
		}
		literals = append(literals, ref)
	}
	if cfg.Frequency < 0 {
		return fmt.Errorf("frequency %d must not be negative", cfg.Frequency)
	}
	a.cfg, a.all, a.literals = cfg, all, literals
	a.configured = true
	return nil
}

// Start schedules the first activation at the current instant.
func (a *AppAgent) Start(ctx context.Context) {
	a.ctx = ctx
	a.env.Scheduler.After(0, a.activate)
}

func (a *AppAgent) activate() {
	if err := a.OnActivation(a.ctx); err != nil {
		a.env.fail(a.ctx, a.Name(), err)
	}
}

// OnActivation sets the agent up on the first call and sends one message
// to every destination on each later call. Senders re-arm after their
// period; everyone else stays quiet after setup.
func (a *AppAgent) OnActivation(ctx context.Context) error {
	if !a.configured {
		return errors.New("app agent activated before Configure")
	}
	if !a.setup {
		if err := a.setUp(ctx); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		a.setup = true
	} else if a.cfg.Sender {
		if err := a.sendAll(ctx); err != nil {
			return err
		}
	}
	if a.cfg.Sender {
		a.env.Scheduler.After(a.cfg.Period(), a.activate)
	}
	return nil
}

func (a *AppAgent) setUp(ctx context.Context) error {
	a.setups++
	if len(a.ifaces) != 1 {
		return fmt.Errorf("app host %s has %d interfaces, want 1", a.host, len(a.ifaces))
	}
	addr, err := a.env.Resolver.Resolve(ctx, a.host, a.ifaces[0])
	if err != nil {
		return fmt.Errorf("resolve own address: %w", err)
	}
	a.addr = addr

	a.dests = make(topology.DestinationTable)
	if !a.cfg.Sender {
		return nil
	}
	for _, ref := range a.literals {
		addr, err := a.env.Resolver.Resolve(ctx, ref.Host, ref.Iface)
		if err != nil {
			return fmt.Errorf("resolve dest %s: %w", ref, err)
		}
		a.dests[ref.Host.String()] = addr
	}
	if a.all {
		w := &topology.Walker{
			Agent:     a.session,
			Self:      a.host,
			HostIface: true,
			Resolver:  a.env.Resolver,
			Log:       a.env.Log,
			Metrics:   a.env.discoveryMetrics(),
		}
		dests, err := w.Discover(ctx, a.env.Topology)
		if err != nil {
			return err
		}
		a.dests = dests
	}
	a.env.logger().Info(ctx, "app agent set up",
		logging.String("agent", a.Name()),
		logging.String("addr", a.addr.String()),
		logging.Int("destinations", len(a.dests)),
	)
	return nil
}

func (a *AppAgent) sendAll(ctx context.Context) error {
	now := a.env.Scheduler.Elapsed()
	for _, dst := range a.dests.Keys() {
		msg := AppMessage{
			Src:     a.host.String(),
			Dst:     dst,
			SrcAddr: a.addr,
			DstAddr: a.dests[dst],
			SentAt:  now,
		}
		if err := a.transport.Send(ctx, msg); err != nil {
			return fmt.Errorf("send to %s: %w", dst, err)
		}
		a.sent++
		if a.cfg.Verbose {
			a.env.logger().Info(ctx, "sent app message",
				logging.String("agent", a.Name()),
				logging.String("dst", dst),
				logging.SimTime(now),
			)
		}
	}
	return nil
}

// OnIncoming handles a message delivered to this host and reports whether
// the agent accepted it.
func (a *AppAgent) OnIncoming(msg AppMessage, from string) bool {
	ctx := a.ctx
	if !a.cfg.Receiver {
		a.ignored++
		if a.cfg.Verbose {
			a.env.logger().Info(ctx, "ignored app message, not a receiver",
				logging.String("agent", a.Name()),
				logging.String("from", from),
			)
		}
		return false
	}
	a.received++
	if a.cfg.Verbose {
		a.env.logger().Info(ctx, "received app message",
			logging.String("agent", a.Name()),
			logging.String("src", msg.Src),
			logging.String("from", from),
			logging.SimTime(a.env.Scheduler.Elapsed()),
		)
	}
	if a.env.Options.Validation == ValidationOn {
		for _, tag := range checkpoint.ForwardingTags {
			a.env.Recorder.Record(tag, 1)
		}
	}
	return true
}

// Config returns the agent's configured options.
func (a *AppAgent) Config() AppConfig { return a.cfg }

// Destinations returns the table built at setup.
func (a *AppAgent) Destinations() topology.DestinationTable { return a.dests }

// Address returns the agent's own address, known after setup.
func (a *AppAgent) Address() netip.Addr { return a.addr }

// Counts reports messages sent, received and ignored.
func (a *AppAgent) Counts() (sent, received, ignored int) {
	return a.sent, a.received, a.ignored
}
