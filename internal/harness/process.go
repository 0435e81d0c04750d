package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/routeharness/internal/engine"
	"github.com/signalsfoundry/routeharness/internal/locator"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/observability"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// State is a scripted process's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Running
	Dormant
	Aborted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Dormant:
		return "dormant"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Step is one scripted event. Wait is measured from the previous
// activation; the actions then run back to back at a single instant.
type Step struct {
	Name    string
	Wait    time.Duration
	Actions []Action
}

// Script is what a process executes.
type Script struct {
	// Peers are resolved during setup; a missing peer aborts the process
	// before any step runs.
	Peers []string
	// Discover runs the topology walker during setup for hosts that carry
	// the process's own session name.
	Discover bool
	Steps    []Step
}

// Process runs a Script on behalf of one host.
type Process struct {
	host    topology.ID
	session string
	script  Script
	env     *Env
	ctx     context.Context

	state  State
	step   int
	setups int
	eng    engine.Engine
	peers  map[string]engine.Peer
	dests  topology.DestinationTable
}

// NewProcess returns a process for the session named session on host.
func NewProcess(host topology.ID, session string, script Script, env *Env) *Process {
	return &Process{
		host:    host,
		session: session,
		script:  script,
		env:     env,
		ctx:     context.Background(),
		peers:   make(map[string]engine.Peer),
	}
}

// Name identifies the process in logs and metrics.
func (p *Process) Name() string { return p.host.String() + "/" + p.session }

func (p *Process) State() State { return p.state }
func (p *Process) Step() int { return p.step }
func (p *Process) Engine() engine.Engine { return p.eng }
func (p *Process) Destinations() topology.DestinationTable { return p.dests }

// Start schedules the first activation at the current instant.
func (p *Process) Start(ctx context.Context) {
	p.ctx = ctx
	p.env.Scheduler.After(0, p.activate)
}

func (p *Process) activate() { _ = p.advance(p.ctx) }

// advance performs one activation. The first activation sets the process
// up; every later one runs exactly one step. Dormant and aborted processes
// ignore activations. A returned error has already aborted the process.
func (p *Process) advance(ctx context.Context) error {
	switch p.state {
	case Dormant, Aborted:
		return nil
	case Uninitialized:
		if err := p.setup(ctx); err != nil {
			return p.abort(ctx, fmt.Errorf("setup: %w", err))
		}
		p.state = Running
		p.scheduleNext()
		return nil
	}

	step := p.script.Steps[p.step]
	if err := p.runStep(ctx, step); err != nil {
		return p.abort(ctx, fmt.Errorf("step %d (%s): %w", p.step, step.Name, err))
	}
	p.step++
	p.scheduleNext()
	return nil
}

func (p *Process) scheduleNext() {
	if p.step >= len(p.script.Steps) {
		p.state = Dormant
		p.env.logger().Debug(p.ctx, "process dormant",
			logging.String("process", p.Name()),
			logging.SimTime(p.env.Scheduler.Elapsed()),
		)
		return
	}
	p.env.Scheduler.After(p.script.Steps[p.step].Wait, p.activate)
}

func (p *Process) setup(ctx context.Context) error {
	p.setups++
	eng, err := p.env.Locator.EngineForHost(p.host.String(), engine.SessionName)
	if err != nil {
		return err
	}
	p.eng = eng

	for _, id := range p.script.Peers {
		peer, err := locator.PeerByIdentifier(eng, id)
		if err != nil {
			return err
		}
		p.peers[id] = peer
	}

	if p.script.Discover {
		if p.env.Topology == nil || p.env.Resolver == nil {
			return errors.New("discovery needs a topology and a resolver")
		}
		w := &topology.Walker{
			Agent:    p.session,
			Self:     p.host,
			Resolver: p.env.Resolver,
			Log:      p.env.Log,
			Metrics:  p.env.discoveryMetrics(),
		}
		dests, err := w.Discover(ctx, p.env.Topology)
		if err != nil {
			return err
		}
		p.dests = dests
	}

	p.env.logger().Info(ctx, "process set up",
		logging.String("process", p.Name()),
		logging.Int("peers", len(p.peers)),
		logging.Int("steps", len(p.script.Steps)),
	)
	return nil
}

func (p *Process) runStep(ctx context.Context, step Step) (err error) {
	ctx, span := observability.StartSpan(ctx, "harness.step",
		attribute.String("process", p.Name()),
		attribute.String("step", step.Name),
		attribute.Int("index", p.step),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p.env.logger().Debug(ctx, "step",
		logging.String("process", p.Name()),
		logging.String("step", step.Name),
		logging.SimTime(p.env.Scheduler.Elapsed()),
	)
	for _, a := range step.Actions {
		if err := a.Run(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	if p.env.Metrics != nil {
		p.env.Metrics.ObserveStep(p.Name())
	}
	return nil
}

func (p *Process) abort(ctx context.Context, err error) error {
	p.state = Aborted
	p.env.fail(ctx, p.Name(), err)
	return err
}

// Peer returns the peer resolved during setup, or looks it up on the
// process's engine.
func (p *Process) Peer(id string) (engine.Peer, error) {
	if peer, ok := p.peers[id]; ok {
		return peer, nil
	}
	if p.eng == nil {
		return nil, fmt.Errorf("%w: process %s has no engine", locator.ErrMissingSessionHandle, p.Name())
	}
	return locator.PeerByIdentifier(p.eng, id)
}
