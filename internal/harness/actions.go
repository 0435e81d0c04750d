package harness

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/engine"
	"github.com/signalsfoundry/routeharness/internal/logging"
)

// Action is one thing a step does. Actions run synchronously against the
// process's engine; an error aborts the process.
type Action interface {
	Run(ctx context.Context, p *Process) error
	String() string
}

// Advertise originates Prefix to Peer: origin IGP (unless the run uses
// basic attributes), the local AS as the only path element and the peer's
// return address as next hop.
type Advertise struct {
	Peer     string
	Prefix   netip.Prefix
	Priority int
}

func (a Advertise) String() string { return fmt.Sprintf("advertise %s to %s", a.Prefix, a.Peer) }

func (a Advertise) Run(ctx context.Context, p *Process) error {
	peer, err := p.Peer(a.Peer)
	if err != nil {
		return err
	}
	eng := p.Engine()
	r := engine.NewRoute(a.Prefix)
	if !p.env.Options.BasicAttributes {
		r.SetOrigin(engine.OriginIGP)
	}
	r.PrependAS(eng.LocalAS()).SetNextHop(peer.ReturnAddr())
	eng.Inject(engine.NewUpdate(eng.NodeID(), r), peer, a.Priority)
	p.env.logger().Debug(ctx, "advertised",
		logging.String("process", p.Name()),
		logging.String("route", r.String()),
		logging.String("peer", a.Peer),
	)
	return nil
}

// Withdraw sends a withdrawal of Prefix to Peer.
type Withdraw struct {
	Peer     string
	Prefix   netip.Prefix
	Priority int
}

func (w Withdraw) String() string { return fmt.Sprintf("withdraw %s from %s", w.Prefix, w.Peer) }

func (w Withdraw) Run(ctx context.Context, p *Process) error {
	peer, err := p.Peer(w.Peer)
	if err != nil {
		return err
	}
	eng := p.Engine()
	eng.Inject(engine.NewWithdrawal(eng.NodeID(), w.Prefix), peer, w.Priority)
	p.env.logger().Debug(ctx, "withdrew",
		logging.String("process", p.Name()),
		logging.String("prefix", w.Prefix.String()),
		logging.String("peer", w.Peer),
	)
	return nil
}

// ResetTimers restarts the session timers towards Peer so an injected
// update does not make the session look idle. Kinds defaults to keepalive
// and hold.
type ResetTimers struct {
	Peer  string
	Kinds []engine.TimerKind
}

func (r ResetTimers) String() string { return "reset timers for " + r.Peer }

func (r ResetTimers) Run(_ context.Context, p *Process) error {
	peer, err := p.Peer(r.Peer)
	if err != nil {
		return err
	}
	kinds := r.Kinds
	if len(kinds) == 0 {
		kinds = []engine.TimerKind{engine.Keepalive, engine.Hold}
	}
	for _, k := range kinds {
		p.Engine().ResetTimer(peer, k)
	}
	return nil
}

// Expect is what an Inspect looks for.
type Expect int

const (
	Present Expect = iota
	Absent
)

func (e Expect) String() string {
	if e == Absent {
		return "absent"
	}
	return "present"
}

// Inspect walks Hops from the process's engine, one peer-and-link crossing
// per hop, and checks the reached engine's table for Prefix. When the
// table matches Want, checkpoint (Tag, Step) is recorded; a mismatch is
// logged and recorded as nothing. An unreachable hop is fatal.
type Inspect struct {
	Hops   []string
	Prefix netip.Prefix
	Want   Expect
	Tag    checkpoint.Tag
	Step   int
}

func (i Inspect) String() string {
	return fmt.Sprintf("inspect %s via [%s]", i.Prefix, strings.Join(i.Hops, " "))
}

func (i Inspect) Run(ctx context.Context, p *Process) error {
	target, err := p.env.Locator.Walk(p.Engine(), i.Hops...)
	if err != nil {
		return err
	}
	entry, found := target.Lookup(i.Prefix.Addr())
	found = found && entry.Route.Prefix == i.Prefix
	got := Absent
	if found {
		got = Present
	}

	fields := []logging.Field{
		logging.String("process", p.Name()),
		logging.String("target", target.NodeID()),
		logging.String("prefix", i.Prefix.String()),
		logging.String("want", i.Want.String()),
		logging.String("got", got.String()),
	}
	if found {
		fields = append(fields, logging.String("route", entry.Route.String()))
	}
	if got != i.Want {
		p.env.logger().Info(ctx, "inspection failed", fields...)
		return nil
	}
	p.env.logger().Debug(ctx, "inspection passed", fields...)
	p.env.Recorder.Record(i.Tag, i.Step)
	return nil
}

// Mark records checkpoint (Tag, Step) unconditionally.
type Mark struct {
	Tag  checkpoint.Tag
	Step int
}

func (m Mark) String() string { return fmt.Sprintf("checkpoint %s/%d", m.Tag, m.Step) }

func (m Mark) Run(_ context.Context, p *Process) error {
	p.env.Recorder.Record(m.Tag, m.Step)
	return nil
}
