// Package refengine is a small in-memory path-vector engine. It implements
// just enough of the decision process for test scripts to observe
// propagation, selection and withdrawal: per-peer adj-RIB-in, AS loop
// detection, shortest AS path first with the lowest peer ID breaking ties,
// and re-advertisement of every best-route change to the other peers.
// Prefixes of directly attached hosts are originated locally and always
// win selection.
package refengine

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/routeharness/core"
	"github.com/signalsfoundry/routeharness/internal/engine"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/sched"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// Peer is a configured neighbor session.
type Peer struct {
	id         string
	iface      string
	returnAddr netip.Addr

	remote *Engine
	link   *core.NetworkLink
}

func (p *Peer) ID() string             { return p.id }
func (p *Peer) Interface() string      { return p.iface }
func (p *Peer) ReturnAddr() netip.Addr { return p.returnAddr }

// Engine is a reference routing engine bound to one host.
type Engine struct {
	node  string
	as    int
	sched sched.EventScheduler
	log   logging.Logger

	peers  []*Peer
	byID   map[string]int
	ribIn  map[string]map[netip.Prefix]*engine.Route
	local  map[netip.Prefix]*engine.Route
	fib    map[netip.Prefix]engine.RouteEntry
	timers map[string]map[engine.TimerKind]int

	received int
}

// New returns an engine for node in AS as. Deliveries are scheduled on s.
func New(node string, as int, s sched.EventScheduler, log logging.Logger) *Engine {
	return &Engine{
		node:   node,
		as:     as,
		sched:  s,
		log:    logging.OrNoop(log).With(logging.String("node", node)),
		byID:   make(map[string]int),
		ribIn:  make(map[string]map[netip.Prefix]*engine.Route),
		local:  make(map[netip.Prefix]*engine.Route),
		fib:    make(map[netip.Prefix]engine.RouteEntry),
		timers: make(map[string]map[engine.TimerKind]int),
	}
}

// Connect peers a and b over link. ifA and ifB are the interface references
// at each end and addrA, addrB their addresses.
func Connect(a *Engine, ifA string, addrA netip.Addr, b *Engine, ifB string, addrB netip.Addr, link *core.NetworkLink) error {
	if a == b {
		return fmt.Errorf("refengine: %s cannot peer with itself", a.node)
	}
	if err := a.addPeer(&Peer{id: b.node, iface: ifA, returnAddr: addrA, remote: b, link: link}); err != nil {
		return err
	}
	return b.addPeer(&Peer{id: a.node, iface: ifB, returnAddr: addrB, remote: a, link: link})
}

func (e *Engine) addPeer(p *Peer) error {
	if _, dup := e.byID[p.id]; dup {
		return fmt.Errorf("refengine: %s already peers with %s", e.node, p.id)
	}
	e.byID[p.id] = len(e.peers)
	e.peers = append(e.peers, p)
	e.ribIn[p.id] = make(map[netip.Prefix]*engine.Route)
	return nil
}

func (e *Engine) SessionName() string { return engine.SessionName }
func (e *Engine) NodeID() string      { return e.node }
func (e *Engine) LocalAS() int        { return e.as }

// Peers returns the configured neighbors in configuration order.
func (e *Engine) Peers() []engine.Peer {
	out := make([]engine.Peer, len(e.peers))
	for i, p := range e.peers {
		out[i] = p
	}
	return out
}

// PeerIndex implements engine.Engine.
func (e *Engine) PeerIndex(id string) (int, bool) {
	i, ok := e.byID[id]
	return i, ok
}

// Lookup implements engine.Engine.
func (e *Engine) Lookup(addr netip.Addr) (engine.RouteEntry, bool) {
	var (
		best  engine.RouteEntry
		found bool
	)
	for prefix, entry := range e.fib {
		if !prefix.Contains(addr) {
			continue
		}
		if !found || prefix.Bits() > best.Route.Prefix.Bits() {
			best, found = entry, true
		}
	}
	return best, found
}

// Routes returns the forwarding table sorted by prefix.
func (e *Engine) Routes() []engine.RouteEntry {
	out := make([]engine.RouteEntry, 0, len(e.fib))
	for _, entry := range e.fib {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Route.Prefix.String() < out[j].Route.Prefix.String()
	})
	return out
}

// Received reports how many updates the engine has processed.
func (e *Engine) Received() int { return e.received }

// TimerResets reports how often the given timer of the session with peerID
// was reset.
func (e *Engine) TimerResets(peerID string, kind engine.TimerKind) int {
	return e.timers[peerID][kind]
}

// Inject implements engine.Engine. The message crosses the peer's link
// after the link latency; a link that is down drops it.
func (e *Engine) Inject(msg *engine.Update, peer engine.Peer, priority int) {
	p, ok := peer.(*Peer)
	if ok {
		idx, known := e.byID[p.id]
		ok = known && e.peers[idx] == p
	}
	if !ok {
		e.log.Warn(context.Background(), "inject to foreign peer dropped",
			logging.String("peer", peer.ID()),
		)
		return
	}
	e.send(msg, p, priority)
}

// Originate installs prefix as directly attached through nextHop and
// advertises it to every peer. The entry's LearnedFrom is empty.
func (e *Engine) Originate(prefix netip.Prefix, nextHop netip.Addr) {
	r := engine.NewRoute(prefix).SetOrigin(engine.OriginIGP).SetNextHop(nextHop)
	e.local[r.Prefix] = r
	e.decide(r.Prefix)
}

// ResetTimer implements engine.Engine.
func (e *Engine) ResetTimer(peer engine.Peer, kind engine.TimerKind) {
	m, ok := e.timers[peer.ID()]
	if !ok {
		m = make(map[engine.TimerKind]int)
		e.timers[peer.ID()] = m
	}
	m[kind]++
	e.log.Debug(context.Background(), "timer reset",
		logging.String("peer", peer.ID()),
		logging.String("timer", kind.String()),
		logging.SimTime(e.sched.Elapsed()),
	)
}

func (e *Engine) send(msg *engine.Update, p *Peer, priority int) {
	var latency time.Duration
	if p.link != nil {
		if !p.link.Usable() {
			e.log.Debug(context.Background(), "link down, update dropped", logging.String("peer", p.id))
			return
		}
		latency = p.link.Latency
	}
	if priority > 0 {
		latency += time.Duration(priority)
	}
	from := e.node
	e.sched.After(latency, func() { p.remote.receive(msg, from) })
}

func (e *Engine) receive(msg *engine.Update, from string) {
	if _, ok := e.byID[from]; !ok {
		e.log.Warn(context.Background(), "update from unconfigured peer ignored", logging.String("from", from))
		return
	}
	e.received++
	rib := e.ribIn[from]

	touched := make(map[netip.Prefix]bool)
	for _, p := range msg.Withdrawals {
		if _, had := rib[p]; had {
			delete(rib, p)
			touched[p] = true
		}
	}
	for _, r := range msg.Routes {
		if r.HasAS(e.as) {
			e.log.Debug(context.Background(), "AS loop, route ignored",
				logging.String("from", from),
				logging.String("route", r.String()),
			)
			continue
		}
		rib[r.Prefix] = r.Clone()
		touched[r.Prefix] = true
	}

	prefixes := make([]netip.Prefix, 0, len(touched))
	for p := range touched {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i].String() < prefixes[j].String() })
	for _, p := range prefixes {
		e.decide(p)
	}
}

// decide reruns selection for prefix and tells the other peers when the
// best route changes.
func (e *Engine) decide(prefix netip.Prefix) {
	var (
		best     *engine.Route
		bestPeer string
	)
	if r, ok := e.local[prefix]; ok {
		best = r
	} else {
		for _, p := range e.peers {
			r, ok := e.ribIn[p.id][prefix]
			if !ok {
				continue
			}
			if best == nil || better(r, p.id, best, bestPeer) {
				best, bestPeer = r, p.id
			}
		}
	}

	old, had := e.fib[prefix]
	ctx := context.Background()
	switch {
	case best == nil && !had:
		return
	case best == nil:
		delete(e.fib, prefix)
		e.log.Debug(ctx, "route removed", logging.String("prefix", prefix.String()), logging.SimTime(e.sched.Elapsed()))
		for _, p := range e.peers {
			if p.id != old.LearnedFrom {
				e.send(engine.NewWithdrawal(e.node, prefix), p, 0)
			}
		}
		return
	case had && old.LearnedFrom == bestPeer && samePath(old.Route, best):
		return
	}

	e.fib[prefix] = engine.RouteEntry{Route: best, LearnedFrom: bestPeer, InstalledAt: e.sched.Elapsed()}
	e.log.Debug(ctx, "route installed",
		logging.String("route", best.String()),
		logging.String("via", bestPeer),
		logging.SimTime(e.sched.Elapsed()),
	)
	for _, p := range e.peers {
		if p.id == bestPeer {
			continue
		}
		out := best.Clone().PrependAS(e.as).SetNextHop(p.returnAddr)
		e.send(engine.NewUpdate(e.node, out), p, 0)
	}
	if had && old.LearnedFrom != bestPeer {
		// The new best came from a different peer; that peer must forget
		// the route it may have learned from us.
		for _, p := range e.peers {
			if p.id == bestPeer {
				e.send(engine.NewWithdrawal(e.node, prefix), p, 0)
			}
		}
	}
}

// better reports whether route a learned from peer aPeer beats route b
// learned from bPeer: shorter AS path first, then the lower peer ID.
func better(a *engine.Route, aPeer string, b *engine.Route, bPeer string) bool {
	if len(a.ASPath) != len(b.ASPath) {
		return len(a.ASPath) < len(b.ASPath)
	}
	return peerLess(aPeer, bPeer)
}

func peerLess(a, b string) bool {
	ia, errA := topology.ParseID(a)
	ib, errB := topology.ParseID(b)
	if errA != nil || errB != nil {
		return a < b
	}
	for i := 0; i < len(ia) && i < len(ib); i++ {
		if ia[i] != ib[i] {
			return ia[i] < ib[i]
		}
	}
	return len(ia) < len(ib)
}

func samePath(a, b *engine.Route) bool {
	if len(a.ASPath) != len(b.ASPath) || a.NextHop != b.NextHop {
		return false
	}
	for i := range a.ASPath {
		if a.ASPath[i] != b.ASPath[i] {
			return false
		}
	}
	return true
}

var _ engine.Engine = (*Engine)(nil)
var _ core.Session = (*Engine)(nil)
