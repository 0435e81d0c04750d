package testbed

import (
	"context"

	"github.com/signalsfoundry/routeharness/core"
	"github.com/signalsfoundry/routeharness/internal/engine"
	"github.com/signalsfoundry/routeharness/internal/harness"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/sched"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// maxHops bounds a message's path so a forwarding loop drops it.
const maxHops = 64

// Fabric carries app messages between hosts. Routers forward hop by hop on
// their engine's forwarding table as it stands when the message arrives;
// a host without an engine hands its traffic to a directly attached
// destination or to its first neighbouring router. Each hop costs the
// link's latency. Messages that hit a lookup miss, a down link or the hop
// limit are dropped.
type Fabric struct {
	kb     *core.KnowledgeBase
	sched  sched.EventScheduler
	log    logging.Logger
	agents map[string]*harness.AppAgent

	delivered int
	dropped   int
}

// NewFabric returns an empty fabric over kb.
func NewFabric(kb *core.KnowledgeBase, s sched.EventScheduler, log logging.Logger) *Fabric {
	return &Fabric{
		kb:     kb,
		sched:  s,
		log:    logging.OrNoop(log),
		agents: make(map[string]*harness.AppAgent),
	}
}

// Attach makes a the receiver for messages addressed to its host.
func (f *Fabric) Attach(a *harness.AppAgent) {
	f.agents[a.Host().String()] = a
}

// Send implements harness.Transport. Loss is silent to the sender.
func (f *Fabric) Send(ctx context.Context, msg harness.AppMessage) error {
	f.forward(ctx, msg, msg.Src, 0)
	return nil
}

func (f *Fabric) forward(ctx context.Context, msg harness.AppMessage, at string, hops int) {
	if at == msg.Dst {
		dst := f.agents[msg.Dst]
		if dst == nil {
			f.drop(ctx, msg, at, "no app agent")
			return
		}
		f.delivered++
		dst.OnIncoming(msg, msg.Src)
		return
	}
	if hops >= maxHops {
		f.drop(ctx, msg, at, "hop limit")
		return
	}
	next, reason := f.nextHop(msg, at)
	if next == "" {
		f.drop(ctx, msg, at, reason)
		return
	}
	link, ok := f.kb.LinkBetween(at, next)
	if !ok {
		f.drop(ctx, msg, at, "no usable link to "+next)
		return
	}
	f.sched.After(link.Latency, func() { f.forward(ctx, msg, next, hops+1) })
}

// nextHop picks the node after at on msg's path, or explains why there is
// none.
func (f *Fabric) nextHop(msg harness.AppMessage, at string) (string, string) {
	eng := f.engine(at)
	if eng == nil {
		neighbours := f.kb.GetNeighbours(at)
		for _, n := range neighbours {
			if n == msg.Dst {
				return n, ""
			}
		}
		for _, n := range neighbours {
			if f.engine(n) != nil {
				return n, ""
			}
		}
		return "", "no gateway"
	}

	entry, ok := eng.Lookup(msg.DstAddr)
	if !ok {
		return "", "no route"
	}
	if entry.LearnedFrom != "" {
		return entry.LearnedFrom, ""
	}
	ref, ok := topology.RefForAddress(entry.Route.NextHop)
	if !ok {
		return "", "attached route without host next hop"
	}
	return ref.Host.String(), ""
}

func (f *Fabric) engine(node string) engine.Engine {
	s, ok := f.kb.SessionForName(node, engine.SessionName)
	if !ok {
		return nil
	}
	eng, _ := s.(engine.Engine)
	return eng
}

func (f *Fabric) drop(ctx context.Context, msg harness.AppMessage, at, reason string) {
	f.dropped++
	f.log.Debug(ctx, "app message dropped",
		logging.String("src", msg.Src),
		logging.String("dst", msg.Dst),
		logging.String("at", at),
		logging.String("reason", reason),
	)
}
