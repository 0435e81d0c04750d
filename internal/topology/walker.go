package topology

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/routeharness/internal/logging"
)

// frame is one pending node on the descent worklist.
type frame struct {
	net    *Net
	host   *Host
	prefix ID
}

// visitFunc is called once per expanded host identifier.
type visitFunc func(id ID, host *Host) error

// faultFunc is called for every malformed node; the node's subtree is
// skipped and descent continues with its siblings.
type faultFunc func(prefix ID, err error)

// descend walks the tree rooted at root depth-first, pre-order, using an
// explicit stack instead of recursion. Children of a net are visited once
// per id in the net's range: nested nets first, then hosts, in declaration
// order. The root's own id fields are ignored.
func descend(root *Net, visit visitFunc, fault faultFunc) error {
	if root == nil {
		return nil
	}

	var stack []frame
	// push queues the children of n under every prefix in prefixes, in the
	// order they must be visited: each nested net for every prefix, then
	// each host for every prefix. The stack is filled in reverse so the
	// first child pops first.
	push := func(n *Net, prefixes []ID) {
		var children []frame
		for i := range n.Nets {
			for _, p := range prefixes {
				children = append(children, frame{net: &n.Nets[i], prefix: p})
			}
		}
		for i := range n.Hosts {
			for _, p := range prefixes {
				children = append(children, frame{host: &n.Hosts[i], prefix: p})
			}
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	push(root, []ID{{}})

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.net != nil {
			r, err := f.net.IDs()
			if err != nil {
				fault(f.prefix, fmt.Errorf("net under %q: %w", f.prefix, err))
				continue
			}
			ids := r.Expand()
			prefixes := make([]ID, len(ids))
			for i, id := range ids {
				prefixes[i] = f.prefix.Append(id)
			}
			push(f.net, prefixes)
			continue
		}

		if err := f.host.Validate(); err != nil {
			fault(f.prefix, fmt.Errorf("host under %q: %w", f.prefix, err))
			continue
		}
		r, _ := f.host.IDs()
		for _, hostID := range r.Expand() {
			if err := visit(f.prefix.Append(hostID), f.host); err != nil {
				return err
			}
		}
	}
	return nil
}

// DestinationTable maps a rendered host ID to its resolved address.
type DestinationTable map[string]netip.Addr

// Keys returns the table's identifiers sorted, for deterministic iteration.
func (t DestinationTable) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DiscoveryMetrics receives one observation per completed discovery.
type DiscoveryMetrics interface {
	ObserveDiscovery(agent string, elapsed time.Duration, destinations int)
}

// Walker discovers every host that runs the agent session named Agent.
// Hosts are resolved at Iface, or at their own first declared interface
// when HostIface is set.
type Walker struct {
	Agent     string
	Self      ID
	Iface     int
	HostIface bool
	Resolver  Resolver
	Log       logging.Logger
	Metrics   DiscoveryMetrics
}

// Discover descends root and returns the address of every other host whose
// session stack includes Agent. The invoking host (Self) is never
// included. Malformed nodes are logged and skipped; resolution failures on
// well-formed hosts are returned.
func (w *Walker) Discover(ctx context.Context, root *Net) (DestinationTable, error) {
	log := logging.OrNoop(w.Log)
	start := time.Now()
	dests := make(DestinationTable)

	visit := func(id ID, host *Host) error {
		if _, ok := host.Session(w.Agent); !ok {
			return nil
		}
		if id.Equal(w.Self) {
			return nil
		}
		iface := w.Iface
		if w.HostIface {
			iface = host.InterfaceIDs()[0]
		}
		addr, err := w.Resolver.Resolve(ctx, id, iface)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", IfaceRef{Host: id, Iface: iface}, err)
		}
		dests[id.String()] = addr
		return nil
	}
	fault := func(prefix ID, err error) {
		log.Warn(ctx, "skipping malformed topology node",
			logging.String("agent", w.Agent),
			logging.String("prefix", prefix.String()),
			logging.Err(err),
		)
	}

	if err := descend(root, visit, fault); err != nil {
		return nil, err
	}

	if w.Metrics != nil {
		w.Metrics.ObserveDiscovery(w.Agent, time.Since(start), len(dests))
	}
	log.Debug(ctx, "topology discovery complete",
		logging.String("agent", w.Agent),
		logging.String("self", w.Self.String()),
		logging.Int("destinations", len(dests)),
	)
	return dests, nil
}
