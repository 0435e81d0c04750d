// Package engine defines the view of a routing protocol engine that test
// scripts drive and inspect, together with the route and update values
// they build.
package engine

import (
	"net/netip"
	"time"
)

// SessionName is the name every routing engine registers under on its
// host's session stack.
const SessionName = "bgp"

// TimerKind selects one of a peer session's timers.
type TimerKind int

const (
	Keepalive TimerKind = iota
	Hold
)

func (k TimerKind) String() string {
	switch k {
	case Keepalive:
		return "keepalive"
	case Hold:
		return "hold"
	default:
		return "unknown"
	}
}

// Peer is one configured neighbor of an engine.
type Peer interface {
	// ID is the rendered topology ID of the neighbor host, e.g. "2:1".
	ID() string
	// Interface is the local interface reference the session runs over.
	Interface() string
	// ReturnAddr is the local address the neighbor uses to reach us; it is
	// the next hop of routes sent to that neighbor.
	ReturnAddr() netip.Addr
}

// RouteEntry is a forwarding table entry.
type RouteEntry struct {
	Route       *Route
	LearnedFrom string // peer ID the route was selected from
	InstalledAt time.Duration
}

// Engine is the read-mostly query surface of a running engine plus the two
// mutations a script may perform on its own engine.
type Engine interface {
	SessionName() string

	NodeID() string
	LocalAS() int
	Peers() []Peer
	// PeerIndex returns the position of the peer with the given ID in
	// Peers().
	PeerIndex(id string) (int, bool)
	// Lookup performs a longest-prefix match in the forwarding table.
	Lookup(addr netip.Addr) (RouteEntry, bool)

	// Inject sends msg to peer as if the engine itself had originated it.
	// Lower priority values are delivered first among messages that
	// arrive at the same instant.
	Inject(msg *Update, peer Peer, priority int)
	// ResetTimer restarts the given timer of the session with peer.
	ResetTimer(peer Peer, kind TimerKind)
}
