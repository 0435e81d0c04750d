package locator

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/routeharness/core"
	"github.com/signalsfoundry/routeharness/internal/engine/refengine"
	"github.com/signalsfoundry/routeharness/internal/sched"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

type appSession struct{}

func (appSession) SessionName() string { return "app" }

// chain builds 1:1 - 2:1 - 3:1 with a routing engine on each host, plus
// 4:1 linked to 3:1 but running no engine.
func chain(t *testing.T) (*core.KnowledgeBase, map[string]*refengine.Engine) {
	t.Helper()
	kb := core.NewKnowledgeBase()
	s := sched.NewDriver(time.Unix(0, 0)).Scheduler
	engines := make(map[string]*refengine.Engine)

	for _, h := range []string{"1:1", "2:1", "3:1", "4:1"} {
		id := topology.MustParseID(h)
		if err := kb.AddNode(&core.NetworkNode{ID: h, AS: id[0]}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if h == "4:1" {
			if err := kb.RegisterSession(h, appSession{}); err != nil {
				t.Fatalf("RegisterSession: %v", err)
			}
			continue
		}
		engines[h] = refengine.New(h, id[0], s, nil)
		if err := kb.RegisterSession(h, engines[h]); err != nil {
			t.Fatalf("RegisterSession: %v", err)
		}
	}

	next := map[string]int{}
	addIface := func(host string) (string, netip.Addr) {
		idx := next[host]
		next[host]++
		ref := topology.IfaceRef{Host: topology.MustParseID(host), Iface: idx}
		addr, err := topology.AddressFor(ref.Host, idx)
		if err != nil {
			t.Fatalf("AddressFor: %v", err)
		}
		if err := kb.AddInterface(&core.NetworkInterface{ID: ref.String(), ParentNodeID: host, Index: idx, Address: addr, IsOperational: true}); err != nil {
			t.Fatalf("AddInterface: %v", err)
		}
		return ref.String(), addr
	}
	for _, e := range [][2]string{{"1:1", "2:1"}, {"2:1", "3:1"}, {"3:1", "4:1"}} {
		ifA, addrA := addIface(e[0])
		ifB, addrB := addIface(e[1])
		link := &core.NetworkLink{ID: ifA + "-" + ifB, InterfaceA: ifA, InterfaceB: ifB, IsUp: true}
		if err := kb.AddNetworkLink(link); err != nil {
			t.Fatalf("AddNetworkLink: %v", err)
		}
		a, b := engines[e[0]], engines[e[1]]
		if a != nil && b != nil {
			if err := refengine.Connect(a, ifA, addrA, b, ifB, addrB, link); err != nil {
				t.Fatalf("Connect: %v", err)
			}
		}
	}
	return kb, engines
}

func TestPeerByIdentifier(t *testing.T) {
	_, engines := chain(t)

	peer, err := PeerByIdentifier(engines["2:1"], "3:1")
	if err != nil {
		t.Fatalf("PeerByIdentifier: %v", err)
	}
	if peer.ID() != "3:1" {
		t.Fatalf("peer = %s, want 3:1", peer.ID())
	}

	if _, err := PeerByIdentifier(engines["1:1"], "3:1"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("err = %v, want ErrUnknownPeer", err)
	}
}

func TestRemoteEngineAcrossLink(t *testing.T) {
	kb, engines := chain(t)
	loc := New(kb)

	peer, _ := PeerByIdentifier(engines["1:1"], "2:1")
	remote, err := loc.RemoteEngineAcrossLink(peer)
	if err != nil {
		t.Fatalf("RemoteEngineAcrossLink: %v", err)
	}
	if remote.NodeID() != "2:1" {
		t.Fatalf("remote = %s, want 2:1", remote.NodeID())
	}

	if err := kb.SetLinkImpaired("1:1(0)-2:1(0)", true); err != nil {
		t.Fatalf("SetLinkImpaired: %v", err)
	}
	if _, err := loc.RemoteEngineAcrossLink(peer); !errors.Is(err, ErrNoRemoteEngine) {
		t.Fatalf("err over impaired link = %v, want ErrNoRemoteEngine", err)
	}
}

// fakePeer is a peer whose link leads to a host without an engine.
type fakePeer struct{ iface string }

func (p fakePeer) ID() string             { return "4:1" }
func (p fakePeer) Interface() string      { return p.iface }
func (p fakePeer) ReturnAddr() netip.Addr { return netip.Addr{} }

func TestRemoteEngineMissingAtFarEnd(t *testing.T) {
	kb, _ := chain(t)
	loc := New(kb)

	_, err := loc.RemoteEngineAcrossLink(fakePeer{iface: "3:1(1)"})
	if !errors.Is(err, ErrNoRemoteEngine) {
		t.Fatalf("err = %v, want ErrNoRemoteEngine", err)
	}
}

func TestEngineForHost(t *testing.T) {
	kb, _ := chain(t)
	loc := New(kb)

	if eng, err := loc.EngineForHost("2:1", "bgp"); err != nil || eng.NodeID() != "2:1" {
		t.Fatalf("EngineForHost(2:1) = %v, %v", eng, err)
	}
	if _, err := loc.EngineForHost("4:1", "bgp"); !errors.Is(err, ErrMissingSessionHandle) {
		t.Fatalf("err = %v, want ErrMissingSessionHandle", err)
	}
	if _, err := loc.EngineForHost("4:1", "app"); !errors.Is(err, ErrMissingSessionHandle) {
		t.Fatalf("non-engine session err = %v, want ErrMissingSessionHandle", err)
	}
}

func TestWalkTwoHops(t *testing.T) {
	kb, engines := chain(t)
	loc := New(kb)

	got, err := loc.Walk(engines["3:1"], "2:1", "1:1")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if got.NodeID() != "1:1" {
		t.Fatalf("Walk reached %s, want 1:1", got.NodeID())
	}

	self, err := loc.Walk(engines["3:1"])
	if err != nil || self.NodeID() != "3:1" {
		t.Fatalf("Walk with no hops = %v, %v", self, err)
	}

	if _, err := loc.Walk(engines["3:1"], "2:1", "9:9"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("broken chain err = %v, want ErrUnknownPeer", err)
	}
}
