package core

import (
	"errors"
	"testing"
	"time"
)

type stubSession string

func (s stubSession) SessionName() string { return string(s) }

// twoHosts builds 1:1(0) <-> 2:1(0) plus a spare interface 2:1(1).
func twoHosts(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb := NewKnowledgeBase()
	for _, n := range []*NetworkNode{{ID: "1:1", AS: 1}, {ID: "2:1", AS: 2}} {
		if err := kb.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	for _, intf := range []*NetworkInterface{
		{ID: "1:1(0)", ParentNodeID: "1:1", Index: 0, IsOperational: true},
		{ID: "2:1(1)", ParentNodeID: "2:1", Index: 1, IsOperational: true},
		{ID: "2:1(0)", ParentNodeID: "2:1", Index: 0, IsOperational: true},
	} {
		if err := kb.AddInterface(intf); err != nil {
			t.Fatalf("AddInterface(%s): %v", intf.ID, err)
		}
	}
	if err := kb.AddNetworkLink(&NetworkLink{
		ID: "1:1(0)-2:1(0)", InterfaceA: "1:1(0)", InterfaceB: "2:1(0)",
		Latency: 10 * time.Millisecond, IsUp: true,
	}); err != nil {
		t.Fatalf("AddNetworkLink: %v", err)
	}
	return kb
}

func TestAddInterface_DuplicateIDFails(t *testing.T) {
	kb := twoHosts(t)
	err := kb.AddInterface(&NetworkInterface{ID: "1:1(0)", ParentNodeID: "1:1"})
	if !errors.Is(err, ErrInterfaceExists) {
		t.Fatalf("duplicate AddInterface err = %v, want ErrInterfaceExists", err)
	}
}

func TestAddNetworkLink_UnknownInterfaceFails(t *testing.T) {
	kb := twoHosts(t)
	err := kb.AddNetworkLink(&NetworkLink{ID: "bad", InterfaceA: "1:1(0)", InterfaceB: "9:9(0)", IsUp: true})
	if !errors.Is(err, ErrInterfaceMiss) {
		t.Fatalf("AddNetworkLink err = %v, want ErrInterfaceMiss", err)
	}
	err = kb.AddNetworkLink(&NetworkLink{ID: "loop", InterfaceA: "1:1(0)", InterfaceB: "1:1(0)"})
	if !errors.Is(err, ErrLinkBadInput) {
		t.Fatalf("self link err = %v, want ErrLinkBadInput", err)
	}
}

func TestPeerInterfaceFollowsUsableLinks(t *testing.T) {
	kb := twoHosts(t)

	far, link, err := kb.PeerInterface("1:1(0)")
	if err != nil {
		t.Fatalf("PeerInterface: %v", err)
	}
	if far.ID != "2:1(0)" || link.Latency != 10*time.Millisecond {
		t.Fatalf("PeerInterface = %s via %+v", far.ID, link)
	}

	if err := kb.SetLinkImpaired(link.ID, true); err != nil {
		t.Fatalf("SetLinkImpaired: %v", err)
	}
	if _, _, err := kb.PeerInterface("1:1(0)"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("PeerInterface on impaired link err = %v, want ErrLinkNotFound", err)
	}
	if got := kb.GetNeighbours("1:1"); len(got) != 0 {
		t.Fatalf("GetNeighbours over impaired link = %v, want none", got)
	}

	if _, _, err := kb.PeerInterface("2:1(1)"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("PeerInterface on unlinked interface err = %v", err)
	}
	if _, _, err := kb.PeerInterface("7:7(0)"); !errors.Is(err, ErrInterfaceNotFound) {
		t.Fatalf("PeerInterface on unknown interface err = %v", err)
	}
}

func TestInterfaceLinkIDsStayConsistent(t *testing.T) {
	kb := twoHosts(t)

	if got := kb.GetNetworkInterface("2:1(0)").LinkIDs; len(got) != 1 {
		t.Fatalf("LinkIDs = %v, want one link", got)
	}
	if got := kb.GetNeighbours("2:1"); len(got) != 1 || got[0] != "1:1" {
		t.Fatalf("GetNeighbours(2:1) = %v", got)
	}

	if got := kb.GetLinksForInterface("1:1(0)"); len(got) != 1 || got[0].ID != "1:1(0)-2:1(0)" {
		t.Fatalf("GetLinksForInterface = %v", got)
	}
	if got := kb.GetLinksForInterface("2:1(1)"); got != nil {
		t.Fatalf("GetLinksForInterface on unlinked interface = %v", got)
	}
}

func TestLinkBetweenSkipsImpairedLinks(t *testing.T) {
	kb := twoHosts(t)

	link, ok := kb.LinkBetween("2:1", "1:1")
	if !ok || link.ID != "1:1(0)-2:1(0)" {
		t.Fatalf("LinkBetween(2:1, 1:1) = %v, %v", link, ok)
	}
	if _, ok := kb.LinkBetween("1:1", "1:1"); ok {
		t.Fatalf("LinkBetween found a link from a host to itself")
	}

	if err := kb.SetLinkImpaired(link.ID, true); err != nil {
		t.Fatalf("SetLinkImpaired: %v", err)
	}
	if _, ok := kb.LinkBetween("1:1", "2:1"); ok {
		t.Fatalf("LinkBetween returned an impaired link")
	}
	if err := kb.SetLinkImpaired("nope", true); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("SetLinkImpaired on unknown link err = %v", err)
	}
}

func TestInterfacesForNodeSortedByIndex(t *testing.T) {
	kb := twoHosts(t)
	got := kb.GetInterfacesForNode("2:1")
	if len(got) != 2 || got[0].Index != 0 || got[1].Index != 1 {
		t.Fatalf("GetInterfacesForNode = %+v", got)
	}
}

func TestSessionRegistry(t *testing.T) {
	kb := twoHosts(t)

	if err := kb.RegisterSession("1:1", stubSession("bgp")); err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}
	if err := kb.RegisterSession("1:1", stubSession("bgp")); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate RegisterSession err = %v", err)
	}
	if err := kb.RegisterSession("8:8", stubSession("bgp")); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("RegisterSession on unknown node err = %v", err)
	}

	s, ok := kb.SessionForName("1:1", "bgp")
	if !ok || s.SessionName() != "bgp" {
		t.Fatalf("SessionForName = %v, %v", s, ok)
	}
	if _, ok := kb.SessionForName("2:1", "bgp"); ok {
		t.Fatalf("SessionForName found a session on 2:1")
	}

	if got := kb.NodeIDs(); len(got) != 2 || got[0] != "1:1" {
		t.Fatalf("NodeIDs = %v", got)
	}
}
