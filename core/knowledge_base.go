package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrLinkExists        = errors.New("link already exists")
	ErrLinkNotFound      = errors.New("link not found")
	ErrLinkBadInput      = errors.New("invalid link")
	ErrEmptyLinkID       = errors.New("empty link ID")
	ErrInterfaceMiss     = errors.New("link references unknown interface")
	ErrInterfaceExists   = errors.New("interface already exists")
	ErrInterfaceNotFound = errors.New("interface not found")
	ErrInterfaceBadInput = errors.New("invalid interface")
	ErrNodeExists        = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrNodeBadInput      = errors.New("invalid node")
	ErrSessionExists     = errors.New("session already registered")
)

// KnowledgeBase stores the simulated network: hosts, their interfaces, the
// links between interfaces and the protocol sessions running on each host.
//
// All access goes through these methods, which are safe for concurrent use.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes            map[string]*NetworkNode
	interfaces       map[string]*NetworkInterface
	links            map[string]*NetworkLink
	linksByInterface map[string]map[string]*NetworkLink
	sessions         map[string]map[string]Session
}

// NewKnowledgeBase creates an empty network knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:            make(map[string]*NetworkNode),
		interfaces:       make(map[string]*NetworkInterface),
		links:            make(map[string]*NetworkLink),
		linksByInterface: make(map[string]map[string]*NetworkLink),
		sessions:         make(map[string]map[string]Session),
	}
}

//
// ---------- Nodes ----------
//

// AddNode registers a host.
func (kb *KnowledgeBase) AddNode(node *NetworkNode) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("%w: empty node", ErrNodeBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, node.ID)
	}
	kb.nodes[node.ID] = node
	return nil
}

// GetNode returns a host by ID, or nil if not found.
func (kb *KnowledgeBase) GetNode(id string) *NetworkNode {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// NodeIDs returns every registered host ID, sorted.
func (kb *KnowledgeBase) NodeIDs() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]string, 0, len(kb.nodes))
	for id := range kb.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

//
// ---------- Sessions ----------
//

// RegisterSession attaches s to nodeID's stack under s.SessionName().
func (kb *KnowledgeBase) RegisterSession(nodeID string, s Session) error {
	if s == nil {
		return fmt.Errorf("%w: nil session for %q", ErrNodeBadInput, nodeID)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.nodes[nodeID]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	stack, ok := kb.sessions[nodeID]
	if !ok {
		stack = make(map[string]Session)
		kb.sessions[nodeID] = stack
	}
	name := s.SessionName()
	if _, dup := stack[name]; dup {
		return fmt.Errorf("%w: %q on %q", ErrSessionExists, name, nodeID)
	}
	stack[name] = s
	return nil
}

// SessionForName returns the session registered on nodeID under name.
func (kb *KnowledgeBase) SessionForName(nodeID, name string) (Session, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	s, ok := kb.sessions[nodeID][name]
	return s, ok
}

//
// ---------- Interfaces ----------
//

// AddInterface registers a host interface. The parent node need not exist
// yet.
func (kb *KnowledgeBase) AddInterface(intf *NetworkInterface) error {
	if intf == nil || intf.ID == "" {
		return fmt.Errorf("%w", ErrInterfaceBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.interfaces[intf.ID]; exists {
		return fmt.Errorf("%w: %q", ErrInterfaceExists, intf.ID)
	}
	kb.interfaces[intf.ID] = intf
	return nil
}

// GetNetworkInterface returns an interface by ID, or nil if not found.
func (kb *KnowledgeBase) GetNetworkInterface(id string) *NetworkInterface {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.interfaces[id]
}

// GetInterfacesForNode returns the interfaces of nodeID ordered by index.
func (kb *KnowledgeBase) GetInterfacesForNode(nodeID string) []*NetworkInterface {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var out []*NetworkInterface
	for _, intf := range kb.interfaces {
		if intf != nil && intf.ParentNodeID == nodeID {
			out = append(out, intf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

//
// ---------- Links ----------
//

// AddNetworkLink inserts a link and updates adjacency maps and
// per-interface LinkIDs. Both endpoints must already exist.
func (kb *KnowledgeBase) AddNetworkLink(link *NetworkLink) error {
	if link == nil {
		return fmt.Errorf("%w", ErrLinkBadInput)
	}
	if link.ID == "" {
		return fmt.Errorf("%w", ErrEmptyLinkID)
	}
	if link.InterfaceA == "" || link.InterfaceB == "" || link.InterfaceA == link.InterfaceB {
		return fmt.Errorf("%w: %q needs two distinct endpoints", ErrLinkBadInput, link.ID)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.links[link.ID]; exists {
		return fmt.Errorf("%w: %q", ErrLinkExists, link.ID)
	}
	for _, end := range []string{link.InterfaceA, link.InterfaceB} {
		if _, ok := kb.interfaces[end]; !ok {
			return fmt.Errorf("%w: %q references unknown interface %q", ErrInterfaceMiss, link.ID, end)
		}
	}

	kb.links[link.ID] = link
	kb.attachLinkToInterface(link.ID, link.InterfaceA)
	kb.attachLinkToInterface(link.ID, link.InterfaceB)
	return nil
}

// GetNetworkLink returns a single link by ID, or nil if missing.
func (kb *KnowledgeBase) GetNetworkLink(id string) *NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.links[id]
}

// GetAllNetworkLinks returns all links sorted by ID.
func (kb *KnowledgeBase) GetAllNetworkLinks() []*NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]*NetworkLink, 0, len(kb.links))
	for _, l := range kb.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetLinksForInterface returns all links attached to a given interface,
// sorted by ID.
func (kb *KnowledgeBase) GetLinksForInterface(ifID string) []*NetworkLink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	m, ok := kb.linksByInterface[ifID]
	if !ok {
		return nil
	}
	out := make([]*NetworkLink, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LinkBetween returns the first usable link, by ID, joining an interface
// of node a to an interface of node b.
func (kb *KnowledgeBase) LinkBetween(a, b string) (*NetworkLink, bool) {
	for _, intf := range kb.GetInterfacesForNode(a) {
		for _, link := range kb.GetLinksForInterface(intf.ID) {
			if !link.Usable() {
				continue
			}
			if far := kb.GetNetworkInterface(link.Other(intf.ID)); far != nil && far.ParentNodeID == b {
				return link, true
			}
		}
	}
	return nil, false
}

// PeerInterface returns the interface at the far end of the first usable
// link attached to ifID, together with that link.
func (kb *KnowledgeBase) PeerInterface(ifID string) (*NetworkInterface, *NetworkLink, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if _, ok := kb.interfaces[ifID]; !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrInterfaceNotFound, ifID)
	}
	ids := make([]string, 0, len(kb.linksByInterface[ifID]))
	for id := range kb.linksByInterface[ifID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		link := kb.links[id]
		if !link.Usable() {
			continue
		}
		if far := kb.interfaces[link.Other(ifID)]; far != nil {
			return far, link, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no usable link on %q", ErrLinkNotFound, ifID)
}

// GetNeighbours returns neighbour node IDs reachable from nodeID via
// usable links.
func (kb *KnowledgeBase) GetNeighbours(nodeID string) []string {
	if nodeID == "" {
		return nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	neigh := make(map[string]struct{})
	for _, link := range kb.links {
		if !link.Usable() {
			continue
		}
		intfA := kb.interfaces[link.InterfaceA]
		intfB := kb.interfaces[link.InterfaceB]
		if intfA == nil || intfB == nil {
			continue
		}
		nodeA, nodeB := intfA.ParentNodeID, intfB.ParentNodeID
		if nodeA == nodeID && nodeB != "" && nodeB != nodeID {
			neigh[nodeB] = struct{}{}
		}
		if nodeB == nodeID && nodeA != "" && nodeA != nodeID {
			neigh[nodeA] = struct{}{}
		}
	}

	out := make([]string, 0, len(neigh))
	for id := range neigh {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetLinkImpaired marks a link as administratively impaired or not.
// Impaired links carry no traffic.
func (kb *KnowledgeBase) SetLinkImpaired(linkID string, impaired bool) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	link, ok := kb.links[linkID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkNotFound, linkID)
	}
	link.IsImpaired = impaired
	return nil
}

// attachLinkToInterface updates linksByInterface and the interface's
// LinkIDs slice to include linkID. Caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) attachLinkToInterface(linkID, ifID string) {
	m, ok := kb.linksByInterface[ifID]
	if !ok {
		m = make(map[string]*NetworkLink)
		kb.linksByInterface[ifID] = m
	}
	m[linkID] = kb.links[linkID]

	if intf := kb.interfaces[ifID]; intf != nil {
		intf.LinkIDs = appendIfMissing(intf.LinkIDs, linkID)
	}
}

func appendIfMissing(slice []string, id string) []string {
	for _, v := range slice {
		if v == id {
			return slice
		}
	}
	return append(slice, id)
}
