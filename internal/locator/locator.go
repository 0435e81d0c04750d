// Package locator reaches protocol sessions across the simulated network:
// a peer of an engine by identifier, and the engine at the far end of a
// peer's point-to-point link. All lookups are read-only.
package locator

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/routeharness/core"
	"github.com/signalsfoundry/routeharness/internal/engine"
)

var (
	ErrUnknownPeer          = errors.New("unknown peer")
	ErrNoRemoteEngine       = errors.New("no remote engine")
	ErrMissingSessionHandle = errors.New("missing session handle")
)

// Locator answers lookups against a network knowledge base.
type Locator struct {
	kb *core.KnowledgeBase
}

// New returns a Locator over kb.
func New(kb *core.KnowledgeBase) *Locator {
	return &Locator{kb: kb}
}

// PeerByIdentifier returns the peer of eng whose ID is id.
func PeerByIdentifier(eng engine.Engine, id string) (engine.Peer, error) {
	i, ok := eng.PeerIndex(id)
	peers := eng.Peers()
	if !ok || i < 0 || i >= len(peers) {
		return nil, fmt.Errorf("%w: %s has no peer %q", ErrUnknownPeer, eng.NodeID(), id)
	}
	return peers[i], nil
}

// EngineForHost returns the routing engine registered on node under
// session.
func (l *Locator) EngineForHost(node, session string) (engine.Engine, error) {
	s, ok := l.kb.SessionForName(node, session)
	if !ok {
		return nil, fmt.Errorf("%w: no %q session on %s", ErrMissingSessionHandle, session, node)
	}
	eng, ok := s.(engine.Engine)
	if !ok {
		return nil, fmt.Errorf("%w: %q session on %s is not a routing engine", ErrMissingSessionHandle, session, node)
	}
	return eng, nil
}

// RemoteEngineAcrossLink follows the link under peer's local interface and
// returns the routing engine on the host at the other end.
func (l *Locator) RemoteEngineAcrossLink(peer engine.Peer) (engine.Engine, error) {
	far, _, err := l.kb.PeerInterface(peer.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: peer %s: %v", ErrNoRemoteEngine, peer.ID(), err)
	}
	eng, err := l.EngineForHost(far.ParentNodeID, engine.SessionName)
	if err != nil {
		return nil, fmt.Errorf("%w: far end %s of peer %s: %v", ErrNoRemoteEngine, far.ID, peer.ID(), err)
	}
	return eng, nil
}

// Walk starts at eng and, for every hop, resolves the named peer and
// crosses its link to the engine on the other side. The engine reached
// after the last hop is returned.
func (l *Locator) Walk(eng engine.Engine, hops ...string) (engine.Engine, error) {
	cur := eng
	for _, hop := range hops {
		peer, err := PeerByIdentifier(cur, hop)
		if err != nil {
			return nil, err
		}
		next, err := l.RemoteEngineAcrossLink(peer)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
