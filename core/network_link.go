package core

import "time"

// NetworkLink is a point-to-point link between two interfaces. Messages
// cross it after Latency of simulation time.
type NetworkLink struct {
	ID         string        `json:"ID"`
	InterfaceA string        `json:"InterfaceA"`
	InterfaceB string        `json:"InterfaceB"`
	Latency    time.Duration `json:"Latency"`

	// IsUp is false once the link has been taken down; IsImpaired is an
	// administrative override. Traffic flows only when Usable.
	IsUp       bool `json:"IsUp"`
	IsImpaired bool `json:"IsImpaired"`
}

// Usable reports whether traffic may cross the link.
func (l *NetworkLink) Usable() bool {
	return l != nil && l.IsUp && !l.IsImpaired
}

// Other returns the endpoint opposite ifID, or "" when ifID is not an
// endpoint of the link.
func (l *NetworkLink) Other(ifID string) string {
	switch ifID {
	case l.InterfaceA:
		return l.InterfaceB
	case l.InterfaceB:
		return l.InterfaceA
	default:
		return ""
	}
}
