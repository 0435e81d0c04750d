package core

import "net/netip"

// NetworkInterface is one numbered port on a host, identified by its
// rendered reference such as "2:1(0)".
type NetworkInterface struct {
	ID           string     `json:"ID"`
	ParentNodeID string     `json:"ParentNodeID"` // host this interface belongs to, e.g. "2:1"
	Index        int        `json:"Index"`
	Address      netip.Addr `json:"Address"`

	IsOperational bool `json:"IsOperational"`

	// LinkIDs is the per-interface adjacency list.
	LinkIDs []string `json:"LinkIDs,omitempty"`
}
