package core

// NetworkNode is a host in the simulated network.
type NetworkNode struct {
	ID string `json:"ID"` // rendered topology ID, e.g. "2:1"
	AS int    `json:"AS"`
}

// Session is a protocol session attached to a host's stack under a
// registered name ("bgp", "test"). The KB only stores handles; callers
// type-assert to the concrete API they need.
type Session interface {
	SessionName() string
}
