package topology

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Description is the YAML topology a harness run is built from: a tree of
// networks and hosts plus the point-to-point links between host
// interfaces.
type Description struct {
	Net   Net    `yaml:"net"`
	Links []Link `yaml:"links,omitempty"`
}

// Net is a network node. Its identifier range is expanded during descent
// and every nested net and host is visited once per expanded id. The
// root net's own id fields are ignored.
type Net struct {
	ID    *int     `yaml:"id,omitempty"`
	Range *IDRange `yaml:"id_range,omitempty"`
	Nets  []Net    `yaml:"nets,omitempty"`
	Hosts []Host   `yaml:"hosts,omitempty"`
}

// Host is a host node, expanded once per id in its range.
type Host struct {
	ID         *int     `yaml:"id,omitempty"`
	Range      *IDRange `yaml:"id_range,omitempty"`
	Interfaces []int    `yaml:"interfaces,omitempty"`
	Graph      *Graph   `yaml:"graph,omitempty"`
}

// Graph is a host's protocol session stack.
type Graph struct {
	Sessions []Session `yaml:"sessions"`
}

// Session declares one protocol session on a host. Name is the session's
// registered name ("bgp", "test", "app"); Use selects the implementation.
type Session struct {
	Name    string         `yaml:"name"`
	Use     string         `yaml:"use,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// Link joins two host interfaces, written as "1:1(0)".
type Link struct {
	A       string        `yaml:"a"`
	B       string        `yaml:"b"`
	Latency time.Duration `yaml:"latency,omitempty"`
}

// Load decodes a topology description. Only YAML syntax and unknown keys
// are rejected here; structural faults are reported per node during
// descent so one bad node does not hide the rest of the topology.
func Load(r io.Reader) (*Description, error) {
	var desc Description
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return &desc, nil
}

// LoadFile reads a topology description from path.
func LoadFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func idRange(id *int, r *IDRange) (IDRange, error) {
	switch {
	case id != nil && r != nil:
		return IDRange{}, fmt.Errorf("%w: both id and id_range set", ErrMalformedTopologyNode)
	case id != nil:
		out := IDRange{Min: *id, Max: *id}
		return out, out.Validate()
	case r != nil:
		return *r, r.Validate()
	default:
		return IDRange{}, fmt.Errorf("%w: missing id or id_range", ErrMalformedTopologyNode)
	}
}

// IDs returns the net's validated identifier range.
func (n *Net) IDs() (IDRange, error) { return idRange(n.ID, n.Range) }

// IDs returns the host's validated identifier range.
func (h *Host) IDs() (IDRange, error) { return idRange(h.ID, h.Range) }

// Validate checks the host's own fields, not its siblings.
func (h *Host) Validate() error {
	if _, err := h.IDs(); err != nil {
		return err
	}
	if h.Graph == nil {
		return fmt.Errorf("%w: host has no graph", ErrMalformedTopologyNode)
	}
	for i, s := range h.Graph.Sessions {
		if s.Name == "" {
			return fmt.Errorf("%w: session %d has no name", ErrMalformedTopologyNode, i)
		}
	}
	seen := make(map[int]bool, len(h.Interfaces))
	for _, iface := range h.Interfaces {
		if iface < 0 || seen[iface] {
			return fmt.Errorf("%w: bad or duplicate interface %d", ErrMalformedTopologyNode, iface)
		}
		seen[iface] = true
	}
	return nil
}

// InterfaceIDs returns the declared interfaces, defaulting to a single
// interface 0.
func (h *Host) InterfaceIDs() []int {
	if len(h.Interfaces) == 0 {
		return []int{0}
	}
	return h.Interfaces
}

// Session returns the session registered under name.
func (h *Host) Session(name string) (Session, bool) {
	if h.Graph == nil {
		return Session{}, false
	}
	for _, s := range h.Graph.Sessions {
		if s.Name == name {
			return s, true
		}
	}
	return Session{}, false
}
