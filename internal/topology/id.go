package topology

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the components of a rendered ID.
const Separator = ":"

var (
	ErrUnresolvedIdentifier  = errors.New("unresolved identifier")
	ErrAddressUnavailable    = errors.New("address unavailable")
	ErrMalformedTopologyNode = errors.New("malformed topology node")
	ErrBadID                 = errors.New("invalid topology id")
)

// ID is a hierarchical topology identifier such as AS 2, host 1 ("2:1").
// The empty ID names the topology root.
type ID []int

// String renders the ID with Separator between components.
func (id ID) String() string {
	parts := make([]string, len(id))
	for i, n := range id {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, Separator)
}

// Append returns a new ID with the components added. The receiver is never
// modified, so IDs built during descent can be shared safely.
func (id ID) Append(components ...int) ID {
	out := make(ID, 0, len(id)+len(components))
	out = append(out, id...)
	return append(out, components...)
}

// Concat joins IDs left to right. The empty ID is the identity element.
func Concat(ids ...ID) ID {
	var out ID
	for _, id := range ids {
		out = out.Append(id...)
	}
	return out
}

// Equal reports whether both IDs have the same components.
func (id ID) Equal(other ID) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) id.
func (id ID) HasPrefix(prefix ID) bool {
	return len(prefix) <= len(id) && ID(id[:len(prefix)]).Equal(prefix)
}

// Parent returns the enclosing network's ID. For a host this is its AS.
func (id ID) Parent() ID {
	if len(id) == 0 {
		return nil
	}
	return id[:len(id)-1 : len(id)-1]
}

// ParseID parses "2:1" style identifiers. The empty string is the root.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, nil
	}
	parts := strings.Split(s, Separator)
	id := make(ID, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadID, s)
		}
		id[i] = n
	}
	return id, nil
}

// MustParseID is ParseID for constants; it panics on error.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IfaceRef names one interface on a host, rendered "2:1(0)".
type IfaceRef struct {
	Host  ID
	Iface int
}

func (r IfaceRef) String() string {
	return fmt.Sprintf("%s(%d)", r.Host, r.Iface)
}

// ParseIfaceRef parses "2:1(0)". When the "(n)" suffix is missing,
// defaultIface is used.
func ParseIfaceRef(s string, defaultIface int) (IfaceRef, error) {
	s = strings.TrimSpace(s)
	iface := defaultIface
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return IfaceRef{}, fmt.Errorf("%w: %q", ErrBadID, s)
		}
		n, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil || n < 0 {
			return IfaceRef{}, fmt.Errorf("%w: bad interface in %q", ErrBadID, s)
		}
		iface = n
		s = s[:open]
	}
	host, err := ParseID(s)
	if err != nil {
		return IfaceRef{}, err
	}
	if len(host) == 0 {
		return IfaceRef{}, fmt.Errorf("%w: empty host in interface reference", ErrBadID)
	}
	return IfaceRef{Host: host, Iface: iface}, nil
}

// IDRange is a closed interval of sibling identifiers.
type IDRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Validate checks 0 <= Min <= Max.
func (r IDRange) Validate() error {
	if r.Min < 0 {
		return fmt.Errorf("%w: negative id %d", ErrMalformedTopologyNode, r.Min)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: id range min %d > max %d", ErrMalformedTopologyNode, r.Min, r.Max)
	}
	return nil
}

// Expand lists every identifier in the range, ascending.
func (r IDRange) Expand() []int {
	if r.Min > r.Max {
		return nil
	}
	out := make([]int, 0, r.Max-r.Min+1)
	for id := r.Min; id <= r.Max; id++ {
		out = append(out, id)
	}
	return out
}
