package topology

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
)

// Resolver maps a topology identifier and interface index to an address.
// Implementations may need a round trip to the partition that owns the
// identifier, so calls block and take a context.
type Resolver interface {
	Resolve(ctx context.Context, id ID, iface int) (netip.Addr, error)
}

const (
	maxDepth     = 5
	maxComponent = 0xffff
)

// AddressFor derives the address of a host interface from its ID alone:
// fd00:<depth>:<c1>:…:<c5>:<iface>. The encoding is injective, so equal
// references always give equal addresses and distinct references never
// collide.
func AddressFor(id ID, iface int) (netip.Addr, error) {
	if len(id) == 0 || len(id) > maxDepth {
		return netip.Addr{}, fmt.Errorf("%w: %q has depth %d (want 1..%d)", ErrUnresolvedIdentifier, id, len(id), maxDepth)
	}
	if iface < 0 || iface > maxComponent {
		return netip.Addr{}, fmt.Errorf("%w: interface %d out of range", ErrUnresolvedIdentifier, iface)
	}

	var b [16]byte
	b[0], b[1] = 0xfd, 0x00
	b[3] = byte(len(id))
	for i, c := range id {
		if c < 0 || c > maxComponent {
			return netip.Addr{}, fmt.Errorf("%w: component %d of %q out of range", ErrUnresolvedIdentifier, c, id)
		}
		b[4+2*i] = byte(c >> 8)
		b[5+2*i] = byte(c)
	}
	b[14] = byte(iface >> 8)
	b[15] = byte(iface)
	return netip.AddrFrom16(b), nil
}

// RefForAddress inverts AddressFor.
func RefForAddress(addr netip.Addr) (IfaceRef, bool) {
	if !addr.Is6() {
		return IfaceRef{}, false
	}
	b := addr.As16()
	depth := int(b[3])
	if b[0] != 0xfd || b[1] != 0 || b[2] != 0 || depth < 1 || depth > maxDepth {
		return IfaceRef{}, false
	}
	id := make(ID, depth)
	for i := range id {
		id[i] = int(b[4+2*i])<<8 | int(b[5+2*i])
	}
	return IfaceRef{Host: id, Iface: int(b[14])<<8 | int(b[15])}, true
}

type hostEntry struct {
	id     ID
	host   *Host
	ifaces map[int]bool
}

// Directory is the structural resolver for a topology description. It only
// resolves identifiers of live hosts and interfaces that it can see.
type Directory struct {
	hosts      map[string]*hostEntry
	order      []ID
	partitions map[int]bool
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithPartitions limits local visibility to the given top-level network
// ids. Other identifiers resolve to ErrAddressUnavailable.
func WithPartitions(ids ...int) DirectoryOption {
	return func(d *Directory) {
		d.partitions = make(map[int]bool, len(ids))
		for _, id := range ids {
			d.partitions[id] = true
		}
	}
}

// NewDirectory indexes every well-formed host in root. Malformed nodes are
// skipped and returned as faults.
func NewDirectory(root *Net, opts ...DirectoryOption) (*Directory, []error) {
	d := &Directory{hosts: make(map[string]*hostEntry)}
	for _, opt := range opts {
		opt(d)
	}

	var faults []error
	_ = descend(root, func(id ID, host *Host) error {
		if !d.visible(id) {
			return nil
		}
		e := &hostEntry{id: id, host: host, ifaces: make(map[int]bool)}
		for _, iface := range host.InterfaceIDs() {
			e.ifaces[iface] = true
		}
		key := id.String()
		if _, dup := d.hosts[key]; dup {
			faults = append(faults, fmt.Errorf("%w: host %s declared twice", ErrMalformedTopologyNode, key))
			return nil
		}
		d.hosts[key] = e
		d.order = append(d.order, id)
		return nil
	}, func(_ ID, err error) {
		faults = append(faults, err)
	})

	sort.Slice(d.order, func(i, j int) bool { return lessID(d.order[i], d.order[j]) })
	return d, faults
}

func (d *Directory) visible(id ID) bool {
	if d.partitions == nil {
		return true
	}
	return len(id) > 0 && d.partitions[id[0]]
}

// Resolve implements Resolver.
func (d *Directory) Resolve(_ context.Context, id ID, iface int) (netip.Addr, error) {
	if !d.visible(id) {
		return netip.Addr{}, fmt.Errorf("%w: %s is outside the local partitions", ErrAddressUnavailable, id)
	}
	e, ok := d.hosts[id.String()]
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: no host %s", ErrUnresolvedIdentifier, id)
	}
	if !e.ifaces[iface] {
		return netip.Addr{}, fmt.Errorf("%w: host %s has no interface %d", ErrUnresolvedIdentifier, id, iface)
	}
	return AddressFor(id, iface)
}

// Host returns the description of the host with the given ID.
func (d *Directory) Host(id ID) (*Host, bool) {
	e, ok := d.hosts[id.String()]
	if !ok {
		return nil, false
	}
	return e.host, true
}

// Enumerate lists every host beneath prefix, sorted.
func (d *Directory) Enumerate(prefix ID) []ID {
	var out []ID
	for _, id := range d.order {
		if id.HasPrefix(prefix) {
			out = append(out, id)
		}
	}
	return out
}

// Owner maps an address back to the host interface it was resolved from.
func (d *Directory) Owner(addr netip.Addr) (IfaceRef, bool) {
	ref, ok := RefForAddress(addr)
	if !ok {
		return IfaceRef{}, false
	}
	e, ok := d.hosts[ref.Host.String()]
	if !ok || !e.ifaces[ref.Iface] {
		return IfaceRef{}, false
	}
	return ref, true
}

func lessID(a, b ID) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ChainResolver answers from Local and asks Remote only for identifiers
// Local cannot see.
type ChainResolver struct {
	Local  Resolver
	Remote Resolver
}

// Resolve implements Resolver.
func (c ChainResolver) Resolve(ctx context.Context, id ID, iface int) (netip.Addr, error) {
	addr, err := c.Local.Resolve(ctx, id, iface)
	if err == nil || !errors.Is(err, ErrAddressUnavailable) || c.Remote == nil {
		return addr, err
	}
	return c.Remote.Resolve(ctx, id, iface)
}
