package engine

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Origin is the origin path attribute.
type Origin int

const (
	OriginIGP Origin = iota
	OriginEGP
	OriginIncomplete
)

func (o Origin) String() string {
	switch o {
	case OriginIGP:
		return "igp"
	case OriginEGP:
		return "egp"
	case OriginIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Route is a destination prefix and its path attributes. Setters return the
// route so construction reads as a chain.
type Route struct {
	Prefix  netip.Prefix
	Origin  *Origin
	ASPath  []int // nearest AS first
	NextHop netip.Addr
}

// NewRoute returns a route to prefix with no attributes set.
func NewRoute(prefix netip.Prefix) *Route {
	return &Route{Prefix: prefix.Masked()}
}

// SetOrigin sets the origin attribute.
func (r *Route) SetOrigin(o Origin) *Route {
	r.Origin = &o
	return r
}

// PrependAS puts as at the front of the AS path.
func (r *Route) PrependAS(as int) *Route {
	r.ASPath = append([]int{as}, r.ASPath...)
	return r
}

// SetNextHop sets the next hop attribute.
func (r *Route) SetNextHop(addr netip.Addr) *Route {
	r.NextHop = addr
	return r
}

// HasAS reports whether as appears anywhere on the path.
func (r *Route) HasAS(as int) bool {
	return slices.Contains(r.ASPath, as)
}

// Clone returns a deep copy.
func (r *Route) Clone() *Route {
	out := *r
	out.ASPath = slices.Clone(r.ASPath)
	if r.Origin != nil {
		o := *r.Origin
		out.Origin = &o
	}
	return &out
}

func (r *Route) String() string {
	path := make([]string, len(r.ASPath))
	for i, as := range r.ASPath {
		path[i] = fmt.Sprint(as)
	}
	origin := "-"
	if r.Origin != nil {
		origin = r.Origin.String()
	}
	return fmt.Sprintf("%s path=[%s] origin=%s nh=%s", r.Prefix, strings.Join(path, " "), origin, r.NextHop)
}

// Update is an update message: reachable routes plus withdrawn prefixes.
type Update struct {
	Sender      string // node ID of the originating engine
	Routes      []*Route
	Withdrawals []netip.Prefix
}

// NewUpdate returns an update from sender carrying one route.
func NewUpdate(sender string, r *Route) *Update {
	return &Update{Sender: sender, Routes: []*Route{r}}
}

// NewWithdrawal returns an update from sender that withdraws prefixes.
func NewWithdrawal(sender string, prefixes ...netip.Prefix) *Update {
	u := &Update{Sender: sender}
	for _, p := range prefixes {
		u.AddWithdrawal(p)
	}
	return u
}

// AddWithdrawal appends a withdrawn prefix.
func (u *Update) AddWithdrawal(p netip.Prefix) *Update {
	u.Withdrawals = append(u.Withdrawals, p.Masked())
	return u
}
