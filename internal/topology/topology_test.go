package topology

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/routeharness/internal/logging"
)

const fixture = `
net:
  nets:
    - id_range: {min: 1, max: 3}
      hosts:
        - id: 1
          graph:
            sessions:
              - name: bgp
              - name: test
    - id: 4
      nets:
        - id_range: {min: 1, max: 2}
          hosts:
            - id_range: {min: 1, max: 2}
              interfaces: [0, 1]
              graph:
                sessions:
                  - name: test
            - id: 9
              graph:
                sessions: [{name: bgp}]
      hosts:
        - id_range: {min: 5, max: 1}
          graph: {sessions: [{name: test}]}
        - id: 7
        - id: 8
          graph: {sessions: [{name: test}]}
`

func loadFixture(t *testing.T) *Description {
	t.Helper()
	desc, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)
	return desc
}

func TestIDRenderingAndConcat(t *testing.T) {
	id := MustParseID("2:1")
	require.Equal(t, "2:1", id.String())
	require.Equal(t, "2", id.Parent().String())

	a, b, c := ID{1}, ID{2, 3}, ID{4}
	require.True(t, Concat(Concat(a, b), c).Equal(Concat(a, Concat(b, c))))
	require.True(t, Concat(ID{}, a).Equal(a))

	base := ID{1, 2}
	child := base.Append(3)
	other := base.Append(4)
	require.Equal(t, "1:2:3", child.String())
	require.Equal(t, "1:2:4", other.String(), "Append must not alias the receiver")

	_, err := ParseID("2:x")
	require.ErrorIs(t, err, ErrBadID)

	ref, err := ParseIfaceRef("2:1(3)", 0)
	require.NoError(t, err)
	require.Equal(t, IfaceRef{Host: ID{2, 1}, Iface: 3}, ref)
	require.Equal(t, "2:1(3)", ref.String())

	ref, err = ParseIfaceRef("2:1", 0)
	require.NoError(t, err)
	require.Equal(t, 0, ref.Iface)
}

func TestAddressForIsStructural(t *testing.T) {
	a1, err := AddressFor(ID{2, 1}, 0)
	require.NoError(t, err)
	a2, err := AddressFor(ID{2, 1}, 0)
	require.NoError(t, err)
	require.Equal(t, a1, a2)

	others := []struct {
		id    ID
		iface int
	}{
		{ID{2, 1}, 1},
		{ID{2, 1, 0}, 0},
		{ID{1, 2}, 0},
		{ID{2}, 0},
	}
	for _, o := range others {
		addr, err := AddressFor(o.id, o.iface)
		require.NoError(t, err)
		require.NotEqual(t, a1, addr, "%s(%d) collides with 2:1(0)", o.id, o.iface)
	}

	ref, ok := RefForAddress(a1)
	require.True(t, ok)
	require.Equal(t, "2:1(0)", ref.String())

	_, err = AddressFor(ID{1, 2, 3, 4, 5, 6}, 0)
	require.ErrorIs(t, err, ErrUnresolvedIdentifier)
}

func TestDirectoryResolve(t *testing.T) {
	desc := loadFixture(t)
	dir, faults := NewDirectory(&desc.Net)
	require.Len(t, faults, 2)
	for _, f := range faults {
		require.ErrorIs(t, f, ErrMalformedTopologyNode)
	}

	ctx := context.Background()
	first, err := dir.Resolve(ctx, ID{4, 2, 1}, 1)
	require.NoError(t, err)
	second, err := dir.Resolve(ctx, ID{4, 2, 1}, 1)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = dir.Resolve(ctx, ID{4, 7}, 0)
	require.ErrorIs(t, err, ErrUnresolvedIdentifier)
	_, err = dir.Resolve(ctx, ID{1, 1}, 1)
	require.ErrorIs(t, err, ErrUnresolvedIdentifier)

	var got []string
	for _, id := range dir.Enumerate(ID{4}) {
		got = append(got, id.String())
	}
	require.Equal(t, []string{"4:1:1", "4:1:2", "4:1:9", "4:2:1", "4:2:2", "4:2:9", "4:8"}, got)
	require.Len(t, dir.Enumerate(nil), 10)

	owner, ok := dir.Owner(first)
	require.True(t, ok)
	require.Equal(t, "4:2:1(1)", owner.String())
}

func TestDirectoryPartitionsAndChain(t *testing.T) {
	desc := loadFixture(t)
	local, _ := NewDirectory(&desc.Net, WithPartitions(1, 2))
	full, _ := NewDirectory(&desc.Net)
	ctx := context.Background()

	_, err := local.Resolve(ctx, ID{3, 1}, 0)
	require.ErrorIs(t, err, ErrAddressUnavailable)

	chain := ChainResolver{Local: local, Remote: full}
	addr, err := chain.Resolve(ctx, ID{3, 1}, 0)
	require.NoError(t, err)
	want, _ := AddressFor(ID{3, 1}, 0)
	require.Equal(t, want, addr)

	// Unresolved inside a visible partition is final, not forwarded.
	chain.Remote = failingResolver{}
	_, err = chain.Resolve(ctx, ID{1, 5}, 0)
	require.ErrorIs(t, err, ErrUnresolvedIdentifier)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, ID, int) (netip.Addr, error) {
	return netip.Addr{}, errors.New("remote must not be called")
}

type discoveryObservation struct {
	agent string
	size  int
}

type recordingMetrics struct{ seen []discoveryObservation }

func (m *recordingMetrics) ObserveDiscovery(agent string, _ time.Duration, n int) {
	m.seen = append(m.seen, discoveryObservation{agent: agent, size: n})
}

func TestWalkerDiscoverSkipsSelfAndMalformed(t *testing.T) {
	desc := loadFixture(t)
	dir, _ := NewDirectory(&desc.Net)

	var logs bytes.Buffer
	metrics := &recordingMetrics{}
	w := &Walker{
		Agent:    "test",
		Self:     ID{2, 1},
		Resolver: dir,
		Log:      logging.New(logging.Config{Level: "warn", Output: &logs}),
		Metrics:  metrics,
	}

	dests, err := w.Discover(context.Background(), &desc.Net)
	require.NoError(t, err)
	require.Equal(t, []string{"1:1", "3:1", "4:1:1", "4:1:2", "4:2:1", "4:2:2", "4:8"}, dests.Keys())
	require.NotContains(t, dests, "2:1")

	for _, k := range dests.Keys() {
		id := MustParseID(k)
		again, err := dir.Resolve(context.Background(), id, 0)
		require.NoError(t, err)
		require.Equal(t, again, dests[k])
	}

	require.Equal(t, 2, strings.Count(logs.String(), "skipping malformed topology node"))
	require.Equal(t, []discoveryObservation{{agent: "test", size: 7}}, metrics.seen)
}

func TestWalkerReturnsResolverFailures(t *testing.T) {
	desc := loadFixture(t)
	w := &Walker{Agent: "test", Self: ID{2, 1}, Resolver: failingResolver{}}

	_, err := w.Discover(context.Background(), &desc.Net)
	require.Error(t, err)
	require.Contains(t, err.Error(), "resolve 1:1(0)")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader("net:\n  hostz: []\n"))
	require.Error(t, err)
}
