package scenarios

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/harness"
)

func TestRegistry(t *testing.T) {
	require.Equal(t, []string{"propagation", "reflection", "select", "withdrawal"}, Names())
	require.Len(t, All(), 4)
	_, ok := Lookup("bogus")
	require.False(t, ok)
}

func offsets(steps []harness.Step) []time.Duration {
	var out []time.Duration
	var at time.Duration
	for _, s := range steps {
		at += s.Wait
		out = append(out, at)
	}
	return out
}

func TestDefaultScripts(t *testing.T) {
	cases := []struct {
		name    string
		peers   []string
		offsets []time.Duration
		expect  checkpoint.Expectation
	}{
		{
			name:    "withdrawal",
			peers:   []string{"2:1"},
			offsets: []time.Duration{7 * time.Second, 9 * time.Second, 11 * time.Second, 13 * time.Second},
			expect:  checkpoint.Expectation{Scenario: checkpoint.Withdrawals, Steps: []int{1, 3, 4, 6}, Ordered: true},
		},
		{
			name:    "propagation",
			peers:   []string{"2:1"},
			offsets: []time.Duration{7 * time.Second, 107 * time.Second},
			expect:  checkpoint.Expectation{Scenario: checkpoint.Propagation, Steps: []int{1, 4}, Ordered: true},
		},
		{
			name:    "reflection",
			peers:   []string{"4:1"},
			offsets: []time.Duration{100 * time.Second, 200 * time.Second},
			expect:  checkpoint.Expectation{Scenario: checkpoint.Reflection, Steps: []int{1, 4}, Ordered: true},
		},
		{
			name:    "select",
			peers:   []string{"3:1", "2:1"},
			offsets: []time.Duration{100 * time.Second, 150 * time.Second},
			expect:  checkpoint.Expectation{Scenario: checkpoint.Select, Steps: []int{1}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, ok := Lookup(tc.name)
			require.True(t, ok)
			script, err := s.Script(nil)
			require.NoError(t, err)
			require.Equal(t, tc.peers, script.Peers)
			require.Equal(t, tc.offsets, offsets(script.Steps))
			require.Equal(t, tc.expect, s.Expectation())
		})
	}
}

func TestPropagationInspectsTwoHopsAway(t *testing.T) {
	s, _ := Lookup("propagation")
	script, err := s.Script(map[string]any{"peer": "5:1", "via": "6:1"})
	require.NoError(t, err)

	inspect, ok := script.Steps[1].Actions[0].(harness.Inspect)
	require.True(t, ok)
	require.Equal(t, []string{"5:1", "6:1"}, inspect.Hops)
	require.Equal(t, harness.Present, inspect.Want)
	require.Equal(t, DefaultPrefix, inspect.Prefix)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	s, _ := Lookup("withdrawal")
	script, err := s.Script(map[string]any{
		"prefix":   "fdee:1::1/48",
		"settle":   "1s",
		"interval": "500ms",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"2:1"}, script.Peers)
	require.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 2 * time.Second, 2500 * time.Millisecond}, offsets(script.Steps))

	adv, ok := script.Steps[0].Actions[0].(harness.Advertise)
	require.True(t, ok)
	require.Equal(t, netip.MustParsePrefix("fdee:1::/48"), adv.Prefix)

	require.Equal(t, 7*time.Second, s.Defaults.Settle, "overrides must not leak into the registry")
}

func TestBadOptions(t *testing.T) {
	s, _ := Lookup("select")
	for _, opts := range []map[string]any{
		{"prefix": "not-a-prefix"},
		{"stagger": "5s"},
		{"settle": "-1s"},
	} {
		_, err := s.Script(opts)
		require.Error(t, err, "%v", opts)
	}
}

func TestExpectationIsACopy(t *testing.T) {
	s, _ := Lookup("withdrawal")
	exp := s.Expectation()
	exp.Steps[0] = 99
	require.Equal(t, []int{1, 3, 4, 6}, s.Expectation().Steps)
}
