// Package scenarios holds the scripted conformance tests. Each scenario is
// a script factory plus the checkpoints a passing run records; hosts opt
// in by naming the scenario in a session's "use" field.
package scenarios

import (
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/harness"
)

// DefaultPrefix is the test prefix scripts advertise unless told
// otherwise. It lies outside every address the topology hands out.
var DefaultPrefix = netip.MustParsePrefix("fdff:ffff::/32")

// Params tune a scenario. Durations are written as "7s", "2m".
type Params struct {
	Peer      string        `yaml:"peer"`      // receives the injected route
	Via       string        `yaml:"via"`       // propagation: the peer's neighbour to inspect
	Alternate string        `yaml:"alternate"` // select: the later injection target
	Prefix    string        `yaml:"prefix"`
	Settle    time.Duration `yaml:"settle"`   // wait before the first injection
	Interval  time.Duration `yaml:"interval"` // wait between later steps
}

func (p Params) prefix() (netip.Prefix, error) {
	if p.Prefix == "" {
		return DefaultPrefix, nil
	}
	pfx, err := netip.ParsePrefix(p.Prefix)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("prefix: %w", err)
	}
	return pfx.Masked(), nil
}

// Scenario is one registered test.
type Scenario struct {
	Name     string
	Tag      checkpoint.Tag
	Steps    []int
	Ordered  bool
	Defaults Params

	build func(Params, netip.Prefix) []harness.Step
	peers func(Params) []string
}

// Script returns the scenario's script with opts applied over the
// defaults.
func (s Scenario) Script(opts map[string]any) (harness.Script, error) {
	params := s.Defaults
	if err := harness.DecodeOptions(opts, &params); err != nil {
		return harness.Script{}, fmt.Errorf("%s options: %w", s.Name, err)
	}
	pfx, err := params.prefix()
	if err != nil {
		return harness.Script{}, fmt.Errorf("%s options: %w", s.Name, err)
	}
	if params.Settle < 0 || params.Interval < 0 {
		return harness.Script{}, fmt.Errorf("%s options: negative wait", s.Name)
	}
	return harness.Script{Peers: s.peers(params), Steps: s.build(params, pfx)}, nil
}

// Expectation returns what a passing run of the scenario records.
func (s Scenario) Expectation() checkpoint.Expectation {
	return checkpoint.Expectation{Scenario: s.Tag, Steps: append([]int(nil), s.Steps...), Ordered: s.Ordered}
}

var registry = map[string]Scenario{}

func register(s Scenario) {
	if _, dup := registry[s.Name]; dup {
		panic("scenarios: duplicate " + s.Name)
	}
	registry[s.Name] = s
}

// Lookup returns the scenario registered under name.
func Lookup(name string) (Scenario, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names lists the registered scenarios, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every registered scenario sorted by name.
func All() []Scenario {
	names := Names()
	out := make([]Scenario, len(names))
	for i, n := range names {
		out[i] = registry[n]
	}
	return out
}

func onlyPeer(p Params) []string { return []string{p.Peer} }

// inject is the advertise, mark, reset-timers triple every scenario opens
// with.
func inject(tag checkpoint.Tag, step int, peer string, pfx netip.Prefix) []harness.Action {
	return []harness.Action{
		harness.Advertise{Peer: peer, Prefix: pfx},
		harness.Mark{Tag: tag, Step: step},
		harness.ResetTimers{Peer: peer},
	}
}

func init() {
	register(Scenario{
		Name:    "withdrawal",
		Tag:     checkpoint.Withdrawals,
		Steps:   []int{1, 3, 4, 6},
		Ordered: true,
		Defaults: Params{
			Peer:     "2:1",
			Settle:   7 * time.Second,
			Interval: 2 * time.Second,
		},
		peers: onlyPeer,
		build: func(p Params, pfx netip.Prefix) []harness.Step {
			tag := checkpoint.Withdrawals
			hops := []string{p.Peer}
			return []harness.Step{
				{Name: "advertise", Wait: p.Settle, Actions: inject(tag, 1, p.Peer, pfx)},
				{Name: "check-installed", Wait: p.Interval, Actions: []harness.Action{
					harness.Inspect{Hops: hops, Prefix: pfx, Want: harness.Present, Tag: tag, Step: 3},
				}},
				{Name: "withdraw", Wait: p.Interval, Actions: []harness.Action{
					harness.Withdraw{Peer: p.Peer, Prefix: pfx},
					harness.Mark{Tag: tag, Step: 4},
					harness.ResetTimers{Peer: p.Peer},
				}},
				{Name: "check-removed", Wait: p.Interval, Actions: []harness.Action{
					harness.Inspect{Hops: hops, Prefix: pfx, Want: harness.Absent, Tag: tag, Step: 6},
				}},
			}
		},
	})

	register(Scenario{
		Name:    "propagation",
		Tag:     checkpoint.Propagation,
		Steps:   []int{1, 4},
		Ordered: true,
		Defaults: Params{
			Peer:     "2:1",
			Via:      "1:1",
			Settle:   7 * time.Second,
			Interval: 100 * time.Second,
		},
		peers: onlyPeer,
		build: func(p Params, pfx netip.Prefix) []harness.Step {
			tag := checkpoint.Propagation
			return []harness.Step{
				{Name: "advertise", Wait: p.Settle, Actions: inject(tag, 1, p.Peer, pfx)},
				{Name: "check-two-hops", Wait: p.Interval, Actions: []harness.Action{
					harness.Inspect{Hops: []string{p.Peer, p.Via}, Prefix: pfx, Want: harness.Present, Tag: tag, Step: 4},
				}},
			}
		},
	})

	register(Scenario{
		Name:    "reflection",
		Tag:     checkpoint.Reflection,
		Steps:   []int{1, 4},
		Ordered: true,
		Defaults: Params{
			Peer:     "4:1",
			Settle:   100 * time.Second,
			Interval: 100 * time.Second,
		},
		peers: onlyPeer,
		build: func(p Params, pfx netip.Prefix) []harness.Step {
			tag := checkpoint.Reflection
			return []harness.Step{
				{Name: "advertise", Wait: p.Settle, Actions: inject(tag, 1, p.Peer, pfx)},
				{Name: "settled", Wait: p.Interval, Actions: []harness.Action{
					harness.Mark{Tag: tag, Step: 4},
				}},
			}
		},
	})

	register(Scenario{
		Name:  "select",
		Tag:   checkpoint.Select,
		Steps: []int{1},
		Defaults: Params{
			Peer:      "3:1",
			Alternate: "2:1",
			Settle:    100 * time.Second,
			Interval:  50 * time.Second,
		},
		peers: func(p Params) []string { return []string{p.Peer, p.Alternate} },
		build: func(p Params, pfx netip.Prefix) []harness.Step {
			tag := checkpoint.Select
			return []harness.Step{
				{Name: "advertise-first", Wait: p.Settle, Actions: []harness.Action{
					harness.Mark{Tag: tag, Step: 1},
					harness.Advertise{Peer: p.Peer, Prefix: pfx},
					harness.ResetTimers{Peer: p.Peer},
				}},
				{Name: "advertise-second", Wait: p.Interval, Actions: []harness.Action{
					harness.Advertise{Peer: p.Alternate, Prefix: pfx},
					harness.ResetTimers{Peer: p.Alternate},
				}},
			}
		},
	})
}
