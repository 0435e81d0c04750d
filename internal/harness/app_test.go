package harness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/sched"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

const appTopology = `
net:
  nets:
    - id_range: {min: 1, max: 3}
      hosts:
        - id: 1
          graph:
            sessions: [{name: app}]
    - id: 9
      hosts:
        - id: 1
          interfaces: [0, 1]
          graph:
            sessions: [{name: app}]
`

// loopback delivers every message to the destination's agent at once.
type loopback struct {
	agents map[string]*AppAgent
	sent   []AppMessage
	fail   error
}

func (l *loopback) Send(_ context.Context, msg AppMessage) error {
	if l.fail != nil {
		return l.fail
	}
	l.sent = append(l.sent, msg)
	if dst, ok := l.agents[msg.Dst]; ok {
		dst.OnIncoming(msg, msg.Src)
	}
	return nil
}

type appRig struct {
	driver    *sched.Driver
	env       *Env
	runner    *Runner
	transport *loopback
}

func newAppRig(t *testing.T, validation ValidationMode) *appRig {
	t.Helper()
	desc, err := topology.Load(strings.NewReader(appTopology))
	require.NoError(t, err)
	dir, faults := topology.NewDirectory(&desc.Net)
	require.Empty(t, faults)

	driver := sched.NewDriver(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	env := &Env{
		Resolver: dir,
		Topology: &desc.Net,
		Recorder: checkpoint.NewRecorder(checkpoint.WithClock(driver.Clock)),
		Options:  Options{Validation: validation},
	}
	return &appRig{
		driver:    driver,
		env:       env,
		runner:    NewRunner(driver, env),
		transport: &loopback{agents: make(map[string]*AppAgent)},
	}
}

func (r *appRig) agent(t *testing.T, host string, cfg AppConfig, ifaces ...int) *AppAgent {
	t.Helper()
	if len(ifaces) == 0 {
		ifaces = []int{0}
	}
	a := NewAppAgent(topology.MustParseID(host), "app", ifaces, r.env, r.transport)
	require.NoError(t, a.Configure(cfg))
	r.transport.agents[host] = a
	r.runner.Add(a)
	return a
}

func TestParseAppConfig(t *testing.T) {
	cfg, err := ParseAppConfig(map[string]any{"sender": true, "dest": "all", "frequency": 5})
	require.NoError(t, err)
	require.Equal(t, AppConfig{Sender: true, Dest: DestList{"all"}, Frequency: 5}, cfg)
	require.Equal(t, 5*time.Second, cfg.Period())

	cfg, err = ParseAppConfig(map[string]any{"receiver": true, "dest": []any{"1:1(0)", "2:1(0)"}})
	require.NoError(t, err)
	require.Equal(t, DestList{"1:1(0)", "2:1(0)"}, cfg.Dest)
	require.Equal(t, time.Second, cfg.Period())

	_, err = ParseAppConfig(map[string]any{"sendr": true})
	require.Error(t, err)

	cfg, err = ParseAppConfig(nil)
	require.NoError(t, err)
	require.Zero(t, cfg)
}

func TestConfigureRejectsAllWithLiterals(t *testing.T) {
	for _, dest := range []DestList{
		{"all", "2:1(0)"},
		{"2:1(0)", "all"},
	} {
		a := NewAppAgent(topology.ID{1, 1}, "app", []int{0}, &Env{}, nil)
		err := a.Configure(AppConfig{Sender: true, Dest: dest})
		require.ErrorIs(t, err, ErrConfigurationConflict, "dest %v", dest)
	}

	a := NewAppAgent(topology.ID{1, 1}, "app", []int{0}, &Env{}, nil)
	require.ErrorIs(t, a.Configure(AppConfig{Dest: DestList{"2:x"}}), topology.ErrBadID)
	require.NoError(t, a.Configure(AppConfig{Sender: true, Dest: DestList{"all", "all"}}))
}

func TestSenderDiscoversAndReceiversValidate(t *testing.T) {
	rig := newAppRig(t, ValidationOn)
	sender := rig.agent(t, "1:1", AppConfig{Sender: true, Dest: DestList{"all"}, Frequency: 10})
	recv := rig.agent(t, "2:1", AppConfig{Receiver: true})
	deaf := rig.agent(t, "3:1", AppConfig{})

	rep, err := rig.runner.Run(context.Background(), 25*time.Second)
	require.NoError(t, err)
	require.Equal(t, sched.StopHorizon, rep.Reason)

	require.Equal(t, []string{"2:1", "3:1", "9:1"}, sender.Destinations().Keys())
	require.Equal(t, 1, sender.setups)

	sent, _, _ := sender.Counts()
	require.Equal(t, 6, sent, "two rounds, at 10s and 20s, to three hosts")
	_, received, _ := recv.Counts()
	require.Equal(t, 2, received)
	_, _, ignored := deaf.Counts()
	require.Equal(t, 2, ignored)

	for _, tag := range checkpoint.ForwardingTags {
		require.True(t, rig.env.Recorder.Has(tag, 1), "missing %s", tag)
	}
	require.Equal(t, 4, rig.env.Recorder.Len())
	require.Equal(t, 4, rig.env.Recorder.Duplicates())
	require.Equal(t, 10*time.Second, rig.env.Recorder.Snapshot()[0].At)
}

func TestReceiverWithoutValidationRecordsNothing(t *testing.T) {
	rig := newAppRig(t, ValidationOff)
	rig.agent(t, "1:1", AppConfig{Sender: true, Dest: DestList{"2:1(0)"}})
	recv := rig.agent(t, "2:1", AppConfig{Receiver: true})

	_, err := rig.runner.Run(context.Background(), 3*time.Second)
	require.NoError(t, err)

	_, received, _ := recv.Counts()
	require.Equal(t, 3, received)
	require.Zero(t, rig.env.Recorder.Len())
	for _, msg := range rig.transport.sent {
		require.Equal(t, "2:1", msg.Dst)
		require.Equal(t, recv.Address(), msg.DstAddr)
	}
}

func TestAppSetupFailuresAbortRun(t *testing.T) {
	rig := newAppRig(t, ValidationOff)
	rig.agent(t, "9:1", AppConfig{Receiver: true}, 0, 1)

	_, err := rig.runner.Run(context.Background(), time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "has 2 interfaces")

	rig = newAppRig(t, ValidationOff)
	rig.agent(t, "1:1", AppConfig{Sender: true, Dest: DestList{"5:5(0)"}})
	_, err = rig.runner.Run(context.Background(), time.Minute)
	require.ErrorIs(t, err, topology.ErrUnresolvedIdentifier)
}

func TestSendFailureAbortsRun(t *testing.T) {
	rig := newAppRig(t, ValidationOff)
	rig.transport.fail = errors.New("no route")
	rig.agent(t, "1:1", AppConfig{Sender: true, Dest: DestList{"2:1(0)"}})

	rep, err := rig.runner.Run(context.Background(), time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "send to 2:1")
	require.Equal(t, time.Second, rep.Elapsed)
}

func TestActivationBeforeConfigureFails(t *testing.T) {
	a := NewAppAgent(topology.ID{1, 1}, "app", []int{0}, &Env{}, nil)
	require.Error(t, a.OnActivation(context.Background()))
}
