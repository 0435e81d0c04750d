// Package harness runs test agents against routing engines in simulated
// time. A scripted Process injects control-plane events at fixed offsets
// and inspects engines elsewhere in the topology; an AppAgent exchanges
// test traffic between hosts. Both record pass markers in a shared
// checkpoint.Recorder.
package harness

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/routeharness/internal/checkpoint"
	"github.com/signalsfoundry/routeharness/internal/locator"
	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/sched"
	"github.com/signalsfoundry/routeharness/internal/topology"
)

// ValidationMode selects whether agents record validation checkpoints.
type ValidationMode int

const (
	ValidationOff ValidationMode = iota
	ValidationOn
)

func (m ValidationMode) String() string {
	if m == ValidationOn {
		return "on"
	}
	return "off"
}

// Options are run-wide settings shared by every agent.
type Options struct {
	Validation ValidationMode
	// BasicAttributes omits the origin attribute from injected routes.
	BasicAttributes bool
}

// Metrics receives agent activity. observability.HarnessCollector
// satisfies it.
type Metrics interface {
	topology.DiscoveryMetrics
	ObserveStep(process string)
	ObserveAbort(process string)
}

// Env is what agents see of the run they belong to.
type Env struct {
	Scheduler sched.EventScheduler
	Locator   *locator.Locator
	Resolver  topology.Resolver
	Topology  *topology.Net
	Recorder  *checkpoint.Recorder
	Log       logging.Logger
	Metrics   Metrics
	Options   Options

	abort func(error)
}

func (e *Env) logger() logging.Logger { return logging.OrNoop(e.Log) }

// fail reports a fatal agent error. Inside a Runner this aborts the run.
func (e *Env) fail(ctx context.Context, agent string, err error) {
	if e.Metrics != nil {
		e.Metrics.ObserveAbort(agent)
	}
	e.logger().Error(ctx, "agent aborted",
		logging.String("agent", agent),
		logging.SimTime(e.Scheduler.Elapsed()),
		logging.Err(err),
	)
	if e.abort != nil {
		e.abort(fmt.Errorf("%s: %w", agent, err))
	}
}

func (e *Env) discoveryMetrics() topology.DiscoveryMetrics {
	if e.Metrics == nil {
		return nil
	}
	return e.Metrics
}
