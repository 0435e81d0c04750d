package sched

import (
	"context"
	"time"

	"github.com/signalsfoundry/routeharness/timectrl"
)

// StopReason tells why a Driver run ended.
type StopReason int

const (
	StopHorizon StopReason = iota // simulation time reached the horizon
	StopIdle                      // no events left to run
	StopAborted                   // the stop predicate fired
)

func (r StopReason) String() string {
	switch r {
	case StopHorizon:
		return "horizon"
	case StopIdle:
		return "idle"
	case StopAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Driver steps a virtual clock from event to event. It is the only place
// where simulation time moves during a harness run, so everything a
// callback does between two scheduled events is atomic with respect to
// every other agent.
type Driver struct {
	Clock     *timectrl.TimeController
	Scheduler EventScheduler
	Metrics   EventMetrics

	executed int
}

// EventMetrics receives the number of events run at each instant.
type EventMetrics interface {
	ObserveEvents(n int)
}

// Executed reports how many events the driver has run so far.
func (d *Driver) Executed() int { return d.executed }

func (d *Driver) runDue(stop func() bool) {
	n := d.Scheduler.RunDue(stop)
	d.executed += n
	if d.Metrics != nil {
		d.Metrics.ObserveEvents(n)
	}
}

// NewDriver returns a driver with a fresh virtual clock starting at start
// and a scheduler bound to it.
func NewDriver(start time.Time) *Driver {
	clock := timectrl.NewVirtualClock(start)
	return &Driver{
		Clock:     clock,
		Scheduler: NewEventScheduler(clock),
	}
}

// Run executes events until the elapsed simulation time would pass horizon,
// no events remain, or stop returns true. stop is checked before every
// event, so an event that trips it is the last one to run. ctx is only consulted between instants so an interrupted CLI run
// can exit; the simulation itself has no cancellation.
func (d *Driver) Run(ctx context.Context, horizon time.Duration, stop func() bool) (StopReason, error) {
	end := d.Clock.StartTime.Add(horizon)

	d.runDue(stop)
	for {
		if stop != nil && stop() {
			return StopAborted, nil
		}
		if err := ctx.Err(); err != nil {
			return StopAborted, err
		}

		next, ok := d.Scheduler.NextAt()
		if !ok {
			return StopIdle, nil
		}
		if next.After(end) {
			d.Clock.AdvanceTo(end)
			return StopHorizon, nil
		}

		d.Clock.AdvanceTo(next)
		d.runDue(stop)
	}
}
