package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/internal/sched"
)

// Agent is anything a Runner can start: it schedules its own first
// activation and re-arms itself from there.
type Agent interface {
	Name() string
	Start(ctx context.Context)
}

// Report summarises a finished run.
type Report struct {
	Reason  sched.StopReason
	Elapsed time.Duration
	Events  int
	Agents  int
	// Fatal is the first agent error, if the run was aborted by one.
	Fatal error
}

// Runner drives a set of agents over one virtual clock. The first fatal
// agent error stops the whole run.
type Runner struct {
	driver  *sched.Driver
	env     *Env
	agents  []Agent
	started bool
	fatal   error
}

// NewRunner binds env to driver. env.Scheduler is set to the driver's
// scheduler when empty.
func NewRunner(driver *sched.Driver, env *Env) *Runner {
	r := &Runner{driver: driver, env: env}
	if env.Scheduler == nil {
		env.Scheduler = driver.Scheduler
	}
	env.abort = r.abort
	return r
}

func (r *Runner) abort(err error) {
	if r.fatal == nil {
		r.fatal = err
	}
}

// Add registers an agent. Agents are started in the order they were added.
func (r *Runner) Add(a Agent) { r.agents = append(r.agents, a) }

// Agents returns the registered agents.
func (r *Runner) Agents() []Agent { return r.agents }

// Run starts every agent and steps simulated time until horizon, until
// nothing is left to do, or until an agent fails. horizon is measured from
// the clock's start, so a later call with a larger horizon resumes the
// run; agents are only started by the first call.
func (r *Runner) Run(ctx context.Context, horizon time.Duration) (Report, error) {
	log := r.env.logger()
	if !r.started {
		r.started = true
		for _, a := range r.agents {
			a.Start(ctx)
		}
	}
	log.Info(ctx, "run started",
		logging.Int("agents", len(r.agents)),
		logging.Duration("horizon", horizon),
	)

	reason, err := r.driver.Run(ctx, horizon, func() bool { return r.fatal != nil })
	rep := Report{
		Reason:  reason,
		Elapsed: r.driver.Clock.Elapsed(),
		Events:  r.driver.Executed(),
		Agents:  len(r.agents),
		Fatal:   r.fatal,
	}
	log.Info(ctx, "run finished",
		logging.String("reason", reason.String()),
		logging.SimTime(rep.Elapsed),
		logging.Int("events", rep.Events),
	)
	if r.fatal != nil {
		return rep, fmt.Errorf("run aborted: %w", r.fatal)
	}
	return rep, err
}
