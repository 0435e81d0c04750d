// Package checkpoint records the pass markers test scripts emit and checks
// them against each scenario's expected set once a run ends.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/routeharness/internal/logging"
	"github.com/signalsfoundry/routeharness/timectrl"
)

// Tag names the scenario a checkpoint belongs to.
type Tag string

const (
	Withdrawals Tag = "withdrawals"
	Propagation Tag = "propagation"
	Reflection  Tag = "reflection"
	Select      Tag = "select"
	Forwarding1 Tag = "forwarding1"
	Forwarding2 Tag = "forwarding2"
	Forwarding3 Tag = "forwarding3"
	Forwarding4 Tag = "forwarding4"
)

// ForwardingTags lists the tags app receivers record on.
var ForwardingTags = []Tag{Forwarding1, Forwarding2, Forwarding3, Forwarding4}

// Checkpoint is one recorded pass marker. At is the simulation time offset
// at which it was recorded.
type Checkpoint struct {
	Scenario Tag           `json:"scenario"`
	Step     int           `json:"step"`
	At       time.Duration `json:"at"`
}

type key struct {
	tag  Tag
	step int
}

// Metrics receives one observation per Record call.
type Metrics interface {
	ObserveCheckpoint(tag string, duplicate bool)
}

// Recorder is an ordered, append-only checkpoint log. Recording the same
// (tag, step) again is a no-op apart from the duplicate counter.
type Recorder struct {
	mu sync.Mutex

	clock   timectrl.SimClock
	log     logging.Logger
	metrics Metrics

	entries    []Checkpoint
	seen       map[key]bool
	duplicates int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock stamps checkpoints with the clock's elapsed time.
func WithClock(c timectrl.SimClock) Option { return func(r *Recorder) { r.clock = c } }

// WithLogger sets the recorder's logger.
func WithLogger(l logging.Logger) Option { return func(r *Recorder) { r.log = l } }

// WithMetrics reports every Record call to m.
func WithMetrics(m Metrics) Option { return func(r *Recorder) { r.metrics = m } }

// NewRecorder returns an empty Recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{seen: make(map[key]bool)}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrNoop(r.log)
	return r
}

// Record appends (tag, step). It never fails.
func (r *Recorder) Record(tag Tag, step int) {
	var at time.Duration
	if r.clock != nil {
		at = r.clock.Elapsed()
	}

	r.mu.Lock()
	k := key{tag, step}
	dup := r.seen[k]
	if dup {
		r.duplicates++
	} else {
		r.seen[k] = true
		r.entries = append(r.entries, Checkpoint{Scenario: tag, Step: step, At: at})
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveCheckpoint(string(tag), dup)
	}
	if dup {
		r.log.Debug(context.Background(), "duplicate checkpoint ignored",
			logging.String("scenario", string(tag)),
			logging.Int("step", step),
			logging.SimTime(at),
		)
		return
	}
	r.log.Info(context.Background(), "checkpoint",
		logging.String("scenario", string(tag)),
		logging.Int("step", step),
		logging.SimTime(at),
	)
}

// Snapshot returns a copy of the log in recording order.
func (r *Recorder) Snapshot() []Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Checkpoint, len(r.entries))
	copy(out, r.entries)
	return out
}

// Has reports whether (tag, step) was recorded.
func (r *Recorder) Has(tag Tag, step int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[key{tag, step}]
}

// Len returns the number of distinct checkpoints recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Duplicates returns how many Record calls were ignored as repeats.
func (r *Recorder) Duplicates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicates
}
