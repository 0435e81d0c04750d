package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HarnessCollector exposes Prometheus metrics for scripted test processes
// and the simulation they run in.
type HarnessCollector struct {
	gatherer prometheus.Gatherer

	StepsExecuted        *prometheus.CounterVec
	CheckpointsRecorded  *prometheus.CounterVec
	CheckpointDuplicates *prometheus.CounterVec
	ProcessAborts        *prometheus.CounterVec
	EventsExecuted       prometheus.Counter

	Destinations      *prometheus.GaugeVec
	DiscoveryDuration *prometheus.HistogramVec
}

// NewHarnessCollector registers harness metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewHarnessCollector(reg prometheus.Registerer) (*HarnessCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_steps_executed_total",
		Help: "Scripted process steps executed, labeled by process.",
	}, []string{"process"}), "harness_steps_executed_total")
	if err != nil {
		return nil, err
	}

	recorded, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_checkpoints_recorded_total",
		Help: "Distinct checkpoints recorded, labeled by test tag.",
	}, []string{"tag"}), "harness_checkpoints_recorded_total")
	if err != nil {
		return nil, err
	}

	dups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_checkpoint_duplicates_total",
		Help: "Checkpoints recorded more than once, labeled by test tag.",
	}, []string{"tag"}), "harness_checkpoint_duplicates_total")
	if err != nil {
		return nil, err
	}

	aborts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_process_aborts_total",
		Help: "Scripted processes aborted by a fatal error, labeled by process.",
	}, []string{"process"}), "harness_process_aborts_total")
	if err != nil {
		return nil, err
	}

	events, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harness_events_executed_total",
		Help: "Simulation events executed by the driver.",
	}), "harness_events_executed_total")
	if err != nil {
		return nil, err
	}

	dests, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harness_destinations",
		Help: "Size of the last destination table built, labeled by agent.",
	}, []string{"agent"}), "harness_destinations")
	if err != nil {
		return nil, err
	}

	discovery, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harness_discovery_duration_seconds",
		Help:    "Wall-clock duration of topology discovery, labeled by agent.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"agent"}), "harness_discovery_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &HarnessCollector{
		gatherer:             gatherer,
		StepsExecuted:        steps,
		CheckpointsRecorded:  recorded,
		CheckpointDuplicates: dups,
		ProcessAborts:        aborts,
		EventsExecuted:       events,
		Destinations:         dests,
		DiscoveryDuration:    discovery,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *HarnessCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HarnessCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObserveStep counts one executed step of process.
func (c *HarnessCollector) ObserveStep(process string) {
	if c == nil || c.StepsExecuted == nil {
		return
	}
	c.StepsExecuted.WithLabelValues(process).Inc()
}

// ObserveAbort counts a fatal abort of process.
func (c *HarnessCollector) ObserveAbort(process string) {
	if c == nil || c.ProcessAborts == nil {
		return
	}
	c.ProcessAborts.WithLabelValues(process).Inc()
}

// ObserveCheckpoint counts a checkpoint for tag. Duplicates are counted
// separately and do not increment the recorded total.
func (c *HarnessCollector) ObserveCheckpoint(tag string, duplicate bool) {
	if c == nil {
		return
	}
	if duplicate {
		if c.CheckpointDuplicates != nil {
			c.CheckpointDuplicates.WithLabelValues(tag).Inc()
		}
		return
	}
	if c.CheckpointsRecorded != nil {
		c.CheckpointsRecorded.WithLabelValues(tag).Inc()
	}
}

// ObserveEvents adds n executed simulation events.
func (c *HarnessCollector) ObserveEvents(n int) {
	if c == nil || c.EventsExecuted == nil || n <= 0 {
		return
	}
	c.EventsExecuted.Add(float64(n))
}

// ObserveDiscovery records one completed topology discovery.
func (c *HarnessCollector) ObserveDiscovery(agent string, elapsed time.Duration, destinations int) {
	if c == nil {
		return
	}
	if c.DiscoveryDuration != nil {
		c.DiscoveryDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
	}
	if c.Destinations != nil {
		c.Destinations.WithLabelValues(agent).Set(float64(destinations))
	}
}
