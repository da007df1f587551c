// Package telemetry records run metrics in Prometheus text format.
//
// A sync run is a short-lived batch job, so metrics are not served. Each
// run gets a fresh registry which is written to a textfile for the node
// exporter's textfile collector to pick up.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/enrolsync/internal/engine"
)

const namespace = "enrolsync"

// Metrics holds one run's metrics.
type Metrics struct {
	registry *prometheus.Registry

	// FactsStaged counts facts fetched per source.
	FactsStaged *prometheus.CounterVec
	// SourceErrors counts failed fetches per source.
	SourceErrors *prometheus.CounterVec
	// Errors counts recorded sync errors per kind.
	Errors *prometheus.CounterVec
	// Removals counts removals per outcome: unenrol, demote, skip, withheld.
	Removals *prometheus.CounterVec

	Orphans          prometheus.Counter
	Additions        prometheus.Counter
	ApplyFailures    prometheus.Counter
	GovernorTrips    prometheus.Counter
	GroupMemberships prometheus.Counter

	LastRun     prometheus.Gauge
	LastSuccess prometheus.Gauge
}

// New creates metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FactsStaged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_staged_total",
			Help:      "Enrolment facts fetched, by source.",
		}, []string{"source"}),
		SourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Failed source fetches, by source.",
		}, []string{"source"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors recorded during the run, by kind.",
		}, []string{"kind"}),
		Removals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Proposed removals, by outcome.",
		}, []string{"outcome"}),
		Orphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_courses_total",
			Help:      "Distinct course codes with no LMS course shell.",
		}),
		Additions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "additions_total",
			Help:      "Enrolments added.",
		}),
		ApplyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_failures_total",
			Help:      "Additions and removals that failed to apply.",
		}),
		GovernorTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_trips_total",
			Help:      "Removal phases refused by the unenrol threshold.",
		}),
		GroupMemberships: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_memberships_added_total",
			Help:      "Group memberships added.",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the last run.",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run recorded no errors, else 0.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records a finished run.
func (m *Metrics) Observe(run *engine.Run) {
	for _, s := range run.Sources {
		m.FactsStaged.WithLabelValues(s.Name).Add(float64(s.Facts))
		if s.Failed {
			m.SourceErrors.WithLabelValues(s.Name).Inc()
		}
	}
	for _, se := range run.Errors {
		m.Errors.WithLabelValues(string(se.Kind)).Inc()
	}

	m.Orphans.Add(float64(len(run.Orphans)))
	m.Additions.Add(float64(run.Additions.Stats.Enrolled))
	m.ApplyFailures.Add(float64(run.Additions.Stats.Failed + run.Removals.Stats.Failed))
	m.GroupMemberships.Add(float64(run.Groups.Added))

	m.Removals.WithLabelValues("unenrol").Add(float64(run.Removals.Stats.Unenrolled))
	m.Removals.WithLabelValues("demote").Add(float64(run.Removals.Stats.Demoted))
	m.Removals.WithLabelValues("unassign").Add(float64(run.Removals.Stats.Unassigned))
	m.Removals.WithLabelValues("skip").Add(float64(run.Removals.Stats.SkippedDisabled))
	m.Removals.WithLabelValues("withheld").Add(float64(run.Withheld))

	if run.Blocked != nil {
		m.GovernorTrips.Inc()
	}

	m.LastRun.Set(float64(run.StartedAt.Unix()))
	if run.HadErrors() {
		m.LastSuccess.Set(0)
	} else {
		m.LastSuccess.Set(1)
	}
}

// WriteTextfile writes the metrics to path atomically. An empty path is
// a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
