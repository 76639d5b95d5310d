package metrics

// Build metrics are kept in a private registry so that several compilers in
// one process (as in tests) never collide on registration. A nil *Metrics is
// valid and records nothing.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeBuilt  = "built"
	OutcomeCached = "cached"
	OutcomeReused = "reused"

	UpdatePatched = "patched"
	UpdateReload  = "reload"
	UpdateFailed  = "failed"
)

type Metrics struct {
	Registry *prometheus.Registry

	ModuleBuilds    *prometheus.CounterVec
	ResolveFailures prometheus.Counter
	HmrUpdates      *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	ResourcePots    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ModuleBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm",
			Name:      "module_builds_total",
			Help:      "Modules added to a module graph, by how they were produced.",
		}, []string{"outcome"}),
		ResolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farm",
			Name:      "resolve_failures_total",
			Help:      "Import specifiers that could not be resolved.",
		}),
		HmrUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farm",
			Name:      "hmr_updates_total",
			Help:      "Incremental updates, by result.",
		}, []string{"result"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "farm",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each compilation phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),
		ResourcePots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "farm",
			Name:      "resource_pots",
			Help:      "Resource pots produced by the last compilation.",
		}),
	}
	m.Registry.MustRegister(m.ModuleBuilds, m.ResolveFailures, m.HmrUpdates, m.PhaseDuration, m.ResourcePots)
	return m
}

func (m *Metrics) ModuleBuilt(outcome string) {
	if m != nil {
		m.ModuleBuilds.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ResolveFailed() {
	if m != nil {
		m.ResolveFailures.Inc()
	}
}

func (m *Metrics) Update(result string) {
	if m != nil {
		m.HmrUpdates.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObservePhases(durations map[string]time.Duration) {
	if m == nil {
		return
	}
	for phase, d := range durations {
		m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}

func (m *Metrics) SetResourcePots(count int) {
	if m != nil {
		m.ResourcePots.Set(float64(count))
	}
}
