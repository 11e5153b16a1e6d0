// Package metrics exposes Prometheus instrumentation for job runs and
// plugin loading.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomePanicked  = "panicked"
)

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	pluginsLoaded   prometheus.Gauge
	toolsRegistered prometheus.Gauge
	registry        *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zupport_jobs_total",
				Help: "Number of jobs run by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zupport_job_duration_seconds",
				Help:    "Duration of job runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		pluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zupport_plugins_loaded",
			Help: "Number of plugins in the ready state",
		}),
		toolsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zupport_tools_registered",
			Help: "Number of tools in the registry",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.MustRegister(m.registry)
	return m
}

// MustRegister registers the collectors and panics on failure.
func (m *Metrics) MustRegister(registerer prometheus.Registerer) {
	if err := m.Register(registerer); err != nil {
		panic(err)
	}
}

// Register registers the collectors on registerer.
func (m *Metrics) Register(registerer prometheus.Registerer) error {
	return errors.Join(
		registerer.Register(m.jobsTotal),
		registerer.Register(m.jobDuration),
		registerer.Register(m.pluginsLoaded),
		registerer.Register(m.toolsRegistered),
	)
}

// Registry returns the registry the collectors were created on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveJob records one finished job.
func (m *Metrics) ObserveJob(service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(service, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.jobDuration.WithLabelValues(service).Observe(d.Seconds())
	}
}

// SetPlugins sets the number of ready plugins.
func (m *Metrics) SetPlugins(n int) {
	if m == nil {
		return
	}
	m.pluginsLoaded.Set(float64(n))
}

// SetTools sets the number of registered tools.
func (m *Metrics) SetTools(n int) {
	if m == nil {
		return
	}
	m.toolsRegistered.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
