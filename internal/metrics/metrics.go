// Package metrics exports parley counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registration paths
const (
	RegistrationNoop          = "noop"
	RegistrationCreate        = "create"
	RegistrationAppend        = "append"
	RegistrationConflictRetry = "conflict_retry"
)

// Collector holds the parley counters. A nil *Collector discards everything,
// so components can be built without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	commits        *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
}

// New creates a Collector on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "commits_total",
				Help:      "Conversation commits by outcome",
			},
			[]string{"status"},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "registrations_total",
				Help:      "Session index registrations by path taken",
			},
			[]string{"path"},
		),
		sourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parley",
				Name:      "source_failures_total",
				Help:      "Content source failures absorbed by best-effort merge",
			},
			[]string{"source"},
		),
	}
	c.registry.MustRegister(c.commits, c.registrations, c.sourceFailures)
	return c
}

// Commit counts a commit with the given status ("ok", "not_found", ...).
func (c *Collector) Commit(status string) {
	if c == nil {
		return
	}
	c.commits.WithLabelValues(status).Inc()
}

// Registration counts one registrar outcome.
func (c *Collector) Registration(path string) {
	if c == nil {
		return
	}
	c.registrations.WithLabelValues(path).Inc()
}

// SourceFailure counts a failed text or video source.
func (c *Collector) SourceFailure(source string) {
	if c == nil {
		return
	}
	c.sourceFailures.WithLabelValues(source).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
