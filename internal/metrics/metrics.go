// Package metrics exposes Prometheus metrics for the order queue and the
// cache controller. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalog"

// Cache result sources.
const (
	SourceCache    = "cache"
	SourceNetwork  = "network"
	SourceFallback = "fallback"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ordersEnqueued prometheus.Counter
	drainOutcomes  *prometheus.CounterVec
	drains         prometheus.Counter
	queueDepth     *prometheus.GaugeVec
	cacheResponses *prometheus.CounterVec
	installs       *prometheus.CounterVec
	activations    prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "orders_enqueued_total",
			Help:      "Orders newly added to the offline queue.",
		}),
		drainOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts made while draining, by outcome.",
		}, []string{"outcome"}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drains_total",
			Help:      "Completed drain passes.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Orders held per collection.",
		}, []string{"collection"}),
		cacheResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "responses_total",
			Help:      "Responses served by the cache controller, by request class and source.",
		}, []string{"class", "source"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "installs_total",
			Help:      "Controller installs, by manifest result.",
		}, []string{"result"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "activations_total",
			Help:      "Controllers activated since start.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersEnqueued,
		m.drainOutcomes,
		m.drains,
		m.queueDepth,
		m.cacheResponses,
		m.installs,
		m.activations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// OrderEnqueued counts a new queue record.
func (m *Metrics) OrderEnqueued() {
	if m == nil {
		return
	}
	m.ordersEnqueued.Inc()
}

// DrainFinished records the outcome counts of one drain pass.
func (m *Metrics) DrainFinished(succeeded, failed, quarantined int) {
	if m == nil {
		return
	}
	m.drains.Inc()
	m.drainOutcomes.WithLabelValues("delivered").Add(float64(succeeded))
	m.drainOutcomes.WithLabelValues("failed").Add(float64(failed))
	m.drainOutcomes.WithLabelValues("quarantined").Add(float64(quarantined))
}

// QueueDepth sets the current size of both collections.
func (m *Metrics) QueueDepth(pending, failed int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("failed").Set(float64(failed))
}

// CacheResponse counts one response served by the controller.
func (m *Metrics) CacheResponse(class, source string) {
	if m == nil {
		return
	}
	m.cacheResponses.WithLabelValues(class, source).Inc()
}

// Installed counts a controller install.
func (m *Metrics) Installed(manifestCached bool) {
	if m == nil {
		return
	}
	result := "complete"
	if !manifestCached {
		result = "incomplete"
	}
	m.installs.WithLabelValues(result).Inc()
}

// Activated counts a controller activation.
func (m *Metrics) Activated() {
	if m == nil {
		return
	}
	m.activations.Inc()
}
