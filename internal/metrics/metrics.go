// Package metrics exposes Prometheus counters for asset serving.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values for asset requests.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
)

// Metrics owns a private registry and the counters registered on it.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	changes  *prometheus.CounterVec
}

// New creates the registry with Go runtime and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pendulum",
			Name:      "asset_requests_total",
			Help:      "Asset lookups by route and result.",
		}, []string{"route", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pendulum",
			Name:      "asset_bytes_total",
			Help:      "Size of asset files opened for serving, by route.",
		}, []string{"route"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pendulum",
			Name:      "asset_changes_total",
			Help:      "Filesystem changes observed under the frontend directory.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.requests, m.bytes, m.changes)
	return m
}

// Registerer returns the registry for other instrumentation to register on.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAsset records one asset lookup. size is only counted for ResultOK.
func (m *Metrics) ObserveAsset(route, result string, size int64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, result).Inc()
	if result == ResultOK && size > 0 {
		m.bytes.WithLabelValues(route).Add(float64(size))
	}
}

// ObserveChange records one filesystem change of the given kind.
func (m *Metrics) ObserveChange(op string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
