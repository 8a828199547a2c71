// Package metrics exposes the server's Prometheus collectors and an
// /metrics HTTP endpoint, mirroring the metrics surface the rest of this
// codebase's service variants expose for Grafana.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector this server registers. A single instance
// is constructed at startup and threaded through the engine and the server.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectionsRejected *prometheus.CounterVec

	requestsTotal  *prometheus.CounterVec
	requestErrors  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	opsTotal *prometheus.CounterVec

	compactionsTotal prometheus.Counter
	staleBytes       prometheus.Gauge
	keysLive         prometheus.Gauge

	cpuUsagePercent prometheus.Gauge
	goroutinesActive prometheus.Gauge
}

// New builds and registers every collector against a fresh registry, so
// tests can construct independent instances without colliding on the
// default global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvs_connections_total",
			Help: "Total TCP connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvs_connections_active",
			Help: "Current number of open connections.",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_connections_rejected_total",
			Help: "Connections rejected by admission control, by reason.",
		}, []string{"reason"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_requests_total",
			Help: "Requests handled, by kind.",
		}, []string{"kind"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_request_errors_total",
			Help: "Requests that returned an error response, by kind.",
		}, []string{"kind"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvs_request_duration_seconds",
			Help:    "Request handling latency, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvs_engine_ops_total",
			Help: "Engine operations performed, by kind.",
		}, []string{"op"}),
		compactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvs_compactions_total",
			Help: "Total compaction passes run.",
		}),
		staleBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvs_stale_bytes",
			Help: "Bytes of superseded log records not yet reclaimed.",
		}),
		keysLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvs_keys_live",
			Help: "Number of live keys in the index.",
		}),
		cpuUsagePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvs_cpu_usage_percent",
			Help: "System-wide CPU usage percentage, as sampled by admission control.",
		}),
		goroutinesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvs_goroutines_active",
			Help: "Current number of goroutines.",
		}),
	}

	reg.MustRegister(
		m.connectionsTotal, m.connectionsActive, m.connectionsRejected,
		m.requestsTotal, m.requestErrors, m.requestLatency,
		m.opsTotal, m.compactionsTotal, m.staleBytes, m.keysLive,
		m.cpuUsagePercent, m.goroutinesActive,
	)
	return m
}

// Handler returns the HTTP handler that serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connectionsActive.Dec()
}

func (m *Metrics) ConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRequest(kind string, ok bool) {
	m.requestsTotal.WithLabelValues(kind).Inc()
	if !ok {
		m.requestErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveLatency(kind string, seconds float64) {
	m.requestLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) SetCPUUsage(percent float64)  { m.cpuUsagePercent.Set(percent) }
func (m *Metrics) SetGoroutines(count int)      { m.goroutinesActive.Set(float64(count)) }
func (m *Metrics) SetKeysLive(count int)        { m.keysLive.Set(float64(count)) }

// The three methods below satisfy logengine.Metrics.

func (m *Metrics) IncCompactions()        { m.compactionsTotal.Inc() }
func (m *Metrics) SetStaleBytes(v float64) { m.staleBytes.Set(v) }
func (m *Metrics) IncOps(op string)       { m.opsTotal.WithLabelValues(op).Inc() }
