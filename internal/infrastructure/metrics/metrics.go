// Package metrics exposes hub telemetry in Prometheus format.
//
// Collectors live on a private registry rather than the global default so
// that tests and multiple hubs in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogic"

// brokerStates are the label values of the broker_state gauge.
var brokerStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Metrics holds the hub's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	programRuns     *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	compiles        *prometheus.CounterVec
	compileDuration prometheus.Histogram
	brokerState     *prometheus.GaugeVec
	wsClients       prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		programRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "program_runs_total",
			Help:      "Program invocations by entry point, outcome and failure kind.",
		}, []string{"entry", "outcome", "failure"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "program_run_duration_seconds",
			Help:      "Duration of program invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"entry"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "program_compiles_total",
			Help:      "Program compilations by result.",
		}, []string{"result"}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "program_compile_duration_seconds",
			Help:      "Duration of program compilations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		brokerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_state",
			Help:      "1 for the current connection state of each MQTT client.",
		}, []string{"client_id", "state"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.programRuns,
		m.runDuration,
		m.compiles,
		m.compileDuration,
		m.brokerState,
		m.wsClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records one program invocation.
func (m *Metrics) ObserveRun(entry, outcome, failure string, d time.Duration) {
	if m == nil {
		return
	}
	m.programRuns.WithLabelValues(entry, outcome, failure).Inc()
	m.runDuration.WithLabelValues(entry).Observe(d.Seconds())
}

// ObserveCompile records one compilation.
func (m *Metrics) ObserveCompile(succeeded bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !succeeded {
		result = "failed"
	}
	m.compiles.WithLabelValues(result).Inc()
	m.compileDuration.Observe(d.Seconds())
}

// SetBrokerState marks state as current for clientID and clears the others.
func (m *Metrics) SetBrokerState(clientID, state string) {
	if m == nil {
		return
	}
	for _, s := range brokerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.brokerState.WithLabelValues(clientID, s).Set(v)
	}
}

// SetWebSocketClients records the number of connected WebSocket clients.
func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
