// Package metrics holds the controller's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the controller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	admissionsTotal prometheus.Counter
	spawnFailures   prometheus.Counter
	evictionsTotal  prometheus.Counter
	stopsTotal      prometheus.Counter
	deathsTotal     prometheus.Counter
	commandsTotal   *prometheus.CounterVec
	activeInstances prometheus.Gauge
	queueLength     prometheus.Gauge
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
}

// New creates and registers the controller metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_admissions_total",
			Help: "Work items turned into running instances",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_spawn_failures_total",
			Help: "Worker processes that could not be started",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_evictions_total",
			Help: "Instances stopped by the next command",
		}),
		stopsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_stops_total",
			Help: "Instances stopped by an operator",
		}),
		deathsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_worker_deaths_total",
			Help: "Workers found dead by liveness polling",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taby_commands_total",
			Help: "Operator commands by name and outcome",
		}, []string{"command", "result"}),
		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taby_active_instances",
			Help: "Instances in state Starting or Running",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taby_queue_length",
			Help: "Work items waiting for admission",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_http_requests_total",
			Help: "HTTP requests received by the API",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taby_http_errors_total",
			Help: "HTTP responses with status 4xx or 5xx",
		}),
	}
	m.registry.MustRegister(
		m.admissionsTotal,
		m.spawnFailures,
		m.evictionsTotal,
		m.stopsTotal,
		m.deathsTotal,
		m.commandsTotal,
		m.activeInstances,
		m.queueLength,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncAdmissions() {
	if m != nil {
		m.admissionsTotal.Inc()
	}
}

func (m *Metrics) IncSpawnFailures() {
	if m != nil {
		m.spawnFailures.Inc()
	}
}

func (m *Metrics) IncEvictions() {
	if m != nil {
		m.evictionsTotal.Inc()
	}
}

func (m *Metrics) IncStops() {
	if m != nil {
		m.stopsTotal.Inc()
	}
}

func (m *Metrics) IncDeaths() {
	if m != nil {
		m.deathsTotal.Inc()
	}
}

// ObserveCommand counts one interpreted command. result is "ok" or an error code.
func (m *Metrics) ObserveCommand(command, result string) {
	if m != nil {
		m.commandsTotal.WithLabelValues(command, result).Inc()
	}
}

// SetOccupancy updates the active-instance and queue gauges.
func (m *Metrics) SetOccupancy(active, queued int) {
	if m != nil {
		m.activeInstances.Set(float64(active))
		m.queueLength.Set(float64(queued))
	}
}

func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
// updateGauges is called before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
