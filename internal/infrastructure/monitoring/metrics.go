package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Each instance carries its own
// registry so construction is repeatable and nothing registers globally.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution metrics
	CommandsTotal   *prometheus.CounterVec
	CommandsRunning prometheus.Gauge
	CommandDuration prometheus.Histogram

	// Persistence metrics
	BlocksSaved prometheus.Counter
	SaveRounds  prometheus.Counter
	SaveErrors  prometheus.Counter

	// Session metrics
	SessionsCreated prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockterm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockterm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockterm_commands_total",
				Help: "Total number of executed commands by terminal state",
			},
			[]string{"state"},
		),
		CommandsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockterm_commands_running",
				Help: "Number of commands currently running",
			},
		),
		CommandDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blockterm_command_duration_seconds",
				Help:    "Command execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
		),

		BlocksSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockterm_blocks_saved_total",
				Help: "Total number of block rows persisted",
			},
		),
		SaveRounds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockterm_save_rounds_total",
				Help: "Total number of auto-save rounds completed",
			},
		),
		SaveErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockterm_save_errors_total",
				Help: "Total number of persistence failures",
			},
		),

		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blockterm_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockterm_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommandStart marks a command as running.
func (m *Metrics) RecordCommandStart() {
	m.CommandsRunning.Inc()
}

// RecordCommandEnd marks a command finished in the given terminal state.
func (m *Metrics) RecordCommandEnd(state string, duration time.Duration) {
	m.CommandsRunning.Dec()
	m.CommandsTotal.WithLabelValues(state).Inc()
	m.CommandDuration.Observe(duration.Seconds())
}

// Uptime reports elapsed time since construction.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
