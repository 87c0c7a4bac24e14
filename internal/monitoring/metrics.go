package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	FiguresCaptured   prometheus.Counter

	// Cell metrics
	CellRunsTotal *prometheus.CounterVec
	CellsActive   prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector registered on its own registry to
// keep instances independent (multiple servers in tests must not collide on
// the default registerer).
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notebook_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_executions_total",
				Help: "Total executions by outcome (success, error, timeout)",
			},
			[]string{"outcome"},
		),
		ExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notebook_execution_duration_seconds",
				Help:    "Code execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		FiguresCaptured: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "notebook_figures_captured_total",
				Help: "Total figures captured across executions",
			},
		),

		CellRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_cell_runs_total",
				Help: "Total cell chain runs by outcome",
			},
			[]string{"outcome"},
		),
		CellsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "notebook_cells_registered",
				Help: "Number of registered cells",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "notebook_ws_connections",
				Help: "Active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notebook_ws_messages_total",
				Help: "WebSocket messages by type",
			},
			[]string{"type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "notebook_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	return m, reg
}

// ObserveExecution records one execution outcome.
func (m *Metrics) ObserveExecution(outcome string, duration time.Duration, figures int) {
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
	if figures > 0 {
		m.FiguresCaptured.Add(float64(figures))
	}
}

// ObserveCellRun records one chain run outcome.
func (m *Metrics) ObserveCellRun(success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.CellRunsTotal.WithLabelValues(outcome).Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
