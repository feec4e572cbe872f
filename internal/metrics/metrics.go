// Package metrics exports Prometheus metrics for capture runs and the HTTP
// API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cboone/termsnap/internal/capture"
)

const namespace = "termsnap"

// Metrics holds all Prometheus metrics. It implements capture.Observer.
type Metrics struct {
	// Capture metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	RunsActive       prometheus.Gauge
	StepsTotal       *prometheus.CounterVec
	SettleDuration   prometheus.Histogram
	PhaseTransitions *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer

	mu     sync.Mutex
	active map[string]struct{}
}

var _ capture.Observer = (*Metrics)(nil)

// New registers the metrics with reg. A nil reg uses a fresh registry, so
// several Metrics can coexist in one process.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of capture runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Capture run duration in seconds",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		RunsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of capture runs in progress",
			},
		),
		StepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of captured steps",
			},
			[]string{"timed_out"},
		),
		SettleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settle_duration_seconds",
				Help:      "Time spent waiting for the screen to settle before a capture",
				Buckets:   []float64{.05, .1, .2, .3, .5, 1, 2, 3, 5},
			},
		),
		PhaseTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of orchestrator phase transitions",
			},
			[]string{"phase"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		gatherer: reg,
		active:   make(map[string]struct{}),
	}
}

// PhaseChanged counts the transition. The first phase seen for a run marks
// it active.
func (m *Metrics) PhaseChanged(runID string, phase capture.Phase) {
	m.PhaseTransitions.WithLabelValues(phase.String()).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[runID]; !ok {
		m.active[runID] = struct{}{}
		m.RunsActive.Inc()
	}
}

// StepRecorded counts the step and its settle time.
func (m *Metrics) StepRecorded(_ string, step capture.Step) {
	m.StepsTotal.WithLabelValues(strconv.FormatBool(step.TimedOut)).Inc()
	m.SettleDuration.Observe(step.Settle.Seconds())
}

// RunFinished records the outcome and releases the run's active slot.
func (m *Metrics) RunFinished(res *capture.Result) {
	m.RunsTotal.WithLabelValues(res.Status.String()).Inc()
	m.RunDuration.Observe(res.Duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[res.RunID]; ok {
		delete(m.active, res.RunID)
		m.RunsActive.Dec()
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware creates a Gin middleware for request metrics. Requests are
// labelled by route pattern so IDs do not explode the label space.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
