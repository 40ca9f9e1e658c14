package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "jetbrains_proxy"

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	toolsAvailable prometheus.Gauge

	connectAttempts  *prometheus.CounterVec
	connectDuration  *prometheus.HistogramVec
	sessionState     *prometheus.GaugeVec
	stateTransitions *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "uptime_seconds",
		Help:      "Time since the proxy started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Total number of proxied tool calls",
		},
		[]string{"tool", "status"}, // status: success or an error kind
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds, queueing included",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tool", "status"},
	)

	mm.toolsAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "tools_available",
		Help:      "Number of tools exposed to clients",
	})

	mm.connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downstream_connect_attempts_total",
			Help:      "Total number of connect attempts to the downstream server",
		},
		[]string{"result"}, // result: success, failed
	)

	mm.connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "downstream_connect_duration_seconds",
			Help:      "Time taken by a single connect attempt",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"result"},
	)

	mm.sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "downstream_session_state",
			Help:      "1 for the current downstream session state, 0 otherwise",
		},
		[]string{"state"},
	)

	mm.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downstream_state_transitions_total",
			Help:      "Total number of downstream session state transitions",
		},
		[]string{"from_state", "to_state"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.toolCalls,
		mm.toolDuration,
		mm.toolsAvailable,
		mm.connectAttempts,
		mm.connectDuration,
		mm.sessionState,
		mm.stateTransitions,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordToolCall records a tool call
func (mm *MetricsManager) RecordToolCall(tool, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(tool, status).Inc()
	mm.toolDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// SetToolsAvailable sets the number of exposed tools
func (mm *MetricsManager) SetToolsAvailable(count int) {
	mm.toolsAvailable.Set(float64(count))
}

// RecordConnectAttempt records one downstream connect attempt
func (mm *MetricsManager) RecordConnectAttempt(result string, duration time.Duration) {
	mm.connectAttempts.WithLabelValues(result).Inc()
	mm.connectDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordStateTransition counts a transition and moves the state gauge
func (mm *MetricsManager) RecordStateTransition(fromState, toState string) {
	mm.stateTransitions.WithLabelValues(fromState, toState).Inc()
	mm.sessionState.WithLabelValues(fromState).Set(0)
	mm.sessionState.WithLabelValues(toState).Set(1)
}

// HTTPMiddleware returns middleware that records HTTP metrics. The SSE stream
// is long-lived, so its duration covers the whole client session.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// statusRecorder captures the status code and keeps streaming working
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
