package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

// Tool call and connect outcome labels
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Manager coordinates health, metrics and tracing
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates the observability components the config enables.
// Health checks are always available.
func NewManager(logger *zap.Logger, cfg config.ObservabilityConfig, version string) (*Manager, error) {
	sugar := logger.Named("observability").Sugar()
	manager := &Manager{
		logger:    sugar,
		health:    NewHealthManager(sugar),
		startTime: time.Now(),
	}

	if cfg.MetricsEnabled {
		manager.metrics = NewMetricsManager(sugar)
		sugar.Debug("Prometheus metrics enabled")
	}

	tracing, err := NewTracingManager(sugar, cfg.Tracing, version)
	if err != nil {
		return nil, err
	}
	manager.tracing = tracing

	return manager, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager, nil when disabled
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// RegisterHealthChecker registers a liveness check
func (m *Manager) RegisterHealthChecker(checker Checker) {
	m.health.AddHealthChecker(checker)
}

// RegisterReadinessChecker registers a readiness check
func (m *Manager) RegisterReadinessChecker(checker Checker) {
	m.health.AddReadinessChecker(checker)
}

// SetupRoutes mounts /healthz, /readyz and, when enabled, /metrics
func (m *Manager) SetupRoutes(r chi.Router) {
	r.Get("/healthz", m.health.HealthzHandler())
	r.Get("/readyz", m.health.ReadyzHandler())

	if m.metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			m.metrics.SetUptime(m.startTime)
			m.metrics.Handler().ServeHTTP(w, req)
		})
	}
}

// HTTPMiddleware chains the metrics and tracing middleware
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	middlewares := make([]func(http.Handler) http.Handler, 0, 2)
	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}
	if m.tracing.IsEnabled() {
		middlewares = append(middlewares, m.tracing.HTTPMiddleware())
	}

	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RecordToolCall records metrics for one call; status is StatusSuccess or an error kind
func (m *Manager) RecordToolCall(tool, status string, duration time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordToolCall(tool, status, duration)
	}
}

// RecordConnectAttempt records one downstream connect attempt
func (m *Manager) RecordConnectAttempt(duration time.Duration, err error) {
	if m.metrics == nil {
		return
	}
	result := StatusSuccess
	if err != nil {
		result = StatusFailed
	}
	m.metrics.RecordConnectAttempt(result, duration)
}

// RecordStateTransition records a downstream session state change
func (m *Manager) RecordStateTransition(fromState, toState string) {
	if m.metrics != nil {
		m.metrics.RecordStateTransition(fromState, toState)
	}
}

// SetToolsAvailable records how many tools are exposed
func (m *Manager) SetToolsAvailable(count int) {
	if m.metrics != nil {
		m.metrics.SetToolsAvailable(count)
	}
}

// Close shuts down tracing
func (m *Manager) Close(ctx context.Context) error {
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}
