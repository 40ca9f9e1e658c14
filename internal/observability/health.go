// Package observability provides health checks, metrics, and tracing for the proxy
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/types"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// Checker reports the health of one component. Check returns nil when healthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// ComponentStatus is the result of one check
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// StatusResponse is the body of /healthz and /readyz
type StatusResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components"`
}

// HealthManager runs liveness and readiness checks
type HealthManager struct {
	logger    *zap.SugaredLogger
	liveness  []Checker
	readiness []Checker
	timeout   time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a liveness check
func (hm *HealthManager) AddHealthChecker(checker Checker) {
	hm.liveness = append(hm.liveness, checker)
}

// AddReadinessChecker registers a readiness check
func (hm *HealthManager) AddReadinessChecker(checker Checker) {
	hm.readiness = append(hm.readiness, checker)
}

// SetTimeout sets the timeout for a round of checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler serves /healthz
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return hm.handler(hm.liveness, statusHealthy, statusUnhealthy)
}

// ReadyzHandler serves /readyz
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return hm.handler(hm.readiness, statusReady, statusNotReady)
}

func (hm *HealthManager) handler(checkers []Checker, okStatus, failStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.run(ctx, checkers, okStatus, failStatus)

		statusCode := http.StatusOK
		if response.Status != okStatus {
			statusCode = http.StatusServiceUnavailable
		}
		hm.writeJSON(w, statusCode, response)
	}
}

func (hm *HealthManager) run(ctx context.Context, checkers []Checker, okStatus, failStatus string) StatusResponse {
	response := StatusResponse{
		Status:     okStatus,
		Timestamp:  time.Now(),
		Components: make([]ComponentStatus, 0, len(checkers)),
	}

	for _, checker := range checkers {
		start := time.Now()
		status := ComponentStatus{Name: checker.Name(), Status: okStatus}

		if err := checker.Check(ctx); err != nil {
			status.Status = failStatus
			status.Error = err.Error()
			response.Status = failStatus
			hm.logger.Debugw("Check failed",
				"component", checker.Name(),
				"status", failStatus,
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

func (hm *HealthManager) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}

// IsHealthy returns true if all liveness checks pass
func (hm *HealthManager) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()
	return hm.run(ctx, hm.liveness, statusHealthy, statusUnhealthy).Status == statusHealthy
}

// IsReady returns true if all readiness checks pass
func (hm *HealthManager) IsReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()
	return hm.run(ctx, hm.readiness, statusReady, statusNotReady).Status == statusReady
}

// SessionStater is implemented by the downstream session
type SessionStater interface {
	State() types.SessionState
}

// SessionChecker reports on the downstream session.
// Alive while not stopped, ready while connected.
type SessionChecker struct {
	name    string
	session SessionStater
	ready   bool
}

// NewSessionHealthChecker fails only after the session stopped
func NewSessionHealthChecker(session SessionStater) *SessionChecker {
	return &SessionChecker{name: "downstream", session: session}
}

// NewSessionReadinessChecker fails unless the session is connected
func NewSessionReadinessChecker(session SessionStater) *SessionChecker {
	return &SessionChecker{name: "downstream", session: session, ready: true}
}

// Name returns the component name
func (c *SessionChecker) Name() string {
	return c.name
}

// Check inspects the session state
func (c *SessionChecker) Check(_ context.Context) error {
	state := c.session.State()
	if state == types.StateStopped {
		return fmt.Errorf("session is %s", state)
	}
	if c.ready && state != types.StateConnected {
		return fmt.Errorf("session is %s", state)
	}
	return nil
}
