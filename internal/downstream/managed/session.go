package managed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/callerr"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/core"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/types"
)

// ErrStopped is returned for calls made after Stop
var ErrStopped = errors.New("downstream session stopped")

// Options carries optional hooks and overrides for a Session
type Options struct {
	// OnStateChange is called after every state transition
	OnStateChange func(oldState, newState types.SessionState, info *types.SessionInfo)
	// OnConnectAttempt is called after every connect attempt
	OnConnectAttempt func(attempt int, duration time.Duration, err error)
	// OnToolsChanged receives the new tool list after a re-sync
	OnToolsChanged func(tools []mcp.Tool)
	// Sleep replaces the backoff wait, mainly for tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// Info is a snapshot of the session for status and readiness reporting
type Info struct {
	types.SessionInfo
	ToolCount int `json:"tool_count"`
}

// Session owns the single connection to the downstream server. At most one
// operation runs at a time; callers are admitted in arrival order.
type Session struct {
	cfg     *config.DownstreamConfig
	dialer  core.Dialer
	backoff Backoff
	logger  *zap.Logger
	opts    Options
	state   *types.StateManager

	slot *semaphore.Weighted

	// lifeCtx ends on Stop
	lifeCtx context.Context
	cancel  context.CancelFunc

	mu    sync.RWMutex
	conn  core.Conn
	tools []mcp.Tool

	generation atomic.Uint64

	// consecutive call timeouts, only touched while holding the slot
	timeouts int

	stopOnce sync.Once
	stopErr  error
}

// NewSession creates a disconnected session. Nothing is dialed until Start or the first Call.
func NewSession(cfg *config.DownstreamConfig, dialer core.Dialer, logger *zap.Logger, opts Options) *Session {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	lifeCtx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:     cfg,
		dialer:  dialer,
		backoff: BackoffFromConfig(cfg),
		logger:  logger.Named("session").With(zap.String("server", cfg.Name)),
		opts:    opts,
		state:   types.NewStateManager(),
		slot:    semaphore.NewWeighted(1),
		lifeCtx: lifeCtx,
		cancel:  cancel,
	}
	s.state.SetStateChangeCallback(s.onStateChange)
	return s
}

func (s *Session) onStateChange(oldState, newState types.SessionState, info *types.SessionInfo) {
	s.logger.Info("Session state changed",
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.Int("retry_count", info.RetryCount),
		zap.String("last_error", info.LastErrorText))

	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(oldState, newState, info)
	}
}

// State returns the current session state
func (s *Session) State() types.SessionState {
	return s.state.GetState()
}

// Info returns a snapshot of state, errors, retries and tools
func (s *Session) Info() Info {
	s.mu.RLock()
	toolCount := len(s.tools)
	s.mu.RUnlock()

	return Info{
		SessionInfo: s.state.GetSessionInfo(),
		ToolCount:   toolCount,
	}
}

// Tools returns the tools listed on the last successful connect or re-sync
func (s *Session) Tools() []mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]mcp.Tool, len(s.tools))
	copy(tools, s.tools)
	return tools
}

// Start runs the initial connect-with-retry cycle. Failure is fatal to the proxy.
func (s *Session) Start(ctx context.Context) error {
	if s.state.IsStopped() {
		return callerr.FatalStartup(ErrStopped)
	}
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return callerr.FatalStartup(err)
	}
	defer s.slot.Release(1)

	if s.state.IsConnected() {
		return nil
	}

	connectCtx, cancel := s.bind(ctx)
	defer cancel()

	if _, err := s.connect(connectCtx); err != nil {
		return callerr.FatalStartup(err)
	}
	return nil
}

type callOutcome struct {
	result *mcp.CallToolResult
	err    error
}

// Call forwards one tool call, reconnecting first when the session is not
// connected. A caller that gives up while the call is in flight returns at
// once; the slot is released only when the downstream answers.
func (s *Session) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if s.state.IsStopped() {
		return nil, callerr.Connection(name, ErrStopped)
	}

	if err := s.slot.Acquire(ctx, 1); err != nil {
		return nil, callerContextError(name, err)
	}

	done := make(chan callOutcome, 1)
	go func() {
		defer s.slot.Release(1)
		result, err := s.dispatch(ctx, name, args)
		done <- callOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		s.logger.Debug("Caller left before the downstream answered",
			zap.String("tool", name),
			zap.Error(ctx.Err()))
		return nil, callerContextError(name, ctx.Err())
	}
}

// dispatch runs while holding the slot
func (s *Session) dispatch(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if s.state.IsStopped() {
		return nil, callerr.Connection(name, ErrStopped)
	}

	conn, err := s.ensureConnected(ctx)
	if err != nil {
		if s.state.IsStopped() {
			return nil, callerr.Connection(name, ErrStopped)
		}
		return nil, callerr.Connection(name, err)
	}

	// The call is not aborted when the caller leaves, only on timeout or Stop
	callCtx, cancel := s.bind(context.WithoutCancel(ctx))
	defer cancel()
	callCtx, cancelTimeout := context.WithTimeout(callCtx, s.cfg.CallTimeout())
	defer cancelTimeout()

	result, err := conn.CallTool(callCtx, name, args)
	switch {
	case err == nil:
		s.timeouts = 0
		return result, nil

	case s.state.IsStopped():
		return nil, callerr.Connection(name, ErrStopped)

	case errors.Is(err, context.DeadlineExceeded):
		s.timeouts++
		if threshold := s.cfg.TimeoutReconnectThreshold; threshold > 0 && s.timeouts >= threshold {
			s.logger.Warn("Consecutive call timeouts reached threshold, forcing reconnect",
				zap.Int("timeouts", s.timeouts),
				zap.Int("threshold", threshold))
			s.timeouts = 0
			s.degrade(err)
		}
		return nil, callerr.CallTimeout(name, err)

	case core.IsTransportError(err):
		s.timeouts = 0
		s.degrade(err)
		return nil, callerr.Connection(name, err)

	default:
		// The server answered with a JSON-RPC error
		s.timeouts = 0
		return nil, &callerr.Error{
			Kind:    callerr.KindDownstreamToolError,
			Tool:    name,
			Message: err.Error(),
			Err:     err,
		}
	}
}

func (s *Session) ensureConnected(ctx context.Context) (core.Conn, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn != nil && s.state.IsConnected() {
		return conn, nil
	}

	connectCtx, cancel := s.bind(ctx)
	defer cancel()
	return s.connect(connectCtx)
}

// connect runs the bounded retry loop. The caller holds the slot.
func (s *Session) connect(ctx context.Context) (core.Conn, error) {
	s.dropConn()

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.state.IsStopped() {
			return nil, ErrStopped
		}
		if current := s.state.GetState(); current != types.StateConnecting {
			if err := s.state.TransitionTo(types.StateConnecting); err != nil {
				return nil, err
			}
		}

		s.logger.Info("Connecting to downstream server",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts))

		started := time.Now()
		conn, err := s.attempt(ctx)
		if s.opts.OnConnectAttempt != nil {
			s.opts.OnConnectAttempt(attempt, time.Since(started), err)
		}
		if err == nil {
			if installErr := s.install(conn); installErr != nil {
				return nil, installErr
			}
			return conn, nil
		}

		lastErr = err
		s.state.RecordRetry(err)
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		delay := s.backoff.Delay(attempt - 1)
		s.logger.Warn("Connect attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		if sleepErr := s.opts.Sleep(ctx, delay); sleepErr != nil {
			lastErr = fmt.Errorf("%w (last error: %v)", sleepErr, err)
			break
		}
	}

	if s.state.IsStopped() {
		return nil, ErrStopped
	}
	_ = s.state.Fail(types.StateDisconnected, lastErr)
	s.logger.Error("Downstream server unreachable",
		zap.Int("max_attempts", maxAttempts),
		zap.Error(lastErr))
	return nil, fmt.Errorf("failed to connect to %s: %w", s.target(), lastErr)
}

// attempt dials, initializes and lists tools within start-timeout
func (s *Session) attempt(ctx context.Context) (core.Conn, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, config.Seconds(s.cfg.StartTimeout))
	defer cancel()

	generation := s.generation.Add(1)
	conn, err := s.dialer.Dial(attemptCtx, s.hooks(generation))
	if err != nil {
		return nil, err
	}

	tools, err := conn.ListTools(attemptCtx)
	if err != nil {
		s.closeConn(conn)
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	s.mu.Lock()
	s.tools = sortTools(tools)
	s.mu.Unlock()
	return conn, nil
}

func (s *Session) install(conn core.Conn) error {
	s.mu.Lock()
	if s.state.IsStopped() {
		s.mu.Unlock()
		s.closeConn(conn)
		return ErrStopped
	}
	s.conn = conn
	s.timeouts = 0
	s.mu.Unlock()

	serverInfo := conn.ServerInfo()
	s.state.SetServerInfo(serverInfo.Name, serverInfo.Version)
	if err := s.state.TransitionTo(types.StateConnected); err != nil {
		return err
	}

	if s.opts.OnToolsChanged != nil {
		s.opts.OnToolsChanged(s.Tools())
	}
	return nil
}

// dropConn closes a stale connection before reconnecting
func (s *Session) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.closeConn(conn)
	}
}

func (s *Session) closeConn(conn core.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), config.Seconds(s.cfg.StopTimeout))
	defer cancel()

	if err := conn.Close(ctx); err != nil {
		s.logger.Debug("Closing downstream connection", zap.Error(err))
	}
}

func (s *Session) degrade(err error) {
	if err := s.state.Fail(types.StateDegraded, err); err != nil {
		s.logger.Debug("Degrade skipped", zap.Error(err))
	}
}

func (s *Session) hooks(generation uint64) core.Hooks {
	return core.Hooks{
		OnConnectionLost: func(err error) {
			if s.generation.Load() != generation || !s.state.IsConnected() {
				return
			}
			if err == nil {
				err = errors.New("connection lost")
			}
			s.degrade(err)
		},
		OnToolsChanged: func() {
			if s.generation.Load() != generation {
				return
			}
			go s.refreshTools(generation)
		},
	}
}

// refreshTools re-lists tools after a tools/list_changed notification
func (s *Session) refreshTools(generation uint64) {
	if err := s.slot.Acquire(s.lifeCtx, 1); err != nil {
		return
	}
	defer s.slot.Release(1)

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil || s.generation.Load() != generation || !s.state.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(s.lifeCtx, config.Seconds(s.cfg.StartTimeout))
	defer cancel()

	tools, err := conn.ListTools(ctx)
	if err != nil {
		s.logger.Warn("Failed to re-sync tools", zap.Error(err))
		if core.IsTransportError(err) {
			s.degrade(err)
		}
		return
	}

	sorted := sortTools(tools)
	s.mu.Lock()
	s.tools = sorted
	s.mu.Unlock()

	s.logger.Info("Re-synced downstream tools", zap.Int("count", len(sorted)))
	if s.opts.OnToolsChanged != nil {
		s.opts.OnToolsChanged(s.Tools())
	}
}

// Stop marks the session stopped and closes the connection within
// stop-timeout, force-closing after that. Later calls return the first result.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		previous := s.state.GetState()
		if err := s.state.TransitionTo(types.StateStopped); err != nil {
			s.logger.Debug("Stop transition", zap.Error(err))
		}
		s.cancel()

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		if conn == nil {
			s.logger.Info("Session stopped", zap.String("previous_state", previous.String()))
			return
		}

		closeCtx, cancel := context.WithTimeout(ctx, config.Seconds(s.cfg.StopTimeout))
		defer cancel()

		if err := conn.Close(closeCtx); err != nil {
			s.logger.Warn("Downstream connection did not close gracefully", zap.Error(err))
			s.stopErr = err
			return
		}
		s.logger.Info("Session stopped", zap.String("previous_state", previous.String()))
	})
	return s.stopErr
}

// bind derives a context that also ends when the session stops
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.lifeCtx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

func (s *Session) target() string {
	if s.cfg.URL != "" {
		return s.cfg.URL
	}
	return s.cfg.Command
}

func callerContextError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return callerr.CallTimeout(name, err)
	}
	return callerr.Canceled(name, err)
}

func sortTools(tools []mcp.Tool) []mcp.Tool {
	sorted := make([]mcp.Tool, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}
