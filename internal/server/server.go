// Package server wires the downstream session, the proxy service and the
// client-facing MCP front into one runnable proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/core"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/managed"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/types"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/observability"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/tools"
)

// Server is the assembled proxy
type Server struct {
	config  *config.Config
	logger  *zap.Logger
	obs     *observability.Manager
	session *managed.Session
	proxy   *ProxyService
	mcp     *MCPServer
	front   Front

	shutdownOnce sync.Once
	shutdownErr  error
}

// New assembles the proxy for cfg, dialing the configured downstream
func New(cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	obs, err := observability.NewManager(logger, cfg.Observability, version)
	if err != nil {
		return nil, err
	}
	dialer := core.NewDialer(&cfg.Downstream, cfg.DebugEnabled, logger)
	return NewWithDialer(cfg, dialer, obs, logger, version)
}

// NewWithDialer assembles the proxy around an existing dialer. obs may be nil.
func NewWithDialer(cfg *config.Config, dialer core.Dialer, obs *observability.Manager, logger *zap.Logger, version string) (*Server, error) {
	clientPaths, downstreamPaths, err := cfg.Downstream.PathTypes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		logger: logger,
		obs:    obs,
	}

	s.session = managed.NewSession(&cfg.Downstream, dialer, logger, s.sessionOptions())
	s.proxy = NewProxyService(tools.DefaultAllowList(), s.session, clientPaths, downstreamPaths, logger, obs)

	var onTools func(int)
	if obs != nil {
		onTools = obs.SetToolsAvailable
		obs.RegisterHealthChecker(observability.NewSessionHealthChecker(s.session))
		obs.RegisterReadinessChecker(observability.NewSessionReadinessChecker(s.session))
	}
	s.mcp = NewMCPServer(cfg.ServerName, version, cfg.RequestTimeout(), s.proxy, logger, onTools)

	s.front, err = NewFront(cfg, s.mcp, obs, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Proxy assembled",
		zap.String("transport", cfg.Transport),
		zap.String("downstream", cfg.Downstream.Name),
		zap.String("client_path_type", clientPaths.String()),
		zap.String("jetbrains_path_type", downstreamPaths.String()))
	return s, nil
}

func (s *Server) sessionOptions() managed.Options {
	return managed.Options{
		OnStateChange: func(oldState, newState types.SessionState, _ *types.SessionInfo) {
			if s.obs != nil {
				s.obs.RecordStateTransition(oldState.String(), newState.String())
			}
		},
		OnConnectAttempt: func(attempt int, duration time.Duration, err error) {
			if s.obs == nil {
				return
			}
			s.obs.RecordConnectAttempt(duration, err)
			// The attempt has already run; the span just records it
			_, span := s.obs.Tracing().TraceDownstreamConnection(context.Background(), s.config.Downstream.Name, attempt)
			observability.EndSpan(span, err)
		},
		OnToolsChanged: func(downstream []mcp.Tool) {
			// mcp is set before the first connect can run
			if s.mcp != nil {
				s.mcp.SyncTools(downstream)
			}
		},
	}
}

// Session returns the downstream session
func (s *Server) Session() *managed.Session {
	return s.session
}

// Proxy returns the proxy service
func (s *Server) Proxy() *ProxyService {
	return s.proxy
}

// MCP returns the client-facing MCP server
func (s *Server) MCP() *MCPServer {
	return s.mcp
}

// Front returns the selected transport front
func (s *Server) Front() Front {
	return s.front
}

// Run connects to the downstream server, then serves clients until ctx is
// done or the front stops. An unreachable downstream is a fatal startup error.
func (s *Server) Run(ctx context.Context) error {
	if sse, ok := s.front.(*SSEFront); ok {
		// Claim the port before spending the retry budget on the downstream
		if err := sse.Listen(); err != nil {
			return err
		}
	}

	if err := s.session.Start(ctx); err != nil {
		return err
	}

	if err := s.front.Serve(ctx); err != nil {
		return fmt.Errorf("front stopped: %w", err)
	}
	return nil
}

// Shutdown stops the front, then the downstream session, then tracing. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down proxy")

		var errs []error
		if err := s.front.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("front: %w", err))
		}
		if err := s.session.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("downstream session: %w", err))
		}
		if s.obs != nil {
			if err := s.obs.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("observability: %w", err))
			}
		}
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}
