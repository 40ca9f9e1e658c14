package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/observability"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/reqcontext"
)

// SSEPath is the event stream endpoint
const SSEPath = "/sse"

// SSEFront serves MCP over HTTP server-sent events, plus health and metrics
type SSEFront struct {
	addr     string
	endpoint string
	debug    bool
	sse      *mcpserver.SSEServer
	obs      *observability.Manager
	logger   *zap.Logger
	router   chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	// cancelling ends open event streams, which Shutdown would otherwise wait on
	cancelStreams context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewSSEFront creates an SSE front on sse-bind-host:sse-port. obs may be nil.
func NewSSEFront(cfg *config.Config, s *MCPServer, obs *observability.Manager, logger *zap.Logger) *SSEFront {
	f := &SSEFront{
		addr:     net.JoinHostPort(cfg.SSEBindHost, strconv.Itoa(cfg.SSEPort)),
		endpoint: cfg.SSETransportEndpoint,
		debug:    cfg.SSEDebugEnabled,
		obs:      obs,
		logger:   logger.Named("sse"),
	}

	f.sse = mcpserver.NewSSEServer(s.Server(),
		mcpserver.WithSSEEndpoint(SSEPath),
		mcpserver.WithMessageEndpoint(f.endpoint),
		mcpserver.WithSSEContextFunc(sseContext),
		mcpserver.WithKeepAlive(true),
	)
	f.router = f.routes()
	return f
}

// sseContext tags each posted message with its source and correlation id
func sseContext(ctx context.Context, r *http.Request) context.Context {
	correlationID := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))
	ctx = reqcontext.WithCorrelationID(ctx, correlationID)
	return reqcontext.WithRequestSource(ctx, reqcontext.SourceSSE)
}

func (f *SSEFront) routes() chi.Router {
	r := chi.NewRouter()

	if f.obs != nil {
		r.Use(f.obs.HTTPMiddleware())
	}
	if f.debug {
		r.Use(f.httpLoggingMiddleware())
	}
	r.Use(middleware.Recoverer)

	r.Handle(SSEPath, f.sse.SSEHandler())
	// The endpoint event advertises the path without its trailing slash
	messages := f.sse.MessageHandler()
	r.Handle(f.endpoint, messages)
	if trimmed := strings.TrimRight(f.endpoint, "/"); trimmed != "" && trimmed != f.endpoint {
		r.Handle(trimmed, messages)
	}

	if f.obs != nil {
		f.obs.SetupRoutes(r)
	}
	return r
}

// Handler returns the HTTP handler with every route mounted
func (f *SSEFront) Handler() http.Handler {
	return f.router
}

// Addr returns the bound address once Serve is listening, else the configured one
func (f *SSEFront) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener != nil {
		return f.listener.Addr().String()
	}
	return f.addr
}

// Listen binds the address. Serve calls it when needed.
func (f *SSEFront) Listen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", f.addr)
	if err != nil {
		if isAddrInUseError(err) {
			return &PortInUseError{Address: f.addr, Err: err}
		}
		return fmt.Errorf("failed to listen on %s: %w", f.addr, err)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	f.listener = listener
	f.cancelStreams = cancel
	f.httpServer = &http.Server{
		Handler:           f.router,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       180 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return nil
}

// Serve accepts connections until ctx is done or Shutdown is called
func (f *SSEFront) Serve(ctx context.Context) error {
	if err := f.Listen(); err != nil {
		return err
	}

	f.mu.Lock()
	httpServer, listener := f.httpServer, f.listener
	f.mu.Unlock()

	f.logger.Info("Serving MCP over SSE",
		zap.String("address", listener.Addr().String()),
		zap.String("sse_endpoint", SSEPath),
		zap.String("message_endpoint", f.endpoint))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("SSE server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return f.Shutdown(shutdownCtx)
	}
}

// Shutdown closes client event streams and stops the HTTP server. Idempotent.
func (f *SSEFront) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	httpServer, listener, cancelStreams := f.httpServer, f.listener, f.cancelStreams
	f.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	f.shutdownOnce.Do(func() {
		cancelStreams()

		err := httpServer.Shutdown(ctx)
		// Shutdown only closes listeners already handed to Serve
		_ = listener.Close()
		if err != nil {
			f.logger.Warn("HTTP server forced shutdown due to timeout", zap.Error(err))
			_ = httpServer.Close()
			f.shutdownErr = err
			return
		}
		f.logger.Info("SSE front stopped")
	})
	return f.shutdownErr
}

func (f *SSEFront) httpLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			f.logger.Debug("HTTP request received",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))

			next.ServeHTTP(w, r)

			f.logger.Debug("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
