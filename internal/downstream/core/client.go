package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/transport"
)

const (
	clientName    = "jetbrains-proxy-mcp-server"
	clientVersion = "1.0.0"
)

// ErrForceClosed is returned by Close when the graceful close did not finish in time.
var ErrForceClosed = errors.New("downstream connection force-closed")

// Hooks receive asynchronous events from a live connection
type Hooks struct {
	// OnConnectionLost fires when the transport reports the stream is gone
	OnConnectionLost func(err error)
	// OnToolsChanged fires on notifications/tools/list_changed
	OnToolsChanged func()
}

// Conn is an initialized MCP connection to the downstream server
type Conn interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	// Close closes gracefully until ctx is done, then force-closes
	Close(ctx context.Context) error
	ServerInfo() mcp.Implementation
}

// Dialer opens connections to the downstream server
type Dialer interface {
	Dial(ctx context.Context, hooks Hooks) (Conn, error)
}

// TransportError marks a failure of the channel itself rather than of the tool
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ClientDialer dials the configured downstream with mcp-go
type ClientDialer struct {
	cfg    *config.DownstreamConfig
	debug  bool
	logger *zap.Logger
}

// NewDialer creates a dialer for the downstream config
func NewDialer(cfg *config.DownstreamConfig, debug bool, logger *zap.Logger) *ClientDialer {
	return &ClientDialer{cfg: cfg, debug: debug, logger: logger.Named("downstream")}
}

// Dial creates the transport client, starts it and runs the MCP handshake.
// ctx bounds the attempt only; the connection outlives it until Close.
func (d *ClientDialer) Dial(ctx context.Context, hooks Hooks) (Conn, error) {
	mcpClient, kind, err := transport.NewClient(d.cfg, d.debug, d.logger)
	if err != nil {
		return nil, err
	}

	logger := d.logger.With(zap.String("server", d.cfg.Name), zap.String("transport", kind))

	// The transport lives on its own context so cancelling it is the force-close
	lifeCtx, cancel := context.WithCancel(context.Background())
	conn := &clientConn{
		client: mcpClient,
		cancel: cancel,
		logger: logger,
	}

	if err := conn.start(ctx, lifeCtx); err != nil {
		cancel()
		_ = mcpClient.Close()
		return nil, err
	}

	mcpClient.OnConnectionLost(func(err error) {
		conn.lost.Store(true)
		logger.Warn("Downstream connection lost", zap.Error(err))
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})
	mcpClient.OnNotification(func(notification mcp.JSONRPCNotification) {
		if notification.Method != string(mcp.MethodNotificationToolsListChanged) {
			return
		}
		logger.Info("Received tools/list_changed notification from downstream server")
		if hooks.OnToolsChanged != nil {
			hooks.OnToolsChanged()
		}
	})

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := mcpClient.Initialize(ctx, initRequest)
	if err != nil {
		cancel()
		_ = mcpClient.Close()
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}
	conn.serverInfo = result.ServerInfo

	logger.Info("Connected to downstream MCP server",
		zap.String("server_name", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion))

	return conn, nil
}

type clientConn struct {
	client     *client.Client
	cancel     context.CancelFunc
	logger     *zap.Logger
	serverInfo mcp.Implementation
	lost       atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// start runs client.Start on the lifetime context, giving up when the
// attempt context ends first.
func (c *clientConn) start(attemptCtx, lifeCtx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- c.client.Start(lifeCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start MCP client: %w", err)
		}
		return nil
	case <-attemptCtx.Done():
		return fmt.Errorf("failed to start MCP client: %w", attemptCtx.Err())
	}
}

func (c *clientConn) ServerInfo() mcp.Implementation {
	return c.serverInfo
}

// ListTools returns every tool the downstream advertises, following cursors
func (c *clientConn) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	request := mcp.ListToolsRequest{}
	for {
		result, err := c.client.ListTools(ctx, request)
		if err != nil {
			return nil, c.classify(ctx, "tools/list", err)
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == "" {
			return tools, nil
		}
		request.Params.Cursor = result.NextCursor
	}
}

// CallTool forwards one tools/call request
func (c *clientConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := c.client.CallTool(ctx, request)
	if err != nil {
		return nil, c.classify(ctx, "tools/call "+name, err)
	}
	return result, nil
}

// classify wraps channel failures in *TransportError. Context errors and
// JSON-RPC errors answered by the server are returned unchanged.
func (c *clientConn) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if c.lost.Load() || isConnectionError(err) {
		return &TransportError{Op: op, Err: err}
	}
	return err
}

// Close closes the client, force-closing the transport once ctx is done
func (c *clientConn) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			_ = c.client.Close()
			close(done)
		}()

		select {
		case <-done:
			c.logger.Debug("Downstream connection closed gracefully")
		case <-ctx.Done():
			c.logger.Warn("Graceful close timed out, forcing transport shutdown")
			c.closeErr = ErrForceClosed
		}
		c.cancel()
	})
	return c.closeErr
}

var connectionErrors = []string{
	"connection refused",
	"no such host",
	"connection reset",
	"broken pipe",
	"closed pipe",
	"network is unreachable",
	"transport closed",
	"transport not started",
	"client not initialized",
	"session terminated",
	"stream disconnected",
	"use of closed network connection",
	"server closed",
	"EOF",
}

// isConnectionError checks if an error indicates a connection problem
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, transport.ErrReadIdleTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	for _, connErr := range connectionErrors {
		if strings.Contains(errStr, connErr) {
			return true
		}
	}
	return false
}
