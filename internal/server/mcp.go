package server

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/callerr"
)

// MCPServer is the client-facing MCP server. Its tool list mirrors the
// downstream tools that pass the allow-list.
type MCPServer struct {
	server  *mcpserver.MCPServer
	proxy   *ProxyService
	timeout time.Duration
	logger  *zap.Logger
	onTools func(count int)
}

// NewMCPServer creates the client-facing server. Every tool call is bounded by
// timeout. onTools, if set, receives the number of exposed tools after each sync.
func NewMCPServer(name, version string, timeout time.Duration, proxy *ProxyService, logger *zap.Logger, onTools func(count int)) *MCPServer {
	logger = logger.Named("mcp")

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		logger.Debug("MCP client session registered", zap.String("session_id", sess.SessionID()))
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, sess mcpserver.ClientSession) {
		logger.Debug("MCP client session closed", zap.String("session_id", sess.SessionID()))
	})

	mcpServer := mcpserver.NewMCPServer(
		name,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
	)

	return &MCPServer{
		server:  mcpServer,
		proxy:   proxy,
		timeout: timeout,
		logger:  logger,
		onTools: onTools,
	}
}

// Server returns the underlying mcp-go server
func (s *MCPServer) Server() *mcpserver.MCPServer {
	return s.server
}

// SyncTools replaces the exposed tool set with the allowed subset of
// downstream, keeping the downstream description and input schema.
func (s *MCPServer) SyncTools(downstream []mcp.Tool) []string {
	allow := s.proxy.AllowList()

	serverTools := make([]mcpserver.ServerTool, 0, allow.Len())
	exposed := make([]string, 0, allow.Len())
	for _, tool := range downstream {
		if !allow.IsAllowed(tool.Name) {
			s.logger.Debug("Discarding tool not supported by the proxy", zap.String("tool", tool.Name))
			continue
		}
		serverTools = append(serverTools, mcpserver.ServerTool{
			Tool:    tool,
			Handler: s.handleToolCall,
		})
		exposed = append(exposed, tool.Name)
	}

	// SetTools replaces the set and notifies connected clients
	s.server.SetTools(serverTools...)

	for _, name := range allow.Names() {
		if !contains(exposed, name) {
			s.logger.Warn("Supported tool not advertised by downstream server", zap.String("tool", name))
		}
	}
	s.logger.Info("Exposed downstream tools", zap.Int("count", len(exposed)), zap.Strings("tools", exposed))

	if s.onTools != nil {
		s.onTools(len(exposed))
	}
	return exposed
}

func (s *MCPServer) handleToolCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.proxy.HandleCall(ctx, CallRequest{
		Name:      request.Params.Name,
		Arguments: request.GetArguments(),
	})
	if err != nil {
		return ErrorResult(err), nil
	}
	return result, nil
}

// ErrorResult converts a call error into the client-facing error envelope:
// an isError result with the message as text and {"error":{"kind","message"}}
// as structured content. A tool-reported error is passed back as the
// downstream result itself.
func ErrorResult(err error) *mcp.CallToolResult {
	var callErr *callerr.Error
	if errors.As(err, &callErr) && callErr.Kind == callerr.KindDownstreamToolError && callErr.Result != nil {
		return callErr.Result
	}

	message := err.Error()
	result := mcp.NewToolResultError(message)
	result.StructuredContent = map[string]any{
		"error": map[string]any{
			"kind":    string(callerr.KindOf(err)),
			"message": message,
		},
	}
	return result
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
