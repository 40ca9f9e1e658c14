package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/callerr"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/observability"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/pathconv"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/reqcontext"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/tools"
)

// Caller forwards a tool call to the downstream server
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// CallRequest is one tool invocation from a client
type CallRequest struct {
	Name      string
	Arguments map[string]any
}

// ProxyService applies the allow-list and path translation around downstream calls
type ProxyService struct {
	allow   *tools.AllowList
	session Caller
	logger  *zap.Logger
	obs     *observability.Manager

	toDownstream tools.Translator
	toClient     tools.Translator
}

// NewProxyService creates the proxy. clientPaths is the representation clients
// use, downstreamPaths the one the IDE expects. obs may be nil.
func NewProxyService(allow *tools.AllowList, session Caller, clientPaths, downstreamPaths pathconv.Representation, logger *zap.Logger, obs *observability.Manager) *ProxyService {
	return &ProxyService{
		allow:   allow,
		session: session,
		logger:  logger.Named("proxy"),
		obs:     obs,
		toDownstream: func(p string) string {
			return pathconv.Translate(p, clientPaths, downstreamPaths)
		},
		toClient: func(p string) string {
			return pathconv.Translate(p, downstreamPaths, clientPaths)
		},
	}
}

// AllowList returns the tools this proxy forwards
func (p *ProxyService) AllowList() *tools.AllowList {
	return p.allow
}

// HandleCall forwards req and translates paths both ways. A tool-reported error
// comes back as a downstream_tool_error carrying the translated result.
func (p *ProxyService) HandleCall(ctx context.Context, req CallRequest) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	ctx, correlationID := reqcontext.EnsureCorrelationID(ctx)

	if p.obs != nil {
		var span oteltrace.Span
		ctx, span = p.obs.Tracing().TraceToolCall(ctx, req.Name, correlationID)
		defer func() {
			observability.EndSpan(span, err)
		}()
	}

	defer func() {
		p.finish(ctx, req.Name, correlationID, time.Since(start), err)
	}()

	spec, ok := p.allow.Spec(req.Name)
	if !ok {
		return nil, callerr.ToolNotAllowed(req.Name)
	}

	args := tools.RewriteArguments(req.Arguments, spec.ArgPaths, p.toDownstream)

	result, err = p.session.Call(ctx, req.Name, args)
	if err != nil {
		return nil, err
	}

	result = tools.RewriteResult(result, spec.ResultPaths, p.toClient)
	if result.IsError {
		return nil, callerr.DownstreamTool(req.Name, result)
	}
	return result, nil
}

func (p *ProxyService) finish(ctx context.Context, tool, correlationID string, duration time.Duration, err error) {
	outcome := observability.StatusSuccess
	if err != nil {
		outcome = string(callerr.KindOf(err))
	}

	fields := []zap.Field{
		zap.String("tool", tool),
		zap.String("correlation_id", correlationID),
		zap.String("source", string(reqcontext.GetRequestSource(ctx))),
		zap.Duration("duration", duration),
		zap.String("outcome", outcome),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	p.logger.Debug("Tool call completed", fields...)

	if p.obs != nil {
		p.obs.RecordToolCall(tool, outcome, duration)
	}
}
