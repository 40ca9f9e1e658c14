package transport

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

const (
	TransportAuto           = "auto"
	TransportHTTP           = "http"
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportStdio          = "stdio"
)

// HTTPTransportConfig holds configuration for HTTP transports
type HTTPTransportConfig struct {
	URL            string
	Headers        map[string]string
	RequestTimeout time.Duration
	ReadIdle       time.Duration
	Debug          bool
}

// CreateHTTPTransportConfig creates an HTTP transport config from the downstream config
func CreateHTTPTransportConfig(cfg *config.DownstreamConfig, debug bool) *HTTPTransportConfig {
	return &HTTPTransportConfig{
		URL:            cfg.URL,
		Headers:        cfg.Headers,
		RequestTimeout: config.Seconds(cfg.Timeout),
		ReadIdle:       config.Seconds(cfg.SSEReadTimeout),
		Debug:          debug,
	}
}

// CreateHTTPClient creates a new MCP client using streamable HTTP transport
func CreateHTTPClient(cfg *HTTPTransportConfig, logger *zap.Logger) (*client.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no URL specified for HTTP transport")
	}

	logger.Debug("Creating streamable HTTP client",
		zap.String("url", cfg.URL),
		zap.Int("header_count", len(cfg.Headers)))

	opts := []transport.StreamableHTTPCOption{
		transport.WithHTTPTimeout(cfg.RequestTimeout),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
	}

	httpTransport, err := transport.NewStreamableHTTP(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
	}
	return client.NewClient(httpTransport), nil
}

// CreateSSEClient creates a new MCP client using SSE transport. The event
// stream has no overall deadline; it fails once no data arrives for ReadIdle.
func CreateSSEClient(cfg *HTTPTransportConfig, logger *zap.Logger) (*client.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no URL specified for SSE transport")
	}

	logger.Debug("Creating SSE client",
		zap.String("url", cfg.URL),
		zap.Duration("read_idle_timeout", cfg.ReadIdle),
		zap.Int("header_count", len(cfg.Headers)))

	var base http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 5,
	}
	if cfg.Debug {
		base = NewLoggingTransport(base, logger)
	}

	httpClient := &http.Client{
		Transport: NewIdleTimeoutTransport(base, cfg.ReadIdle),
	}

	opts := []transport.ClientOption{client.WithHTTPClient(httpClient)}
	if len(cfg.Headers) > 0 {
		opts = append(opts, client.WithHeaders(cfg.Headers))
	}

	sseClient, err := client.NewSSEMCPClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE client: %w", err)
	}
	return sseClient, nil
}

// DetermineTransportType determines the transport type based on URL and config
func DetermineTransportType(cfg *config.DownstreamConfig) string {
	if cfg.Protocol != "" && cfg.Protocol != TransportAuto {
		if cfg.Protocol == TransportHTTP {
			return TransportStreamableHTTP
		}
		return cfg.Protocol
	}

	// A command wins over a URL
	if cfg.Command != "" {
		return TransportStdio
	}

	if isSSEURL(cfg.URL) {
		return TransportSSE
	}
	return TransportStreamableHTTP
}

func isSSEURL(rawURL string) bool {
	u := strings.TrimRight(strings.SplitN(rawURL, "?", 2)[0], "/")
	return strings.HasSuffix(u, "/sse")
}

// NewClient builds an unstarted MCP client for the downstream target
func NewClient(cfg *config.DownstreamConfig, debug bool, logger *zap.Logger) (*client.Client, string, error) {
	kind := DetermineTransportType(cfg)
	var (
		c   *client.Client
		err error
	)
	switch kind {
	case TransportSSE:
		c, err = CreateSSEClient(CreateHTTPTransportConfig(cfg, debug), logger)
	case TransportStreamableHTTP:
		c, err = CreateHTTPClient(CreateHTTPTransportConfig(cfg, debug), logger)
	case TransportStdio:
		c, err = CreateStdioClient(CreateStdioTransportConfig(cfg))
	default:
		err = fmt.Errorf("unsupported transport type: %s", kind)
	}
	return c, kind, err
}
