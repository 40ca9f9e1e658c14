package config

import (
	"time"
)

const (
	TransportSSE   = "sse"
	TransportStdio = "stdio"

	DefaultServerName           = "Jetbrains Proxy MCP Server"
	DefaultSSETransportEndpoint = "/messages/"
	DefaultSSEBindHost          = "0.0.0.0"
	DefaultSSEPort              = 41110
	DefaultTimeout              = 60.0

	DefaultDownstreamName = "jetbrains-mcp-server"
	DefaultDownstreamURL  = "http://127.0.0.1:64342/sse"
)

// Config is the effective proxy configuration
type Config struct {
	ServerName           string  `json:"server_name" yaml:"server-name" mapstructure:"server-name"`
	Transport            string  `json:"transport" yaml:"transport" mapstructure:"transport"`
	Timeout              float64 `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
	SSETransportEndpoint string  `json:"sse_transport_endpoint" yaml:"sse-transport-endpoint" mapstructure:"sse-transport-endpoint"`
	SSEBindHost          string  `json:"sse_bind_host" yaml:"sse-bind-host" mapstructure:"sse-bind-host"`
	SSEPort              int     `json:"sse_port" yaml:"sse-port" mapstructure:"sse-port"`
	SSEDebugEnabled      bool    `json:"sse_debug_enabled" yaml:"sse-debug-enabled" mapstructure:"sse-debug-enabled"`
	DebugEnabled         bool    `json:"debug_enabled" yaml:"debug-enabled" mapstructure:"debug-enabled"`

	Logging       *LogConfig          `json:"logging,omitempty" yaml:"logging" mapstructure:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability" mapstructure:"observability"`

	Downstream DownstreamConfig `json:"jetbrains_mcp_server" yaml:"jetbrains-mcp-server" mapstructure:"jetbrains-mcp-server"`

	// ConfigFile is the file the configuration was read from, empty for defaults
	ConfigFile string `json:"-" yaml:"-" mapstructure:"-"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" yaml:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" yaml:"enable-file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" yaml:"enable-console" mapstructure:"enable-console"`
	Filename      string `json:"filename" yaml:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" yaml:"log-dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" yaml:"max-size" mapstructure:"max-size"`                 // MB
	MaxBackups    int    `json:"max_backups" yaml:"max-backups" mapstructure:"max-backups"`
	MaxAge        int    `json:"max_age" yaml:"max-age" mapstructure:"max-age"` // days
	Compress      bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" yaml:"json-format" mapstructure:"json-format"`
}

// ObservabilityConfig controls metrics and tracing
type ObservabilityConfig struct {
	MetricsEnabled bool          `json:"metrics_enabled" yaml:"metrics-enabled" mapstructure:"metrics-enabled"`
	Tracing        TracingConfig `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"service_name" yaml:"service-name" mapstructure:"service-name"`
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp-endpoint" mapstructure:"otlp-endpoint"`
	SampleRate   float64 `json:"sample_rate" yaml:"sample-rate" mapstructure:"sample-rate"`
}

// DownstreamConfig describes the JetBrains MCP server the proxy forwards to.
// Timeouts and backoffs are in seconds.
type DownstreamConfig struct {
	Name     string            `json:"name" yaml:"name" mapstructure:"name"`
	URL      string            `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	Protocol string            `json:"protocol" yaml:"protocol" mapstructure:"protocol"` // auto, sse, streamable-http, http, stdio
	Command  string            `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`
	Args     []string          `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`

	Timeout           float64 `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	SSEReadTimeout    float64 `json:"sse_read_timeout" yaml:"sse-read-timeout" mapstructure:"sse-read-timeout"`
	StartTimeout      float64 `json:"start_timeout" yaml:"start-timeout" mapstructure:"start-timeout"`
	StopTimeout       float64 `json:"stop_timeout" yaml:"stop-timeout" mapstructure:"stop-timeout"`
	MaxAttempts       int     `json:"max_attempts" yaml:"max-attempts" mapstructure:"max-attempts"`
	InitialBackoff    float64 `json:"initial_backoff" yaml:"initial-backoff" mapstructure:"initial-backoff"`
	MaxBackoff        float64 `json:"max_backoff" yaml:"max-backoff" mapstructure:"max-backoff"`
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff-multiplier" mapstructure:"backoff-multiplier"`

	ProxyPathType     string `json:"proxy_path_type" yaml:"proxy-path-type" mapstructure:"proxy-path-type"`
	JetbrainsPathType string `json:"jetbrains_path_type" yaml:"jetbrains-path-type" mapstructure:"jetbrains-path-type"`

	// TimeoutReconnectThreshold forces a reconnect after this many consecutive
	// call timeouts. Zero disables it.
	TimeoutReconnectThreshold int `json:"timeout_reconnect_threshold" yaml:"timeout-reconnect-threshold" mapstructure:"timeout-reconnect-threshold"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		ServerName:           DefaultServerName,
		Transport:            TransportSSE,
		Timeout:              DefaultTimeout,
		SSETransportEndpoint: DefaultSSETransportEndpoint,
		SSEBindHost:          DefaultSSEBindHost,
		SSEPort:              DefaultSSEPort,
		SSEDebugEnabled:      true,
		DebugEnabled:         true,

		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false,
		},

		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			Tracing: TracingConfig{
				Enabled:      false,
				ServiceName:  "jetbrains-proxy-mcp-server",
				OTLPEndpoint: "localhost:4318",
				SampleRate:   1.0,
			},
		},

		Downstream: DefaultDownstreamConfig(),
	}
}

// DefaultDownstreamConfig returns the defaults for the JetBrains MCP server block
func DefaultDownstreamConfig() DownstreamConfig {
	return DownstreamConfig{
		Name:              DefaultDownstreamName,
		URL:               DefaultDownstreamURL,
		Protocol:          "auto",
		Timeout:           35.0,
		SSEReadTimeout:    300.0,
		StartTimeout:      120.0,
		StopTimeout:       30.0,
		MaxAttempts:       5,
		InitialBackoff:    1.0,
		MaxBackoff:        60.0,
		BackoffMultiplier: 3.0,
		ProxyPathType:     "wsl",
		JetbrainsPathType: "windows",
	}
}

// Seconds converts a configured float number of seconds to a duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// RequestTimeout returns the client-facing request timeout
func (c *Config) RequestTimeout() time.Duration {
	return Seconds(c.Timeout)
}

// CallTimeout returns the per-call downstream timeout
func (d *DownstreamConfig) CallTimeout() time.Duration {
	return Seconds(d.Timeout)
}
