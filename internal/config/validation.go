package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/pathconv"
)

const (
	minTimeout        = 0.1
	minInitialBackoff = 0.1
	minMaxBackoff     = 1.0
	minMultiplier     = 1.0
	minAttempts       = 1
)

var (
	validProtocols = []string{"auto", "sse", "streamable-http", "http", "stdio"}
	validLogLevels = []string{"trace", "debug", "info", "warn", "error"}
)

// Validate clamps numeric settings to their minimums and reports every
// invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport != TransportSSE && c.Transport != TransportStdio {
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportSSE, TransportStdio, c.Transport))
	}

	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	c.Timeout = atLeast(c.Timeout, minTimeout)

	if c.SSEPort <= 0 || c.SSEPort >= 65536 {
		errs = append(errs, fmt.Errorf("sse-port must be between 1 and 65535, got %d", c.SSEPort))
	}
	if c.SSEBindHost == "" {
		c.SSEBindHost = DefaultSSEBindHost
	}
	if c.SSETransportEndpoint == "" {
		c.SSETransportEndpoint = DefaultSSETransportEndpoint
	}
	if !strings.HasPrefix(c.SSETransportEndpoint, "/") {
		errs = append(errs, fmt.Errorf("sse-transport-endpoint must start with '/', got %q", c.SSETransportEndpoint))
	}

	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !contains(validLogLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of %s, got %q", strings.Join(validLogLevels, ", "), c.Logging.Level))
	}

	tr := &c.Observability.Tracing
	if tr.SampleRate < 0 || tr.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing.sample-rate must be within [0, 1], got %v", tr.SampleRate))
	}
	if tr.Enabled && tr.OTLPEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing.otlp-endpoint is required when tracing is enabled"))
	}

	if err := c.Downstream.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate checks the downstream block
func (d *DownstreamConfig) Validate() error {
	var errs []error

	if d.Name == "" {
		d.Name = DefaultDownstreamName
	}

	d.Protocol = strings.ToLower(strings.TrimSpace(d.Protocol))
	if d.Protocol == "" {
		d.Protocol = "auto"
	}
	if !contains(validProtocols, d.Protocol) {
		errs = append(errs, fmt.Errorf("%s.protocol must be one of %s, got %q", downstreamKey, strings.Join(validProtocols, ", "), d.Protocol))
	}
	if d.URL == "" && d.Command == "" {
		errs = append(errs, fmt.Errorf("%s requires a url or a command", downstreamKey))
	}
	if d.Protocol == "stdio" && d.Command == "" {
		errs = append(errs, fmt.Errorf("%s.command is required for the stdio protocol", downstreamKey))
	}

	d.Timeout = atLeast(d.Timeout, minTimeout)
	d.SSEReadTimeout = atLeast(d.SSEReadTimeout, minTimeout)
	d.StartTimeout = atLeast(d.StartTimeout, minTimeout)
	d.StopTimeout = atLeast(d.StopTimeout, minTimeout)
	d.InitialBackoff = atLeast(d.InitialBackoff, minInitialBackoff)
	d.MaxBackoff = atLeast(d.MaxBackoff, minMaxBackoff)
	d.BackoffMultiplier = atLeast(d.BackoffMultiplier, minMultiplier)
	if d.MaxAttempts < minAttempts {
		d.MaxAttempts = minAttempts
	}
	if d.TimeoutReconnectThreshold < 0 {
		d.TimeoutReconnectThreshold = 0
	}

	if _, err := pathconv.ParseRepresentation(d.ProxyPathType); err != nil {
		errs = append(errs, fmt.Errorf("%s.proxy-path-type: %w", downstreamKey, err))
	}
	if _, err := pathconv.ParseRepresentation(d.JetbrainsPathType); err != nil {
		errs = append(errs, fmt.Errorf("%s.jetbrains-path-type: %w", downstreamKey, err))
	}

	return errors.Join(errs...)
}

// PathTypes returns the parsed proxy-side and JetBrains-side representations
func (d *DownstreamConfig) PathTypes() (proxy, jetbrains pathconv.Representation, err error) {
	if proxy, err = pathconv.ParseRepresentation(d.ProxyPathType); err != nil {
		return "", "", err
	}
	if jetbrains, err = pathconv.ParseRepresentation(d.JetbrainsPathType); err != nil {
		return "", "", err
	}
	return proxy, jetbrains, nil
}

func atLeast(v, minValue float64) float64 {
	if v < minValue {
		return minValue
	}
	return v
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
