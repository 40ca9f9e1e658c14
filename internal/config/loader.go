package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "JETBRAINS_PROXY_MCP_SERVER"
	EnvConfigPath  = EnvPrefix + "_CONFIG"
	ConfigFileName = "config.yaml"
	AppDirName     = "jetbrains-proxy-mcp-server"

	downstreamKey = "jetbrains-mcp-server"
)

// key aliases accepted inside the downstream block
var downstreamAliases = map[string]string{
	"client-path-type": "proxy-path-type",
	"server-path-type": "jetbrains-path-type",
}

// Load builds the configuration from defaults, the YAML file at path (or the
// first file found in the default locations when path is empty) and
// environment overrides, then validates it.
func Load(path string) (*Config, error) {
	v := newViper(DefaultConfig())

	file, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	var maps caseSensitiveMaps
	if file != "" {
		raw, err := readConfigFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", file, err)
		}
		// viper lower-cases map keys, also in the map it is given
		maps = takeCaseSensitiveMaps(raw)
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("failed to merge config file %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	maps.apply(cfg)
	cfg.ConfigFile = file

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newViper configures a viper instance with defaults and environment handling
func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server-name", defaults.ServerName)
	v.SetDefault("transport", defaults.Transport)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("sse-transport-endpoint", defaults.SSETransportEndpoint)
	v.SetDefault("sse-bind-host", defaults.SSEBindHost)
	v.SetDefault("sse-port", defaults.SSEPort)
	v.SetDefault("sse-debug-enabled", defaults.SSEDebugEnabled)
	v.SetDefault("debug-enabled", defaults.DebugEnabled)

	l := defaults.Logging
	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.enable-file", l.EnableFile)
	v.SetDefault("logging.enable-console", l.EnableConsole)
	v.SetDefault("logging.filename", l.Filename)
	v.SetDefault("logging.log-dir", l.LogDir)
	v.SetDefault("logging.max-size", l.MaxSize)
	v.SetDefault("logging.max-backups", l.MaxBackups)
	v.SetDefault("logging.max-age", l.MaxAge)
	v.SetDefault("logging.compress", l.Compress)
	v.SetDefault("logging.json-format", l.JSONFormat)

	o := defaults.Observability
	v.SetDefault("observability.metrics-enabled", o.MetricsEnabled)
	v.SetDefault("observability.tracing.enabled", o.Tracing.Enabled)
	v.SetDefault("observability.tracing.service-name", o.Tracing.ServiceName)
	v.SetDefault("observability.tracing.otlp-endpoint", o.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.sample-rate", o.Tracing.SampleRate)

	d := defaults.Downstream
	v.SetDefault(downstreamKey+".name", d.Name)
	v.SetDefault(downstreamKey+".url", d.URL)
	v.SetDefault(downstreamKey+".protocol", d.Protocol)
	v.SetDefault(downstreamKey+".command", d.Command)
	v.SetDefault(downstreamKey+".timeout", d.Timeout)
	v.SetDefault(downstreamKey+".sse-read-timeout", d.SSEReadTimeout)
	v.SetDefault(downstreamKey+".start-timeout", d.StartTimeout)
	v.SetDefault(downstreamKey+".stop-timeout", d.StopTimeout)
	v.SetDefault(downstreamKey+".max-attempts", d.MaxAttempts)
	v.SetDefault(downstreamKey+".initial-backoff", d.InitialBackoff)
	v.SetDefault(downstreamKey+".max-backoff", d.MaxBackoff)
	v.SetDefault(downstreamKey+".backoff-multiplier", d.BackoffMultiplier)
	v.SetDefault(downstreamKey+".proxy-path-type", d.ProxyPathType)
	v.SetDefault(downstreamKey+".jetbrains-path-type", d.JetbrainsPathType)
	v.SetDefault(downstreamKey+".timeout-reconnect-threshold", d.TimeoutReconnectThreshold)

	// Names that do not follow the prefix + key scheme
	_ = v.BindEnv("server-name", EnvPrefix+"_NAME", EnvPrefix+"_SERVER_NAME")
	_ = v.BindEnv("logging.level", EnvPrefix+"_LOG_LEVEL", EnvPrefix+"_LOGGING_LEVEL")

	return v
}

// resolveConfigPath returns the file to read, or "" to run on defaults
func resolveConfigPath(path string) (string, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}

	for _, location := range DefaultLocations() {
		if _, err := os.Stat(location); err == nil {
			return location, nil
		}
	}
	return "", nil
}

// DefaultLocations lists the files checked when no config path is given
func DefaultLocations() []string {
	locations := []string{filepath.Join(".", ConfigFileName)}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, ".config", AppDirName, ConfigFileName))
	}
	return locations
}

// readConfigFile parses the YAML document and normalizes its keys
func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file is treated as no configuration
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	normalized := normalizeKeys(doc)
	if block, ok := normalized[downstreamKey].(map[string]any); ok {
		for alias, canonical := range downstreamAliases {
			if val, ok := block[alias]; ok {
				if _, set := block[canonical]; !set {
					block[canonical] = val
				}
				delete(block, alias)
			}
		}
	}
	return normalized, nil
}

// normalizeKeys rewrites underscores in keys to hyphens. The contents of env
// and headers maps are user data and are kept verbatim.
func normalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := strings.ReplaceAll(strings.ToLower(k), "_", "-")
		if child, ok := val.(map[string]any); ok && key != "env" && key != "headers" {
			val = normalizeKeys(child)
		}
		out[key] = val
	}
	return out
}

// caseSensitiveMaps holds the env and headers maps of the downstream block,
// whose keys are user data and must keep their case.
type caseSensitiveMaps struct {
	env     map[string]string
	headers map[string]string
}

// takeCaseSensitiveMaps removes env and headers from the raw document
func takeCaseSensitiveMaps(raw map[string]any) caseSensitiveMaps {
	block, ok := raw[downstreamKey].(map[string]any)
	if !ok {
		return caseSensitiveMaps{}
	}
	maps := caseSensitiveMaps{
		env:     stringMap(block["env"]),
		headers: stringMap(block["headers"]),
	}
	delete(block, "env")
	delete(block, "headers")
	return maps
}

func (m caseSensitiveMaps) apply(cfg *Config) {
	if m.env != nil {
		cfg.Downstream.Env = m.env
	}
	if m.headers != nil {
		cfg.Downstream.Headers = m.headers
	}
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}

// Marshal renders the configuration as YAML
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
