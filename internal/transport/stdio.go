package transport

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

// StdioTransportConfig holds configuration for stdio transport
type StdioTransportConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// CreateStdioClient creates a new MCP client that spawns the downstream
// server as a child process. The process starts on Client.Start and is
// killed when the start context is cancelled.
func CreateStdioClient(cfg *StdioTransportConfig) (*client.Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("no command specified for stdio transport")
	}

	stdioTransport := transport.NewStdio(cfg.Command, BuildEnvironment(os.Environ(), cfg.Env), cfg.Args...)
	return client.NewClient(stdioTransport), nil
}

// BuildEnvironment overlays extra on base, returning KEY=VALUE pairs with
// overridden keys replaced rather than duplicated.
func BuildEnvironment(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// ParseCommand parses a command string into command and arguments
func ParseCommand(cmd string) []string {
	var result []string
	var current strings.Builder
	var inQuote bool
	var quoteChar rune

	flush := func() {
		if current.Len() > 0 {
			result = append(result, current.String())
			current.Reset()
		}
	}

	for _, r := range cmd {
		switch {
		case r == ' ' && !inQuote:
			flush()
		case r == '"' || r == '\'':
			switch {
			case inQuote && r == quoteChar:
				inQuote = false
				quoteChar = 0
			case !inQuote:
				inQuote = true
				quoteChar = r
			default:
				current.WriteRune(r)
			}
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return result
}

// CreateStdioTransportConfig creates a stdio transport config from the
// downstream config. A command given as one string with no args is split.
func CreateStdioTransportConfig(cfg *config.DownstreamConfig) *StdioTransportConfig {
	command := cfg.Command
	args := cfg.Args

	if len(args) == 0 && strings.ContainsAny(command, " \"'") {
		if parsed := ParseCommand(command); len(parsed) > 0 {
			command = parsed[0]
			args = parsed[1:]
		}
	}

	return &StdioTransportConfig{
		Command: command,
		Args:    args,
		Env:     cfg.Env,
	}
}
