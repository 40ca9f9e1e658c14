package main

import (
	"errors"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/callerr"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/server"
)

// Exit codes let launchers tell startup failures apart

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeConfigError indicates the configuration could not be loaded or validated
	ExitCodeConfigError = 2

	// ExitCodeDownstreamUnreachable indicates the JetBrains MCP server was never reachable at startup
	ExitCodeDownstreamUnreachable = 3

	// ExitCodePortConflict indicates the SSE listen address is already in use
	ExitCodePortConflict = 4
)

// configError marks failures to load or validate the configuration
type configError struct {
	err error
}

func (e *configError) Error() string {
	return e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}

// exitCodeFor maps a command error to the process exit code
func exitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitCodeConfigError
	}
	var portErr *server.PortInUseError
	if errors.As(err, &portErr) {
		return ExitCodePortConflict
	}
	if errors.Is(err, callerr.ErrFatalStartup) {
		return ExitCodeDownstreamUnreachable
	}
	return ExitCodeGeneralError
}

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeDownstreamUnreachable:
		return "JetBrains MCP server unreachable at startup"
	case ExitCodePortConflict:
		return "Port conflict - address already in use"
	default:
		return "Unknown error"
	}
}
