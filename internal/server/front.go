package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/observability"
)

// Front serves the client-facing MCP server over one transport
type Front interface {
	// Serve blocks until ctx is done, Shutdown is called, or the transport fails
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NewFront selects the front for cfg.Transport. The transports are never mixed.
func NewFront(cfg *config.Config, s *MCPServer, obs *observability.Manager, logger *zap.Logger) (Front, error) {
	switch cfg.Transport {
	case config.TransportStdio:
		return NewStdioFront(s, os.Stdin, os.Stdout, logger), nil
	case config.TransportSSE:
		return NewSSEFront(cfg, s, obs, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// PortInUseError indicates that the listen address is already occupied
type PortInUseError struct {
	Address string
	Err     error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("address %s is already in use", e.Address)
}

func (e *PortInUseError) Unwrap() error {
	return e.Err
}

// isAddrInUseError determines whether an error represents an address-in-use condition
func isAddrInUseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil && opErr.Err != err {
		if isAddrInUseError(opErr.Err) {
			return true
		}
	}

	// Windows reports WSAEADDRINUSE with its own wording
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}
