package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net closed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"broken pipe text", errors.New("write |1: broken pipe"), true},
		{"transport closed text", errors.New("transport closed"), true},
		{"json-rpc error", errors.New("tool get_file_text_by_path: file not found"), false},
		{"invalid params", errors.New("invalid params: missing pathInProject"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("call: %w", &TransportError{Op: "tools/call x", Err: io.EOF})
	assert.True(t, IsTransportError(err))
	assert.True(t, errors.Is(err, io.EOF))
	assert.Contains(t, err.Error(), "transport failure")
	assert.False(t, IsTransportError(errors.New("plain")))
}

func newTestDownstream(t *testing.T) string {
	t.Helper()
	s := mcpserver.NewMCPServer("fake-jetbrains", "2025.2", mcpserver.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("get_file_text_by_path",
		mcp.WithString("pathInProject", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		return mcp.NewToolResultText(fmt.Sprintf(`{"path":%q}`, args["pathInProject"])), nil
	})
	s.AddTool(mcp.NewTool("get_project_modules"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("project not open"), nil
	})

	srv := mcpserver.NewTestServer(s)
	t.Cleanup(srv.Close)
	return srv.URL + "/sse"
}

func TestClientDialer_SSE(t *testing.T) {
	cfg := config.DefaultDownstreamConfig()
	cfg.URL = newTestDownstream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := NewDialer(&cfg, true, zap.NewNop()).Dial(ctx, Hooks{})
	require.NoError(t, err)

	assert.Equal(t, "fake-jetbrains", conn.ServerInfo().Name)

	tools, err := conn.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	result, err := conn.CallTool(ctx, "get_file_text_by_path", map[string]any{"pathInProject": `C:\proj\a.txt`})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"path":"C:\\proj\\a.txt"}`, text.Text)

	result, err = conn.CallTool(ctx, "get_project_modules", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	assert.NoError(t, conn.Close(closeCtx))
	assert.NoError(t, conn.Close(closeCtx), "close is idempotent")
}

func TestClientDialer_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.DefaultDownstreamConfig()
	cfg.URL = "http://" + addr + "/sse"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = NewDialer(&cfg, false, zap.NewNop()).Dial(ctx, Hooks{})
	assert.Error(t, err)
}

func TestClientDialer_AttemptTimeout(t *testing.T) {
	// accepts connections but never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	cfg := config.DefaultDownstreamConfig()
	cfg.URL = "http://" + ln.Addr().String() + "/sse"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = NewDialer(&cfg, false, zap.NewNop()).Dial(ctx, Hooks{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
