package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/callerr"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/core"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/types"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/observability"
)

type unreachableDialer struct{}

func (unreachableDialer) Dial(context.Context, core.Hooks) (core.Conn, error) {
	return nil, errors.New("connection refused")
}

func testServerConfig(port int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transport = config.TransportSSE
	cfg.SSEBindHost = "127.0.0.1"
	cfg.SSEPort = port
	cfg.SSEDebugEnabled = false
	cfg.Observability.MetricsEnabled = true
	cfg.Downstream.MaxAttempts = 1
	cfg.Downstream.StartTimeout = 1
	cfg.Downstream.StopTimeout = 1
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, dialer core.Dialer) *Server {
	t.Helper()

	obs, err := observability.NewManager(zap.NewNop(), cfg.Observability, "test")
	require.NoError(t, err)

	srv, err := NewWithDialer(cfg, dialer, obs, zap.NewNop(), "test")
	require.NoError(t, err)
	return srv
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_SSEEndToEnd(t *testing.T) {
	ide := newFakeIDE("get_file_text_by_path", "search_in_files_by_text", "execute_terminal_command")
	srv := newTestServer(t, testServerConfig(0), ide)

	front, ok := srv.Front().(*SSEFront)
	require.True(t, ok)
	require.NoError(t, front.Listen())
	baseURL := "http://" + front.Addr()

	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.StateConnected, srv.Session().State())

	mcpClient, err := client.NewSSEMCPClient(baseURL + SSEPath)
	require.NoError(t, err)
	defer mcpClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mcpClient.Start(ctx))

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "sse-e2e", Version: "1.0.0"}
	initResult, err := mcpClient.Initialize(ctx, initRequest)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServerName, initResult.ServerInfo.Name)

	listed, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	names := make([]string, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"get_file_text_by_path", "search_in_files_by_text"}, names)

	callRequest := mcp.CallToolRequest{}
	callRequest.Params.Name = "get_file_text_by_path"
	callRequest.Params.Arguments = map[string]any{"path": "/mnt/c/proj/a.txt"}
	result, err := mcpClient.CallTool(ctx, callRequest)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `{"content":"hi"}`, callerr.TextOf(result))
	assert.Equal(t, `C:\proj\a.txt`, ide.LastArgs()["path"])

	status, _ := httpGet(t, baseURL+"/healthz")
	assert.Equal(t, http.StatusOK, status)

	status, body := httpGet(t, baseURL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `jetbrains_proxy_tool_calls_total{status="success",tool="get_file_text_by_path"} 1`)
	assert.Contains(t, body, "jetbrains_proxy_tools_available 2")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))
	require.NoError(t, srv.Shutdown(shutdownCtx))

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, types.StateStopped, srv.Session().State())
}

func TestServer_PortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	ide := newFakeIDE("get_file_text_by_path")
	srv := newTestServer(t, testServerConfig(port), ide)

	err = srv.Run(context.Background())
	var portErr *PortInUseError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), portErr.Address)
	assert.Equal(t, types.StateDisconnected, srv.Session().State(), "no downstream attempt before the port is bound")
}

func TestServer_UnreachableDownstreamIsFatal(t *testing.T) {
	srv := newTestServer(t, testServerConfig(0), unreachableDialer{})

	err := srv.Run(context.Background())
	require.ErrorIs(t, err, callerr.ErrFatalStartup)
	assert.Contains(t, err.Error(), "connection refused")

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestNewWithDialer_RejectsBadPathTypes(t *testing.T) {
	cfg := testServerConfig(0)
	cfg.Downstream.ProxyPathType = "cygwin"

	_, err := NewWithDialer(cfg, newFakeIDE(), nil, zap.NewNop(), "test")
	assert.Error(t, err)
}

func TestNewWithDialer_StdioFront(t *testing.T) {
	cfg := testServerConfig(0)
	cfg.Transport = config.TransportStdio

	srv, err := NewWithDialer(cfg, newFakeIDE(), nil, zap.NewNop(), "test")
	require.NoError(t, err)
	_, ok := srv.Front().(*StdioFront)
	assert.True(t, ok)
}
