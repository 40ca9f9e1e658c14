package transport

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

func TestDetermineTransportType(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DownstreamConfig
		expected string
	}{
		{"sse url", config.DownstreamConfig{URL: "http://127.0.0.1:64342/sse"}, TransportSSE},
		{"sse url trailing slash", config.DownstreamConfig{URL: "http://127.0.0.1:64342/sse/"}, TransportSSE},
		{"sse url with query", config.DownstreamConfig{URL: "http://host/sse?x=1"}, TransportSSE},
		{"streamable url", config.DownstreamConfig{URL: "http://127.0.0.1:64342/stream"}, TransportStreamableHTTP},
		{"command wins", config.DownstreamConfig{URL: "http://host/sse", Command: "npx"}, TransportStdio},
		{"explicit protocol", config.DownstreamConfig{URL: "http://host/sse", Protocol: "streamable-http"}, TransportStreamableHTTP},
		{"http alias", config.DownstreamConfig{URL: "http://host/mcp", Protocol: "http"}, TransportStreamableHTTP},
		{"explicit auto", config.DownstreamConfig{URL: "http://host/mcp", Protocol: "auto"}, TransportStreamableHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetermineTransportType(&tt.cfg))
		})
	}
}

func TestNewClient(t *testing.T) {
	logger := zap.NewNop()

	cfg := config.DefaultDownstreamConfig()
	c, kind, err := NewClient(&cfg, false, logger)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, TransportSSE, kind)

	cfg.URL = "http://127.0.0.1:64342/mcp"
	c, kind, err = NewClient(&cfg, true, logger)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, TransportStreamableHTTP, kind)

	cfg.Protocol = "carrier-pigeon"
	_, _, err = NewClient(&cfg, false, logger)
	assert.Error(t, err)
}

func TestCreateClient_MissingTarget(t *testing.T) {
	_, err := CreateSSEClient(&HTTPTransportConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = CreateHTTPClient(&HTTPTransportConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = CreateStdioClient(&StdioTransportConfig{})
	assert.Error(t, err)
}

func TestBuildEnvironment(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/dev", "LANG=C"}

	assert.Equal(t, base, BuildEnvironment(base, nil))

	env := BuildEnvironment(base, map[string]string{"LANG": "en_US.UTF-8", "IDEA_PORT": "64342"})
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/home/dev", "IDEA_PORT=64342", "LANG=en_US.UTF-8"}, env)
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, []string{"npx", "-y", "@jetbrains/mcp-proxy"}, ParseCommand("npx -y @jetbrains/mcp-proxy"))
	assert.Equal(t, []string{"node", "C:/Program Files/proxy.js"}, ParseCommand(`node "C:/Program Files/proxy.js"`))
	assert.Equal(t, []string{"echo", `it"s`}, ParseCommand(`echo 'it"s'`))
	assert.Empty(t, ParseCommand("   "))
}

func TestCreateStdioTransportConfig(t *testing.T) {
	cfg := &config.DownstreamConfig{Command: "npx -y @jetbrains/mcp-proxy", Env: map[string]string{"A": "1"}}
	st := CreateStdioTransportConfig(cfg)
	assert.Equal(t, "npx", st.Command)
	assert.Equal(t, []string{"-y", "@jetbrains/mcp-proxy"}, st.Args)
	assert.Equal(t, map[string]string{"A": "1"}, st.Env)

	cfg = &config.DownstreamConfig{Command: "/opt/My Tools/server", Args: []string{"--stdio"}}
	st = CreateStdioTransportConfig(cfg)
	assert.Equal(t, "/opt/My Tools/server", st.Command)
	assert.Equal(t, []string{"--stdio"}, st.Args)
}

func TestIdleTimeoutTransport_EventStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: endpoint\ndata: /messages/?session=1\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Transport: NewIdleTimeoutTransport(nil, 100*time.Millisecond)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: endpoint")

	start := time.Now()
	_, err = io.ReadAll(resp.Body)
	assert.True(t, errors.Is(err, ErrReadIdleTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIdleTimeoutTransport_PlainResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewLoggingTransport(NewIdleTimeoutTransport(nil, time.Millisecond), zap.NewNop())}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, isIdle := resp.Body.(*idleTimeoutBody)
	assert.False(t, isIdle)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}
