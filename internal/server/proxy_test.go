package server

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/callerr"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/pathconv"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/reqcontext"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/tools"
)

func newTestProxy(caller Caller) *ProxyService {
	return NewProxyService(tools.DefaultAllowList(), caller, pathconv.WSL, pathconv.Native, zap.NewNop(), nil)
}

func TestHandleCall_RejectsUnsupportedTools(t *testing.T) {
	caller := &countingCaller{}
	proxy := newTestProxy(caller)

	for _, name := range []string{"execute_terminal_command", "create_new_file", "", "GET_FILE_TEXT_BY_PATH", "get_file_text_by_path "} {
		t.Run(name, func(t *testing.T) {
			result, err := proxy.HandleCall(context.Background(), CallRequest{Name: name})
			assert.Nil(t, result)
			assert.ErrorIs(t, err, callerr.ErrToolNotAllowed)
		})
	}
	assert.Equal(t, 0, caller.Count())
}

func TestHandleCall_AllowListExclusivity(t *testing.T) {
	caller := &countingCaller{}
	proxy := newTestProxy(caller)
	allow := tools.DefaultAllowList()

	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{0,30}`).Draw(t, "name")
		if allow.IsAllowed(name) {
			t.Skip("drew a supported name")
		}

		_, err := proxy.HandleCall(context.Background(), CallRequest{Name: name})
		if !errors.Is(err, callerr.ErrToolNotAllowed) {
			t.Fatalf("expected tool_not_allowed for %q, got %v", name, err)
		}
	})
	assert.Equal(t, 0, caller.Count())
}

func TestHandleCall_TranslatesPathsBothWays(t *testing.T) {
	caller := &countingCaller{
		result: func(_ context.Context, _ string, _ map[string]any) (*mcp.CallToolResult, error) {
			return jsonResult(map[string]any{
				"entries": []any{
					map[string]any{"filePath": `C:\proj\a.txt`, "lineNumber": 3},
					map[string]any{"filePath": `D:\lib\b.go`, "lineNumber": 9},
				},
				"probablyHasMoreMatchingEntries": false,
			}), nil
		},
	}
	proxy := newTestProxy(caller)

	args := map[string]any{"directoryToSearch": "/mnt/c/proj", "searchText": "needle"}
	result, err := proxy.HandleCall(context.Background(), CallRequest{Name: "search_in_files_by_text", Arguments: args})
	require.NoError(t, err)

	assert.Equal(t, `C:\proj`, caller.LastArgs()["directoryToSearch"])
	assert.Equal(t, "needle", caller.LastArgs()["searchText"])
	assert.Equal(t, "/mnt/c/proj", args["directoryToSearch"], "incoming arguments must not be mutated")

	assert.JSONEq(t, `{
		"entries": [
			{"filePath": "/mnt/c/proj/a.txt", "lineNumber": 3},
			{"filePath": "/mnt/d/lib/b.go", "lineNumber": 9}
		],
		"probablyHasMoreMatchingEntries": false
	}`, callerr.TextOf(result))
}

func TestHandleCall_GetFileTextByPath(t *testing.T) {
	original := jsonResult(map[string]any{"content": "hi"})
	caller := &countingCaller{
		result: func(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
			return original, nil
		},
	}
	proxy := newTestProxy(caller)

	result, err := proxy.HandleCall(context.Background(), CallRequest{
		Name:      "get_file_text_by_path",
		Arguments: map[string]any{"path": "/mnt/c/proj/a.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, `C:\proj\a.txt`, caller.LastArgs()["path"])
	assert.Same(t, original, result)
	assert.Equal(t, `{"content":"hi"}`, callerr.TextOf(result))
}

func TestHandleCall_DownstreamToolError(t *testing.T) {
	caller := &countingCaller{
		result: func(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
			result := jsonResult(map[string]any{"filePath": `C:\proj\missing.kt`, "errors": []any{}})
			result.IsError = true
			return result, nil
		},
	}
	proxy := newTestProxy(caller)

	result, err := proxy.HandleCall(context.Background(), CallRequest{
		Name:      "get_file_problems",
		Arguments: map[string]any{"filePath": "/mnt/c/proj/missing.kt"},
	})
	assert.Nil(t, result)
	require.ErrorIs(t, err, callerr.ErrDownstreamToolError)

	var callErr *callerr.Error
	require.ErrorAs(t, err, &callErr)
	require.NotNil(t, callErr.Result)
	assert.True(t, callErr.Result.IsError)
	assert.JSONEq(t, `{"filePath":"/mnt/c/proj/missing.kt","errors":[]}`, callerr.TextOf(callErr.Result))
}

func TestHandleCall_PropagatesSessionErrors(t *testing.T) {
	sessionErr := callerr.Connection("get_project_modules", errors.New("connection refused"))
	caller := &countingCaller{
		result: func(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
			return nil, sessionErr
		},
	}
	proxy := newTestProxy(caller)

	_, err := proxy.HandleCall(context.Background(), CallRequest{Name: "get_project_modules"})
	assert.ErrorIs(t, err, callerr.ErrConnection)
	assert.Equal(t, 1, caller.Count())
}

func TestHandleCall_LogsOneEntryPerCall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	proxy := NewProxyService(tools.DefaultAllowList(), &countingCaller{}, pathconv.WSL, pathconv.Native, zap.New(core), nil)

	ctx := reqcontext.WithCorrelationID(context.Background(), "corr-123")
	ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceStdio)
	_, err := proxy.HandleCall(ctx, CallRequest{Name: "get_project_modules"})
	require.NoError(t, err)
	_, _ = proxy.HandleCall(ctx, CallRequest{Name: "nope"})

	entries := logs.FilterMessage("Tool call completed").AllUntimed()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "get_project_modules", first["tool"])
	assert.Equal(t, "corr-123", first["correlation_id"])
	assert.Equal(t, "stdio", first["source"])
	assert.Equal(t, "success", first["outcome"])
	assert.Contains(t, first, "duration")

	assert.Equal(t, "tool_not_allowed", entries[1].ContextMap()["outcome"])
}
