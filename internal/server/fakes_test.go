package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/downstream/core"
)

// countingCaller records every call that reaches the downstream side
type countingCaller struct {
	mu     sync.Mutex
	calls  []string
	args   []map[string]any
	result func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

func (c *countingCaller) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.args = append(c.args, args)
	fn := c.result
	c.mu.Unlock()

	if fn == nil {
		return mcp.NewToolResultText("ok"), nil
	}
	return fn(ctx, name, args)
}

func (c *countingCaller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingCaller) LastArgs() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.args) == 0 {
		return nil
	}
	return c.args[len(c.args)-1]
}

// fakeIDE is a downstream connection that answers like the JetBrains server
type fakeIDE struct {
	mu    sync.Mutex
	tools []mcp.Tool
	args  map[string]any
	reply func(name string, args map[string]any) (*mcp.CallToolResult, error)
}

func newFakeIDE(names ...string) *fakeIDE {
	ide := &fakeIDE{}
	for _, name := range names {
		ide.tools = append(ide.tools, mcp.NewTool(name,
			mcp.WithDescription("IDE tool "+name),
			mcp.WithString("path", mcp.Description("file path")),
		))
	}
	return ide
}

func (f *fakeIDE) Dial(context.Context, core.Hooks) (core.Conn, error) {
	return f, nil
}

func (f *fakeIDE) ListTools(context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mcp.Tool(nil), f.tools...), nil
}

func (f *fakeIDE) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.args = args
	reply := f.reply
	f.mu.Unlock()

	if reply != nil {
		return reply(name, args)
	}
	return jsonResult(map[string]any{"content": "hi"}), nil
}

func (f *fakeIDE) Close(context.Context) error { return nil }

func (f *fakeIDE) ServerInfo() mcp.Implementation {
	return mcp.Implementation{Name: "fake-ide", Version: "2025.2"}
}

func (f *fakeIDE) LastArgs() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return mcp.NewToolResultText(string(data))
}
