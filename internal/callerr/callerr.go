// Package callerr defines the typed failures a proxied tool call can end with.
package callerr

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Kind tags a call failure so fronts can report it distinctly.
type Kind string

const (
	KindToolNotAllowed      Kind = "tool_not_allowed"
	KindConnection          Kind = "connection_error"
	KindCallTimeout         Kind = "call_timeout"
	KindCanceled            Kind = "canceled"
	KindDownstreamToolError Kind = "downstream_tool_error"
	KindFatalStartup        Kind = "fatal_startup"
	KindInternal            Kind = "internal_error"
)

// Error is a failure of a single call or of proxy startup.
type Error struct {
	Kind    Kind
	Tool    string
	Message string
	Err     error

	// Result holds the downstream result for KindDownstreamToolError.
	Result *mcp.CallToolResult
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Tool != "" {
		msg = fmt.Sprintf("%s: %s", e.Tool, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrCallTimeout) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Tool == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrToolNotAllowed      = &Error{Kind: KindToolNotAllowed}
	ErrConnection          = &Error{Kind: KindConnection}
	ErrCallTimeout         = &Error{Kind: KindCallTimeout}
	ErrCanceled            = &Error{Kind: KindCanceled}
	ErrDownstreamToolError = &Error{Kind: KindDownstreamToolError}
	ErrFatalStartup        = &Error{Kind: KindFatalStartup}
)

// ToolNotAllowed reports a request for a tool outside the curated set.
func ToolNotAllowed(tool string) *Error {
	return &Error{Kind: KindToolNotAllowed, Tool: tool, Message: "tool is not supported by this proxy"}
}

// Connection reports that the downstream server could not be reached.
func Connection(tool string, err error) *Error {
	return &Error{Kind: KindConnection, Tool: tool, Message: "downstream server unreachable", Err: err}
}

// CallTimeout reports a call that exceeded its deadline.
func CallTimeout(tool string, err error) *Error {
	return &Error{Kind: KindCallTimeout, Tool: tool, Message: "call timed out", Err: err}
}

// Canceled reports a caller that gave up before the call finished.
func Canceled(tool string, err error) *Error {
	return &Error{Kind: KindCanceled, Tool: tool, Message: "call canceled by caller", Err: err}
}

// DownstreamTool wraps a well-formed error result returned by the downstream server.
func DownstreamTool(tool string, result *mcp.CallToolResult) *Error {
	return &Error{Kind: KindDownstreamToolError, Tool: tool, Message: TextOf(result), Result: result}
}

// FatalStartup reports that the downstream server was never reachable at startup.
func FatalStartup(err error) *Error {
	return &Error{Kind: KindFatalStartup, Message: "downstream server unreachable at startup", Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// TextOf joins the text contents of a result.
func TextOf(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var msg string
	for _, c := range result.Content {
		var text string
		switch tc := c.(type) {
		case mcp.TextContent:
			text = tc.Text
		case *mcp.TextContent:
			text = tc.Text
		default:
			continue
		}
		if msg != "" {
			msg += "\n"
		}
		msg += text
	}
	return msg
}
