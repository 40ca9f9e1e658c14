package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/reqcontext"
)

const maxStdioLine = 32 << 20

// StdioFront reads newline-delimited JSON-RPC messages and answers each
// request before reading the next one.
type StdioFront struct {
	server *mcpserver.MCPServer
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewStdioFront creates a stdio front over in and out
func NewStdioFront(s *MCPServer, in io.Reader, out io.Writer, logger *zap.Logger) *StdioFront {
	return &StdioFront{
		server: s.Server(),
		in:     in,
		out:    out,
		logger: logger.Named("stdio"),
		done:   make(chan struct{}),
	}
}

type stdioLine struct {
	data []byte
	err  error
}

// Serve runs the read-dispatch-write loop until EOF, ctx is done or Shutdown
func (f *StdioFront) Serve(ctx context.Context) error {
	if file, ok := f.in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		f.logger.Warn("stdin is a terminal; the stdio transport expects an MCP client on the other end")
	}
	f.logger.Info("Serving MCP over stdio")

	lines := make(chan stdioLine)
	go f.read(lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if len(line.data) > 0 {
				if err := f.handle(ctx, line.data); err != nil {
					return err
				}
			}
			if line.err != nil {
				if errors.Is(line.err, io.EOF) {
					f.logger.Info("stdin closed, stopping stdio front")
					return nil
				}
				return fmt.Errorf("failed to read from stdin: %w", line.err)
			}
		}
	}
}

// read prefetches at most one line ahead of the dispatch loop
func (f *StdioFront) read(lines chan<- stdioLine) {
	defer close(lines)

	reader := bufio.NewReaderSize(f.in, 64<<10)
	for {
		data, err := readLine(reader)
		select {
		case lines <- stdioLine{data: data, err: err}:
		case <-f.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := reader.ReadLine()
		buf = append(buf, chunk...)
		if err != nil {
			return bytes.TrimSpace(buf), err
		}
		if len(buf) > maxStdioLine {
			return nil, fmt.Errorf("message exceeds %d bytes", maxStdioLine)
		}
		if !isPrefix {
			return bytes.TrimSpace(buf), nil
		}
	}
}

func (f *StdioFront) handle(ctx context.Context, message []byte) error {
	ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceStdio)

	// Malformed input gets the library's parse error response
	response := f.server.HandleMessage(ctx, json.RawMessage(message))
	if response == nil {
		// Notifications have no response
		return nil
	}
	return f.write(response)
}

func (f *StdioFront) write(response mcp.JSONRPCMessage) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.out.Write(data); err != nil {
		return fmt.Errorf("failed to write to stdout: %w", err)
	}
	return nil
}

// Shutdown stops the loop after the message in flight. Idempotent.
func (f *StdioFront) Shutdown(_ context.Context) error {
	f.closeOnce.Do(func() {
		close(f.done)
	})
	return nil
}
