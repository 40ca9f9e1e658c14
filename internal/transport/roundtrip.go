package transport

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrReadIdleTimeout is returned by an event stream that stayed silent too long.
var ErrReadIdleTimeout = errors.New("event stream read idle timeout")

// IdleTimeoutTransport closes event-stream responses that deliver no data for
// the configured duration. Other responses pass through untouched.
type IdleTimeoutTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

// NewIdleTimeoutTransport wraps base; a non-positive timeout disables the limit
func NewIdleTimeoutTransport(base http.RoundTripper, timeout time.Duration) *IdleTimeoutTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &IdleTimeoutTransport{base: base, timeout: timeout}
}

// RoundTrip implements http.RoundTripper
func (t *IdleTimeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || t.timeout <= 0 {
		return resp, err
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return resp, nil
	}
	resp.Body = newIdleTimeoutBody(resp.Body, t.timeout)
	return resp, nil
}

type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		_ = b.rc.Close()
	})
	b.timer.Stop()
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.expired.Load() {
		return 0, ErrReadIdleTimeout
	}
	b.timer.Reset(b.timeout)
	n, err := b.rc.Read(p)
	b.timer.Stop()
	if err != nil && b.expired.Load() {
		return n, ErrReadIdleTimeout
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	var err error
	b.once.Do(func() {
		b.timer.Stop()
		err = b.rc.Close()
	})
	return err
}

// LoggingTransport logs each downstream HTTP exchange at debug level
type LoggingTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

// NewLoggingTransport creates a new logging HTTP transport
func NewLoggingTransport(base http.RoundTripper, logger *zap.Logger) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{
		base:   base,
		logger: logger.Named("http-trace"),
	}
}

// RoundTrip implements http.RoundTripper
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.logger.Debug("HTTP request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}

	t.logger.Debug("HTTP response",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Duration("duration", duration))
	return resp, nil
}
