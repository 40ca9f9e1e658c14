package managed

import (
	"context"
	"math"
	"time"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

// Backoff describes the wait between failed connect attempts
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// BackoffFromConfig reads the backoff settings of a downstream config
func BackoffFromConfig(cfg *config.DownstreamConfig) Backoff {
	return Backoff{
		Initial:    config.Seconds(cfg.InitialBackoff),
		Max:        config.Seconds(cfg.MaxBackoff),
		Multiplier: cfg.BackoffMultiplier,
	}
}

// Delay returns the wait after the n-th consecutive failure (zero-based):
// Initial * Multiplier^n, capped at Max.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(b.Initial) * math.Pow(multiplier, float64(n))
	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 0)) {
		return b.Max
	}
	return time.Duration(delay)
}

// Delays lists the first count delays
func (b Backoff) Delays(count int) []time.Duration {
	delays := make([]time.Duration, 0, count)
	for i := 0; i < count; i++ {
		delays = append(delays, b.Delay(i))
	}
	return delays
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
