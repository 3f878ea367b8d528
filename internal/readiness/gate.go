// Package readiness waits for a dependency to accept connections.
package readiness

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Defaults used by setup code when nothing else is configured.
const (
	DefaultMaxRetries = 10
	DefaultDelay      = 3 * time.Second
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitUntilReady pings p up to maxRetries times, sleeping delay between
// attempts, and reports whether any attempt succeeded. It gives up early when
// ctx is done.
func WaitUntilReady(ctx context.Context, p Pinger, maxRetries int, delay time.Duration, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := p.Ping(ctx)
		if err == nil {
			logger.Info("dependency ready", zap.Int("attempt", attempt))
			return true
		}
		logger.Warn("dependency not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		if attempt == maxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn("gave up waiting for dependency", zap.Error(ctx.Err()))
			return false
		case <-timer.C:
		}
	}

	logger.Error("dependency did not become ready", zap.Int("attempts", maxRetries))
	return false
}
