package streaminghttp

import (
	"log/slog"
	"time"
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger    *slog.Logger
	heartbeat time.Duration
}

// WithLogger sets the logger used by the handler. If not provided, logs are
// discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithHeartbeatInterval sets how often an SSE comment is written to a quiet
// stream to keep intermediaries from timing it out.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *newConfig) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}
