// Package config loads the immutable process configuration from environment
// variables. Flag parsing and help output live in the cmd layer; everything
// below it consumes the decoded ServerConfig value.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Transport selects the channel implementation the server binds at startup.
type Transport string

const (
	// TransportStdio serves a single client over stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportSSE serves multiple clients over HTTP with server-sent events.
	TransportSSE Transport = "sse"
)

// ServerConfig is the process configuration. It is immutable after Load.
type ServerConfig struct {
	// DruidURL is the base URL of the Druid router or broker.
	DruidURL string `env:"DRUID_URL,default=http://localhost:8888"`

	// DruidUsername and DruidPassword enable HTTP basic auth against the
	// upstream when both are set.
	DruidUsername string `env:"DRUID_USERNAME"`
	DruidPassword string `env:"DRUID_PASSWORD"`

	// RequestTimeoutMS bounds each upstream call.
	RequestTimeoutMS int `env:"DRUID_TIMEOUT_MS,default=30000"`

	// TransportKind selects stdio or sse.
	TransportKind Transport `env:"MCP_TRANSPORT,default=stdio"`

	// Port is the HTTP listen port for the sse transport.
	Port int `env:"MCP_PORT,default=8080"`
}

// Load decodes the configuration from the environment and validates it.
func Load() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *ServerConfig) Validate() error {
	if c.DruidURL == "" {
		return fmt.Errorf("DRUID_URL must not be empty")
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("DRUID_TIMEOUT_MS must be positive, got %d", c.RequestTimeoutMS)
	}
	switch c.TransportKind {
	case TransportStdio, TransportSSE:
	default:
		return fmt.Errorf("MCP_TRANSPORT must be %q or %q, got %q", TransportStdio, TransportSSE, c.TransportKind)
	}
	if c.TransportKind == TransportSSE && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("MCP_PORT out of range: %d", c.Port)
	}
	if (c.DruidUsername == "") != (c.DruidPassword == "") {
		return fmt.Errorf("DRUID_USERNAME and DRUID_PASSWORD must be set together")
	}
	return nil
}

// RequestTimeout returns the per-call upstream timeout as a duration.
func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
