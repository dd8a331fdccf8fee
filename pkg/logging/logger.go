// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a pointer to a disabled logger, suitable for Config.Logger
// fields in tests.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Gate waits and token grants
//   - Each page fetch (url, page number)
//   - Ledger snapshots published to Redis
//
// Info: Normal operation events
//   - Limiter and client creation
//   - Eager fetch progress and completion
//   - CLI startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - API warnings carried on a page
//   - Pages that report has_more without a next_page link
//   - Snapshot publish failures
//   - Eager fetch aborted (error is returned to the caller)
//
// Error: Error conditions requiring attention
//   - A later page failed and a lazy stream ended early
//   - Configuration errors
//
// Context Fields:
//   - component: ratelimit, gated-client, pagination, pagefetch
//   - url: Request or page URL
//   - page: 1-based page number
//   - status_code: HTTP status code
//   - duration: Request duration
//   - wait: Gate wait before a request
//   - strategy: none, simple, token_bucket, shared
//   - available: Token balance after a grant
