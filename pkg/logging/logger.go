// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/shared-redis/pkg/config"
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

// ConfigFrom derives the logger configuration from the store configuration.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.LogLevel != "" {
		out.Level = LogLevel(cfg.LogLevel)
	}
	out.Pretty = cfg.LogPretty
	return out
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
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

// Log Level Guidelines:
//
// Debug: per-call detail
//   - Cache hit/miss, key, TTL
//   - Set/delete results
//   - Pub/sub publish and receive
//
// Info: lifecycle events
//   - Connection established
//   - Pattern clears with their counts
//   - Server startup/shutdown
//
// Warn: degraded operation
//   - Store unreachable, cache skipped
//   - Connection errors swallowed by the cache manager
//
// Error: needs attention
//   - Store rejected a command
//   - Corrupt cache entries
//   - Configuration errors
//
// Context Fields:
//   - key: cache or data key
//   - pattern: glob passed to a pattern clear
//   - channel: pub/sub channel
//   - ttl: entry lifetime
//   - deleted: number of removed keys
//   - addr: redacted store address
