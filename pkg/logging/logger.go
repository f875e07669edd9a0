// Package logging configures structured logging with zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs per-request flow, cache hits and page walks.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs lifecycle events such as project load and selection.
	LevelInfo LogLevel = "info"

	// LevelWarn logs non-fatal failures.
	LevelWarn LogLevel = "warn"

	// LevelError logs fatal flow errors only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
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

// ParseLogLevel validates a configured level name.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// Setup configures the global zerolog logger and returns it. Loggers created
// with NewLogger after Setup inherit its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

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

// NewLogger creates a logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug:
//   - Request flow, cache hits, conditional requests
//   - Page fetched / walk finished
//   - Stale responses dropped by a guard
//
// Info:
//   - Project loaded, document selected
//   - Meta annotation saved
//   - Server startup/shutdown
//
// Warn:
//   - Network errors during enrichment (fields stay blank)
//   - Partially loaded document list
//   - Throttling after a 429
//
// Error:
//   - Project not found
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package
//   - endpoint, status, error_class: REST call details
//   - project_id, document_id, entity_id, cui: selection
//   - walker, pages, exhausted: pagination
