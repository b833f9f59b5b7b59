package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured JSON logger for a component.
// Level comes from PNL_LOG_LEVEL; production default is info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, os.Getenv("PNL_LOG_LEVEL"))
}

// NewLoggerWithLevel creates a component logger at the given level.
// PNL_LOG_LEVEL still wins when set, so operators can turn up logging
// without touching configuration files.
func NewLoggerWithLevel(component, level string) zerolog.Logger {
	if env := os.Getenv("PNL_LOG_LEVEL"); env != "" {
		level = env
	}

	return zerolog.New(os.Stdout).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
