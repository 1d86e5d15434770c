// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	logger = newLogger(os.Stderr)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// SetDebug toggles debug-level output for every logger in the process.
func SetDebug(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Logger returns a child logger tagged with the given component name.
func Logger(component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// Warnf logs a formatted warning through the process logger.
func Warnf(format string, args ...interface{}) {
	logger.Warn().Msgf(format, args...)
}
