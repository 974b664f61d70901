package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a JSON logger on stdout tagged with component. The
// level comes from ORION_LOG_LEVEL and defaults to info.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component, ParseLevel(os.Getenv("ORION_LOG_LEVEL")))
}

// NewLoggerTo writes to w at level. Used by the CLIs (stderr) and tests.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// fall back to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
