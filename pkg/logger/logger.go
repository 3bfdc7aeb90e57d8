package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Every line carries the service name so API
// and worker output can share a sink.
func New(level string, pretty bool, service string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()
}

// NewWithWriter builds a JSON logger on w, without caller or service fields.
func NewWithWriter(level string, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ConsistencyAlert starts an error event flagged for operators. Used when
// money and order state may have diverged and nothing will repair it automatically.
func ConsistencyAlert(log zerolog.Logger) *zerolog.Event {
	return log.Error().Bool("consistency_alert", true)
}

// ParseLevel maps a config level name to a zerolog level. Empty or unknown
// names fall back to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
