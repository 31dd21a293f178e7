// Package logging builds the process slog logger from the log_level and
// log_format config keys.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger returns the root logger. Format "json" emits one JSON object
// per line with source locations; anything else gets the text handler.
func InitLogger(level slog.Level, format string) *slog.Logger {
	return slog.New(newHandler(os.Stdout, level, format))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewComponentLogger tags every record with the engine component it came
// from, matching the component loggers the packages build for themselves.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(slog.String("component", component))
}
