// Package logging builds the slog loggers used across the pool.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler. Format is "text" or "json".
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// ParseLevel maps a config level name onto slog. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to opts.Output (stderr when nil).
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, ho)
	} else {
		h = slog.NewTextHandler(out, ho)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ForAgent scopes a logger to one agent incarnation.
func ForAgent(l *slog.Logger, name, incarnation string) *slog.Logger {
	return OrDiscard(l).With("agent", name, "incarnation", incarnation)
}
