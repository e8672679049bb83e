package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures a logger. Zero values mean stderr at info level with no
// component attribute.
type Options struct {
	Level     string
	Writer    io.Writer
	Component string
}

// New builds a JSON slog logger. Component, when set, is attached to every
// record so the desktop shell's log viewer can filter by subsystem.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	lg := slog.New(h)
	if c := strings.TrimSpace(opts.Component); c != "" {
		lg = lg.With("component", c)
	}
	return lg
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
