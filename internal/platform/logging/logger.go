package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/pscheid92/linecast/internal/platform/correlation"
)

// InitLogger initializes the global logger with the specified level, format and output.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
// output: "stdout" or "stderr" (defaults to "stderr"; stdout is reserved for console payload lines)
func InitLogger(level, format, output string) {
	var w io.Writer = os.Stderr
	if output == "stdout" {
		w = os.Stdout
	}
	slog.SetDefault(New(w, level, format))
}

// New builds a logger writing to w without touching the slog default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(correlation.NewHandler(handler))
}

// ParseLevel maps a level name onto slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
