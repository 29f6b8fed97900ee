package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/richardwooding/nv2a/internal/logger"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// newLogHandler returns a text handler for "text", a JSON handler for "json"
// and for "auto" whichever fits w.
func newLogHandler(w io.Writer, level, format string, terminal bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: logLevels[level]}

	if format == "text" || (format == "auto" && terminal) {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func setupLogging(f *os.File, level, format string) {
	terminal := term.IsTerminal(int(f.Fd())) // #nosec G115 - file descriptors fit in int
	logger.SetLogger(slog.New(newLogHandler(f, level, format, terminal)))
}
