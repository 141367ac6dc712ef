// Package logger provides structured logging setup for the task executor.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/taskforge/internal/config"
)

// asyncChanSize and asyncWorkers size the buffered handler installed when
// Logging.Async is set; the hot paths in the executor (subtask execution,
// group wait loop) log at high frequency and shouldn't block on stdout I/O.
const (
	asyncChanSize = 1024
	asyncWorkers  = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record. When
// cfg.Async is set, records are handed off to a buffered AsyncHandler instead
// of written inline; the returned Closer must be closed to drain it on
// shutdown. Closer is a nopCloser when running synchronously.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncChanSize, asyncWorkers)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
