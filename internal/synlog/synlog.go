// Package synlog provides structured logging for the Syn-OS core using log/slog.
package synlog

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar
	mu       sync.Mutex
)

// Init configures the global slog logger.
// level: "debug", "info", "warn", "error" (default: "info").
// logFile: optional path to a JSON log file (empty = console only).
func Init(level string, logFile string) {
	mu.Lock()
	defer mu.Unlock()

	levelVar.Set(parseLevel(level))

	var hs []slog.Handler

	// Console handler: text, stderr.
	hs = append(hs, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar}))

	// Optional JSON file handler.
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			hs = append(hs, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: &levelVar}))
		}
	}

	if len(hs) == 1 {
		slog.SetDefault(slog.New(hs[0]))
	} else {
		slog.SetDefault(slog.New(&teeHandler{handlers: hs}))
	}
}

// For returns a logger tagged with the given subsystem name.
func For(subsystem string) *slog.Logger {
	return slog.Default().With("subsystem", subsystem)
}

// SetLevel changes the log level dynamically.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

// Level returns the current log level string.
func Level() string {
	l := levelVar.Level()
	switch {
	case l <= slog.LevelDebug:
		return "debug"
	case l <= slog.LevelInfo:
		return "info"
	case l <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

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

// teeHandler fans out log records to multiple handlers.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: hs}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: hs}
}

var _ slog.Handler = (*teeHandler)(nil)
