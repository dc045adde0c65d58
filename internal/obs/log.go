package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = newJSONLogger(os.Stdout, slog.LevelInfo)
)

func newJSONLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	if l != nil {
		logger = l
	}
	return prev
}

// NewLogger builds a JSON logger writing to w at the named level
// (debug, info, warn, error). Unknown names fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return newJSONLogger(w, ParseLevel(level))
}

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
