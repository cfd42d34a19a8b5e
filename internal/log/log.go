package log

import (
	"log/slog"
	"os"
)

var logger *slog.Logger

// Setup initializes the global logger. When verbose is true, debug
// messages are emitted as well.
func Setup(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func get() *slog.Logger {
	if logger == nil {
		Setup(false)
	}
	return logger
}

// Debug logs a debug message with key-value pairs
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info logs an informational message with key-value pairs
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn logs a warning message with key-value pairs
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error logs an error message with key-value pairs
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}
