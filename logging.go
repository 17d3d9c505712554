// logging.go: pluggable logging for the loading runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"sync"
)

// loggerContextKey is a custom type for context keys to avoid collisions
type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// Logger is the pluggable logging interface used throughout the runtime.
//
// The interface is deliberately small and slog-shaped so any structured
// logging framework (slog, zap, zerolog, custom loggers) can back it with a
// thin adapter and no extra dependencies on this module's side.
//
// Arguments are alternating key-value pairs:
//
//	logger.Info("plugin loaded", "plugin", name, "version", version)
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a logger that includes the given key-value pairs in
	// every subsequent log call
	With(args ...any) Logger
}

// NewLogger normalizes user-supplied loggers.
//
// Accepted inputs:
//   - Logger implementation: used directly
//   - nil: silent operation via NoOpLogger
//
// Anything else panics: silently swallowing an incompatible logger would
// hide every message the runtime ever produces.
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case nil:
		return NewNoOpLogger()
	default:
		panic("goloader: unsupported logger type, expected Logger interface or nil")
	}
}

// NoOpLogger discards all messages. It backs silent operation when the host
// application supplies no logger.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger (no-op, stateless)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// TestLogger captures log messages so tests can assert on them.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage is a single captured log record.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates an empty capturing logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{Messages: make([]TestLogMessage, 0)}
}

func (t *TestLogger) capture(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: args})
}

// Debug implements Logger (captures the message)
func (t *TestLogger) Debug(msg string, args ...any) { t.capture("DEBUG", msg, args) }

// Info implements Logger (captures the message)
func (t *TestLogger) Info(msg string, args ...any) { t.capture("INFO", msg, args) }

// Warn implements Logger (captures the message)
func (t *TestLogger) Warn(msg string, args ...any) { t.capture("WARN", msg, args) }

// Error implements Logger (captures the message)
func (t *TestLogger) Error(msg string, args ...any) { t.capture("ERROR", msg, args) }

// With implements Logger. Context chaining is not needed for assertions, so
// the receiver keeps capturing.
func (t *TestLogger) With(args ...any) Logger {
	return t
}

// HasMessage reports whether a message with the exact level and text was
// captured.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// DefaultLogger returns the logger used when none is configured. It is
// silent; host applications own their logging setup.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// LoggerFromContext extracts a logger from the context, falling back to
// DefaultLogger when none was attached.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// ContextWithLogger attaches a logger to the context for propagation across
// API boundaries.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
