// panic_recovery.go: panic recovery utilities with stack trace support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"runtime"
)

// RecoveryHandler defines the signature for panic recovery handlers.
type RecoveryHandler func(recovered interface{}, stack []byte)

// withStackRecover returns a panic recovery function that logs panic
// details including the full stack trace. Event handlers and watcher
// callbacks run user code on runtime goroutines; a panic there must not
// take the host application down.
//
// The returned function must be called with defer:
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // potentially panicking code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// withCustomRecoveryHandler returns a panic recovery function that hands
// the recovered value and stack to a custom handler.
func withCustomRecoveryHandler(handler RecoveryHandler) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			handler(r, buf[:n])
		}
	}
}

// SafeGo executes a function in a new goroutine with automatic panic
// recovery. A panicking function is logged and the goroutine exits without
// crashing the application.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// SafeGoWithHandler executes a function in a new goroutine with custom
// panic recovery.
func SafeGoWithHandler(handler RecoveryHandler, fn func()) {
	go func() {
		defer withCustomRecoveryHandler(handler)()
		fn()
	}()
}

// MetricsRecoveryHandler creates a recovery handler that counts recovered
// panics in the runtime metrics before logging them, tagged with the
// component the panic escaped from.
func MetricsRecoveryHandler(logger Logger, metrics *RuntimeMetrics, component string) RecoveryHandler {
	return func(recovered interface{}, stack []byte) {
		if metrics != nil {
			metrics.PanicsRecovered.Add(1)
		}
		logger.Error("Panic recovered",
			"panic", recovered,
			"component", component,
			"stack", string(stack))
	}
}

// runGuarded invokes fn synchronously and converts a panic into a
// structured error carrying the recovered value. The loader runs plugin
// entry points and Init hooks through this guard so a panicking plugin
// fails its own load instead of crashing the host.
func runGuarded(logger Logger, component string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered during plugin operation",
				"panic", r,
				"component", component,
				"stack", string(buf[:n]))
			err = NewPanicRecoveredError(component, r)
		}
	}()
	return fn()
}
