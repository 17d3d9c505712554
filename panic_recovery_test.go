// panic_recovery_test.go: panic recovery tests with logging and custom handlers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithStackRecover(t *testing.T) {
	t.Run("RecoversPanicWithStackTrace", func(t *testing.T) {
		logger := NewTestLogger()

		func() {
			defer withStackRecover(logger)()
			panic("test panic message")
		}()

		if len(logger.Messages) != 1 {
			t.Fatalf("expected 1 log message, got %d", len(logger.Messages))
		}
		logMsg := logger.Messages[0]
		if logMsg.Level != "ERROR" {
			t.Errorf("expected ERROR level, got %s", logMsg.Level)
		}
		if logMsg.Message != "Panic recovered in goroutine" {
			t.Errorf("unexpected message %q", logMsg.Message)
		}

		var panicValue interface{}
		var stackTrace string
		for i := 0; i+1 < len(logMsg.Args); i += 2 {
			key, ok := logMsg.Args[i].(string)
			if !ok {
				continue
			}
			switch key {
			case "panic":
				panicValue = logMsg.Args[i+1]
			case "stack":
				stackTrace, _ = logMsg.Args[i+1].(string)
			}
		}
		if panicValue != "test panic message" {
			t.Errorf("expected the panic value, got %v", panicValue)
		}
		if !strings.Contains(stackTrace, "TestWithStackRecover") {
			t.Error("expected the stack trace to name the panicking function")
		}
	})

	t.Run("NoPanicNoLogging", func(t *testing.T) {
		logger := NewTestLogger()
		func() {
			defer withStackRecover(logger)()
		}()
		if len(logger.Messages) != 0 {
			t.Errorf("expected no log messages, got %d", len(logger.Messages))
		}
	})
}

func TestSafeGo(t *testing.T) {
	t.Run("RunsFunction", func(t *testing.T) {
		var ran atomic.Bool
		SafeGo(NewTestLogger(), func() { ran.Store(true) })

		if !waitFor(t, time.Second, ran.Load) {
			t.Fatal("expected the function to run")
		}
	})

	t.Run("ContainsPanic", func(t *testing.T) {
		logger := NewTestLogger()
		SafeGo(logger, func() { panic("goroutine exploded") })

		if !waitFor(t, time.Second, func() bool {
			return logger.HasMessage("ERROR", "Panic recovered in goroutine")
		}) {
			t.Fatal("expected the panic to be recovered and logged")
		}
	})
}

func TestSafeGoWithHandler(t *testing.T) {
	type recovery struct {
		value interface{}
		stack string
	}
	captured := make(chan recovery, 1)

	SafeGoWithHandler(func(recovered interface{}, stack []byte) {
		captured <- recovery{value: recovered, stack: string(stack)}
	}, func() {
		panic(fmt.Errorf("handler test"))
	})

	select {
	case got := <-captured:
		err, ok := got.value.(error)
		if !ok || err.Error() != "handler test" {
			t.Errorf("expected the panic value, got %v", got.value)
		}
		if got.stack == "" {
			t.Error("expected a stack trace")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the custom handler to run")
	}
}

func TestMetricsRecoveryHandler(t *testing.T) {
	t.Run("CountsAndLogs", func(t *testing.T) {
		logger := NewTestLogger()
		metrics := &RuntimeMetrics{}
		handler := MetricsRecoveryHandler(logger, metrics, "event_handler")

		handler("boom", []byte("stack"))

		if metrics.PanicsRecovered.Load() != 1 {
			t.Errorf("expected 1 recovered panic, got %d", metrics.PanicsRecovered.Load())
		}
		if !logger.HasMessage("ERROR", "Panic recovered") {
			t.Error("expected the panic to be logged")
		}
	})

	t.Run("NilMetricsTolerated", func(t *testing.T) {
		handler := MetricsRecoveryHandler(NewTestLogger(), nil, "watcher")
		handler("boom", nil)
	})
}

func TestRunGuarded(t *testing.T) {
	t.Run("PassesThroughResults", func(t *testing.T) {
		if err := runGuarded(NewTestLogger(), "plugin_entry", func() error { return nil }); err != nil {
			t.Errorf("expected nil, got %v", err)
		}

		expected := fmt.Errorf("plain failure")
		err := runGuarded(NewTestLogger(), "plugin_entry", func() error { return expected })
		if err != expected {
			t.Errorf("expected the function's own error, got %v", err)
		}
	})

	t.Run("ConvertsPanicToError", func(t *testing.T) {
		logger := NewTestLogger()
		err := runGuarded(logger, "plugin_init", func() error { panic("init exploded") })

		structured := assertErrorCode(t, err, ErrCodePanicRecovered)
		if structured.Context["component"] != "plugin_init" {
			t.Errorf("expected component in context, got %v", structured.Context)
		}
		if structured.Context["panic_value"] != "init exploded" {
			t.Errorf("expected panic value in context, got %v", structured.Context)
		}
		if !logger.HasMessage("ERROR", "Panic recovered during plugin operation") {
			t.Error("expected the panic to be logged")
		}
	})
}
