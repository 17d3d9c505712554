// events_test.go: tests for asynchronous event dispatch
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"testing"
	"time"
)

func TestEventDispatcher_DeliversToAllHandlers(t *testing.T) {
	dispatcher := newEventDispatcher(NewTestLogger(), nil)

	first := &eventCollector{}
	second := &eventCollector{}
	dispatcher.addHandler(first.handler())
	dispatcher.addHandler(second.handler())

	dispatcher.emit(RuntimeEvent{Type: EventPluginLoaded, Plugin: "storage"})

	if !waitFor(t, time.Second, func() bool {
		return first.count(EventPluginLoaded) == 1 && second.count(EventPluginLoaded) == 1
	}) {
		t.Fatalf("expected both handlers to receive the event, got %d/%d",
			first.count(EventPluginLoaded), second.count(EventPluginLoaded))
	}
}

func TestEventDispatcher_StampsTimestamp(t *testing.T) {
	dispatcher := newEventDispatcher(NewTestLogger(), nil)
	collector := &eventCollector{}
	dispatcher.addHandler(collector.handler())

	preset := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dispatcher.emit(RuntimeEvent{Type: EventPluginQueued, Plugin: "auth"})
	dispatcher.emit(RuntimeEvent{Type: EventPluginLoading, Plugin: "auth", Timestamp: preset})

	if !waitFor(t, time.Second, func() bool {
		return collector.count(EventPluginQueued) == 1 && collector.count(EventPluginLoading) == 1
	}) {
		t.Fatal("expected both events delivered")
	}

	stamped, _ := collector.firstOf(EventPluginQueued)
	if stamped.Timestamp.IsZero() {
		t.Error("dispatcher must stamp events without a timestamp")
	}
	kept, _ := collector.firstOf(EventPluginLoading)
	if !kept.Timestamp.Equal(preset) {
		t.Errorf("dispatcher must keep a preset timestamp, got %v", kept.Timestamp)
	}
}

func TestEventDispatcher_HandlerPanicContained(t *testing.T) {
	logger := NewTestLogger()
	metrics := &RuntimeMetrics{}
	dispatcher := newEventDispatcher(logger, metrics)

	survivor := &eventCollector{}
	dispatcher.addHandler(func(RuntimeEvent) { panic("handler exploded") })
	dispatcher.addHandler(survivor.handler())

	dispatcher.emit(RuntimeEvent{Type: EventPluginLoadFailed, Plugin: "auth"})

	if !waitFor(t, time.Second, func() bool {
		return survivor.count(EventPluginLoadFailed) == 1 && metrics.PanicsRecovered.Load() == 1
	}) {
		t.Fatalf("expected delivery despite the panic, got events=%d panics=%d",
			survivor.count(EventPluginLoadFailed), metrics.PanicsRecovered.Load())
	}
	if !waitFor(t, time.Second, func() bool {
		return logger.HasMessage("ERROR", "Panic recovered")
	}) {
		t.Error("expected the handler panic to be logged")
	}
}

func TestEventDispatcher_NilHandlerIgnored(t *testing.T) {
	dispatcher := newEventDispatcher(NewTestLogger(), nil)
	dispatcher.addHandler(nil)

	collector := &eventCollector{}
	dispatcher.addHandler(collector.handler())
	dispatcher.emit(RuntimeEvent{Type: EventPluginDiscovered, Plugin: "storage"})

	if !waitFor(t, time.Second, func() bool {
		return collector.count(EventPluginDiscovered) == 1
	}) {
		t.Fatal("expected the real handler to receive the event")
	}
}
