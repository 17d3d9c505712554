// events.go: runtime lifecycle events and asynchronous handler dispatch
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// Event types emitted by the runtime.
const (
	EventPluginDiscovered    = "plugin_discovered"
	EventPluginQueued        = "plugin_queued"
	EventPluginLoading       = "plugin_loading"
	EventPluginLoaded        = "plugin_loaded"
	EventPluginLoadFailed    = "plugin_load_failed"
	EventPluginUnloaded      = "plugin_unloaded"
	EventResolutionCompleted = "resolution_completed"
	EventResolutionFailed    = "resolution_failed"
	EventManifestChanged     = "manifest_changed"
	EventIntegrityRejected   = "integrity_rejected"
)

// RuntimeEvent notifies handlers about plugin lifecycle progress.
//
// Events are emitted asynchronously: handlers run on their own goroutines
// with panic containment and must not assume ordering relative to the
// operation that produced the event. Fields beyond Type and Timestamp are
// populated when they apply to the event type.
type RuntimeEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Plugin    string                 `json:"plugin,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Path      string                 `json:"path,omitempty"`
	State     NodeState              `json:"state,omitempty"`
	Err       error                  `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RuntimeEventHandler handles runtime events for real-time notifications.
type RuntimeEventHandler func(event RuntimeEvent)

// eventDispatcher fans events out to registered handlers. Every component
// that emits events (discovery, loader, watcher, runtime) shares one
// dispatcher so handlers see a single coherent stream.
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers []RuntimeEventHandler
	logger   Logger
	metrics  *RuntimeMetrics
}

func newEventDispatcher(logger Logger, metrics *RuntimeMetrics) *eventDispatcher {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &eventDispatcher{logger: logger, metrics: metrics}
}

// addHandler registers a handler for all subsequent events.
func (d *eventDispatcher) addHandler(handler RuntimeEventHandler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// emit stamps the event and delivers it to every handler on its own
// goroutine. Handler panics are contained and counted.
func (d *eventDispatcher) emit(event RuntimeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = timecache.CachedTime()
	}

	d.mu.RLock()
	handlers := make([]RuntimeEventHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, handler := range handlers {
		h := handler
		SafeGoWithHandler(MetricsRecoveryHandler(d.logger, d.metrics, "event_handler"), func() {
			h(event)
		})
	}
}
