// watcher.go: manifest change watching built on Argus
//
// The manifest watcher keeps an eye on the discovery search paths and every
// known manifest file. Changes emit a manifest-changed event and schedule a
// debounced rescan through the discovery engine. Rescans only produce fresh
// descriptors for the caller to merge; a resolution that already happened
// is never mutated, so changes take effect on the next resolve.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

const (
	defaultDebounce        = 500 * time.Millisecond
	defaultMaxWatchedFiles = 256
)

// WatcherConfig tunes the manifest watcher.
type WatcherConfig struct {
	// PollInterval is how often watched paths are checked. Zero means
	// 2 seconds.
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`

	// Debounce coalesces change bursts into one rescan. Zero means
	// 500 milliseconds.
	Debounce time.Duration `json:"debounce,omitempty" yaml:"debounce,omitempty"`

	// RescanInterval runs a full rescan on a fixed period even without
	// change events, catching manifests dropped into directories the
	// watcher could not register. Zero disables periodic rescans.
	RescanInterval time.Duration `json:"rescan_interval,omitempty" yaml:"rescan_interval,omitempty"`

	// MaxWatchedFiles caps how many paths are registered with the
	// watcher. Zero means 256.
	MaxWatchedFiles int `json:"max_watched_files,omitempty" yaml:"max_watched_files,omitempty"`
}

// withDefaults fills unset fields with their documented defaults.
func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultWatchPollInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.MaxWatchedFiles <= 0 {
		c.MaxWatchedFiles = defaultMaxWatchedFiles
	}
	return c
}

// RescanHandler receives the fresh descriptor list after a watcher-driven
// rescan.
type RescanHandler func(descriptors []*PluginDescriptor)

// ManifestWatcher watches manifest files and search directories for
// changes.
//
// Directory watching catches newly dropped manifests; file watching
// catches edits and deletions of known ones. Every change schedules one
// debounced rescan. The watcher never alters runtime state itself: the
// rescan handler decides what to do with the fresh descriptors.
type ManifestWatcher struct {
	engine *DiscoveryEngine
	config WatcherConfig
	logger Logger

	mu       sync.Mutex
	watcher  *argus.Watcher
	watched  map[string]struct{}
	events   *eventDispatcher
	onRescan RescanHandler

	enabled atomic.Bool
	stopped atomic.Bool
	stopMu  sync.Mutex

	kick chan struct{}
	done chan struct{}
}

// NewManifestWatcher creates a watcher over the given discovery engine. A
// nil logger is replaced with a silent one.
func NewManifestWatcher(engine *DiscoveryEngine, config WatcherConfig, logger Logger) *ManifestWatcher {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ManifestWatcher{
		engine:  engine,
		config:  config.withDefaults(),
		logger:  logger,
		watched: make(map[string]struct{}),
		events:  newEventDispatcher(logger, nil),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetRescanHandler installs the callback invoked with fresh descriptors
// after each watcher-driven rescan. Must be called before Start.
func (w *ManifestWatcher) SetRescanHandler(handler RescanHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRescan = handler
}

// AddEventHandler registers a handler for manifest change events.
func (w *ManifestWatcher) AddEventHandler(handler RuntimeEventHandler) {
	w.events.addHandler(handler)
}

// setDispatcher shares the runtime's event dispatcher.
func (w *ManifestWatcher) setDispatcher(events *eventDispatcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = events
}

// IsRunning reports whether the watcher is active.
func (w *ManifestWatcher) IsRunning() bool {
	return w.enabled.Load() && !w.stopped.Load()
}

// Start registers the search paths and known manifests with Argus and
// begins watching.
func (w *ManifestWatcher) Start() error {
	if !w.enabled.CompareAndSwap(false, true) {
		return NewWatcherError("manifest watcher already started", nil)
	}

	argusConfig := argus.Config{
		PollInterval:         w.config.PollInterval,
		CacheTTL:             w.config.PollInterval / 2,
		MaxWatchedFiles:      w.config.MaxWatchedFiles,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			w.logger.Error("Manifest watching error", "error", err, "path", path)
		},
	}

	watcher := argus.New(argusConfig)

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	for _, searchPath := range w.engine.config.SearchPaths {
		absPath, err := filepath.Abs(searchPath)
		if err != nil {
			continue
		}
		if err := w.watchPath(absPath); err != nil {
			w.enabled.Store(false)
			return err
		}
	}
	for _, descriptor := range w.engine.LastDiscovered() {
		if err := w.watchPath(descriptor.ManifestPath()); err != nil {
			w.logger.Warn("Could not watch manifest", "path", descriptor.ManifestPath(), "error", err)
		}
	}

	SafeGo(w.logger, w.rescanLoop)

	if err := watcher.Start(); err != nil {
		w.enabled.Store(false)
		close(w.done)
		return NewWatcherError("failed to start manifest watcher", err)
	}

	w.logger.Info("Manifest watcher started",
		"paths", len(w.watched),
		"poll_interval", w.config.PollInterval,
		"debounce", w.config.Debounce)
	return nil
}

// Stop halts watching. Safe to call more than once.
func (w *ManifestWatcher) Stop() error {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()

	if !w.enabled.Load() || w.stopped.Load() {
		return nil
	}
	w.stopped.Store(true)
	close(w.done)

	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			return NewWatcherError("failed to stop manifest watcher", err)
		}
	}
	w.logger.Info("Manifest watcher stopped")
	return nil
}

// watchPath registers one path with the watcher, deduplicating and
// enforcing the watch cap.
func (w *ManifestWatcher) watchPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[path]; ok {
		return nil
	}
	if len(w.watched) >= w.config.MaxWatchedFiles {
		w.logger.Warn("Watch limit reached, not watching path", "path", path, "limit", w.config.MaxWatchedFiles)
		return nil
	}
	if err := w.watcher.Watch(path, w.handleChange); err != nil {
		return NewWatcherError("failed to watch "+path, err)
	}
	w.watched[path] = struct{}{}
	return nil
}

// handleChange reacts to one Argus change event: emit, then schedule a
// debounced rescan.
func (w *ManifestWatcher) handleChange(event argus.ChangeEvent) {
	w.logger.Debug("Manifest change detected",
		"path", event.Path,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete,
		"is_modify", event.IsModify)

	w.mu.Lock()
	events := w.events
	w.mu.Unlock()
	events.emit(RuntimeEvent{
		Type: EventManifestChanged,
		Path: event.Path,
		Metadata: map[string]interface{}{
			"is_create": event.IsCreate,
			"is_delete": event.IsDelete,
			"is_modify": event.IsModify,
		},
	})

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// rescanLoop coalesces change bursts and runs rescans. A nil tick channel
// blocks forever, so the periodic case is inert when no interval is set.
func (w *ManifestWatcher) rescanLoop() {
	var timer *time.Timer
	var fire <-chan time.Time

	var tick <-chan time.Time
	if w.config.RescanInterval > 0 {
		ticker := time.NewTicker(w.config.RescanInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.kick:
			if fire == nil {
				timer = time.NewTimer(w.config.Debounce)
				fire = timer.C
			}
		case <-fire:
			timer = nil
			fire = nil
			w.rescan()
		case <-tick:
			w.rescan()
		}
	}
}

// rescan runs one discovery pass and hands the result to the rescan
// handler. New manifest files join the watch set.
func (w *ManifestWatcher) rescan() {
	descriptors, err := w.engine.Discover(context.Background())
	if err != nil {
		w.logger.Error("Watcher rescan failed", "error", err)
		return
	}

	for _, descriptor := range descriptors {
		if err := w.watchPath(descriptor.ManifestPath()); err != nil {
			w.logger.Warn("Could not watch manifest", "path", descriptor.ManifestPath(), "error", err)
		}
	}

	w.mu.Lock()
	handler := w.onRescan
	w.mu.Unlock()
	if handler != nil {
		handler(descriptors)
	}
}
