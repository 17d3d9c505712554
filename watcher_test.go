// watcher_test.go: tests for manifest change watching and rescans
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agilira/argus"
)

// watcherFixture wires a watcher over a discovery engine scanning one
// temp directory.
type watcherFixture struct {
	dir     string
	engine  *DiscoveryEngine
	watcher *ManifestWatcher
	logger  *TestLogger
}

func newWatcherFixture(t *testing.T, config WatcherConfig) *watcherFixture {
	t.Helper()
	dir := t.TempDir()
	logger := NewTestLogger()
	engine := NewDiscoveryEngine(DiscoveryConfig{SearchPaths: []string{dir}}, logger)
	return &watcherFixture{
		dir:     dir,
		engine:  engine,
		watcher: NewManifestWatcher(engine, config, logger),
		logger:  logger,
	}
}

// watchedCount reads the watch set size.
func watchedCount(w *ManifestWatcher) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func TestManifestWatcher_Lifecycle(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{})

	if f.watcher.IsRunning() {
		t.Error("watcher must not run before Start")
	}
	if err := f.watcher.Stop(); err != nil {
		t.Errorf("Stop before Start must be a no-op, got %v", err)
	}

	if err := f.watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.watcher.IsRunning() {
		t.Error("watcher must report running after Start")
	}

	assertErrorCode(t, f.watcher.Start(), ErrCodeWatcherFailure)

	if err := f.watcher.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if f.watcher.IsRunning() {
		t.Error("watcher must not report running after Stop")
	}
	if err := f.watcher.Stop(); err != nil {
		t.Errorf("repeated Stop must be a no-op, got %v", err)
	}
}

func TestManifestWatcher_WatchesSearchPathsAndManifests(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{})
	writeManifestJSON(t, f.dir, "plugin.json", staticManifest("storage", "1.0.0"))

	// A completed discovery run makes the manifest known to the watcher.
	if _, err := f.engine.Discover(context.Background()); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if err := f.watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = f.watcher.Stop() }()

	// One search directory plus one known manifest file.
	if count := watchedCount(f.watcher); count != 2 {
		t.Errorf("expected 2 watched paths, got %d", count)
	}
}

func TestManifestWatcher_HandleChange(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{})
	collector := &eventCollector{}
	f.watcher.AddEventHandler(collector.handler())

	f.watcher.handleChange(argus.ChangeEvent{
		Path:     "/opt/plugins/storage/plugin.json",
		IsModify: true,
	})
	// A burst of changes must never block the watcher callback.
	f.watcher.handleChange(argus.ChangeEvent{
		Path:     "/opt/plugins/storage/plugin.json",
		IsDelete: true,
	})

	if !waitFor(t, time.Second, func() bool {
		return collector.count(EventManifestChanged) == 2
	}) {
		t.Fatalf("expected 2 change events, got %d", collector.count(EventManifestChanged))
	}

	event, _ := collector.firstOf(EventManifestChanged)
	if event.Path != "/opt/plugins/storage/plugin.json" {
		t.Errorf("unexpected event path %q", event.Path)
	}
	if event.Metadata["is_modify"] != true {
		t.Errorf("expected modify flag in metadata, got %v", event.Metadata)
	}
}

func TestManifestWatcher_RescanFlow(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{})
	writeManifestJSON(t, f.dir, "storage/plugin.json", staticManifest("storage", "1.0.0"))

	var mu sync.Mutex
	var rescans [][]string
	f.watcher.SetRescanHandler(func(descriptors []*PluginDescriptor) {
		names := make([]string, 0, len(descriptors))
		for _, descriptor := range descriptors {
			names = append(names, descriptor.Name())
		}
		mu.Lock()
		rescans = append(rescans, names)
		mu.Unlock()
	})

	if err := f.watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = f.watcher.Stop() }()

	f.watcher.rescan()

	mu.Lock()
	first := append([][]string(nil), rescans...)
	mu.Unlock()
	if len(first) != 1 || !equalStringSlices(first[0], []string{"storage"}) {
		t.Fatalf("expected one rescan with [storage], got %v", first)
	}

	// A manifest dropped in later joins both the results and the watch
	// set on the next rescan.
	before := watchedCount(f.watcher)
	writeManifestJSON(t, f.dir, "auth/plugin.json", staticManifest("auth", "2.0.0"))
	f.watcher.rescan()

	mu.Lock()
	second := rescans[len(rescans)-1]
	mu.Unlock()
	if !equalStringSlices(second, []string{"auth", "storage"}) && !equalStringSlices(second, []string{"storage", "auth"}) {
		t.Errorf("expected both plugins after rescan, got %v", second)
	}
	if watchedCount(f.watcher) != before+1 {
		t.Errorf("expected the new manifest to be watched, got %d -> %d", before, watchedCount(f.watcher))
	}
}

func TestManifestWatcher_DebouncedRescan(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{Debounce: 20 * time.Millisecond})
	writeManifestJSON(t, f.dir, "plugin.json", staticManifest("storage", "1.0.0"))

	var rescanCount int
	var mu sync.Mutex
	f.watcher.SetRescanHandler(func([]*PluginDescriptor) {
		mu.Lock()
		rescanCount++
		mu.Unlock()
	})

	if err := f.watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = f.watcher.Stop() }()

	// Three changes inside one debounce window coalesce into one rescan.
	for i := 0; i < 3; i++ {
		f.watcher.handleChange(argus.ChangeEvent{Path: "/x/plugin.json", IsModify: true})
	}

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return rescanCount >= 1
	}) {
		t.Fatal("expected a debounced rescan to fire")
	}

	mu.Lock()
	count := rescanCount
	mu.Unlock()
	if count != 1 {
		t.Errorf("expected exactly 1 coalesced rescan, got %d", count)
	}
}

func TestManifestWatcher_PeriodicRescan(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{RescanInterval: 20 * time.Millisecond})
	writeManifestJSON(t, f.dir, "plugin.json", staticManifest("storage", "1.0.0"))

	var rescanCount int
	var mu sync.Mutex
	f.watcher.SetRescanHandler(func([]*PluginDescriptor) {
		mu.Lock()
		rescanCount++
		mu.Unlock()
	})

	if err := f.watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = f.watcher.Stop() }()

	// No change events at all; the interval alone drives rescans.
	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return rescanCount >= 2
	}) {
		t.Fatal("expected periodic rescans to fire without change events")
	}
}

func TestManifestWatcher_WatchCap(t *testing.T) {
	f := newWatcherFixture(t, WatcherConfig{MaxWatchedFiles: 1})

	if err := f.watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = f.watcher.Stop() }()

	// The search path consumed the only slot.
	if err := f.watcher.watchPath(t.TempDir()); err != nil {
		t.Fatalf("watchPath over the cap must not fail, got %v", err)
	}
	if count := watchedCount(f.watcher); count != 1 {
		t.Errorf("expected the cap to hold at 1, got %d", count)
	}
	if !f.logger.HasMessage("WARN", "Watch limit reached, not watching path") {
		t.Error("expected a warning about the watch limit")
	}
}
