// loader.go: ordered plugin loading and reverse-order teardown
//
// The loader walks a resolution's load order and brings each plugin up in
// turn: integrity check, module open, entry lookup, instantiation,
// interface and version verification, initialization, instance
// assignment. Loading is fail-fast without rollback: the first failure
// stops the pass, already-loaded plugins stay loaded and the remainder
// stays queued.
//
// Teardown runs in exact reverse load order so every plugin can still
// reach its dependencies while shutting down.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/agilira/go-timecache"
)

// LoadReport summarizes one load pass.
//
// Fields:
//   - Loaded: plugin names that loaded successfully, in load order
//   - Failed: the plugin that stopped the pass, empty on success
//   - Skipped: plugins after the failure that were never attempted
//   - Err: the failure that stopped the pass, nil on success
//   - Duration: wall time of the whole pass
type LoadReport struct {
	Loaded   []string      `json:"loaded"`
	Failed   string        `json:"failed,omitempty"`
	Skipped  []string      `json:"skipped,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the whole pass completed without failure.
func (r *LoadReport) Success() bool { return r.Err == nil }

// loadedModule tracks one successfully loaded plugin for teardown.
type loadedModule struct {
	name   string
	node   *PluginNode
	handle ModuleHandle
}

// PluginLoader loads resolved plugins through a module host.
//
// A loader is bound to one host. It keeps the load order of everything it
// loaded so UnloadAll can tear down in exact reverse. The loader is safe
// for concurrent use, though load passes themselves are sequential by
// design: initialization order is part of the contract.
//
// Example:
//
//	loader := NewPluginLoader(NewNativeHost(logger), logger)
//	report, err := loader.LoadAll(ctx, resolution)
type PluginLoader struct {
	host   ModuleHost
	logger Logger

	mu        sync.RWMutex
	integrity *IntegrityValidator
	metrics   *RuntimeMetrics
	events    *eventDispatcher
	loaded    []loadedModule
}

// NewPluginLoader creates a loader bound to the given module host. A nil
// logger is replaced with a silent one.
func NewPluginLoader(host ModuleHost, logger Logger) *PluginLoader {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &PluginLoader{
		host:   host,
		logger: logger,
		events: newEventDispatcher(logger, nil),
	}
}

// SetIntegrityValidator attaches an integrity validator consulted before
// every module open.
func (l *PluginLoader) SetIntegrityValidator(validator *IntegrityValidator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.integrity = validator
}

// AddEventHandler registers a handler for load lifecycle events.
func (l *PluginLoader) AddEventHandler(handler RuntimeEventHandler) {
	l.events.addHandler(handler)
}

// setMetrics wires the runtime's metrics aggregate.
func (l *PluginLoader) setMetrics(metrics *RuntimeMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = metrics
}

// setDispatcher shares the runtime's event dispatcher.
func (l *PluginLoader) setDispatcher(events *eventDispatcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = events
}

// Host returns the module host the loader is bound to.
func (l *PluginLoader) Host() ModuleHost { return l.host }

// Loaded returns the names of successfully loaded plugins in load order.
func (l *PluginLoader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, len(l.loaded))
	for i, module := range l.loaded {
		names[i] = module.name
	}
	return names
}

// LoadAll loads every plugin in the resolution's load order.
//
// The pass is fail-fast: the first failure marks that plugin failed,
// leaves the remaining plugins queued, and returns. Plugins loaded before
// the failure are NOT rolled back; the caller decides whether to keep
// running degraded or shut down. The report is returned even on failure.
func (l *PluginLoader) LoadAll(ctx context.Context, resolution *Resolution) (*LoadReport, error) {
	if resolution == nil {
		report := &LoadReport{Err: NewRuntimeStateError("load requires a resolution")}
		return report, report.Err
	}

	started := timecache.CachedTime()
	order := resolution.LoadOrder()
	report := &LoadReport{Loaded: make([]string, 0, len(order))}

	l.logger.Info("Loading plugins", "count", len(order), "order", order)

	for i, name := range order {
		node := resolution.Node(name)
		if node == nil {
			report.Failed = name
			report.Skipped = append(report.Skipped, order[i+1:]...)
			report.Err = NewPluginNotFoundError(name)
			break
		}

		if err := l.loadOne(ctx, node, resolution); err != nil {
			report.Failed = name
			report.Skipped = append(report.Skipped, order[i+1:]...)
			report.Err = err
			break
		}
		report.Loaded = append(report.Loaded, name)
	}

	report.Duration = time.Since(started)

	if report.Err != nil {
		l.logger.Error("Load pass stopped",
			"failed", report.Failed,
			"loaded", len(report.Loaded),
			"skipped", len(report.Skipped),
			"error", report.Err)
		return report, report.Err
	}

	l.logger.Info("Load pass completed", "loaded", len(report.Loaded), "duration", report.Duration)
	return report, nil
}

// LoadAsync runs LoadAll on a dedicated goroutine and delivers the report
// on the returned channel. Load order is identical to the synchronous
// path; only the caller's goroutine is freed. The channel is buffered so
// the report is never lost when the caller stops waiting.
func (l *PluginLoader) LoadAsync(ctx context.Context, resolution *Resolution) <-chan *LoadReport {
	reports := make(chan *LoadReport, 1)
	SafeGoWithHandler(func(recovered any, stack []byte) {
		l.logger.Error("Panic recovered during async load", "panic", recovered)
		reports <- &LoadReport{Err: NewPanicRecoveredError("async_load", fmt.Sprintf("%v", recovered))}
	}, func() {
		report, _ := l.LoadAll(ctx, resolution)
		reports <- report
	})
	return reports
}

// loadOne brings a single plugin from queued to loaded, or to failed.
func (l *PluginLoader) loadOne(ctx context.Context, node *PluginNode, resolution *Resolution) error {
	descriptor := node.Descriptor()
	name := descriptor.Name()
	path := descriptor.ModulePath()

	if err := node.beginLoading(); err != nil {
		return err
	}
	l.emit(EventPluginLoading, node, nil)

	if err := ctx.Err(); err != nil {
		return l.fail(node, NewModuleLoadError(name, path, err))
	}

	if path == "" {
		return l.fail(node, NewModuleLoadError(name, path, nil).
			WithContext("reason", "descriptor has no module path"))
	}

	l.mu.RLock()
	integrity := l.integrity
	l.mu.RUnlock()
	if integrity != nil {
		if err := integrity.ValidateModule(name, descriptor.Version().String(), path); err != nil {
			return l.fail(node, err)
		}
	}

	handle, err := l.host.Open(ctx, path)
	if err != nil {
		return l.fail(node, err)
	}

	instance, err := l.instantiate(ctx, node, handle, resolution)
	if err != nil {
		l.closeHandle(handle, name)
		return l.fail(node, err)
	}

	if err := node.AssignInstance(instance); err != nil {
		l.closeInstance(instance, name)
		l.closeHandle(handle, name)
		return l.fail(node, err)
	}
	if err := node.markLoaded(); err != nil {
		return l.fail(node, err)
	}

	l.mu.Lock()
	l.loaded = append(l.loaded, loadedModule{name: name, node: node, handle: handle})
	metrics := l.metrics
	l.mu.Unlock()

	if metrics != nil {
		metrics.PluginsLoaded.Add(1)
		metrics.recordLoad()
	}
	l.emit(EventPluginLoaded, node, nil)
	l.logger.Info("Plugin loaded",
		"plugin", name,
		"version", node.LoadedVersion().String(),
		"module", path)
	return nil
}

// instantiate resolves the entry symbol, creates the instance, verifies
// identity and version, and initializes it. Entry and Init run behind
// panic containment.
func (l *PluginLoader) instantiate(ctx context.Context, node *PluginNode, handle ModuleHandle, resolution *Resolution) (Instance, error) {
	descriptor := node.Descriptor()
	name := descriptor.Name()
	path := descriptor.ModulePath()

	var entry EntryFunc
	err := runGuarded(l.logger, "module_entry", func() error {
		resolved, entryErr := handle.Entry()
		entry = resolved
		return entryErr
	})
	if err != nil {
		return nil, err
	}

	var instance Instance
	err = runGuarded(l.logger, "plugin_entry", func() error {
		created, entryErr := entry()
		instance = created
		return entryErr
	})
	if err != nil {
		return nil, NewModuleLoadError(name, path, err)
	}
	if instance == nil {
		return nil, NewInterfaceMismatchError(name, path, "entry returned a nil instance")
	}

	info := instance.Info()
	if info.Name != name {
		l.closeInstance(instance, name)
		return nil, NewInterfaceMismatchError(name, path,
			"module reports name "+info.Name)
	}

	reported, err := ParseVersion(info.Version)
	if err != nil {
		l.closeInstance(instance, name)
		return nil, NewInterfaceMismatchError(name, path,
			"module reports invalid version "+info.Version)
	}
	if min := node.MinVersion(); min != nil && reported.LessThan(min) {
		l.closeInstance(instance, name)
		return nil, NewVersionTooLowError(name, reported.String(), min.String()).
			WithContext("required_by", node.MinVersionBy())
	}

	err = runGuarded(l.logger, "plugin_init", func() error {
		return instance.Init(ctx, &resolutionResolver{resolution: resolution})
	})
	if err != nil {
		l.closeInstance(instance, name)
		return nil, NewModuleLoadError(name, path, err).
			WithContext("reason", "initialization failed")
	}
	return instance, nil
}

// fail records a load failure on the node, counts it and emits the event.
func (l *PluginLoader) fail(node *PluginNode, cause error) error {
	if err := node.markFailed(cause); err != nil {
		l.logger.Warn("Could not record failure state", "plugin", node.Name(), "error", err)
	}

	l.mu.RLock()
	metrics := l.metrics
	l.mu.RUnlock()
	if metrics != nil {
		metrics.LoadFailures.Add(1)
	}

	l.emit(EventPluginLoadFailed, node, cause)
	l.logger.Error("Plugin load failed", "plugin", node.Name(), "error", cause)
	return cause
}

// UnloadAll closes every loaded plugin in exact reverse load order.
//
// Close failures are logged and the teardown continues; the first error is
// returned after everything was attempted.
func (l *PluginLoader) UnloadAll(ctx context.Context) error {
	l.mu.Lock()
	modules := l.loaded
	l.loaded = nil
	metrics := l.metrics
	l.mu.Unlock()

	var firstErr error
	for i := len(modules) - 1; i >= 0; i-- {
		module := modules[i]
		if err := l.unloadOne(ctx, module); err != nil && firstErr == nil {
			firstErr = err
		}
		if metrics != nil {
			metrics.PluginsUnloaded.Add(1)
		}
	}
	return firstErr
}

// unloadOne closes one plugin instance and its module handle.
func (l *PluginLoader) unloadOne(ctx context.Context, module loadedModule) error {
	if err := ctx.Err(); err != nil {
		l.logger.Warn("Teardown deadline passed, closing without grace", "plugin", module.name)
	}

	var closeErr error
	instance, err := module.node.Instance()
	if err == nil {
		closeErr = runGuarded(l.logger, "plugin_close", instance.Close)
	}
	if handleErr := module.handle.Close(); handleErr != nil && closeErr == nil {
		closeErr = handleErr
	}

	l.emit(EventPluginUnloaded, module.node, closeErr)
	if closeErr != nil {
		l.logger.Error("Plugin close failed", "plugin", module.name, "error", closeErr)
		return closeErr
	}
	l.logger.Info("Plugin unloaded", "plugin", module.name)
	return nil
}

// closeInstance closes a half-constructed instance, containing panics.
func (l *PluginLoader) closeInstance(instance Instance, name string) {
	if err := runGuarded(l.logger, "plugin_close", instance.Close); err != nil {
		l.logger.Warn("Instance close failed during cleanup", "plugin", name, "error", err)
	}
}

// closeHandle closes a module handle, logging failures.
func (l *PluginLoader) closeHandle(handle ModuleHandle, name string) {
	if err := handle.Close(); err != nil {
		l.logger.Warn("Module handle close failed", "plugin", name, "error", err)
	}
}

// emit publishes one load lifecycle event.
func (l *PluginLoader) emit(eventType string, node *PluginNode, cause error) {
	l.mu.RLock()
	events := l.events
	l.mu.RUnlock()
	if events == nil {
		return
	}

	descriptor := node.Descriptor()
	events.emit(RuntimeEvent{
		Type:    eventType,
		Plugin:  descriptor.Name(),
		Version: descriptor.Version().String(),
		Path:    descriptor.ModulePath(),
		State:   node.State(),
		Err:     cause,
	})
}

// resolutionResolver exposes a resolution's loaded instances to plugin
// initialization. Dependencies appear earlier in the load order, so by the
// time a plugin initializes every dependency instance is already
// assigned.
type resolutionResolver struct {
	resolution *Resolution
}

// GetInstance returns a loaded plugin instance by name.
func (r *resolutionResolver) GetInstance(name string) (Instance, error) {
	node := r.resolution.Node(name)
	if node == nil {
		return nil, NewPluginNotFoundError(name)
	}
	return node.Instance()
}

// GetInstanceWithVersion returns a loaded instance only if its reported
// version satisfies the given minimum.
func (r *resolutionResolver) GetInstanceWithVersion(name string, min *semver.Version) (Instance, error) {
	node := r.resolution.Node(name)
	if node == nil {
		return nil, NewPluginNotFoundError(name)
	}
	instance, err := node.Instance()
	if err != nil {
		return nil, err
	}
	if !satisfiesMin(node.LoadedVersion(), min) {
		return nil, NewVersionTooLowError(name, versionString(node.LoadedVersion()), versionString(min))
	}
	return instance, nil
}
