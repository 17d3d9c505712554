// runtime.go: plugin runtime orchestration
//
// The Runtime owns the whole plugin lifecycle: discovery fills the
// descriptor set, resolution builds the dependency graph and load order,
// the loader brings plugins up through the module host, and shutdown tears
// everything down in exact reverse load order. All components share one
// event dispatcher and one metrics aggregate.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
)

// Runtime drives plugin discovery, resolution, loading and teardown.
//
// A Runtime moves through a simple lifecycle: construct, Start (or the
// explicit Discover / Resolve / Load steps), serve instances, Shutdown.
// Loading is fail-fast without rollback, so after a partial failure the
// runtime keeps serving the plugins that did load; the caller chooses
// between running degraded and shutting down.
//
// Runtime implements InstanceResolver, so it can be handed directly to
// code that only needs instance lookup.
//
// Example:
//
//	runtime, err := goloader.NewRuntime(config, logger)
//	if err != nil {
//	    return err
//	}
//	if err := runtime.Start(ctx); err != nil {
//	    runtime.Shutdown(context.Background())
//	    return err
//	}
//	defer runtime.Shutdown(context.Background())
//
//	auth, err := runtime.GetInstance("auth")
type Runtime struct {
	config  RuntimeConfig
	logger  Logger
	metrics *RuntimeMetrics
	events  *eventDispatcher

	set       *DescriptorSet
	engine    *DiscoveryEngine
	integrity *IntegrityValidator
	loader    *PluginLoader
	watcher   *ManifestWatcher

	mu         sync.RWMutex
	resolution *Resolution
	report     *LoadReport

	started      atomic.Bool
	down         atomic.Bool
	shutdownOnce sync.Once
}

// NewRuntime creates a runtime from a normalized configuration.
//
// The logger accepts the same types as NewLogger: a Logger, *slog.Logger,
// or nil for silence. Construction validates the configuration and, when
// integrity enforcement is enabled, eagerly loads the integrity manifest
// so a broken deployment fails before any plugin is touched.
func NewRuntime(config RuntimeConfig, logger any) (*Runtime, error) {
	log := NewLogger(logger)

	config, err := config.Normalize()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	metrics := NewRuntimeMetrics()
	events := newEventDispatcher(log, metrics)

	engine := NewDiscoveryEngine(config.discoveryConfig(), log)
	engine.setDispatcher(events)
	engine.setMetrics(metrics)

	integrity, err := NewIntegrityValidator(config.Integrity, log)
	if err != nil {
		return nil, err
	}
	integrity.setDispatcher(events)
	integrity.setMetrics(metrics)

	loader := NewPluginLoader(NewNativeHost(log), log)
	loader.SetIntegrityValidator(integrity)
	loader.setDispatcher(events)
	loader.setMetrics(metrics)

	runtime := &Runtime{
		config:    config,
		logger:    log,
		metrics:   metrics,
		events:    events,
		set:       NewDescriptorSet(),
		engine:    engine,
		integrity: integrity,
		loader:    loader,
	}

	if config.WatchManifests {
		watcher := NewManifestWatcher(engine, WatcherConfig{
			PollInterval: config.WatchPollInterval.Duration(),
		}, log)
		watcher.setDispatcher(events)
		watcher.SetRescanHandler(func(descriptors []*PluginDescriptor) {
			added := runtime.mergeDescriptors(descriptors)
			if added > 0 {
				log.Info("Manifest rescan found new plugins", "added", added)
			}
		})
		runtime.watcher = watcher
	}

	return runtime, nil
}

// UseHost replaces the module host. Must be called before Start; the
// default host loads native shared objects.
func (rt *Runtime) UseHost(host ModuleHost) error {
	if host == nil {
		return NewRuntimeStateError("module host must not be nil")
	}
	if rt.started.Load() {
		return NewRuntimeStateError("module host cannot change after start")
	}

	loader := NewPluginLoader(host, rt.logger)
	loader.SetIntegrityValidator(rt.integrity)
	loader.setDispatcher(rt.events)
	loader.setMetrics(rt.metrics)

	rt.mu.Lock()
	rt.loader = loader
	rt.mu.Unlock()
	return nil
}

// AddEventHandler registers a handler for all runtime events.
func (rt *Runtime) AddEventHandler(handler RuntimeEventHandler) {
	rt.events.addHandler(handler)
}

// AddDescriptor registers a descriptor directly, bypassing filesystem
// discovery. Static and test setups use this.
func (rt *Runtime) AddDescriptor(descriptor *PluginDescriptor) error {
	if rt.down.Load() {
		return NewRuntimeStateError("runtime is shut down")
	}
	if err := rt.set.Add(descriptor); err != nil {
		return err
	}
	rt.events.emit(RuntimeEvent{
		Type:    EventPluginDiscovered,
		Plugin:  descriptor.Name(),
		Version: descriptor.Version().String(),
		Path:    descriptor.ModulePath(),
		State:   StateDiscovered,
	})
	return nil
}

// Discover scans the configured search paths and merges the found
// descriptors into the runtime's set. It returns how many descriptors were
// new.
func (rt *Runtime) Discover(ctx context.Context) (int, error) {
	if rt.down.Load() {
		return 0, NewRuntimeStateError("runtime is shut down")
	}

	descriptors, err := rt.engine.Discover(ctx)
	if err != nil {
		return 0, err
	}
	return rt.mergeDescriptors(descriptors), nil
}

// mergeDescriptors adds fresh descriptors to the set, skipping exact
// duplicates. Rescans re-produce everything already known, so duplicates
// are normal.
func (rt *Runtime) mergeDescriptors(descriptors []*PluginDescriptor) int {
	added := 0
	for _, descriptor := range descriptors {
		if err := rt.set.Add(descriptor); err != nil {
			rt.logger.Debug("Skipping already known descriptor",
				"plugin", descriptor.Name(),
				"version", descriptor.Version().String())
			continue
		}
		added++
	}
	return added
}

// Resolve builds the dependency graph and load order for the requested
// plugins. With no arguments the requests come from the configuration;
// with neither, every known plugin becomes a root.
//
// Resolution is repeatable until plugins have actually loaded. After that
// the graph is live and a new resolution requires a shutdown first.
func (rt *Runtime) Resolve(requests ...PluginRequest) (*Resolution, error) {
	if rt.down.Load() {
		return nil, NewRuntimeStateError("runtime is shut down")
	}
	if len(rt.loader.Loaded()) > 0 {
		return nil, NewRuntimeStateError("plugins are loaded; shut down before resolving again")
	}

	if len(requests) == 0 {
		configured, err := rt.config.requests()
		if err != nil {
			return nil, err
		}
		requests = configured
	}

	resolver := NewResolver(rt.set, rt.config.Precedence, rt.logger)
	resolver.setMetrics(rt.metrics)

	resolution, err := resolver.Resolve(requests...)
	if err != nil {
		rt.events.emit(RuntimeEvent{
			Type: EventResolutionFailed,
			Err:  err,
		})
		return nil, err
	}

	rt.mu.Lock()
	rt.resolution = resolution
	rt.mu.Unlock()

	rt.events.emit(RuntimeEvent{
		Type: EventResolutionCompleted,
		Metadata: map[string]interface{}{
			"plugins": resolution.Len(),
			"order":   resolution.LoadOrder(),
		},
	})
	return resolution, nil
}

// Load brings up every plugin in the current resolution's load order,
// bounded by the configured load timeout.
func (rt *Runtime) Load(ctx context.Context) (*LoadReport, error) {
	if rt.down.Load() {
		return nil, NewRuntimeStateError("runtime is shut down")
	}

	rt.mu.RLock()
	resolution := rt.resolution
	loader := rt.loader
	rt.mu.RUnlock()
	if resolution == nil {
		return nil, NewRuntimeStateError("nothing resolved; call Resolve before Load")
	}

	ctx, cancel := context.WithTimeout(ctx, rt.config.LoadTimeout.Duration())
	defer cancel()

	report, err := loader.LoadAll(ctx, resolution)

	rt.mu.Lock()
	rt.report = report
	rt.mu.Unlock()
	return report, err
}

// Start runs the whole startup sequence: discover, watch (when
// configured), resolve, load.
//
// On a load failure Start returns the error while already-loaded plugins
// stay up; call Shutdown to tear the partial state down, or keep running
// degraded.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.down.Load() {
		return NewRuntimeStateError("runtime is shut down")
	}
	if !rt.started.CompareAndSwap(false, true) {
		return NewRuntimeStateError("runtime already started")
	}

	if len(rt.config.SearchPaths) > 0 {
		if _, err := rt.Discover(ctx); err != nil {
			return err
		}
	}

	if rt.watcher != nil {
		if err := rt.watcher.Start(); err != nil {
			return err
		}
	}

	if _, err := rt.Resolve(); err != nil {
		return err
	}
	if _, err := rt.Load(ctx); err != nil {
		return err
	}

	rt.logger.Info("Plugin runtime started",
		"plugins", len(rt.loader.Loaded()),
		"order", rt.loader.Loaded())
	return nil
}

// GetInstance returns the loaded instance of a plugin.
//
// A plugin that failed to load returns its recorded failure. A plugin that
// has not loaded yet returns a retryable not-yet-resolved error.
func (rt *Runtime) GetInstance(name string) (Instance, error) {
	node, err := rt.lookupNode(name)
	if err != nil {
		return nil, err
	}
	if node.State() == StateFailed {
		if failure := node.Failure(); failure != nil {
			return nil, failure
		}
		return nil, NewModuleLoadError(name, node.Descriptor().ModulePath(), nil)
	}
	return node.Instance()
}

// GetInstanceWithVersion returns a loaded instance only if the version it
// reported at load time satisfies the given minimum.
func (rt *Runtime) GetInstanceWithVersion(name string, min *semver.Version) (Instance, error) {
	instance, err := rt.GetInstance(name)
	if err != nil {
		return nil, err
	}

	node, err := rt.lookupNode(name)
	if err != nil {
		return nil, err
	}
	if !satisfiesMin(node.LoadedVersion(), min) {
		return nil, NewVersionTooLowError(name, versionString(node.LoadedVersion()), versionString(min))
	}
	return instance, nil
}

// lookupNode finds a plugin node in the current resolution.
func (rt *Runtime) lookupNode(name string) (*PluginNode, error) {
	if rt.down.Load() {
		return nil, NewRuntimeStateError("runtime is shut down")
	}

	rt.mu.RLock()
	resolution := rt.resolution
	rt.mu.RUnlock()
	if resolution == nil {
		return nil, NewRuntimeStateError("nothing resolved; call Resolve before instance lookup")
	}

	node := resolution.Node(name)
	if node == nil {
		return nil, NewPluginNotFoundError(name)
	}
	return node, nil
}

// Info returns the metadata a loaded plugin reports about itself. It uses
// the same lookup rules as GetInstance, so a plugin that has not loaded
// yields the corresponding error instead of descriptor claims.
func (rt *Runtime) Info(name string) (InstanceInfo, error) {
	instance, err := rt.GetInstance(name)
	if err != nil {
		return InstanceInfo{}, err
	}
	return instance.Info(), nil
}

// PluginState returns the lifecycle state of one plugin in the current
// resolution.
func (rt *Runtime) PluginState(name string) (NodeState, error) {
	node, err := rt.lookupNode(name)
	if err != nil {
		return StateDiscovered, err
	}
	return node.State(), nil
}

// States returns the lifecycle state of every plugin in the current
// resolution.
func (rt *Runtime) States() map[string]NodeState {
	rt.mu.RLock()
	resolution := rt.resolution
	rt.mu.RUnlock()
	if resolution == nil {
		return map[string]NodeState{}
	}
	return resolution.States()
}

// LoadOrder returns the current resolution's load order.
func (rt *Runtime) LoadOrder() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.resolution == nil {
		return nil
	}
	return rt.resolution.LoadOrder()
}

// Resolution returns the current resolution, or nil before Resolve.
func (rt *Runtime) Resolution() *Resolution {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.resolution
}

// Report returns the most recent load report, or nil before Load.
func (rt *Runtime) Report() *LoadReport {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.report
}

// Descriptors returns the sorted names of every known plugin.
func (rt *Runtime) Descriptors() []string {
	return rt.set.Names()
}

// Metrics returns a snapshot of the runtime counters.
func (rt *Runtime) Metrics() MetricsSnapshot {
	return rt.metrics.Snapshot()
}

// IntegrityStats returns a snapshot of the integrity validation counters.
func (rt *Runtime) IntegrityStats() IntegrityStats {
	return rt.integrity.Stats()
}

// Shutdown stops watching and unloads every plugin in exact reverse load
// order, bounded by the configured shutdown timeout. Safe to call more
// than once; repeat calls return nil.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var shutdownErr error

	rt.shutdownOnce.Do(func() {
		rt.down.Store(true)
		rt.logger.Info("Plugin runtime shutting down")

		if rt.watcher != nil && rt.watcher.IsRunning() {
			if err := rt.watcher.Stop(); err != nil {
				rt.logger.Warn("Manifest watcher stop failed", "error", err)
				shutdownErr = err
			}
		}

		ctx, cancel := context.WithTimeout(ctx, rt.config.ShutdownTimeout.Duration())
		defer cancel()

		if err := rt.loader.UnloadAll(ctx); err != nil {
			rt.logger.Error("Plugin teardown reported failures", "error", err)
			if shutdownErr == nil {
				shutdownErr = err
			}
		}

		if err := rt.integrity.Close(); err != nil {
			rt.logger.Warn("Integrity validator close failed", "error", err)
			if shutdownErr == nil {
				shutdownErr = err
			}
		}

		rt.logger.Info("Plugin runtime shut down")
	})

	return shutdownErr
}

// GetTypedInstance fetches a loaded plugin instance and asserts it to a
// concrete type.
//
// Example:
//
//	cache, err := goloader.GetTypedInstance[CacheProvider](runtime, "cache")
func GetTypedInstance[T any](rt *Runtime, name string) (T, error) {
	var zero T
	instance, err := rt.GetInstance(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, NewInterfaceMismatchError(name, "",
			"instance does not implement the requested type")
	}
	return typed, nil
}
