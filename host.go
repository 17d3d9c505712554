// host.go: module hosts resolve descriptor paths into loadable entry points
//
// A ModuleHost owns the mechanics of opening a module artifact and finding
// its entry function; the loader decides when to open what. Two hosts ship
// with the runtime: NativeHost for shared objects (see host_native.go) and
// StaticHost for modules compiled into the application binary, which is
// also what tests use to exercise loading without building shared objects.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"sort"
	"sync"
)

// ModuleHost opens module artifacts referenced by descriptor module paths.
type ModuleHost interface {
	// Name identifies the host in logs and error context.
	Name() string

	// Open resolves the module path into a handle. The context bounds the
	// open operation; hosts must not retain it.
	Open(ctx context.Context, path string) (ModuleHandle, error)
}

// ModuleHandle is an opened module. The loader extracts the entry function
// from it and closes it when the plugin is torn down or when loading fails
// midway.
type ModuleHandle interface {
	// Path returns the path this handle was opened from.
	Path() string

	// Entry locates the module's entry function. A missing entry point or
	// one with the wrong shape is an error; the handle stays usable.
	Entry() (EntryFunc, error)

	// Close releases resources tied to the handle. Hosts whose artifacts
	// cannot be unloaded return nil.
	Close() error
}

// StaticHost serves modules that are compiled into the application binary
// and registered under a synthetic module path.
//
// Static modules keep the descriptor/resolution machinery fully applicable
// to monolithic builds: manifests name a registered path such as
// "static://auth" and loading proceeds exactly as with shared objects,
// minus the dlopen. Registration order does not matter; paths must be
// unique.
type StaticHost struct {
	mu      sync.RWMutex
	logger  Logger
	entries map[string]EntryFunc
}

// NewStaticHost creates an empty static module registry.
func NewStaticHost(logger Logger) *StaticHost {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &StaticHost{
		logger:  logger,
		entries: make(map[string]EntryFunc),
	}
}

// Name implements ModuleHost.
func (h *StaticHost) Name() string {
	return "static"
}

// RegisterModule binds an entry function to a module path. Registering the
// same path twice fails so two plugins cannot silently share one entry.
func (h *StaticHost) RegisterModule(path string, entry EntryFunc) error {
	if path == "" {
		return NewModuleRegistryError(path, "module path is required")
	}
	if entry == nil {
		return NewModuleRegistryError(path, "entry function is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.entries[path]; exists {
		return NewModuleRegistryError(path, "module already registered")
	}
	h.entries[path] = entry
	h.logger.Debug("static module registered", "path", path)
	return nil
}

// Registered returns the registered module paths, sorted.
func (h *StaticHost) Registered() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	paths := make([]string, 0, len(h.entries))
	for path := range h.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Open implements ModuleHost.
func (h *StaticHost) Open(ctx context.Context, path string) (ModuleHandle, error) {
	select {
	case <-ctx.Done():
		return nil, NewHostFailureError(h.Name(), path, ctx.Err())
	default:
	}

	h.mu.RLock()
	entry, ok := h.entries[path]
	h.mu.RUnlock()

	if !ok {
		return nil, NewHostFailureError(h.Name(), path, nil).
			WithContext("reason", "module not registered")
	}
	return &staticHandle{path: path, entry: entry}, nil
}

// staticHandle is a handle over a registered entry function.
type staticHandle struct {
	path  string
	entry EntryFunc
}

func (h *staticHandle) Path() string {
	return h.path
}

func (h *staticHandle) Entry() (EntryFunc, error) {
	return h.entry, nil
}

func (h *staticHandle) Close() error {
	return nil
}
