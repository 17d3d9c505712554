//go:build linux || darwin || freebsd

// host_native.go: module host backed by the Go plugin package
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"plugin"
)

// NativeHost opens shared-object modules through the standard library
// plugin package.
//
// Platform support follows the plugin package: Linux, macOS, and FreeBSD
// with cgo enabled. Other platforms build a stub whose Open always fails.
// Shared objects cannot be unloaded by the Go runtime, so handle Close is
// a no-op; reverse-order teardown still closes the plugin instances
// themselves.
type NativeHost struct {
	logger Logger
}

// NewNativeHost creates a host for shared-object modules.
func NewNativeHost(logger Logger) *NativeHost {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &NativeHost{logger: logger}
}

// Name implements ModuleHost.
func (h *NativeHost) Name() string {
	return "native"
}

// Open implements ModuleHost. Opening the same path twice returns handles
// over the same underlying object; the plugin package caches loads.
func (h *NativeHost) Open(ctx context.Context, path string) (ModuleHandle, error) {
	if path == "" {
		return nil, NewHostFailureError(h.Name(), path, nil).
			WithContext("reason", "module path is empty")
	}
	select {
	case <-ctx.Done():
		return nil, NewHostFailureError(h.Name(), path, ctx.Err())
	default:
	}

	h.logger.Debug("opening native module", "path", path)
	p, err := plugin.Open(path)
	if err != nil {
		return nil, NewHostFailureError(h.Name(), path, err)
	}
	return &nativeHandle{path: path, plugin: p}, nil
}

// nativeHandle wraps an opened shared object.
type nativeHandle struct {
	path   string
	plugin *plugin.Plugin
}

func (h *nativeHandle) Path() string {
	return h.path
}

// Entry looks up EntrySymbol and normalizes it into an EntryFunc.
//
// The plugin package returns the function value for a func declaration and
// a pointer to the variable for a var declaration, and type identity is
// exact, so all four spellings a module author might use are accepted:
//
//	func PluginEntry() (goloader.Instance, error) { ... }
//	var PluginEntry = func() (goloader.Instance, error) { ... }
//	var PluginEntry goloader.EntryFunc = ...
func (h *nativeHandle) Entry() (EntryFunc, error) {
	sym, err := h.plugin.Lookup(EntrySymbol)
	if err != nil {
		return nil, err
	}

	switch fn := sym.(type) {
	case func() (Instance, error):
		return fn, nil
	case EntryFunc:
		return fn, nil
	case *EntryFunc:
		if *fn == nil {
			return nil, NewInterfaceMismatchError("", h.path, EntrySymbol+" is a nil entry variable")
		}
		return *fn, nil
	case *func() (Instance, error):
		if *fn == nil {
			return nil, NewInterfaceMismatchError("", h.path, EntrySymbol+" is a nil entry variable")
		}
		return EntryFunc(*fn), nil
	default:
		return nil, NewInterfaceMismatchError("", h.path, EntrySymbol+" has the wrong type")
	}
}

// Close implements ModuleHandle. The Go runtime cannot unload shared
// objects, so there is nothing to release.
func (h *nativeHandle) Close() error {
	return nil
}
