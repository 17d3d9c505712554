//go:build !linux && !darwin && !freebsd

// host_native_stub.go: native host stub for platforms without plugin support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import "context"

// NativeHost is unavailable on this platform. The Go plugin package only
// loads shared objects on Linux, macOS, and FreeBSD; everywhere else Open
// fails so callers can fall back to a StaticHost.
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

// Open implements ModuleHost.
func (h *NativeHost) Open(ctx context.Context, path string) (ModuleHandle, error) {
	return nil, NewHostFailureError(h.Name(), path, nil).
		WithContext("reason", "native module host is not supported on this platform")
}
