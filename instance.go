// instance.go: the capability contract loaded plugins expose to the runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"

	"github.com/Masterminds/semver/v3"
)

// Instance is the contract every loaded plugin must satisfy.
//
// The loader obtains an Instance from the module's entry function, verifies
// its reported identity and version, initializes it, and registers it on the
// plugin's node. Because loading follows the resolved order, a plugin's
// dependencies are always fully initialized before its own Init runs.
//
// Implementations should make Close idempotent: the runtime calls it once
// during shutdown, but host applications sometimes close instances they
// obtained directly.
type Instance interface {
	// Info reports the instance's identity. Name must match the descriptor
	// the instance was loaded for; Version is authoritative for minimum
	// version enforcement.
	Info() InstanceInfo

	// Init prepares the instance for use. The resolver grants access to
	// instances of plugins this one declared as dependencies; those are
	// loaded and initialized by the time Init runs. Init must not retain
	// the context beyond its own execution.
	Init(ctx context.Context, deps InstanceResolver) error

	// Close releases the instance's resources. Called in reverse load
	// order during shutdown, so dependents close before dependencies.
	Close() error
}

// InstanceResolver hands initialized plugin instances to consumers: plugins
// during their Init, and host application code via the Runtime.
type InstanceResolver interface {
	// GetInstance returns the loaded instance of the named plugin.
	GetInstance(name string) (Instance, error)

	// GetInstanceWithVersion returns the loaded instance of the named
	// plugin if its reported version meets the given minimum. A nil
	// minimum behaves like GetInstance.
	GetInstanceWithVersion(name string, min *semver.Version) (Instance, error)
}

// EntryFunc is the constructor signature a module exposes. The loader calls
// it exactly once per load; it must return a ready-to-initialize instance.
type EntryFunc func() (Instance, error)

// EntrySymbol is the exported symbol name a native module must define for
// the native host to find its entry function. The symbol may be either a
// function or a variable of type EntryFunc.
const EntrySymbol = "PluginEntry"
