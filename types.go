// types.go: Common data types and lifecycle states for the loading runtime
//
// This file contains the shared data type definitions used throughout the
// loading runtime: the node lifecycle state machine, instance metadata, and
// root request types. Keeping these types separate from the interface
// definitions improves code organization and maintainability.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"github.com/Masterminds/semver/v3"
)

// NodeState represents a plugin's position in its loading lifecycle.
//
// States advance strictly forward:
//
//	Discovered -> Queued -> Loading -> Loaded
//	                                -> Failed
//
// Loaded and Failed are terminal: a node never re-enters an earlier state,
// and reloading a plugin means computing a fresh resolution. The loader is
// the only component that drives transitions; consumers observe states
// through Runtime.States and runtime events.
type NodeState int

const (
	// StateDiscovered: a descriptor exists for the plugin but no resolution
	// has queued it for loading yet.
	StateDiscovered NodeState = iota

	// StateQueued: the plugin is part of a computed load order and awaits
	// its turn.
	StateQueued

	// StateLoading: the loader is opening the module and initializing the
	// instance right now.
	StateLoading

	// StateLoaded: the instance was assigned and initialized successfully.
	StateLoaded

	// StateFailed: loading was attempted and did not complete.
	StateFailed
)

// String returns a human-readable representation of the node state.
func (s NodeState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateQueued:
		return "queued"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state permits no further transitions.
func (s NodeState) Terminal() bool {
	return s == StateLoaded || s == StateFailed
}

// canTransition reports whether the lifecycle permits moving from this state
// to the given one.
func (s NodeState) canTransition(to NodeState) bool {
	switch s {
	case StateDiscovered:
		return to == StateQueued
	case StateQueued:
		return to == StateLoading
	case StateLoading:
		return to == StateLoaded || to == StateFailed
	default:
		return false
	}
}

// InstanceInfo contains metadata about a loaded plugin instance as reported
// by the instance itself.
//
// The reported Version is authoritative for version enforcement: the loader
// compares it against the strictest minimum recorded on the plugin's node
// and fails the load when it falls short. The descriptor version is only a
// claim made by the manifest on disk.
//
// Fields:
//   - Name: Unique identifier the instance answers to
//   - Version: Semantic version the instance actually implements
//   - Description: Human-readable description of plugin functionality
//   - Capabilities: List of features or operations the plugin supports
//   - Metadata: Additional key-value pairs for custom plugin information
//
// Example:
//
//	info := instance.Info()
//	fmt.Printf("Plugin: %s v%s\n", info.Name, info.Version)
//	fmt.Printf("Capabilities: %v\n", info.Capabilities)
type InstanceInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PluginRequest names a root plugin the application wants loaded, with an
// optional minimum version requirement.
//
// Dependencies of requested plugins are pulled in transitively during
// resolution and never need a request of their own. A nil MinVersion
// accepts any discovered version.
type PluginRequest struct {
	Name       string
	MinVersion *semver.Version
}

// NewPluginRequest builds a request for any version of the named plugin.
func NewPluginRequest(name string) PluginRequest {
	return PluginRequest{Name: name}
}

// NewPluginRequestWithMin builds a request carrying a minimum version
// requirement. The version string must be valid semantic versioning.
func NewPluginRequestWithMin(name string, minVersion string) (PluginRequest, error) {
	min, err := ParseVersion(minVersion)
	if err != nil {
		return PluginRequest{}, err
	}
	return PluginRequest{Name: name, MinVersion: min}, nil
}
