// node.go: per-plugin bookkeeping for resolution and loading
//
// A PluginNode pairs a chosen descriptor with everything the runtime learns
// about that plugin while resolving and loading: the strictest minimum
// version requested by its dependents, which plugins requested it, its
// lifecycle state, and eventually the loaded instance. Nodes are created by
// the resolver, driven through their lifecycle by the loader, and read by
// consumers through the runtime.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/agilira/go-timecache"
)

// rootRequester names the implicit dependent used when a plugin is loaded
// because the application requested it directly rather than because another
// plugin depends on it.
const rootRequester = "root"

// PluginNode tracks a single plugin through resolution and loading.
//
// All methods are safe for concurrent use. State only moves forward (see
// NodeState) and the instance is assigned at most once; both invariants are
// enforced with structured errors rather than panics so that misuse by a
// host application stays diagnosable.
type PluginNode struct {
	mu            sync.RWMutex
	descriptor    *PluginDescriptor
	state         NodeState
	minVersion    *semver.Version
	minVersionBy  string
	dependents    []string
	instance      Instance
	loadedVersion *semver.Version
	failure       error
	loadedAt      time.Time
}

// NewPluginNode creates a node for the chosen descriptor in state
// StateDiscovered.
func NewPluginNode(descriptor *PluginDescriptor) *PluginNode {
	return &PluginNode{descriptor: descriptor, state: StateDiscovered}
}

// Name returns the plugin name from the underlying descriptor.
func (n *PluginNode) Name() string {
	return n.descriptor.name
}

// Descriptor returns the immutable descriptor this node was built from.
func (n *PluginNode) Descriptor() *PluginDescriptor {
	return n.descriptor
}

// RecordDependent notes that requester depends on this plugin, optionally
// at a minimum version. The node keeps the strictest minimum across all
// dependents: requirements only ever tighten, never relax.
func (n *PluginNode) RecordDependent(requester string, min *semver.Version) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.dependents = append(n.dependents, requester)
	if min != nil && (n.minVersion == nil || min.GreaterThan(n.minVersion)) {
		n.minVersion = min
		n.minVersionBy = requester
	}
}

// MinVersion returns the strictest minimum version recorded across all
// dependents, or nil when no dependent constrained the version.
func (n *PluginNode) MinVersion() *semver.Version {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.minVersion
}

// MinVersionBy returns the name of the dependent that set the strictest
// minimum, or an empty string when the version is unconstrained.
func (n *PluginNode) MinVersionBy() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.minVersionBy
}

// Dependents returns the names of all plugins (and possibly the root
// requester) that depend on this one, in the order they were recorded.
func (n *PluginNode) Dependents() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.dependents))
	copy(out, n.dependents)
	return out
}

// State returns the current lifecycle state.
func (n *PluginNode) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// AssignInstance stores the loaded instance on the node. A node accepts
// exactly one assignment; repeated calls fail with ErrCodeAlreadyResolved.
// The instance's reported version is parsed and cached for later version
// queries.
func (n *PluginNode) AssignInstance(instance Instance) error {
	if instance == nil {
		return NewInterfaceMismatchError(n.descriptor.name, n.descriptor.modulePath, "instance is nil")
	}

	reported, err := ParseVersion(instance.Info().Version)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.instance != nil {
		return NewAlreadyResolvedError(n.descriptor.name)
	}
	n.instance = instance
	n.loadedVersion = reported
	return nil
}

// Instance returns the assigned instance. Before assignment it fails with
// ErrCodeNotYetResolved; the error is marked retryable because the plugin
// may simply not have reached its turn in the load order yet.
func (n *PluginNode) Instance() (Instance, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.instance == nil {
		return nil, NewNotYetResolvedError(n.descriptor.name)
	}
	return n.instance, nil
}

// LoadedVersion returns the version the assigned instance reported, or nil
// before assignment. This is the version used for enforcement; the
// descriptor version is only a manifest claim.
func (n *PluginNode) LoadedVersion() *semver.Version {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loadedVersion
}

// Failure returns the error recorded when loading failed, or nil.
func (n *PluginNode) Failure() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failure
}

// LoadedAt returns the time the node entered StateLoaded, or the zero time.
func (n *PluginNode) LoadedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loadedAt
}

// setState advances the lifecycle, rejecting transitions the state machine
// does not permit.
func (n *PluginNode) setState(to NodeState) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.state.canTransition(to) {
		return NewInvalidStateChangeError(n.descriptor.name, n.state, to)
	}
	n.state = to
	if to == StateLoaded {
		n.loadedAt = timecache.CachedTime()
	}
	return nil
}

// markQueued moves Discovered -> Queued when a resolution includes the node.
func (n *PluginNode) markQueued() error {
	return n.setState(StateQueued)
}

// beginLoading moves Queued -> Loading when the loader picks the node up.
func (n *PluginNode) beginLoading() error {
	return n.setState(StateLoading)
}

// markLoaded moves Loading -> Loaded after instance assignment succeeded.
func (n *PluginNode) markLoaded() error {
	return n.setState(StateLoaded)
}

// markFailed moves Loading -> Failed and records the cause.
func (n *PluginNode) markFailed(cause error) error {
	if err := n.setState(StateFailed); err != nil {
		return err
	}
	n.mu.Lock()
	n.failure = cause
	n.mu.Unlock()
	return nil
}
