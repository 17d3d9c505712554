// resolver.go: dependency resolution from descriptor set to ordered graph
//
// Resolution turns root requests plus the discovered descriptor set into an
// immutable Resolution: one node per reachable plugin name, requirement
// edges in declaration order, and a topological load order. The algorithm
// is a pure function of its inputs, so the same descriptors and requests
// always produce the same load order.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/agilira/go-timecache"
)

// VersionPrecedence selects which candidate descriptor wins when several
// versions of the same plugin name were discovered.
type VersionPrecedence int

const (
	// PrecedenceHighestVersion picks the highest version that satisfies the
	// requirements recorded so far. This is the default.
	PrecedenceHighestVersion VersionPrecedence = iota

	// PrecedencePathOrder picks the first candidate in discovery order
	// (search-path order). The pick is pinned: requirements recorded later
	// that the pinned candidate cannot meet fail resolution rather than
	// silently switching to a different file.
	PrecedencePathOrder
)

// String returns the configuration name of the precedence policy.
func (p VersionPrecedence) String() string {
	switch p {
	case PrecedencePathOrder:
		return "path_order"
	default:
		return "highest_version"
	}
}

// ParseVersionPrecedence converts a configuration string into a precedence
// policy.
func ParseVersionPrecedence(s string) (VersionPrecedence, error) {
	switch s {
	case "", "highest_version":
		return PrecedenceHighestVersion, nil
	case "path_order":
		return PrecedencePathOrder, nil
	default:
		return PrecedenceHighestVersion, NewConfigValidationError("unknown version precedence: "+s, nil)
	}
}

// Resolution is the immutable product of a successful resolve: the
// dependency graph and its computed load order.
//
// The topology and order never change after construction; only the node
// lifecycle states advance as the loader works through the order. Reload
// semantics are intentionally simple: changing the descriptor set means
// computing a new Resolution, never mutating an existing one.
type Resolution struct {
	graph      *DependencyGraph
	order      []string
	requests   []PluginRequest
	resolvedAt time.Time
}

// LoadOrder returns the plugin names in load order, dependencies first.
// The returned slice is a copy.
func (r *Resolution) LoadOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Graph returns the underlying dependency graph.
func (r *Resolution) Graph() *DependencyGraph {
	return r.graph
}

// Node returns the node for the given plugin name, or nil when the name is
// not part of this resolution.
func (r *Resolution) Node(name string) *PluginNode {
	node, _ := r.graph.Node(name)
	return node
}

// Requests returns a copy of the root requests this resolution was built
// from.
func (r *Resolution) Requests() []PluginRequest {
	out := make([]PluginRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// ResolvedAt returns when the resolution was computed.
func (r *Resolution) ResolvedAt() time.Time {
	return r.resolvedAt
}

// Len returns the number of plugins in the resolution.
func (r *Resolution) Len() int {
	return r.graph.Len()
}

// States returns a snapshot of every node's lifecycle state.
func (r *Resolution) States() map[string]NodeState {
	out := make(map[string]NodeState, r.graph.Len())
	for _, node := range r.graph.Nodes() {
		out[node.Name()] = node.State()
	}
	return out
}

// Resolver computes Resolutions over a descriptor set.
type Resolver struct {
	set        *DescriptorSet
	precedence VersionPrecedence
	logger     Logger
	metrics    *RuntimeMetrics
}

// NewResolver creates a resolver over the given descriptor set. A nil
// logger is replaced with a silent one.
func NewResolver(set *DescriptorSet, precedence VersionPrecedence, logger Logger) *Resolver {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &Resolver{set: set, precedence: precedence, logger: logger}
}

// setMetrics wires the runtime's metrics aggregate.
func (r *Resolver) setMetrics(metrics *RuntimeMetrics) {
	r.metrics = metrics
}

// pendingRequirement is one unit of graph-building work: requester needs
// target at the given minimum version.
type pendingRequirement struct {
	requester string
	target    string
	min       *semver.Version
}

// Resolve builds the dependency graph reachable from the given root
// requests and computes its load order.
//
// With no explicit requests every discovered plugin name becomes a root, in
// sorted name order. Each plugin name resolves to exactly one node: the
// first time a name is encountered a candidate descriptor is selected (see
// VersionPrecedence), its dependencies become new requirements, and later
// encounters only tighten the node's minimum version.
//
// Failure modes:
//   - ErrCodeUnresolvedDependency: a required name has no descriptor; the
//     error names both the missing target and the requester
//   - ErrCodeNoSatisfyingVersion: no candidate meets the strictest minimum
//   - ErrCodeCyclicDependency: the graph contains a cycle; the error
//     carries the exact cycle path
//
// Resolution never loads anything. Version enforcement against what a
// module actually reports happens at load time; resolution checks only the
// versions descriptors claim.
func (r *Resolver) Resolve(requests ...PluginRequest) (*Resolution, error) {
	if len(requests) == 0 {
		for _, name := range r.set.Names() {
			requests = append(requests, PluginRequest{Name: name})
		}
	}
	if len(requests) == 0 {
		r.countFailure()
		return nil, NewNothingToResolveError()
	}

	graph := newDependencyGraph()

	queue := make([]pendingRequirement, 0, len(requests))
	for _, req := range requests {
		if req.Name == "" {
			r.countFailure()
			return nil, NewMalformedDescriptorError("", "request name is required", nil)
		}
		queue = append(queue, pendingRequirement{requester: rootRequester, target: req.Name, min: req.MinVersion})
		graph.addRoot(req.Name)
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		if node, ok := graph.Node(next.target); ok {
			node.RecordDependent(next.requester, next.min)
			continue
		}

		candidates := r.set.Candidates(next.target)
		if len(candidates) == 0 {
			r.countFailure()
			return nil, NewUnresolvedDependencyError(next.target, next.requester)
		}

		chosen, err := r.selectCandidate(next.target, candidates, next.min)
		if err != nil {
			r.countFailure()
			return nil, err
		}

		node := NewPluginNode(chosen)
		node.RecordDependent(next.requester, next.min)
		graph.addNode(node)

		for _, dep := range chosen.Dependencies() {
			graph.addEdge(next.target, dependencyEdge{target: dep.Target(), minVersion: dep.MinVersion()})
			queue = append(queue, pendingRequirement{requester: next.target, target: dep.Target(), min: dep.MinVersion()})
		}

		r.logger.Debug("plugin candidate selected",
			"plugin", chosen.Name(),
			"version", chosen.Version().String(),
			"candidates", len(candidates),
			"requested_by", next.requester)
	}

	// Requirements recorded after a candidate was selected may have
	// tightened the minimum beyond what the selection-time check saw.
	// Re-validate every node against its final minimum.
	for _, node := range graph.Nodes() {
		min := node.MinVersion()
		if satisfiesMin(node.Descriptor().Version(), min) {
			continue
		}
		r.countFailure()
		return nil, NewNoSatisfyingVersionError(node.Name(), versionString(min), r.availableVersions(node.Name())).
			WithContext("selected_version", node.Descriptor().Version().String()).
			WithContext("required_by", node.MinVersionBy())
	}

	order, err := graph.TopologicalOrder()
	if err != nil {
		r.countFailure()
		if r.metrics != nil {
			r.metrics.CyclesDetected.Add(1)
		}
		return nil, err
	}

	for _, name := range order {
		node, _ := graph.Node(name)
		if err := node.markQueued(); err != nil {
			r.countFailure()
			return nil, err
		}
	}

	if r.metrics != nil {
		r.metrics.Resolutions.Add(1)
		r.metrics.recordResolution()
	}
	r.logger.Info("dependency resolution completed",
		"plugins", len(order),
		"roots", len(graph.Roots()),
		"precedence", r.precedence.String())

	return &Resolution{
		graph:      graph,
		order:      order,
		requests:   requests,
		resolvedAt: timecache.CachedTime(),
	}, nil
}

// selectCandidate picks one descriptor for a plugin name according to the
// precedence policy, considering only candidates that satisfy the minimum
// known at selection time.
//
// Under PrecedenceHighestVersion the pick is also the highest version able
// to satisfy any later, stricter minimum: minimums are lower bounds, so if
// any candidate meets a stricter one the highest does too. Ties between
// equal versions at different paths go to the earlier discovery path.
func (r *Resolver) selectCandidate(name string, candidates []*PluginDescriptor, min *semver.Version) (*PluginDescriptor, error) {
	var chosen *PluginDescriptor
	switch r.precedence {
	case PrecedencePathOrder:
		for _, candidate := range candidates {
			if satisfiesMin(candidate.Version(), min) {
				chosen = candidate
				break
			}
		}
	default:
		for _, candidate := range candidates {
			if !satisfiesMin(candidate.Version(), min) {
				continue
			}
			if chosen == nil || candidate.Version().GreaterThan(chosen.Version()) {
				chosen = candidate
			}
		}
	}
	if chosen == nil {
		return nil, NewNoSatisfyingVersionError(name, versionString(min), r.availableVersions(name))
	}
	return chosen, nil
}

// availableVersions lists the discovered versions of a plugin name for
// error context.
func (r *Resolver) availableVersions(name string) []string {
	candidates := r.set.Candidates(name)
	out := make([]string, len(candidates))
	for i, candidate := range candidates {
		out[i] = candidate.Version().String()
	}
	return out
}

// countFailure bumps the resolution failure counter when metrics are wired.
func (r *Resolver) countFailure() {
	if r.metrics != nil {
		r.metrics.ResolutionFailures.Add(1)
	}
}
