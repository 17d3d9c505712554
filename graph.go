// graph.go: the plugin dependency graph and its deterministic ordering
//
// The graph maps each plugin name to exactly one node and keeps directed
// edges from dependents to their dependencies in manifest declaration order.
// Declaration order plus request-ordered roots make the depth-first
// traversal, and therefore the computed load order, reproducible across runs
// for the same descriptor set.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// dependencyEdge is a directed requirement from a dependent to the named
// target, carrying the minimum version the dependent declared.
type dependencyEdge struct {
	target     string
	minVersion *semver.Version
}

// visitColor is the classic three-state marking for depth-first traversal.
type visitColor uint8

const (
	colorWhite visitColor = iota // not yet visited
	colorGray                    // on the current traversal path
	colorBlack                   // fully explored
)

// DependencyGraph holds the resolved plugin nodes and the directed
// dependency edges between them.
//
// The resolver builds the graph and freezes it inside a Resolution; after
// that the topology never changes, only the node states advance. Reads are
// safe for concurrent use.
type DependencyGraph struct {
	mu    sync.RWMutex
	nodes map[string]*PluginNode
	edges map[string][]dependencyEdge
	roots []string
}

// newDependencyGraph creates an empty graph for the resolver to populate.
func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*PluginNode),
		edges: make(map[string][]dependencyEdge),
	}
}

// addNode registers a node under its plugin name.
func (g *DependencyGraph) addNode(node *PluginNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[node.Name()] = node
}

// addEdge appends a dependency edge; edges keep declaration order.
func (g *DependencyGraph) addEdge(from string, edge dependencyEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[from] = append(g.edges[from], edge)
}

// addRoot appends a root plugin in request order, ignoring duplicates.
func (g *DependencyGraph) addRoot(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.roots {
		if existing == name {
			return
		}
	}
	g.roots = append(g.roots, name)
}

// Node returns the node registered for the plugin name.
func (g *DependencyGraph) Node(name string) (*PluginNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[name]
	return node, ok
}

// Nodes returns all nodes sorted by plugin name.
func (g *DependencyGraph) Nodes() []*PluginNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*PluginNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of plugins in the graph.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Roots returns the root plugin names in request order.
func (g *DependencyGraph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Dependencies returns the names this plugin depends on, in declaration
// order.
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := g.edges[name]
	if len(edges) == 0 {
		return nil
	}
	out := make([]string, len(edges))
	for i, edge := range edges {
		out[i] = edge.target
	}
	return out
}

// Dependents returns the names that depend on this plugin, sorted.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for from, edges := range g.edges {
		for _, edge := range edges {
			if edge.target == name {
				out = append(out, from)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder computes the load order: every plugin appears after all
// of its dependencies.
//
// The traversal is depth-first with three-state marking. Re-encountering a
// plugin that is still on the current path proves a cycle; the error then
// carries the exact cycle as a name sequence that starts and ends at the
// re-encountered plugin, for example [auth core auth]. Appending each
// plugin after its dependencies have been fully explored yields an order
// with dependencies ahead of dependents.
//
// Roots are traversed in request order and edges in declaration order, so
// the result is deterministic and stable across repeated calls.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	colors := make(map[string]visitColor, len(g.nodes))
	order := make([]string, 0, len(g.nodes))
	path := make([]string, 0, len(g.nodes))

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case colorBlack:
			return nil
		case colorGray:
			return NewCyclicDependencyError(cyclePath(path, name))
		}

		colors[name] = colorGray
		path = append(path, name)
		for _, edge := range g.edges[name] {
			if err := visit(edge.target); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		colors[name] = colorBlack
		order = append(order, name)
		return nil
	}

	for _, root := range g.roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}

	// Nodes the resolver added always hang off a root, but a hand-built
	// graph may contain unrooted nodes; sweep them in sorted order so the
	// result stays total and deterministic.
	if len(order) < len(g.nodes) {
		remaining := make([]string, 0, len(g.nodes)-len(order))
		for name := range g.nodes {
			if colors[name] != colorBlack {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		for _, name := range remaining {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

// cyclePath trims the traversal path so the reported cycle begins at the
// re-encountered plugin and closes back on it.
func cyclePath(path []string, repeated string) []string {
	start := 0
	for i, name := range path {
		if name == repeated {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(path)-start+1)
	cycle = append(cycle, path[start:]...)
	cycle = append(cycle, repeated)
	return cycle
}
