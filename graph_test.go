// graph_test.go: tests for dependency graph traversal and topological ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"testing"
)

// buildGraph assembles a graph from an adjacency list, adding roots in the
// given order. Dependency edges keep list order, mirroring how the resolver
// walks manifest declarations.
func buildGraph(t *testing.T, roots []string, adjacency map[string][]string) *DependencyGraph {
	t.Helper()
	graph := newDependencyGraph()

	for name, deps := range adjacency {
		graph.addNode(NewPluginNode(mustDescriptor(t, name, "1.0.0", "")))
		for _, dep := range deps {
			graph.addEdge(name, dependencyEdge{target: dep})
		}
	}
	for _, root := range roots {
		graph.addRoot(root)
	}
	return graph
}

func TestDependencyGraph_TopologicalOrder(t *testing.T) {
	t.Run("EmptyGraph", func(t *testing.T) {
		graph := newDependencyGraph()
		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("empty graph should order fine: %v", err)
		}
		if len(order) != 0 {
			t.Errorf("expected empty order, got %v", order)
		}
	})

	t.Run("SingleNode", func(t *testing.T) {
		graph := buildGraph(t, []string{"core"}, map[string][]string{"core": {}})
		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !equalStringSlices(order, []string{"core"}) {
			t.Errorf("expected [core], got %v", order)
		}
	})

	t.Run("LinearChain", func(t *testing.T) {
		// dashboard -> auth -> storage
		graph := buildGraph(t, []string{"dashboard"}, map[string][]string{
			"dashboard": {"auth"},
			"auth":      {"storage"},
			"storage":   {},
		})

		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"storage", "auth", "dashboard"}
		if !equalStringSlices(order, expected) {
			t.Errorf("expected %v, got %v", expected, order)
		}
	})

	t.Run("Diamond", func(t *testing.T) {
		// dashboard -> auth -> core, dashboard -> storage -> core
		graph := buildGraph(t, []string{"dashboard"}, map[string][]string{
			"dashboard": {"auth", "storage"},
			"auth":      {"core"},
			"storage":   {"core"},
			"core":      {},
		})

		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Declaration order pins the full sequence: auth's subtree first.
		expected := []string{"core", "auth", "storage", "dashboard"}
		if !equalStringSlices(order, expected) {
			t.Errorf("expected %v, got %v", expected, order)
		}
	})

	t.Run("SharedDependencyAppearsOnce", func(t *testing.T) {
		graph := buildGraph(t, []string{"a", "b"}, map[string][]string{
			"a":      {"shared"},
			"b":      {"shared"},
			"shared": {},
		})

		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"shared", "a", "b"}
		if !equalStringSlices(order, expected) {
			t.Errorf("expected %v, got %v", expected, order)
		}
	})

	t.Run("RootRequestOrderPreserved", func(t *testing.T) {
		graph := buildGraph(t, []string{"zeta", "alpha"}, map[string][]string{
			"zeta":  {},
			"alpha": {},
		})

		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Request order wins over lexical order.
		expected := []string{"zeta", "alpha"}
		if !equalStringSlices(order, expected) {
			t.Errorf("expected %v, got %v", expected, order)
		}
	})

	t.Run("UnrootedNodesSweptSorted", func(t *testing.T) {
		graph := buildGraph(t, []string{"main"}, map[string][]string{
			"main":  {},
			"omega": {},
			"beta":  {},
		})

		order, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"main", "beta", "omega"}
		if !equalStringSlices(order, expected) {
			t.Errorf("expected roots first then sorted sweep %v, got %v", expected, order)
		}
	})

	t.Run("DeterministicAcrossRuns", func(t *testing.T) {
		graph := buildGraph(t, []string{"a"}, map[string][]string{
			"a": {"b", "c"},
			"b": {"d"},
			"c": {"d"},
			"d": {},
		})

		first, err := graph.TopologicalOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := 0; i < 20; i++ {
			again, err := graph.TopologicalOrder()
			if err != nil {
				t.Fatalf("unexpected error on run %d: %v", i, err)
			}
			if !equalStringSlices(first, again) {
				t.Fatalf("order changed between runs: %v vs %v", first, again)
			}
		}
	})
}

func TestDependencyGraph_CycleDetection(t *testing.T) {
	t.Run("DirectCycle", func(t *testing.T) {
		graph := buildGraph(t, []string{"a"}, map[string][]string{
			"a": {"b"},
			"b": {"a"},
		})

		_, err := graph.TopologicalOrder()
		structured := assertErrorCode(t, err, ErrCodeCyclicDependency)

		cycle, ok := structured.Context["cycle"].([]string)
		if !ok {
			t.Fatalf("expected cycle context as []string, got %T", structured.Context["cycle"])
		}
		if !equalStringSlices(cycle, []string{"a", "b", "a"}) {
			t.Errorf("expected cycle [a b a], got %v", cycle)
		}
	})

	t.Run("SelfCycle", func(t *testing.T) {
		graph := buildGraph(t, []string{"a"}, map[string][]string{
			"a": {"a"},
		})

		_, err := graph.TopologicalOrder()
		structured := assertErrorCode(t, err, ErrCodeCyclicDependency)

		cycle := structured.Context["cycle"].([]string)
		if !equalStringSlices(cycle, []string{"a", "a"}) {
			t.Errorf("expected cycle [a a], got %v", cycle)
		}
	})

	t.Run("CycleBelowHealthyPrefix", func(t *testing.T) {
		// entry depends on a healthy node and on a three-node cycle.
		graph := buildGraph(t, []string{"entry"}, map[string][]string{
			"entry": {"fine", "b"},
			"fine":  {},
			"b":     {"c"},
			"c":     {"d"},
			"d":     {"b"},
		})

		_, err := graph.TopologicalOrder()
		structured := assertErrorCode(t, err, ErrCodeCyclicDependency)

		// The reported path starts at the re-encountered plugin, not at the
		// traversal root.
		cycle := structured.Context["cycle"].([]string)
		if !equalStringSlices(cycle, []string{"b", "c", "d", "b"}) {
			t.Errorf("expected cycle [b c d b], got %v", cycle)
		}
	})
}

func TestDependencyGraph_Accessors(t *testing.T) {
	graph := buildGraph(t, []string{"dashboard"}, map[string][]string{
		"dashboard": {"storage", "auth"},
		"auth":      {"storage"},
		"storage":   {},
	})

	t.Run("NodeLookup", func(t *testing.T) {
		node, ok := graph.Node("auth")
		if !ok || node == nil {
			t.Fatal("expected auth node to exist")
		}
		if node.Name() != "auth" {
			t.Errorf("expected auth, got %q", node.Name())
		}

		if _, ok := graph.Node("missing"); ok {
			t.Error("expected lookup miss for unknown plugin")
		}
	})

	t.Run("NodesSortedByName", func(t *testing.T) {
		nodes := graph.Nodes()
		if len(nodes) != 3 {
			t.Fatalf("expected 3 nodes, got %d", len(nodes))
		}
		names := []string{nodes[0].Name(), nodes[1].Name(), nodes[2].Name()}
		if !equalStringSlices(names, []string{"auth", "dashboard", "storage"}) {
			t.Errorf("expected sorted node names, got %v", names)
		}
	})

	t.Run("Len", func(t *testing.T) {
		if graph.Len() != 3 {
			t.Errorf("expected 3, got %d", graph.Len())
		}
	})

	t.Run("DependenciesDeclarationOrder", func(t *testing.T) {
		deps := graph.Dependencies("dashboard")
		if !equalStringSlices(deps, []string{"storage", "auth"}) {
			t.Errorf("expected declaration order [storage auth], got %v", deps)
		}
		if graph.Dependencies("storage") != nil {
			t.Error("expected nil dependencies for a leaf")
		}
	})

	t.Run("DependentsSorted", func(t *testing.T) {
		dependents := graph.Dependents("storage")
		if !equalStringSlices(dependents, []string{"auth", "dashboard"}) {
			t.Errorf("expected sorted dependents [auth dashboard], got %v", dependents)
		}
		if len(graph.Dependents("dashboard")) != 0 {
			t.Error("expected no dependents for the root")
		}
	})

	t.Run("DuplicateRootIgnored", func(t *testing.T) {
		graph.addRoot("dashboard")
		if len(graph.Roots()) != 1 {
			t.Errorf("expected a single root, got %v", graph.Roots())
		}
	})
}
