// Package goloader provides a deterministic plugin loading runtime for Go
// applications. It discovers plugin descriptors on disk, resolves their
// dependency graph into a reproducible load order, and instantiates plugins
// in that order while enforcing minimum-version requirements.
//
// Key Features:
//   - Immutable plugin descriptors parsed from JSON or YAML manifests
//   - Transitive dependency resolution with depth-first topological ordering
//   - Cycle detection that reports the exact dependency cycle
//   - Max-of-minimums version negotiation across all dependents
//   - Highest-version candidate selection when several descriptor versions coexist
//   - Pluggable module hosts (native shared objects, compiled-in registries)
//   - SHA-256 integrity validation with configurable enforcement policies
//   - Manifest watching, structured events, and runtime metrics
//
// Basic Usage:
//
//	// Create a runtime over one or more manifest directories
//	runtime, err := goloader.NewRuntime(goloader.RuntimeConfig{
//		SearchPaths: []string{"./plugins"},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Discover manifests, resolve the graph, and load everything in order
//	if err := runtime.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer runtime.Shutdown(context.Background())
//
//	// Retrieve a loaded plugin instance
//	instance, err := runtime.GetInstance("auth-provider")
//
// Determinism:
// Resolution is a pure function of the discovered descriptor set and the root
// requests. Dependencies are traversed in declaration order and roots in
// request order, so the computed load order is identical across runs.
//
// Failure Semantics:
// Loading is sequential and fail-fast. When a plugin fails to load, plugins
// already loaded stay loaded, the failing plugin is marked failed, and the
// remainder of the load order is skipped. Shutdown tears instances down in
// reverse load order so dependents close before their dependencies.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package goloader
