// testing_helpers_test.go: shared fixtures for the loading runtime tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// testInstance is a configurable Instance implementation. Zero hooks make
// it a plugin that initializes and closes without side effects.
type testInstance struct {
	info      InstanceInfo
	initFunc  func(ctx context.Context, deps InstanceResolver) error
	closeFunc func() error

	mu        sync.Mutex
	initCalls int
	closed    int
}

func newTestInstance(name, version string) *testInstance {
	return &testInstance{
		info: InstanceInfo{
			Name:    name,
			Version: version,
		},
	}
}

func (i *testInstance) Info() InstanceInfo {
	return i.info
}

func (i *testInstance) Init(ctx context.Context, deps InstanceResolver) error {
	i.mu.Lock()
	i.initCalls++
	i.mu.Unlock()
	if i.initFunc != nil {
		return i.initFunc(ctx, deps)
	}
	return nil
}

func (i *testInstance) Close() error {
	i.mu.Lock()
	i.closed++
	i.mu.Unlock()
	if i.closeFunc != nil {
		return i.closeFunc()
	}
	return nil
}

func (i *testInstance) initCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.initCalls
}

func (i *testInstance) closeCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// callRecorder collects ordered call markers from concurrent plugin hooks.
type callRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *callRecorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *callRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// mustVersion parses a version or fails the test.
func mustVersion(t *testing.T, raw string) *semver.Version {
	t.Helper()
	v, err := ParseVersion(raw)
	if err != nil {
		t.Fatalf("ParseVersion(%q) failed: %v", raw, err)
	}
	return v
}

// mustDependency builds a dependency declaration or fails the test.
func mustDependency(t *testing.T, target, minVersion string) Dependency {
	t.Helper()
	dep, err := ParseDependency(target, minVersion)
	if err != nil {
		t.Fatalf("ParseDependency(%q, %q) failed: %v", target, minVersion, err)
	}
	return dep
}

// mustDescriptor builds a validated descriptor or fails the test.
func mustDescriptor(t *testing.T, name, version, modulePath string, deps ...Dependency) *PluginDescriptor {
	t.Helper()
	descriptor, err := NewPluginDescriptor(name, version, modulePath, deps)
	if err != nil {
		t.Fatalf("NewPluginDescriptor(%q, %q) failed: %v", name, version, err)
	}
	return descriptor
}

// buildSet assembles a descriptor set or fails the test.
func buildSet(t *testing.T, descriptors ...*PluginDescriptor) *DescriptorSet {
	t.Helper()
	set := NewDescriptorSet()
	for _, d := range descriptors {
		if err := set.Add(d); err != nil {
			t.Fatalf("DescriptorSet.Add(%s) failed: %v", d, err)
		}
	}
	return set
}

// resolveSet runs a resolution with highest-version precedence or fails the
// test.
func resolveSet(t *testing.T, set *DescriptorSet, requests ...PluginRequest) *Resolution {
	t.Helper()
	resolver := NewResolver(set, PrecedenceHighestVersion, NewTestLogger())
	resolution, err := resolver.Resolve(requests...)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return resolution
}

// writeManifestJSON writes a plugin manifest file in JSON form and returns
// its path.
func writeManifestJSON(t *testing.T, dir, filename string, manifest PluginManifest) string {
	t.Helper()
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	return writeTestFile(t, dir, filename, data)
}

// writeManifestYAML writes a plugin manifest file in YAML form and returns
// its path.
func writeManifestYAML(t *testing.T, dir, filename string, manifest PluginManifest) string {
	t.Helper()
	data, err := yaml.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	return writeTestFile(t, dir, filename, data)
}

func writeTestFile(t *testing.T, dir, filename string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// staticManifest builds the manifest for a plugin served by a static host.
func staticManifest(name, version string, deps ...ManifestDependency) PluginManifest {
	return PluginManifest{
		Name:         name,
		Version:      version,
		Module:       "static://" + name,
		Dependencies: deps,
	}
}

// registerStatic registers an entry returning a fresh testInstance under
// the plugin's static module path.
func registerStatic(t *testing.T, host *StaticHost, name, version string, instance *testInstance) {
	t.Helper()
	if instance == nil {
		instance = newTestInstance(name, version)
	}
	err := host.RegisterModule("static://"+name, func() (Instance, error) {
		return instance, nil
	})
	if err != nil {
		t.Fatalf("RegisterModule(static://%s) failed: %v", name, err)
	}
}

// waitFor polls a condition until it holds or the timeout expires. Event
// delivery is asynchronous, so assertions on dispatched events go through
// this.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// eventCollector is a RuntimeEventHandler that records every event it sees.
type eventCollector struct {
	mu     sync.Mutex
	events []RuntimeEvent
}

func (c *eventCollector) handler() RuntimeEventHandler {
	return func(event RuntimeEvent) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, event)
	}
}

func (c *eventCollector) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (c *eventCollector) firstOf(eventType string) (RuntimeEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Type == eventType {
			return e, true
		}
	}
	return RuntimeEvent{}, false
}

// pluginNames extracts the Plugin field of every recorded event of a type,
// in arrival order.
func (c *eventCollector) pluginNames(eventType string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, e := range c.events {
		if e.Type == eventType {
			names = append(names, e.Plugin)
		}
	}
	return names
}

// equalStringSlices compares two string slices element by element.
func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// indexOf returns the position of needle in haystack, or -1.
func indexOf(haystack []string, needle string) int {
	for i, s := range haystack {
		if s == needle {
			return i
		}
	}
	return -1
}

// fmtDeps is a debugging aid for failed ordering assertions.
func fmtDeps(order []string) string {
	return fmt.Sprintf("%v", order)
}
