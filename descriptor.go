// descriptor.go: immutable plugin descriptors and the discovered descriptor set
//
// A descriptor is the static identity of a plugin as declared by its manifest:
// name, version, module path, and the dependencies it requires. Descriptors
// are validated once at construction and never mutated afterwards, so they
// can be shared freely between the resolver, the loader, and event handlers
// without synchronization.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Dependency declares that a plugin requires another plugin, optionally at a
// minimum version. A nil minimum accepts any version of the target.
//
// Dependencies are value objects: construct them with NewDependency or
// ParseDependency and read them through accessors.
type Dependency struct {
	target     string
	minVersion *semver.Version
}

// NewDependency builds a dependency on the named target plugin.
func NewDependency(target string, minVersion *semver.Version) (Dependency, error) {
	if target == "" {
		return Dependency{}, NewInvalidPluginNameError(target, "dependency target is required")
	}
	if err := validatePluginName(target); err != nil {
		return Dependency{}, err
	}
	return Dependency{target: target, minVersion: minVersion}, nil
}

// ParseDependency builds a dependency from manifest strings. An empty
// minimum version string means any version is acceptable.
func ParseDependency(target string, minVersion string) (Dependency, error) {
	var min *semver.Version
	if minVersion != "" {
		parsed, err := ParseVersion(minVersion)
		if err != nil {
			return Dependency{}, err
		}
		min = parsed
	}
	return NewDependency(target, min)
}

// Target returns the name of the required plugin.
func (d Dependency) Target() string {
	return d.target
}

// MinVersion returns the minimum acceptable version, or nil when any
// version of the target satisfies this dependency.
func (d Dependency) MinVersion() *semver.Version {
	return d.minVersion
}

// String renders the dependency for logs and error messages.
func (d Dependency) String() string {
	if d.minVersion == nil {
		return d.target
	}
	return d.target + " >= " + d.minVersion.String()
}

// PluginDescriptor is the immutable, validated identity of a discoverable
// plugin.
//
// Fields are fixed at construction: name and version identify the plugin,
// the module path locates its loadable artifact, and the dependency list
// preserves manifest declaration order. Declaration order matters because
// the resolver traverses dependencies in that order, which makes load
// orders reproducible.
type PluginDescriptor struct {
	name         string
	version      *semver.Version
	modulePath   string
	description  string
	manifestPath string
	dependencies []Dependency
}

// NewPluginDescriptor validates and builds a descriptor.
//
// Validation enforces the descriptor invariants: the name must be non-empty
// and free of path or shell metacharacters, the version must be valid
// semantic versioning, and no dependency target may appear twice. The
// module path may be empty for descriptors that are resolved but never
// loaded; the loader rejects such descriptors if they reach it.
func NewPluginDescriptor(name string, version string, modulePath string, dependencies []Dependency) (*PluginDescriptor, error) {
	if name == "" {
		return nil, NewMalformedDescriptorError(name, "plugin name is required", nil)
	}
	if err := validatePluginName(name); err != nil {
		return nil, NewMalformedDescriptorError(name, "plugin name failed validation", err)
	}

	parsed, err := ParseVersion(version)
	if err != nil {
		return nil, NewMalformedDescriptorError(name, "plugin version is not valid", err)
	}

	seen := make(map[string]struct{}, len(dependencies))
	deps := make([]Dependency, len(dependencies))
	for i, dep := range dependencies {
		if dep.target == "" {
			return nil, NewMalformedDescriptorError(name, "dependency target is required", nil)
		}
		if dep.target == name {
			return nil, NewMalformedDescriptorError(name, "plugin cannot depend on itself", nil)
		}
		if _, dup := seen[dep.target]; dup {
			return nil, NewDuplicateDependencyError(name, dep.target)
		}
		seen[dep.target] = struct{}{}
		deps[i] = dep
	}

	return &PluginDescriptor{
		name:         name,
		version:      parsed,
		modulePath:   modulePath,
		dependencies: deps,
	}, nil
}

// Name returns the plugin name.
func (d *PluginDescriptor) Name() string {
	return d.name
}

// Version returns the version this descriptor claims to provide.
func (d *PluginDescriptor) Version() *semver.Version {
	return d.version
}

// ModulePath returns the path of the loadable module artifact. It may be
// empty for descriptors constructed without one.
func (d *PluginDescriptor) ModulePath() string {
	return d.modulePath
}

// Description returns the optional human-readable description.
func (d *PluginDescriptor) Description() string {
	return d.description
}

// ManifestPath returns the path of the manifest file this descriptor was
// parsed from, or an empty string for programmatically built descriptors.
func (d *PluginDescriptor) ManifestPath() string {
	return d.manifestPath
}

// Dependencies returns the declared dependencies in declaration order.
// The returned slice is a copy; mutating it does not affect the descriptor.
func (d *PluginDescriptor) Dependencies() []Dependency {
	out := make([]Dependency, len(d.dependencies))
	copy(out, d.dependencies)
	return out
}

// DependsOn reports whether the descriptor declares a dependency on the
// named plugin.
func (d *PluginDescriptor) DependsOn(target string) bool {
	for _, dep := range d.dependencies {
		if dep.target == target {
			return true
		}
	}
	return false
}

// String renders the descriptor identity as name@version.
func (d *PluginDescriptor) String() string {
	return d.name + "@" + d.version.String()
}

// validatePluginName rejects names that could be abused for path traversal
// or shell injection when the name is later used to derive file paths,
// registry keys, or audit records.
func validatePluginName(name string) error {
	if strings.Contains(name, "..") {
		return NewInvalidPluginNameError(name, "path traversal pattern")
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return NewInvalidPluginNameError(name, "path separator character")
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return NewInvalidPluginNameError(name, "control character")
		}
	}
	dangerous := []string{"~", "|", "&", ";", "$", "`", "(", ")", "[", "]", "{", "}", "<", ">"}
	for _, pattern := range dangerous {
		if strings.Contains(name, pattern) {
			return NewInvalidPluginNameError(name, "dangerous character "+pattern)
		}
	}
	return nil
}

// DescriptorSet indexes discovered descriptors by plugin name and keeps
// every discovered version of a name side by side. The resolver consults
// the set to pick one candidate per name; discovery appends to it.
//
// The set is safe for concurrent use. Candidates are kept in insertion
// order, which for discovery means search-path order; that order is what
// the PrecedencePathOrder policy selects by.
type DescriptorSet struct {
	mu     sync.RWMutex
	byName map[string][]*PluginDescriptor
	count  int
}

// NewDescriptorSet creates an empty descriptor set.
func NewDescriptorSet() *DescriptorSet {
	return &DescriptorSet{byName: make(map[string][]*PluginDescriptor)}
}

// Add registers a descriptor. Multiple versions of the same plugin name are
// allowed; an exact duplicate (same name, version, and module path) is
// rejected so repeated discovery runs stay idempotent at the caller's
// discretion.
func (s *DescriptorSet) Add(descriptor *PluginDescriptor) error {
	if descriptor == nil {
		return NewMalformedDescriptorError("", "descriptor is nil", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byName[descriptor.name] {
		if existing.version.Equal(descriptor.version) && existing.modulePath == descriptor.modulePath {
			return NewDuplicateDescriptorError(descriptor.name, descriptor.version.String(), descriptor.modulePath)
		}
	}
	s.byName[descriptor.name] = append(s.byName[descriptor.name], descriptor)
	s.count++
	return nil
}

// Candidates returns every discovered descriptor for the given name in
// insertion order. The returned slice is a copy.
func (s *DescriptorSet) Candidates(name string) []*PluginDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.byName[name]
	if len(candidates) == 0 {
		return nil
	}
	out := make([]*PluginDescriptor, len(candidates))
	copy(out, candidates)
	return out
}

// Has reports whether at least one descriptor exists for the given name.
func (s *DescriptorSet) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName[name]) > 0
}

// Names returns all plugin names in the set, sorted for determinism.
func (s *DescriptorSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of descriptors across all names.
func (s *DescriptorSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
