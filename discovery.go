// discovery.go: filesystem discovery of plugin manifests
//
// Discovery walks the configured search paths looking for manifest files,
// parses them as JSON or YAML, validates them, and turns them into
// immutable descriptors. Every version of a plugin name that discovery
// encounters is kept; choosing between versions is the resolver's job, not
// discovery's.
//
// Scanning is deliberately sequential and ordered: search paths are visited
// in configuration order and directory entries in name order, so the
// descriptor insertion order is reproducible. The PrecedencePathOrder
// policy depends on that order being meaningful.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// defaultFilePatterns are the manifest filenames discovery looks for when
// the configuration names none.
var defaultFilePatterns = []string{"plugin.json", "plugin.yaml", "plugin.yml", "manifest.json", "manifest.yaml"}

const (
	defaultMaxDepth    = 5
	defaultScanTimeout = 30 * time.Second
)

// DiscoveryConfig controls filesystem discovery.
type DiscoveryConfig struct {
	// SearchPaths are the directories to scan, in precedence order.
	SearchPaths []string `json:"search_paths" yaml:"search_paths"`

	// FilePatterns are the manifest filename patterns to match
	// (filepath.Match syntax). Defaults to plugin/manifest JSON and YAML
	// names.
	FilePatterns []string `json:"file_patterns,omitempty" yaml:"file_patterns,omitempty"`

	// MaxDepth bounds directory recursion below each search path.
	// Zero means the default of 5.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`

	// ExcludePaths skips any path containing one of these substrings.
	ExcludePaths []string `json:"exclude_paths,omitempty" yaml:"exclude_paths,omitempty"`

	// FollowSymlinks enables traversal through symbolic links. Off by
	// default: symlinked plugin directories are a common privilege
	// escalation vector.
	FollowSymlinks bool `json:"follow_symlinks,omitempty" yaml:"follow_symlinks,omitempty"`

	// ScanTimeout bounds a whole discovery pass. Zero means 30 seconds.
	ScanTimeout time.Duration `json:"scan_timeout,omitempty" yaml:"scan_timeout,omitempty"`
}

// withDefaults fills unset fields with their documented defaults.
func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if len(c.FilePatterns) == 0 {
		c.FilePatterns = append([]string(nil), defaultFilePatterns...)
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaultMaxDepth
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = defaultScanTimeout
	}
	return c
}

// PluginManifest is the on-disk declaration of a plugin. Manifests may be
// JSON or YAML; the field names are identical in both.
//
// Example JSON manifest:
//
//	{
//	  "name": "auth",
//	  "version": "1.2.0",
//	  "module": "./auth.so",
//	  "description": "Authentication provider",
//	  "dependencies": [
//	    {"name": "config", "min_version": "1.0.0"}
//	  ]
//	}
type PluginManifest struct {
	Name         string               `json:"name" yaml:"name"`
	Version      string               `json:"version" yaml:"version"`
	Module       string               `json:"module" yaml:"module"`
	Description  string               `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []ManifestDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Metadata     map[string]string    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ManifestDependency declares one dependency inside a manifest.
type ManifestDependency struct {
	Name       string `json:"name" yaml:"name"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// Descriptor validates the manifest and converts it into an immutable
// descriptor. The module path is resolved relative to the manifest's
// directory unless it is absolute or carries a scheme such as "static://".
func (m *PluginManifest) Descriptor(manifestPath string) (*PluginDescriptor, error) {
	deps := make([]Dependency, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		parsed, err := ParseDependency(dep.Name, dep.MinVersion)
		if err != nil {
			return nil, NewMalformedDescriptorError(m.Name, "invalid dependency on "+dep.Name, err)
		}
		deps = append(deps, parsed)
	}

	descriptor, err := NewPluginDescriptor(m.Name, m.Version, resolveModulePath(m.Module, manifestPath), deps)
	if err != nil {
		return nil, err
	}
	descriptor.description = m.Description
	descriptor.manifestPath = manifestPath
	return descriptor, nil
}

// resolveModulePath anchors a relative module path at the manifest's
// directory. Absolute paths and scheme-prefixed paths pass through.
func resolveModulePath(module string, manifestPath string) string {
	if module == "" || filepath.IsAbs(module) || strings.Contains(module, "://") {
		return module
	}
	return filepath.Join(filepath.Dir(manifestPath), module)
}

// DiscoveryEngine scans the filesystem for plugin manifests and produces
// descriptors.
//
// The engine is safe for concurrent use; each Discover call performs one
// full scan. A scan never mutates prior results: rescans produce a fresh
// descriptor list and the caller decides how to merge it.
//
// Example:
//
//	engine := NewDiscoveryEngine(DiscoveryConfig{
//	    SearchPaths: []string{"/opt/plugins"},
//	}, logger)
//	descriptors, err := engine.Discover(ctx)
type DiscoveryEngine struct {
	config DiscoveryConfig
	logger Logger

	mu      sync.RWMutex
	lastRun []*PluginDescriptor
	events  *eventDispatcher
	metrics *RuntimeMetrics
}

// NewDiscoveryEngine creates a discovery engine. A nil logger is replaced
// with a silent one.
func NewDiscoveryEngine(config DiscoveryConfig, logger Logger) *DiscoveryEngine {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &DiscoveryEngine{
		config: config.withDefaults(),
		logger: logger,
		events: newEventDispatcher(logger, nil),
	}
}

// AddEventHandler registers a handler for discovery events.
func (d *DiscoveryEngine) AddEventHandler(handler RuntimeEventHandler) {
	d.events.addHandler(handler)
}

// setDispatcher shares the runtime's event dispatcher so discovery events
// join the runtime's event stream.
func (d *DiscoveryEngine) setDispatcher(events *eventDispatcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = events
}

// setMetrics wires the runtime's metrics aggregate.
func (d *DiscoveryEngine) setMetrics(metrics *RuntimeMetrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = metrics
}

// Discover performs one full scan of the configured search paths.
//
// Malformed manifests are logged, counted, and skipped; they never abort
// the scan. The scan fails only when it produced nothing and at least one
// search path could not be read at all, or when the scan timeout expires.
// The returned descriptors preserve scan order.
func (d *DiscoveryEngine) Discover(ctx context.Context) ([]*PluginDescriptor, error) {
	d.mu.RLock()
	config := d.config
	metrics := d.metrics
	events := d.events
	d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, config.ScanTimeout)
	defer cancel()

	d.logger.Info("Starting plugin discovery",
		"search_paths", config.SearchPaths,
		"patterns", config.FilePatterns)

	if metrics != nil {
		metrics.DiscoveryRuns.Add(1)
	}

	var descriptors []*PluginDescriptor
	var pathErrors []error

	for _, searchPath := range config.SearchPaths {
		absPath, err := filepath.Abs(searchPath)
		if err != nil {
			pathErrors = append(pathErrors, NewManifestPathError(searchPath, "cannot resolve search path"))
			continue
		}
		if err := d.scanDirectory(ctx, absPath, 0, &descriptors); err != nil {
			if ctx.Err() != nil {
				return nil, NewDiscoveryError("plugin discovery timeout", ctx.Err())
			}
			d.logger.Error("Failed to scan directory", "path", absPath, "error", err)
			pathErrors = append(pathErrors, err)
		}
	}

	if len(descriptors) == 0 && len(pathErrors) > 0 {
		return nil, pathErrors[0]
	}

	d.mu.Lock()
	d.lastRun = descriptors
	d.mu.Unlock()

	if metrics != nil {
		metrics.DescriptorsDiscovered.Add(int64(len(descriptors)))
	}
	for _, descriptor := range descriptors {
		events.emit(RuntimeEvent{
			Type:    EventPluginDiscovered,
			Plugin:  descriptor.Name(),
			Version: descriptor.Version().String(),
			Path:    descriptor.ManifestPath(),
			State:   StateDiscovered,
		})
	}

	d.logger.Info("Plugin discovery completed", "descriptors_found", len(descriptors))
	return descriptors, nil
}

// LastDiscovered returns the descriptors from the most recent scan.
func (d *DiscoveryEngine) LastDiscovered() []*PluginDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*PluginDescriptor, len(d.lastRun))
	copy(out, d.lastRun)
	return out
}

// scanDirectory recursively scans one directory for manifests, appending
// descriptors in entry order.
func (d *DiscoveryEngine) scanDirectory(ctx context.Context, path string, depth int, descriptors *[]*PluginDescriptor) error {
	if !d.shouldScanPath(path, depth) {
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return NewDiscoveryError(fmt.Sprintf("failed to read directory %s", path), err)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fullPath := filepath.Join(path, entry.Name())
		if err := d.processEntry(ctx, entry, fullPath, depth, descriptors); err != nil {
			if ctx.Err() != nil {
				return err
			}
			d.countManifestError()
			d.logger.Warn("Skipping manifest", "path", fullPath, "error", err)
		}
	}
	return nil
}

// shouldScanPath applies depth and exclusion rules.
func (d *DiscoveryEngine) shouldScanPath(path string, depth int) bool {
	if depth > d.config.MaxDepth {
		return false
	}
	for _, exclude := range d.config.ExcludePaths {
		if strings.Contains(path, exclude) {
			return false
		}
	}
	return true
}

// processEntry handles one directory entry: recursion for directories,
// manifest parsing for matching files, symlink policy for links.
func (d *DiscoveryEngine) processEntry(ctx context.Context, entry os.DirEntry, fullPath string, depth int, descriptors *[]*PluginDescriptor) error {
	if entry.Type()&fs.ModeSymlink != 0 {
		if !d.config.FollowSymlinks {
			d.logger.Debug("Skipping symlink", "path", fullPath)
			return nil
		}
		info, err := os.Stat(fullPath)
		if err != nil {
			return NewDiscoveryError("failed to resolve symlink", err)
		}
		if info.IsDir() {
			return d.scanDirectory(ctx, fullPath, depth+1, descriptors)
		}
		return d.processManifestFile(entry.Name(), fullPath, descriptors)
	}

	if entry.IsDir() {
		return d.scanDirectory(ctx, fullPath, depth+1, descriptors)
	}
	return d.processManifestFile(entry.Name(), fullPath, descriptors)
}

// processManifestFile parses a candidate manifest and appends its
// descriptor.
func (d *DiscoveryEngine) processManifestFile(fileName string, fullPath string, descriptors *[]*PluginDescriptor) error {
	if !d.matchesPattern(fileName) {
		return nil
	}

	descriptor, err := d.parseManifestFile(fullPath)
	if err != nil {
		return err
	}

	*descriptors = append(*descriptors, descriptor)
	d.logger.Debug("Discovered plugin",
		"name", descriptor.Name(),
		"version", descriptor.Version().String(),
		"manifest", fullPath)
	return nil
}

// matchesPattern checks a filename against the configured patterns.
func (d *DiscoveryEngine) matchesPattern(filename string) bool {
	for _, pattern := range d.config.FilePatterns {
		if matched, err := filepath.Match(pattern, filename); err == nil && matched {
			return true
		}
	}
	return false
}

// parseManifestFile reads and parses one manifest file into a descriptor.
//
// The format is picked by filename via argus format detection; files with
// an unrecognized extension are tried as JSON first, then YAML, matching
// how hand-rolled manifests tend to be written.
func (d *DiscoveryEngine) parseManifestFile(filePath string) (*PluginDescriptor, error) {
	cleanPath := filepath.Clean(filePath)
	if !filepath.IsAbs(cleanPath) {
		return nil, NewManifestPathError(filePath, "manifest path must be absolute")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, NewManifestParseError(cleanPath, err)
	}

	var manifest PluginManifest
	switch argus.DetectFormat(cleanPath) {
	case argus.FormatJSON:
		err = json.Unmarshal(data, &manifest)
	case argus.FormatYAML:
		err = yaml.Unmarshal(data, &manifest)
	default:
		if err = json.Unmarshal(data, &manifest); err != nil {
			err = yaml.Unmarshal(data, &manifest)
		}
	}
	if err != nil {
		return nil, NewManifestParseError(cleanPath, err)
	}

	return manifest.Descriptor(cleanPath)
}

// countManifestError bumps the manifest error counter when metrics are
// wired.
func (d *DiscoveryEngine) countManifestError() {
	d.mu.RLock()
	metrics := d.metrics
	d.mu.RUnlock()
	if metrics != nil {
		metrics.ManifestErrors.Add(1)
	}
}
