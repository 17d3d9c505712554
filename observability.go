// observability.go: runtime metrics for discovery, resolution, and loading
//
// The runtime counts its own work with lock-free atomics and exposes the
// counters as an immutable snapshot. Host applications export the snapshot
// to whatever metrics system they run; this module deliberately owns no
// exporter.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// RuntimeMetrics aggregates counters across all runtime components. All
// fields are safe for concurrent update; read them through Snapshot.
type RuntimeMetrics struct {
	// Discovery
	DiscoveryRuns         atomic.Int64
	DescriptorsDiscovered atomic.Int64
	ManifestErrors        atomic.Int64

	// Resolution
	Resolutions        atomic.Int64
	ResolutionFailures atomic.Int64
	CyclesDetected     atomic.Int64

	// Loading
	PluginsLoaded   atomic.Int64
	LoadFailures    atomic.Int64
	PluginsUnloaded atomic.Int64

	// Integrity
	IntegrityChecks     atomic.Int64
	IntegrityRejections atomic.Int64

	// Recovery
	PanicsRecovered atomic.Int64

	lastResolutionNano atomic.Int64
	lastLoadNano       atomic.Int64
}

// NewRuntimeMetrics creates a zeroed metrics aggregate.
func NewRuntimeMetrics() *RuntimeMetrics {
	return &RuntimeMetrics{}
}

// recordResolution stamps the time of the most recent successful resolve.
func (m *RuntimeMetrics) recordResolution() {
	m.lastResolutionNano.Store(timecache.CachedTimeNano())
}

// recordLoad stamps the time of the most recent completed load pass.
func (m *RuntimeMetrics) recordLoad() {
	m.lastLoadNano.Store(timecache.CachedTimeNano())
}

// MetricsSnapshot is a point-in-time copy of the runtime counters.
type MetricsSnapshot struct {
	DiscoveryRuns         int64 `json:"discovery_runs"`
	DescriptorsDiscovered int64 `json:"descriptors_discovered"`
	ManifestErrors        int64 `json:"manifest_errors"`

	Resolutions        int64 `json:"resolutions"`
	ResolutionFailures int64 `json:"resolution_failures"`
	CyclesDetected     int64 `json:"cycles_detected"`

	PluginsLoaded   int64 `json:"plugins_loaded"`
	LoadFailures    int64 `json:"load_failures"`
	PluginsUnloaded int64 `json:"plugins_unloaded"`

	IntegrityChecks     int64 `json:"integrity_checks"`
	IntegrityRejections int64 `json:"integrity_rejections"`

	PanicsRecovered int64 `json:"panics_recovered"`

	LastResolution time.Time `json:"last_resolution,omitempty"`
	LastLoad       time.Time `json:"last_load,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Snapshot copies the current counter values.
func (m *RuntimeMetrics) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		DiscoveryRuns:         m.DiscoveryRuns.Load(),
		DescriptorsDiscovered: m.DescriptorsDiscovered.Load(),
		ManifestErrors:        m.ManifestErrors.Load(),
		Resolutions:           m.Resolutions.Load(),
		ResolutionFailures:    m.ResolutionFailures.Load(),
		CyclesDetected:        m.CyclesDetected.Load(),
		PluginsLoaded:         m.PluginsLoaded.Load(),
		LoadFailures:          m.LoadFailures.Load(),
		PluginsUnloaded:       m.PluginsUnloaded.Load(),
		IntegrityChecks:       m.IntegrityChecks.Load(),
		IntegrityRejections:   m.IntegrityRejections.Load(),
		PanicsRecovered:       m.PanicsRecovered.Load(),
		GeneratedAt:           timecache.CachedTime(),
	}
	if nano := m.lastResolutionNano.Load(); nano != 0 {
		snapshot.LastResolution = time.Unix(0, nano)
	}
	if nano := m.lastLoadNano.Load(); nano != 0 {
		snapshot.LastLoad = time.Unix(0, nano)
	}
	return snapshot
}
