// types_test.go: tests for node states and shared data types
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeState_String(t *testing.T) {
	tests := []struct {
		name     string
		state    NodeState
		expected string
	}{
		{"StateDiscovered", StateDiscovered, "discovered"},
		{"StateQueued", StateQueued, "queued"},
		{"StateLoading", StateLoading, "loading"},
		{"StateLoaded", StateLoaded, "loaded"},
		{"StateFailed", StateFailed, "failed"},
		{"InvalidState", NodeState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestNodeState_Terminal(t *testing.T) {
	assert.False(t, StateDiscovered.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateLoading.Terminal())
	assert.True(t, StateLoaded.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestNodeState_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    NodeState
		to      NodeState
		allowed bool
	}{
		{"DiscoveredToQueued", StateDiscovered, StateQueued, true},
		{"DiscoveredToLoading", StateDiscovered, StateLoading, false},
		{"DiscoveredToLoaded", StateDiscovered, StateLoaded, false},
		{"QueuedToLoading", StateQueued, StateLoading, true},
		{"QueuedToLoaded", StateQueued, StateLoaded, false},
		{"QueuedToFailed", StateQueued, StateFailed, false},
		{"LoadingToLoaded", StateLoading, StateLoaded, true},
		{"LoadingToFailed", StateLoading, StateFailed, true},
		{"LoadingToQueued", StateLoading, StateQueued, false},
		{"LoadedIsFinal", StateLoaded, StateLoading, false},
		{"FailedIsFinal", StateFailed, StateQueued, false},
		{"FailedNoRetryToLoading", StateFailed, StateLoading, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.canTransition(tt.to),
				"transition %s -> %s", tt.from, tt.to)
		})
	}
}

func TestInstanceInfo_Creation(t *testing.T) {
	info := InstanceInfo{
		Name:        "metrics-exporter",
		Version:     "2.1.0",
		Description: "Exports runtime counters",
		Capabilities: []string{
			"export",
			"aggregate",
		},
		Metadata: map[string]string{
			"runtime": "go",
		},
	}

	assert.Equal(t, "metrics-exporter", info.Name)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, "Exports runtime counters", info.Description)
	assert.Contains(t, info.Capabilities, "export")
	assert.Contains(t, info.Capabilities, "aggregate")
	assert.Equal(t, "go", info.Metadata["runtime"])
}

func TestPluginRequest_Creation(t *testing.T) {
	t.Run("WithoutMinimum", func(t *testing.T) {
		req := NewPluginRequest("dashboard")
		assert.Equal(t, "dashboard", req.Name)
		assert.Nil(t, req.MinVersion)
	})

	t.Run("WithMinimum", func(t *testing.T) {
		req, err := NewPluginRequestWithMin("dashboard", "1.2.0")
		require.NoError(t, err)
		assert.Equal(t, "dashboard", req.Name)
		require.NotNil(t, req.MinVersion)
		assert.Equal(t, "1.2.0", req.MinVersion.String())
	})

	t.Run("WithInvalidMinimum", func(t *testing.T) {
		_, err := NewPluginRequestWithMin("dashboard", "not.a.version")
		require.Error(t, err)
	})
}
