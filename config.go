// config.go: runtime configuration loading, env expansion and validation
//
// The runtime configuration is a flat document covering discovery, version
// precedence, requested root plugins, timeouts, manifest watching and
// integrity enforcement. It loads from JSON or YAML files with format
// detection by Argus, supports ${VAR} expansion in path values, and can be
// overridden field by field through GO_LOADER_* environment variables.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

const (
	defaultLoadTimeout       = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultWatchPollInterval = 2 * time.Second

	// EnvPrefix is the prefix of all environment variable overrides.
	EnvPrefix = "GO_LOADER_"
)

// Duration is a time.Duration that unmarshals from both duration strings
// ("30s", "1m30s") and integer nanoseconds, in JSON and YAML alike.
type Duration time.Duration

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON renders the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(data))
	}
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt))
		return nil
	}
	var asString string
	if err := node.Decode(&asString); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// RequestConfig declares one requested root plugin in a config file.
type RequestConfig struct {
	Name       string `json:"name" yaml:"name"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// toRequest converts the declaration into a resolution request.
func (r RequestConfig) toRequest() (PluginRequest, error) {
	if r.MinVersion == "" {
		return NewPluginRequest(r.Name), nil
	}
	return NewPluginRequestWithMin(r.Name, r.MinVersion)
}

// RuntimeConfig is the full configuration of a plugin runtime.
//
// Example YAML:
//
//	search_paths: ["/opt/plugins"]
//	precedence: highest_version
//	load_timeout: 30s
//	plugins:
//	  - name: dashboard
//	integrity:
//	  enabled: true
//	  policy: strict
//	  manifest_file: /etc/loader/integrity.json
type RuntimeConfig struct {
	// SearchPaths are the plugin manifest directories, in precedence
	// order.
	SearchPaths []string `json:"search_paths" yaml:"search_paths"`

	// FilePatterns are the manifest filename patterns. Empty means the
	// discovery defaults.
	FilePatterns []string `json:"file_patterns,omitempty" yaml:"file_patterns,omitempty"`

	// MaxDepth bounds discovery recursion. Zero means the default of 5.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`

	// ExcludePaths skips any discovery path containing one of these
	// substrings.
	ExcludePaths []string `json:"exclude_paths,omitempty" yaml:"exclude_paths,omitempty"`

	// FollowSymlinks enables traversal through symbolic links.
	FollowSymlinks bool `json:"follow_symlinks,omitempty" yaml:"follow_symlinks,omitempty"`

	// ScanTimeout bounds one discovery pass. Zero means 30 seconds.
	ScanTimeout Duration `json:"scan_timeout,omitempty" yaml:"scan_timeout,omitempty"`

	// Plugins are the requested root plugins. Empty means every
	// discovered plugin is a root.
	Plugins []RequestConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`

	// PrecedenceName selects how multiple discovered versions of a name
	// are chosen: "highest_version" (default) or "path_order".
	PrecedenceName string `json:"precedence,omitempty" yaml:"precedence,omitempty"`

	// Precedence is the parsed form of PrecedenceName.
	Precedence VersionPrecedence `json:"-" yaml:"-"`

	// LoadTimeout bounds the whole load phase. Zero means 30 seconds.
	LoadTimeout Duration `json:"load_timeout,omitempty" yaml:"load_timeout,omitempty"`

	// ShutdownTimeout bounds teardown. Zero means 10 seconds.
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`

	// WatchManifests enables filesystem watching of the search paths and
	// emits events when manifests change.
	WatchManifests bool `json:"watch_manifests,omitempty" yaml:"watch_manifests,omitempty"`

	// WatchPollInterval is the manifest watcher poll interval. Zero
	// means 2 seconds.
	WatchPollInterval Duration `json:"watch_poll_interval,omitempty" yaml:"watch_poll_interval,omitempty"`

	// Integrity configures checksum-based module authorization.
	Integrity IntegrityConfig `json:"integrity,omitempty" yaml:"integrity,omitempty"`
}

// DefaultRuntimeConfig returns a configuration with all defaults applied
// and no search paths.
func DefaultRuntimeConfig() RuntimeConfig {
	config := RuntimeConfig{}
	config.applyDefaults()
	return config
}

// applyDefaults fills zero-valued fields in place.
func (c *RuntimeConfig) applyDefaults() {
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = Duration(defaultScanTimeout)
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = Duration(defaultLoadTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = Duration(defaultShutdownTimeout)
	}
	if c.WatchPollInterval <= 0 {
		c.WatchPollInterval = Duration(defaultWatchPollInterval)
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaultMaxDepth
	}
	if len(c.FilePatterns) == 0 {
		c.FilePatterns = append([]string(nil), defaultFilePatterns...)
	}
	c.Integrity = c.Integrity.withDefaults()
}

// Normalize applies defaults and parses the textual policy fields. It
// returns the normalized copy so callers can chain it.
func (c RuntimeConfig) Normalize() (RuntimeConfig, error) {
	c.applyDefaults()

	if c.PrecedenceName != "" {
		precedence, err := ParseVersionPrecedence(c.PrecedenceName)
		if err != nil {
			return c, err
		}
		c.Precedence = precedence
	}
	if c.Integrity.PolicyName != "" {
		policy, err := ParseIntegrityPolicy(c.Integrity.PolicyName)
		if err != nil {
			return c, err
		}
		c.Integrity.Policy = policy
	}
	return c, nil
}

// Validate checks the configuration for inconsistencies. It assumes
// Normalize ran first.
func (c RuntimeConfig) Validate() error {
	for i, path := range c.SearchPaths {
		if strings.TrimSpace(path) == "" {
			return NewConfigValidationError(fmt.Sprintf("search path %d is empty", i), nil)
		}
	}
	for i, pattern := range c.FilePatterns {
		if strings.TrimSpace(pattern) == "" {
			return NewConfigValidationError(fmt.Sprintf("file pattern %d is empty", i), nil)
		}
	}
	for i, request := range c.Plugins {
		if strings.TrimSpace(request.Name) == "" {
			return NewConfigValidationError(fmt.Sprintf("plugin request %d has no name", i), nil)
		}
		if request.MinVersion != "" {
			if _, err := ParseVersion(request.MinVersion); err != nil {
				return NewConfigValidationError(
					fmt.Sprintf("plugin request %s has invalid min_version %s", request.Name, request.MinVersion), err)
			}
		}
	}
	if c.Integrity.Enabled && c.Integrity.Policy != IntegrityDisabled &&
		c.Integrity.Policy != IntegrityAuditOnly && c.Integrity.ManifestFile == "" {
		return NewConfigValidationError("integrity enforcement requires a manifest file", nil)
	}
	return nil
}

// discoveryConfig projects the discovery-related fields.
func (c RuntimeConfig) discoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		SearchPaths:    append([]string(nil), c.SearchPaths...),
		FilePatterns:   append([]string(nil), c.FilePatterns...),
		MaxDepth:       c.MaxDepth,
		ExcludePaths:   append([]string(nil), c.ExcludePaths...),
		FollowSymlinks: c.FollowSymlinks,
		ScanTimeout:    c.ScanTimeout.Duration(),
	}
}

// requests converts the configured plugin declarations into resolution
// requests.
func (c RuntimeConfig) requests() ([]PluginRequest, error) {
	requests := make([]PluginRequest, 0, len(c.Plugins))
	for _, declared := range c.Plugins {
		request, err := declared.toRequest()
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// LoadRuntimeConfigFromFile reads, parses, expands and validates a runtime
// configuration file. The format is detected from the filename; JSON and
// YAML are supported.
func LoadRuntimeConfigFromFile(path string) (RuntimeConfig, error) {
	var config RuntimeConfig

	data, err := os.ReadFile(path) // #nosec G304 - operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return config, NewConfigNotFoundError(path)
		}
		return config, NewConfigParseError(path, err)
	}

	switch argus.DetectFormat(path) {
	case argus.FormatJSON:
		err = json.Unmarshal(data, &config)
	case argus.FormatYAML:
		err = yaml.Unmarshal(data, &config)
	default:
		if err = json.Unmarshal(data, &config); err != nil {
			err = yaml.Unmarshal(data, &config)
		}
	}
	if err != nil {
		return config, NewConfigParseError(path, err)
	}

	if err := config.ExpandEnv(DefaultEnvOptions()); err != nil {
		return config, err
	}
	config, err = config.Normalize()
	if err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// EnvOptions configures ${VAR} expansion inside configuration values.
type EnvOptions struct {
	// Prefix is tried before the bare variable name, so ${MANIFESTS}
	// resolves GO_LOADER_MANIFESTS first.
	Prefix string

	// FailOnMissing turns unresolvable variables into errors instead of
	// empty strings.
	FailOnMissing bool

	// Defaults supplies values for variables missing from the
	// environment.
	Defaults map[string]string
}

// DefaultEnvOptions returns the expansion options used by config loading.
func DefaultEnvOptions() EnvOptions {
	return EnvOptions{Prefix: EnvPrefix}
}

// envVariablePattern matches ${VAR} and ${VAR:-default}.
var envVariablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvVars expands ${VAR} and ${VAR:-default} placeholders in a
// string. Resolution tries the prefixed variable, the bare variable, the
// inline default, then the configured defaults.
func ExpandEnvVars(input string, options EnvOptions) (string, error) {
	if input == "" || !strings.Contains(input, "${") {
		return input, nil
	}

	var expandErr error
	result := envVariablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := envVariablePattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		name := submatches[1]
		inlineDefault := ""
		if len(submatches) >= 4 {
			inlineDefault = submatches[3]
		}

		if value := os.Getenv(options.Prefix + name); value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		if inlineDefault != "" {
			return inlineDefault
		}
		if value, ok := options.Defaults[name]; ok {
			return value
		}
		if options.FailOnMissing && expandErr == nil {
			expandErr = NewConfigValidationError("required environment variable not found: "+name, nil)
		}
		return ""
	})
	return result, expandErr
}

// ExpandEnv expands ${VAR} placeholders in every path-valued field of the
// configuration.
func (c *RuntimeConfig) ExpandEnv(options EnvOptions) error {
	var err error
	for i, path := range c.SearchPaths {
		if c.SearchPaths[i], err = ExpandEnvVars(path, options); err != nil {
			return err
		}
	}
	for i, path := range c.ExcludePaths {
		if c.ExcludePaths[i], err = ExpandEnvVars(path, options); err != nil {
			return err
		}
	}
	if c.Integrity.ManifestFile, err = ExpandEnvVars(c.Integrity.ManifestFile, options); err != nil {
		return err
	}
	if c.Integrity.Audit.OutputFile, err = ExpandEnvVars(c.Integrity.Audit.OutputFile, options); err != nil {
		return err
	}
	return nil
}

// ApplyEnvOverrides overlays GO_LOADER_* environment variables onto the
// configuration. List values use the comma separator.
//
// Recognized variables: SEARCH_PATHS, FILE_PATTERNS, EXCLUDE_PATHS,
// MAX_DEPTH, FOLLOW_SYMLINKS, PRECEDENCE, LOAD_TIMEOUT, SHUTDOWN_TIMEOUT,
// SCAN_TIMEOUT, WATCH_MANIFESTS, INTEGRITY_ENABLED, INTEGRITY_POLICY,
// INTEGRITY_MANIFEST.
func (c *RuntimeConfig) ApplyEnvOverrides() error {
	if value := os.Getenv(EnvPrefix + "SEARCH_PATHS"); value != "" {
		c.SearchPaths = splitListValue(value)
	}
	if value := os.Getenv(EnvPrefix + "FILE_PATTERNS"); value != "" {
		c.FilePatterns = splitListValue(value)
	}
	if value := os.Getenv(EnvPrefix + "EXCLUDE_PATHS"); value != "" {
		c.ExcludePaths = splitListValue(value)
	}
	if value := os.Getenv(EnvPrefix + "MAX_DEPTH"); value != "" {
		depth, err := strconv.Atoi(value)
		if err != nil {
			return NewConfigValidationError("invalid "+EnvPrefix+"MAX_DEPTH: "+value, err)
		}
		c.MaxDepth = depth
	}
	if value := os.Getenv(EnvPrefix + "FOLLOW_SYMLINKS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return NewConfigValidationError("invalid "+EnvPrefix+"FOLLOW_SYMLINKS: "+value, err)
		}
		c.FollowSymlinks = enabled
	}
	if value := os.Getenv(EnvPrefix + "PRECEDENCE"); value != "" {
		c.PrecedenceName = value
	}
	if err := applyDurationOverride(EnvPrefix+"LOAD_TIMEOUT", &c.LoadTimeout); err != nil {
		return err
	}
	if err := applyDurationOverride(EnvPrefix+"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout); err != nil {
		return err
	}
	if err := applyDurationOverride(EnvPrefix+"SCAN_TIMEOUT", &c.ScanTimeout); err != nil {
		return err
	}
	if value := os.Getenv(EnvPrefix + "WATCH_MANIFESTS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return NewConfigValidationError("invalid "+EnvPrefix+"WATCH_MANIFESTS: "+value, err)
		}
		c.WatchManifests = enabled
	}
	if value := os.Getenv(EnvPrefix + "INTEGRITY_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return NewConfigValidationError("invalid "+EnvPrefix+"INTEGRITY_ENABLED: "+value, err)
		}
		c.Integrity.Enabled = enabled
	}
	if value := os.Getenv(EnvPrefix + "INTEGRITY_POLICY"); value != "" {
		c.Integrity.PolicyName = value
	}
	if value := os.Getenv(EnvPrefix + "INTEGRITY_MANIFEST"); value != "" {
		c.Integrity.ManifestFile = value
	}
	return nil
}

// applyDurationOverride parses one duration-valued environment variable.
func applyDurationOverride(name string, target *Duration) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return NewConfigValidationError("invalid "+name+": "+value, err)
	}
	*target = Duration(parsed)
	return nil
}

// splitListValue splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitListValue(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
