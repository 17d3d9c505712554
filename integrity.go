// integrity.go: checksum-based module authorization
//
// The integrity validator authorizes module files before the loader maps
// them into the process. Authorization is driven by a JSON manifest of
// SHA-256 checksums. Policies range from disabled through audit-only and
// permissive up to strict, where any violation blocks the load.
//
// Audit events go through the Argus audit logger so integrity decisions
// share the same tamper-evident trail as configuration changes.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// IntegrityPolicy defines how integrity violations are enforced.
type IntegrityPolicy int

const (
	// IntegrityDisabled performs no integrity validation.
	IntegrityDisabled IntegrityPolicy = iota
	// IntegrityPermissive logs violations but allows loading.
	IntegrityPermissive
	// IntegrityStrict blocks loading on any violation.
	IntegrityStrict
	// IntegrityAuditOnly records every check without validating.
	IntegrityAuditOnly
)

func (p IntegrityPolicy) String() string {
	switch p {
	case IntegrityDisabled:
		return "disabled"
	case IntegrityPermissive:
		return "permissive"
	case IntegrityStrict:
		return "strict"
	case IntegrityAuditOnly:
		return "audit-only"
	default:
		return "unknown"
	}
}

// ParseIntegrityPolicy converts a policy name into an IntegrityPolicy.
func ParseIntegrityPolicy(name string) (IntegrityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "disabled":
		return IntegrityDisabled, nil
	case "permissive":
		return IntegrityPermissive, nil
	case "strict":
		return IntegrityStrict, nil
	case "audit-only", "audit_only", "auditonly":
		return IntegrityAuditOnly, nil
	default:
		return IntegrityDisabled, NewConfigValidationError("unknown integrity policy: "+name, nil)
	}
}

// HashAlgorithm names a supported checksum algorithm.
type HashAlgorithm string

// HashSHA256 is the only algorithm currently supported.
const HashSHA256 HashAlgorithm = "sha256"

// ModuleChecksum is one authorized module entry in the integrity manifest.
type ModuleChecksum struct {
	Name        string        `json:"name"`
	Version     string        `json:"version,omitempty"`
	Algorithm   HashAlgorithm `json:"algorithm,omitempty"`
	Checksum    string        `json:"checksum"`
	MaxFileSize int64         `json:"max_file_size,omitempty"`
	Description string        `json:"description,omitempty"`
	AddedAt     time.Time     `json:"added_at,omitempty"`
}

// IntegrityManifest is the on-disk list of authorized modules.
//
// Example:
//
//	{
//	  "version": "1",
//	  "algorithm": "sha256",
//	  "modules": {
//	    "auth": {"name": "auth", "checksum": "ab12..."}
//	  }
//	}
type IntegrityManifest struct {
	Version     string                    `json:"version"`
	UpdatedAt   time.Time                 `json:"updated_at,omitempty"`
	Description string                    `json:"description,omitempty"`
	Algorithm   HashAlgorithm             `json:"algorithm,omitempty"`
	Modules     map[string]ModuleChecksum `json:"modules"`
}

// IntegrityAuditConfig controls audit logging of integrity decisions.
type IntegrityAuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	OutputFile    string `json:"output_file,omitempty" yaml:"output_file,omitempty"`
	LogAuthorized bool   `json:"log_authorized,omitempty" yaml:"log_authorized,omitempty"`
	LogRejected   bool   `json:"log_rejected,omitempty" yaml:"log_rejected,omitempty"`
}

// IntegrityConfig configures the integrity validator.
type IntegrityConfig struct {
	// Enabled turns integrity validation on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Policy selects the enforcement mode.
	Policy IntegrityPolicy `json:"-" yaml:"-"`

	// PolicyName is the textual form of Policy for config files.
	PolicyName string `json:"policy,omitempty" yaml:"policy,omitempty"`

	// ManifestFile is the path of the integrity manifest JSON.
	ManifestFile string `json:"manifest_file,omitempty" yaml:"manifest_file,omitempty"`

	// MaxFileSize caps module file size in bytes. Zero means 100MB.
	MaxFileSize int64 `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`

	// WatchManifest reloads the manifest when it changes on disk.
	WatchManifest bool `json:"watch_manifest,omitempty" yaml:"watch_manifest,omitempty"`

	// Audit configures the audit trail.
	Audit IntegrityAuditConfig `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// withDefaults fills unset fields with their documented defaults.
func (c IntegrityConfig) withDefaults() IntegrityConfig {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	return c
}

// IntegrityStats tracks integrity validation counters.
type IntegrityStats struct {
	Checks             int64     `json:"checks"`
	Authorized         int64     `json:"authorized"`
	Rejected           int64     `json:"rejected"`
	ChecksumMismatches int64     `json:"checksum_mismatches"`
	ManifestReloads    int64     `json:"manifest_reloads"`
	LastCheck          time.Time `json:"last_check"`
	LastReload         time.Time `json:"last_reload"`
}

// IntegrityValidator validates module files against the integrity
// manifest.
//
// The validator is safe for concurrent use. All decisions respect the
// configured policy: strict rejections return errors, permissive ones are
// logged and counted but let the load proceed.
type IntegrityValidator struct {
	config IntegrityConfig
	logger Logger

	mu       sync.RWMutex
	manifest *IntegrityManifest
	stats    IntegrityStats
	metrics  *RuntimeMetrics
	events   *eventDispatcher

	auditLogger *argus.AuditLogger
}

// NewIntegrityValidator creates an integrity validator. When validation is
// enabled the manifest is loaded eagerly so startup fails fast on a broken
// manifest. Audit setup failures are logged, not fatal.
func NewIntegrityValidator(config IntegrityConfig, logger Logger) (*IntegrityValidator, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	config = config.withDefaults()

	validator := &IntegrityValidator{
		config: config,
		logger: logger,
		events: newEventDispatcher(logger, nil),
	}

	if config.Enabled && config.Policy != IntegrityDisabled && config.ManifestFile != "" {
		if err := validator.ReloadManifest(); err != nil {
			return nil, err
		}
	}

	if config.Audit.Enabled && config.Audit.OutputFile != "" {
		if err := validator.setupAudit(); err != nil {
			logger.Warn("Failed to set up integrity audit logging", "error", err)
		}
	}

	return validator, nil
}

// setupAudit configures the Argus audit logger for integrity events.
func (iv *IntegrityValidator) setupAudit() error {
	auditConfig := argus.AuditConfig{
		Enabled:       true,
		OutputFile:    iv.config.Audit.OutputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		IncludeStack:  false,
	}

	auditor, err := argus.NewAuditLogger(auditConfig)
	if err != nil {
		return NewAuditFailureError("failed to create audit logger", err)
	}

	iv.auditLogger = auditor
	iv.logger.Info("Integrity audit logging enabled", "file", iv.config.Audit.OutputFile)
	return nil
}

// Enabled reports whether the validator performs any work.
func (iv *IntegrityValidator) Enabled() bool {
	return iv.config.Enabled && iv.config.Policy != IntegrityDisabled
}

// Policy returns the configured enforcement policy.
func (iv *IntegrityValidator) Policy() IntegrityPolicy {
	return iv.config.Policy
}

// ManifestFile returns the configured manifest path.
func (iv *IntegrityValidator) ManifestFile() string {
	return iv.config.ManifestFile
}

// setMetrics wires the runtime's metrics aggregate.
func (iv *IntegrityValidator) setMetrics(metrics *RuntimeMetrics) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.metrics = metrics
}

// setDispatcher shares the runtime's event dispatcher.
func (iv *IntegrityValidator) setDispatcher(events *eventDispatcher) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.events = events
}

// ReloadManifest loads or reloads the integrity manifest from disk.
func (iv *IntegrityValidator) ReloadManifest() error {
	if iv.config.ManifestFile == "" {
		return NewIntegrityManifestError("", fmt.Errorf("manifest file not configured"))
	}

	data, err := os.ReadFile(iv.config.ManifestFile) // #nosec G304 - operator-configured path
	if err != nil {
		return NewIntegrityManifestError(iv.config.ManifestFile, err)
	}

	var manifest IntegrityManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return NewIntegrityManifestError(iv.config.ManifestFile, err)
	}
	if err := validateIntegrityManifest(&manifest); err != nil {
		return NewIntegrityManifestError(iv.config.ManifestFile, err)
	}

	iv.mu.Lock()
	iv.manifest = &manifest
	iv.stats.ManifestReloads++
	iv.stats.LastReload = timecache.CachedTime()
	iv.mu.Unlock()

	iv.logger.Info("Integrity manifest loaded",
		"file", iv.config.ManifestFile,
		"modules", len(manifest.Modules),
		"version", manifest.Version)
	return nil
}

// validateIntegrityManifest checks manifest structure and fills per-entry
// defaults.
func validateIntegrityManifest(manifest *IntegrityManifest) error {
	if manifest.Modules == nil {
		return fmt.Errorf("manifest must contain a modules map")
	}
	if manifest.Algorithm == "" {
		manifest.Algorithm = HashSHA256
	}
	if manifest.Algorithm != HashSHA256 {
		return fmt.Errorf("unsupported hash algorithm: %s", manifest.Algorithm)
	}

	for name, entry := range manifest.Modules {
		if entry.Name == "" {
			entry.Name = name
		}
		if entry.Name != name {
			return fmt.Errorf("module name mismatch: key %s != entry name %s", name, entry.Name)
		}
		if entry.Checksum == "" {
			return fmt.Errorf("module %s missing checksum", name)
		}
		if entry.Algorithm == "" {
			entry.Algorithm = manifest.Algorithm
		}
		manifest.Modules[name] = entry
	}
	return nil
}

// ValidateModule checks one module against the integrity manifest before
// loading. The name identifies the manifest entry; version and path come
// from the plugin descriptor.
//
// Under the strict policy any violation returns an error. Under the
// permissive policy violations are logged and counted but nil is returned.
// Audit-only records the check and validates nothing. Scheme-prefixed
// paths such as "static://" are authorized by name only, since there is no
// file to hash.
func (iv *IntegrityValidator) ValidateModule(name string, version string, path string) error {
	if !iv.Enabled() {
		return nil
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()

	iv.stats.Checks++
	iv.stats.LastCheck = timecache.CachedTime()
	if iv.metrics != nil {
		iv.metrics.IntegrityChecks.Add(1)
	}

	if iv.config.Policy == IntegrityAuditOnly {
		iv.stats.Authorized++
		iv.audit("module_checked", true, name, path, map[string]interface{}{
			"policy":  iv.config.Policy.String(),
			"version": version,
		})
		return nil
	}

	if iv.manifest == nil {
		return iv.reject(name, path, NewIntegrityManifestError(iv.config.ManifestFile,
			fmt.Errorf("integrity manifest not loaded")))
	}

	entry, ok := iv.manifest.Modules[name]
	if !ok {
		return iv.reject(name, path, NewModuleNotAuthorizedError(name, path))
	}

	if entry.Version != "" && entry.Version != version {
		return iv.reject(name, path, NewModuleNotAuthorizedError(name, path).
			WithContext("expected_version", entry.Version).
			WithContext("actual_version", version))
	}

	if hasPathScheme(path) {
		iv.stats.Authorized++
		iv.auditAuthorized(name, path, version)
		return nil
	}

	if err := iv.checkFileSize(name, path, entry); err != nil {
		return iv.reject(name, path, err)
	}

	actual, err := hashFileSHA256(path)
	if err != nil {
		return iv.reject(name, path, err)
	}
	if actual != entry.Checksum {
		iv.stats.ChecksumMismatches++
		return iv.reject(name, path, NewChecksumMismatchError(name, path, entry.Checksum, actual))
	}

	iv.stats.Authorized++
	iv.auditAuthorized(name, path, version)
	return nil
}

// checkFileSize enforces the per-entry or global file size cap.
func (iv *IntegrityValidator) checkFileSize(name string, path string, entry ModuleChecksum) error {
	maxSize := entry.MaxFileSize
	if maxSize == 0 {
		maxSize = iv.config.MaxFileSize
	}
	if maxSize <= 0 {
		return nil
	}

	stat, err := os.Stat(path)
	if err != nil {
		return NewHashFailureError(path, err)
	}
	if stat.Size() > maxSize {
		return NewModuleNotAuthorizedError(name, path).
			WithContext("file_size", stat.Size()).
			WithContext("max_file_size", maxSize)
	}
	return nil
}

// reject applies the enforcement policy to a violation. Callers hold the
// mutex.
func (iv *IntegrityValidator) reject(name string, path string, cause error) error {
	iv.stats.Rejected++
	if iv.metrics != nil {
		iv.metrics.IntegrityRejections.Add(1)
	}
	if iv.events != nil {
		iv.events.emit(RuntimeEvent{
			Type:   EventIntegrityRejected,
			Plugin: name,
			Path:   path,
			Err:    cause,
		})
	}
	iv.audit("module_rejected", false, name, path, map[string]interface{}{
		"policy": iv.config.Policy.String(),
		"reason": cause.Error(),
	})

	if iv.config.Policy == IntegrityPermissive {
		iv.logger.Warn("Integrity violation allowed by permissive policy",
			"plugin", name, "path", path, "error", cause)
		return nil
	}

	iv.logger.Error("Integrity validation rejected module",
		"plugin", name, "path", path, "error", cause)
	return cause
}

// auditAuthorized records a successful check when configured to.
func (iv *IntegrityValidator) auditAuthorized(name string, path string, version string) {
	if !iv.config.Audit.LogAuthorized {
		return
	}
	iv.audit("module_authorized", true, name, path, map[string]interface{}{
		"policy":  iv.config.Policy.String(),
		"version": version,
	})
}

// audit writes one integrity decision to the audit trail.
func (iv *IntegrityValidator) audit(event string, authorized bool, name string, path string, details map[string]interface{}) {
	if iv.auditLogger == nil || !iv.config.Audit.Enabled {
		return
	}
	if !authorized && !iv.config.Audit.LogRejected {
		return
	}

	ctx := map[string]interface{}{
		"plugin_name": name,
		"module_path": path,
		"authorized":  authorized,
	}
	for k, v := range details {
		ctx[k] = v
	}
	iv.auditLogger.LogSecurityEvent(event, "Module integrity validation event", ctx)
}

// Stats returns a snapshot of the validation counters.
func (iv *IntegrityValidator) Stats() IntegrityStats {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.stats
}

// Close flushes and closes the audit logger.
func (iv *IntegrityValidator) Close() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	if iv.auditLogger != nil {
		if err := iv.auditLogger.Close(); err != nil {
			return NewAuditFailureError("failed to close audit logger", err)
		}
		iv.auditLogger = nil
	}
	return nil
}

// hasPathScheme reports whether a module path carries a scheme prefix
// instead of naming a file.
func hasPathScheme(path string) bool {
	return strings.Contains(path, "://")
}

// hashFileSHA256 computes the hex SHA-256 checksum of a file.
//
// Paths containing traversal sequences are refused outright; everything
// else is the operator's responsibility, since plugin directories
// legitimately live outside the working directory.
func hashFileSHA256(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return "", NewHashFailureError(path, fmt.Errorf("path contains directory traversal"))
	}

	file, err := os.Open(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return "", NewHashFailureError(path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", NewHashFailureError(path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ComputeModuleChecksum hashes a module file for inclusion in an integrity
// manifest. Deployment tooling uses this to build and refresh manifests.
func ComputeModuleChecksum(path string) (string, error) {
	return hashFileSHA256(path)
}
