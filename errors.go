// errors.go: structured error definitions for the go-loader runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the go-loader runtime
const (
	// Descriptor errors (1100-1199)
	ErrCodeMalformedDescriptor = "DESCRIPTOR_1101"
	ErrCodeInvalidVersion      = "DESCRIPTOR_1102"
	ErrCodeDuplicateDependency = "DESCRIPTOR_1103"
	ErrCodeDuplicateDescriptor = "DESCRIPTOR_1104"
	ErrCodeInvalidPluginName   = "DESCRIPTOR_1105"

	// Resolution errors (1200-1299)
	ErrCodeUnresolvedDependency = "RESOLVE_1201"
	ErrCodeCyclicDependency     = "RESOLVE_1202"
	ErrCodeNoSatisfyingVersion  = "RESOLVE_1203"
	ErrCodeNothingToResolve     = "RESOLVE_1204"

	// Load errors (1300-1399)
	ErrCodeLoadFailure        = "LOAD_1301"
	ErrCodeInterfaceMismatch  = "LOAD_1302"
	ErrCodeVersionTooLow      = "LOAD_1303"
	ErrCodeAlreadyResolved    = "LOAD_1304"
	ErrCodeNotYetResolved     = "LOAD_1305"
	ErrCodePluginNotFound     = "LOAD_1306"
	ErrCodeInvalidStateChange = "LOAD_1307"

	// Discovery errors (1400-1499)
	ErrCodeDiscoveryFailure = "DISCOVERY_1401"
	ErrCodeManifestParse    = "DISCOVERY_1402"
	ErrCodeManifestPath     = "DISCOVERY_1403"

	// Configuration errors (1500-1599)
	ErrCodeConfigValidation = "CONFIG_1501"
	ErrCodeConfigNotFound   = "CONFIG_1502"
	ErrCodeConfigParse      = "CONFIG_1503"
	ErrCodeWatcherFailure   = "CONFIG_1504"

	// Integrity errors (1600-1699)
	ErrCodeIntegrityManifest   = "INTEGRITY_1601"
	ErrCodeModuleNotAuthorized = "INTEGRITY_1602"
	ErrCodeChecksumMismatch    = "INTEGRITY_1603"
	ErrCodeHashFailure         = "INTEGRITY_1604"
	ErrCodeAuditFailure        = "INTEGRITY_1605"

	// Runtime errors (1700-1799)
	ErrCodeRuntimeState   = "RUNTIME_1701"
	ErrCodeModuleRegistry = "RUNTIME_1702"
	ErrCodeHostFailure    = "RUNTIME_1703"
	ErrCodePanicRecovered = "RUNTIME_1704"
)

// Descriptor error constructors

func NewMalformedDescriptorError(name string, reason string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeMalformedDescriptor, "Malformed descriptor: "+reason).
			WithUserMessage("The plugin descriptor is invalid").
			WithContext("plugin_name", name).
			WithSeverity("error")
	}
	return errors.New(ErrCodeMalformedDescriptor, "Malformed descriptor: "+reason).
		WithUserMessage("The plugin descriptor is invalid").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewInvalidVersionError(raw string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInvalidVersion, "Invalid version string").
		WithUserMessage("The version string is not valid semantic versioning").
		WithContext("raw_version", raw).
		WithSeverity("error")
}

func NewDuplicateDependencyError(name string, target string) *errors.Error {
	return errors.New(ErrCodeDuplicateDependency, "Duplicate dependency declaration").
		WithUserMessage("A plugin may declare each dependency target at most once").
		WithContext("plugin_name", name).
		WithContext("dependency_target", target).
		WithSeverity("error")
}

func NewDuplicateDescriptorError(name string, version string, path string) *errors.Error {
	return errors.New(ErrCodeDuplicateDescriptor, "Duplicate descriptor").
		WithUserMessage("A descriptor with the same name, version and module path is already registered").
		WithContext("plugin_name", name).
		WithContext("plugin_version", version).
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewInvalidPluginNameError(name string, message string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginName, "Invalid plugin name: "+message).
		WithUserMessage("The plugin name contains forbidden characters").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

// Resolution error constructors

func NewUnresolvedDependencyError(target string, requester string) *errors.Error {
	return errors.New(ErrCodeUnresolvedDependency, "Unresolved dependency: "+target).
		WithUserMessage("A required plugin was not found among the discovered descriptors").
		WithContext("dependency_target", target).
		WithContext("requested_by", requester).
		WithSeverity("error")
}

func NewCyclicDependencyError(cycle []string) *errors.Error {
	return errors.New(ErrCodeCyclicDependency, "Cyclic dependency detected: "+strings.Join(cycle, " -> ")).
		WithUserMessage("The plugin dependency graph contains a cycle and cannot be ordered").
		WithContext("cycle", cycle).
		WithSeverity("error")
}

func NewNoSatisfyingVersionError(name string, required string, available []string) *errors.Error {
	return errors.New(ErrCodeNoSatisfyingVersion, "No satisfying version for plugin "+name).
		WithUserMessage("No discovered descriptor version satisfies the strictest dependency requirement").
		WithContext("plugin_name", name).
		WithContext("required_version", required).
		WithContext("available_versions", available).
		WithSeverity("error")
}

func NewNothingToResolveError() *errors.Error {
	return errors.New(ErrCodeNothingToResolve, "Nothing to resolve").
		WithUserMessage("No root plugins were requested and no descriptors were discovered").
		WithSeverity("error")
}

// Load error constructors

func NewModuleLoadError(name string, path string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeLoadFailure, "Module load failed").
			WithUserMessage("The plugin module could not be opened or instantiated").
			WithContext("plugin_name", name).
			WithContext("module_path", path).
			WithSeverity("error")
	}
	return errors.New(ErrCodeLoadFailure, "Module load failed").
		WithUserMessage("The plugin module could not be opened or instantiated").
		WithContext("plugin_name", name).
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewInterfaceMismatchError(name string, path string, detail string) *errors.Error {
	return errors.New(ErrCodeInterfaceMismatch, "Interface mismatch: "+detail).
		WithUserMessage("The plugin module does not expose the required capability contract").
		WithContext("plugin_name", name).
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewVersionTooLowError(name string, loaded string, required string) *errors.Error {
	return errors.New(ErrCodeVersionTooLow, "Plugin version too low").
		WithUserMessage("The loaded plugin reports a version below the strictest dependency requirement").
		WithContext("plugin_name", name).
		WithContext("loaded_version", loaded).
		WithContext("required_version", required).
		WithSeverity("error")
}

func NewAlreadyResolvedError(name string) *errors.Error {
	return errors.New(ErrCodeAlreadyResolved, "Plugin instance already assigned").
		WithUserMessage("A plugin node accepts exactly one instance assignment").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewNotYetResolvedError(name string) *errors.Error {
	return errors.New(ErrCodeNotYetResolved, "Plugin instance not yet assigned").
		WithUserMessage("The plugin has not finished loading").
		WithContext("plugin_name", name).
		WithSeverity("warning").
		AsRetryable()
}

func NewPluginNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("The requested plugin is not part of the current resolution").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewInvalidStateChangeError(name string, from NodeState, to NodeState) *errors.Error {
	return errors.New(ErrCodeInvalidStateChange, "Invalid state change: "+from.String()+" -> "+to.String()).
		WithUserMessage("The plugin lifecycle does not permit this state change").
		WithContext("plugin_name", name).
		WithContext("from_state", from.String()).
		WithContext("to_state", to.String()).
		WithSeverity("error")
}

// Discovery error constructors

func NewDiscoveryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDiscoveryFailure, "Discovery error: "+message).
		WithUserMessage("Plugin discovery failed").
		WithSeverity("error")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Manifest parse error").
		WithUserMessage("Failed to parse plugin manifest").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewManifestPathError(path string, message string) *errors.Error {
	return errors.New(ErrCodeManifestPath, "Manifest path error: "+message).
		WithUserMessage("Invalid plugin manifest path").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

// Configuration error constructors

func NewConfigValidationError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigValidation, "Configuration validation error: "+message).
			WithUserMessage("Runtime configuration validation failed").
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigValidation, "Configuration validation error: "+message).
		WithUserMessage("Runtime configuration validation failed").
		WithSeverity("error")
}

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file could not be found").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParse, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeWatcherFailure, "Watcher error: "+message).
		WithUserMessage("Manifest monitoring failed").
		WithSeverity("error")
}

// Integrity error constructors

func NewIntegrityManifestError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeIntegrityManifest, "Integrity manifest error").
		WithUserMessage("Failed to load the module integrity manifest").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewModuleNotAuthorizedError(name string, path string) *errors.Error {
	return errors.New(ErrCodeModuleNotAuthorized, "Module not authorized").
		WithUserMessage("The module is not present in the integrity manifest").
		WithContext("plugin_name", name).
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewChecksumMismatchError(name string, path string, expected string, actual string) *errors.Error {
	return errors.New(ErrCodeChecksumMismatch, "Module checksum mismatch").
		WithUserMessage("The module on disk does not match its recorded checksum").
		WithContext("plugin_name", name).
		WithContext("module_path", path).
		WithContext("expected_hash", expected).
		WithContext("actual_hash", actual).
		WithSeverity("error")
}

func NewHashFailureError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHashFailure, "Hash computation failed").
		WithUserMessage("The module file could not be hashed").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewAuditFailureError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAuditFailure, "Audit error: "+message).
		WithUserMessage("Integrity audit logging failed").
		WithSeverity("warning")
}

// Runtime error constructors

func NewRuntimeStateError(message string) *errors.Error {
	return errors.New(ErrCodeRuntimeState, "Runtime state error: "+message).
		WithUserMessage("The runtime is not in a state that permits this operation").
		WithSeverity("error")
}

func NewModuleRegistryError(path string, message string) *errors.Error {
	return errors.New(ErrCodeModuleRegistry, "Module registry error: "+message).
		WithUserMessage("Static module registration failed").
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewHostFailureError(host string, path string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeHostFailure, "Module host failure").
			WithUserMessage("The module host could not open the requested module").
			WithContext("host", host).
			WithContext("module_path", path).
			WithSeverity("error")
	}
	return errors.New(ErrCodeHostFailure, "Module host failure").
		WithUserMessage("The module host could not open the requested module").
		WithContext("host", host).
		WithContext("module_path", path).
		WithSeverity("error")
}

func NewPanicRecoveredError(component string, recovered interface{}) *errors.Error {
	return errors.New(ErrCodePanicRecovered, "Panic recovered").
		WithUserMessage("A plugin operation panicked and was contained").
		WithContext("component", component).
		WithContext("panic_value", recovered).
		WithSeverity("error")
}
