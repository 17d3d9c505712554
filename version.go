// version.go: semantic version parsing and comparison helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses a semantic version string into a comparable version.
//
// Parsing is lenient about partial versions ("1.2" becomes "1.2.0") so that
// hand-written manifests stay ergonomic. Invalid input yields a structured
// error with code ErrCodeInvalidVersion.
func ParseVersion(raw string) (*semver.Version, error) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, NewInvalidVersionError(raw, err)
	}
	return v, nil
}

// satisfiesMin reports whether a version meets a minimum requirement.
// A nil minimum accepts anything; a nil version satisfies nothing.
func satisfiesMin(v *semver.Version, min *semver.Version) bool {
	if min == nil {
		return true
	}
	if v == nil {
		return false
	}
	return !v.LessThan(min)
}

// strictestMin returns the stricter of two minimum requirements, treating
// nil as no requirement. Requirements only ever tighten: combining the
// minimums of several dependents is a max operation.
func strictestMin(a *semver.Version, b *semver.Version) *semver.Version {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.GreaterThan(a) {
		return b
	}
	return a
}

// versionString renders a possibly-nil version for logs and error context.
func versionString(v *semver.Version) string {
	if v == nil {
		return "any"
	}
	return v.String()
}
