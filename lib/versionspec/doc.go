// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package versionspec implements the semantic version type and the
// range-specifier algebra used to constrain package dependencies.
//
// A [Version] is a parsed major.minor.patch version with optional
// pre-release and build metadata, ordered per the semver 2.0.0
// precedence rules (ordering, including pre-release precedence, is
// delegated to golang.org/x/mod/semver's Compare).
//
// A [Spec] is a conjunction of [Constraint] atoms using the operators
// ==, !=, <, <=, >, >=, and ~= (compatible-release: ~=1.2.3 means
// >=1.2.3 AND <1.2.4, bumping the rightmost component named in the
// atom). An empty Spec or the literal "*" matches every version that
// is not a pre-release.
package versionspec
