// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package versionspec

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a parsed semantic version: major.minor.patch with
// optional pre-release and build metadata (semver 2.0.0).
type Version struct {
	Major, Minor, Patch uint64
	Pre                 string // e.g. "alpha.1", empty if none
	Build               string // e.g. "20260806", empty if none, ignored for ordering
}

// Parse parses a semver string such as "1.2.3", "1.2.3-rc.1", or
// "1.2.3-rc.1+build.5". A leading "v" is accepted and stripped, since
// package manifests and CLI input both appear with and without it.
func Parse(s string) (Version, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if raw == "" {
		return Version{}, fmt.Errorf("parsing version %q: empty", s)
	}

	var build string
	if i := strings.IndexByte(raw, '+'); i >= 0 {
		build = raw[i+1:]
		raw = raw[:i]
	}

	var pre string
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		pre = raw[i+1:]
		raw = raw[:i]
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("parsing version %q: want major.minor.patch, got %d components", s, len(parts))
	}

	nums := make([]uint64, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("parsing version %q: component %q: %w", s, part, err)
		}
		nums[i] = n
	}

	if pre != "" {
		for _, ident := range strings.Split(pre, ".") {
			if ident == "" {
				return Version{}, fmt.Errorf("parsing version %q: empty pre-release identifier", s)
			}
		}
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Pre: pre, Build: build}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// compile-time-known version literals.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version in canonical form.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Pre != "" {
		s += "-" + v.Pre
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Compare returns -1, 0, or +1 as a is less than, equal to, or greater
// than b, per semver 2.0.0 precedence rules. Build metadata is ignored
// for ordering, as the spec requires.
//
// Delegates to golang.org/x/mod/semver, which implements the same
// major/minor/patch-then-prerelease precedence this package's own
// Version fields are parsed into; build metadata is dropped from both
// operands before comparison since Canonical strips it.
func Compare(a, b Version) int {
	return semver.Compare(semverString(a), semverString(b))
}

func semverString(v Version) string {
	s := fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Pre != "" {
		s += "-" + v.Pre
	}
	return s
}

// Less reports whether a orders before b.
func (v Version) Less(other Version) bool { return Compare(v, other) < 0 }

// Equal reports whether a and b have identical precedence (build
// metadata, which never affects precedence, is ignored).
func (v Version) Equal(other Version) bool { return Compare(v, other) == 0 }
