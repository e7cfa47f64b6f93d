// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sps2/sps2go/lib/versionspec"
)

// Package is the four-field identity of an installed package release:
// name, semantic version, revision (monotonic rebuild counter within a
// version), and target architecture. Two identities are equal iff all
// four fields match.
type Package struct {
	Name     string
	Version  versionspec.Version
	Revision uint32
	Arch     string
}

// New constructs a Package identity, validating that name and arch are
// non-empty.
func New(name string, version versionspec.Version, revision uint32, arch string) (Package, error) {
	if name == "" {
		return Package{}, fmt.Errorf("invalid package identity: name is empty")
	}
	if arch == "" {
		return Package{}, fmt.Errorf("invalid package identity: arch is empty")
	}
	return Package{Name: name, Version: version, Revision: revision, Arch: arch}, nil
}

// String renders the canonical identity string: name-version-revision.arch,
// the same form used for store paths and CLI output.
func (p Package) String() string {
	return fmt.Sprintf("%s-%s-%d.%s", p.Name, p.Version, p.Revision, p.Arch)
}

// IsZero reports whether p is the uninitialized zero value.
func (p Package) IsZero() bool {
	return p == Package{}
}

// Equal reports whether p and other name the same identity. Unlike a
// plain == comparison, this also compares Version fields by semver
// precedence rather than by raw struct equality (build metadata
// differences do not affect identity).
func (p Package) Equal(other Package) bool {
	return p.Name == other.Name &&
		p.Version.Equal(other.Version) &&
		p.Revision == other.Revision &&
		p.Arch == other.Arch
}

// MarshalText implements encoding.TextMarshaler.
func (p Package) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, parsing the
// canonical name-version-revision.arch form produced by MarshalText.
func (p *Package) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = Package{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return fmt.Errorf("unmarshal package identity: %w", err)
	}
	*p = parsed
	return nil
}

// Parse parses the canonical identity string name-version-revision.arch
// back into a Package. The name may itself contain hyphens, so parsing
// works from the right: arch is the suffix after the last '.', revision
// is the numeric segment after the last remaining '-', and version is
// the segment before that.
func Parse(s string) (Package, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return Package{}, fmt.Errorf("parsing package identity %q: missing arch suffix", s)
	}
	arch := s[dot+1:]
	rest := s[:dot]

	revDash := strings.LastIndexByte(rest, '-')
	if revDash < 0 {
		return Package{}, fmt.Errorf("parsing package identity %q: missing revision", s)
	}
	revision, err := strconv.ParseUint(rest[revDash+1:], 10, 32)
	if err != nil {
		return Package{}, fmt.Errorf("parsing package identity %q: revision: %w", s, err)
	}
	rest = rest[:revDash]

	// The version itself may contain hyphens (a pre-release tag such as
	// "1.2.3-rc.1"), so the name/version boundary can't be found with a
	// single LastIndexByte: scan candidate split points from the right
	// until one parses as a valid version.
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] != '-' {
			continue
		}
		name := rest[:i]
		versionStr := rest[i+1:]
		if name == "" {
			continue
		}
		version, err := versionspec.Parse(versionStr)
		if err != nil {
			continue
		}
		return New(name, version, uint32(revision), arch)
	}

	return Package{}, fmt.Errorf("parsing package identity %q: missing version", s)
}
