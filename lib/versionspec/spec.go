// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package versionspec

import (
	"fmt"
	"strings"
)

// Operator identifies a single constraint atom's comparison.
type Operator int

const (
	OpExact Operator = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpCompatible // ~=
)

func (op Operator) String() string {
	switch op {
	case OpExact:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpCompatible:
		return "~="
	default:
		return "?"
	}
}

// Constraint is a single version atom, e.g. ">=1.2.0" or "~=1.2".
type Constraint struct {
	Op      Operator
	Version Version

	// compatComponents records how many dotted components were
	// explicitly given in a ~= atom (1, 2 or 3). "~=1" bumps the
	// major component (>=1.0.0,<2.0.0); "~=1.2" bumps the minor
	// component (>=1.2.0,<1.3.0); "~=1.2.3" bumps the patch component
	// (>=1.2.3,<1.2.4). Unused for other operators.
	compatComponents int
}

// Matches reports whether v satisfies this single constraint.
func (c Constraint) Matches(v Version) bool {
	switch c.Op {
	case OpExact:
		return v.Equal(c.Version)
	case OpNotEqual:
		return !v.Equal(c.Version)
	case OpLess:
		return v.Less(c.Version)
	case OpLessEqual:
		return v.Less(c.Version) || v.Equal(c.Version)
	case OpGreater:
		return c.Version.Less(v)
	case OpGreaterEqual:
		return c.Version.Less(v) || v.Equal(c.Version)
	case OpCompatible:
		lower := c.Version
		upper := c.compatUpperBound()
		return (lower.Less(v) || lower.Equal(v)) && v.Less(upper)
	default:
		return false
	}
}

// compatUpperBound computes the exclusive upper bound for a ~=
// constraint: bump the rightmost explicitly-named component and zero
// everything to its right, per the spec's next-bumped(V) rule.
func (c Constraint) compatUpperBound() Version {
	v := c.Version
	switch {
	case c.compatComponents == 1:
		return Version{Major: v.Major + 1}
	case c.compatComponents == 2:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	default:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

func (c Constraint) String() string {
	return c.Op.String() + c.Version.String()
}

var operatorPrefixes = []struct {
	prefix string
	op     Operator
}{
	{"==", OpExact},
	{"!=", OpNotEqual},
	{"<=", OpLessEqual},
	{">=", OpGreaterEqual},
	{"~=", OpCompatible},
	{"<", OpLess},
	{">", OpGreater},
}

// ParseConstraint parses a single version atom such as ">=1.2.0".
func ParseConstraint(s string) (Constraint, error) {
	trimmed := strings.TrimSpace(s)
	for _, p := range operatorPrefixes {
		if rest, ok := strings.CutPrefix(trimmed, p.prefix); ok {
			versionStr := strings.TrimSpace(rest)
			components := strings.Count(versionStr, ".") + 1
			// Pad partial versions ("1.2" -> "1.2.0") so Parse accepts them,
			// for every operator; only ~= uses the original component count.
			padded := versionStr
			for strings.Count(padded, ".") < 2 {
				padded += ".0"
			}
			v, err := Parse(padded)
			if err != nil {
				return Constraint{}, fmt.Errorf("parsing constraint %q: %w", s, err)
			}
			return Constraint{Op: p.op, Version: v, compatComponents: components}, nil
		}
	}
	return Constraint{}, fmt.Errorf("parsing constraint %q: no recognized operator", s)
}

// Spec is a conjunction of constraints: a version matches the spec
// only if it matches every constraint. An empty Spec matches any
// version that is not a pre-release (see Matches).
type Spec struct {
	constraints []Constraint
}

// Any returns a Spec that matches every version that is not a
// pre-release.
func Any() Spec { return Spec{} }

// Exact returns a Spec matching only v.
func Exact(v Version) Spec {
	return Spec{constraints: []Constraint{{Op: OpExact, Version: v}}}
}

// ParseSpec parses a comma-separated list of constraints, e.g.
// ">=1.2,<2.0,!=1.5.0". An empty string or "*" yields the empty Spec,
// which matches any version that is not a pre-release.
func ParseSpec(s string) (Spec, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "*" {
		return Spec{}, nil
	}

	parts := strings.Split(trimmed, ",")
	constraints := make([]Constraint, 0, len(parts))
	for _, part := range parts {
		c, err := ParseConstraint(part)
		if err != nil {
			return Spec{}, err
		}
		constraints = append(constraints, c)
	}
	return Spec{constraints: constraints}, nil
}

// MustParseSpec is like ParseSpec but panics on error.
func MustParseSpec(s string) Spec {
	spec, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// Matches reports whether v satisfies every constraint in the spec.
//
// Pre-release versions are excluded unless the spec itself opts back
// in: if v carries a pre-release tag, at least one constraint atom
// must name a version with the same major.minor.patch and a
// pre-release tag of its own (Cargo/npm/semver.org convention, rather
// than treating pre-releases as ordered points on the same line as
// releases everywhere).
func (s Spec) Matches(v Version) bool {
	if v.Pre != "" && !s.allowsPrereleaseOf(v) {
		return false
	}
	for _, c := range s.constraints {
		if !c.Matches(v) {
			return false
		}
	}
	return true
}

func (s Spec) allowsPrereleaseOf(v Version) bool {
	for _, c := range s.constraints {
		if c.Version.Pre == "" {
			continue
		}
		if c.Version.Major == v.Major && c.Version.Minor == v.Minor && c.Version.Patch == v.Patch {
			return true
		}
	}
	return false
}

// IsAny reports whether the spec has no constraints.
func (s Spec) IsAny() bool { return len(s.constraints) == 0 }

// Constraints returns the spec's constraint atoms.
func (s Spec) Constraints() []Constraint { return s.constraints }

func (s Spec) String() string {
	if len(s.constraints) == 0 {
		return "*"
	}
	strs := make([]string, len(s.constraints))
	for i, c := range s.constraints {
		strs[i] = c.String()
	}
	return strings.Join(strs, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (s Spec) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Spec) UnmarshalText(data []byte) error {
	parsed, err := ParseSpec(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
