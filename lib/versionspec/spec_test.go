// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package versionspec

import "testing"

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		input string
		op    Operator
	}{
		{"==1.2.3", OpExact},
		{"!=1.5.0", OpNotEqual},
		{"<2.0.0", OpLess},
		{"<=2.0.0", OpLessEqual},
		{">1.0.0", OpGreater},
		{">=1.2.0", OpGreaterEqual},
		{"~=1.2.0", OpCompatible},
		{"~=1.2", OpCompatible},
	}

	for _, tt := range tests {
		c, err := ParseConstraint(tt.input)
		if err != nil {
			t.Fatalf("ParseConstraint(%q): %v", tt.input, err)
		}
		if c.Op != tt.op {
			t.Errorf("ParseConstraint(%q).Op = %v, want %v", tt.input, c.Op, tt.op)
		}
	}
}

func TestParseConstraint_Invalid(t *testing.T) {
	for _, input := range []string{"1.2.3", "=1.2.3", "~=abc"} {
		if _, err := ParseConstraint(input); err == nil {
			t.Errorf("ParseConstraint(%q): expected error", input)
		}
	}
}

func TestConstraint_CompatibleBump(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{"~=1.2.3", "1.2.3", true},
		{"~=1.2.3", "1.2.9", false},
		{"~=1.2.3", "1.3.0", false},
		{"~=1.2.3", "1.2.2", false},
		{"~=1.2", "1.2.0", true},
		{"~=1.2", "1.9.0", false},
		{"~=1.2", "2.0.0", false},
		{"~=1", "1.0.0", true},
		{"~=1", "1.5.0", true},
		{"~=1", "2.0.0", false},
	}

	for _, tt := range tests {
		spec := MustParseSpec(tt.spec)
		v := MustParse(tt.version)
		if got := spec.Matches(v); got != tt.want {
			t.Errorf("Spec(%q).Matches(%q) = %v, want %v", tt.spec, tt.version, got, tt.want)
		}
	}
}

func TestSpec_Conjunction(t *testing.T) {
	spec := MustParseSpec(">=1.2,<2.0,!=1.5.0")

	tests := []struct {
		version string
		want    bool
	}{
		{"1.2.0", true},
		{"1.9.9", true},
		{"1.5.0", false}, // excluded by !=
		{"1.1.0", false}, // below lower bound
		{"2.0.0", false}, // at upper bound, excluded by <
	}

	for _, tt := range tests {
		if got := spec.Matches(MustParse(tt.version)); got != tt.want {
			t.Errorf("spec.Matches(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestSpec_AnyMatchesEverything(t *testing.T) {
	for _, s := range []string{"", "*"} {
		spec := MustParseSpec(s)
		if !spec.IsAny() {
			t.Errorf("ParseSpec(%q).IsAny() = false, want true", s)
		}
		if !spec.Matches(MustParse("9.9.9")) {
			t.Errorf("ParseSpec(%q) should match any version", s)
		}
	}
}

func TestSpec_PrereleaseExclusion(t *testing.T) {
	// A bare >=X excludes pre-releases of X by default.
	spec := MustParseSpec(">=1.0.0")
	if spec.Matches(MustParse("1.1.0-rc.1")) {
		t.Error("bare >=1.0.0 should not match a pre-release version")
	}
	if !spec.Matches(MustParse("1.1.0")) {
		t.Error("bare >=1.0.0 should match a stable version")
	}

	// A constraint atom that itself names a pre-release opts that
	// exact major.minor.patch back into pre-release-aware matching.
	withPre := MustParseSpec(">=1.1.0-rc.1,<1.2.0")
	if !withPre.Matches(MustParse("1.1.0-rc.2")) {
		t.Error("spec naming 1.1.0-rc.1 should match 1.1.0-rc.2")
	}
	if withPre.Matches(MustParse("1.3.0-rc.1")) {
		t.Error("pre-release opt-in should not extend to a different major.minor.patch")
	}
}

func TestSpec_TextRoundTrip(t *testing.T) {
	spec := MustParseSpec(">=1.2.0,<2.0.0,!=1.5.0")
	text, err := spec.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var roundTripped Spec
	if err := roundTripped.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if roundTripped.String() != spec.String() {
		t.Errorf("round trip mismatch: got %q, want %q", roundTripped.String(), spec.String())
	}
}
