// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"testing"

	"github.com/sps2/sps2go/lib/versionspec"
)

func TestPackage_StringRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		revision uint32
		arch     string
	}{
		{"curl", "8.9.1", 2, "aarch64-macos"},
		{"py-requests", "2.32.0", 0, "aarch64-macos"},
		{"openssl", "3.3.1-rc.1", 1, "aarch64-macos"},
	}

	for _, tt := range tests {
		v := versionspec.MustParse(tt.version)
		pkg, err := New(tt.name, v, tt.revision, tt.arch)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.name, err)
		}

		str := pkg.String()
		parsed, err := Parse(str)
		if err != nil {
			t.Fatalf("Parse(%q): %v", str, err)
		}
		if !parsed.Equal(pkg) {
			t.Errorf("round trip mismatch for %q: got %+v, want %+v", str, parsed, pkg)
		}
	}
}

func TestPackage_New_Validation(t *testing.T) {
	v := versionspec.MustParse("1.0.0")
	if _, err := New("", v, 0, "aarch64-macos"); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := New("curl", v, 0, ""); err == nil {
		t.Error("expected error for empty arch")
	}
}

func TestPackage_IsZero(t *testing.T) {
	var p Package
	if !p.IsZero() {
		t.Error("zero value Package should report IsZero")
	}

	pkg, _ := New("curl", versionspec.MustParse("1.0.0"), 0, "aarch64-macos")
	if pkg.IsZero() {
		t.Error("constructed Package should not report IsZero")
	}
}

func TestPackage_TextMarshalZeroValue(t *testing.T) {
	var p Package
	text, err := p.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if len(text) != 0 {
		t.Errorf("expected empty marshaled text for zero value, got %q", text)
	}

	var roundTripped Package
	if err := roundTripped.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !roundTripped.IsZero() {
		t.Error("unmarshaling empty text should produce zero value")
	}
}

func TestPackage_Equal_IgnoresBuildMetadata(t *testing.T) {
	a, _ := New("curl", versionspec.MustParse("8.9.1+build1"), 0, "aarch64-macos")
	b, _ := New("curl", versionspec.MustParse("8.9.1+build2"), 0, "aarch64-macos")
	if !a.Equal(b) {
		t.Error("Equal should ignore build metadata differences")
	}
}
