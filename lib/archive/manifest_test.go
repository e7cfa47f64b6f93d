// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import "testing"

func TestParseManifest(t *testing.T) {
	data := []byte(`
[package]
name = "curl"
version = "8.9.1"
revision = 2
arch = "aarch64-macos"

[dependencies]
runtime = ["openssl>=3.0", "zlib~=1.3"]
build = ["pkg-config"]
`)

	manifest, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if manifest.Package.Name != "curl" {
		t.Errorf("Name = %q", manifest.Package.Name)
	}
	if manifest.Package.Revision != 2 {
		t.Errorf("Revision = %d", manifest.Package.Revision)
	}
	if len(manifest.Dependencies.Runtime) != 2 {
		t.Errorf("got %d runtime deps, want 2", len(manifest.Dependencies.Runtime))
	}
}

func TestParseManifest_RequiresNameAndArch(t *testing.T) {
	if _, err := ParseManifest([]byte(`[package]
version = "1.0.0"`)); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := ParseManifest([]byte(`[package]
name = "curl"
version = "1.0.0"`)); err == nil {
		t.Error("expected error for missing arch")
	}
}

func TestManifest_Identity(t *testing.T) {
	manifest := &Manifest{
		Package: ManifestPackage{Name: "curl", Version: "8.9.1", Revision: 1, Arch: "aarch64-macos"},
	}

	id, err := manifest.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.Name != "curl" || id.Arch != "aarch64-macos" || id.Revision != 1 {
		t.Errorf("Identity() = %+v", id)
	}
}

func TestMarshalManifest_RoundTrip(t *testing.T) {
	original := &Manifest{
		Package:      ManifestPackage{Name: "curl", Version: "8.9.1", Revision: 1, Arch: "aarch64-macos"},
		Dependencies: ManifestDeps{Runtime: []string{"openssl>=3.0"}},
	}

	data, err := MarshalManifest(original)
	if err != nil {
		t.Fatalf("MarshalManifest: %v", err)
	}

	roundTripped, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if roundTripped.Package.Name != original.Package.Name {
		t.Errorf("round trip mismatch: got %q, want %q", roundTripped.Package.Name, original.Package.Name)
	}
}
