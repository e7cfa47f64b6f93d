// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/versionspec"
)

// ManifestFileName is the path of the manifest within the archive.
const ManifestFileName = "manifest.toml"

// Manifest is the parsed manifest.toml: package identity, dependency
// declarations, and optional SBOM digests.
type Manifest struct {
	Package      ManifestPackage   `toml:"package"`
	Dependencies ManifestDeps      `toml:"dependencies"`
	SBOM         map[string]string `toml:"sbom,omitempty"`
}

// ManifestPackage is the [package] table.
type ManifestPackage struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Revision uint32 `toml:"revision"`
	Arch     string `toml:"arch"`
}

// ManifestDeps is the [dependencies] table.
type ManifestDeps struct {
	Runtime []string `toml:"runtime,omitempty"`
	Build   []string `toml:"build,omitempty"`
}

// Identity derives the package's identity triple from the manifest's
// [package] table.
func (m Manifest) Identity() (identity.Package, error) {
	version, err := versionspec.Parse(m.Package.Version)
	if err != nil {
		return identity.Package{}, fmt.Errorf("manifest %s: %w", m.Package.Name, err)
	}
	return identity.New(m.Package.Name, version, m.Package.Revision, m.Package.Arch)
}

// ParseManifest decodes a manifest.toml payload.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest.toml: %w", err)
	}
	if manifest.Package.Name == "" {
		return nil, fmt.Errorf("parsing manifest.toml: [package] name is required")
	}
	if manifest.Package.Arch == "" {
		return nil, fmt.Errorf("parsing manifest.toml: [package] arch is required")
	}
	return &manifest, nil
}

// MarshalManifest encodes a Manifest back to TOML bytes, used by the
// build pipeline when assembling a new archive.
func MarshalManifest(manifest *Manifest) ([]byte, error) {
	data, err := toml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest.toml: %w", err)
	}
	return data, nil
}
