// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/versionspec"
)

// Release describes a single published package version in the
// catalog: its dependency declarations, content hash, and archive
// location.
type Release struct {
	Revision    uint32            `json:"revision"`
	Arch        string            `json:"arch"`
	ArchiveURL  string            `json:"archive_url"`
	ArchiveHash hash.Content      `json:"archive_hash"`
	ArchiveSize int64             `json:"archive_size"`
	RuntimeDeps []string          `json:"runtime_deps,omitempty"`
	BuildDeps   []string          `json:"build_deps,omitempty"`
	SBOMDigests map[string]string `json:"sbom_digests,omitempty"`
}

// RuntimeDepSpecs parses RuntimeDeps entries of the form
// "name constraint" (e.g. "bar>=1.1") into name/Spec pairs.
func (r Release) RuntimeDepSpecs() ([]DepSpec, error) {
	return parseDepSpecs(r.RuntimeDeps)
}

// BuildDepSpecs parses BuildDeps the same way as RuntimeDepSpecs.
func (r Release) BuildDepSpecs() ([]DepSpec, error) {
	return parseDepSpecs(r.BuildDeps)
}

// DepSpec names a dependency and the version constraint it must
// satisfy.
type DepSpec struct {
	Name string
	Spec versionspec.Spec
}

func parseDepSpecs(raw []string) ([]DepSpec, error) {
	specs := make([]DepSpec, 0, len(raw))
	for _, entry := range raw {
		name, constraintStr, err := splitDepEntry(entry)
		if err != nil {
			return nil, err
		}
		spec, err := versionspec.ParseSpec(constraintStr)
		if err != nil {
			return nil, fmt.Errorf("parsing dependency %q: %w", entry, err)
		}
		specs = append(specs, DepSpec{Name: name, Spec: spec})
	}
	return specs, nil
}

// splitDepEntry splits "name>=1.2,<2.0" into ("name", ">=1.2,<2.0").
// The name is everything up to the first constraint operator
// character; a bare name with no operator is a dependency on any
// version.
func splitDepEntry(entry string) (name, constraint string, err error) {
	for i, r := range entry {
		if r == '=' || r == '!' || r == '<' || r == '>' || r == '~' {
			if i == 0 {
				return "", "", fmt.Errorf("dependency entry %q has no package name", entry)
			}
			return entry[:i], entry[i:], nil
		}
	}
	return entry, "", nil
}

// Document is the parsed catalog: name -> version string -> Release.
type Document struct {
	FormatVersion uint32                        `json:"version"`
	MinimumClient string                        `json:"minimum_client"`
	Timestamp     int64                         `json:"timestamp"`
	Packages      map[string]map[string]Release `json:"packages"`
}

// ParseDocument unmarshals a raw index.json payload without verifying
// its signature. Use VerifyAndParse when a signature and trust root
// are available.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, "decoding index document", err)
	}
	return &doc, nil
}

// VerifyAndParse verifies data against signature using verifier and
// trustRoot, then parses the document. Returns
// errkind.KindSignatureInvalid if verification fails.
func VerifyAndParse(data, signature []byte, trustRoot []byte, verifier Verifier) (*Document, error) {
	if !verifier.Verify(data, signature, trustRoot) {
		return nil, errkind.New(errkind.KindSignatureInvalid, "index signature verification failed")
	}
	return ParseDocument(data)
}

// CheckFormatVersion reports whether the document's format version is
// supported by this client. A document with a newer format version
// than the client understands must be rejected rather than
// partially interpreted.
func (d *Document) CheckFormatVersion(supported uint32) error {
	if d.FormatVersion > supported {
		return errkind.New(errkind.KindSchemaVersionTooNew,
			fmt.Sprintf("index format version %d is newer than supported version %d", d.FormatVersion, supported)).
			WithContext("document_version", fmt.Sprint(d.FormatVersion)).
			WithContext("supported_version", fmt.Sprint(supported))
	}
	return nil
}

// CheckFreshness reports whether the document's timestamp is within
// window of now. A stale index must not silently serve outdated
// package metadata.
func (d *Document) CheckFreshness(now time.Time, window time.Duration) error {
	age := now.Sub(time.Unix(d.Timestamp, 0))
	if age > window {
		return errkind.New(errkind.KindUnavailable,
			fmt.Sprintf("index is %s old, exceeding freshness window %s", age, window)).
			WithContext("age", age.String()).
			WithContext("window", window.String())
	}
	return nil
}

// Lookup returns the Release for name at version, and whether it was
// found.
func (d *Document) Lookup(name, version string) (Release, bool) {
	versions, ok := d.Packages[name]
	if !ok {
		return Release{}, false
	}
	release, ok := versions[version]
	return release, ok
}

// Versions returns every published version string for name, in
// Packages map iteration order (callers that need them sorted by
// semver precedence should parse and sort via versionspec).
func (d *Document) Versions(name string) []string {
	versions := d.Packages[name]
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	return out
}
