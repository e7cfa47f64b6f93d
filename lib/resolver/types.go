// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"sort"

	"github.com/sps2/sps2go/lib/index"
	"github.com/sps2/sps2go/lib/versionspec"
)

// Request is a top-level package requirement to satisfy, e.g. an
// `sps2 install curl>=8.0` invocation.
type Request struct {
	Name string
	Spec versionspec.Spec
}

// Candidate is one published version of a package, along with the
// runtime dependencies that version declares.
type Candidate struct {
	Version     versionspec.Version
	RuntimeDeps []index.DepSpec
}

// Index supplies the candidate versions of a package by name. An
// unknown package returns a nil, non-error slice.
type Index interface {
	Candidates(name string) ([]Candidate, error)
}

// documentIndex adapts an index.Document (the parsed, signature-checked
// catalog) to the resolver's Index interface.
type documentIndex struct {
	doc *index.Document
}

// FromDocument returns an Index backed by a parsed catalog document.
func FromDocument(doc *index.Document) Index {
	return documentIndex{doc: doc}
}

func (d documentIndex) Candidates(name string) ([]Candidate, error) {
	versionStrs := d.doc.Versions(name)
	candidates := make([]Candidate, 0, len(versionStrs))
	for _, vs := range versionStrs {
		v, err := versionspec.Parse(vs)
		if err != nil {
			return nil, err
		}
		release, _ := d.doc.Lookup(name, vs)
		deps, err := release.RuntimeDepSpecs()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Version: v, RuntimeDeps: deps})
	}
	sortCandidatesAscending(candidates)
	return candidates, nil
}

func sortCandidatesAscending(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Version.Less(candidates[j].Version)
	})
}

// BuildRequests converts a package's build dependencies into top-level
// requests, for resolving the runtime closure a build needs rather
// than the closure an installed package needs (spec.md §4.5: "build
// resolution substitutes build deps recursively").
func BuildRequests(buildDeps []index.DepSpec) []Request {
	requests := make([]Request, len(buildDeps))
	for i, d := range buildDeps {
		requests[i] = Request{Name: d.Name, Spec: d.Spec}
	}
	return requests
}
