// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver picks at most one release per package so that every
// selected release's runtime dependencies are satisfied, preferring
// newer versions (spec.md §4.5).
//
// The problem is encoded as CNF over one boolean variable per
// (package, version) candidate — at-most-one-per-package, top-level
// requirement, and dependency clauses — and solved with a CDCL SAT
// solver: two-watched-literal unit propagation, a VSIDS decision
// heuristic biased toward newer versions, first-UIP conflict analysis
// with non-chronological backjumping, and a Luby restart schedule.
//
// On success, Solve returns the selected set plus a topological order
// of the induced dependency DAG. On failure, it returns an
// explanation built by walking the implication graph backward from the
// conflicting clause.
package resolver
