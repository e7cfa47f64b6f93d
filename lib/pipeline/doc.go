// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline executes the resolver's dependency DAG as a bounded
// set of concurrent fetch/verify/extract/stage-link operations (spec.md
// §4.6). A node becomes ready once every package it depends on has
// finished the extract phase, not the later stage-link or commit
// phases, so independent branches of the DAG make progress without
// waiting on each other's disk I/O.
//
// Scheduling is a lock-free-style ready queue built from an atomic
// in-degree counter per node: completing a node decrements its
// dependents' counters, and any dependent that reaches zero is
// launched immediately, bounded by a global concurrency semaphore. An
// in-flight map deduplicates concurrent requests for the same package
// identity across overlapping Run calls (for example an install's
// runtime closure and a build's separately-resolved build-dependency
// closure sharing a package), so it is fetched and extracted at most
// once.
//
// Cancellation is cooperative: any node's hard failure cancels the
// shared context, refusing new nodes from the ready queue and letting
// in-flight nodes observe cancellation at their next phase boundary.
package pipeline
