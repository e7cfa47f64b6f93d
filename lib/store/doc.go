// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the content-addressed object store
// (spec.md §2, "Object Store"): a directory tree under a fixed root
// keyed by content hash, used as the hardlink source for state
// assembly.
//
// Objects are sharded two hex characters deep (store/ab/abcdef...,
// git's own object-store layout) to keep any one directory's entry
// count low. Every write goes through a temp-file-then-rename (or
// link-then-rename) sequence so a concurrent reader never observes a
// partially written object.
//
// This package owns only the filesystem side of the store. Reference
// counts are owned by lib/statedb, which is the transactional source
// of truth for "is this object still needed" — store.Delete is called
// only after the database has durably recorded a refcount of zero.
package store
