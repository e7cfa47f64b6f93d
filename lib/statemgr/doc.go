// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statemgr performs atomic state transitions over the live
// install prefix (spec.md §4.7): clone the active state's directory,
// mutate the clone, record the new state in the database, swap the
// clone into place, commit the database transaction, and archive the
// directory the swap replaced.
//
// A transition that fails before the swap leaves no observable effect:
// the staging directory is removed and the database transaction is
// rolled back. A transition that fails during or after the swap is
// reconciled by Recover on the next startup, which trusts the database
// over the filesystem.
//
// Rollback reconstructs the target state's file tree by relinking from
// the content-addressed object store rather than depending on a cached
// on-disk archive directory still existing — archive directories are a
// disk cache the garbage collector is free to remove, not the source
// of truth for a state's contents. See DESIGN.md for the rationale.
package statemgr
