// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gc implements garbage collection over retired states and
// unreferenced objects (spec.md §4.8). Collect computes a retention
// set — the active state, the most recent K states by time, and any
// state within D days of now, unioned together — then retires every
// other state transactionally (decrementing the refcount of every
// file object its installed_files reference, then deleting the state
// row, all within one database transaction per state so a crash
// mid-sweep never leaves a refcount without its matching deletion).
// A final sweep walks file objects left at a zero refcount, removing
// them from both the object store and the database in batches.
package gc
