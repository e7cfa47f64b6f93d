// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statedb is the transactional ledger of states, package
// installations, file objects, and refcounts (spec.md §4.4): the
// single source of truth a state transition commits to after the
// filesystem swap has succeeded.
//
// Seven relations cover the schema: states, active_state (exactly one
// row), packages, file_objects, package_file_entries, installed_files,
// and file_verification_cache. A Tx bundles the sequence of inserts a
// state transition performs — new state row, package rows, file object
// refcount bumps, installed file rows, active_state update — into a
// single ACID transaction, matching §4.7's ordering rule.
package statedb
