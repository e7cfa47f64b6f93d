// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides the dual content hashing scheme used throughout
// sps2go: a strong 256-bit content hash (BLAKE3) that keys every file
// object and package archive in the object store, and a fast
// non-cryptographic hash (xxhash64) that [Hasher] computes alongside it.
//
// Both hashes are streamed through io.Writer-compatible hashers, so
// callers can compute them in a single pass over a file or an
// in-flight download without buffering the whole payload in memory.
//
// The content hash is the only digest sps2go checks: store identity
// and download verification both use it (spec.md §3, "Content Hash").
// No caller verifies data against the fast hash.
package hash
