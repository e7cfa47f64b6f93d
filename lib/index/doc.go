// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package index parses and validates the package catalog document
// (index.json) and its key-rotation ledger (keys.json).
//
// A [Document] maps package name to version to [Release], carries a
// format version and a minimum-client version, and is timestamped so
// callers can reject a stale cache. Signature verification is
// delegated to a [Verifier] — spec.md treats the signer as an external
// boolean oracle over blobs, so this package never hardcodes a single
// signing scheme; [Ed25519Verifier] is the concrete implementation
// wired in by default, grounded on the same Ed25519 signing scheme
// the teacher uses for its own service tokens.
//
// index.json and keys.json are external wire formats the spec defines
// in JSON, not CBOR, so this package uses encoding/json directly
// rather than lib/codec (which is reserved for sps2go's own internal
// CBOR-encoded formats).
package index
