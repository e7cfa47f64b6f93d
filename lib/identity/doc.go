// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity defines the two identifiers that thread through
// every sps2go subsystem: Package, the four-field identity triple
// (name, version, revision, arch) that names an installed package
// release, and StateID, the 128-bit identifier of a prefix state.
//
// Package implements encoding.TextMarshaler/TextUnmarshaler so it can
// be used directly as a database column and a CBOR manifest field,
// serialized as "name-version-revision.arch" (the same string used in
// store paths and CLI output).
package identity
