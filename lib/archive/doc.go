// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive reads and writes .sp package files: a zstd-
// compressed tar stream containing manifest.toml at the archive root
// plus the package's file tree, built by the recipe driver and
// consumed by the install pipeline.
//
// A detached signature travels alongside the archive as a sibling
// file (name.sp.sig), not inside it — this package only reads and
// writes the archive bytes; signature verification is the caller's
// concern via lib/index.Verifier.
package archive
