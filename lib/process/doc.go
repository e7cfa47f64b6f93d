// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for sps2go service
// binaries. These functions centralize the two legitimate raw
// I/O patterns that exist before or after the structured logger:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//
// Direct fmt.Fprintf and fmt.Printf calls are discouraged in non-CLI
// code. This package is one of two deliberate exceptions (the other is
// lib/version). All other raw I/O in service binaries should be
// replaced with calls to this package.
package process
