// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package errkind defines sps2go's error taxonomy: a fixed set of
// domain-scoped error kinds (network, storage, state, resolver,
// package, config), each carrying a stable identifier, a user-facing
// message, and optional structured context.
//
// Callers construct an [*Error] with [New] or wrap a lower-level error
// with [Wrap], then test for a specific kind downstream with
// [errors.Is] against the package-level Kind sentinels, or extract the
// full [*Error] with [errors.As] to read its Context.
package errkind
