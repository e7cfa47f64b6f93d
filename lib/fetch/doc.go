// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch downloads package archives over HTTP, streaming the
// body to disk rather than buffering it in memory, and verifies the
// completed file against its expected hash once the download finishes
// (spec.md §6's Fetcher contract: `fetch(url, expected_hash) -> bytes`,
// resumable, deadline-bound).
//
// Get resumes a partially-written destination file via an HTTP Range
// request, enforces a total deadline and a stall deadline (no-progress
// timeout) independently, and retries network errors up to a bounded
// count with exponential backoff and jitter. Hash verification failures
// are never retried — a corrupt or tampered response is terminal for
// that attempt (spec.md §7).
package fetch
