// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog provides atomic state file operations for tracking
// risky external process transitions. A process writes a watchdog
// [State] before handing control to a subprocess it cannot fully
// supervise; on a later invocation, any process can read the state to
// tell whether that subprocess was ever cleaned up after.
//
// The intended workflow:
//
//  1. Before starting the subprocess: call [Write] with an operation
//     name and enough detail to identify what was running.
//  2. If the caller reaches a normal exit, success or a handled
//     failure, call [Clear] to remove the watchdog file.
//  3. If the caller is killed before step 2, the watchdog file
//     survives. A later invocation calls [Check] and, finding it, reports
//     the stale marker so whatever the interrupted subprocess left
//     behind can be reviewed.
//
// The watchdog file is written atomically (write to temporary file,
// fsync, rename into place, fsync parent directory) so readers never
// see a partial or corrupt state. [Check] includes staleness detection:
// it ignores watchdog files older than a configurable maximum age to
// prevent acting on ancient files left behind by unrelated runs.
//
// The [State] struct records the operation name, an operation-specific
// detail string, the writing process's PID, and a timestamp. It is
// serialized as JSON.
//
// This package has no dependencies on other Bureau packages.
package watchdog
