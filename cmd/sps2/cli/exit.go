// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"

	"github.com/sps2/sps2go/lib/errkind"
)

// Exit codes per spec.md §6.
const (
	ExitSuccess            = 0
	ExitOperationalFailure = 1
	ExitUsageError         = 2
	ExitIntegrityFailure   = 3
)

// ExitError signals a specific non-zero exit code without the CLI
// framework printing a redundant "error:" line — the command is
// expected to have already written its own diagnostic output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main() checks for this interface on
// returned errors to distinguish a handled, classified exit from an
// unexpected error that still needs formatting and classification.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// ClassifyExitCode maps err to one of spec.md §6's four exit codes.
// Usage errors (bad flags, bad arguments) are distinguished at the
// call site via ExitError{Code: ExitUsageError}; everything else is
// classified by the Kind of the first taxonomy error in err's chain
// (integrity kinds map to ExitIntegrityFailure), falling back to a
// generic operational failure.
func ClassifyExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	kind, ok := errkind.KindOf(err)
	if !ok {
		return ExitOperationalFailure
	}

	// Hash mismatches, corrupt archives, invalid signatures, and
	// integrity violations all mean on-disk or in-flight data did not
	// match what it claimed to be — distinct from a merely failed
	// operation that can be retried.
	switch kind {
	case errkind.KindHashMismatch, errkind.KindCorruptArchive,
		errkind.KindSignatureInvalid, errkind.KindIntegrityViolation,
		errkind.KindChecksumMismatch:
		return ExitIntegrityFailure
	}
	return ExitOperationalFailure
}
