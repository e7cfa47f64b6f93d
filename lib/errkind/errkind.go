// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package errkind

import (
	"errors"
	"fmt"
)

// Domain groups related error Kinds (spec.md §7's table columns).
type Domain string

const (
	DomainNetwork  Domain = "network"
	DomainStorage  Domain = "storage"
	DomainState    Domain = "state"
	DomainResolver Domain = "resolver"
	DomainPackage  Domain = "package"
	DomainConfig   Domain = "config"
)

// Kind is a stable error identifier within a Domain. Kind values are
// comparable and intended for use with errors.Is — they are not error
// messages.
type Kind struct {
	Domain Domain
	Name   string
}

func (k Kind) String() string {
	return string(k.Domain) + "/" + k.Name
}

// Error satisfies the Kind's comparison contract for errors.Is:
// comparing a Kind directly against an *Error's Kind field.
func (k Kind) Error() string {
	return k.String()
}

// Network domain kinds.
var (
	KindTimeout           = Kind{DomainNetwork, "timeout"}
	KindConnectionRefused = Kind{DomainNetwork, "connection-refused"}
	KindHTTPStatus        = Kind{DomainNetwork, "http-status"}
	KindChecksumMismatch  = Kind{DomainNetwork, "checksum-mismatch"}
	KindUnavailable       = Kind{DomainNetwork, "unavailable"}
)

// Storage domain kinds.
var (
	KindDiskFull         = Kind{DomainStorage, "disk-full"}
	KindPermissionDenied = Kind{DomainStorage, "permission-denied"}
	KindIOError          = Kind{DomainStorage, "io-error"}
	KindCorruptArchive   = Kind{DomainStorage, "corrupt-archive"}
	KindHashMismatch     = Kind{DomainStorage, "hash-mismatch"}
)

// State domain kinds.
var (
	KindDBBusy               = Kind{DomainState, "db-busy"}
	KindInvalidTransition    = Kind{DomainState, "invalid-transition"}
	KindConcurrentTransition = Kind{DomainState, "concurrent-transition"}
	KindOrphanStaging        = Kind{DomainState, "orphan-staging"}
	KindIntegrityViolation   = Kind{DomainState, "integrity-violation"}
)

// Resolver domain kinds.
var (
	KindUnsat           = Kind{DomainResolver, "unsat"}
	KindUnknownPackage  = Kind{DomainResolver, "unknown-package"}
	KindCyclicBuildDeps = Kind{DomainResolver, "cyclic-build-deps"}
)

// Package domain kinds.
var (
	KindSignatureInvalid  = Kind{DomainPackage, "signature-invalid"}
	KindManifestMalformed = Kind{DomainPackage, "manifest-malformed"}
	KindArchMismatch      = Kind{DomainPackage, "arch-mismatch"}
	KindUnsupportedFormat = Kind{DomainPackage, "unsupported-format"}
)

// Config domain kinds.
var (
	KindMissingKey          = Kind{DomainConfig, "missing-key"}
	KindParseError          = Kind{DomainConfig, "parse-error"}
	KindSchemaVersionTooNew = Kind{DomainConfig, "schema-version-too-new"}
)

// Error is a taxonomy-tagged error: a Kind, a user-facing Message, an
// optional Context map for structured detail (e.g. the offending path
// or the resolver's explanation chain), and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
	Cause   error
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error that wraps a lower-level cause. The cause
// is preserved for errors.Unwrap and %w-style chains; Error() includes
// both the taxonomy message and the cause's message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of e with a context key/value attached.
// Intended for chaining at construction time:
//
//	errkind.New(errkind.KindHashMismatch, "store object corrupt").
//		WithContext("path", path).
//		WithContext("expected", expected.String())
func (e *Error) WithContext(key, value string) *Error {
	next := *e
	next.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		next.Context[k] = v
	}
	next.Context[key] = value
	return &next
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, enabling errors.Is/errors.As to
// see through to it.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the same Kind as e, enabling
// errors.Is(err, errkind.KindHashMismatch) to work directly against a
// Kind value without callers needing to construct an *Error.
func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var taxonomyErr *Error
	if errors.As(err, &taxonomyErr) {
		return taxonomyErr.Kind, true
	}
	return Kind{}, false
}
