// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// StateID is the universally unique 128-bit identifier of a prefix
// state (spec.md §3, "State"). Generated once at state creation and
// never reused.
type StateID struct {
	id uuid.UUID
}

// NewStateID generates a fresh random StateID (UUID v4).
func NewStateID() StateID {
	return StateID{id: uuid.New()}
}

// ZeroStateID is the nil StateID, used as the "no parent" sentinel for
// the genesis state.
var ZeroStateID = StateID{}

// IsZero reports whether id is the nil StateID.
func (id StateID) IsZero() bool {
	return id.id == uuid.Nil
}

// String returns the canonical UUID string form.
func (id StateID) String() string {
	return id.id.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id StateID) MarshalText() ([]byte, error) {
	return id.id.MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *StateID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = StateID{}
		return nil
	}
	var parsed uuid.UUID
	if err := parsed.UnmarshalText(data); err != nil {
		return fmt.Errorf("unmarshal state id: %w", err)
	}
	id.id = parsed
	return nil
}

// ParseStateID parses a UUID string into a StateID.
func ParseStateID(s string) (StateID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return StateID{}, fmt.Errorf("parsing state id %q: %w", s, err)
	}
	return StateID{id: parsed}, nil
}
