// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "testing"

func TestStateID_NewIsUnique(t *testing.T) {
	a := NewStateID()
	b := NewStateID()
	if a.String() == b.String() {
		t.Error("NewStateID produced duplicate ids")
	}
	if a.IsZero() || b.IsZero() {
		t.Error("freshly generated StateID should not be zero")
	}
}

func TestStateID_TextRoundTrip(t *testing.T) {
	id := NewStateID()
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var roundTripped StateID
	if err := roundTripped.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if roundTripped.String() != id.String() {
		t.Errorf("round trip mismatch: got %q, want %q", roundTripped.String(), id.String())
	}
}

func TestStateID_ZeroValue(t *testing.T) {
	if !ZeroStateID.IsZero() {
		t.Error("ZeroStateID should report IsZero")
	}

	var id StateID
	if err := id.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil): %v", err)
	}
	if !id.IsZero() {
		t.Error("unmarshaling empty text should produce zero StateID")
	}
}

func TestParseStateID_Invalid(t *testing.T) {
	if _, err := ParseStateID("not-a-uuid"); err == nil {
		t.Error("expected error for invalid uuid string")
	}
}
