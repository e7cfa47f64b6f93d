// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sps2/sps2go/lib/errkind"
)

// KeyEntry identifies the currently trusted signing key.
type KeyEntry struct {
	ID        string    `json:"id"`
	PublicKey HexBytes  `json:"pubkey"`
	ValidFrom time.Time `json:"valid_from"`
}

// Rotation records a single key rotation event: the new key being
// introduced, signed by the previous key to prove continuity of
// trust, and the window during which the old key remains valid for
// verifying previously-signed documents.
type Rotation struct {
	NewKey         KeyEntry  `json:"new_key"`
	SignatureByOld HexBytes  `json:"signature_by_old_key"`
	ValidFrom      time.Time `json:"valid_from"`
	OldKeyExpires  time.Time `json:"old_key_expires"`
}

// KeyLedger is the parsed keys.json document: the current trusted key
// plus the history of rotations that led to it.
type KeyLedger struct {
	Current   KeyEntry   `json:"current"`
	Rotations []Rotation `json:"rotations"`
}

// ParseKeyLedger unmarshals a raw keys.json payload.
func ParseKeyLedger(data []byte) (*KeyLedger, error) {
	var ledger KeyLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, "decoding key ledger", err)
	}
	return &ledger, nil
}

// Verify confirms that every rotation in the ledger is properly
// chained: each Rotation's SignatureByOld must verify against the
// public key of the rotation immediately before it (or the ledger's
// original key, for the first rotation), using verifier.
func (l *KeyLedger) Verify(verifier Verifier, originalKey []byte) error {
	trustedKey := originalKey
	for i, rotation := range l.Rotations {
		newKeyBytes, err := json.Marshal(rotation.NewKey)
		if err != nil {
			return fmt.Errorf("encoding rotation %d new key for verification: %w", i, err)
		}
		if !verifier.Verify(newKeyBytes, rotation.SignatureByOld, trustedKey) {
			return errkind.New(errkind.KindSignatureInvalid,
				fmt.Sprintf("key rotation %d is not signed by the preceding trusted key", i)).
				WithContext("rotation_index", fmt.Sprint(i))
		}
		trustedKey = rotation.NewKey.PublicKey
	}
	return nil
}

// ActiveKeyAt returns the public key that was the current trusted key
// at the given time, walking the rotation history newest-first. Used
// to verify index documents signed before the most recent rotation.
// Returns nil, false if at predates every rotation in the ledger — the
// key that signed the first rotation is not itself stored in the
// ledger, so callers verifying documents that old must supply the
// original trust root out of band (the same value passed to Verify).
func (l *KeyLedger) ActiveKeyAt(at time.Time) ([]byte, bool) {
	for i := len(l.Rotations) - 1; i >= 0; i-- {
		rotation := l.Rotations[i]
		if !at.Before(rotation.ValidFrom) {
			return rotation.NewKey.PublicKey, true
		}
	}
	if len(l.Rotations) == 0 {
		return l.Current.PublicKey, true
	}
	return nil, false
}

// HexBytes is a byte slice that marshals as a hex string in JSON,
// matching the keys.json wire format (public keys and signatures are
// hex-encoded, not base64, to match sps2go's content-hash convention
// of lowercase hex everywhere).
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *HexBytes) UnmarshalText(data []byte) error {
	decoded, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decoding hex bytes: %w", err)
	}
	*b = decoded
	return nil
}
