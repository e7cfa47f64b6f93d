// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import "crypto/ed25519"

// Verifier is sps2go's boolean-oracle signer contract (spec.md §6):
// verify(blob, signature, trust_root) -> bool. The concrete signing
// scheme lives outside this package's concern; callers supply
// whichever Verifier matches their trust root format.
type Verifier interface {
	Verify(blob, signature, trustRoot []byte) bool
}

// Ed25519Verifier verifies signatures produced by an Ed25519 keypair,
// where trustRoot is the raw 32-byte public key. This is the default
// Verifier: sps2go's own key rotation ledger (keys.json) and index
// signing both use Ed25519, the same signing scheme the teacher uses
// for its own service tokens.
type Ed25519Verifier struct{}

// Verify implements Verifier.
func (Ed25519Verifier) Verify(blob, signature, trustRoot []byte) bool {
	if len(trustRoot) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(trustRoot), blob, signature)
}
