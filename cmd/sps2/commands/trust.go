// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/sps2/sps2go/lib/index"
	"github.com/sps2/sps2go/lib/sealed"
	"github.com/sps2/sps2go/lib/secret"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

// identityPath returns the local age identity file sps2 uses to seal
// the key rotation ledger cached at app.Config.Paths.TrustStore. It
// lives alongside the trust store rather than inside it, so a reader
// of the trust store directory cannot mistake the identity file for
// ledger content.
func identityPath(app *cli.App) string {
	return filepath.Join(filepath.Dir(app.Config.Paths.TrustStore), ".trust_identity")
}

// loadOrCreateIdentity returns the local sealing identity, generating
// one on first use. The private key is held in a secret.Buffer; it
// becomes a plain Go string only where age's API forces one: on
// generation (see sealed.GenerateKeypair) and when publicKeyFor
// re-derives the public key from a reloaded identity.
func loadOrCreateIdentity(app *cli.App) (*sealed.Keypair, error) {
	path := identityPath(app)

	data, err := os.ReadFile(path)
	if err == nil {
		privateKey, err := secret.NewFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading trust identity: %w", err)
		}
		publicKey, err := publicKeyFor(privateKey)
		if err != nil {
			privateKey.Close()
			return nil, err
		}
		return &sealed.Keypair{PrivateKey: privateKey, PublicKey: publicKey}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading trust identity: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generating trust identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		keypair.Close()
		return nil, err
	}
	if err := os.WriteFile(path, keypair.PrivateKey.Bytes(), 0o600); err != nil {
		keypair.Close()
		return nil, fmt.Errorf("persisting trust identity: %w", err)
	}
	return keypair, nil
}

// publicKeyFor derives an identity's public key from its private key
// by round-tripping it through age's parser, since a reloaded private
// key has no public key recorded alongside it on disk.
func publicKeyFor(privateKey *secret.Buffer) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return "", fmt.Errorf("parsing trust identity: %w", err)
	}
	return identity.Recipient().String(), nil
}

// storeKeyLedger seals raw (a keys.json payload) to the local identity
// and writes it to app.Config.Paths.TrustStore, so the ledger never
// sits on disk as plaintext JSON.
func storeKeyLedger(app *cli.App, raw []byte) error {
	keypair, err := loadOrCreateIdentity(app)
	if err != nil {
		return err
	}
	defer keypair.Close()

	ciphertext, err := sealed.Encrypt(raw, []string{keypair.PublicKey})
	if err != nil {
		return fmt.Errorf("sealing key ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(app.Config.Paths.TrustStore), 0o700); err != nil {
		return err
	}
	return os.WriteFile(app.Config.Paths.TrustStore, []byte(ciphertext), 0o600)
}

// loadSealedKeyLedger reads and unseals the local key ledger cache, if
// one has been written by a prior reposync. A missing trust store is
// not an error: a repository that has never rotated its signing key
// has no ledger to cache.
func loadSealedKeyLedger(app *cli.App) (*index.KeyLedger, error) {
	path := app.Config.Paths.TrustStore
	if path == "" {
		return nil, nil
	}
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	keypair, err := loadOrCreateIdentity(app)
	if err != nil {
		return nil, err
	}
	defer keypair.Close()

	plaintext, err := sealed.Decrypt(string(ciphertext), keypair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing key ledger: %w", err)
	}
	defer plaintext.Close()

	return index.ParseKeyLedger(plaintext.Bytes())
}
