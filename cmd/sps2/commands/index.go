// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/index"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

// fetchIndex retrieves and verifies the package index: index.json, its
// detached signature sidecar (index.json.sig), and the local key
// rotation ledger, then returns the parsed, authenticated document.
// This is the one place every index-consuming command
// (install/update/upgrade/search/reposync) goes through, so the trust
// chain is checked identically everywhere.
//
// The index document is itself the root of trust for every package
// hash it names, so it cannot be fetched through fetch.Fetcher.Get
// (which requires an already-known expected hash) — it is instead
// authenticated by Ed25519 signature against app.Config.Index.TrustRoot,
// walked forward through any rotations recorded in the local key
// ledger.
func fetchIndex(ctx context.Context, app *cli.App) (*index.Document, error) {
	if app.Config.Index.URL == "" {
		return nil, errkind.New(errkind.KindMissingKey, "index.url is not configured")
	}
	if app.Config.Index.TrustRoot == "" {
		return nil, errkind.New(errkind.KindMissingKey, "index.trust_root is not configured")
	}
	trustRoot, err := hex.DecodeString(app.Config.Index.TrustRoot)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, "decoding index.trust_root", err)
	}

	cacheDir := filepath.Join(app.Config.Paths.Root, "index-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.KindIOError, "creating index cache directory", err)
	}

	fetcher := app.Fetcher()
	docPath := filepath.Join(cacheDir, "index.json")
	sigPath := filepath.Join(cacheDir, "index.json.sig")

	if err := fetcher.GetUnverified(ctx, app.Config.Index.URL, docPath); err != nil {
		return nil, fmt.Errorf("fetching index: %w", err)
	}
	if err := fetcher.GetUnverified(ctx, app.Config.Index.URL+".sig", sigPath); err != nil {
		return nil, fmt.Errorf("fetching index signature: %w", err)
	}

	data, err := os.ReadFile(docPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIOError, "reading fetched index", err)
	}
	sigHex, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIOError, "reading fetched index signature", err)
	}
	signature, err := hex.DecodeString(string(trimTrailingNewline(sigHex)))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindParseError, "decoding index signature", err)
	}

	activeKey := trustRoot
	ledger, err := loadSealedKeyLedger(app)
	if err != nil {
		return nil, fmt.Errorf("loading local key ledger: %w", err)
	}
	if ledger != nil {
		if err := ledger.Verify(index.Ed25519Verifier{}, trustRoot); err != nil {
			return nil, err
		}
		if key, ok := ledger.ActiveKeyAt(time.Now()); ok {
			activeKey = key
		}
	}

	doc, err := index.VerifyAndParse(data, signature, activeKey, index.Ed25519Verifier{})
	if err != nil {
		return nil, err
	}
	if err := doc.CheckFormatVersion(app.Config.Index.SupportedFormatVersion); err != nil {
		return nil, err
	}

	freshnessWindow, err := time.ParseDuration(app.Config.Index.FreshnessWindow)
	if err != nil {
		freshnessWindow = 168 * time.Hour
	}
	if err := doc.CheckFreshness(time.Now(), freshnessWindow); err != nil {
		return nil, err
	}

	return doc, nil
}

func trimTrailingNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
