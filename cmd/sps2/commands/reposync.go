// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/index"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func reposyncCommand() *cli.Command {
	return &cli.Command{
		Name:    "reposync",
		Summary: "Refresh the local index cache and key rotation ledger",
		Usage:   "sps2 reposync",
		Description: `Fetches the latest index and, if the repository has rotated its
signing key since the last sync, a fresh keys.json recording the
rotation chain. The ledger is verified against the original trust root
before being sealed and cached locally, so later commands can
authenticate an index signed by a rotated key without needing the
original key's signature on every request.`,
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			doc, err := fetchIndex(ctx, app)
			if err != nil {
				return err
			}

			synced, err := syncKeyLedger(ctx, app)
			if err != nil {
				return err
			}

			if app.JSON {
				return cli.WriteJSON(map[string]any{
					"format_version": doc.FormatVersion,
					"packages":       len(doc.Packages),
					"key_ledger_synced": synced,
				})
			}
			fmt.Printf("reposync: index at format version %d, %d packages\n", doc.FormatVersion, len(doc.Packages))
			if synced {
				fmt.Println("reposync: key ledger updated")
			}
			return nil
		},
	}
}

// syncKeyLedger fetches keys.json from alongside the configured index
// URL, verifies its rotation chain against the static trust root, and
// seals it into the local trust store. A repository that has never
// rotated its key has no keys.json to publish, which is not an error.
func syncKeyLedger(ctx context.Context, app *cli.App) (bool, error) {
	if app.Config.Index.TrustRoot == "" {
		return false, errkind.New(errkind.KindMissingKey, "index.trust_root is not configured")
	}
	trustRoot, err := hex.DecodeString(app.Config.Index.TrustRoot)
	if err != nil {
		return false, errkind.Wrap(errkind.KindParseError, "decoding index.trust_root", err)
	}

	keysURL := keysURLFor(app.Config.Index.URL)

	cacheDir := filepath.Join(app.Config.Paths.Root, "index-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return false, errkind.Wrap(errkind.KindIOError, "creating index cache directory", err)
	}
	keysPath := filepath.Join(cacheDir, "keys.json")

	if err := app.Fetcher().GetUnverified(ctx, keysURL, keysPath); err != nil {
		return false, nil
	}

	raw, err := os.ReadFile(keysPath)
	if err != nil {
		return false, errkind.Wrap(errkind.KindIOError, "reading fetched key ledger", err)
	}

	ledger, err := index.ParseKeyLedger(raw)
	if err != nil {
		return false, err
	}
	if err := ledger.Verify(index.Ed25519Verifier{}, trustRoot); err != nil {
		return false, err
	}

	if err := storeKeyLedger(app, raw); err != nil {
		return false, err
	}
	return true, nil
}

func keysURLFor(indexURL string) string {
	dir := indexURL
	if i := strings.LastIndex(indexURL, "/"); i >= 0 {
		dir = indexURL[:i]
	}
	return dir + "/keys.json"
}
