// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete sps2 CLI command tree: one
// *cli.Command per subcommand, wired to the shared App runtime.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sps2/sps2go/lib/version"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

// Root builds and returns the complete sps2 CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "sps2",
		Description: `sps2: a content-addressed package manager.

Installs, updates, and rolls back packages through an append-only
history of atomically-swapped filesystem states, verifying every
downloaded archive against the hash a signed index records for it
before unpacking it.`,
		Subcommands: []*cli.Command{
			installCommand(),
			uninstallCommand(),
			updateCommand(),
			upgradeCommand(),
			rollbackCommand(),
			historyCommand(),
			listCommand(),
			infoCommand(),
			searchCommand(),
			reposyncCommand(),
			cleanupCommand(),
			checkHealthCommand(),
			buildCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ *cli.App, _ []string, _ *slog.Logger) error {
					fmt.Printf("sps2 %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Install a package at the newest satisfying version", Command: "sps2 install curl>=8.0"},
			{Description: "Update every installed package's patch/minor versions", Command: "sps2 update"},
			{Description: "Roll back to a previous filesystem state", Command: "sps2 rollback 3f9a2b1c-0e4d-4b7a-9c2e-1a2b3c4d5e6f"},
			{Description: "See what changed across states", Command: "sps2 history"},
			{Description: "Reclaim space from retired states and orphaned objects", Command: "sps2 cleanup"},
		},
	}
}
