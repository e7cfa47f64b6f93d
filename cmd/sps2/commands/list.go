// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "List packages installed in the active state",
		Usage:   "sps2 list",
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			db, err := app.DB()
			if err != nil {
				return err
			}
			activeID, err := db.ActiveStateID(ctx)
			if err != nil {
				return err
			}
			packages, err := db.ListPackages(ctx, activeID)
			if err != nil {
				return err
			}

			if app.JSON {
				type entry struct {
					Name    string `json:"name"`
					Version string `json:"version"`
					Arch    string `json:"arch"`
				}
				entries := make([]entry, 0, len(packages))
				for _, pkg := range packages {
					entries = append(entries, entry{
						Name:    pkg.Package.Name,
						Version: pkg.Package.Version.String(),
						Arch:    pkg.Package.Arch,
					})
				}
				return cli.WriteJSON(entries)
			}

			for _, pkg := range packages {
				fmt.Printf("%-30s %-15s %s\n", pkg.Package.Name, pkg.Package.Version, pkg.Package.Arch)
			}
			return nil
		},
	}
}
