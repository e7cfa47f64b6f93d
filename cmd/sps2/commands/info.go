// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sps2/sps2go/lib/versionspec"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:    "info",
		Summary: "Show details about a package",
		Usage:   "sps2 info <name>",
		Description: `Shows whether name is installed in the active state and, from
the index, every published version and its runtime dependencies.`,
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return &cli.ExitError{Code: cli.ExitUsageError}
			}
			name := args[0]

			doc, err := fetchIndex(ctx, app)
			if err != nil {
				return err
			}

			db, err := app.DB()
			if err != nil {
				return err
			}
			activeID, err := db.ActiveStateID(ctx)
			if err != nil {
				return err
			}
			existing, err := db.ListPackages(ctx, activeID)
			if err != nil {
				return err
			}

			var installed string
			for _, pkg := range existing {
				if pkg.Package.Name == name {
					installed = pkg.Package.Version.String()
				}
			}

			versions := sortedVersions(doc.Versions(name))

			if app.JSON {
				return cli.WriteJSON(map[string]any{
					"name":      name,
					"installed": installed,
					"versions":  versions,
				})
			}

			fmt.Printf("name: %s\n", name)
			if installed != "" {
				fmt.Printf("installed: %s\n", installed)
			} else {
				fmt.Println("installed: (not installed)")
			}
			if len(versions) == 0 {
				fmt.Println("no versions found in index")
				return nil
			}
			fmt.Println("versions:")
			for _, v := range versions {
				release, _ := doc.Lookup(name, v)
				fmt.Printf("  %-15s %s\n", v, release.ArchiveHash)
				for _, dep := range release.RuntimeDeps {
					fmt.Printf("      requires %s\n", dep)
				}
			}
			return nil
		},
	}
}

func sortedVersions(raw []string) []string {
	versions := make([]versionspec.Version, 0, len(raw))
	for _, s := range raw {
		v, err := versionspec.Parse(s)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[j].Less(versions[i]) })

	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out
}
