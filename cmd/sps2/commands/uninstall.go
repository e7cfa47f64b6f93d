// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/sps2/sps2go/lib/resolver"
	"github.com/sps2/sps2go/lib/statedb"
	"github.com/sps2/sps2go/lib/versionspec"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

type uninstallParams struct {
	DryRun bool `flag:"dry-run" desc:"resolve and print the result without applying it"`
}

func uninstallCommand() *cli.Command {
	var params uninstallParams
	return &cli.Command{
		Name:    "uninstall",
		Summary: "Remove one or more installed packages",
		Usage:   "sps2 uninstall [flags] <name>...",
		Description: `Removes the named packages from the active state. Every other
installed package is pinned at its currently installed version and
carried forward unchanged, including packages that were installed only
as dependencies of a removed package: those are not dropped. A named
package that another installed package still depends on is selected
again by the resolver and stays installed.`,
		Examples: []cli.Example{
			{Description: "Remove a package", Command: "sps2 uninstall curl"},
			{Description: "Preview what would be removed", Command: "sps2 uninstall --dry-run curl openssl"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("uninstall", &params) },
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return &cli.ExitError{Code: cli.ExitUsageError}
			}
			return runUninstall(ctx, app, args, params.DryRun, logger)
		},
	}
}

func runUninstall(ctx context.Context, app *cli.App, names []string, dryRun bool, logger *slog.Logger) error {
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

	remove := make(map[string]bool, len(names))
	for _, name := range names {
		remove[name] = true
	}
	for _, name := range names {
		if !hasPackage(existing, name) {
			return fmt.Errorf("package %q is not installed", name)
		}
	}

	requests := make([]resolver.Request, 0, len(existing))
	for _, pkg := range existing {
		if remove[pkg.Package.Name] {
			continue
		}
		requests = append(requests, resolver.Request{
			Name: pkg.Package.Name,
			Spec: versionspec.Exact(pkg.Package.Version),
		})
	}

	solution, err := resolver.Solve(requests, resolver.FromDocument(doc))
	if err != nil {
		if unsat, ok := err.(*resolver.UnsatError); ok {
			return unsat.AsErrkind()
		}
		return err
	}

	if dryRun {
		for _, pkg := range existing {
			if !remove[pkg.Package.Name] {
				continue
			}
			if _, kept := solution.Selected[pkg.Package.Name]; kept {
				continue
			}
			fmt.Printf("remove: %s %s\n", pkg.Package.Name, pkg.Package.Version)
		}
		return nil
	}

	return applySolution(ctx, app, "uninstall", doc, solution, existing, logger)
}

func hasPackage(existing []statedb.PackageRow, name string) bool {
	for _, pkg := range existing {
		if pkg.Package.Name == name {
			return true
		}
	}
	return false
}
