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

type updateParams struct {
	DryRun bool `flag:"dry-run" desc:"resolve and print the update without applying it"`
}

func updateCommand() *cli.Command {
	var params updateParams
	return &cli.Command{
		Name:    "update",
		Summary: "Move every installed package forward within its current major version",
		Usage:   "sps2 update [flags] [name...]",
		Description: `Re-resolves every installed package (or, if names are given, just
those) allowing any minor or patch release but never a major version
bump, and applies whatever newer versions satisfy the rest of the
dependency graph. Use "upgrade" to take the newest version regardless
of major version.`,
		Examples: []cli.Example{
			{Description: "Update everything installed", Command: "sps2 update"},
			{Description: "Update just one package", Command: "sps2 update curl"},
			{Description: "Preview an update", Command: "sps2 update --dry-run"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("update", &params) },
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			return runRelax(ctx, app, "update", args, params.DryRun, logger, compatibleSpec)
		},
	}
}

// compatibleSpec builds a constraint allowing any version with the
// same major component as installed, the "update" relaxation.
func compatibleSpec(v versionspec.Version) versionspec.Spec {
	spec, err := versionspec.ParseSpec(fmt.Sprintf("~=%d", v.Major))
	if err != nil {
		return versionspec.Exact(v)
	}
	return spec
}

// runRelax re-resolves the selected package names (or every installed
// package, if names is empty) under the constraint relax builds from
// its currently installed version, and every other installed package
// pinned exactly as it is. This is the shared machinery behind both
// update and upgrade, which differ only in how much a package is
// allowed to move.
func runRelax(ctx context.Context, app *cli.App, operation string, names []string, dryRun bool, logger *slog.Logger, relax func(versionspec.Version) versionspec.Spec) error {
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

	selected := make(map[string]bool, len(names))
	for _, name := range names {
		selected[name] = true
	}
	relaxAll := len(names) == 0

	requests := make([]resolver.Request, 0, len(existing))
	for _, pkg := range existing {
		spec := versionspec.Exact(pkg.Package.Version)
		if relaxAll || selected[pkg.Package.Name] {
			spec = relax(pkg.Package.Version)
		}
		requests = append(requests, resolver.Request{Name: pkg.Package.Name, Spec: spec})
	}

	solution, err := resolver.Solve(requests, resolver.FromDocument(doc))
	if err != nil {
		if unsat, ok := err.(*resolver.UnsatError); ok {
			return unsat.AsErrkind()
		}
		return err
	}

	if dryRun {
		printRelaxPlan(existing, solution)
		return nil
	}

	return applySolution(ctx, app, operation, doc, solution, existing, logger)
}

func printRelaxPlan(existing []statedb.PackageRow, solution *resolver.Solution) {
	for _, pkg := range existing {
		sel, ok := solution.Selected[pkg.Package.Name]
		if !ok || sel.Version.Equal(pkg.Package.Version) {
			continue
		}
		fmt.Printf("%s: %s -> %s\n", pkg.Package.Name, pkg.Package.Version, sel.Version)
	}
}
