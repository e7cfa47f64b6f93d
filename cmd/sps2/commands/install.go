// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/sps2/sps2go/lib/archive"
	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/index"
	"github.com/sps2/sps2go/lib/pipeline"
	"github.com/sps2/sps2go/lib/resolver"
	"github.com/sps2/sps2go/lib/statedb"
	"github.com/sps2/sps2go/lib/statemgr"
	"github.com/sps2/sps2go/lib/store"
	"github.com/sps2/sps2go/lib/versionspec"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

type installParams struct {
	DryRun bool   `flag:"dry-run" desc:"resolve and print the install plan without applying it"`
	Local  string `flag:"local,l" desc:"path to a local .sp archive to install instead of fetching from the index"`
}

func installCommand() *cli.Command {
	var params installParams
	return &cli.Command{
		Name:    "install",
		Summary: "Install one or more packages",
		Usage:   "sps2 install [flags] <name[constraint]>...",
		Description: `Resolves the given package requests against the signed index
alongside every package already present in the active state, fetches and
verifies every newly required archive, and atomically swaps the result
into place as a new state.

A constraint may be attached directly to a name, e.g. "curl>=8.0" or
"openssl~=1.1". A bare name means any version.`,
		Examples: []cli.Example{
			{Description: "Install the newest curl satisfying no constraint", Command: "sps2 install curl"},
			{Description: "Install with a version constraint", Command: "sps2 install curl>=8.0"},
			{Description: "Preview the plan without applying it", Command: "sps2 install --dry-run curl openssl"},
			{Description: "Install a locally built archive", Command: "sps2 install --local ./curl-8.9.1-1.x86_64.sp"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("install", &params) },
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			if params.Local != "" {
				return installLocal(ctx, app, params.Local, logger)
			}
			if len(args) == 0 {
				return &cli.ExitError{Code: cli.ExitUsageError}
			}
			return runInstall(ctx, app, "install", args, params.DryRun, logger)
		},
	}
}

// runInstall resolves requests against the index plus the packages
// already present in the active state, fetches and stages whatever is
// newly required, and applies the result as a new state under
// operation.
func runInstall(ctx context.Context, app *cli.App, operation string, requestStrs []string, dryRun bool, logger *slog.Logger) error {
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

	requests, err := parseRequests(requestStrs)
	if err != nil {
		return err
	}
	for _, pkg := range existing {
		if containsRequest(requests, pkg.Package.Name) {
			continue
		}
		requests = append(requests, resolver.Request{Name: pkg.Package.Name, Spec: versionspec.Any()})
	}

	solution, err := resolver.Solve(requests, resolver.FromDocument(doc))
	if err != nil {
		if unsat, ok := err.(*resolver.UnsatError); ok {
			return unsat.AsErrkind()
		}
		return err
	}

	if dryRun {
		printPlan(solution)
		return nil
	}

	return applySolution(ctx, app, operation, doc, solution, existing, logger)
}

// splitForwardFresh partitions a solution into packages already
// present in the parent state at the exact selected version (which
// only need their rows forwarded, not refetched) and the remainder
// (which the pipeline must fetch, verify, and extract).
func splitForwardFresh(existing []statedb.PackageRow, solution *resolver.Solution) (forward []string, fresh *resolver.Solution) {
	unchanged := make(map[string]bool, len(existing))
	for _, pkg := range existing {
		sel, ok := solution.Selected[pkg.Package.Name]
		if ok && sel.Version.Equal(pkg.Package.Version) {
			unchanged[pkg.Package.Name] = true
			forward = append(forward, pkg.Package.Name)
		}
	}

	freshSelected := make(map[string]resolver.Selected, len(solution.Selected))
	freshOrder := make([]string, 0, len(solution.Order))
	for _, name := range solution.Order {
		if unchanged[name] {
			continue
		}
		freshSelected[name] = solution.Selected[name]
		freshOrder = append(freshOrder, name)
	}

	return forward, &resolver.Solution{Selected: freshSelected, Order: freshOrder}
}

// applySolution fetches/extracts every node the solution newly
// requires and applies the result as a new state. Packages already
// present in the parent state at the exact selected version are
// forwarded unchanged rather than refetched.
func applySolution(ctx context.Context, app *cli.App, operation string, doc *index.Document, solution *resolver.Solution, existing []statedb.PackageRow, logger *slog.Logger) error {
	forward, fresh := splitForwardFresh(existing, solution)

	objects, err := app.Store()
	if err != nil {
		return err
	}
	manager, err := app.Manager()
	if err != nil {
		return err
	}

	stagingDir, err := manager.BeginStaging()
	if err != nil {
		return err
	}

	var results []pipeline.Result
	if len(fresh.Selected) > 0 {
		plan, err := pipeline.NewPlan(fresh, doc)
		if err != nil {
			return err
		}

		pl := pipeline.New(pipeline.Config{
			Fetcher:  app.Fetcher(),
			Store:    objects,
			CacheDir: app.Config.Paths.Root + "/cache",
			Logger:   logger,
		})

		results, err = pl.Run(ctx, plan, stagingDir)
		if err != nil {
			return err
		}
	}

	stateID, err := manager.Apply(ctx, stagingDir, statemgr.Transition{
		Operation: operation,
		Fresh:     results,
		Forward:   forward,
	})
	if err != nil {
		return err
	}

	if app.JSON {
		return cli.WriteJSON(map[string]any{"state": stateID.String(), "packages": len(solution.Selected)})
	}
	fmt.Printf("%s: new state %s (%d packages)\n", operation, stateID, len(solution.Selected))
	return nil
}

// installLocal installs a single already-built archive without
// consulting the index for its own identity: its manifest names the
// package directly, and its declared runtime dependencies are still
// resolved against the index like any other install.
func installLocal(ctx context.Context, app *cli.App, path string, logger *slog.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "opening local package archive", err)
	}
	defer file.Close()

	reader, err := archive.NewReader(file)
	if err != nil {
		return err
	}
	defer reader.Close()

	manifest, err := reader.ReadManifest()
	if err != nil {
		return err
	}

	objects, err := app.Store()
	if err != nil {
		return err
	}
	entries, err := store.Extract(objects, reader)
	if err != nil {
		return err
	}

	doc, err := fetchIndex(ctx, app)
	if err != nil {
		return err
	}
	runtimeDeps, err := (index.Release{RuntimeDeps: manifest.Dependencies.Runtime}).RuntimeDepSpecs()
	if err != nil {
		return err
	}

	manager, err := app.Manager()
	if err != nil {
		return err
	}
	stagingDir, err := manager.BeginStaging()
	if err != nil {
		return err
	}

	version, err := versionspec.Parse(manifest.Package.Version)
	if err != nil {
		return err
	}

	results := []pipeline.Result{{
		Node: pipeline.Node{
			Name:    manifest.Package.Name,
			Version: version,
		},
		Manifest: manifest,
		Entries:  entries,
	}}

	if len(runtimeDeps) > 0 {
		solution, err := resolver.Solve(resolver.BuildRequests(runtimeDeps), resolver.FromDocument(doc))
		if err != nil {
			if unsat, ok := err.(*resolver.UnsatError); ok {
				return unsat.AsErrkind()
			}
			return err
		}
		plan, err := pipeline.NewPlan(solution, doc)
		if err != nil {
			return err
		}
		pl := pipeline.New(pipeline.Config{
			Fetcher:  app.Fetcher(),
			Store:    objects,
			CacheDir: app.Config.Paths.Root + "/cache",
			Logger:   logger,
		})
		depResults, err := pl.Run(ctx, plan, stagingDir)
		if err != nil {
			return err
		}
		results = append(results, depResults...)
	}

	stateID, err := manager.Apply(ctx, stagingDir, statemgr.Transition{
		Operation: "install",
		Fresh:     results,
	})
	if err != nil {
		return err
	}

	if app.JSON {
		return cli.WriteJSON(map[string]any{"state": stateID.String(), "package": manifest.Package.Name})
	}
	fmt.Printf("install: new state %s (local package %s)\n", stateID, manifest.Package.Name)
	return nil
}

func containsRequest(requests []resolver.Request, name string) bool {
	for _, r := range requests {
		if r.Name == name {
			return true
		}
	}
	return false
}

func printPlan(solution *resolver.Solution) {
	fmt.Println("plan:")
	for _, name := range solution.Order {
		sel := solution.Selected[name]
		fmt.Printf("  %s %s\n", sel.Name, sel.Version)
	}
}

// parseRequests parses "name[operator version[,...]]" request strings
// (e.g. "curl>=8.0") into resolver Requests, the same dependency-entry
// grammar index.Release's declared dependencies use.
func parseRequests(args []string) ([]resolver.Request, error) {
	requests := make([]resolver.Request, 0, len(args))
	for _, arg := range args {
		name, constraint := splitRequestEntry(arg)
		spec := versionspec.Any()
		if constraint != "" {
			parsed, err := versionspec.ParseSpec(constraint)
			if err != nil {
				return nil, fmt.Errorf("parsing request %q: %w", arg, err)
			}
			spec = parsed
		}
		requests = append(requests, resolver.Request{Name: name, Spec: spec})
	}
	return requests, nil
}

// splitRequestEntry splits "curl>=8.0" into ("curl", ">=8.0"), the
// same convention index.Release's dependency entries use: the name
// runs up to the first constraint operator character.
func splitRequestEntry(entry string) (name, constraint string) {
	for i, r := range entry {
		if r == '=' || r == '!' || r == '<' || r == '>' || r == '~' {
			return entry[:i], entry[i:]
		}
	}
	return entry, ""
}
