// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/sps2/sps2go/lib/versionspec"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

type upgradeParams struct {
	DryRun bool `flag:"dry-run" desc:"resolve and print the upgrade without applying it"`
}

func upgradeCommand() *cli.Command {
	var params upgradeParams
	return &cli.Command{
		Name:    "upgrade",
		Summary: "Move installed packages to their newest satisfying version, including major bumps",
		Usage:   "sps2 upgrade [flags] [name...]",
		Description: `Re-resolves every installed package (or, if names are given, just
those) with no upper bound, so a major version bump is taken if one
satisfies the rest of the dependency graph. Use "update" to stay
within the currently installed major version.`,
		Examples: []cli.Example{
			{Description: "Upgrade everything installed", Command: "sps2 upgrade"},
			{Description: "Upgrade just one package across a major version", Command: "sps2 upgrade openssl"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("upgrade", &params) },
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			return runRelax(ctx, app, "upgrade", args, params.DryRun, logger, func(versionspec.Version) versionspec.Spec {
				return versionspec.Any()
			})
		},
	}
}
