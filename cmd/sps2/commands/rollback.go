// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sps2/sps2go/lib/identity"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:    "rollback",
		Summary: "Repoint the live prefix at a previously committed state",
		Usage:   "sps2 rollback <state-id>",
		Description: `Reconstructs the live prefix from a state already recorded in
history, without re-fetching or re-verifying anything: every file it
needs is already content-addressed in the object store. The current
state is archived, not deleted, so rolling forward again later is just
another rollback to a newer state id.`,
		Examples: []cli.Example{
			{Description: "Roll back to a prior state", Command: "sps2 rollback 3f9a2b1c-0e4d-4b7a-9c2e-1a2b3c4d5e6f"},
		},
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return &cli.ExitError{Code: cli.ExitUsageError}
			}

			target, err := identity.ParseStateID(args[0])
			if err != nil {
				return fmt.Errorf("parsing state id %q: %w", args[0], err)
			}

			manager, err := app.Manager()
			if err != nil {
				return err
			}
			if err := manager.Rollback(ctx, target); err != nil {
				return err
			}

			if app.JSON {
				return cli.WriteJSON(map[string]any{"state": target.String()})
			}
			fmt.Printf("rollback: active state is now %s\n", target)
			return nil
		},
	}
}
