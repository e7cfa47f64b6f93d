// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:    "cleanup",
		Summary: "Retire old states and reclaim unreferenced store objects",
		Usage:   "sps2 cleanup",
		Description: `Retires every state outside the retention policy (the active
state, the newest few states, and anything recent enough by age) and
sweeps any file object left with a zero reference count as a result.`,
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			collector, err := app.Collector()
			if err != nil {
				return err
			}

			stats, err := collector.Collect(ctx)
			if err != nil {
				return err
			}

			if app.JSON {
				return cli.WriteJSON(map[string]any{
					"states_retired":  stats.StatesRetired,
					"objects_swept":   stats.ObjectsSwept,
					"bytes_reclaimed": stats.BytesReclaimed,
				})
			}
			fmt.Printf("cleanup: retired %d state(s), swept %d object(s), reclaimed %d bytes\n",
				stats.StatesRetired, stats.ObjectsSwept, stats.BytesReclaimed)
			return nil
		},
	}
}
