// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sps2/sps2go/lib/statemgr"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:    "history",
		Summary: "List every recorded state, newest first",
		Usage:   "sps2 history",
		Description: `Shows the append-only sequence of states this prefix has passed
through: the operation that produced each one, when, and a short
summary of its package set. The active state is marked.`,
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			db, err := app.DB()
			if err != nil {
				return err
			}

			states, err := db.ListStates(ctx)
			if err != nil {
				return err
			}
			activeID, err := db.ActiveStateID(ctx)
			if err != nil {
				return err
			}

			if app.JSON {
				type entry struct {
					State     string `json:"state"`
					Parent    string `json:"parent,omitempty"`
					Operation string `json:"operation"`
					CreatedAt string `json:"created_at"`
					Active    bool   `json:"active"`
					Summary   string `json:"summary"`
				}
				entries := make([]entry, 0, len(states))
				for _, s := range states {
					packages, err := db.ListPackages(ctx, s.ID)
					if err != nil {
						return err
					}
					parent := ""
					if !s.ParentID.IsZero() {
						parent = s.ParentID.String()
					}
					entries = append(entries, entry{
						State:     s.ID.String(),
						Parent:    parent,
						Operation: s.Operation,
						CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
						Active:    s.ID == activeID,
						Summary:   statemgr.Summary(s, packages),
					})
				}
				return cli.WriteJSON(entries)
			}

			for _, s := range states {
				packages, err := db.ListPackages(ctx, s.ID)
				if err != nil {
					return err
				}
				marker := "  "
				if s.ID == activeID {
					marker = "* "
				}
				fmt.Printf("%s%s  %-10s  %s  %s\n",
					marker, s.ID, s.Operation, s.CreatedAt.Format("2006-01-02 15:04:05"), statemgr.Summary(s, packages))
			}
			return nil
		},
	}
}
