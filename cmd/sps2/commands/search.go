// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:    "search",
		Summary: "Search the index for packages whose name contains a term",
		Usage:   "sps2 search <term>",
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return &cli.ExitError{Code: cli.ExitUsageError}
			}
			term := strings.ToLower(args[0])

			doc, err := fetchIndex(ctx, app)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(doc.Packages))
			for name := range doc.Packages {
				if strings.Contains(strings.ToLower(name), term) {
					names = append(names, name)
				}
			}
			sort.Strings(names)

			if app.JSON {
				return cli.WriteJSON(names)
			}

			for _, name := range names {
				versions := sortedVersions(doc.Versions(name))
				latest := ""
				if len(versions) > 0 {
					latest = versions[0]
				}
				fmt.Printf("%-30s %s\n", name, latest)
			}
			return nil
		},
	}
}
