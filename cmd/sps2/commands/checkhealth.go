// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sps2/sps2go/lib/watchdog"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

// checkStatus is the outcome of a single health check.
type checkStatus string

const (
	checkPass checkStatus = "pass"
	checkWarn checkStatus = "warn"
	checkFail checkStatus = "fail"
)

// checkResult is one health check's outcome.
type checkResult struct {
	Name    string      `json:"name"`
	Status  checkStatus `json:"status"`
	Message string      `json:"message"`
}

func checkHealthCommand() *cli.Command {
	return &cli.Command{
		Name:    "check-health",
		Summary: "Run diagnostic checks against the local installation",
		Usage:   "sps2 check-health",
		Description: `Checks that the configured paths exist as directories, that the
state database and object store open cleanly, and that the index is
reachable and its signature verifies against the configured trust
root. Exits non-zero if any check fails.`,
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			checks := []checkResult{
				checkPaths(app),
				checkDatabase(app),
				checkStore(app),
				checkIndex(ctx, app),
				checkBuildWatchdog(app),
			}

			ok := true
			for _, c := range checks {
				if c.Status == checkFail {
					ok = false
				}
			}

			if app.JSON {
				if err := cli.WriteJSON(map[string]any{"checks": checks, "ok": ok}); err != nil {
					return err
				}
			} else {
				for _, c := range checks {
					fmt.Printf("[%s] %s: %s\n", c.Status, c.Name, c.Message)
				}
			}

			if !ok {
				return &cli.ExitError{Code: cli.ExitOperationalFailure}
			}
			return nil
		},
	}
}

func checkPaths(app *cli.App) checkResult {
	for _, path := range []string{app.Config.Paths.Root, app.Config.Paths.Live, app.Config.Paths.Store, app.Config.Paths.States} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return checkResult{Name: "paths", Status: checkFail, Message: fmt.Sprintf("%s is missing or not a directory", path)}
		}
	}
	return checkResult{Name: "paths", Status: checkPass, Message: "all configured paths exist"}
}

func checkDatabase(app *cli.App) checkResult {
	if _, err := app.DB(); err != nil {
		return checkResult{Name: "database", Status: checkFail, Message: err.Error()}
	}
	return checkResult{Name: "database", Status: checkPass, Message: "state database opened"}
}

func checkStore(app *cli.App) checkResult {
	if _, err := app.Store(); err != nil {
		return checkResult{Name: "store", Status: checkFail, Message: err.Error()}
	}
	return checkResult{Name: "store", Status: checkPass, Message: "object store opened"}
}

func checkBuildWatchdog(app *cli.App) checkResult {
	state, found, err := watchdog.Check(watchdogPath(app), maxWatchdogAge)
	if err != nil {
		return checkResult{Name: "build-watchdog", Status: checkWarn, Message: err.Error()}
	}
	if !found {
		return checkResult{Name: "build-watchdog", Status: checkPass, Message: "no in-flight build left behind"}
	}
	return checkResult{
		Name:   "build-watchdog",
		Status: checkWarn,
		Message: fmt.Sprintf("a build of %s started at %s (pid %d) did not clean up; its output directory may need review",
			state.Detail, state.Timestamp.Format("2006-01-02T15:04:05Z07:00"), state.PID),
	}
}

func checkIndex(ctx context.Context, app *cli.App) checkResult {
	if app.Config.Index.URL == "" || app.Config.Index.TrustRoot == "" {
		return checkResult{Name: "index", Status: checkWarn, Message: "index.url or index.trust_root is not configured"}
	}
	doc, err := fetchIndex(ctx, app)
	if err != nil {
		return checkResult{Name: "index", Status: checkFail, Message: err.Error()}
	}
	return checkResult{Name: "index", Status: checkPass, Message: fmt.Sprintf("index verified, %d packages", len(doc.Packages))}
}
