// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/watchdog"

	"github.com/sps2/sps2go/cmd/sps2/cli"
)

// watchdogPath returns where the build command records an in-flight
// driver invocation, so a later sps2 invocation can notice if this one
// never got the chance to clean up.
func watchdogPath(app *cli.App) string {
	return filepath.Join(app.Config.Paths.Root, "build.watchdog")
}

// maxWatchdogAge bounds how long a leftover build watchdog is treated as
// relevant to the current run; older than this, it's assumed to be from
// an unrelated crash long since noticed and is ignored.
const maxWatchdogAge = 24 * time.Hour

type buildParams struct {
	Install bool `flag:"install,i" desc:"install the resulting archive once the build finishes"`
}

func buildCommand() *cli.Command {
	var params buildParams
	return &cli.Command{
		Name:    "build",
		Summary: "Build a package from a recipe",
		Usage:   "sps2 build [flags] <recipe>",
		Description: `Invokes the configured recipe driver as a subprocess with the given
recipe path and watches its output directory for the finished .sp
archive. The driver itself (the recipe interpreter and sandboxed build
environment) is an external collaborator: this command treats it
opaquely, communicating only through its exit status and the archive
it leaves behind.`,
		Examples: []cli.Example{
			{Description: "Build a recipe", Command: "sps2 build ./recipes/curl.toml"},
			{Description: "Build and install the result", Command: "sps2 build --install ./recipes/curl.toml"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("build", &params) },
		Run: func(ctx context.Context, app *cli.App, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return &cli.ExitError{Code: cli.ExitUsageError}
			}
			return runBuild(ctx, app, args[0], params.Install, logger)
		},
	}
}

// runBuild invokes the recipe driver and waits for it to either exit
// (success or failure) or deposit a new .sp archive in the output
// directory, whichever it signals completion through. Watching the
// directory lets the build proceed as soon as an archive appears, even
// while the driver is still running; a driver that exits before any
// archive exists is treated as a failure (see waitForArchive).
func runBuild(ctx context.Context, app *cli.App, recipePath string, install bool, logger *slog.Logger) error {
	if app.Config.Build.DriverPath == "" {
		return errkind.New(errkind.KindMissingKey, "build.driver_path is not configured")
	}
	if err := os.MkdirAll(app.Config.Build.OutputDir, 0o755); err != nil {
		return errkind.Wrap(errkind.KindIOError, "creating build output directory", err)
	}

	markerPath := watchdogPath(app)
	if stale, found, err := watchdog.Check(markerPath, maxWatchdogAge); err == nil && found {
		logger.Warn("previous build may not have finished cleanly",
			"recipe", stale.Detail, "started", stale.Timestamp, "pid", stale.PID)
	}
	if err := watchdog.Write(markerPath, watchdog.State{
		Operation: "build",
		Detail:    recipePath,
		PID:       os.Getpid(),
		Timestamp: time.Now(),
	}); err != nil {
		return errkind.Wrap(errkind.KindIOError, "writing build watchdog", err)
	}
	defer watchdog.Clear(markerPath)

	timeout, err := time.ParseDuration(app.Config.Build.Timeout)
	if err != nil {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "creating build output watcher", err)
	}
	defer watcher.Close()
	if err := watcher.Add(app.Config.Build.OutputDir); err != nil {
		return errkind.Wrap(errkind.KindIOError, "watching build output directory", err)
	}

	cmd := exec.CommandContext(ctx, app.Config.Build.DriverPath, recipePath, app.Config.Build.OutputDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errkind.Wrap(errkind.KindIOError, "starting recipe driver", err)
	}

	driverDone := make(chan error, 1)
	go func() { driverDone <- cmd.Wait() }()

	archivePath, err := waitForArchive(ctx, watcher, driverDone, app.Config.Build.OutputDir)
	if err != nil {
		return err
	}

	if app.JSON {
		if err := cli.WriteJSON(map[string]any{"archive": archivePath}); err != nil {
			return err
		}
	} else {
		fmt.Printf("build: produced %s\n", archivePath)
	}

	if !install {
		return nil
	}
	return installLocal(ctx, app, archivePath, logger)
}

// waitForArchive blocks until either a .sp file appears in the watched
// output directory or the driver process exits. A driver that exits
// cleanly without ever writing an archive is treated as a failure: it
// claimed success but produced nothing to show for it.
func waitForArchive(ctx context.Context, watcher *fsnotify.Watcher, driverDone <-chan error, outputDir string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", errkind.Wrap(errkind.KindTimeout, "waiting for build output", ctx.Err())

		case event, ok := <-watcher.Events:
			if !ok {
				return "", errkind.New(errkind.KindIOError, "build output watcher closed unexpectedly")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if strings.HasSuffix(event.Name, ".sp") {
				if info, err := os.Stat(event.Name); err == nil && !info.IsDir() {
					return event.Name, nil
				}
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			return "", errkind.Wrap(errkind.KindIOError, "watching build output", werr)

		case err := <-driverDone:
			if err != nil {
				return "", fmt.Errorf("recipe driver exited with an error: %w", err)
			}
			// The driver may have written its archive and exited before
			// the watcher delivered the event; scan directly rather
			// than racing the fsnotify channel.
			if archivePath, ok := newestArchive(outputDir); ok {
				return archivePath, nil
			}
			return "", fmt.Errorf("recipe driver exited without producing an archive")
		}
	}
}

// newestArchive returns the most recently modified .sp file directly
// in dir, if any.
func newestArchive(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = filepath.Join(dir, entry.Name())
			bestTime = info.ModTime()
		}
	}
	return best, best != ""
}
