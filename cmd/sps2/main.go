// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command sps2 is the command-line front-end for the sps2 package
// manager: it parses global flags, builds the shared App runtime, and
// dispatches to the command tree in cmd/sps2/commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/sps2/sps2go/lib/process"

	"github.com/sps2/sps2go/cmd/sps2/cli"
	"github.com/sps2/sps2go/cmd/sps2/commands"
)

func main() {
	os.Exit(run())
}

func run() int {
	globals, args, err := parseGlobals(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.ExitUsageError
	}

	app, err := cli.NewApp(globals)
	if err != nil {
		process.Fatal(err)
		return cli.ExitOperationalFailure
	}
	defer app.Close()

	err = commands.Root().Execute(context.Background(), app, args)
	code := cli.ClassifyExitCode(err)
	if err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return code
}

// parseGlobals extracts the flags every subcommand inherits (--json,
// --debug, --color, --config) from the front of args, leaving the
// subcommand name and its own flags untouched for the command tree to
// parse itself.
func parseGlobals(args []string) (cli.Globals, []string, error) {
	flagSet := pflag.NewFlagSet("sps2", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	flagSet.SetInterspersed(false)
	flagSet.ParseErrorsWhitelist.UnknownFlags = true

	var globals cli.Globals
	var colorStr string
	flagSet.BoolVar(&globals.JSON, "json", false, "emit machine-readable JSON output")
	flagSet.BoolVar(&globals.Debug, "debug", false, "enable debug-level logging")
	flagSet.StringVar(&colorStr, "color", "auto", "color output: auto, always, never")
	flagSet.StringVar(&globals.ConfigPath, "config", "", "path to the sps2 configuration file")

	if err := flagSet.Parse(args); err != nil {
		return cli.Globals{}, nil, err
	}
	globals.Color = cli.ColorMode(colorStr)

	return globals, flagSet.Args(), nil
}
