// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statemgr

import (
	"fmt"
	"strings"

	"github.com/sps2/sps2go/lib/statedb"
)

// maxSummaryPackages bounds how many package names Summary lists
// before collapsing the rest into "and N more".
const maxSummaryPackages = 3

// Summary formats a short, human-readable description of a state's
// package set for `history`/`list` output: the first few package
// names, in the order ListPackages returns them (alphabetical), and a
// count of any remainder.
func Summary(state statedb.State, packages []statedb.PackageRow) string {
	if len(packages) == 0 {
		return fmt.Sprintf("%s (empty)", state.ID)
	}

	names := make([]string, 0, min(len(packages), maxSummaryPackages))
	for i, pkg := range packages {
		if i >= maxSummaryPackages {
			break
		}
		names = append(names, pkg.Package.Name)
	}

	summary := strings.Join(names, ", ")
	if remainder := len(packages) - len(names); remainder > 0 {
		summary = fmt.Sprintf("%s and %d more", summary, remainder)
	}
	return summary
}
