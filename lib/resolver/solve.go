// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"sort"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/versionspec"
)

// UnsatError reports that no selection of versions satisfies every
// request and dependency, with a human-readable chain of the
// conflicting requirements (spec.md §4.5).
type UnsatError struct {
	Explanation string
}

func (e *UnsatError) Error() string {
	return "dependency resolution failed: " + e.Explanation
}

// AsErrkind converts e into the taxonomy error callers elsewhere in
// sps2go match on.
func (e *UnsatError) AsErrkind() *errkind.Error {
	return errkind.New(errkind.KindUnsat, e.Explanation)
}

// Selected is one package chosen by the resolver, paired with the
// runtime dependency names it was selected alongside.
type Selected struct {
	Name    string
	Version versionspec.Version
	Deps    []string
}

// Solution is the resolver's output on success: the selected version
// of every reachable package, plus a topological order of the induced
// dependency DAG (dependencies before dependents) for the install
// pipeline to walk.
type Solution struct {
	Selected map[string]Selected
	Order    []string
}

// Solve selects a version for every package reachable from requests
// such that every selected release's runtime dependencies are
// satisfied, preferring newer versions, and returns a topological
// order of the result. It returns *UnsatError if no such selection
// exists.
func Solve(requests []Request, idx Index) (*Solution, error) {
	if len(requests) == 0 {
		return &Solution{Selected: map[string]Selected{}}, nil
	}

	enc, err := newEncoder(requests, idx)
	if err != nil {
		return nil, err
	}

	sat, confl := enc.solver.Solve()
	if !sat {
		lines := enc.solver.explain(confl)
		if len(lines) == 0 {
			lines = []string{"no satisfying assignment exists for the requested packages"}
		}
		return nil, &UnsatError{Explanation: joinLines(lines)}
	}

	return enc.buildSolution(), nil
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, l := range lines[1:] {
		out += "; " + l
	}
	return out
}

// buildSolution reads the solver's final assignment off varRef (the
// reverse of the variable allocation in allocateVars) and topologically
// sorts the result with ties broken by name ascending (spec.md §4.5).
func (e *encoder) buildSolution() *Solution {
	selected := make(map[string]Selected, len(e.varRef))
	for v, ref := range e.varRef {
		if e.solver.Value(v) {
			selected[ref.name] = Selected{Name: ref.name, Version: ref.version}
		}
	}

	for name, candidates := range e.candidates {
		sel, ok := selected[name]
		if !ok {
			continue
		}
		for _, c := range candidates {
			if !c.Version.Equal(sel.Version) {
				continue
			}
			for _, dep := range c.RuntimeDeps {
				if _, ok := selected[dep.Name]; ok {
					sel.Deps = append(sel.Deps, dep.Name)
				}
			}
			break
		}
		selected[name] = sel
	}

	return &Solution{
		Selected: selected,
		Order:    topoOrder(selected),
	}
}

// topoOrder returns a dependency-before-dependent ordering of
// selected's packages, breaking ties by name ascending.
func topoOrder(selected map[string]Selected) []string {
	names := make([]string, 0, len(selected))
	for n := range selected {
		names = append(names, n)
	}
	sort.Strings(names)

	visited := make(map[string]bool, len(names))
	inStack := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		if inStack[name] {
			// A cycle among selected packages would mean the at-most-one
			// and dependency clauses were jointly satisfiable around a
			// loop; the DAG invariant the clauses encode rules this out
			// for a genuine SAT solution, so this is unreachable.
			return
		}
		inStack[name] = true
		deps := append([]string(nil), selected[name].Deps...)
		sort.Strings(deps)
		for _, d := range deps {
			visit(d)
		}
		inStack[name] = false
		visited[name] = true
		order = append(order, name)
	}

	for _, n := range names {
		visit(n)
	}
	return order
}
