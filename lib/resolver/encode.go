// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sps2/sps2go/lib/versionspec"
)

// candidateRef recovers the package/version a CNF variable stands for.
type candidateRef struct {
	name    string
	version versionspec.Version
}

// encoder builds the CNF instance for a set of requests over an Index,
// tracking enough bookkeeping to turn a satisfying assignment back
// into a Solution or a conflict into a human explanation.
type encoder struct {
	solver *Solver

	candidates map[string][]Candidate    // name -> ascending by version
	varOf      map[string]map[string]Var // name -> version string -> Var
	varRef     map[Var]candidateRef
}

func newEncoder(requests []Request, idx Index) (*encoder, error) {
	e := &encoder{
		candidates: make(map[string][]Candidate),
		varOf:      make(map[string]map[string]Var),
		varRef:     make(map[Var]candidateRef),
	}

	names, err := e.discoverReachable(requests, idx)
	if err != nil {
		return nil, err
	}

	e.allocateVars(names)
	if err := e.addAtMostOneClauses(names); err != nil {
		return nil, err
	}
	if err := e.addDependencyClauses(names); err != nil {
		return nil, err
	}
	if err := e.addTopLevelClauses(requests); err != nil {
		return nil, err
	}

	return e, nil
}

// discoverReachable walks runtime dependency edges breadth-first from
// the request names, returning every reachable package name sorted
// ascending. Only runtime deps participate in install resolution
// (spec.md §4.5).
func (e *encoder) discoverReachable(requests []Request, idx Index) ([]string, error) {
	seen := make(map[string]bool)
	var queue []string
	for _, r := range requests {
		if !seen[r.Name] {
			seen[r.Name] = true
			queue = append(queue, r.Name)
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		candidates, err := idx.Candidates(name)
		if err != nil {
			return nil, fmt.Errorf("looking up candidates for %q: %w", name, err)
		}
		sortCandidatesAscending(candidates)
		e.candidates[name] = candidates

		for _, c := range candidates {
			for _, dep := range c.RuntimeDeps {
				if !seen[dep.Name] {
					seen[dep.Name] = true
					queue = append(queue, dep.Name)
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// allocateVars assigns one CNF variable per (name, version) pair.
// Names are processed in ascending order and, within a name, versions
// in descending order, so that a linear scan over variable indices
// visits them in (name ascending, version descending) order — the
// tie-break VSIDS determinism requires (spec.md §4.5). Initial
// activity is biased so the newest version of a package starts with
// the highest activity among its siblings.
func (e *encoder) allocateVars(names []string) {
	nVars := 0
	for _, n := range names {
		nVars += len(e.candidates[n])
	}
	e.solver = NewSolver(nVars)

	var next Var
	for _, n := range names {
		candidates := e.candidates[n] // ascending
		e.varOf[n] = make(map[string]Var, len(candidates))
		for i := len(candidates) - 1; i >= 0; i-- {
			c := candidates[i]
			v := next
			next++
			e.varOf[n][c.Version.String()] = v
			e.varRef[v] = candidateRef{name: n, version: c.Version}
			e.solver.Bias(v, float64(i))
		}
	}
}

func (e *encoder) varFor(name string, v versionspec.Version) Var {
	return e.varOf[name][v.String()]
}

// recordClause adds lits to the solver with the given origin. If the
// clause is unit and immediately contradicts an already-forced
// literal, that fact never reaches the trail for propagate to
// rediscover, so the conflict is explained and returned here instead.
func (e *encoder) recordClause(lits []Lit, origin string) error {
	c, ok := e.solver.addClause(lits)
	if c != nil {
		c.origin = origin
	}
	if ok {
		return nil
	}

	forced := c.lits[0].Variable()
	lines := append([]string{origin}, e.solver.explain(e.solver.reason[forced])...)
	return &UnsatError{Explanation: strings.Join(dedupLines(lines), "; ")}
}

func dedupLines(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func (e *encoder) addAtMostOneClauses(names []string) error {
	for _, n := range names {
		candidates := e.candidates[n]
		for i := 0; i < len(candidates); i++ {
			for j := i + 1; j < len(candidates); j++ {
				vi := e.varFor(n, candidates[i].Version)
				vj := e.varFor(n, candidates[j].Version)
				origin := fmt.Sprintf("%s has at most one selected version", n)
				if err := e.recordClause([]Lit{NewLit(vi, false), NewLit(vj, false)}, origin); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *encoder) addDependencyClauses(names []string) error {
	for _, n := range names {
		for _, c := range e.candidates[n] {
			nv := e.varFor(n, c.Version)
			for _, dep := range c.RuntimeDeps {
				disj := e.satisfyingLits(dep.Name, dep.Spec)
				dependents := make([]Var, len(disj))
				for i, l := range disj {
					dependents[i] = l.Variable()
				}
				e.solver.AddActivation(nv, dependents)
				lits := append([]Lit{NewLit(nv, false)}, disj...)
				origin := fmt.Sprintf("package %s@%s requires %s in %s", n, c.Version, dep.Name, dep.Spec)
				if err := e.recordClause(lits, origin); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *encoder) addTopLevelClauses(requests []Request) error {
	for _, r := range requests {
		disj := e.satisfyingLits(r.Name, r.Spec)
		if len(disj) == 0 {
			return &UnsatError{
				Explanation: fmt.Sprintf("no published version of %s satisfies requested constraint %s", r.Name, r.Spec),
			}
		}
		for _, l := range disj {
			e.solver.MarkRequired(l.Variable())
		}
		origin := fmt.Sprintf("top-level request requires %s in %s", r.Name, r.Spec)
		if err := e.recordClause(disj, origin); err != nil {
			return err
		}
	}
	return nil
}

// satisfyingLits returns one positive literal per candidate of name
// whose version matches spec.
func (e *encoder) satisfyingLits(name string, spec versionspec.Spec) []Lit {
	var lits []Lit
	for _, c := range e.candidates[name] {
		if spec.Matches(c.Version) {
			lits = append(lits, NewLit(e.varFor(name, c.Version), true))
		}
	}
	return lits
}
