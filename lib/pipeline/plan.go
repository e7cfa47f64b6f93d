// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sync/atomic"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/index"
	"github.com/sps2/sps2go/lib/resolver"
	"github.com/sps2/sps2go/lib/versionspec"
)

// Node is one package the pipeline must fetch, verify, extract, and
// stage-link, carrying the archive location the resolver's version
// selection resolves to.
type Node struct {
	Name        string
	Version     versionspec.Version
	ArchiveURL  string
	ArchiveHash hash.Content
	Deps        []string
}

// Identity is the string key nodes are deduplicated and looked up by.
func (n Node) Identity() string {
	return n.Name + "@" + n.Version.String()
}

// nodeMeta tracks one node's readiness: how many of its dependencies
// have not yet finished extracting, and which nodes depend on it (its
// parents in the Rust original's terminology, i.e. the packages whose
// in-degree this node's completion decrements).
type nodeMeta struct {
	node     Node
	inDegree atomic.Int64
	parents  []string
}

// decrementInDegree decrements the node's in-degree and returns the
// new value. Saturates at zero instead of going negative.
func (m *nodeMeta) decrementInDegree() int64 {
	for {
		cur := m.inDegree.Load()
		if cur <= 0 {
			return 0
		}
		if m.inDegree.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Plan is an ExecutionPlan over a resolver.Solution: per-node
// in-degree and parent metadata ready for concurrent execution.
type Plan struct {
	nodes map[string]*nodeMeta
}

// NewPlan builds a Plan from a resolver Solution, looking up each
// selected package's archive location in doc. Returns
// errkind.KindUnknownPackage if a selected package has no matching
// release in doc, which would mean the index changed between
// resolution and planning.
func NewPlan(solution *resolver.Solution, doc *index.Document) (*Plan, error) {
	metas := make(map[string]*nodeMeta, len(solution.Selected))

	for name, sel := range solution.Selected {
		release, ok := doc.Lookup(name, sel.Version.String())
		if !ok {
			return nil, errkind.New(errkind.KindUnknownPackage, "selected package missing from index").
				WithContext("name", name).
				WithContext("version", sel.Version.String())
		}
		meta := &nodeMeta{
			node: Node{
				Name:        name,
				Version:     sel.Version,
				ArchiveURL:  release.ArchiveURL,
				ArchiveHash: release.ArchiveHash,
				Deps:        append([]string(nil), sel.Deps...),
			},
		}
		meta.inDegree.Store(int64(len(sel.Deps)))
		metas[name] = meta
	}

	for name, meta := range metas {
		for _, dep := range meta.node.Deps {
			if depMeta, ok := metas[dep]; ok {
				depMeta.parents = append(depMeta.parents, name)
			}
		}
	}

	return &Plan{nodes: metas}, nil
}

// Count returns the number of nodes in the plan.
func (p *Plan) Count() int {
	return len(p.nodes)
}

// Ready returns the names of every node with no unresolved
// dependencies, in an unspecified order.
func (p *Plan) Ready() []string {
	var ready []string
	for name, meta := range p.nodes {
		if meta.inDegree.Load() == 0 {
			ready = append(ready, name)
		}
	}
	return ready
}

// node returns the Node metadata for name.
func (p *Plan) node(name string) (Node, bool) {
	meta, ok := p.nodes[name]
	if !ok {
		return Node{}, false
	}
	return meta.node, true
}

// complete marks name as having finished the extract phase and
// returns the names of any dependents that are now ready.
func (p *Plan) complete(name string) []string {
	meta, ok := p.nodes[name]
	if !ok {
		return nil
	}

	var newlyReady []string
	for _, parent := range meta.parents {
		parentMeta, ok := p.nodes[parent]
		if !ok {
			continue
		}
		if parentMeta.decrementInDegree() == 0 {
			newlyReady = append(newlyReady, parent)
		}
	}
	return newlyReady
}
