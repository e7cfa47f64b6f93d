// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sps2/sps2go/lib/archive"
	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/fetch"
	"github.com/sps2/sps2go/lib/store"
)

// Config configures a Pipeline.
type Config struct {
	// Fetcher downloads archives. Required.
	Fetcher *fetch.Fetcher

	// Store ingests archive contents and hardlinks them into a staging
	// prefix. Required.
	Store *store.Store

	// CacheDir holds downloaded archives before extraction, keyed by
	// package identity so a repeated install of the same version reuses
	// an already-downloaded file. Required.
	CacheDir string

	// Concurrency bounds how many nodes run at once. Defaults to 8
	// (spec.md §5: "min(8, download-pool-size x 2)"; this package has
	// no separate download pool, so 8 is the flat default).
	Concurrency int

	// Logger is used for structured progress logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Result is one node's output: the archive's manifest-declared identity
// and the file tree ingested into the store, ready for the state
// manager to record and commit.
type Result struct {
	Node     Node
	Manifest *archive.Manifest
	Entries  []store.ExtractedEntry
}

// Pipeline executes an install DAG's fetch/verify/extract/stage-link
// work concurrently (spec.md §4.6).
type Pipeline struct {
	cfg Config

	mu       sync.Mutex
	inFlight map[string]*future
}

type future struct {
	done   chan struct{}
	result Result
	err    error
}

// New returns a Pipeline with cfg's defaults applied.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		inFlight: make(map[string]*future),
	}
}

// Run executes every node in plan, stage-linking each one's files into
// stagingDir, and returns the per-node results in no particular order.
// Any node's unrecoverable failure cancels the entire run: nodes
// in-flight observe cancellation at their next phase boundary, nodes
// not yet started are never launched, and Run returns the first error.
func (p *Pipeline) Run(ctx context.Context, plan *Plan, stagingDir string) ([]Result, error) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	var (
		mu      sync.Mutex
		results []Result
	)

	var launch func(name string)
	launch = func(name string) {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			node, ok := plan.node(name)
			if !ok {
				return nil
			}

			result, err := p.fetchAndExtract(gCtx, node)
			if err != nil {
				return fmt.Errorf("processing %s: %w", node.Identity(), err)
			}

			// Dependents need only this node's extract phase.
			for _, readyName := range plan.complete(name) {
				launch(readyName)
			}

			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := p.stageLink(result, stagingDir); err != nil {
				return fmt.Errorf("processing %s: %w", node.Identity(), err)
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	for _, name := range plan.Ready() {
		launch(name)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(results) != plan.Count() {
		return nil, errkind.New(errkind.KindInvalidTransition, "execution plan did not drain: a dependency cycle or missing node left packages unreachable")
	}
	return results, nil
}

// process runs fetch -> verify -> extract for node, deduplicating
// concurrent requests for the same package identity, then stage-links
// the result into stagingDir.
func (p *Pipeline) process(ctx context.Context, node Node, stagingDir string) (Result, error) {
	result, err := p.fetchAndExtract(ctx, node)
	if err != nil {
		return Result{}, err
	}
	if err := p.stageLink(result, stagingDir); err != nil {
		return Result{}, err
	}
	return result, nil
}

// fetchAndExtract returns node's extracted file tree, fetching and
// extracting it at most once even if requested concurrently by
// multiple overlapping Run calls that share this Pipeline.
func (p *Pipeline) fetchAndExtract(ctx context.Context, node Node) (Result, error) {
	identity := node.Identity()

	p.mu.Lock()
	if f, ok := p.inFlight[identity]; ok {
		p.mu.Unlock()
		select {
		case <-f.done:
			return f.result, f.err
		case <-ctx.Done():
			return Result{}, errkind.Wrap(errkind.KindUnavailable, "canceled awaiting in-flight fetch", ctx.Err())
		}
	}
	f := &future{done: make(chan struct{})}
	p.inFlight[identity] = f
	p.mu.Unlock()

	f.result, f.err = p.doFetchAndExtract(ctx, node)
	close(f.done)
	return f.result, f.err
}

func (p *Pipeline) doFetchAndExtract(ctx context.Context, node Node) (Result, error) {
	archivePath := filepath.Join(p.cfg.CacheDir, node.Identity()+".sp")
	if err := os.MkdirAll(p.cfg.CacheDir, 0o755); err != nil {
		return Result{}, errkind.Wrap(errkind.KindIOError, "creating fetch cache directory", err)
	}

	p.cfg.Logger.Info("fetching package", "package", node.Identity(), "url", node.ArchiveURL)
	if err := p.cfg.Fetcher.Get(ctx, node.ArchiveURL, node.ArchiveHash, archivePath); err != nil {
		return Result{}, fmt.Errorf("fetching %s: %w", node.Identity(), err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.KindIOError, "opening downloaded archive", err)
	}
	defer f.Close()

	reader, err := archive.NewReader(f)
	if err != nil {
		return Result{}, fmt.Errorf("opening archive reader for %s: %w", node.Identity(), err)
	}
	defer reader.Close()

	manifest, err := reader.ReadManifest()
	if err != nil {
		return Result{}, fmt.Errorf("reading manifest for %s: %w", node.Identity(), err)
	}

	entries, err := store.Extract(p.cfg.Store, reader)
	if err != nil {
		return Result{}, fmt.Errorf("extracting %s: %w", node.Identity(), err)
	}

	return Result{Node: node, Manifest: manifest, Entries: entries}, nil
}

// stageLink hardlinks (or, for directories and symlinks, recreates)
// every extracted entry under stagingDir, merging the package's file
// tree into the shared staging prefix.
func (p *Pipeline) stageLink(result Result, stagingDir string) error {
	for _, entry := range result.Entries {
		destPath := filepath.Join(stagingDir, entry.Path)

		switch {
		case entry.IsDir:
			if err := os.MkdirAll(destPath, entry.Mode.Perm()); err != nil {
				return errkind.Wrap(errkind.KindIOError, "creating staged directory", err).
					WithContext("path", entry.Path)
			}
		case entry.IsSymlink:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return errkind.Wrap(errkind.KindIOError, "creating staged symlink parent", err).
					WithContext("path", entry.Path)
			}
			os.Remove(destPath)
			if err := os.Symlink(entry.LinkTarget, destPath); err != nil {
				return errkind.Wrap(errkind.KindIOError, "creating staged symlink", err).
					WithContext("path", entry.Path)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return errkind.Wrap(errkind.KindIOError, "creating staged file parent", err).
					WithContext("path", entry.Path)
			}
			if err := p.cfg.Store.LinkInto(entry.Hash, destPath); err != nil {
				return fmt.Errorf("stage-linking %s: %w", entry.Path, err)
			}
		}
	}
	return nil
}
