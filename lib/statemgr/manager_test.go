// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statemgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sps2/sps2go/lib/archive"
	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/pipeline"
	"github.com/sps2/sps2go/lib/statedb"
	"github.com/sps2/sps2go/lib/store"
	"github.com/sps2/sps2go/lib/versionspec"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()

	st, err := store.Open(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	db, err := statedb.Open(statedb.Config{Path: filepath.Join(root, "state.db")})
	if err != nil {
		t.Fatalf("statedb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(Config{
		DB:         db,
		Store:      st,
		LivePrefix: filepath.Join(root, "live"),
		StatesDir:  filepath.Join(root, "states"),
	})
}

func fakeResult(t *testing.T, st *store.Store, name, version, path, content string) pipeline.Result {
	t.Helper()
	data := []byte(content)
	digest, err := st.PutBytes(data)
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	manifest := &archive.Manifest{
		Package: archive.ManifestPackage{Name: name, Version: version, Revision: 1, Arch: "amd64"},
	}
	return pipeline.Result{
		Node: pipeline.Node{
			Name:        name,
			Version:     versionspec.MustParse(version),
			ArchiveHash: hash.HashBytes(data),
		},
		Manifest: manifest,
		Entries: []store.ExtractedEntry{
			{Entry: archive.Entry{Path: path, Mode: 0o644, Size: int64(len(data))}, Hash: digest},
		},
	}
}

func TestApply_BootstrapsFirstState(t *testing.T) {
	m := newTestManager(t)
	result := fakeResult(t, m.cfg.Store, "lib", "1.0.0", "lib/libfoo.so", "hello")

	staging, err := m.BeginStaging()
	if err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(staging, "lib"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := m.cfg.Store.LinkInto(result.Entries[0].Hash, filepath.Join(staging, result.Entries[0].Path)); err != nil {
		t.Fatalf("LinkInto: %v", err)
	}

	stateID, err := m.Apply(context.Background(), staging, Transition{
		Operation: "install",
		Fresh:     []pipeline.Result{result},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stateID.IsZero() {
		t.Fatal("Apply returned zero state id")
	}

	staged, err := os.ReadFile(filepath.Join(m.cfg.LivePrefix, "lib/libfoo.so"))
	if err != nil {
		t.Fatalf("reading live file: %v", err)
	}
	if string(staged) != "hello" {
		t.Fatalf("live content = %q, want %q", staged, "hello")
	}

	active, err := m.cfg.DB.ActiveStateID(context.Background())
	if err != nil {
		t.Fatalf("ActiveStateID: %v", err)
	}
	if active != stateID {
		t.Fatalf("active state = %v, want %v", active, stateID)
	}
}

func TestApply_ForwardsUnchangedPackageAcrossTransition(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	libResult := fakeResult(t, m.cfg.Store, "lib", "1.0.0", "lib/libfoo.so", "lib bytes")
	staging1, err := m.BeginStaging()
	if err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	os.MkdirAll(filepath.Join(staging1, "lib"), 0o755)
	if err := m.cfg.Store.LinkInto(libResult.Entries[0].Hash, filepath.Join(staging1, libResult.Entries[0].Path)); err != nil {
		t.Fatalf("LinkInto: %v", err)
	}
	firstID, err := m.Apply(ctx, staging1, Transition{Operation: "install", Fresh: []pipeline.Result{libResult}})
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	appResult := fakeResult(t, m.cfg.Store, "app", "1.0.0", "bin/app", "app bytes")
	staging2, err := m.BeginStaging()
	if err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	// cloneLiveToStaging should have hardlinked lib/libfoo.so already.
	if _, err := os.Stat(filepath.Join(staging2, "lib/libfoo.so")); err != nil {
		t.Fatalf("expected cloned lib file in second staging dir: %v", err)
	}
	os.MkdirAll(filepath.Join(staging2, "bin"), 0o755)
	if err := m.cfg.Store.LinkInto(appResult.Entries[0].Hash, filepath.Join(staging2, appResult.Entries[0].Path)); err != nil {
		t.Fatalf("LinkInto: %v", err)
	}

	secondID, err := m.Apply(ctx, staging2, Transition{
		Operation: "install",
		Fresh:     []pipeline.Result{appResult},
		Forward:   []string{"lib"},
	})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if secondID == firstID {
		t.Fatal("expected a new state id for the second transition")
	}

	packages, err := m.cfg.DB.ListPackages(ctx, secondID)
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	names := map[string]bool{}
	for _, p := range packages {
		names[p.Package.Name] = true
	}
	if !names["lib"] || !names["app"] {
		t.Fatalf("expected both lib and app in second state, got %v", names)
	}

	for _, path := range []string{"lib/libfoo.so", "bin/app"} {
		if _, err := os.Stat(filepath.Join(m.cfg.LivePrefix, path)); err != nil {
			t.Fatalf("expected live file %s: %v", path, err)
		}
	}
}

func TestRollback_ReconstructsFromStore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	firstResult := fakeResult(t, m.cfg.Store, "lib", "1.0.0", "lib/libfoo.so", "version one")
	staging1, err := m.BeginStaging()
	if err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	os.MkdirAll(filepath.Join(staging1, "lib"), 0o755)
	m.cfg.Store.LinkInto(firstResult.Entries[0].Hash, filepath.Join(staging1, firstResult.Entries[0].Path))
	firstID, err := m.Apply(ctx, staging1, Transition{Operation: "install", Fresh: []pipeline.Result{firstResult}})
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	secondResult := fakeResult(t, m.cfg.Store, "lib", "2.0.0", "lib/libfoo.so", "version two")
	staging2, err := m.BeginStaging()
	if err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	os.Remove(filepath.Join(staging2, "lib/libfoo.so"))
	m.cfg.Store.LinkInto(secondResult.Entries[0].Hash, filepath.Join(staging2, secondResult.Entries[0].Path))
	_, err = m.Apply(ctx, staging2, Transition{Operation: "update", Fresh: []pipeline.Result{secondResult}})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(m.cfg.LivePrefix, "lib/libfoo.so"))
	if err != nil {
		t.Fatalf("reading live file before rollback: %v", err)
	}
	if string(content) != "version two" {
		t.Fatalf("live content before rollback = %q, want %q", content, "version two")
	}

	if err := m.Rollback(ctx, firstID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	content, err = os.ReadFile(filepath.Join(m.cfg.LivePrefix, "lib/libfoo.so"))
	if err != nil {
		t.Fatalf("reading live file after rollback: %v", err)
	}
	if string(content) != "version one" {
		t.Fatalf("live content after rollback = %q, want %q", content, "version one")
	}

	active, err := m.cfg.DB.ActiveStateID(ctx)
	if err != nil {
		t.Fatalf("ActiveStateID: %v", err)
	}
	if active != firstID {
		t.Fatalf("active state after rollback = %v, want %v", active, firstID)
	}
}

func TestRecover_RepairsMismatchedMarker(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result := fakeResult(t, m.cfg.Store, "lib", "1.0.0", "lib/libfoo.so", "hello")
	staging, err := m.BeginStaging()
	if err != nil {
		t.Fatalf("BeginStaging: %v", err)
	}
	os.MkdirAll(filepath.Join(staging, "lib"), 0o755)
	m.cfg.Store.LinkInto(result.Entries[0].Hash, filepath.Join(staging, result.Entries[0].Path))
	stateID, err := m.Apply(ctx, staging, Transition{Operation: "install", Fresh: []pipeline.Result{result}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Simulate a crash that corrupted the marker file without touching
	// the database.
	if err := os.WriteFile(filepath.Join(m.cfg.LivePrefix, stateMarkerFile), []byte("not-a-real-id\n"), 0o644); err != nil {
		t.Fatalf("corrupting marker: %v", err)
	}

	if err := m.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	marker, err := readMarker(m.cfg.LivePrefix)
	if err != nil {
		t.Fatalf("readMarker: %v", err)
	}
	if marker != stateID {
		t.Fatalf("marker after Recover = %v, want %v", marker, stateID)
	}

	content, err := os.ReadFile(filepath.Join(m.cfg.LivePrefix, "lib/libfoo.so"))
	if err != nil {
		t.Fatalf("reading live file after recovery: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("content after recovery = %q, want %q", content, "hello")
	}
}

func TestRecover_RemovesOrphanedStagingDirectories(t *testing.T) {
	m := newTestManager(t)
	orphan := filepath.Join(m.cfg.StatesDir, "staging-orphan")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("expected orphaned staging dir to be removed, stat err = %v", err)
	}
}
