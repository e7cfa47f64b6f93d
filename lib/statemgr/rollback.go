// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statemgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/statedb"
)

// Rollback repoints the live prefix at an existing, already-committed
// state (spec.md §4.7's rollback operation). Unlike Install, Rollback
// never inserts a new state row — the target state's package rows
// already exist — it only rewrites active_state and swaps the live
// prefix's contents to match.
//
// The target's file tree is reconstructed by relinking every
// installed_files row from the content-addressed store into a fresh
// staging directory, rather than by swapping in a cached
// states/<uuid> archive directory. A literal directory-swap rollback
// would break once the garbage collector deletes a retired state's
// archive directory, and would not support rolling back to the same
// target a second time after a later transition reassigns that
// directory's contents. Reconstructing from the store makes rollback
// depend only on the database and the object store, its actual
// sources of truth.
func (m *Manager) Rollback(ctx context.Context, target identity.StateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok, err := m.cfg.DB.GetState(ctx, target); err != nil {
		return fmt.Errorf("statemgr: looking up rollback target: %w", err)
	} else if !ok {
		return errkind.New(errkind.KindInvalidTransition, "rollback target state does not exist").
			WithContext("state", target.String())
	}

	currentID, err := m.cfg.DB.ActiveStateID(ctx)
	if err != nil {
		return fmt.Errorf("statemgr: reading active state: %w", err)
	}
	if currentID == target {
		return nil
	}

	files, err := m.cfg.DB.ListInstalledFiles(ctx, target)
	if err != nil {
		return fmt.Errorf("statemgr: listing target state files: %w", err)
	}

	stagingDir, err := m.newStagingDir()
	if err != nil {
		return err
	}
	// A failure before the swap starts discards the staging directory;
	// once the swap has started, the directory is left for Recover.
	swapStarted := false
	defer func() {
		if !swapStarted {
			os.RemoveAll(stagingDir)
		}
	}()
	if err := m.reconstructPrefix(stagingDir, files); err != nil {
		return err
	}

	tx, err := m.cfg.DB.BeginTransition(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := tx.SetActiveState(target); err != nil {
		return fmt.Errorf("statemgr: setting active state to rollback target: %w", err)
	}

	if err := writeMarker(stagingDir, target); err != nil {
		return errkind.Wrap(errkind.KindIOError, "writing state marker", err)
	}

	archivePath := m.archivePath(currentID)
	if currentID.IsZero() {
		archivePath = filepath.Join(m.statesArchiveDir(), target.String()+"-rollback-unused")
	}
	swapStarted = true
	if err := m.swap(stagingDir, archivePath); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	m.cfg.Logger.Info("rolled back", "from", currentID, "to", target)
	return nil
}

// reconstructPrefix relinks or recreates every file in files, rooted at
// dir: regular files and symlinks come from the object store via
// LinkInto, directories are created fresh.
func (m *Manager) reconstructPrefix(dir string, files []statedb.InstalledFile) error {
	for _, f := range files {
		destPath := filepath.Join(dir, f.InstalledPath)
		if f.IsDirectory {
			if err := ensureDirExists(destPath); err != nil {
				return err
			}
			continue
		}
		if err := ensureDirExists(filepath.Dir(destPath)); err != nil {
			return err
		}
		if err := m.cfg.Store.LinkInto(f.FileHash, destPath); err != nil {
			return fmt.Errorf("statemgr: relinking %s: %w", f.InstalledPath, err)
		}
	}
	return nil
}
