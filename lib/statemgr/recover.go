// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statemgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sps2/sps2go/lib/errkind"
)

// Recover reconciles the live prefix with the database after an
// unclean shutdown (spec.md §4.7). It removes any staging-<uuid>
// directory left behind by a transition that crashed before its swap,
// and repairs the live prefix if its state marker does not match the
// database's active state — a transition that crashed during or after
// the swap but before its commit, or one whose commit succeeded but
// whose marker write did not reach disk.
//
// Recover trusts the database over the filesystem: on mismatch it
// reconstructs the live prefix from the active state's installed_files
// rows, the same store-relinking mechanism Rollback uses, rather than
// trying to infer what a half-completed swap left behind.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cleanOrphanedStaging(); err != nil {
		return err
	}

	activeID, err := m.cfg.DB.ActiveStateID(ctx)
	if err != nil {
		return fmt.Errorf("statemgr: reading active state: %w", err)
	}
	if activeID.IsZero() {
		return nil
	}

	markerID, err := readMarker(m.cfg.LivePrefix)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return errkind.Wrap(errkind.KindIOError, "reading live prefix state marker", err)
		}
		// An unparseable marker matches no state; readMarker returned
		// the zero id, so the prefix is repaired below like any other
		// mismatch.
		m.cfg.Logger.Warn("live prefix state marker is unreadable", "error", err)
	}
	if markerID == activeID {
		return nil
	}

	m.cfg.Logger.Warn("live prefix marker does not match active state, repairing",
		"marker", markerID, "active", activeID)

	files, err := m.cfg.DB.ListInstalledFiles(ctx, activeID)
	if err != nil {
		return fmt.Errorf("statemgr: listing active state files: %w", err)
	}

	stagingDir, err := m.newStagingDir()
	if err != nil {
		return err
	}
	if err := m.reconstructPrefix(stagingDir, files); err != nil {
		return err
	}
	if err := writeMarker(stagingDir, activeID); err != nil {
		return errkind.Wrap(errkind.KindIOError, "writing state marker", err)
	}

	archivePath := filepath.Join(m.statesArchiveDir(), "recovered-"+activeID.String())
	if err := m.swap(stagingDir, archivePath); err != nil {
		return err
	}

	m.cfg.Logger.Info("live prefix repaired", "state", activeID)
	return nil
}

// cleanOrphanedStaging removes every staging-<uuid> directory under
// StatesDir: a transition only leaves one behind by crashing before
// its swap completed, at which point it has made no observable change
// and is safe to discard.
func (m *Manager) cleanOrphanedStaging() error {
	entries, err := os.ReadDir(m.cfg.StatesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.KindIOError, "listing states directory", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "staging-") {
			continue
		}
		path := filepath.Join(m.cfg.StatesDir, entry.Name())
		m.cfg.Logger.Info("removing orphaned staging directory", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return errkind.Wrap(errkind.KindIOError, "removing orphaned staging directory", err).
				WithContext("path", path)
		}
	}
	return nil
}
