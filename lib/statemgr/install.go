// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statemgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sps2/sps2go/lib/codec"
	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/pipeline"
	"github.com/sps2/sps2go/lib/statedb"
)

// Transition is one state transition's inputs: the set of freshly
// fetched packages to record (from a pipeline.Pipeline.Run), the set of
// packages already present in the parent state to carry forward
// unchanged, and the operation name recorded on the new state row
// ("install", "uninstall", "update", ...).
type Transition struct {
	Operation string
	Fresh     []pipeline.Result
	Forward   []string // package names to forward unchanged from the parent state
}

// Apply performs one atomic transition of the live prefix (spec.md
// §4.7): it clones the active state's directory, lets pipeline writes
// already staged via stagingDir settle into the clone (the caller
// drives the pipeline itself so it can observe per-node progress),
// opens a database transaction recording the new state, swaps the
// clone into place, commits, and archives the directory the swap
// replaced.
//
// Apply is the common entry point used by Install/Uninstall/Update in
// the CLI layer: callers build a staging directory (typically by
// calling pipeline.Pipeline.Run against the directory returned by
// BeginStaging), then pass the same directory plus a Transition
// describing the resulting package set to Apply.
func (m *Manager) Apply(ctx context.Context, stagingDir string, t Transition) (identity.StateID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A failure before the swap starts discards the staging directory;
	// once the swap has started, the directory is left for Recover.
	swapStarted := false
	defer func() {
		if !swapStarted {
			os.RemoveAll(stagingDir)
		}
	}()

	parentID, err := m.cfg.DB.ActiveStateID(ctx)
	if err != nil {
		return identity.StateID{}, fmt.Errorf("statemgr: reading active state: %w", err)
	}

	newID := identity.NewStateID()

	tx, err := m.cfg.DB.BeginTransition(ctx)
	if err != nil {
		return identity.StateID{}, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := tx.InsertState(statedb.State{
		ID:        newID,
		ParentID:  parentID,
		CreatedAt: m.cfg.Clock.Now(),
		Operation: t.Operation,
	}); err != nil {
		return identity.StateID{}, fmt.Errorf("statemgr: inserting state row: %w", err)
	}

	if !parentID.IsZero() {
		for _, name := range t.Forward {
			if err := m.forwardPackage(ctx, tx, parentID, newID, name); err != nil {
				return identity.StateID{}, err
			}
		}
	}

	for _, result := range t.Fresh {
		if err := m.recordResult(tx, newID, result); err != nil {
			return identity.StateID{}, err
		}
	}

	if err := tx.SetActiveState(newID); err != nil {
		return identity.StateID{}, fmt.Errorf("statemgr: setting active state: %w", err)
	}

	if err := writeMarker(stagingDir, newID); err != nil {
		return identity.StateID{}, errkind.Wrap(errkind.KindIOError, "writing state marker", err)
	}

	archivePath := m.archivePath(parentID)
	if parentID.IsZero() {
		archivePath = filepath.Join(m.statesArchiveDir(), newID.String()+"-bootstrap-unused")
	}
	swapStarted = true
	if err := m.swap(stagingDir, archivePath); err != nil {
		return identity.StateID{}, err
	}

	if err := tx.Commit(); err != nil {
		return identity.StateID{}, err
	}
	committed = true

	m.cfg.Logger.Info("state transition committed", "state", newID, "parent", parentID, "operation", t.Operation)
	return newID, nil
}

// BeginStaging clones the active state's directory into a fresh
// staging directory a caller can mutate (via a pipeline run, file
// removal for uninstall, and so on) before calling Apply.
func (m *Manager) BeginStaging() (string, error) {
	return m.cloneLiveToStaging()
}

// recordResult inserts the database rows for one freshly fetched
// package: the package row itself, a file_objects ledger bump and a
// package_file_entries row for every regular file and symlink, and an
// installed_files row placing each entry, directories included, in the
// new state.
func (m *Manager) recordResult(tx *statedb.Tx, stateID identity.StateID, result pipeline.Result) error {
	pkgIdentity, err := result.Manifest.Identity()
	if err != nil {
		return fmt.Errorf("statemgr: deriving package identity: %w", err)
	}

	// The archive's own manifest.toml is the wire format (spec.md §6);
	// what gets stored in the state database is a compact deterministic
	// CBOR re-encoding, cheaper to scan and hash-stable across runs.
	manifestBlob, err := codec.Marshal(result.Manifest)
	if err != nil {
		return fmt.Errorf("statemgr: encoding manifest blob: %w", err)
	}

	packageID, err := tx.InsertPackage(statedb.PackageRow{
		StateID:      stateID,
		Package:      pkgIdentity,
		ManifestBlob: manifestBlob,
		ComputedHash: result.Node.ArchiveHash,
	})
	if err != nil {
		return fmt.Errorf("statemgr: inserting package %s: %w", pkgIdentity, err)
	}

	now := m.cfg.Clock.Now()
	for _, entry := range result.Entries {
		fileHash := entry.Hash
		isSymlink := entry.IsSymlink

		switch {
		case entry.IsDir:
			if err := tx.InsertInstalledFile(statedb.InstalledFile{
				StateID:       stateID,
				PackageID:     packageID,
				FileHash:      hash.Content{},
				InstalledPath: entry.Path,
				IsDirectory:   true,
			}); err != nil {
				return fmt.Errorf("statemgr: recording directory %s: %w", entry.Path, err)
			}
			continue

		case isSymlink:
			fileHash = hash.HashBytes([]byte(entry.LinkTarget))
			if _, err := tx.AddFileObject(statedb.FileObjectMeta{
				Hash:          fileHash,
				IsSymlink:     true,
				SymlinkTarget: entry.LinkTarget,
			}); err != nil {
				return fmt.Errorf("statemgr: recording symlink object %s: %w", entry.Path, err)
			}

		default:
			if _, err := tx.AddFileObject(statedb.FileObjectMeta{
				Hash:         fileHash,
				Size:         entry.Size,
				IsExecutable: entry.Mode.Perm()&0o111 != 0,
			}); err != nil {
				return fmt.Errorf("statemgr: recording file object %s: %w", entry.Path, err)
			}
		}

		if err := tx.InsertPackageFileEntry(statedb.PackageFileEntry{
			PackageID:    packageID,
			FileHash:     fileHash,
			RelativePath: entry.Path,
			Permissions:  uint32(entry.Mode.Perm()),
			MTime:        now,
		}); err != nil {
			return fmt.Errorf("statemgr: recording package file entry %s: %w", entry.Path, err)
		}
		if err := tx.InsertInstalledFile(statedb.InstalledFile{
			StateID:       stateID,
			PackageID:     packageID,
			FileHash:      fileHash,
			InstalledPath: entry.Path,
			IsDirectory:   false,
		}); err != nil {
			return fmt.Errorf("statemgr: recording installed file %s: %w", entry.Path, err)
		}
	}
	return nil
}

// forwardPackage re-inserts name's rows from parentID under newID
// unchanged. The schema scopes packages and installed_files per state
// (spec.md §4.4), so a package untouched by a transition still needs
// fresh rows under the new state id rather than being left as-is —
// there is no shared package row multiple states can point at. Each
// forwarded file also gets its object refcount bumped via
// AddFileObject: the new state references the same underlying object
// as the parent, and the sweep in lib/gc decrements once per
// installed_files row per retired state, so skipping this increment
// undercounts references to objects the new state still needs.
func (m *Manager) forwardPackage(ctx context.Context, tx *statedb.Tx, parentID, newID identity.StateID, name string) error {
	packages, err := m.cfg.DB.ListPackages(ctx, parentID)
	if err != nil {
		return fmt.Errorf("statemgr: listing parent packages: %w", err)
	}
	var found *statedb.PackageRow
	for i := range packages {
		if packages[i].Package.Name == name {
			found = &packages[i]
			break
		}
	}
	if found == nil {
		return errkind.New(errkind.KindInvalidTransition, "package not present in parent state").
			WithContext("package", name)
	}

	newPackageID, err := tx.InsertPackage(statedb.PackageRow{
		StateID:       newID,
		Package:       found.Package,
		ManifestBlob:  found.ManifestBlob,
		ComputedHash:  found.ComputedHash,
		HasFileHashes: found.HasFileHashes,
	})
	if err != nil {
		return fmt.Errorf("statemgr: forwarding package %s: %w", name, err)
	}

	files, err := m.cfg.DB.ListInstalledFiles(ctx, parentID)
	if err != nil {
		return fmt.Errorf("statemgr: listing parent installed files: %w", err)
	}
	for _, file := range files {
		if file.PackageID != found.ID {
			continue
		}
		if !file.IsDirectory {
			if _, err := tx.AddFileObject(statedb.FileObjectMeta{Hash: file.FileHash}); err != nil {
				return fmt.Errorf("statemgr: incrementing forwarded file object %s: %w", file.InstalledPath, err)
			}
		}
		if err := tx.InsertInstalledFile(statedb.InstalledFile{
			StateID:       newID,
			PackageID:     newPackageID,
			FileHash:      file.FileHash,
			InstalledPath: file.InstalledPath,
			IsDirectory:   file.IsDirectory,
		}); err != nil {
			return fmt.Errorf("statemgr: forwarding installed file %s: %w", file.InstalledPath, err)
		}
	}
	return nil
}

// ensureDirExists is a small os.MkdirAll wrapper returning errkind
// errors, used by Rollback and Recover when reconstructing a prefix
// from installed_files rows.
func ensureDirExists(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errkind.Wrap(errkind.KindIOError, "creating directory", err).WithContext("path", path)
	}
	return nil
}
