// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statedb

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/identity"
)

// Tx bundles the sequence of inserts one state transition performs —
// new state row, package rows, file object refcount bumps, installed
// file rows, active_state update — into a single ACID transaction, per
// spec.md §4.7 step 3. Tx is not safe for concurrent use; each
// transition owns exactly one.
type Tx struct {
	db   *DB
	conn *sqlite.Conn
	end  func(*error)
	err  error
}

// BeginTransition starts a new state-transition transaction using
// SQLite's IMMEDIATE transaction mode, which acquires the write lock
// up front rather than on first write — the DB-level analogue of
// spec.md §5's "at most one transition is in-flight" advisory lock.
func (d *DB) BeginTransition(ctx context.Context) (*Tx, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statedb: begin transition: %w", err)
	}

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		d.pool.Put(conn)
		return nil, errkind.Wrap(errkind.KindDBBusy, "beginning state transition", err)
	}

	return &Tx{db: d, conn: conn, end: end}, nil
}

// Commit finalizes the transaction. After Commit, the Tx must not be
// used again.
func (t *Tx) Commit() error {
	t.end(&t.err)
	t.db.pool.Put(t.conn)
	if t.err != nil {
		return errkind.Wrap(errkind.KindDBBusy, "committing state transition", t.err)
	}
	return nil
}

// Rollback aborts the transaction, undoing every statement executed
// through it. After Rollback, the Tx must not be used again.
func (t *Tx) Rollback() error {
	if t.err == nil {
		t.err = fmt.Errorf("statedb: transition rolled back")
	}
	t.end(&t.err)
	t.db.pool.Put(t.conn)
	return nil
}

// InsertState inserts a new row into states.
func (t *Tx) InsertState(state State) error {
	var parentID any
	if !state.ParentID.IsZero() {
		parentID = state.ParentID.String()
	}
	return t.exec("INSERT INTO states (id, parent_id, created_at, operation) VALUES (?, ?, ?, ?)",
		state.ID.String(), parentID, state.CreatedAt.UnixNano(), state.Operation)
}

// InsertPackage inserts a new row into packages and returns its id.
func (t *Tx) InsertPackage(pkg PackageRow) (int64, error) {
	if err := t.exec(
		`INSERT INTO packages (state_id, name, version, revision, arch, manifest_blob, computed_hash, has_file_hashes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.StateID.String(), pkg.Package.Name, pkg.Package.Version.String(), int64(pkg.Package.Revision),
		pkg.Package.Arch, pkg.ManifestBlob, pkg.ComputedHash.String(), boolToInt(pkg.HasFileHashes),
	); err != nil {
		return 0, err
	}
	return t.conn.LastInsertRowID(), nil
}

// AddFileObject is idempotent on hash (spec.md §4.4): if the object is
// already present, its refcount is incremented and wasDuplicate is
// true; otherwise a new row is inserted with refcount 1.
func (t *Tx) AddFileObject(meta FileObjectMeta) (wasDuplicate bool, err error) {
	if t.err != nil {
		return false, t.err
	}

	found := false
	err = sqlitex.Execute(t.conn, "SELECT 1 FROM file_objects WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{meta.Hash.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		t.err = err
		return false, fmt.Errorf("statedb: checking for existing file object %s: %w", meta.Hash, err)
	}
	if found {
		if err := t.exec("UPDATE file_objects SET ref_count = ref_count + 1 WHERE hash = ?", meta.Hash.String()); err != nil {
			return false, err
		}
		return true, nil
	}

	var symlinkTarget any
	if meta.IsSymlink {
		symlinkTarget = meta.SymlinkTarget
	}
	if err := t.exec(
		`INSERT INTO file_objects (hash, size, created_at, ref_count, is_executable, is_symlink, symlink_target)
		 VALUES (?, ?, ?, 1, ?, ?, ?)`,
		meta.Hash.String(), meta.Size, time.Now().UnixNano(), boolToInt(meta.IsExecutable), boolToInt(meta.IsSymlink), symlinkTarget,
	); err != nil {
		return false, err
	}
	return false, nil
}

// DecrementFileRefCount saturates at zero: decrementing an
// already-zero refcount is a no-op, per spec.md §4.4. Returns the
// refcount after the decrement.
func (t *Tx) DecrementFileRefCount(digest hash.Content) (uint64, error) {
	if err := t.exec(
		"UPDATE file_objects SET ref_count = CASE WHEN ref_count > 0 THEN ref_count - 1 ELSE 0 END WHERE hash = ?",
		digest.String(),
	); err != nil {
		return 0, err
	}

	var newCount int64
	err := sqlitex.Execute(t.conn, "SELECT ref_count FROM file_objects WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{digest.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			newCount = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.err = err
		return 0, fmt.Errorf("statedb: decrementing refcount for %s: %w", digest, err)
	}
	return uint64(newCount), nil
}

// InsertPackageFileEntry inserts a row into package_file_entries.
func (t *Tx) InsertPackageFileEntry(entry PackageFileEntry) error {
	return t.exec(
		`INSERT INTO package_file_entries (package_id, file_hash, relative_path, permissions, uid, gid, mtime)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.PackageID, entry.FileHash.String(), entry.RelativePath, int64(entry.Permissions),
		int64(entry.UID), int64(entry.GID), entry.MTime.UnixNano(),
	)
}

// InsertInstalledFile inserts a row into installed_files.
func (t *Tx) InsertInstalledFile(file InstalledFile) error {
	return t.exec(
		`INSERT INTO installed_files (state_id, package_id, file_hash, installed_path, is_directory)
		 VALUES (?, ?, ?, ?, ?)`,
		file.StateID.String(), file.PackageID, file.FileHash.String(), file.InstalledPath, boolToInt(file.IsDirectory),
	)
}

// SetActiveState overwrites the single active_state row, the commit
// point of a state transition (spec.md §4.7 step 5).
func (t *Tx) SetActiveState(id identity.StateID) error {
	if err := t.exec("DELETE FROM active_state"); err != nil {
		return err
	}
	return t.exec("INSERT INTO active_state (id) VALUES (?)", id.String())
}

// DeleteState removes a state row, its packages, their file entries,
// and its installed_files rows, within this transaction. Callers must
// decrement the refcount of every file object referenced by the
// state's installed_files (via DecrementFileRefCount) before calling
// DeleteState, so the decrement and the deletion commit atomically
// together, per spec.md §4.8.
func (t *Tx) DeleteState(id identity.StateID) error {
	if err := t.exec("DELETE FROM installed_files WHERE state_id = ?", id.String()); err != nil {
		return err
	}
	if err := t.exec("DELETE FROM package_file_entries WHERE package_id IN (SELECT id FROM packages WHERE state_id = ?)", id.String()); err != nil {
		return err
	}
	if err := t.exec("DELETE FROM packages WHERE state_id = ?", id.String()); err != nil {
		return err
	}
	return t.exec("DELETE FROM states WHERE id = ?", id.String())
}

func (t *Tx) exec(query string, args ...any) error {
	if t.err != nil {
		return t.err
	}
	if err := sqlitex.Execute(t.conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		t.err = err
		return fmt.Errorf("statedb: %w", err)
	}
	return nil
}
