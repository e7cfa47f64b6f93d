// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statedb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/sqlitepool"
	"github.com/sps2/sps2go/lib/versionspec"
)

// State is a row of the states table: a nameable snapshot of the live
// prefix plus the DB rows describing it.
type State struct {
	ID        identity.StateID
	ParentID  identity.StateID // zero value means no parent (root state)
	CreatedAt time.Time
	Operation string
}

// PackageRow is a row of the packages table: one installed package
// within a particular state.
type PackageRow struct {
	ID            int64
	StateID       identity.StateID
	Package       identity.Package
	ManifestBlob  []byte
	ComputedHash  hash.Content
	HasFileHashes bool
}

// FileObjectMeta describes a file object being added to the store's
// ledger via AddFileObject.
type FileObjectMeta struct {
	Hash          hash.Content
	Size          int64
	IsExecutable  bool
	IsSymlink     bool
	SymlinkTarget string
}

// FileObject is a row of the file_objects table.
type FileObject struct {
	FileObjectMeta
	CreatedAt time.Time
	RefCount  uint64
}

// PackageFileEntry is a row of the package_file_entries table: one file
// belonging to a package's manifest, independent of where (or whether)
// it is currently installed.
type PackageFileEntry struct {
	ID           int64
	PackageID    int64
	FileHash     hash.Content
	RelativePath string
	Permissions  uint32
	UID          uint32
	GID          uint32
	MTime        time.Time
}

// InstalledFile is a row of the installed_files table: one file or
// directory present in a given state's live prefix.
type InstalledFile struct {
	ID            int64
	StateID       identity.StateID
	PackageID     int64
	FileHash      hash.Content
	InstalledPath string
	IsDirectory   bool
}

// FileVerification is a row of the file_verification_cache table.
type FileVerification struct {
	FileHash      hash.Content
	InstalledPath string
	VerifiedAt    time.Time
	IsValid       bool
	ErrorMessage  string
}

// Config holds the parameters for opening a state database.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// PoolSize is the connection pool size. Defaults to sqlitepool's
	// own default if zero or negative.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// DB is the state database: a pooled SQLite connection plus the typed
// query layer spec.md §4.4 names.
type DB struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if necessary) the state database at cfg.Path
// and ensures its schema exists.
func Open(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("statedb: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.pool.Close()
}

// ActiveStateID returns the state ID of the currently active state. If
// no state has ever been committed, it returns the zero StateID.
func (d *DB) ActiveStateID(ctx context.Context) (identity.StateID, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return identity.StateID{}, fmt.Errorf("statedb: active state: %w", err)
	}
	defer d.pool.Put(conn)

	var raw string
	err = sqlitex.Execute(conn, "SELECT id FROM active_state LIMIT 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return identity.StateID{}, fmt.Errorf("statedb: active state: %w", err)
	}
	if raw == "" {
		return identity.StateID{}, nil
	}
	return identity.ParseStateID(raw)
}

// GetState returns the state row for id.
func (d *DB) GetState(ctx context.Context, id identity.StateID) (State, bool, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return State{}, false, fmt.Errorf("statedb: get state: %w", err)
	}
	defer d.pool.Put(conn)

	var state State
	found := false
	err = sqlitex.Execute(conn, "SELECT id, parent_id, created_at, operation FROM states WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			s, scanErr := scanState(stmt)
			if scanErr != nil {
				return scanErr
			}
			state = s
			found = true
			return nil
		},
	})
	if err != nil {
		return State{}, false, fmt.Errorf("statedb: get state: %w", err)
	}
	return state, found, nil
}

// ListStates returns every state row, newest first.
func (d *DB) ListStates(ctx context.Context) ([]State, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statedb: list states: %w", err)
	}
	defer d.pool.Put(conn)

	var states []State
	err = sqlitex.Execute(conn, "SELECT id, parent_id, created_at, operation FROM states ORDER BY created_at DESC", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			state, scanErr := scanState(stmt)
			if scanErr != nil {
				return scanErr
			}
			states = append(states, state)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("statedb: list states: %w", err)
	}
	return states, nil
}

func scanState(stmt *sqlite.Stmt) (State, error) {
	id, err := identity.ParseStateID(stmt.ColumnText(0))
	if err != nil {
		return State{}, fmt.Errorf("statedb: parsing state id: %w", err)
	}
	state := State{
		ID:        id,
		CreatedAt: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
		Operation: stmt.ColumnText(3),
	}
	if !stmt.ColumnIsNull(1) {
		parentID, err := identity.ParseStateID(stmt.ColumnText(1))
		if err != nil {
			return State{}, fmt.Errorf("statedb: parsing parent state id: %w", err)
		}
		state.ParentID = parentID
	}
	return state, nil
}

// ListPackages returns every package installed in the given state.
func (d *DB) ListPackages(ctx context.Context, stateID identity.StateID) ([]PackageRow, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statedb: list packages: %w", err)
	}
	defer d.pool.Put(conn)

	var packages []PackageRow
	err = sqlitex.Execute(conn,
		"SELECT id, state_id, name, version, revision, arch, manifest_blob, computed_hash, has_file_hashes "+
			"FROM packages WHERE state_id = ? ORDER BY name",
		&sqlitex.ExecOptions{
			Args: []any{stateID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row, scanErr := scanPackageRow(stmt)
				if scanErr != nil {
					return scanErr
				}
				packages = append(packages, row)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("statedb: list packages: %w", err)
	}
	return packages, nil
}

func scanPackageRow(stmt *sqlite.Stmt) (PackageRow, error) {
	version, err := versionspec.Parse(stmt.ColumnText(3))
	if err != nil {
		return PackageRow{}, err
	}
	pkg, err := identity.New(stmt.ColumnText(2), version, uint32(stmt.ColumnInt64(4)), stmt.ColumnText(5))
	if err != nil {
		return PackageRow{}, fmt.Errorf("statedb: reconstructing package identity: %w", err)
	}
	stateID, err := identity.ParseStateID(stmt.ColumnText(1))
	if err != nil {
		return PackageRow{}, fmt.Errorf("statedb: parsing package state id: %w", err)
	}
	computedHash, err := hash.Parse(stmt.ColumnText(7))
	if err != nil {
		return PackageRow{}, fmt.Errorf("statedb: parsing package computed hash: %w", err)
	}

	manifestBlob := make([]byte, stmt.ColumnLen(6))
	stmt.ColumnBytes(6, manifestBlob)

	return PackageRow{
		ID:            stmt.ColumnInt64(0),
		StateID:       stateID,
		Package:       pkg,
		ManifestBlob:  manifestBlob,
		ComputedHash:  computedHash,
		HasFileHashes: stmt.ColumnInt(8) != 0,
	}, nil
}

// ListInstalledFiles returns every installed_files row for the given
// state.
func (d *DB) ListInstalledFiles(ctx context.Context, stateID identity.StateID) ([]InstalledFile, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statedb: list installed files: %w", err)
	}
	defer d.pool.Put(conn)

	var files []InstalledFile
	err = sqlitex.Execute(conn,
		"SELECT id, state_id, package_id, file_hash, installed_path, is_directory FROM installed_files WHERE state_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{stateID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				file, scanErr := scanInstalledFile(stmt)
				if scanErr != nil {
					return scanErr
				}
				files = append(files, file)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("statedb: list installed files: %w", err)
	}
	return files, nil
}

func scanInstalledFile(stmt *sqlite.Stmt) (InstalledFile, error) {
	stateID, err := identity.ParseStateID(stmt.ColumnText(1))
	if err != nil {
		return InstalledFile{}, fmt.Errorf("statedb: parsing installed file state id: %w", err)
	}
	fileHash, err := hash.Parse(stmt.ColumnText(3))
	if err != nil {
		return InstalledFile{}, fmt.Errorf("statedb: parsing installed file hash: %w", err)
	}
	return InstalledFile{
		ID:            stmt.ColumnInt64(0),
		StateID:       stateID,
		PackageID:     stmt.ColumnInt64(2),
		FileHash:      fileHash,
		InstalledPath: stmt.ColumnText(4),
		IsDirectory:   stmt.ColumnInt(5) != 0,
	}, nil
}

// FindUnreferencedFiles returns up to limit file objects with a zero
// refcount, oldest first, the candidate set for garbage collection.
func (d *DB) FindUnreferencedFiles(ctx context.Context, limit int) ([]hash.Content, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("statedb: find unreferenced files: %w", err)
	}
	defer d.pool.Put(conn)

	var hashes []hash.Content
	err = sqlitex.Execute(conn,
		"SELECT hash FROM file_objects WHERE ref_count = 0 ORDER BY created_at ASC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				digest, parseErr := hash.Parse(stmt.ColumnText(0))
				if parseErr != nil {
					return parseErr
				}
				hashes = append(hashes, digest)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("statedb: find unreferenced files: %w", err)
	}
	return hashes, nil
}

// GetFileObject returns the file_objects row for hash, if present.
func (d *DB) GetFileObject(ctx context.Context, digest hash.Content) (FileObject, bool, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return FileObject{}, false, fmt.Errorf("statedb: get file object: %w", err)
	}
	defer d.pool.Put(conn)

	var obj FileObject
	found := false
	err = sqlitex.Execute(conn,
		"SELECT hash, size, created_at, ref_count, is_executable, is_symlink, symlink_target FROM file_objects WHERE hash = ?",
		&sqlitex.ExecOptions{
			Args: []any{digest.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				o, scanErr := scanFileObject(stmt)
				if scanErr != nil {
					return scanErr
				}
				obj = o
				found = true
				return nil
			},
		})
	if err != nil {
		return FileObject{}, false, fmt.Errorf("statedb: get file object: %w", err)
	}
	return obj, found, nil
}

func scanFileObject(stmt *sqlite.Stmt) (FileObject, error) {
	digest, err := hash.Parse(stmt.ColumnText(0))
	if err != nil {
		return FileObject{}, err
	}
	obj := FileObject{
		FileObjectMeta: FileObjectMeta{
			Hash:         digest,
			Size:         stmt.ColumnInt64(1),
			IsExecutable: stmt.ColumnInt(4) != 0,
			IsSymlink:    stmt.ColumnInt(5) != 0,
		},
		CreatedAt: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
		RefCount:  uint64(stmt.ColumnInt64(3)),
	}
	if !stmt.ColumnIsNull(6) {
		obj.SymlinkTarget = stmt.ColumnText(6)
	}
	return obj, nil
}

// RecordVerification upserts a file_verification_cache row.
func (d *DB) RecordVerification(ctx context.Context, v FileVerification) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statedb: record verification: %w", err)
	}
	defer d.pool.Put(conn)

	var errMessage any
	if v.ErrorMessage != "" {
		errMessage = v.ErrorMessage
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO file_verification_cache (file_hash, installed_path, verified_at, is_valid, error_message)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(file_hash, installed_path) DO UPDATE SET
		   verified_at = excluded.verified_at,
		   is_valid = excluded.is_valid,
		   error_message = excluded.error_message`,
		&sqlitex.ExecOptions{
			Args: []any{v.FileHash.String(), v.InstalledPath, v.VerifiedAt.UnixNano(), boolToInt(v.IsValid), errMessage},
		})
	if err != nil {
		return fmt.Errorf("statedb: record verification: %w", err)
	}
	return nil
}

// DeleteFileObject removes a file_objects row outright. Callers must
// only call this once GC has confirmed the object's refcount is zero
// and the on-disk object has been removed from the store.
func (d *DB) DeleteFileObject(ctx context.Context, digest hash.Content) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statedb: delete file object: %w", err)
	}
	defer d.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM file_objects WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{digest.String()},
	}); err != nil {
		return fmt.Errorf("statedb: delete file object: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
