// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statedb

const schema = `
CREATE TABLE IF NOT EXISTS states (
	id         TEXT PRIMARY KEY,
	parent_id  TEXT,
	created_at INTEGER NOT NULL,
	operation  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_state (
	id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS packages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	state_id        TEXT NOT NULL REFERENCES states(id),
	name            TEXT NOT NULL,
	version         TEXT NOT NULL,
	revision        INTEGER NOT NULL,
	arch            TEXT NOT NULL,
	manifest_blob   BLOB NOT NULL,
	computed_hash   TEXT NOT NULL,
	has_file_hashes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_packages_state ON packages(state_id);
CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name);

CREATE TABLE IF NOT EXISTS file_objects (
	hash            TEXT PRIMARY KEY,
	size            INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	ref_count       INTEGER NOT NULL,
	is_executable   INTEGER NOT NULL,
	is_symlink      INTEGER NOT NULL,
	symlink_target  TEXT
);
CREATE INDEX IF NOT EXISTS idx_file_objects_refcount ON file_objects(ref_count);

CREATE TABLE IF NOT EXISTS package_file_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	package_id    INTEGER NOT NULL REFERENCES packages(id),
	file_hash     TEXT NOT NULL REFERENCES file_objects(hash),
	relative_path TEXT NOT NULL,
	permissions   INTEGER NOT NULL,
	uid           INTEGER NOT NULL,
	gid           INTEGER NOT NULL,
	mtime         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_package_file_entries_package ON package_file_entries(package_id);

CREATE TABLE IF NOT EXISTS installed_files (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	state_id       TEXT NOT NULL REFERENCES states(id),
	package_id     INTEGER NOT NULL REFERENCES packages(id),
	file_hash      TEXT NOT NULL REFERENCES file_objects(hash),
	installed_path TEXT NOT NULL,
	is_directory   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_installed_files_state ON installed_files(state_id);
CREATE INDEX IF NOT EXISTS idx_installed_files_hash ON installed_files(file_hash);

CREATE TABLE IF NOT EXISTS file_verification_cache (
	file_hash      TEXT NOT NULL,
	installed_path TEXT NOT NULL,
	verified_at    INTEGER NOT NULL,
	is_valid       INTEGER NOT NULL,
	error_message  TEXT,
	PRIMARY KEY (file_hash, installed_path)
);
`
