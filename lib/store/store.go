// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
)

// Store is a content-addressed object store rooted at a fixed
// directory. Objects are immutable once written: the same content hash
// always names the same bytes.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating the root directory if
// it does not already exist.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errkind.Wrap(errkind.KindIOError, "creating store root", err).
			WithContext("root", root)
	}
	return &Store{root: root}, nil
}

// Path returns the sharded on-disk path for a content hash, whether or
// not an object currently exists there.
func (s *Store) Path(h hash.Content) string {
	digest := h.String()
	return filepath.Join(s.root, digest[:2], digest)
}

// Exists reports whether an object with the given hash is present.
func (s *Store) Exists(h hash.Content) bool {
	_, err := os.Stat(s.Path(h))
	return err == nil
}

// PutBytes writes data into the store under its content hash, which it
// computes itself, and returns that hash. Writing is idempotent: if the
// object already exists, PutBytes returns its hash without touching the
// file again.
func (s *Store) PutBytes(data []byte) (hash.Content, error) {
	digest := hash.HashBytes(data)
	if s.Exists(digest) {
		return digest, nil
	}
	if err := s.writeAtomic(digest, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return hash.Content{}, err
	}
	return digest, nil
}

// PutFile streams r into the store, hashing it as it writes, and
// returns the resulting content hash. Unlike PutBytes the hash is not
// known ahead of time, so the stream is first staged under a temporary
// name and then renamed into its sharded path once the hash is known.
func (s *Store) PutFile(r io.Reader) (hash.Content, error) {
	staging := filepath.Join(s.root, ".staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "creating store staging directory", err)
	}

	tmp, err := os.CreateTemp(staging, "obj-*")
	if err != nil {
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "creating staging file", err)
	}
	tmpPath := tmp.Name()

	hasher := hash.NewHasher()
	if _, err := io.Copy(tmp, io.TeeReader(r, hasher)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "writing staging file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "syncing staging file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "closing staging file", err)
	}

	digest, _ := hasher.Sum()
	if s.Exists(digest) {
		os.Remove(tmpPath)
		return digest, nil
	}

	destPath := s.Path(digest)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "creating store shard directory", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return hash.Content{}, errkind.Wrap(errkind.KindIOError, "renaming staged object into place", err)
	}
	s.syncParent(destPath)
	return digest, nil
}

// writeAtomic writes data produced by fill into the object named by
// digest using a temp-file-then-rename sequence, so a concurrent reader
// never observes a partially written object. Mirrors the watchdog
// package's atomic state-file write.
func (s *Store) writeAtomic(digest hash.Content, fill func(f *os.File) error) error {
	destPath := s.Path(digest)
	shardDir := filepath.Dir(destPath)
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return errkind.Wrap(errkind.KindIOError, "creating store shard directory", err)
	}

	tmp, err := os.CreateTemp(shardDir, "."+digest.String()+".tmp-*")
	if err != nil {
		return errkind.Wrap(errkind.KindIOError, "creating temporary object file", err)
	}
	tmpPath := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIOError, "writing temporary object file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIOError, "syncing temporary object file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIOError, "closing temporary object file", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIOError, "renaming object into place", err)
	}
	s.syncParent(destPath)
	return nil
}

// syncParent fsyncs the parent directory of path so a rename survives a
// crash between the rename and the OS flushing directory metadata. Best
// effort: failures are not reported, matching the watchdog package's
// directory-sync idiom.
func (s *Store) syncParent(path string) {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return
	}
	dir.Sync()
	dir.Close()
}

// LinkInto hardlinks the object named by h into destPath, the cheap way
// to assemble a package's files into a state directory without copying
// bytes. destPath's parent directory must already exist.
func (s *Store) LinkInto(h hash.Content, destPath string) error {
	srcPath := s.Path(h)
	if !s.Exists(h) {
		return errkind.New(errkind.KindIOError, "object not found in store").
			WithContext("hash", h.String())
	}

	if err := os.Link(srcPath, destPath); err != nil {
		if os.IsExist(err) {
			os.Remove(destPath)
			err = os.Link(srcPath, destPath)
		}
		if err != nil {
			return errkind.Wrap(errkind.KindIOError, "hardlinking store object", err).
				WithContext("hash", h.String()).
				WithContext("dest", destPath)
		}
	}
	return nil
}

// Delete removes the object named by h from the store. Callers must
// only call Delete once the state database has durably recorded a
// refcount of zero for h; the store itself keeps no reference counts.
func (s *Store) Delete(h hash.Content) error {
	if err := os.Remove(s.Path(h)); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.KindIOError, "deleting store object", err).
			WithContext("hash", h.String())
	}
	return nil
}

// OpenObject opens the object named by h for reading.
func (s *Store) OpenObject(h hash.Content) (*os.File, error) {
	f, err := os.Open(s.Path(h))
	if err != nil {
		return nil, fmt.Errorf("opening store object %s: %w", h, err)
	}
	return f, nil
}
