// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statemgr

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sps2/sps2go/lib/clock"
	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/statedb"
	"github.com/sps2/sps2go/lib/store"
)

// stateMarkerFile names the file written into every state directory
// (staging and live) recording which state row it corresponds to, so
// Recover can tell whether the live directory matches the database
// without diffing the whole file tree.
const stateMarkerFile = ".sps2-state-id"

// Config configures a Manager.
type Config struct {
	// DB is the state database. Required.
	DB *statedb.DB

	// Store is the content-addressed object store backing every
	// installed file. Required.
	Store *store.Store

	// LivePrefix is the active install prefix: the directory real
	// packages are installed into. Required.
	LivePrefix string

	// StatesDir holds staging-<uuid> working directories and
	// states/<uuid> archived directories. Required.
	StatesDir string

	// Clock provides timestamps for state rows. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger is used for structured transition logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager performs atomic transitions of the live install prefix.
type Manager struct {
	cfg Config

	// mu serializes transitions within this process, the in-process
	// half of spec.md §5's "at most one transition is in-flight"
	// guarantee; statedb.BeginTransition's IMMEDIATE transaction
	// supplies the cross-process half via the DB's write lock.
	mu sync.Mutex
}

// New returns a Manager with cfg's defaults applied.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults()}
}

func (m *Manager) statesArchiveDir() string {
	return filepath.Join(m.cfg.StatesDir, "states")
}

func (m *Manager) archivePath(id identity.StateID) string {
	return filepath.Join(m.statesArchiveDir(), id.String())
}

// newStagingDir creates and returns a fresh staging-<uuid> directory
// under StatesDir.
func (m *Manager) newStagingDir() (string, error) {
	id := identity.NewStateID()
	dir := filepath.Join(m.cfg.StatesDir, "staging-"+id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errkind.Wrap(errkind.KindIOError, "creating staging directory", err)
	}
	return dir, nil
}

// writeMarker records stateID as the owner of dir.
func writeMarker(dir string, stateID identity.StateID) error {
	path := filepath.Join(dir, stateMarkerFile)
	// A staging directory cloned by hardlinkTree shares the marker's
	// inode with the directory it came from; unlink it first so the
	// write leaves that directory's marker unchanged.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(stateID.String()+"\n"), 0o644)
}

// readMarker returns the state id recorded in dir, or the zero value
// if no marker is present.
func readMarker(dir string) (identity.StateID, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateMarkerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return identity.StateID{}, nil
		}
		return identity.StateID{}, err
	}
	s := string(data)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return identity.ParseStateID(s)
}

// cloneLiveToStaging creates a staging directory that is a copy of the
// live prefix, using a hardlink tree (spec.md §4.7 step 1's
// "hardlink-tree fallback"; no portable cheap filesystem-clone
// primitive is available from the standard library). If the live
// prefix does not yet exist (bootstrapping the first state), the
// staging directory is created empty.
func (m *Manager) cloneLiveToStaging() (string, error) {
	stagingDir, err := m.newStagingDir()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(m.cfg.LivePrefix); os.IsNotExist(err) {
		return stagingDir, nil
	}

	if err := hardlinkTree(m.cfg.LivePrefix, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return "", err
	}
	return stagingDir, nil
}

// hardlinkTree recreates src's file tree at dst: directories are
// created fresh, symlinks are recreated pointing at the same target,
// and regular files are hardlinked so no content is copied.
func hardlinkTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		destPath := filepath.Join(dst, rel)
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return errkind.Wrap(errkind.KindIOError, "statting source entry", err).WithContext("path", rel)
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(destPath, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return errkind.Wrap(errkind.KindIOError, "reading symlink", err).WithContext("path", rel)
			}
			return os.Symlink(target, destPath)
		default:
			if err := os.Link(path, destPath); err != nil {
				return errkind.Wrap(errkind.KindIOError, "hardlinking cloned file", err).WithContext("path", rel)
			}
			return nil
		}
	})
}

// swap performs the atomic directory exchange of spec.md §4.7 step 4:
// newDir becomes the live prefix, and whatever the live prefix held
// before ends up archived at oldArchivePath. On Linux this is a single
// renameat2(RENAME_EXCHANGE) syscall; elsewhere, and on older kernels
// that reject the flag, it falls back to the documented two-rename
// emulation, which is safe here because the advisory transition lock
// guarantees no concurrent mutator holds the directories open across
// the gap between the two renames.
func (m *Manager) swap(newDir, oldArchivePath string) error {
	live := m.cfg.LivePrefix

	if _, err := os.Stat(live); os.IsNotExist(err) {
		// Bootstrapping the very first state: nothing to exchange with.
		if err := os.MkdirAll(filepath.Dir(live), 0o755); err != nil {
			return errkind.Wrap(errkind.KindIOError, "creating live prefix parent", err)
		}
		return os.Rename(newDir, live)
	}

	if runtime.GOOS == "linux" {
		err := unix.Renameat2(unix.AT_FDCWD, newDir, unix.AT_FDCWD, live, unix.RENAME_EXCHANGE)
		if err == nil {
			// newDir's path now holds what used to be live; tuck it away
			// under its archive name.
			if err := os.MkdirAll(m.statesArchiveDir(), 0o755); err != nil {
				return errkind.Wrap(errkind.KindIOError, "creating states archive directory", err)
			}
			return os.Rename(newDir, oldArchivePath)
		}
		if err != unix.ENOSYS && err != unix.EINVAL && err != unix.EXDEV {
			return errkind.Wrap(errkind.KindIOError, "exchanging live and staging directories", err)
		}
	}

	if err := os.MkdirAll(m.statesArchiveDir(), 0o755); err != nil {
		return errkind.Wrap(errkind.KindIOError, "creating states archive directory", err)
	}
	if err := os.Rename(live, oldArchivePath); err != nil {
		return errkind.Wrap(errkind.KindIOError, "archiving replaced live directory", err)
	}
	if err := os.Rename(newDir, live); err != nil {
		// Best-effort reversal: the DB transaction has not committed
		// yet, so putting the old directory back keeps the filesystem
		// consistent with the still-uncommitted database state.
		os.Rename(oldArchivePath, live)
		return errkind.Wrap(errkind.KindIOError, "swapping staging directory into place", err)
	}
	return nil
}
