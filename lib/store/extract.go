// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"io"

	"github.com/sps2/sps2go/lib/archive"
	"github.com/sps2/sps2go/lib/errkind"
	"github.com/sps2/sps2go/lib/hash"
)

// ExtractedEntry describes one file tree member of an archive after it
// has been ingested into the store: its archive path, its metadata,
// and, for regular files, the content hash it was stored under.
type ExtractedEntry struct {
	archive.Entry
	Hash hash.Content
}

// Extract reads every file tree entry from r (an open archive.Reader
// positioned just after ReadManifest) and ingests each regular file's
// content into the store. Directory and symlink entries are returned
// with a zero Hash; state assembly creates those directly rather than
// through the object store.
func Extract(s *Store, r *archive.Reader) ([]ExtractedEntry, error) {
	var entries []ExtractedEntry
	for {
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.KindCorruptArchive, "reading archive entry", err)
		}

		extracted := ExtractedEntry{Entry: entry}
		if !entry.IsDir && !entry.IsSymlink {
			var buf bytes.Buffer
			if _, err := io.CopyN(&buf, r, entry.Size); err != nil {
				return nil, errkind.Wrap(errkind.KindCorruptArchive, "reading archive file content", err).
					WithContext("path", entry.Path)
			}
			digest, err := s.PutBytes(buf.Bytes())
			if err != nil {
				return nil, err
			}
			extracted.Hash = digest
		}
		entries = append(entries, extracted)
	}
	return entries, nil
}
