// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zstd"
)

// Entry is a single file tree member inside a .sp archive.
type Entry struct {
	Path       string
	Mode       fs.FileMode
	Size       int64
	IsDir      bool
	IsSymlink  bool
	LinkTarget string
}

// Writer builds a .sp archive: manifest.toml followed by the file
// tree, as a zstd-compressed tar stream. Writes are sequential —
// callers must write the manifest first via WriteManifest, then each
// file via WriteFile, then Close.
type Writer struct {
	zstdWriter *zstd.Encoder
	tarWriter  *tar.Writer
}

// NewWriter wraps w in a streaming zstd+tar archive writer.
func NewWriter(w io.Writer) (*Writer, error) {
	zstdWriter, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating archive zstd writer: %w", err)
	}
	return &Writer{
		zstdWriter: zstdWriter,
		tarWriter:  tar.NewWriter(zstdWriter),
	}, nil
}

// WriteManifest writes manifest.toml as the first archive entry.
func (w *Writer) WriteManifest(manifest *Manifest) error {
	data, err := MarshalManifest(manifest)
	if err != nil {
		return err
	}
	return w.WriteFile(Entry{Path: ManifestFileName, Mode: 0o644, Size: int64(len(data))}, data)
}

// WriteFile writes a single file entry. For directories, data must be
// nil and entry.IsDir true. For symlinks, data must be nil and
// entry.LinkTarget set.
func (w *Writer) WriteFile(entry Entry, data []byte) error {
	header := &tar.Header{
		Name:     entry.Path,
		Mode:     int64(entry.Mode.Perm()),
		Size:     entry.Size,
		Typeflag: tar.TypeReg,
	}
	switch {
	case entry.IsDir:
		header.Typeflag = tar.TypeDir
		header.Size = 0
	case entry.IsSymlink:
		header.Typeflag = tar.TypeSymlink
		header.Linkname = entry.LinkTarget
		header.Size = 0
	}

	if err := w.tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("writing archive header for %s: %w", entry.Path, err)
	}
	if header.Typeflag == tar.TypeReg {
		if _, err := w.tarWriter.Write(data); err != nil {
			return fmt.Errorf("writing archive data for %s: %w", entry.Path, err)
		}
	}
	return nil
}

// Close finalizes the tar stream and flushes the zstd frame.
func (w *Writer) Close() error {
	if err := w.tarWriter.Close(); err != nil {
		return fmt.Errorf("closing archive tar stream: %w", err)
	}
	if err := w.zstdWriter.Close(); err != nil {
		return fmt.Errorf("closing archive zstd stream: %w", err)
	}
	return nil
}

// Reader reads a .sp archive sequentially: manifest.toml first, then
// the file tree, mirroring Writer's write order.
type Reader struct {
	zstdReader *zstd.Decoder
	tarReader  *tar.Reader
}

// NewReader wraps r in a streaming zstd+tar archive reader.
func NewReader(r io.Reader) (*Reader, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating archive zstd reader: %w", err)
	}
	return &Reader{
		zstdReader: zstdReader,
		tarReader:  tar.NewReader(zstdReader),
	}, nil
}

// Close releases the zstd decoder's resources.
func (r *Reader) Close() {
	r.zstdReader.Close()
}

// ReadManifest reads the first archive entry and parses it as
// manifest.toml. Returns an error if the first entry is not named
// manifest.toml — every .sp archive must carry it at the root.
func (r *Reader) ReadManifest() (*Manifest, error) {
	header, err := r.tarReader.Next()
	if err != nil {
		return nil, fmt.Errorf("reading archive manifest header: %w", err)
	}
	if header.Name != ManifestFileName {
		return nil, fmt.Errorf("archive first entry is %q, want %q", header.Name, ManifestFileName)
	}

	data, err := io.ReadAll(r.tarReader)
	if err != nil {
		return nil, fmt.Errorf("reading archive manifest data: %w", err)
	}
	return ParseManifest(data)
}

// Next advances to the next file tree entry after the manifest.
// Returns io.EOF when the archive is exhausted. The entry's content,
// if any, must be read from the Reader before calling Next again.
func (r *Reader) Next() (Entry, error) {
	header, err := r.tarReader.Next()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Path:       header.Name,
		Mode:       fs.FileMode(header.Mode),
		Size:       header.Size,
		IsDir:      header.Typeflag == tar.TypeDir,
		IsSymlink:  header.Typeflag == tar.TypeSymlink,
		LinkTarget: header.Linkname,
	}
	return entry, nil
}

// Read implements io.Reader over the current entry's content, for use
// immediately after Next.
func (r *Reader) Read(p []byte) (int, error) {
	return r.tarReader.Read(p)
}
