// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a content hash digest.
const Size = 32

// Content is a 256-bit BLAKE3 content hash, the strong digest used as
// the object store key for every file object and package archive
// (spec.md §3).
type Content [Size]byte

// IsZero reports whether h is the zero digest (uninitialized).
func (h Content) IsZero() bool {
	return h == Content{}
}

// String returns the hex-encoded digest.
func (h Content) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler, so a Content digest
// serializes as its hex string in JSON and CBOR rather than as a raw
// byte array.
func (h Content) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Content) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Fast is a 64-bit xxhash digest, computed alongside the content hash
// by Hasher. Downloads are verified by their content hash only; no
// caller checks data against a Fast digest.
type Fast uint64

// String returns the hex-encoded digest.
func (h Fast) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Hasher streams bytes through both the content hash and the fast hash
// simultaneously. Write never fails (both underlying hashers are
// pure-Go and cannot error).
type Hasher struct {
	content hashWriter
	fast    *xxhash.Digest
}

type hashWriter interface {
	io.Writer
	Sum(b []byte) []byte
}

// NewHasher returns a Hasher ready to accept writes.
func NewHasher() *Hasher {
	return &Hasher{
		content: blake3.New(),
		fast:    xxhash.New(),
	}
}

// Write implements io.Writer, feeding p to both hash functions.
func (h *Hasher) Write(p []byte) (int, error) {
	h.content.Write(p)
	h.fast.Write(p)
	return len(p), nil
}

// Sum returns the content hash and fast hash of everything written so
// far. It does not reset the hasher's state.
func (h *Hasher) Sum() (Content, Fast) {
	var digest Content
	copy(digest[:], h.content.Sum(nil))
	return digest, Fast(h.fast.Sum64())
}

// HashFile computes the content hash of the file at path, streaming it
// through BLAKE3 in constant memory regardless of file size.
func HashFile(path string) (Content, error) {
	file, err := os.Open(path)
	if err != nil {
		return Content{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Content{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Content
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// HashBytes computes the content hash of data in memory.
func HashBytes(data []byte) Content {
	sum := blake3.Sum256(data)
	return Content(sum)
}

// FastHashBytes computes the fast verification hash of data in memory.
func FastHashBytes(data []byte) Fast {
	return Fast(xxhash.Sum64(data))
}

// Format returns the canonical hex-encoded string representation of a
// content hash. This is the format used in store paths, database rows,
// and CLI output.
func Format(digest Content) string {
	return hex.EncodeToString(digest[:])
}

// Parse parses a hex-encoded content hash string into a [Content].
// Returns an error if the string is not a valid 64-character hex
// encoding of 32 bytes.
func Parse(hexString string) (Content, error) {
	var digest Content
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing content hash: %w", err)
	}
	if len(decoded) != Size {
		return digest, fmt.Errorf("content hash is %d bytes, want %d", len(decoded), Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}
