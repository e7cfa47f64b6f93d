// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sps2/sps2go/lib/archive"
	"github.com/sps2/sps2go/lib/fetch"
	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/index"
	"github.com/sps2/sps2go/lib/resolver"
	"github.com/sps2/sps2go/lib/store"
	"github.com/sps2/sps2go/lib/versionspec"
)

// buildArchive assembles a minimal .sp archive in memory: a manifest
// and a single regular file at binPath with the given content.
func buildArchive(t *testing.T, name, version, binPath, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := archive.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	manifest := &archive.Manifest{
		Package: archive.ManifestPackage{Name: name, Version: version, Revision: 1, Arch: "amd64"},
	}
	if err := w.WriteManifest(manifest); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	data := []byte(content)
	entry := archive.Entry{Path: binPath, Mode: 0o644, Size: int64(len(data))}
	if err := w.WriteFile(entry, data); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

// testHarness serves prebuilt archives over HTTP and wires a Pipeline
// against a fresh store and cache directory.
type testHarness struct {
	srv *httptest.Server
	p   *Pipeline
}

func newTestHarness(t *testing.T, archives map[string][]byte) *testHarness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	p := New(Config{
		Fetcher:  fetch.New(fetch.Config{}),
		Store:    st,
		CacheDir: filepath.Join(t.TempDir(), "cache"),
	})

	return &testHarness{srv: srv, p: p}
}

func (h *testHarness) url(path string) string {
	return h.srv.URL + path
}

func TestPlan_ReadyNodesHaveNoDependencies(t *testing.T) {
	solution := &resolver.Solution{
		Selected: map[string]resolver.Selected{
			"app":     {Name: "app", Version: versionspec.MustParse("1.0.0"), Deps: []string{"lib"}},
			"lib":     {Name: "lib", Version: versionspec.MustParse("2.0.0")},
			"unrelated": {Name: "unrelated", Version: versionspec.MustParse("1.0.0")},
		},
	}
	doc := &index.Document{Packages: map[string]map[string]index.Release{
		"app":       {"1.0.0": {ArchiveURL: "/app.sp", ArchiveHash: hash.HashBytes([]byte("app"))}},
		"lib":       {"2.0.0": {ArchiveURL: "/lib.sp", ArchiveHash: hash.HashBytes([]byte("lib"))}},
		"unrelated": {"1.0.0": {ArchiveURL: "/unrelated.sp", ArchiveHash: hash.HashBytes([]byte("unrelated"))}},
	}}

	plan, err := NewPlan(solution, doc)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	ready := plan.Ready()
	sort.Strings(ready)
	want := []string{"lib", "unrelated"}
	if len(ready) != len(want) || ready[0] != want[0] || ready[1] != want[1] {
		t.Fatalf("Ready() = %v, want %v", ready, want)
	}

	newlyReady := plan.complete("lib")
	if len(newlyReady) != 1 || newlyReady[0] != "app" {
		t.Fatalf("complete(lib) = %v, want [app]", newlyReady)
	}
}

func TestRun_SingleNodeFetchesExtractsAndStageLinks(t *testing.T) {
	data := buildArchive(t, "lib", "1.0.0", "lib/libfoo.so", "binary content")
	digest := hash.HashBytes(data)

	h := newTestHarness(t, map[string][]byte{"/lib.sp": data})
	solution := &resolver.Solution{
		Selected: map[string]resolver.Selected{
			"lib": {Name: "lib", Version: versionspec.MustParse("1.0.0")},
		},
	}
	doc := &index.Document{Packages: map[string]map[string]index.Release{
		"lib": {"1.0.0": {ArchiveURL: h.url("/lib.sp"), ArchiveHash: digest}},
	}}

	plan, err := NewPlan(solution, doc)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	stagingDir := t.TempDir()
	results, err := h.p.Run(context.Background(), plan, stagingDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	staged, err := os.ReadFile(filepath.Join(stagingDir, "lib/libfoo.so"))
	if err != nil {
		t.Fatalf("reading staged file: %v", err)
	}
	if string(staged) != "binary content" {
		t.Fatalf("staged content = %q, want %q", staged, "binary content")
	}
}

func TestRun_DependencyOrderRespected(t *testing.T) {
	libData := buildArchive(t, "lib", "1.0.0", "lib/libfoo.so", "lib bytes")
	appData := buildArchive(t, "app", "1.0.0", "bin/app", "app bytes")

	h := newTestHarness(t, map[string][]byte{
		"/lib.sp": libData,
		"/app.sp": appData,
	})
	solution := &resolver.Solution{
		Selected: map[string]resolver.Selected{
			"app": {Name: "app", Version: versionspec.MustParse("1.0.0"), Deps: []string{"lib"}},
			"lib": {Name: "lib", Version: versionspec.MustParse("1.0.0")},
		},
	}
	doc := &index.Document{Packages: map[string]map[string]index.Release{
		"app": {"1.0.0": {ArchiveURL: h.url("/app.sp"), ArchiveHash: hash.HashBytes(appData)}},
		"lib": {"1.0.0": {ArchiveURL: h.url("/lib.sp"), ArchiveHash: hash.HashBytes(libData)}},
	}}

	plan, err := NewPlan(solution, doc)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	stagingDir := t.TempDir()
	results, err := h.p.Run(context.Background(), plan, stagingDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	for _, path := range []string{"lib/libfoo.so", "bin/app"} {
		if _, err := os.Stat(filepath.Join(stagingDir, path)); err != nil {
			t.Fatalf("expected staged file %s: %v", path, err)
		}
	}
}

func TestRun_FetchFailureCancelsPlan(t *testing.T) {
	h := newTestHarness(t, map[string][]byte{})
	solution := &resolver.Solution{
		Selected: map[string]resolver.Selected{
			"missing": {Name: "missing", Version: versionspec.MustParse("1.0.0")},
		},
	}
	doc := &index.Document{Packages: map[string]map[string]index.Release{
		"missing": {"1.0.0": {ArchiveURL: h.url("/missing.sp"), ArchiveHash: hash.Content{}}},
	}}

	plan, err := NewPlan(solution, doc)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	_, err = h.p.Run(context.Background(), plan, t.TempDir())
	if err == nil {
		t.Fatal("expected error for 404 archive, got nil")
	}
}

func TestRun_InFlightDedupFetchesOnce(t *testing.T) {
	data := buildArchive(t, "lib", "1.0.0", "lib/libfoo.so", "shared bytes")
	digest := hash.HashBytes(data)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(data)
	}))
	defer srv.Close()

	st, err := store.Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	p := New(Config{
		Fetcher:  fetch.New(fetch.Config{}),
		Store:    st,
		CacheDir: filepath.Join(t.TempDir(), "cache"),
	})

	node := Node{Name: "lib", Version: versionspec.MustParse("1.0.0"), ArchiveURL: srv.URL, ArchiveHash: digest}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := p.fetchAndExtract(context.Background(), node)
			results <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("fetchAndExtract: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 HTTP request across concurrent callers, got %d", calls)
	}
}
