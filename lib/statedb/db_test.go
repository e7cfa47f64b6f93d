// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sps2/sps2go/lib/hash"
	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/versionspec"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPackage(t *testing.T, name, version string) identity.Package {
	t.Helper()
	v, err := versionspec.Parse(version)
	if err != nil {
		t.Fatalf("versionspec.Parse(%q): %v", version, err)
	}
	pkg, err := identity.New(name, v, 1, "aarch64-macos")
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	return pkg
}

func TestActiveStateID_EmptyBeforeAnyTransition(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.ActiveStateID(ctx)
	if err != nil {
		t.Fatalf("ActiveStateID: %v", err)
	}
	if !id.IsZero() {
		t.Errorf("ActiveStateID = %s, want zero value", id)
	}
}

func TestTransition_InsertsStateAndSetsActive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stateID := identity.NewStateID()
	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}

	if err := tx.InsertState(State{ID: stateID, CreatedAt: time.Now(), Operation: "install"}); err != nil {
		t.Fatalf("InsertState: %v", err)
	}
	if err := tx.SetActiveState(stateID); err != nil {
		t.Fatalf("SetActiveState: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := db.ActiveStateID(ctx)
	if err != nil {
		t.Fatalf("ActiveStateID: %v", err)
	}
	if got != stateID {
		t.Errorf("ActiveStateID = %s, want %s", got, stateID)
	}

	state, found, err := db.GetState(ctx, stateID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !found {
		t.Fatal("GetState did not find the inserted state")
	}
	if state.Operation != "install" {
		t.Errorf("state.Operation = %q, want %q", state.Operation, "install")
	}
}

func TestTransition_RollbackLeavesNoTrace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stateID := identity.NewStateID()
	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if err := tx.InsertState(State{ID: stateID, CreatedAt: time.Now(), Operation: "install"}); err != nil {
		t.Fatalf("InsertState: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	_, found, err := db.GetState(ctx, stateID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if found {
		t.Error("state should not exist after rollback")
	}
}

func TestAddFileObject_IdempotentIncrementsRefCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	digest := hash.HashBytes([]byte("file content"))

	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	wasDuplicate, err := tx.AddFileObject(FileObjectMeta{Hash: digest, Size: 13})
	if err != nil {
		t.Fatalf("AddFileObject: %v", err)
	}
	if wasDuplicate {
		t.Error("first AddFileObject should not report a duplicate")
	}
	wasDuplicate, err = tx.AddFileObject(FileObjectMeta{Hash: digest, Size: 13})
	if err != nil {
		t.Fatalf("AddFileObject (second): %v", err)
	}
	if !wasDuplicate {
		t.Error("second AddFileObject should report a duplicate")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	obj, found, err := db.GetFileObject(ctx, digest)
	if err != nil {
		t.Fatalf("GetFileObject: %v", err)
	}
	if !found {
		t.Fatal("file object not found")
	}
	if obj.RefCount != 2 {
		t.Errorf("RefCount = %d, want 2", obj.RefCount)
	}
}

func TestDecrementFileRefCount_SaturatesAtZero(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	digest := hash.HashBytes([]byte("saturating content"))

	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if _, err := tx.AddFileObject(FileObjectMeta{Hash: digest, Size: 1}); err != nil {
		t.Fatalf("AddFileObject: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, err = db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	count, err := tx.DecrementFileRefCount(digest)
	if err != nil {
		t.Fatalf("DecrementFileRefCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count after first decrement = %d, want 0", count)
	}
	count, err = tx.DecrementFileRefCount(digest)
	if err != nil {
		t.Fatalf("DecrementFileRefCount (second): %v", err)
	}
	if count != 0 {
		t.Errorf("count after second decrement = %d, want 0 (should saturate)", count)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestFindUnreferencedFiles_ReturnsZeroRefcountObjects(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	referenced := hash.HashBytes([]byte("still referenced"))
	orphaned := hash.HashBytes([]byte("orphaned"))

	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if _, err := tx.AddFileObject(FileObjectMeta{Hash: referenced, Size: 1}); err != nil {
		t.Fatalf("AddFileObject: %v", err)
	}
	if _, err := tx.AddFileObject(FileObjectMeta{Hash: orphaned, Size: 1}); err != nil {
		t.Fatalf("AddFileObject: %v", err)
	}
	if _, err := tx.DecrementFileRefCount(orphaned); err != nil {
		t.Fatalf("DecrementFileRefCount: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	unreferenced, err := db.FindUnreferencedFiles(ctx, 10)
	if err != nil {
		t.Fatalf("FindUnreferencedFiles: %v", err)
	}
	if len(unreferenced) != 1 || unreferenced[0] != orphaned {
		t.Errorf("FindUnreferencedFiles = %v, want [%s]", unreferenced, orphaned)
	}
}

func TestInsertPackage_RoundTripsIdentity(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	stateID := identity.NewStateID()
	pkg := testPackage(t, "curl", "8.9.1")

	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if err := tx.InsertState(State{ID: stateID, CreatedAt: time.Now(), Operation: "install"}); err != nil {
		t.Fatalf("InsertState: %v", err)
	}
	packageID, err := tx.InsertPackage(PackageRow{
		StateID:      stateID,
		Package:      pkg,
		ManifestBlob: []byte("manifest bytes"),
		ComputedHash: hash.HashBytes([]byte("manifest bytes")),
	})
	if err != nil {
		t.Fatalf("InsertPackage: %v", err)
	}
	if packageID == 0 {
		t.Error("InsertPackage returned zero id")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	packages, err := db.ListPackages(ctx, stateID)
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("got %d packages, want 1", len(packages))
	}
	if !packages[0].Package.Equal(pkg) {
		t.Errorf("round-tripped package = %+v, want %+v", packages[0].Package, pkg)
	}
}

func TestDeleteState_RemovesStateAndInstalledFiles(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	stateID := identity.NewStateID()
	pkg := testPackage(t, "curl", "8.9.1")
	digest := hash.HashBytes([]byte("bin/curl"))

	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if err := tx.InsertState(State{ID: stateID, CreatedAt: time.Now(), Operation: "install"}); err != nil {
		t.Fatalf("InsertState: %v", err)
	}
	packageID, err := tx.InsertPackage(PackageRow{StateID: stateID, Package: pkg, ManifestBlob: []byte("m")})
	if err != nil {
		t.Fatalf("InsertPackage: %v", err)
	}
	if _, err := tx.AddFileObject(FileObjectMeta{Hash: digest, Size: 1}); err != nil {
		t.Fatalf("AddFileObject: %v", err)
	}
	if err := tx.InsertInstalledFile(InstalledFile{StateID: stateID, PackageID: packageID, FileHash: digest, InstalledPath: "bin/curl"}); err != nil {
		t.Fatalf("InsertInstalledFile: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, err = db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if _, err := tx.DecrementFileRefCount(digest); err != nil {
		t.Fatalf("DecrementFileRefCount: %v", err)
	}
	if err := tx.DeleteState(stateID); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_, found, err := db.GetState(ctx, stateID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if found {
		t.Error("state should not exist after DeleteState")
	}

	files, err := db.ListInstalledFiles(ctx, stateID)
	if err != nil {
		t.Fatalf("ListInstalledFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no installed files after DeleteState, got %d", len(files))
	}
}

func TestRecordVerification_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	digest := hash.HashBytes([]byte("verified file"))

	err := db.RecordVerification(ctx, FileVerification{
		FileHash:      digest,
		InstalledPath: "bin/curl",
		VerifiedAt:    time.Now(),
		IsValid:       true,
	})
	if err != nil {
		t.Fatalf("RecordVerification: %v", err)
	}

	// Re-recording the same key updates rather than duplicates.
	err = db.RecordVerification(ctx, FileVerification{
		FileHash:      digest,
		InstalledPath: "bin/curl",
		VerifiedAt:    time.Now(),
		IsValid:       false,
		ErrorMessage:  "hash mismatch",
	})
	if err != nil {
		t.Fatalf("RecordVerification (update): %v", err)
	}
}
