// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sps2/sps2go/lib/clock"
	"github.com/sps2/sps2go/lib/identity"
	"github.com/sps2/sps2go/lib/statedb"
	"github.com/sps2/sps2go/lib/store"
	"github.com/sps2/sps2go/lib/versionspec"
)

func newTestEnv(t *testing.T) (*statedb.DB, *store.Store, *clock.FakeClock) {
	t.Helper()
	root := t.TempDir()

	st, err := store.Open(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	db, err := statedb.Open(statedb.Config{Path: filepath.Join(root, "state.db")})
	if err != nil {
		t.Fatalf("statedb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return db, st, fake
}

// addState inserts a state with a single installed file backed by a
// fresh file object in the store, returning the state id.
func addState(t *testing.T, ctx context.Context, db *statedb.DB, st *store.Store, fake *clock.FakeClock, parent identity.StateID, content string) identity.StateID {
	t.Helper()
	digest, err := st.PutBytes([]byte(content))
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	id := identity.NewStateID()
	tx, err := db.BeginTransition(ctx)
	if err != nil {
		t.Fatalf("BeginTransition: %v", err)
	}
	if err := tx.InsertState(statedb.State{ID: id, ParentID: parent, CreatedAt: fake.Now(), Operation: "install"}); err != nil {
		t.Fatalf("InsertState: %v", err)
	}
	packageID, err := tx.InsertPackage(statedb.PackageRow{
		StateID: id,
		Package: identity.Package{Name: "pkg", Version: versionspec.MustParse("1.0.0"), Arch: "amd64"},
	})
	if err != nil {
		t.Fatalf("InsertPackage: %v", err)
	}
	if _, err := tx.AddFileObject(statedb.FileObjectMeta{Hash: digest, Size: int64(len(content))}); err != nil {
		t.Fatalf("AddFileObject: %v", err)
	}
	if err := tx.InsertInstalledFile(statedb.InstalledFile{StateID: id, PackageID: packageID, FileHash: digest, InstalledPath: "pkg/file"}); err != nil {
		t.Fatalf("InsertInstalledFile: %v", err)
	}
	if err := tx.SetActiveState(id); err != nil {
		t.Fatalf("SetActiveState: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return id
}

func TestCollect_RetiresStatesOutsideRetentionSet(t *testing.T) {
	ctx := context.Background()
	db, st, fake := newTestEnv(t)

	var parent identity.StateID
	var ids []identity.StateID
	for i := 0; i < 5; i++ {
		id := addState(t, ctx, db, st, fake, parent, "content")
		ids = append(ids, id)
		parent = id
		fake.Advance(time.Hour)
	}

	c := New(Config{DB: db, Store: st, Clock: fake, RetainCount: 2, RetainAge: 24 * time.Hour})
	stats, err := c.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// All 5 states are within RetainAge (created within the last few
	// hours relative to the fake clock), so nothing should be retired
	// on this run despite RetainCount being smaller than the total.
	if stats.StatesRetired != 0 {
		t.Fatalf("StatesRetired = %d, want 0 (all states within RetainAge)", stats.StatesRetired)
	}

	// Advance the clock well past RetainAge; only RetainCount states
	// (plus the active one) should now survive.
	fake.Advance(30 * 24 * time.Hour)
	stats, err = c.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.StatesRetired != 3 {
		t.Fatalf("StatesRetired = %d, want 3", stats.StatesRetired)
	}

	remaining, err := db.ListStates(ctx)
	if err != nil {
		t.Fatalf("ListStates: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining states = %d, want 2", len(remaining))
	}
}

func TestCollect_SweepsUnreferencedObjectsAfterRetirement(t *testing.T) {
	ctx := context.Background()
	db, st, fake := newTestEnv(t)

	var parent identity.StateID
	for i := 0; i < 3; i++ {
		parent = addState(t, ctx, db, st, fake, parent, "shared content unique per state "+string(rune('a'+i)))
		fake.Advance(time.Hour)
	}

	c := New(Config{DB: db, Store: st, Clock: fake, RetainCount: 1, RetainAge: time.Nanosecond})
	fake.Advance(time.Hour)

	stats, err := c.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.StatesRetired != 2 {
		t.Fatalf("StatesRetired = %d, want 2", stats.StatesRetired)
	}
	if stats.ObjectsSwept != 2 {
		t.Fatalf("ObjectsSwept = %d, want 2", stats.ObjectsSwept)
	}
}

func TestCollect_KeepsActiveStateRegardlessOfAge(t *testing.T) {
	ctx := context.Background()
	db, st, fake := newTestEnv(t)

	active := addState(t, ctx, db, st, fake, identity.StateID{}, "content")
	fake.Advance(365 * 24 * time.Hour)

	c := New(Config{DB: db, Store: st, Clock: fake, RetainCount: 0, RetainAge: time.Nanosecond})
	if _, err := c.Collect(ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	_, ok, err := db.GetState(ctx, active)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !ok {
		t.Fatal("expected active state to survive collection")
	}
}
