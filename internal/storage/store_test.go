/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"genstudio/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	ctx := context.Background()
	slot := filepath.Join(t.TempDir(), "studio.snapshot")
	st, err := Open(ctx, Options{Path: slot})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st, slot
}

// seedIdentity creates one identity for tests that need a hierarchy root.
func seedIdentity(t *testing.T, st *Store) *domain.Identity {
	t.Helper()
	id, err := st.CreateIdentity(context.Background(), IdentityParams{Name: "Avery", Contact: "avery@example.com"})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return id
}

func TestPersistWritesSlotAndReloads(t *testing.T) {
	ctx := context.Background()
	st, slot := newTestStore(t)
	id := seedIdentity(t, st)
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := os.Stat(slot); err != nil {
		t.Fatalf("slot missing after persist: %v", err)
	}

	// A second store opened on the same slot sees the flushed state.
	st2, err := Open(ctx, Options{Path: slot})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = st2.Close(ctx) }()
	got, err := st2.GetIdentity(ctx, id.ID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if got == nil || got.Contact != "avery@example.com" {
		t.Fatalf("reloaded identity mismatch: %+v", got)
	}
}

func TestOpenWithMissingSlotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	list, err := st.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("list identities: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty store, got %d identities", len(list))
	}
}

func TestExportResetImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, slot := newTestStore(t)
	id := seedIdentity(t, st)
	ws, err := st.CreateWorkspace(ctx, WorkspaceParams{IdentityID: id.ID, Name: "Q4 Campaign"})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	unit, err := st.CreateUnit(ctx, UnitParams{WorkspaceID: ws.ID, CreatorID: id.ID, InputText: "Revenue by quarter"})
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}
	art, err := st.CreateArtifact(ctx, ArtifactParams{
		UnitID: unit.ID, Content: []byte("<svg/>"), Prompt: "draw it",
		InputTokens: 100, OutputTokens: 200, Cost: 0.015, Kind: domain.ArtifactInitial,
	})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	blob, err := st.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := os.Stat(slot); !os.IsNotExist(err) {
		t.Fatalf("slot should be removed by reset")
	}
	if got, err := st.GetArtifact(ctx, art.ID); err != nil || got != nil {
		t.Fatalf("artifact should be gone after reset: %v %v", got, err)
	}

	if err := st.Import(ctx, blob); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, err := st.GetArtifact(ctx, art.ID)
	if err != nil {
		t.Fatalf("get artifact after import: %v", err)
	}
	if got == nil {
		t.Fatalf("artifact missing after import")
	}
	if string(got.Content) != "<svg/>" || got.Cost != art.Cost ||
		got.InputTokens != art.InputTokens || got.OutputTokens != art.OutputTokens ||
		got.Kind != art.Kind || got.UnitID != unit.ID ||
		got.CreatedAt != art.CreatedAt || got.UpdatedAt != art.UpdatedAt {
		t.Fatalf("artifact fields changed across export/import:\n got %+v\nwant %+v", got, art)
	}
	// Import flushes immediately.
	if _, err := os.Stat(slot); err != nil {
		t.Fatalf("slot missing after import: %v", err)
	}
}

func TestImportRejectsGarbageAndKeepsWorkingCopy(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id := seedIdentity(t, st)

	err := st.Import(ctx, []byte("definitely not a database"))
	if !errors.Is(err, domain.ErrImport) {
		t.Fatalf("expected ErrImport, got %v", err)
	}

	// The prior working copy is untouched.
	got, err := st.GetIdentity(ctx, id.ID)
	if err != nil || got == nil {
		t.Fatalf("working copy lost after failed import: %v %v", got, err)
	}
}

func TestImportRejectsTruncatedImage(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	seedIdentity(t, st)

	blob, err := st.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	// Valid magic, broken body.
	err = st.Import(ctx, blob[:64])
	if !errors.Is(err, domain.ErrImport) {
		t.Fatalf("expected ErrImport for truncated image, got %v", err)
	}
}

// writeDanglingImage builds a well-formed database file whose artifacts table
// references a generation unit that does not exist.
func writeDanglingImage(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dangling.sqlite")
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path))
	if err != nil {
		t.Fatalf("open image db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE artifacts (
			id TEXT PRIMARY KEY, unit_id TEXT NOT NULL, content BLOB NOT NULL,
			kind TEXT NOT NULL, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL
		);`,
		`INSERT INTO artifacts VALUES ('art-1', 'no-such-unit', x'00', 'initial', 1, 1);`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			t.Fatalf("build image: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close image db: %v", err)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	return blob
}

// A structurally valid image can still carry rows violating referential
// integrity. Loading one must fail with ErrImport without losing the working
// copy or wedging the store's connection.
func TestImportRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	st, slot := newTestStore(t)
	id := seedIdentity(t, st)

	err := st.Import(ctx, writeDanglingImage(t))
	if !errors.Is(err, domain.ErrImport) {
		t.Fatalf("expected ErrImport for dangling references, got %v", err)
	}

	// The prior working copy is untouched.
	got, err := st.GetIdentity(ctx, id.ID)
	if err != nil || got == nil {
		t.Fatalf("working copy lost after failed import: %v %v", got, err)
	}

	// No transaction is left open: flushing still works.
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist after failed import: %v", err)
	}
	if _, err := os.Stat(slot); err != nil {
		t.Fatalf("slot missing after persist: %v", err)
	}

	// And the snapshot attachment was released: a valid image still imports.
	good, err := st.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := st.Import(ctx, good); err != nil {
		t.Fatalf("import after failed import: %v", err)
	}
}

func TestResetKeepsSlotRemovedAndPingsHook(t *testing.T) {
	ctx := context.Background()
	st, slot := newTestStore(t)
	var pinged int
	st.SetOnChange(func() { pinged++ })
	seedIdentity(t, st)
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	before := st.Changes()
	if err := st.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st.Changes() != before+1 {
		t.Fatalf("reset should bump change counter")
	}
	if pinged != 2 {
		t.Fatalf("reset should ping the change hook, pings: %d", pinged)
	}
	if _, err := os.Stat(slot); !os.IsNotExist(err) {
		t.Fatalf("slot should be removed by reset")
	}

	// Neither the flush the hook requests nor the teardown flush may write
	// an empty snapshot back over the removed slot.
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist after reset: %v", err)
	}
	if err := st.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(slot); !os.IsNotExist(err) {
		t.Fatalf("slot recreated after reset")
	}
}

func TestPersistFailureDegradesStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// Make the slot's parent a regular file so MkdirAll fails.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	st, err := Open(ctx, Options{Path: filepath.Join(blocker, "studio.snapshot")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.db.Close() }()

	seedIdentity(t, st)
	err = st.Persist(ctx)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !st.Degraded() {
		t.Fatalf("store should be degraded after failed flush")
	}

	// Mutations keep working against the in-memory copy.
	if _, err := st.CreateIdentity(ctx, IdentityParams{Name: "B", Contact: "b@example.com"}); err != nil {
		t.Fatalf("mutation in degraded mode: %v", err)
	}
}

func TestMemoryOnlyStorePersistIsNoop(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Options{})
	if err != nil {
		t.Fatalf("open memory-only: %v", err)
	}
	defer func() { _ = st.Close(ctx) }()
	seedIdentity(t, st)
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("memory-only persist should be a no-op: %v", err)
	}
}

func TestChangeCounterAndHook(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	var pinged int
	st.SetOnChange(func() { pinged++ })

	before := st.Changes()
	id := seedIdentity(t, st)
	if st.Changes() != before+1 {
		t.Fatalf("create should bump change counter")
	}
	if pinged != 1 {
		t.Fatalf("hook not pinged on create: %d", pinged)
	}

	// Reads do not count as changes.
	if _, err := st.GetIdentity(ctx, id.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Changes() != before+1 {
		t.Fatalf("read must not bump change counter")
	}

	// Idempotent delete of a missing row is not a mutation.
	if err := st.DeleteIdentity(ctx, "no-such-id"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if st.Changes() != before+1 {
		t.Fatalf("no-op delete must not bump change counter")
	}
}

func TestPreloadSeedsWorkingCopy(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id := seedIdentity(t, st)
	blob, err := st.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	st2, err := Open(ctx, Options{Preload: blob})
	if err != nil {
		t.Fatalf("open with preload: %v", err)
	}
	defer func() { _ = st2.Close(ctx) }()
	got, err := st2.GetIdentity(ctx, id.ID)
	if err != nil || got == nil {
		t.Fatalf("preloaded identity missing: %v %v", got, err)
	}
}
