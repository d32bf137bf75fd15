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
	"errors"
	"testing"

	"genstudio/internal/domain"
)

// seedUnit builds identity -> workspace -> unit and returns all three.
func seedUnit(t *testing.T, st *Store) (*domain.Identity, *domain.Workspace, *domain.GenerationUnit) {
	t.Helper()
	ctx := context.Background()
	id := seedIdentity(t, st)
	ws, err := st.CreateWorkspace(ctx, WorkspaceParams{IdentityID: id.ID, Name: "Q4 Campaign"})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	unit, err := st.CreateUnit(ctx, UnitParams{WorkspaceID: ws.ID, CreatorID: id.ID, InputText: "Revenue by quarter", Complexity: "detailed"})
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}
	return id, ws, unit
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	if got, err := st.GetIdentity(ctx, "nope"); got != nil || err != nil {
		t.Fatalf("identity: got %v, %v", got, err)
	}
	if got, err := st.GetWorkspace(ctx, "nope"); got != nil || err != nil {
		t.Fatalf("workspace: got %v, %v", got, err)
	}
	if got, err := st.GetUnit(ctx, "nope"); got != nil || err != nil {
		t.Fatalf("unit: got %v, %v", got, err)
	}
	if got, err := st.GetArtifact(ctx, "nope"); got != nil || err != nil {
		t.Fatalf("artifact: got %v, %v", got, err)
	}
	if got, err := st.GetMessage(ctx, "nope"); got != nil || err != nil {
		t.Fatalf("message: got %v, %v", got, err)
	}
}

func TestUpdateMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	name := "x"
	if _, err := st.UpdateIdentity(ctx, "nope", IdentityUpdate{Name: &name}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("identity update: %v", err)
	}
	if _, err := st.UpdateWorkspace(ctx, "nope", WorkspaceUpdate{Name: &name}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("workspace update: %v", err)
	}
	if _, err := st.UpdateUnit(ctx, "nope", UnitUpdate{InputText: &name}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unit update: %v", err)
	}
	if _, err := st.UpdateArtifact(ctx, "nope", ArtifactUpdate{Prompt: &name}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("artifact update: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id := seedIdentity(t, st)
	if err := st.DeleteIdentity(ctx, id.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := st.DeleteIdentity(ctx, id.ID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestSettingsMergeKeyWise(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id, err := st.CreateIdentity(ctx, IdentityParams{
		Name: "Avery", Contact: "avery@example.com",
		Settings: map[string]any{"theme": "dark", "model": "fast"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	upd, err := st.UpdateIdentity(ctx, id.ID, IdentityUpdate{
		Settings: map[string]any{"model": "best", "locale": "de"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Settings["theme"] != "dark" {
		t.Fatalf("untouched key lost: %v", upd.Settings)
	}
	if upd.Settings["model"] != "best" {
		t.Fatalf("key not overwritten: %v", upd.Settings)
	}
	if upd.Settings["locale"] != "de" {
		t.Fatalf("new key missing: %v", upd.Settings)
	}
	if upd.Name != "Avery" {
		t.Fatalf("name must be untouched by settings-only update")
	}
	if upd.UpdatedAt < id.UpdatedAt {
		t.Fatalf("updated_at must not go backwards")
	}
}

func TestDuplicateContactRejected(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	seedIdentity(t, st)
	_, err := st.CreateIdentity(ctx, IdentityParams{Name: "Other", Contact: "avery@example.com"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate contact, got %v", err)
	}
}

func TestWorkspaceDeleteCascades(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, ws, unit := seedUnit(t, st)
	art, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("a"), Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	msg, err := st.CreateMessage(ctx, MessageParams{UnitID: unit.ID, Role: domain.RoleAuthor, Content: "hi"})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	if err := st.DeleteWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("delete workspace: %v", err)
	}
	if got, _ := st.GetUnit(ctx, unit.ID); got != nil {
		t.Fatalf("unit should cascade with workspace")
	}
	if got, _ := st.GetArtifact(ctx, art.ID); got != nil {
		t.Fatalf("artifact should cascade with workspace")
	}
	if got, _ := st.GetMessage(ctx, msg.ID); got != nil {
		t.Fatalf("message should cascade with workspace")
	}
}

func TestIdentityDeleteCascadesWholeTree(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id, ws, unit := seedUnit(t, st)
	if err := st.DeleteIdentity(ctx, id.ID); err != nil {
		t.Fatalf("delete identity: %v", err)
	}
	if got, _ := st.GetWorkspace(ctx, ws.ID); got != nil {
		t.Fatalf("workspace should cascade with identity")
	}
	if got, _ := st.GetUnit(ctx, unit.ID); got != nil {
		t.Fatalf("unit should cascade with identity")
	}
}

func TestArtifactParentDeleteClearsChildPointer(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, _, unit := seedUnit(t, st)
	parent, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v1"), Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v2"), Kind: domain.ArtifactRefinement, ParentID: parent.ID})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	if err := st.DeleteArtifact(ctx, parent.ID); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	got, err := st.GetArtifact(ctx, child.ID)
	if err != nil || got == nil {
		t.Fatalf("child must survive parent delete: %v %v", got, err)
	}
	if got.ParentID != "" {
		t.Fatalf("child parent pointer should be cleared, got %q", got.ParentID)
	}
	if got.Kind != domain.ArtifactRefinement {
		t.Fatalf("kind is immutable, got %q", got.Kind)
	}
}

func TestMessageSurvivesArtifactDelete(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, _, unit := seedUnit(t, st)
	art, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v1"), Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	msg, err := st.CreateMessage(ctx, MessageParams{UnitID: unit.ID, ArtifactID: art.ID, Role: domain.RoleAssistant, Content: "here you go"})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	if err := st.DeleteArtifact(ctx, art.ID); err != nil {
		t.Fatalf("delete artifact: %v", err)
	}
	got, err := st.GetMessage(ctx, msg.ID)
	if err != nil || got == nil {
		t.Fatalf("message must survive artifact delete: %v %v", got, err)
	}
	if got.ArtifactID != "" {
		t.Fatalf("message artifact link should be cleared, got %q", got.ArtifactID)
	}
}

func TestPageRemovedWithArtifact(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, ws, unit := seedUnit(t, st)
	art, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v1"), Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	comp, err := st.CreateComposition(ctx, CompositionParams{WorkspaceID: ws.ID, Title: "Deck"})
	if err != nil {
		t.Fatalf("create composition: %v", err)
	}
	page, err := st.CreatePage(ctx, PageParams{CompositionID: comp.ID, ArtifactID: art.ID, Title: "Cover"})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	if err := st.DeleteArtifact(ctx, art.ID); err != nil {
		t.Fatalf("delete artifact: %v", err)
	}
	if got, _ := st.GetPage(ctx, page.ID); got != nil {
		t.Fatalf("page should be removed with its artifact")
	}
	if got, _ := st.GetComposition(ctx, comp.ID); got == nil {
		t.Fatalf("composition must survive")
	}
}

func TestArtifactKindParentRules(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id, ws, unit := seedUnit(t, st)

	// Initial artifacts must not name a parent.
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("a"), Kind: domain.ArtifactInitial, ParentID: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("initial with parent: %v", err)
	}
	// Refinements must name one.
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("a"), Kind: domain.ArtifactRefinement}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("refinement without parent: %v", err)
	}
	// The parent must exist.
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("a"), Kind: domain.ArtifactRefinement, ParentID: "nope"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("refinement with missing parent: %v", err)
	}
	// Content must be present.
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Kind: domain.ArtifactInitial}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("artifact without content: %v", err)
	}

	// The parent must live in the same unit.
	other, err := st.CreateUnit(ctx, UnitParams{WorkspaceID: ws.ID, CreatorID: id.ID, InputText: "other"})
	if err != nil {
		t.Fatalf("create other unit: %v", err)
	}
	foreign, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: other.ID, Content: []byte("f"), Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create foreign artifact: %v", err)
	}
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("a"), Kind: domain.ArtifactRefinement, ParentID: foreign.ID}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("cross-unit parent: %v", err)
	}
}

func TestArtifactUpdateLeavesLineageAlone(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, _, unit := seedUnit(t, st)
	art, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v1"), Kind: domain.ArtifactInitial, Cost: 0.01})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cost := 0.02
	upd, err := st.UpdateArtifact(ctx, art.ID, ArtifactUpdate{Content: []byte("v2"), Cost: &cost})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if string(upd.Content) != "v2" || upd.Cost != 0.02 {
		t.Fatalf("update not applied: %+v", upd)
	}
	if upd.Kind != domain.ArtifactInitial || upd.ParentID != "" || upd.UnitID != unit.ID {
		t.Fatalf("lineage fields must be immutable: %+v", upd)
	}
	if upd.CreatedAt != art.CreatedAt {
		t.Fatalf("created_at must be immutable")
	}
}

func TestListOrderings(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, _, unit := seedUnit(t, st)

	var ids []string
	for i := 0; i < 5; i++ {
		a, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte{byte('a' + i)}, Kind: domain.ArtifactInitial})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, a.ID)
	}
	list, err := st.ListArtifacts(ctx, unit.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("want 5 artifacts, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if cur.CreatedAt < prev.CreatedAt || (cur.CreatedAt == prev.CreatedAt && cur.ID < prev.ID) {
			t.Fatalf("artifacts out of order at %d", i)
		}
	}

	for _, text := range []string{"one", "two"} {
		if _, err := st.CreateMessage(ctx, MessageParams{UnitID: unit.ID, Role: domain.RoleAuthor, Content: text}); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	msgs, err := st.ListMessages(ctx, unit.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[1].CreatedAt < msgs[0].CreatedAt ||
		(msgs[1].CreatedAt == msgs[0].CreatedAt && msgs[1].ID < msgs[0].ID) {
		t.Fatalf("messages out of order: %+v", msgs)
	}
}

func TestUnitUsageAggregates(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, _, unit := seedUnit(t, st)

	a1, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v1"), InputTokens: 100, OutputTokens: 250, Cost: 0.015, Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create a1: %v", err)
	}
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("v2"), InputTokens: 120, OutputTokens: 300, Cost: 0.018, Kind: domain.ArtifactRefinement, ParentID: a1.ID}); err != nil {
		t.Fatalf("create a2: %v", err)
	}

	stats, err := st.UnitUsage(ctx, unit.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if stats.ArtifactCount != 2 {
		t.Fatalf("count: %d", stats.ArtifactCount)
	}
	if stats.InputTokens != 220 || stats.OutputTokens != 550 {
		t.Fatalf("tokens: %+v", stats)
	}
	if stats.TotalTokens != stats.InputTokens+stats.OutputTokens {
		t.Fatalf("total must be input+output: %+v", stats)
	}
	if diff := stats.Cost - 0.033; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("cost: %v", stats.Cost)
	}
}

func TestUnitUsageEmptyUnitIsZero(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, _, unit := seedUnit(t, st)
	stats, err := st.UnitUsage(ctx, unit.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if stats != (domain.UsageStats{}) {
		t.Fatalf("empty unit should aggregate to zero: %+v", stats)
	}
}

func TestCountArtifactsForUnits(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id, ws, unit := seedUnit(t, st)
	unit2, err := st.CreateUnit(ctx, UnitParams{WorkspaceID: ws.ID, CreatorID: id.ID, InputText: "second"})
	if err != nil {
		t.Fatalf("create unit2: %v", err)
	}
	for _, u := range []string{unit.ID, unit.ID, unit2.ID} {
		if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: u, Content: []byte("x"), Kind: domain.ArtifactInitial}); err != nil {
			t.Fatalf("create artifact: %v", err)
		}
	}
	n, err := st.CountArtifactsForUnits(ctx, []string{unit.ID, unit2.ID})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3, got %d", n)
	}
	if n, err := st.CountArtifactsForUnits(ctx, nil); err != nil || n != 0 {
		t.Fatalf("empty id set: %d %v", n, err)
	}
}

func TestCompositionPagesOrderedByPosition(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, ws, unit := seedUnit(t, st)
	comp, err := st.CreateComposition(ctx, CompositionParams{WorkspaceID: ws.ID, Title: "Deck"})
	if err != nil {
		t.Fatalf("create composition: %v", err)
	}
	art, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: unit.ID, Content: []byte("x"), Kind: domain.ArtifactInitial})
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	// Insert out of position order; the listing sorts by position.
	for _, pos := range []int{2, 0, 1} {
		if _, err := st.CreatePage(ctx, PageParams{CompositionID: comp.ID, ArtifactID: art.ID, Title: "p", Position: pos}); err != nil {
			t.Fatalf("create page %d: %v", pos, err)
		}
	}
	pages, err := st.ListPages(ctx, comp.ID)
	if err != nil {
		t.Fatalf("list pages: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("want 3 pages, got %d", len(pages))
	}
	for i, pg := range pages {
		if pg.Position != i {
			t.Fatalf("page %d has position %d", i, pg.Position)
		}
	}

	// Deleting the composition removes its pages.
	if err := st.DeleteComposition(ctx, comp.ID); err != nil {
		t.Fatalf("delete composition: %v", err)
	}
	if left, err := st.ListPages(ctx, comp.ID); err != nil || len(left) != 0 {
		t.Fatalf("pages should cascade with composition: %d %v", len(left), err)
	}
}

func TestRequireParentOnCreate(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	id := seedIdentity(t, st)

	if _, err := st.CreateWorkspace(ctx, WorkspaceParams{IdentityID: "nope", Name: "W"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("workspace under missing identity: %v", err)
	}
	if _, err := st.CreateUnit(ctx, UnitParams{WorkspaceID: "nope", CreatorID: id.ID, InputText: "t"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unit under missing workspace: %v", err)
	}
	if _, err := st.CreateArtifact(ctx, ArtifactParams{UnitID: "nope", Content: []byte("x"), Kind: domain.ArtifactInitial}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("artifact under missing unit: %v", err)
	}
	if _, err := st.CreateMessage(ctx, MessageParams{UnitID: "nope", Role: domain.RoleAuthor, Content: "hi"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("message under missing unit: %v", err)
	}
}
