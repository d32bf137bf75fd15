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
	"fmt"

	"genstudio/internal/domain"
)

type CompositionParams struct {
	WorkspaceID string
	Title       string
	Notes       string
	Position    int
}

type CompositionUpdate struct {
	Title    *string
	Notes    *string
	Position *int
}

type PageParams struct {
	CompositionID string
	ArtifactID    string
	Title         string
	Notes         string
	Position      int
}

type PageUpdate struct {
	Title    *string
	Notes    *string
	Position *int
}

const compositionCols = `id, workspace_id, title, notes, position, created_at, updated_at`
const pageCols = `id, composition_id, artifact_id, title, notes, position, created_at, updated_at`

func (s *Store) CreateComposition(ctx context.Context, p CompositionParams) (*domain.Composition, error) {
	if err := s.requireParent(ctx, "workspaces", p.WorkspaceID); err != nil {
		return nil, err
	}
	id := domain.NewID()
	now := domain.NowMillis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compositions (id, workspace_id, title, notes, position, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		id, p.WorkspaceID, p.Title, p.Notes, p.Position, now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: composition: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert composition: %w", err)
	}
	s.markMutated()
	return s.GetComposition(ctx, id)
}

func (s *Store) GetComposition(ctx context.Context, id string) (*domain.Composition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+compositionCols+` FROM compositions WHERE id=?`, id)
	return scanComposition(row)
}

func (s *Store) UpdateComposition(ctx context.Context, id string, upd CompositionUpdate) (*domain.Composition, error) {
	cur, err := s.GetComposition(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: composition %s", domain.ErrNotFound, id)
	}
	title, notes, pos := cur.Title, cur.Notes, cur.Position
	if upd.Title != nil {
		title = *upd.Title
	}
	if upd.Notes != nil {
		notes = *upd.Notes
	}
	if upd.Position != nil {
		pos = *upd.Position
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE compositions SET title=?, notes=?, position=?, updated_at=? WHERE id=?`,
		title, notes, pos, domain.NowMillis(), id)
	if err != nil {
		return nil, fmt.Errorf("update composition: %w", err)
	}
	s.markMutated()
	return s.GetComposition(ctx, id)
}

// DeleteComposition removes the composition and cascades to its pages.
func (s *Store) DeleteComposition(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "compositions", id)
	return err
}

// ListCompositions returns a workspace's compositions in reading order.
func (s *Store) ListCompositions(ctx context.Context, workspaceID string) ([]*domain.Composition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+compositionCols+` FROM compositions WHERE workspace_id=? ORDER BY position ASC, created_at ASC, id ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list compositions: %w", err)
	}
	defer rows.Close()
	var out []*domain.Composition
	for rows.Next() {
		c, err := scanComposition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreatePage(ctx context.Context, p PageParams) (*domain.Page, error) {
	if err := s.requireParent(ctx, "compositions", p.CompositionID); err != nil {
		return nil, err
	}
	if p.ArtifactID != "" {
		if err := s.requireParent(ctx, "artifacts", p.ArtifactID); err != nil {
			return nil, err
		}
	}
	id := domain.NewID()
	now := domain.NowMillis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (id, composition_id, artifact_id, title, notes, position, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		id, p.CompositionID, nullable(p.ArtifactID), p.Title, p.Notes, p.Position, now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: page: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert page: %w", err)
	}
	s.markMutated()
	return s.GetPage(ctx, id)
}

func (s *Store) GetPage(ctx context.Context, id string) (*domain.Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageCols+` FROM pages WHERE id=?`, id)
	return scanPage(row)
}

func (s *Store) UpdatePage(ctx context.Context, id string, upd PageUpdate) (*domain.Page, error) {
	cur, err := s.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: page %s", domain.ErrNotFound, id)
	}
	title, notes, pos := cur.Title, cur.Notes, cur.Position
	if upd.Title != nil {
		title = *upd.Title
	}
	if upd.Notes != nil {
		notes = *upd.Notes
	}
	if upd.Position != nil {
		pos = *upd.Position
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE pages SET title=?, notes=?, position=?, updated_at=? WHERE id=?`,
		title, notes, pos, domain.NowMillis(), id)
	if err != nil {
		return nil, fmt.Errorf("update page: %w", err)
	}
	s.markMutated()
	return s.GetPage(ctx, id)
}

func (s *Store) DeletePage(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "pages", id)
	return err
}

// ListPages returns a composition's pages in reading order.
func (s *Store) ListPages(ctx context.Context, compositionID string) ([]*domain.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageCols+` FROM pages WHERE composition_id=? ORDER BY position ASC, created_at ASC, id ASC`, compositionID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var out []*domain.Page
	for rows.Next() {
		pg, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pg)
	}
	return out, rows.Err()
}

func scanComposition(r rowScanner) (*domain.Composition, error) {
	var c domain.Composition
	err := r.Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.Notes, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan composition: %w", err)
	}
	return &c, nil
}

func scanPage(r rowScanner) (*domain.Page, error) {
	var p domain.Page
	var artifact sql.NullString
	err := r.Scan(&p.ID, &p.CompositionID, &artifact, &p.Title, &p.Notes, &p.Position, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}
	p.ArtifactID = artifact.String
	return &p, nil
}
