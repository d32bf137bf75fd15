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
	"strings"

	"genstudio/internal/domain"
)

type WorkspaceParams struct {
	IdentityID  string
	Name        string
	Description string
	Settings    map[string]any
}

type WorkspaceUpdate struct {
	Name        *string
	Description *string
	Settings    map[string]any
}

const workspaceCols = `id, identity_id, name, description, settings, created_at, updated_at`

func (s *Store) CreateWorkspace(ctx context.Context, p WorkspaceParams) (*domain.Workspace, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: workspace name is required", domain.ErrValidation)
	}
	if err := s.requireParent(ctx, "identities", p.IdentityID); err != nil {
		return nil, err
	}
	settings, err := encodeMap(p.Settings)
	if err != nil {
		return nil, err
	}
	id := domain.NewID()
	now := domain.NowMillis()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, identity_id, name, description, settings, created_at, updated_at) VALUES (?,?,?,?,?,?,?)`,
		id, p.IdentityID, p.Name, p.Description, settings, now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: workspace: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert workspace: %w", err)
	}
	s.markMutated()
	return s.GetWorkspace(ctx, id)
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceCols+` FROM workspaces WHERE id=?`, id)
	return scanWorkspace(row)
}

func (s *Store) UpdateWorkspace(ctx context.Context, id string, upd WorkspaceUpdate) (*domain.Workspace, error) {
	cur, err := s.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: workspace %s", domain.ErrNotFound, id)
	}
	name, desc := cur.Name, cur.Description
	if upd.Name != nil {
		name = *upd.Name
	}
	if upd.Description != nil {
		desc = *upd.Description
	}
	settings, err := encodeMap(cur.Settings)
	if err != nil {
		return nil, err
	}
	if upd.Settings != nil {
		settings, err = mergeMap(settings, upd.Settings)
		if err != nil {
			return nil, err
		}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE workspaces SET name=?, description=?, settings=?, updated_at=? WHERE id=?`,
		name, desc, settings, domain.NowMillis(), id)
	if err != nil {
		return nil, fmt.Errorf("update workspace: %w", err)
	}
	s.markMutated()
	return s.GetWorkspace(ctx, id)
}

// DeleteWorkspace removes the workspace and cascades to its generation units
// (with their artifacts and messages) and compositions.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "workspaces", id)
	return err
}

// ListWorkspaces returns an identity's workspaces, recently touched first.
func (s *Store) ListWorkspaces(ctx context.Context, identityID string) ([]*domain.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workspaceCols+` FROM workspaces WHERE identity_id=? ORDER BY updated_at DESC, id ASC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()
	var out []*domain.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorkspace(r rowScanner) (*domain.Workspace, error) {
	var w domain.Workspace
	var settings string
	err := r.Scan(&w.ID, &w.IdentityID, &w.Name, &w.Description, &settings, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	w.Settings = decodeMap(settings)
	return &w, nil
}
