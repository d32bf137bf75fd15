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

type UnitParams struct {
	WorkspaceID   string
	CreatorID     string
	InputText     string
	Complexity    string
	Resolution    string
	DesignRequest string
	Reference     []byte
}

type UnitUpdate struct {
	InputText     *string
	Complexity    *string
	Resolution    *string
	DesignRequest *string
	Reference     []byte
}

const unitCols = `id, workspace_id, creator_id, input_text, complexity, resolution, design_request, reference_blob, created_at, updated_at`

func (s *Store) CreateUnit(ctx context.Context, p UnitParams) (*domain.GenerationUnit, error) {
	if strings.TrimSpace(p.InputText) == "" {
		return nil, fmt.Errorf("%w: unit input text is required", domain.ErrValidation)
	}
	if err := s.requireParent(ctx, "workspaces", p.WorkspaceID); err != nil {
		return nil, err
	}
	if err := s.requireParent(ctx, "identities", p.CreatorID); err != nil {
		return nil, err
	}
	id := domain.NewID()
	now := domain.NowMillis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_units (id, workspace_id, creator_id, input_text, complexity, resolution, design_request, reference_blob, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		id, p.WorkspaceID, p.CreatorID, p.InputText, p.Complexity, p.Resolution, p.DesignRequest, p.Reference, now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: unit: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert unit: %w", err)
	}
	s.markMutated()
	return s.GetUnit(ctx, id)
}

func (s *Store) GetUnit(ctx context.Context, id string) (*domain.GenerationUnit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+unitCols+` FROM generation_units WHERE id=?`, id)
	return scanUnit(row)
}

func (s *Store) UpdateUnit(ctx context.Context, id string, upd UnitUpdate) (*domain.GenerationUnit, error) {
	cur, err := s.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: unit %s", domain.ErrNotFound, id)
	}
	input, cx, res, req := cur.InputText, cur.Complexity, cur.Resolution, cur.DesignRequest
	ref := cur.Reference
	if upd.InputText != nil {
		input = *upd.InputText
	}
	if upd.Complexity != nil {
		cx = *upd.Complexity
	}
	if upd.Resolution != nil {
		res = *upd.Resolution
	}
	if upd.DesignRequest != nil {
		req = *upd.DesignRequest
	}
	if upd.Reference != nil {
		ref = upd.Reference
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE generation_units SET input_text=?, complexity=?, resolution=?, design_request=?, reference_blob=?, updated_at=? WHERE id=?`,
		input, cx, res, req, ref, domain.NowMillis(), id)
	if err != nil {
		return nil, fmt.Errorf("update unit: %w", err)
	}
	s.markMutated()
	return s.GetUnit(ctx, id)
}

// DeleteUnit removes the unit and cascades to its artifacts and messages.
func (s *Store) DeleteUnit(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "generation_units", id)
	return err
}

// ListUnits returns a workspace's generation units, recently touched first.
func (s *Store) ListUnits(ctx context.Context, workspaceID string) ([]*domain.GenerationUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitCols+` FROM generation_units WHERE workspace_id=? ORDER BY updated_at DESC, id ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()
	var out []*domain.GenerationUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUnits is the first of the two dependent reads behind workspace
// statistics; the store exposes no cross-table join primitive.
func (s *Store) CountUnits(ctx context.Context, workspaceID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM generation_units WHERE workspace_id=?`, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count units: %w", err)
	}
	return n, nil
}

// UnitIDs returns the unit ids of a workspace for dependent child scans.
func (s *Store) UnitIDs(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM generation_units WHERE workspace_id=?`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("unit ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanUnit(r rowScanner) (*domain.GenerationUnit, error) {
	var u domain.GenerationUnit
	err := r.Scan(&u.ID, &u.WorkspaceID, &u.CreatorID, &u.InputText, &u.Complexity, &u.Resolution, &u.DesignRequest, &u.Reference, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan unit: %w", err)
	}
	return &u, nil
}
