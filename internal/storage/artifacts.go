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

type ArtifactParams struct {
	UnitID       string
	Content      []byte
	Prompt       string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Kind         domain.ArtifactKind
	ParentID     string
}

type ArtifactUpdate struct {
	Content      []byte
	Prompt       *string
	InputTokens  *int64
	OutputTokens *int64
	Cost         *float64
}

const artifactCols = `id, unit_id, content, prompt, input_tokens, output_tokens, cost, kind, parent_id, created_at, updated_at`

// CreateArtifact inserts one produced artifact. Refinements must name an
// existing parent in the same unit; initial artifacts must not name one. A
// parent that must already exist structurally forbids cycles in the
// refinement forest.
func (s *Store) CreateArtifact(ctx context.Context, p ArtifactParams) (*domain.Artifact, error) {
	if p.Content == nil {
		return nil, fmt.Errorf("%w: artifact content is required", domain.ErrValidation)
	}
	if err := s.requireParent(ctx, "generation_units", p.UnitID); err != nil {
		return nil, err
	}
	switch p.Kind {
	case domain.ArtifactInitial:
		if p.ParentID != "" {
			return nil, fmt.Errorf("%w: initial artifact cannot carry a parent", domain.ErrValidation)
		}
	case domain.ArtifactRefinement:
		if strings.TrimSpace(p.ParentID) == "" {
			return nil, fmt.Errorf("%w: refinement requires a parent artifact", domain.ErrValidation)
		}
		parent, err := s.GetArtifact(ctx, p.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: parent artifact %s does not exist", domain.ErrValidation, p.ParentID)
		}
		if parent.UnitID != p.UnitID {
			return nil, fmt.Errorf("%w: parent artifact belongs to another unit", domain.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown artifact kind %q", domain.ErrValidation, p.Kind)
	}
	id := domain.NewID()
	now := domain.NowMillis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, unit_id, content, prompt, input_tokens, output_tokens, cost, kind, parent_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		id, p.UnitID, p.Content, p.Prompt, p.InputTokens, p.OutputTokens, p.Cost, string(p.Kind), nullable(p.ParentID), now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: artifact: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	s.markMutated()
	return s.GetArtifact(ctx, id)
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactCols+` FROM artifacts WHERE id=?`, id)
	return scanArtifact(row)
}

// UpdateArtifact touches content, prompt, and usage fields only; kind and
// parent are immutable after creation.
func (s *Store) UpdateArtifact(ctx context.Context, id string, upd ArtifactUpdate) (*domain.Artifact, error) {
	cur, err := s.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, id)
	}
	content, prompt := cur.Content, cur.Prompt
	in, out, cost := cur.InputTokens, cur.OutputTokens, cur.Cost
	if upd.Content != nil {
		content = upd.Content
	}
	if upd.Prompt != nil {
		prompt = *upd.Prompt
	}
	if upd.InputTokens != nil {
		in = *upd.InputTokens
	}
	if upd.OutputTokens != nil {
		out = *upd.OutputTokens
	}
	if upd.Cost != nil {
		cost = *upd.Cost
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE artifacts SET content=?, prompt=?, input_tokens=?, output_tokens=?, cost=?, updated_at=? WHERE id=?`,
		content, prompt, in, out, cost, domain.NowMillis(), id)
	if err != nil {
		return nil, fmt.Errorf("update artifact: %w", err)
	}
	s.markMutated()
	return s.GetArtifact(ctx, id)
}

// DeleteArtifact removes the artifact. Children keep their rows with the
// parent reference cleared; messages referencing it are nulled; pages placed
// from it are removed. All of that is native foreign key actions.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "artifacts", id)
	return err
}

// ListArtifacts returns a unit's artifacts in chronological replay order.
func (s *Store) ListArtifacts(ctx context.Context, unitID string) ([]*domain.Artifact, error) {
	return s.queryArtifacts(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE unit_id=? ORDER BY created_at ASC, id ASC`, unitID)
}

// ListArtifactsByParent returns the direct refinements of an artifact, one
// level only, no materialized subtree.
func (s *Store) ListArtifactsByParent(ctx context.Context, parentID string) ([]*domain.Artifact, error) {
	return s.queryArtifacts(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE parent_id=? ORDER BY created_at ASC, id ASC`, parentID)
}

// CountArtifacts scans the unit's artifact collection. Derived on demand, so
// it cannot drift the way a stored counter can.
func (s *Store) CountArtifacts(ctx context.Context, unitID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM artifacts WHERE unit_id=?`, unitID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

// CountArtifactsForUnits is the second dependent read of workspace stats.
func (s *Store) CountArtifactsForUnits(ctx context.Context, unitIDs []string) (int64, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(unitIDs))
	marks := make([]string, len(unitIDs))
	for i, id := range unitIDs {
		args[i] = id
		marks[i] = "?"
	}
	q := `SELECT count(*) FROM artifacts WHERE unit_id IN (` + strings.Join(marks, ",") + `)`
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts for units: %w", err)
	}
	return n, nil
}

// UnitUsage sums token usage and cost across a unit's artifacts. Total tokens
// are derived from input plus output and never stored independently.
func (s *Store) UnitUsage(ctx context.Context, unitID string) (domain.UsageStats, error) {
	var st domain.UsageStats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COALESCE(SUM(cost),0)
		 FROM artifacts WHERE unit_id=?`, unitID).
		Scan(&st.ArtifactCount, &st.InputTokens, &st.OutputTokens, &st.Cost)
	if err != nil {
		return domain.UsageStats{}, fmt.Errorf("unit usage: %w", err)
	}
	st.TotalTokens = st.InputTokens + st.OutputTokens
	return st, nil
}

func (s *Store) queryArtifacts(ctx context.Context, q string, args ...any) ([]*domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []*domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(r rowScanner) (*domain.Artifact, error) {
	var a domain.Artifact
	var kind string
	var parent sql.NullString
	err := r.Scan(&a.ID, &a.UnitID, &a.Content, &a.Prompt, &a.InputTokens, &a.OutputTokens, &a.Cost, &kind, &parent, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	a.Kind = domain.ArtifactKind(kind)
	a.ParentID = parent.String
	return &a, nil
}
