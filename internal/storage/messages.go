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

type MessageParams struct {
	UnitID     string
	ArtifactID string
	Role       domain.MessageRole
	Content    string
	Metadata   map[string]any
}

type MessageUpdate struct {
	Content  *string
	Metadata map[string]any
}

const messageCols = `id, unit_id, artifact_id, role, content, metadata, created_at, updated_at`

func (s *Store) CreateMessage(ctx context.Context, p MessageParams) (*domain.Message, error) {
	if p.Role != domain.RoleAuthor && p.Role != domain.RoleAssistant {
		return nil, fmt.Errorf("%w: unknown message role %q", domain.ErrValidation, p.Role)
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("%w: message content is required", domain.ErrValidation)
	}
	if err := s.requireParent(ctx, "generation_units", p.UnitID); err != nil {
		return nil, err
	}
	if p.ArtifactID != "" {
		a, err := s.GetArtifact(ctx, p.ArtifactID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("%w: artifact %s does not exist", domain.ErrValidation, p.ArtifactID)
		}
		if a.UnitID != p.UnitID {
			return nil, fmt.Errorf("%w: artifact belongs to another unit", domain.ErrValidation)
		}
	}
	metadata, err := encodeMap(p.Metadata)
	if err != nil {
		return nil, err
	}
	id := domain.NewID()
	now := domain.NowMillis()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, unit_id, artifact_id, role, content, metadata, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		id, p.UnitID, nullable(p.ArtifactID), string(p.Role), p.Content, metadata, now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: message: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	s.markMutated()
	return s.GetMessage(ctx, id)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id=?`, id)
	return scanMessage(row)
}

func (s *Store) UpdateMessage(ctx context.Context, id string, upd MessageUpdate) (*domain.Message, error) {
	cur, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
	}
	content := cur.Content
	if upd.Content != nil {
		content = *upd.Content
	}
	metadata, err := encodeMap(cur.Metadata)
	if err != nil {
		return nil, err
	}
	if upd.Metadata != nil {
		metadata, err = mergeMap(metadata, upd.Metadata)
		if err != nil {
			return nil, err
		}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET content=?, metadata=?, updated_at=? WHERE id=?`,
		content, metadata, domain.NowMillis(), id)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	s.markMutated()
	return s.GetMessage(ctx, id)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "messages", id)
	return err
}

// ListMessages returns a unit's conversation in chronological replay order.
func (s *Store) ListMessages(ctx context.Context, unitID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE unit_id=? ORDER BY created_at ASC, id ASC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(r rowScanner) (*domain.Message, error) {
	var m domain.Message
	var role, metadata string
	var artifact sql.NullString
	err := r.Scan(&m.ID, &m.UnitID, &artifact, &role, &m.Content, &metadata, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Role = domain.MessageRole(role)
	m.ArtifactID = artifact.String
	m.Metadata = decodeMap(metadata)
	return &m, nil
}
