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

// IdentityParams carries the required fields of a new identity. An explicit
// ID (e.g. from the bootstrap triple) is honored; otherwise one is assigned.
type IdentityParams struct {
	ID       string
	Name     string
	Contact  string
	Settings map[string]any
}

// IdentityUpdate is a partial field set; nil pointers leave the stored value
// untouched. Settings merge key-wise.
type IdentityUpdate struct {
	Name     *string
	Contact  *string
	Settings map[string]any
}

const identityCols = `id, name, contact, settings, created_at, updated_at`

// CreateIdentity validates, assigns id and both timestamps atomically, and
// returns the materialized row.
func (s *Store) CreateIdentity(ctx context.Context, p IdentityParams) (*domain.Identity, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: identity name is required", domain.ErrValidation)
	}
	if strings.TrimSpace(p.Contact) == "" {
		return nil, fmt.Errorf("%w: identity contact is required", domain.ErrValidation)
	}
	settings, err := encodeMap(p.Settings)
	if err != nil {
		return nil, err
	}
	id := p.ID
	if strings.TrimSpace(id) == "" {
		id = domain.NewID()
	}
	now := domain.NowMillis()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (id, name, contact, settings, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		id, p.Name, p.Contact, settings, now, now)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: identity: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	s.markMutated()
	return s.GetIdentity(ctx, id)
}

// GetIdentity returns the identity or nil when the id does not resolve.
func (s *Store) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityCols+` FROM identities WHERE id=?`, id)
	return scanIdentity(row)
}

// UpdateIdentity applies a partial update, refreshing the modification
// timestamp. Unknown ids fail ErrNotFound.
func (s *Store) UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate) (*domain.Identity, error) {
	cur, err := s.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: identity %s", domain.ErrNotFound, id)
	}
	name, contact := cur.Name, cur.Contact
	if upd.Name != nil {
		name = *upd.Name
	}
	if upd.Contact != nil {
		contact = *upd.Contact
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
		`UPDATE identities SET name=?, contact=?, settings=?, updated_at=? WHERE id=?`,
		name, contact, settings, domain.NowMillis(), id)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: identity: %v", domain.ErrValidation, err)
		}
		return nil, fmt.Errorf("update identity: %w", err)
	}
	s.markMutated()
	return s.GetIdentity(ctx, id)
}

// DeleteIdentity removes the identity and, via cascade, all its workspaces
// and their descendants. Missing ids are a no-op.
func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	_, err := s.deleteByID(ctx, "identities", id)
	return err
}

// ListIdentities returns all identities, most recently touched first.
func (s *Store) ListIdentities(ctx context.Context) ([]*domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityCols+` FROM identities ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()
	var out []*domain.Identity
	for rows.Next() {
		it, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanIdentity(r rowScanner) (*domain.Identity, error) {
	var it domain.Identity
	var settings string
	err := r.Scan(&it.ID, &it.Name, &it.Contact, &settings, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	it.Settings = decodeMap(settings)
	return &it, nil
}
