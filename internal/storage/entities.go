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
	"encoding/json"
	"fmt"
	"strings"

	"genstudio/internal/domain"
)

// Shared row helpers for the entity CRUD files. Settings/metadata maps are
// stored as JSON text; partial updates merge keys instead of replacing the
// whole map.

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: encode map: %v", domain.ErrValidation, err)
	}
	return string(b), nil
}

func decodeMap(s string) map[string]any {
	m := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return m
	}
	// Rows are only written by encodeMap; a decode failure means hand-edited
	// data, treated as empty rather than failing the read.
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

// mergeMap overlays upd onto the JSON map stored in existing and re-encodes.
func mergeMap(existing string, upd map[string]any) (string, error) {
	m := decodeMap(existing)
	for k, v := range upd {
		m[k] = v
	}
	return encodeMap(m)
}

// nullable maps the empty string to NULL for optional reference columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowExists reports whether an id resolves in the given table. The table name
// always comes from a compile-time constant.
func (s *Store) rowExists(ctx context.Context, table, id string) (bool, error) {
	var n int
	q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE id=?`, table)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return false, fmt.Errorf("probe %s: %w", table, err)
	}
	return n > 0, nil
}

// requireParent fails ErrValidation when the referenced parent row is absent,
// so no dangling reference is ever created. The native foreign keys remain as
// a backstop.
func (s *Store) requireParent(ctx context.Context, table, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", domain.ErrValidation, table)
	}
	ok, err := s.rowExists(ctx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s does not exist", domain.ErrValidation, table, id)
	}
	return nil
}

// deleteByID removes one row and reports whether it existed. A missing id is
// an idempotent no-op, not an error.
func (s *Store) deleteByID(ctx context.Context, table, id string) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id=?`, table)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.markMutated()
	}
	return n > 0, nil
}

// isConstraintErr detects SQLite constraint violations (UNIQUE, CHECK,
// FOREIGN KEY) for mapping onto the validation error kind.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}
