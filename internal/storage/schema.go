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
	"time"

	"genstudio/internal/version"
)

// schemaVersion tracks the working database schema. Bump it when performing
// breaking schema changes and add migrations in runMigrations.
const schemaVersion = 1

// entityTables lists all entity tables in parent-before-child order. Snapshot
// loading copies rows in this order; wipes run over it in reverse.
var entityTables = []string{
	"identities",
	"workspaces",
	"generation_units",
	"artifacts",
	"messages",
	"compositions",
	"pages",
}

// ensureSchema creates all tables if they do not exist. Every statement is
// idempotent, so opening an older snapshot under a newer schema only adds
// structures and never drops data.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			contact    TEXT NOT NULL UNIQUE,
			settings   TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS workspaces (
			id          TEXT PRIMARY KEY,
			identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			settings    TEXT NOT NULL DEFAULT '{}',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_workspaces_identity ON workspaces(identity_id);`,

		`CREATE TABLE IF NOT EXISTS generation_units (
			id             TEXT PRIMARY KEY,
			workspace_id   TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			creator_id     TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			input_text     TEXT NOT NULL DEFAULT '',
			complexity     TEXT NOT NULL DEFAULT '',
			resolution     TEXT NOT NULL DEFAULT '',
			design_request TEXT NOT NULL DEFAULT '',
			reference_blob BLOB,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_units_workspace ON generation_units(workspace_id);`,

		`CREATE TABLE IF NOT EXISTS artifacts (
			id            TEXT PRIMARY KEY,
			unit_id       TEXT NOT NULL REFERENCES generation_units(id) ON DELETE CASCADE,
			content       BLOB NOT NULL,
			prompt        TEXT NOT NULL DEFAULT '',
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost          REAL NOT NULL DEFAULT 0,
			kind          TEXT NOT NULL CHECK(kind IN ('initial','refinement')),
			parent_id     TEXT REFERENCES artifacts(id) ON DELETE SET NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_unit ON artifacts(unit_id);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_parent ON artifacts(parent_id);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			unit_id     TEXT NOT NULL REFERENCES generation_units(id) ON DELETE CASCADE,
			artifact_id TEXT REFERENCES artifacts(id) ON DELETE SET NULL,
			role        TEXT NOT NULL CHECK(role IN ('author','assistant')),
			content     TEXT NOT NULL,
			metadata    TEXT NOT NULL DEFAULT '{}',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unit ON messages(unit_id);`,

		`CREATE TABLE IF NOT EXISTS compositions (
			id           TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			title        TEXT NOT NULL DEFAULT '',
			notes        TEXT NOT NULL DEFAULT '',
			position     INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_compositions_workspace ON compositions(workspace_id);`,

		`CREATE TABLE IF NOT EXISTS pages (
			id             TEXT PRIMARY KEY,
			composition_id TEXT NOT NULL REFERENCES compositions(id) ON DELETE CASCADE,
			artifact_id    TEXT REFERENCES artifacts(id) ON DELETE CASCADE,
			title          TEXT NOT NULL DEFAULT '',
			notes          TEXT NOT NULL DEFAULT '',
			position       INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pages_composition ON pages(composition_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pages_artifact ON pages(artifact_id);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return ensureMetaAndVersion(ctx, db)
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	// Seed or update single-row version info.
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// Update app and timestamp only; keep existing schema for migrations.
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
// Version 1 has no history yet; the switch grows with future versions.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// Do not downgrade; the DDL above is additive-only.
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		default:
			// Unknown future step; nothing to apply.
		}
		if _, err := db.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		cur = next
	}
	return nil
}
