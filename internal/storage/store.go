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
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"genstudio/internal/domain"
	applog "genstudio/internal/log"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

// sqliteMagic is the first 16 bytes of every SQLite database image.
var sqliteMagic = []byte("SQLite format 3\x00")

// Options controls how the store is opened.
type Options struct {
	// Path is the durable snapshot slot. Empty means memory-only: Persist
	// becomes a no-op and all data lives until Close.
	Path string

	// Preload, when set, seeds the working copy from a raw snapshot image
	// instead of the slot file. Used for migration and tests.
	Preload []byte
}

// Store holds the in-memory working database and the snapshot slot.
// Mutations are synchronous against the working copy; durability happens in
// Persist. A single connection backs the pool, so the scheduler's flush and
// the caller's mutations serialize at the database handle.
type Store struct {
	db   *sql.DB
	path string
	log  *slog.Logger

	flushMu  sync.Mutex // at most one flush in flight
	changes  atomic.Int64
	flushed  atomic.Int64 // change counter at the last successful flush
	degraded atomic.Bool

	hookMu   sync.Mutex
	onChange func()
}

// Open initializes the working copy: it opens an in-memory database, ensures
// the schema, and loads the snapshot slot (or the preloaded image) when one
// exists. Opening with a missing slot starts empty.
func Open(ctx context.Context, opts Options) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open").With(
		slog.String("slot", opts.Path),
	)
	// A named shared-cache memory database keeps its content alive for the
	// lifetime of the (single) pooled connection.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", domain.NewID())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		l.Error("enable foreign_keys failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}

	s := &Store{db: db, path: opts.Path, log: applog.WithComponent("storage")}
	// -1 lets the first Persist write the slot even for an untouched store.
	s.flushed.Store(-1)

	switch {
	case opts.Preload != nil:
		if err := s.loadImage(ctx, opts.Preload); err != nil {
			_ = db.Close()
			return nil, err
		}
		l.Info("working copy preloaded", slog.Int("bytes", len(opts.Preload)))
	case opts.Path != "":
		if _, statErr := os.Stat(opts.Path); statErr == nil {
			if err := s.loadFromFile(ctx, opts.Path); err != nil {
				_ = db.Close()
				l.Error("load snapshot failed", slog.Any("err", err))
				return nil, err
			}
			l.Info("snapshot loaded")
		} else {
			l.Info("no snapshot, starting empty")
		}
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetOnChange registers the flush-request hook pinged after every successful
// mutation. Wire it before handing the store to concurrent callers.
func (s *Store) SetOnChange(fn func()) {
	s.hookMu.Lock()
	s.onChange = fn
	s.hookMu.Unlock()
}

// Changes returns the mutation counter. The scheduler compares it against the
// value recorded at the last successful flush to skip flushes of an untouched
// store.
func (s *Store) Changes() int64 { return s.changes.Load() }

// Path returns the snapshot slot path.
func (s *Store) Path() string { return s.path }

// Degraded reports whether the last flush failed and the store is running
// memory-only until a flush succeeds again.
func (s *Store) Degraded() bool { return s.degraded.Load() }

// markMutated bumps the change counter and requests a flush.
func (s *Store) markMutated() {
	s.changes.Add(1)
	s.notifyHook()
}

func (s *Store) notifyHook() {
	s.hookMu.Lock()
	fn := s.onChange
	s.hookMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Persist serializes the full working copy into the slot file, replacing the
// prior durable content. On failure the working copy stays authoritative and
// the store degrades to memory-only; the caller decides whether to warn or
// fail.
func (s *Store) Persist(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	cur := s.changes.Load()
	if cur == s.flushed.Load() {
		// Unchanged since the last successful flush. Also keeps a reset
		// store from writing an empty snapshot back over the removed slot.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.degraded.Store(true)
		return fmt.Errorf("%w: create snapshot dir: %v", domain.ErrPersistence, err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d-%d", s.path, os.Getpid(), rand.Int())
	_ = os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		_ = os.Remove(tmp)
		s.degraded.Store(true)
		return fmt.Errorf("%w: vacuum into: %v", domain.ErrPersistence, err)
	}
	// On Windows, rename does not replace; remove the destination first.
	if _, err := os.Stat(s.path); err == nil {
		_ = os.Remove(s.path)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		s.degraded.Store(true)
		return fmt.Errorf("%w: replace snapshot: %v", domain.ErrPersistence, err)
	}
	s.degraded.Store(false)
	s.flushed.Store(cur)
	return nil
}

// Export returns the raw snapshot bytes of the current working copy for
// external backup or migration.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("genstudio-export-%d-%d.sqlite", os.Getpid(), rand.Int()))
	_ = os.Remove(tmp)
	defer os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return nil, fmt.Errorf("%w: export vacuum: %v", domain.ErrPersistence, err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: read export: %v", domain.ErrPersistence, err)
	}
	return data, nil
}

// Import replaces the entire working copy with the given snapshot image and
// flushes immediately. Invalid bytes fail with ErrImport and leave the
// working copy untouched.
func (s *Store) Import(ctx context.Context, blob []byte) error {
	if err := s.loadImage(ctx, blob); err != nil {
		return err
	}
	s.markMutated()
	if err := s.Persist(ctx); err != nil {
		s.log.Warn("flush after import failed", slog.Any("err", err))
	}
	return nil
}

// Reset discards the working copy and the durable slot. Bootstrap and test
// use only.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	if err := wipeEntities(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	if s.path != "" {
		_ = os.Remove(s.path)
	}
	// The reset state is already durable (the slot is gone). Align the flush
	// baseline before pinging the hook, so the flush it requests no-ops
	// instead of recreating the slot.
	s.flushed.Store(s.changes.Add(1))
	s.notifyHook()
	return nil
}

// Close flushes best-effort and releases the database. The working copy is
// gone afterwards; only the slot survives.
func (s *Store) Close(ctx context.Context) error {
	if err := s.Persist(ctx); err != nil {
		s.log.Warn("flush on close failed", slog.Any("err", err))
	}
	return s.db.Close()
}

// loadImage validates a snapshot image and replaces the working copy from it.
func (s *Store) loadImage(ctx context.Context, blob []byte) error {
	if len(blob) < len(sqliteMagic) || !bytes.HasPrefix(blob, sqliteMagic) {
		return fmt.Errorf("%w: not a snapshot image", domain.ErrImport)
	}
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("genstudio-import-%d-%d.sqlite", os.Getpid(), rand.Int()))
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("%w: stage import: %v", domain.ErrImport, err)
	}
	defer os.Remove(tmp)
	if err := probeImage(ctx, tmp); err != nil {
		return err
	}
	if err := s.loadFromFile(ctx, tmp); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrImport, err)
	}
	return nil
}

// probeImage opens the staged file on its own connection and checks it reads
// as a database, before the working copy is touched.
func probeImage(ctx context.Context, path string) error {
	probe, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", filepath.ToSlash(path)))
	if err != nil {
		return fmt.Errorf("%w: open image: %v", domain.ErrImport, err)
	}
	defer probe.Close()
	var n int
	if err := probe.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: unreadable image: %v", domain.ErrImport, err)
	}
	return nil
}

// loadFromFile wipes the entity tables and copies rows from the given
// database file in one transaction. Columns are intersected by name, so a
// snapshot written by an older schema loads cleanly under a newer one.
func (s *Store) loadFromFile(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `ATTACH DATABASE ? AS src`, path); err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	defer func() {
		if _, err := s.db.ExecContext(ctx, `DETACH DATABASE src`); err != nil {
			s.log.Warn("detach snapshot failed", slog.Any("err", err))
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("load begin: %w", err)
	}
	// Parent rows copy before children, but artifact parent pointers may
	// reference rows that arrive later in the same table; defer enforcement
	// to commit.
	if _, err := tx.ExecContext(ctx, `PRAGMA defer_foreign_keys=ON;`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("defer foreign keys: %w", err)
	}
	if err := wipeEntities(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, t := range entityTables {
		ok, err := srcHasTable(ctx, tx, t)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if !ok {
			continue
		}
		cols, err := sharedColumns(ctx, tx, t)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if len(cols) == 0 {
			continue
		}
		list := strings.Join(cols, ", ")
		q := fmt.Sprintf(`INSERT INTO main.%s (%s) SELECT %s FROM src.%s`, t, list, list, t)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("copy %s: %w", t, err)
		}
	}
	// Adopt the snapshot's schema version when older, so migrations replay.
	var srcSchema int
	if err := tx.QueryRowContext(ctx, `SELECT schema FROM src.version WHERE id=1`).Scan(&srcSchema); err == nil && srcSchema < schemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=? WHERE id=1`, srcSchema); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("adopt schema version: %w", err)
		}
	}
	// With enforcement deferred, dangling references would otherwise surface
	// only at COMMIT, whose failure leaves the transaction open on the single
	// pooled connection. Check explicitly and roll back instead, restoring
	// the pre-load working copy.
	var fkTable, fkParent string
	var fkRow, fkIndex sql.NullInt64
	err = tx.QueryRowContext(ctx, `PRAGMA foreign_key_check`).Scan(&fkTable, &fkRow, &fkParent, &fkIndex)
	switch {
	case err == nil:
		_ = tx.Rollback()
		return fmt.Errorf("foreign key check: %s row references missing %s", fkTable, fkParent)
	case !errors.Is(err, sql.ErrNoRows):
		_ = tx.Rollback()
		return fmt.Errorf("foreign key check: %w", err)
	}
	if err := tx.Commit(); err != nil {
		// A COMMIT that fails keeps the transaction open; clear it so the
		// detach and later flushes can run.
		if _, rbErr := s.db.ExecContext(ctx, `ROLLBACK`); rbErr != nil {
			s.log.Warn("rollback after failed load commit", slog.Any("err", rbErr))
		}
		return fmt.Errorf("load commit: %w", err)
	}
	return nil
}

// wipeEntities deletes all entity rows, children before parents.
func wipeEntities(ctx context.Context, tx *sql.Tx) error {
	for i := len(entityTables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+entityTables[i]); err != nil {
			return fmt.Errorf("wipe %s: %w", entityTables[i], err)
		}
	}
	return nil
}

func srcHasTable(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM src.sqlite_master WHERE type='table' AND name=?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("probe src table %s: %w", name, err)
	}
	return n > 0, nil
}

// sharedColumns returns the column names present in both main and src copies
// of a table, in main order.
func sharedColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	mainCols, err := tableColumns(ctx, tx, "main", table)
	if err != nil {
		return nil, err
	}
	srcCols, err := tableColumns(ctx, tx, "src", table)
	if err != nil {
		return nil, err
	}
	in := make(map[string]bool, len(srcCols))
	for _, c := range srcCols {
		in[c] = true
	}
	var out []string
	for _, c := range mainCols {
		if in[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, schema, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA %s.table_info(%s)`, schema, table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s.%s: %w", schema, table, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
