/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package storage owns the studio's working database and its durable
// snapshot slot.
//
// The working copy is an in-memory SQLite database holding the full
// ownership hierarchy (identities, workspaces, generation units, artifacts,
// messages, compositions, pages). Mutations apply synchronously to the
// working copy and ping a change notifier; durability happens when Persist
// serializes the whole database into the single slot file via VACUUM INTO
// plus an atomic rename. Referential integrity and the cascade/null-on-delete
// rules are enforced by native SQLite foreign key actions with
// PRAGMA foreign_keys=ON.
//
// There is exactly one writer. The only cross-goroutine caller is the
// auto-persist scheduler invoking Persist, which is guarded internally.
package storage
