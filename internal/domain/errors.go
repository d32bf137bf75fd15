/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "errors"

// Error taxonomy for the persistence core. Callers match with errors.Is.
//
// Reads of a missing row do not error at all: lookups return a nil row
// instead. Deletes of a missing row are idempotent no-ops. Everything else
// surfaces one of these.
var (
	// ErrNotInitialized is returned when the current identity (or the store
	// itself) is read before bootstrap.
	ErrNotInitialized = errors.New("not initialized")

	// ErrNotFound is returned by updates whose target id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when required fields are missing or a
	// referenced parent does not exist.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence is returned when flushing the working copy to durable
	// storage fails. The in-memory mutation that triggered the flush is
	// never rolled back.
	ErrPersistence = errors.New("persistence failed")

	// ErrImport is returned when an imported snapshot blob cannot be read.
	// The prior working copy stays untouched.
	ErrImport = errors.New("import failed")
)
