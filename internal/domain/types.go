/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the core data model of the studio: a four-level
// ownership hierarchy Identity -> Workspace -> GenerationUnit ->
// Artifact/Message, plus Compositions assembled from artifacts.
// All ids are opaque strings; all timestamps are epoch milliseconds.

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactKind distinguishes a first generation from a refinement of an
// earlier artifact. Refinements always carry a parent artifact id; initial
// artifacts never do.
type ArtifactKind string

const (
	ArtifactInitial    ArtifactKind = "initial"
	ArtifactRefinement ArtifactKind = "refinement"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleAuthor    MessageRole = "author"
	RoleAssistant MessageRole = "assistant"
)

// Identity is the root of the ownership hierarchy. Contact is unique.
type Identity struct {
	ID        string
	Name      string
	Contact   string
	Settings  map[string]any
	CreatedAt int64
	UpdatedAt int64
}

// Workspace groups generation work under one identity.
type Workspace struct {
	ID          string
	IdentityID  string
	Name        string
	Description string
	Settings    map[string]any
	CreatedAt   int64
	UpdatedAt   int64
}

// GenerationUnit is one set of input parameters plus its artifacts and
// conversation.
type GenerationUnit struct {
	ID            string
	WorkspaceID   string
	CreatorID     string
	InputText     string
	Complexity    string
	Resolution    string
	DesignRequest string
	Reference     []byte
	CreatedAt     int64
	UpdatedAt     int64
}

// Artifact is one produced content blob with usage and cost metadata.
// ParentID is set for refinements and empty for initial artifacts.
type Artifact struct {
	ID           string
	UnitID       string
	Content      []byte
	Prompt       string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Kind         ArtifactKind
	ParentID     string
	CreatedAt    int64
	UpdatedAt    int64
}

// Message is one conversation entry inside a generation unit, optionally
// linked to the artifact it produced or discusses.
type Message struct {
	ID         string
	UnitID     string
	ArtifactID string
	Role       MessageRole
	Content    string
	Metadata   map[string]any
	CreatedAt  int64
	UpdatedAt  int64
}

// Composition is an ordered arrangement of pages inside a workspace.
type Composition struct {
	ID          string
	WorkspaceID string
	Title       string
	Notes       string
	Position    int
	CreatedAt   int64
	UpdatedAt   int64
}

// Page places one artifact inside a composition. A page is removed when its
// artifact is deleted.
type Page struct {
	ID            string
	CompositionID string
	ArtifactID    string
	Title         string
	Notes         string
	Position      int
	CreatedAt     int64
	UpdatedAt     int64
}

// UsageStats aggregates token usage and cost across the artifacts of one
// generation unit. TotalTokens is always derived from input plus output.
type UsageStats struct {
	ArtifactCount int64
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	Cost          float64
}

// WorkspaceStats aggregates entity counts under one workspace.
type WorkspaceStats struct {
	UnitCount     int64
	ArtifactCount int64
}

// NewID returns a fresh opaque entity id.
func NewID() string { return uuid.NewString() }

// NowMillis returns the current time in epoch milliseconds, the timestamp
// unit used across the store.
func NowMillis() int64 { return time.Now().UnixMilli() }
