/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package service

import (
	"context"
	"fmt"

	"genstudio/internal/domain"
	"genstudio/internal/storage"
)

// StudioService is the generation-unit/artifact façade: units, artifacts,
// conversation messages, the refinement lineage walks, and usage statistics.
type StudioService struct {
	store      *storage.Store
	identities *IdentityService
}

func NewStudioService(store *storage.Store, identities *IdentityService) *StudioService {
	return &StudioService{store: store, identities: identities}
}

// CreateUnit opens a generation unit in a workspace, created by the current
// identity.
func (s *StudioService) CreateUnit(ctx context.Context, p storage.UnitParams) (*domain.GenerationUnit, error) {
	if p.CreatorID == "" {
		creator, err := s.identities.CurrentID()
		if err != nil {
			return nil, err
		}
		p.CreatorID = creator
	}
	return s.store.CreateUnit(ctx, p)
}

func (s *StudioService) GetUnit(ctx context.Context, id string) (*domain.GenerationUnit, error) {
	return s.store.GetUnit(ctx, id)
}

func (s *StudioService) UpdateUnit(ctx context.Context, id string, upd storage.UnitUpdate) (*domain.GenerationUnit, error) {
	return s.store.UpdateUnit(ctx, id, upd)
}

func (s *StudioService) DeleteUnit(ctx context.Context, id string) error {
	return s.store.DeleteUnit(ctx, id)
}

func (s *StudioService) ListUnits(ctx context.Context, workspaceID string) ([]*domain.GenerationUnit, error) {
	return s.store.ListUnits(ctx, workspaceID)
}

// SaveArtifact records one generation result under a unit. The collaborators
// performing the actual AI call hand their output here.
func (s *StudioService) SaveArtifact(ctx context.Context, p storage.ArtifactParams) (*domain.Artifact, error) {
	return s.store.CreateArtifact(ctx, p)
}

func (s *StudioService) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	return s.store.GetArtifact(ctx, id)
}

func (s *StudioService) DeleteArtifact(ctx context.Context, id string) error {
	return s.store.DeleteArtifact(ctx, id)
}

func (s *StudioService) ListArtifacts(ctx context.Context, unitID string) ([]*domain.Artifact, error) {
	return s.store.ListArtifacts(ctx, unitID)
}

// AddMessage appends one conversation entry to a unit.
func (s *StudioService) AddMessage(ctx context.Context, p storage.MessageParams) (*domain.Message, error) {
	return s.store.CreateMessage(ctx, p)
}

func (s *StudioService) ListMessages(ctx context.Context, unitID string) ([]*domain.Message, error) {
	return s.store.ListMessages(ctx, unitID)
}

// Ancestors walks an artifact's parent references to its root and returns the
// refinement chain oldest-first, ending with the artifact itself. The walk is
// a bounded iterative loop: parents must exist before their refinements, so
// cycles are structurally impossible, but the bound still terminates the walk
// on corrupted data.
func (s *StudioService) Ancestors(ctx context.Context, artifactID string) ([]*domain.Artifact, error) {
	a, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, artifactID)
	}
	bound, err := s.store.CountArtifacts(ctx, a.UnitID)
	if err != nil {
		return nil, err
	}
	path := []*domain.Artifact{a}
	for cur := a; cur.ParentID != ""; {
		if int64(len(path)) >= bound {
			return nil, fmt.Errorf("%w: lineage of artifact %s exceeds the unit's artifact count", domain.ErrValidation, artifactID)
		}
		parent, err := s.store.GetArtifact(ctx, cur.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: lineage of artifact %s references a missing parent", domain.ErrValidation, artifactID)
		}
		path = append([]*domain.Artifact{parent}, path...)
		cur = parent
	}
	return path, nil
}

// Descendants returns the direct refinements of an artifact, a flat scan,
// one level only.
func (s *StudioService) Descendants(ctx context.Context, artifactID string) ([]*domain.Artifact, error) {
	return s.store.ListArtifactsByParent(ctx, artifactID)
}

// UsageStats sums input/output usage and cost across a unit's artifacts on
// demand.
func (s *StudioService) UsageStats(ctx context.Context, unitID string) (domain.UsageStats, error) {
	return s.store.UnitUsage(ctx, unitID)
}
