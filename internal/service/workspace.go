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

	"genstudio/internal/domain"
	"genstudio/internal/storage"
)

// WorkspaceService manages workspaces under the current identity.
type WorkspaceService struct {
	store      *storage.Store
	identities *IdentityService
}

func NewWorkspaceService(store *storage.Store, identities *IdentityService) *WorkspaceService {
	return &WorkspaceService{store: store, identities: identities}
}

// Create opens a new workspace owned by the current identity.
func (s *WorkspaceService) Create(ctx context.Context, name, description string, settings map[string]any) (*domain.Workspace, error) {
	owner, err := s.identities.CurrentID()
	if err != nil {
		return nil, err
	}
	return s.store.CreateWorkspace(ctx, storage.WorkspaceParams{
		IdentityID:  owner,
		Name:        name,
		Description: description,
		Settings:    settings,
	})
}

func (s *WorkspaceService) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	return s.store.GetWorkspace(ctx, id)
}

func (s *WorkspaceService) Update(ctx context.Context, id string, upd storage.WorkspaceUpdate) (*domain.Workspace, error) {
	return s.store.UpdateWorkspace(ctx, id, upd)
}

func (s *WorkspaceService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteWorkspace(ctx, id)
}

// List returns the current identity's workspaces, recently touched first.
func (s *WorkspaceService) List(ctx context.Context) ([]*domain.Workspace, error) {
	owner, err := s.identities.CurrentID()
	if err != nil {
		return nil, err
	}
	return s.store.ListWorkspaces(ctx, owner)
}

// Stats sums entity counts under a workspace via dependent reads (a unit
// count, then one artifact scan across the unit ids); the entity store
// exposes no cross-table join primitive.
func (s *WorkspaceService) Stats(ctx context.Context, workspaceID string) (domain.WorkspaceStats, error) {
	units, err := s.store.CountUnits(ctx, workspaceID)
	if err != nil {
		return domain.WorkspaceStats{}, err
	}
	unitIDs, err := s.store.UnitIDs(ctx, workspaceID)
	if err != nil {
		return domain.WorkspaceStats{}, err
	}
	artifacts, err := s.store.CountArtifactsForUnits(ctx, unitIDs)
	if err != nil {
		return domain.WorkspaceStats{}, err
	}
	return domain.WorkspaceStats{
		UnitCount:     units,
		ArtifactCount: artifacts,
	}, nil
}
