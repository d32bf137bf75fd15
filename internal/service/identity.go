/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package service provides the domain façades over the entity store:
// identity lifecycle, workspace management, and the generation-unit/artifact
// surface with lineage walks and usage statistics.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"genstudio/internal/domain"
	"genstudio/internal/storage"
)

// IdentityService owns the single "current identity" pointer. The pointer is
// instance state owned by the composition root, not module-level state, and
// switching it never touches stored rows.
type IdentityService struct {
	store *storage.Store

	mu        sync.Mutex
	currentID string
}

func NewIdentityService(store *storage.Store) *IdentityService {
	return &IdentityService{store: store}
}

// Bootstrap resolves the startup identity triple: it reuses the stored row
// when the id already exists, creates it otherwise, and makes it current.
func (s *IdentityService) Bootstrap(ctx context.Context, id, name, contact string) (*domain.Identity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: bootstrap identity id is required", domain.ErrValidation)
	}
	it, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		it, err = s.store.CreateIdentity(ctx, storage.IdentityParams{ID: id, Name: name, Contact: contact})
		if err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.currentID = it.ID
	s.mu.Unlock()
	return it, nil
}

// Current returns the current identity. Reading it before bootstrap fails
// ErrNotInitialized.
func (s *IdentityService) Current(ctx context.Context) (*domain.Identity, error) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("%w: no current identity", domain.ErrNotInitialized)
	}
	it, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, fmt.Errorf("%w: current identity %s is gone", domain.ErrNotInitialized, id)
	}
	return it, nil
}

// CurrentID returns the current identity id without hitting the store.
func (s *IdentityService) CurrentID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == "" {
		return "", fmt.Errorf("%w: no current identity", domain.ErrNotInitialized)
	}
	return s.currentID, nil
}

// Switch swaps the pointer to another stored identity.
func (s *IdentityService) Switch(ctx context.Context, id string) error {
	it, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return err
	}
	if it == nil {
		return fmt.Errorf("%w: identity %s", domain.ErrNotFound, id)
	}
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
	return nil
}

// UpdateSettings merges the given keys into the current identity's settings.
func (s *IdentityService) UpdateSettings(ctx context.Context, settings map[string]any) (*domain.Identity, error) {
	id, err := s.CurrentID()
	if err != nil {
		return nil, err
	}
	return s.store.UpdateIdentity(ctx, id, storage.IdentityUpdate{Settings: settings})
}
