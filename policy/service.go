// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opentrusty/opentrusty-core/role"
	"github.com/opentrusty/opentrusty-core/scope"
)

type cacheEntry struct {
	permissions EffectivePermissionSet
	expiresAt   time.Time
}

// Service resolves a user's effective permission set and answers
// single/batch allow queries against it.
//
// Purpose: Centralized permission evaluator, generalizing the teacher's
// authz.Service from "iterate assignments checking scope+context per call"
// to "resolve the full set once, then test membership".
// Domain: Authz
type Service struct {
	roleRepo       role.RoleRepository
	assignmentRepo role.AssignmentRepository
	scopeRepo      scope.Repository

	cacheMu  sync.Mutex
	cache    *lru.Cache[string, cacheEntry]
	cacheTTL time.Duration
}

// NewService creates a new permission evaluator.
//
// cache may be nil, in which case Resolve always hits the repositories.
// Passing a non-nil cache is a deployment choice, not a correctness
// requirement — the evaluator is correct-by-construction without one.
func NewService(roleRepo role.RoleRepository, assignmentRepo role.AssignmentRepository, scopeRepo scope.Repository, cache *lru.Cache[string, cacheEntry], cacheTTL time.Duration) *Service {
	return &Service{
		roleRepo:       roleRepo,
		assignmentRepo: assignmentRepo,
		scopeRepo:      scopeRepo,
		cache:          cache,
		cacheTTL:       cacheTTL,
	}
}

// Resolve returns the union of permission names reached via active
// UserRole→active Role for userId. An inactive role contributes nothing.
func (s *Service) Resolve(ctx context.Context, userID string) (EffectivePermissionSet, error) {
	if s.cache != nil {
		s.cacheMu.Lock()
		entry, ok := s.cache.Get(userID)
		s.cacheMu.Unlock()
		if ok && time.Now().Before(entry.expiresAt) {
			return entry.permissions, nil
		}
	}

	assignments, err := s.assignmentRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}

	permissions := make(EffectivePermissionSet)
	seenRoles := make(map[string]bool)
	for _, a := range assignments {
		if seenRoles[a.RoleID] {
			continue
		}
		seenRoles[a.RoleID] = true

		r, err := s.roleRepo.GetByID(ctx, a.RoleID)
		if err != nil {
			continue
		}
		if !r.IsActive {
			continue
		}
		for _, p := range r.Permissions {
			permissions[p] = struct{}{}
		}
	}

	if s.cache != nil {
		s.cacheMu.Lock()
		s.cache.Add(userID, cacheEntry{permissions: permissions, expiresAt: time.Now().Add(s.cacheTTL)})
		s.cacheMu.Unlock()
	}

	return permissions, nil
}

// Allows reports whether userId holds permission.
func (s *Service) Allows(ctx context.Context, userID, permission string) (bool, error) {
	permissions, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return permissions.Has(permission), nil
}

// AllowsBatch performs a single Resolve followed by a membership test for
// each requested permission.
func (s *Service) AllowsBatch(ctx context.Context, userID string, permissions []string) (map[string]bool, error) {
	resolved, err := s.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		result[p] = resolved.Has(p)
	}
	return result, nil
}

// PermissionsForScopes returns the union of permissions mapped to each of
// the given active scope names via the scope_permissions join table.
func (s *Service) PermissionsForScopes(ctx context.Context, scopes []string) ([]string, error) {
	return s.scopeRepo.PermissionsForNames(ctx, scopes)
}

// InvalidateUser evicts a cached resolution for userId. Callers wire this
// into every write path that touches UserRole, RolePermission, or
// Role.isActive (role assignment/revocation, role/permission activation
// toggles) so a cached Resolve never outlives the grant it answered for.
func (s *Service) InvalidateUser(userID string) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Remove(userID)
	s.cacheMu.Unlock()
}

// NewCache constructs a bounded LRU cache suitable for passing to
// NewService. size is the maximum number of distinct users cached at once.
func NewCache(size int) (*lru.Cache[string, cacheEntry], error) {
	return lru.New[string, cacheEntry](size)
}
