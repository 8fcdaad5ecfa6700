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

// Package scope models OAuth2/OIDC scopes and the permissions they grant
// when accepted by a client.
package scope

import (
	"context"
	"errors"
)

// Domain errors
var (
	ErrScopeNotFound = errors.New("scope not found")
)

// Scope represents an OAuth2/OIDC scope that can be requested by a client.
//
// Purpose: Named grant of access, optionally carrying a set of RBAC
// permissions that become active for the session when the scope is granted.
// Domain: Authz
// Invariants: Name must be unique and is the literal string sent on the
// wire (e.g. "openid", "profile"). An inactive scope contributes no
// permissions during resolution.
type Scope struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
}

// Repository defines the interface for scope persistence and the
// scope-to-permission join table.
//
// Purpose: Abstraction for managing scope definitions and their mapped
// permissions.
// Domain: Authz
type Repository interface {
	GetByName(ctx context.Context, name string) (*Scope, error)
	List(ctx context.Context) ([]*Scope, error)
	Create(ctx context.Context, s *Scope) error
	Update(ctx context.Context, s *Scope) error

	// PermissionsForNames returns the union of permission names mapped to
	// the given active scope names via scope_permissions.
	PermissionsForNames(ctx context.Context, names []string) ([]string, error)

	// SetPermissions replaces the full set of permissions mapped to a scope.
	SetPermissions(ctx context.Context, scopeID string, permissions []string) error
}
