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

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/opentrusty-core/scope"
)

// ScopeRepository implements scope.Repository
type ScopeRepository struct {
	db *DB
}

// NewScopeRepository creates a new scope repository
func NewScopeRepository(db *DB) *ScopeRepository {
	return &ScopeRepository{db: db}
}

func scanScope(row interface{ Scan(dest ...any) error }) (*scope.Scope, error) {
	var s scope.Scope
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.IsActive); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByName retrieves a scope by its wire name
func (r *ScopeRepository) GetByName(ctx context.Context, name string) (*scope.Scope, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), is_active
		FROM scopes
		WHERE name = $1
	`, name)

	s, err := scanScope(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, scope.ErrScopeNotFound
		}
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return s, nil
}

// List retrieves all scopes
func (r *ScopeRepository) List(ctx context.Context) ([]*scope.Scope, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), is_active
		FROM scopes
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []*scope.Scope
	for rows.Next() {
		s, err := scanScope(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

// Create creates a new scope
func (r *ScopeRepository) Create(ctx context.Context, s *scope.Scope) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO scopes (id, name, description, is_active)
		VALUES ($1, $2, $3, $4)
	`, s.ID, s.Name, s.Description, s.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert scope: %w", err)
	}
	return nil
}

// Update updates scope information
func (r *ScopeRepository) Update(ctx context.Context, s *scope.Scope) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE scopes SET description = $2, is_active = $3
		WHERE id = $1
	`, s.ID, s.Description, s.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update scope: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scope.ErrScopeNotFound
	}
	return nil
}

// PermissionsForNames returns the union of permission names mapped to the
// given active scope names via scope_permissions.
func (r *ScopeRepository) PermissionsForNames(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT sp.permission
		FROM scope_permissions sp
		JOIN scopes s ON s.id = sp.scope_id
		WHERE s.name = ANY($1) AND s.is_active
	`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scope permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan scope permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// SetPermissions replaces the full set of permissions mapped to a scope.
func (r *ScopeRepository) SetPermissions(ctx context.Context, scopeID string, permissions []string) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM scope_permissions WHERE scope_id = $1`, scopeID); err != nil {
		return fmt.Errorf("failed to clear scope permissions: %w", err)
	}

	for _, p := range permissions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO scope_permissions (scope_id, permission)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, scopeID, p); err != nil {
			return fmt.Errorf("failed to insert scope permission %s: %w", p, err)
		}
	}

	return tx.Commit(ctx)
}
