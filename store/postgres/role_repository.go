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
	"github.com/opentrusty/opentrusty-core/role"
)

// RoleRepository implements role.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, ro *role.Role) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rbac_roles (
			id, name, scope, description, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, ro.ID, ro.Name, string(ro.Scope), ro.Description, ro.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}

	for _, p := range ro.Permissions {
		var permID string
		err = tx.QueryRow(ctx, "SELECT id FROM rbac_permissions WHERE name = $1", p).Scan(&permID)
		if err != nil {
			if err == pgx.ErrNoRows {
				continue
			}
			return fmt.Errorf("failed to get permission ID for %s: %w", p, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO rbac_role_permissions (role_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ro.ID, permID)
		if err != nil {
			return fmt.Errorf("failed to insert role permission mapping: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const roleSelectColumns = `r.id, r.name, r.scope, COALESCE(r.description, ''), r.is_active,
	       COALESCE(array_agg(p.name) FILTER (WHERE p.name IS NOT NULL), '{}')`

func scanRole(row interface{ Scan(dest ...any) error }) (*role.Role, error) {
	var ro role.Role
	var scopeStr string

	if err := row.Scan(&ro.ID, &ro.Name, &scopeStr, &ro.Description, &ro.IsActive, &ro.Permissions); err != nil {
		return nil, err
	}
	ro.Scope = role.Scope(scopeStr)
	return &ro, nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*role.Role, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+roleSelectColumns+`
		FROM rbac_roles r
		LEFT JOIN rbac_role_permissions rp ON r.id = rp.role_id
		LEFT JOIN rbac_permissions p ON rp.permission_id = p.id AND p.is_active
		WHERE r.id = $1
		GROUP BY r.id, r.name, r.scope, r.description, r.is_active
	`, id)

	ro, err := scanRole(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, role.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return ro, nil
}

// GetByName retrieves a role by name and scope
func (r *RoleRepository) GetByName(ctx context.Context, name string, scope role.Scope) (*role.Role, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+roleSelectColumns+`
		FROM rbac_roles r
		LEFT JOIN rbac_role_permissions rp ON r.id = rp.role_id
		LEFT JOIN rbac_permissions p ON rp.permission_id = p.id AND p.is_active
		WHERE r.name = $1 AND r.scope = $2
		GROUP BY r.id, r.name, r.scope, r.description, r.is_active
	`, name, string(scope))

	ro, err := scanRole(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, role.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return ro, nil
}

// List retrieves all roles, optionally filtered by scope
func (r *RoleRepository) List(ctx context.Context, scope *role.Scope) ([]*role.Role, error) {
	query := `
		SELECT ` + roleSelectColumns + `
		FROM rbac_roles r
		LEFT JOIN rbac_role_permissions rp ON r.id = rp.role_id
		LEFT JOIN rbac_permissions p ON rp.permission_id = p.id AND p.is_active
	`
	var args []interface{}
	if scope != nil {
		query += " WHERE r.scope = $1"
		args = append(args, string(*scope))
	}
	query += " GROUP BY r.id, r.name, r.scope, r.description, r.is_active ORDER BY r.name ASC"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*role.Role
	for rows.Next() {
		ro, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, ro)
	}

	return roles, nil
}

// Update updates role information
func (r *RoleRepository) Update(ctx context.Context, ro *role.Role) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE rbac_roles SET description = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1
	`, ro.ID, ro.Description, ro.IsActive)

	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	if result.RowsAffected() == 0 {
		return role.ErrRoleNotFound
	}

	return nil
}

// Delete deletes a role
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM rbac_roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return role.ErrRoleNotFound
	}
	return nil
}
