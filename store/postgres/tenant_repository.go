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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/opentrusty-core/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.Name, t.Status, t.CreatedAt, t.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func scanTenant(row interface{ Scan(dest ...any) error }) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

const tenantColumns = `id, name, status, created_at, updated_at`

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	t, err := scanTenant(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetByName retrieves a tenant by name
func (r *TenantRepository) GetByName(ctx context.Context, name string) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE name = $1 AND deleted_at IS NULL
	`, name)

	t, err := scanTenant(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by name: %w", err)
	}
	return t, nil
}

// Update updates tenant information
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants SET name = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, t.ID, t.Name, t.Status)

	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// Delete soft-deletes a tenant
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now())

	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// List retrieves tenants with pagination
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)

	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

// MembershipRepository implements tenant.MembershipRepository
type MembershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// AddMember links a user to a tenant, a no-op if already a member.
func (r *MembershipRepository) AddMember(ctx context.Context, m *tenant.Membership) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenant_members (id, tenant_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`, m.ID, m.TenantID, m.UserID, m.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to add tenant member: %w", err)
	}
	return nil
}

// RemoveMember unlinks a user from a tenant
func (r *MembershipRepository) RemoveMember(ctx context.Context, tenantID, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)

	if err != nil {
		return fmt.Errorf("failed to remove tenant member: %w", err)
	}
	return nil
}

// ListMembers retrieves every membership in a tenant
func (r *MembershipRepository) ListMembers(ctx context.Context, tenantID string) ([]*tenant.Membership, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, user_id, created_at
		FROM tenant_members
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`, tenantID)

	if err != nil {
		return nil, fmt.Errorf("failed to list tenant members: %w", err)
	}
	defer rows.Close()

	var members []*tenant.Membership
	for rows.Next() {
		var m tenant.Membership
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant member: %w", err)
		}
		members = append(members, &m)
	}
	return members, nil
}

// CheckMembership reports whether userID belongs to tenantID
func (r *MembershipRepository) CheckMembership(ctx context.Context, tenantID, userID string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tenant_members WHERE tenant_id = $1 AND user_id = $2
		)
	`, tenantID, userID).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check tenant membership: %w", err)
	}
	return exists, nil
}

// DeleteByTenantID removes every membership in a tenant
func (r *MembershipRepository) DeleteByTenantID(ctx context.Context, tenantID string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM tenant_members WHERE tenant_id = $1
	`, tenantID)

	if err != nil {
		return fmt.Errorf("failed to delete tenant memberships: %w", err)
	}
	return nil
}
