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
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/opentrusty-core/project"
)

// ProjectRepository implements project.ProjectRepository
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create creates a new project
func (r *ProjectRepository) Create(ctx context.Context, p *project.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO projects (
			id, name, description, owner_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		p.ID, p.Name, p.Description, p.OwnerID,
		p.CreatedAt, p.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*project.Project, error) {
	var p project.Project
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at, deleted_at
		FROM projects
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.OwnerID,
		&p.CreatedAt, &p.UpdatedAt, &deletedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, project.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}

	return &p, nil
}

// GetByName retrieves a project by name
func (r *ProjectRepository) GetByName(ctx context.Context, name string) (*project.Project, error) {
	var p project.Project
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at, deleted_at
		FROM projects
		WHERE name = $1 AND deleted_at IS NULL
	`, name).Scan(
		&p.ID, &p.Name, &p.Description, &p.OwnerID,
		&p.CreatedAt, &p.UpdatedAt, &deletedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, project.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}

	return &p, nil
}

// Update updates project information
func (r *ProjectRepository) Update(ctx context.Context, p *project.Project) error {
	p.UpdatedAt = time.Now()
	result, err := r.db.pool.Exec(ctx, `
		UPDATE projects SET
			name = $2,
			description = $3,
			updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`,
		p.ID, p.Name, p.Description, p.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return project.ErrProjectNotFound
	}

	return nil
}

// Delete soft-deletes a project
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE projects SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now())

	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return project.ErrProjectNotFound
	}

	return nil
}

// ListByOwner retrieves all projects owned by a user
func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*project.Project, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at, deleted_at
		FROM projects
		WHERE owner_id = $1 AND deleted_at IS NULL
	`, ownerID)

	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project

	for rows.Next() {
		var p project.Project
		var deletedAt sql.NullTime

		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.OwnerID,
			&p.CreatedAt, &p.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}

		if deletedAt.Valid {
			p.DeletedAt = &deletedAt.Time
		}

		projects = append(projects, &p)
	}

	return projects, nil
}

// ListByUser retrieves all projects a user has access to
func (r *ProjectRepository) ListByUser(ctx context.Context, userID string) ([]*project.Project, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT p.id, p.name, p.description, p.owner_id, p.created_at, p.updated_at, p.deleted_at
		FROM projects p
		INNER JOIN rbac_assignments upr ON p.id = upr.scope_context_id
		WHERE upr.user_id = $1 AND upr.scope = 'client' AND p.deleted_at IS NULL
	`, userID)
	// NOTE: In the legacy code, the join was against 'user_project_roles' (which doesn't exist now)
	// The new table is 'rbac_assignments'. The mapping seems to be scope='client' and context_id=project_id?
	// Wait, let's check the schema again.

	if err != nil {
		return nil, fmt.Errorf("failed to list user projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project

	for rows.Next() {
		var p project.Project
		var deletedAt sql.NullTime

		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.OwnerID,
			&p.CreatedAt, &p.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}

		if deletedAt.Valid {
			p.DeletedAt = &deletedAt.Time
		}

		projects = append(projects, &p)
	}

	return projects, nil
}
