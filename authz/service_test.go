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

package authz

import (
	"context"
	"fmt"
	"testing"

	"github.com/opentrusty/opentrusty-core/project"
	"github.com/opentrusty/opentrusty-core/role"
)

// Mock repos
type mockProjectRepo struct {
	project.ProjectRepository
}

func (m *mockProjectRepo) ListByUser(ctx context.Context, userID string) ([]*project.Project, error) {
	return []*project.Project{{ID: "p1", Name: "Project 1"}}, nil
}

type mockRoleRepo struct {
	role.RoleRepository
	roles map[string]*role.Role
}

func (m *mockRoleRepo) GetByID(ctx context.Context, id string) (*role.Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return r, nil
}

type mockAssignmentRepo struct {
	role.AssignmentRepository
	assignments []*role.Assignment
}

func (m *mockAssignmentRepo) ListForUser(ctx context.Context, userID string) ([]*role.Assignment, error) {
	var res []*role.Assignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			res = append(res, a)
		}
	}
	return res, nil
}

func TestGetUserRoles(t *testing.T) {
	adminRole := &role.Role{ID: "role-admin", Name: "admin", Scope: role.ScopePlatform, Permissions: []string{"*"}, IsActive: true}
	tenantRole := &role.Role{ID: "role-tenant", Name: "editor", Scope: role.ScopeTenant, Permissions: []string{"edit:stuff"}, IsActive: true}

	roleRepo := &mockRoleRepo{roles: map[string]*role.Role{adminRole.ID: adminRole, tenantRole.ID: tenantRole}}
	assignmentRepo := &mockAssignmentRepo{assignments: []*role.Assignment{
		{UserID: "user-1", RoleID: adminRole.ID, Scope: role.ScopePlatform},
		{UserID: "user-1", RoleID: tenantRole.ID, Scope: role.ScopeTenant, ScopeContextID: stringPtr("t1")},
	}}

	svc := NewService(&mockProjectRepo{}, roleRepo, assignmentRepo)

	roles, err := svc.GetUserRoles(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetUserRoles() error = %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("GetUserRoles() = %v, want 2 role names", roles)
	}
}

func TestBuildUserInfoClaims(t *testing.T) {
	adminRole := &role.Role{ID: "role-admin", Name: "admin", Scope: role.ScopePlatform, Permissions: []string{"*"}, IsActive: true}
	roleRepo := &mockRoleRepo{roles: map[string]*role.Role{adminRole.ID: adminRole}}
	assignmentRepo := &mockAssignmentRepo{assignments: []*role.Assignment{
		{UserID: "user-1", RoleID: adminRole.ID, Scope: role.ScopePlatform},
	}}

	svc := NewService(&mockProjectRepo{}, roleRepo, assignmentRepo)

	claims, err := svc.BuildUserInfoClaims(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("BuildUserInfoClaims() error = %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Errorf("BuildUserInfoClaims().Roles = %v, want [admin]", claims.Roles)
	}
	if len(claims.Projects) != 1 || claims.Projects[0].ID != "p1" {
		t.Errorf("BuildUserInfoClaims().Projects = %v, want [p1]", claims.Projects)
	}
}

func stringPtr(s string) *string {
	return &s
}
