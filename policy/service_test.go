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
	"testing"
	"time"

	"github.com/opentrusty/opentrusty-core/role"
	"github.com/opentrusty/opentrusty-core/scope"
)

type mockRoleRepo struct {
	role.RoleRepository
	roles map[string]*role.Role
}

func (m *mockRoleRepo) GetByID(ctx context.Context, id string) (*role.Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return nil, role.ErrRoleNotFound
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

type mockScopeRepo struct {
	scope.Repository
	permsByScope map[string][]string
}

func (m *mockScopeRepo) PermissionsForNames(ctx context.Context, names []string) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, n := range names {
		for _, p := range m.permsByScope[n] {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func TestResolveUnionsActiveRolePermissions(t *testing.T) {
	active := &role.Role{ID: "r1", Name: "editor", Permissions: []string{"edit:stuff"}, IsActive: true}
	inactive := &role.Role{ID: "r2", Name: "retired", Permissions: []string{"delete:stuff"}, IsActive: false}

	roleRepo := &mockRoleRepo{roles: map[string]*role.Role{active.ID: active, inactive.ID: inactive}}
	assignmentRepo := &mockAssignmentRepo{assignments: []*role.Assignment{
		{UserID: "user-1", RoleID: active.ID},
		{UserID: "user-1", RoleID: inactive.ID},
	}}

	svc := NewService(roleRepo, assignmentRepo, &mockScopeRepo{}, nil, 0)

	perms, err := svc.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !perms.Has("edit:stuff") {
		t.Errorf("Resolve() missing permission from active role")
	}
	if perms.Has("delete:stuff") {
		t.Errorf("Resolve() included permission from inactive role")
	}
}

func TestAllowsWildcard(t *testing.T) {
	admin := &role.Role{ID: "r1", Name: "admin", Permissions: []string{"*"}, IsActive: true}
	roleRepo := &mockRoleRepo{roles: map[string]*role.Role{admin.ID: admin}}
	assignmentRepo := &mockAssignmentRepo{assignments: []*role.Assignment{{UserID: "user-1", RoleID: admin.ID}}}

	svc := NewService(roleRepo, assignmentRepo, &mockScopeRepo{}, nil, 0)

	ok, err := svc.Allows(context.Background(), "user-1", "anything:at_all")
	if err != nil {
		t.Fatalf("Allows() error = %v", err)
	}
	if !ok {
		t.Errorf("Allows() = false, want true for wildcard role")
	}
}

func TestAllowsBatch(t *testing.T) {
	editor := &role.Role{ID: "r1", Name: "editor", Permissions: []string{"edit:stuff"}, IsActive: true}
	roleRepo := &mockRoleRepo{roles: map[string]*role.Role{editor.ID: editor}}
	assignmentRepo := &mockAssignmentRepo{assignments: []*role.Assignment{{UserID: "user-1", RoleID: editor.ID}}}

	svc := NewService(roleRepo, assignmentRepo, &mockScopeRepo{}, nil, 0)

	result, err := svc.AllowsBatch(context.Background(), "user-1", []string{"edit:stuff", "delete:stuff"})
	if err != nil {
		t.Fatalf("AllowsBatch() error = %v", err)
	}
	if !result["edit:stuff"] || result["delete:stuff"] {
		t.Errorf("AllowsBatch() = %v, want {edit:stuff: true, delete:stuff: false}", result)
	}
}

func TestPermissionsForScopes(t *testing.T) {
	scopeRepo := &mockScopeRepo{permsByScope: map[string][]string{
		"profile": {"user:read_profile"},
		"openid":  {},
	}}
	svc := NewService(&mockRoleRepo{roles: map[string]*role.Role{}}, &mockAssignmentRepo{}, scopeRepo, nil, 0)

	perms, err := svc.PermissionsForScopes(context.Background(), []string{"openid", "profile"})
	if err != nil {
		t.Fatalf("PermissionsForScopes() error = %v", err)
	}
	if len(perms) != 1 || perms[0] != "user:read_profile" {
		t.Fatalf("PermissionsForScopes() = %v, want [user:read_profile]", perms)
	}
}

func TestResolveCachesAndInvalidateUserEvicts(t *testing.T) {
	editor := &role.Role{ID: "r1", Name: "editor", Permissions: []string{"edit:stuff"}, IsActive: true}
	roleRepo := &mockRoleRepo{roles: map[string]*role.Role{editor.ID: editor}}
	assignmentRepo := &mockAssignmentRepo{assignments: []*role.Assignment{{UserID: "user-1", RoleID: editor.ID}}}

	cache, err := NewCache(16)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	svc := NewService(roleRepo, assignmentRepo, &mockScopeRepo{}, cache, time.Minute)

	if _, err := svc.Resolve(context.Background(), "user-1"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Mutate the backing assignment without going through the service; a
	// cached Resolve should still answer from cache until invalidated.
	assignmentRepo.assignments = nil

	perms, err := svc.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !perms.Has("edit:stuff") {
		t.Errorf("Resolve() did not serve from cache after backing store changed")
	}

	svc.InvalidateUser("user-1")

	perms, err = svc.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("Resolve() after InvalidateUser() = %v, want empty", perms)
	}
}
