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

package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opentrusty/opentrusty-core/audit"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/role"
	"github.com/opentrusty/opentrusty-core/user"
)

type mockTenantRepo struct {
	byID   map[string]*Tenant
	byName map[string]*Tenant
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{byID: map[string]*Tenant{}, byName: map[string]*Tenant{}}
}

func (m *mockTenantRepo) Create(ctx context.Context, t *Tenant) error {
	m.byID[t.ID] = t
	m.byName[t.Name] = t
	return nil
}

func (m *mockTenantRepo) GetByID(ctx context.Context, id string) (*Tenant, error) {
	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

func (m *mockTenantRepo) GetByName(ctx context.Context, name string) (*Tenant, error) {
	t, ok := m.byName[name]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

func (m *mockTenantRepo) Update(ctx context.Context, t *Tenant) error {
	m.byID[t.ID] = t
	return nil
}

func (m *mockTenantRepo) Delete(ctx context.Context, id string) error {
	t, ok := m.byID[id]
	if !ok {
		return ErrTenantNotFound
	}
	delete(m.byName, t.Name)
	delete(m.byID, id)
	return nil
}

func (m *mockTenantRepo) List(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	var out []*Tenant
	for _, t := range m.byID {
		out = append(out, t)
	}
	return out, nil
}

type mockMembershipRepo struct {
	members map[string]map[string]bool // tenantID -> userID
}

func newMockMembershipRepo() *mockMembershipRepo {
	return &mockMembershipRepo{members: map[string]map[string]bool{}}
}

func (m *mockMembershipRepo) AddMember(ctx context.Context, mem *Membership) error {
	if m.members[mem.TenantID] == nil {
		m.members[mem.TenantID] = map[string]bool{}
	}
	m.members[mem.TenantID][mem.UserID] = true
	return nil
}

func (m *mockMembershipRepo) RemoveMember(ctx context.Context, tenantID, userID string) error {
	delete(m.members[tenantID], userID)
	return nil
}

func (m *mockMembershipRepo) ListMembers(ctx context.Context, tenantID string) ([]*Membership, error) {
	var out []*Membership
	for userID := range m.members[tenantID] {
		out = append(out, &Membership{TenantID: tenantID, UserID: userID})
	}
	return out, nil
}

func (m *mockMembershipRepo) CheckMembership(ctx context.Context, tenantID, userID string) (bool, error) {
	return m.members[tenantID][userID], nil
}

func (m *mockMembershipRepo) DeleteByTenantID(ctx context.Context, tenantID string) error {
	delete(m.members, tenantID)
	return nil
}

type mockAssignmentRepo struct {
	role.AssignmentRepository
	granted []*role.Assignment
}

func (m *mockAssignmentRepo) Grant(ctx context.Context, a *role.Assignment) error {
	m.granted = append(m.granted, a)
	return nil
}

func (m *mockAssignmentRepo) Revoke(ctx context.Context, userID, roleID string, scope role.Scope, scopeContextID *string) error {
	kept := m.granted[:0]
	for _, a := range m.granted {
		if a.UserID == userID && a.RoleID == roleID && a.Scope == scope {
			continue
		}
		kept = append(kept, a)
	}
	m.granted = kept
	return nil
}

func (m *mockAssignmentRepo) DeleteByContextID(ctx context.Context, scope role.Scope, contextID string) error {
	kept := m.granted[:0]
	for _, a := range m.granted {
		if a.Scope == scope && a.ScopeContextID != nil && *a.ScopeContextID == contextID {
			continue
		}
		kept = append(kept, a)
	}
	m.granted = kept
	return nil
}

type mockUserRepo struct {
	user.UserRepository
	users map[string]*user.User
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*user.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByHash(ctx context.Context, hash string) (*user.User, error) {
	for _, u := range m.users {
		if u.EmailHash == hash {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (m *mockUserRepo) Create(ctx context.Context, u *user.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) AddCredentials(ctx context.Context, c *user.Credentials) error { return nil }

func (m *mockUserRepo) GetCredentials(ctx context.Context, userID string) (*user.Credentials, error) {
	return nil, user.ErrUserNotFound
}

type noopAuditLogger struct{}

func (noopAuditLogger) Log(ctx context.Context, event audit.Event) {}

func newTestService(t *testing.T) (*Service, *mockTenantRepo, *mockMembershipRepo, *mockAssignmentRepo) {
	t.Helper()

	tenantRepo := newMockTenantRepo()
	membershipRepo := newMockMembershipRepo()
	assignmentRepo := &mockAssignmentRepo{}

	hasher := crypto.NewPasswordHasher(crypto.PasswordPolicy{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	userService := user.NewService(&mockUserRepo{users: map[string]*user.User{}}, hasher, noopAuditLogger{}, 5, time.Hour, "test-key")

	svc := NewService(tenantRepo, membershipRepo, assignmentRepo, userService, nil, nil, noopAuditLogger{})
	return svc, tenantRepo, membershipRepo, assignmentRepo
}

func TestCreateTenantProvisionsOwner(t *testing.T) {
	svc, _, memberships, assignments := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTenant(ctx, "acme", "owner@acme.example", "", "admin-1")
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if created.Status != StatusActive {
		t.Errorf("CreateTenant() status = %q, want %q", created.Status, StatusActive)
	}

	if len(assignments.granted) != 1 {
		t.Fatalf("CreateTenant() granted %d assignments, want 1", len(assignments.granted))
	}
	a := assignments.granted[0]
	if a.RoleID != role.RoleIDTenantOwner || a.Scope != role.ScopeTenant {
		t.Errorf("CreateTenant() granted role %q at scope %q, want tenant owner at tenant scope", a.RoleID, a.Scope)
	}
	if a.ScopeContextID == nil || *a.ScopeContextID != created.ID {
		t.Errorf("CreateTenant() assignment context = %v, want tenant id %q", a.ScopeContextID, created.ID)
	}

	member, err := memberships.CheckMembership(ctx, created.ID, a.UserID)
	if err != nil || !member {
		t.Errorf("CreateTenant() did not create a membership for the owner")
	}
}

func TestCreateTenantDuplicateName(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateTenant(ctx, "acme", "", "", "admin-1"); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if _, err := svc.CreateTenant(ctx, "acme", "", "", "admin-1"); !errors.Is(err, ErrTenantAlreadyExists) {
		t.Fatalf("CreateTenant() duplicate error = %v, want ErrTenantAlreadyExists", err)
	}
}

func TestCreateTenantRejectsShortName(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.CreateTenant(context.Background(), "ab", "", "", "admin-1"); !errors.Is(err, ErrInvalidTenantName) {
		t.Fatalf("CreateTenant() error = %v, want ErrInvalidTenantName", err)
	}
}

func TestAssignRoleRejectsNonTenantRole(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if err := svc.AssignRole(context.Background(), "t1", "u1", role.RolePlatformAdmin, "admin-1"); err == nil {
		t.Fatalf("AssignRole() accepted a platform role at tenant scope")
	}
}

func TestAssignRoleCreatesMembership(t *testing.T) {
	svc, _, memberships, assignments := newTestService(t)
	ctx := context.Background()

	if err := svc.AssignRole(ctx, "t1", "u1", role.RoleTenantMember, "admin-1"); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}

	member, _ := memberships.CheckMembership(ctx, "t1", "u1")
	if !member {
		t.Errorf("AssignRole() did not link the user into the tenant")
	}
	if len(assignments.granted) != 1 || assignments.granted[0].RoleID != role.RoleIDMember {
		t.Errorf("AssignRole() assignments = %v, want a single tenant_member grant", assignments.granted)
	}
}

func TestRevokeRoleSelfOwnerIsRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.RevokeRole(context.Background(), "t1", "u1", role.RoleTenantOwner, "u1")
	if err == nil {
		t.Fatalf("RevokeRole() allowed a tenant owner to revoke their own owner role")
	}
}

func TestDeleteTenantCascades(t *testing.T) {
	svc, tenants, memberships, assignments := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTenant(ctx, "acme", "owner@acme.example", "", "admin-1")
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}

	if err := svc.DeleteTenant(ctx, created.ID, "admin-1"); err != nil {
		t.Fatalf("DeleteTenant() error = %v", err)
	}

	if _, err := tenants.GetByID(ctx, created.ID); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("DeleteTenant() left the tenant row behind")
	}
	if members, _ := memberships.ListMembers(ctx, created.ID); len(members) != 0 {
		t.Errorf("DeleteTenant() left %d memberships behind", len(members))
	}
	if len(assignments.granted) != 0 {
		t.Errorf("DeleteTenant() left %d role assignments behind", len(assignments.granted))
	}
}
