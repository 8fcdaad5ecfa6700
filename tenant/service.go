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
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/opentrusty-core/audit"
	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/id"
	"github.com/opentrusty/opentrusty-core/policy"
	"github.com/opentrusty/opentrusty-core/role"
	"github.com/opentrusty/opentrusty-core/user"
)

// Service provides tenant management business logic. Role assignments go
// through the consolidated role.AssignmentRepository with
// Scope=ScopeTenant and ScopeContextID=tenantID; there is no separate
// per-tenant role table.
type Service struct {
	repo            Repository
	membershipRepo  MembershipRepository
	assignmentRepo  role.AssignmentRepository
	identityService *user.Service
	clientRepo      client.ClientRepository
	policyService   *policy.Service
	auditLogger     audit.Logger
}

// NewService creates a new tenant service. policyService may be nil; when
// set, role grants and revocations evict the affected user's cached
// permission resolution.
func NewService(
	repo Repository,
	membershipRepo MembershipRepository,
	assignmentRepo role.AssignmentRepository,
	identityService *user.Service,
	clientRepo client.ClientRepository,
	policyService *policy.Service,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		repo:            repo,
		membershipRepo:  membershipRepo,
		assignmentRepo:  assignmentRepo,
		identityService: identityService,
		clientRepo:      clientRepo,
		policyService:   policyService,
		auditLogger:     auditLogger,
	}
}

// CreateTenant creates a new tenant and provisions an initial tenant_owner.
func (s *Service) CreateTenant(ctx context.Context, name string, ownerEmail string, ownerPassword string, creatorUserID string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 100 {
		return nil, ErrInvalidTenantName
	}

	existing, err := s.repo.GetByName(ctx, name)
	if err == nil && existing != nil {
		return nil, ErrTenantAlreadyExists
	}

	// Provision the owner identity if an email was supplied.
	var owner *user.User
	if ownerEmail != "" {
		owner, err = s.identityService.GetByEmail(ctx, ownerEmail)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				owner, err = s.identityService.ProvisionIdentity(ctx, ownerEmail, user.Profile{
					GivenName:  "Tenant",
					FamilyName: "Owner",
				})
				if err != nil {
					return nil, fmt.Errorf("failed to provision tenant owner identity: %w", err)
				}
			} else {
				return nil, fmt.Errorf("failed to check owner identity: %w", err)
			}
		}

		if ownerPassword != "" {
			if err := s.identityService.SetPassword(ctx, owner.ID, ownerPassword); err != nil {
				return nil, fmt.Errorf("failed to set tenant owner password: %w", err)
			}
		}
	}

	now := time.Now()
	tenant := &Tenant{
		ID:        id.NewUUIDv7(),
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	if owner != nil {
		if err := s.AssignRole(ctx, tenant.ID, owner.ID, role.RoleTenantOwner, creatorUserID); err != nil {
			return nil, fmt.Errorf("failed to assign tenant owner role: %w", err)
		}
	}

	auditMetadata := map[string]any{
		audit.AttrTenantID:   tenant.ID,
		audit.AttrTenantName: tenant.Name,
	}
	if owner != nil {
		auditMetadata["owner_id"] = owner.ID
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeTenantCreated,
		ActorID:    creatorUserID,
		Resource:   audit.ResourceTenant,
		TargetName: tenant.Name,
		TargetID:   tenant.ID,
		Success:    true,
		Metadata:   auditMetadata,
	})

	return tenant, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetTenantByName retrieves a tenant by name
func (s *Service) GetTenantByName(ctx context.Context, name string) (*Tenant, error) {
	return s.repo.GetByName(ctx, name)
}

// ListTenants retrieves tenants with pagination.
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateTenant updates a tenant's name
func (s *Service) UpdateTenant(ctx context.Context, tenantID string, name string, actorID string) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	oldName := t.Name
	if name != "" {
		t.Name = name
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	metadata := map[string]any{
		audit.AttrTenantID:   tenantID,
		audit.AttrTenantName: t.Name,
	}
	if oldName != t.Name {
		metadata["changes"] = map[string]string{
			"name_from": oldName,
			"name_to":   t.Name,
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeTenantUpdated,
		ActorID:    actorID,
		Resource:   audit.ResourceTenant,
		TargetName: t.Name,
		TargetID:   t.ID,
		Success:    true,
		Metadata:   metadata,
	})
	return t, nil
}

// DeleteTenant deletes a tenant and cascades to its associated data.
// Memberships and tenant-scoped role assignments are hard-deleted; clients
// and the tenant row are soft-deleted (deleted_at is set). Each cascade
// step tolerates rows already removed, so a partial failure is
// recoverable by retrying.
func (s *Service) DeleteTenant(ctx context.Context, tenantID string, actorID string) error {
	t, err := s.repo.GetByID(ctx, tenantID)
	tenantName := "Unknown"
	if err == nil && t != nil {
		tenantName = t.Name
	}

	if s.membershipRepo != nil {
		if err := s.membershipRepo.DeleteByTenantID(ctx, tenantID); err != nil {
			return fmt.Errorf("failed to cascade membership deletion: %w", err)
		}
	}

	if s.clientRepo != nil {
		if err := s.clientRepo.DeleteByTenantID(ctx, tenantID); err != nil {
			return fmt.Errorf("failed to cascade client deletion: %w", err)
		}
	}

	if s.assignmentRepo != nil {
		if err := s.assignmentRepo.DeleteByContextID(ctx, role.ScopeTenant, tenantID); err != nil {
			return fmt.Errorf("failed to cascade rbac assignment deletion: %w", err)
		}
	}

	if err := s.repo.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeTenantDeleted,
		ActorID:    actorID,
		Resource:   audit.ResourceTenant,
		TargetName: tenantName,
		TargetID:   tenantID,
		Success:    true,
		Metadata: map[string]any{
			audit.AttrTenantID:   tenantID,
			audit.AttrTenantName: tenantName,
		},
	})
	return nil
}

// tenantRoleID maps a tenant role name to the seeded role UUID from the
// initial migration. Only tenant-scoped roles are assignable here;
// platform roles never pass through this service.
func tenantRoleID(roleName string) (string, bool) {
	switch roleName {
	case role.RoleTenantOwner:
		return role.RoleIDTenantOwner, true
	case role.RoleTenantAdmin:
		return role.RoleIDTenantAdmin, true
	case role.RoleTenantMember:
		return role.RoleIDMember, true
	default:
		return "", false
	}
}

// AssignRole grants a tenant-scoped role to a user, ensuring a Membership
// row links the user to the tenant first.
func (s *Service) AssignRole(ctx context.Context, tenantID, userID, roleName string, grantedBy string) error {
	roleID, ok := tenantRoleID(roleName)
	if !ok {
		return fmt.Errorf("invalid tenant role: %s", roleName)
	}

	if s.membershipRepo != nil {
		// Just try to create; the unique constraint makes this a no-op
		// for an existing member.
		_ = s.membershipRepo.AddMember(ctx, &Membership{
			ID:        id.NewUUIDv7(),
			TenantID:  tenantID,
			UserID:    userID,
			CreatedAt: time.Now(),
		})
	}

	assignment := &role.Assignment{
		ID:             id.NewUUIDv7(),
		UserID:         userID,
		RoleID:         roleID,
		Scope:          role.ScopeTenant,
		ScopeContextID: &tenantID,
		GrantedAt:      time.Now(),
		GrantedBy:      grantedBy,
	}
	if err := s.assignmentRepo.Grant(ctx, assignment); err != nil {
		return fmt.Errorf("failed to grant tenant role: %w", err)
	}

	if s.policyService != nil {
		s.policyService.InvalidateUser(userID)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeRoleAssigned,
		TenantID:   tenantID,
		ActorID:    grantedBy,
		Resource:   roleName,
		TargetName: s.displayName(ctx, userID),
		TargetID:   userID,
		Success:    true,
		Metadata:   map[string]any{audit.AttrActorID: userID},
	})

	return nil
}

// RevokeRole revokes a tenant-scoped role from a user.
func (s *Service) RevokeRole(ctx context.Context, tenantID, userID, roleName string, actorID string) error {
	// Prevent self-revocation of tenant_owner to avoid accidental lockouts.
	if userID == actorID && roleName == role.RoleTenantOwner {
		return fmt.Errorf("security violation: tenant owners cannot revoke their own owner role")
	}

	roleID, ok := tenantRoleID(roleName)
	if !ok {
		return fmt.Errorf("invalid tenant role: %s", roleName)
	}

	if err := s.assignmentRepo.Revoke(ctx, userID, roleID, role.ScopeTenant, &tenantID); err != nil {
		return err
	}

	if s.policyService != nil {
		s.policyService.InvalidateUser(userID)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:       audit.TypeRoleRevoked,
		TenantID:   tenantID,
		ActorID:    actorID,
		Resource:   roleName,
		TargetName: s.displayName(ctx, userID),
		TargetID:   userID,
		Success:    true,
		Metadata:   map[string]any{audit.AttrActorID: userID},
	})

	return nil
}

// RemoveMember removes a user from a tenant entirely: every tenant-scoped
// role assignment in this tenant plus the Membership row itself.
func (s *Service) RemoveMember(ctx context.Context, tenantID, userID, actorID string) error {
	for _, roleName := range []string{role.RoleTenantOwner, role.RoleTenantAdmin, role.RoleTenantMember} {
		if err := s.RevokeRole(ctx, tenantID, userID, roleName, actorID); err != nil {
			return err
		}
	}
	if s.membershipRepo != nil {
		return s.membershipRepo.RemoveMember(ctx, tenantID, userID)
	}
	return nil
}

// ListMembers retrieves every membership in a tenant.
func (s *Service) ListMembers(ctx context.Context, tenantID string) ([]*Membership, error) {
	return s.membershipRepo.ListMembers(ctx, tenantID)
}

// CheckMembership reports whether userID belongs to tenantID. The
// authorize endpoint consults this for tenant-scoped clients, so a
// tenant's client can never issue codes to users outside the tenant.
func (s *Service) CheckMembership(ctx context.Context, tenantID, userID string) (bool, error) {
	return s.membershipRepo.CheckMembership(ctx, tenantID, userID)
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	targetName := userID
	if s.identityService == nil {
		return targetName
	}
	if u, err := s.identityService.GetUser(ctx, userID); err == nil {
		if u.EmailPlain != nil {
			targetName = *u.EmailPlain
		}
		if u.Profile.Nickname != "" {
			targetName = fmt.Sprintf("%s (%s)", u.Profile.Nickname, targetName)
		}
	}
	return targetName
}
