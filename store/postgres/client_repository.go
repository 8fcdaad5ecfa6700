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
	"github.com/opentrusty/opentrusty-core/client"
)

// ClientRepository implements client.ClientRepository. Redirect URIs,
// allowed scopes, grant types, and response types are stored as native
// Postgres text[] columns rather than marshaled JSON, so pgx scans them
// directly into []string without an intermediate encoding step.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create creates a new OAuth2 client
func (r *ClientRepository) Create(ctx context.Context, c *client.Client) error {
	var ownerID sql.NullString
	if c.OwnerID != "" {
		ownerID = sql.NullString{String: c.OwnerID, Valid: true}
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	var jwksURI sql.NullString
	if c.JWKSURI != "" {
		jwksURI = sql.NullString{String: c.JWKSURI, Valid: true}
	}

	var tenantID sql.NullString
	if c.TenantID != "" {
		tenantID = sql.NullString{String: c.TenantID, Valid: true}
	}

	// Public clients carry no secret; persist NULL rather than an empty
	// string so the column reflects the §3 invariant directly.
	var secretHash sql.NullString
	if c.ClientSecretHash != "" {
		secretHash = sql.NullString{String: c.ClientSecretHash, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oauth2_clients (
			id, client_id, tenant_id, type, client_secret_hash, client_name, client_uri, logo_uri,
			redirect_uris, allowed_scopes, grant_types, response_types, ip_whitelist,
			token_endpoint_auth_method, require_pkce, require_consent, jwks_uri,
			access_token_lifetime, refresh_token_lifetime, id_token_lifetime, authorization_code_lifetime,
			owner_id, is_trusted, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`,
		c.ID, c.ClientID, tenantID, c.Type, secretHash, c.ClientName, c.ClientURI, c.LogoURI,
		c.RedirectURIs, c.AllowedScopes, c.GrantTypes, c.ResponseTypes, c.IPWhitelist,
		c.TokenEndpointAuthMethod, c.RequirePKCE, c.RequireConsent, jwksURI,
		c.AccessTokenLifetime, c.RefreshTokenLifetime, c.IDTokenLifetime, c.AuthorizationCodeLifetime,
		ownerID, c.IsTrusted, c.IsActive, c.CreatedAt, c.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

const clientColumns = `
	id, client_id, tenant_id, type, client_secret_hash, client_name, client_uri, logo_uri,
	redirect_uris, allowed_scopes, grant_types, response_types, ip_whitelist,
	token_endpoint_auth_method, require_pkce, require_consent, jwks_uri,
	access_token_lifetime, refresh_token_lifetime, id_token_lifetime, authorization_code_lifetime,
	owner_id, is_trusted, is_active, created_at, updated_at, deleted_at`

func scanClient(row interface {
	Scan(dest ...any) error
}) (*client.Client, error) {
	var c client.Client
	var tenantID, secretHash, clientURI, logoURI, ownerID, jwksURI sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.ClientID, &tenantID, &c.Type, &secretHash, &c.ClientName, &clientURI, &logoURI,
		&c.RedirectURIs, &c.AllowedScopes, &c.GrantTypes, &c.ResponseTypes, &c.IPWhitelist,
		&c.TokenEndpointAuthMethod, &c.RequirePKCE, &c.RequireConsent, &jwksURI,
		&c.AccessTokenLifetime, &c.RefreshTokenLifetime, &c.IDTokenLifetime, &c.AuthorizationCodeLifetime,
		&ownerID, &c.IsTrusted, &c.IsActive, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	c.TenantID = tenantID.String
	c.ClientSecretHash = secretHash.String
	if clientURI.Valid {
		c.ClientURI = clientURI.String
	}
	if logoURI.Valid {
		c.LogoURI = logoURI.String
	}
	if ownerID.Valid {
		c.OwnerID = ownerID.String
	}
	if jwksURI.Valid {
		c.JWKSURI = jwksURI.String
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}

	return &c, nil
}

// GetByClientID retrieves a client by client_id and tenant_id
func (r *ClientRepository) GetByClientID(ctx context.Context, tenantID string, clientID string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM oauth2_clients
		WHERE client_id = $2 AND ($1 = '' OR tenant_id::text = $1) AND deleted_at IS NULL
	`, tenantID, clientID)

	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// GetByID retrieves a client by tenant_id and internal ID
func (r *ClientRepository) GetByID(ctx context.Context, tenantID string, id string) (*client.Client, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM oauth2_clients
		WHERE id = $2 AND tenant_id = $1 AND deleted_at IS NULL
	`, tenantID, id)

	c, err := scanClient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// Update updates client information
func (r *ClientRepository) Update(ctx context.Context, c *client.Client) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth2_clients SET
			client_name = $2,
			client_uri = $3,
			logo_uri = $4,
			redirect_uris = $5,
			allowed_scopes = $6,
			grant_types = $7,
			response_types = $8,
			ip_whitelist = $9,
			token_endpoint_auth_method = $10,
			require_pkce = $11,
			require_consent = $12,
			access_token_lifetime = $13,
			refresh_token_lifetime = $14,
			id_token_lifetime = $15,
			authorization_code_lifetime = $16,
			is_trusted = $17,
			is_active = $18,
			updated_at = NOW()
		WHERE id = $1 AND tenant_id = $19 AND deleted_at IS NULL
	`,
		c.ID, c.ClientName, c.ClientURI, c.LogoURI,
		c.RedirectURIs, c.AllowedScopes, c.GrantTypes, c.ResponseTypes, c.IPWhitelist,
		c.TokenEndpointAuthMethod, c.RequirePKCE, c.RequireConsent,
		c.AccessTokenLifetime, c.RefreshTokenLifetime, c.IDTokenLifetime, c.AuthorizationCodeLifetime,
		c.IsTrusted, c.IsActive, c.TenantID,
	)

	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}

	if result.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}

	return nil
}

// Delete soft-deletes a client by tenant_id and internal ID
func (r *ClientRepository) Delete(ctx context.Context, tenantID string, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE oauth2_clients SET deleted_at = $3
		WHERE id = $2 AND tenant_id = $1 AND deleted_at IS NULL
	`, tenantID, id, time.Now())

	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	if result.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}

	return nil
}

// ListByOwner retrieves all clients for an owner
func (r *ClientRepository) ListByOwner(ctx context.Context, ownerID string) ([]*client.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM oauth2_clients
		WHERE owner_id = $1 AND deleted_at IS NULL
	`, ownerID)

	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*client.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}

	return clients, nil
}

// ListByTenant retrieves all clients for a tenant
func (r *ClientRepository) ListByTenant(ctx context.Context, tenantID string) ([]*client.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+clientColumns+`
		FROM oauth2_clients
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, tenantID)

	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var clients []*client.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}

	return clients, nil
}

// DeleteByTenantID soft-deletes all clients belonging to a tenant
func (r *ClientRepository) DeleteByTenantID(ctx context.Context, tenantID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE oauth2_clients SET deleted_at = NOW()
		WHERE tenant_id = $1 AND deleted_at IS NULL
	`, tenantID)

	if err != nil {
		return fmt.Errorf("failed to delete clients by tenant: %w", err)
	}
	return nil
}
