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

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/opentrusty-core/client"
)

// AccessTokenRepository implements client.AccessTokenRepository
type AccessTokenRepository struct {
	db *DB
}

// NewAccessTokenRepository creates a new access token repository
func NewAccessTokenRepository(db *DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

// Create creates a new access token
func (r *AccessTokenRepository) Create(ctx context.Context, t *client.AccessToken) error {
	var revokedAt sql.NullTime
	if t.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *t.RevokedAt, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO access_tokens (
			id, tenant_id, token_hash, jti, client_id, user_id,
			scope, token_type, expires_at, revoked_at, is_revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		t.ID, nullString(t.TenantID), t.TokenHash, t.JTI, t.ClientID, nullString(t.UserID),
		t.Scope, t.TokenType, t.ExpiresAt, revokedAt, t.IsRevoked, t.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}

	return nil
}

const accessTokenColumns = `
	id, tenant_id, token_hash, jti, client_id, user_id,
	scope, token_type, expires_at, revoked_at, is_revoked, created_at`

// nullString maps "" to SQL NULL for nullable foreign-key columns, where
// an empty string would violate the constraint instead of meaning absent.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func scanAccessToken(row interface{ Scan(dest ...any) error }) (*client.AccessToken, error) {
	var t client.AccessToken
	var tenantID, userID sql.NullString
	var revokedAt sql.NullTime

	err := row.Scan(
		&t.ID, &tenantID, &t.TokenHash, &t.JTI, &t.ClientID, &userID,
		&t.Scope, &t.TokenType, &t.ExpiresAt, &revokedAt, &t.IsRevoked, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.TenantID = tenantID.String
	t.UserID = userID.String
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	return &t, nil
}

// GetByTokenHash retrieves an access token
func (r *AccessTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*client.AccessToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+accessTokenColumns+`
		FROM access_tokens
		WHERE token_hash = $1
	`, tokenHash)

	t, err := scanAccessToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return t, nil
}

// GetByJTI retrieves an access token by its JWT ID claim
func (r *AccessTokenRepository) GetByJTI(ctx context.Context, jti string) (*client.AccessToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+accessTokenColumns+`
		FROM access_tokens
		WHERE jti = $1
	`, jti)

	t, err := scanAccessToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return t, nil
}

// Revoke revokes an access token
func (r *AccessTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE access_tokens SET is_revoked = true, revoked_at = NOW()
		WHERE token_hash = $1
	`, tokenHash)

	if err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return client.ErrTokenNotFound
	}

	return nil
}

// DeleteExpired deletes all expired access tokens
func (r *AccessTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM access_tokens WHERE expires_at < NOW()`)

	if err != nil {
		return fmt.Errorf("failed to delete expired access tokens: %w", err)
	}

	return nil
}

// RefreshTokenRepository implements client.RefreshTokenRepository
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create creates a new refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, t *client.RefreshToken) error {
	var revokedAt sql.NullTime
	if t.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *t.RevokedAt, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, tenant_id, token_hash, jti, access_token_id, client_id, user_id,
			scope, previous_id, family_id, expires_at, revoked_at, is_revoked, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		t.ID, nullString(t.TenantID), t.TokenHash, t.JTI, nullString(t.AccessTokenID), t.ClientID, nullString(t.UserID),
		t.Scope, nullString(t.PreviousID), t.FamilyID, t.ExpiresAt, revokedAt, t.IsRevoked, t.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	return nil
}

const refreshTokenColumns = `
	id, tenant_id, token_hash, jti, access_token_id, client_id, user_id,
	scope, previous_id, family_id, expires_at, revoked_at, is_revoked, created_at`

func scanRefreshToken(row interface{ Scan(dest ...any) error }) (*client.RefreshToken, error) {
	var t client.RefreshToken
	var revokedAt sql.NullTime
	var tenantID, userID, accessTokenID, previousID sql.NullString

	err := row.Scan(
		&t.ID, &tenantID, &t.TokenHash, &t.JTI, &accessTokenID, &t.ClientID, &userID,
		&t.Scope, &previousID, &t.FamilyID, &t.ExpiresAt, &revokedAt, &t.IsRevoked, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.TenantID = tenantID.String
	t.UserID = userID.String
	t.AccessTokenID = accessTokenID.String
	t.PreviousID = previousID.String
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	return &t, nil
}

// GetByTokenHash retrieves a refresh token
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*client.RefreshToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	t, err := scanRefreshToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return t, nil
}

// GetByJTI retrieves a refresh token by its JWT ID claim
func (r *RefreshTokenRepository) GetByJTI(ctx context.Context, jti string) (*client.RefreshToken, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE jti = $1
	`, jti)

	t, err := scanRefreshToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, client.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return t, nil
}

// Revoke revokes a single refresh token
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = true, revoked_at = NOW()
		WHERE token_hash = $1
	`, tokenHash)

	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return client.ErrTokenNotFound
	}

	return nil
}

// ConsumeByTokenHash atomically reads and revokes a refresh token inside a
// single transaction with a row-level lock, so two concurrent rotation
// attempts presenting the same token cannot both observe it as unrevoked.
func (r *RefreshTokenRepository) ConsumeByTokenHash(ctx context.Context, tokenHash string) (*client.RefreshToken, bool, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash)

	t, err := scanRefreshToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, client.ErrTokenNotFound
		}
		return nil, false, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if t.IsRevoked {
		return t, true, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = true, revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash); err != nil {
		return nil, false, fmt.Errorf("failed to mark refresh token as revoked: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit refresh token consumption: %w", err)
	}

	return t, false, nil
}

// RevokeFamily revokes every non-revoked refresh token sharing familyID in
// a single statement, used when reuse of an already-rotated token is
// detected.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = true, revoked_at = NOW()
		WHERE family_id = $1 AND is_revoked = false
	`, familyID)

	if err != nil {
		return fmt.Errorf("failed to revoke refresh token family: %w", err)
	}

	return nil
}

// DeleteExpired deletes all expired refresh tokens
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)

	if err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	return nil
}
