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
	"github.com/opentrusty/opentrusty-core/consent"
)

// ConsentRepository implements consent.Repository
type ConsentRepository struct {
	db *DB
}

// NewConsentRepository creates a new consent repository
func NewConsentRepository(db *DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Get retrieves the grant for (userID, clientID), or consent.ErrGrantNotFound.
func (r *ConsentRepository) Get(ctx context.Context, userID, clientID string) (*consent.Grant, error) {
	var g consent.Grant
	g.UserID = userID
	g.ClientID = clientID

	err := r.db.pool.QueryRow(ctx, `
		SELECT scopes, granted_at, expires_at, revoked_at
		FROM consent_grants
		WHERE user_id = $1 AND client_id = $2
	`, userID, clientID).Scan(&g.Scopes, &g.GrantedAt, &g.ExpiresAt, &g.RevokedAt)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, consent.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get consent grant: %w", err)
	}
	return &g, nil
}

// Upsert stores g, replacing any existing grant for the same pair.
func (r *ConsentRepository) Upsert(ctx context.Context, g *consent.Grant) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO consent_grants (user_id, client_id, scopes, granted_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scopes = EXCLUDED.scopes,
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at,
			revoked_at = NULL
	`, g.UserID, g.ClientID, g.Scopes, g.GrantedAt, g.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert consent grant: %w", err)
	}
	return nil
}

// Revoke marks the grant for (userID, clientID) revoked.
func (r *ConsentRepository) Revoke(ctx context.Context, userID, clientID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE consent_grants SET revoked_at = NOW()
		WHERE user_id = $1 AND client_id = $2
	`, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to revoke consent grant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return consent.ErrGrantNotFound
	}
	return nil
}
