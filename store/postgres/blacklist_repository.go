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
)

// BlacklistRepository implements blacklist.Repository
type BlacklistRepository struct {
	db *DB
}

// NewBlacklistRepository creates a new blacklist repository
func NewBlacklistRepository(db *DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Add inserts jti with the given expiry, a no-op if already present.
func (r *BlacklistRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO token_blacklist (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to blacklist jti: %w", err)
	}
	return nil
}

// Contains reports whether jti is currently blacklisted.
func (r *BlacklistRepository) Contains(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = $1)
	`, jti).Scan(&exists)
	if err != nil && err != pgx.ErrNoRows {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes rows whose expiry has passed.
func (r *BlacklistRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM token_blacklist WHERE expires_at < NOW()`)
	if err != nil {
		return fmt.Errorf("failed to delete expired blacklist entries: %w", err)
	}
	return nil
}
