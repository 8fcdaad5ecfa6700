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
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/opentrusty-core/crypto"
)

// JWKRepository implements crypto.JWKRepository. Private keys are sealed
// as PKCS#1 PEM before being written. The public JWK JSON column is
// written as an empty JSON object; the public key is re-derived from the
// unsealed private key on every read.
type JWKRepository struct {
	db *DB
}

// NewJWKRepository creates a new signing-key repository
func NewJWKRepository(db *DB) *JWKRepository {
	return &JWKRepository{db: db}
}

func sealPrivateKey(priv *rsa.PrivateKey) []byte {
	der := x509.MarshalPKCS1PrivateKey(priv)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func unsealPrivateKey(sealed []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(sealed)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block for signing key")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// Insert persists a newly generated signing key.
func (r *JWKRepository) Insert(ctx context.Context, key *crypto.SigningKey) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO jwks (kid, alg, public_jwk, private_pem_sealed, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.Kid, key.Alg, "{}", sealPrivateKey(key.PrivateKey), key.Status, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert signing key: %w", err)
	}
	return nil
}

func scanSigningKey(row interface{ Scan(dest ...any) error }) (*crypto.SigningKey, error) {
	var k crypto.SigningKey
	var sealed []byte
	var rotatedAt sql.NullTime

	if err := row.Scan(&k.Kid, &k.Alg, &sealed, &k.Status, &k.CreatedAt, &rotatedAt); err != nil {
		return nil, err
	}

	priv, err := unsealPrivateKey(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal signing key %s: %w", k.Kid, err)
	}
	k.PrivateKey = priv
	k.PublicKey = &priv.PublicKey
	if rotatedAt.Valid {
		t := rotatedAt.Time
		k.RotatedAt = &t
	}
	return &k, nil
}

const jwkColumns = `kid, alg, private_pem_sealed, status, created_at, rotated_at`

// GetActive returns the current ACTIVE signing key.
func (r *JWKRepository) GetActive(ctx context.Context) (*crypto.SigningKey, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+jwkColumns+` FROM jwks WHERE status = $1
	`, crypto.KeyStatusActive)

	k, err := scanSigningKey(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, crypto.ErrNoActiveKey
		}
		return nil, fmt.Errorf("failed to get active signing key: %w", err)
	}
	return k, nil
}

// GetByKid retrieves a signing key (active or retired) by its kid.
func (r *JWKRepository) GetByKid(ctx context.Context, kid string) (*crypto.SigningKey, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+jwkColumns+` FROM jwks WHERE kid = $1
	`, kid)

	k, err := scanSigningKey(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, crypto.ErrUnknownKid
		}
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}
	return k, nil
}

// ListPublishable returns every key that should appear in the published
// JWKS: the ACTIVE key plus any RETIRED key whose retirement is within
// retainRetiredFor, so in-flight tokens it signed still verify.
func (r *JWKRepository) ListPublishable(ctx context.Context, retainRetiredFor time.Duration) ([]*crypto.SigningKey, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+jwkColumns+` FROM jwks
		WHERE status = $1 OR (status = $2 AND rotated_at > NOW() - make_interval(secs => $3))
	`, crypto.KeyStatusActive, crypto.KeyStatusRetired, retainRetiredFor.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list publishable signing keys: %w", err)
	}
	defer rows.Close()

	var keys []*crypto.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signing key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// RetireActive marks the current ACTIVE key RETIRED, serialized by an
// exclusive row lock so concurrent rotations cannot both see no active
// key and each insert a new one.
func (r *JWKRepository) RetireActive(ctx context.Context) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var kid string
	err = tx.QueryRow(ctx, `
		SELECT kid FROM jwks WHERE status = $1 FOR UPDATE
	`, crypto.KeyStatusActive).Scan(&kid)
	if err != nil {
		if err == pgx.ErrNoRows {
			return tx.Commit(ctx)
		}
		return fmt.Errorf("failed to lock active signing key: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jwks SET status = $1, rotated_at = NOW() WHERE kid = $2
	`, crypto.KeyStatusRetired, kid); err != nil {
		return fmt.Errorf("failed to retire signing key: %w", err)
	}

	return tx.Commit(ctx)
}
