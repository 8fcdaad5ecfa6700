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

package crypto

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"
)

// Key status values. At most one ACTIVE key exists at any instant;
// RETIRED keys stay published in the JWKS until every token they signed
// has expired.
const (
	KeyStatusActive  = "ACTIVE"
	KeyStatusRetired = "RETIRED"
)

// Domain errors for signing-key management.
var (
	ErrNoActiveKey = errors.New("crypto: no active signing key")
	ErrUnknownKid  = errors.New("crypto: unknown key id")
	ErrAlgMismatch = errors.New("crypto: algorithm mismatch")
)

// SigningKey is a persisted asymmetric key pair used to sign and verify
// protocol tokens.
//
// Purpose: Entity representing one generation of the server's signing key.
// Domain: Cryptographic Services
// Invariants: at most one row has Status=ACTIVE.
type SigningKey struct {
	Kid        string
	Alg        string
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey // nil once loaded back for verification-only use
	Status     string
	CreatedAt  time.Time
	RotatedAt  *time.Time
}

// JWKRepository persists signing keys.
type JWKRepository interface {
	Insert(ctx context.Context, key *SigningKey) error
	GetActive(ctx context.Context) (*SigningKey, error)
	GetByKid(ctx context.Context, kid string) (*SigningKey, error)
	ListPublishable(ctx context.Context, retainRetiredFor time.Duration) ([]*SigningKey, error)
	RetireActive(ctx context.Context) error
}
