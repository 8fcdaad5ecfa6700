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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type memJWKRepo struct {
	keys map[string]*SigningKey
}

func newMemJWKRepo() *memJWKRepo {
	return &memJWKRepo{keys: make(map[string]*SigningKey)}
}

func (m *memJWKRepo) Insert(ctx context.Context, key *SigningKey) error {
	m.keys[key.Kid] = key
	return nil
}

func (m *memJWKRepo) GetActive(ctx context.Context) (*SigningKey, error) {
	for _, k := range m.keys {
		if k.Status == KeyStatusActive {
			return k, nil
		}
	}
	return nil, ErrNoActiveKey
}

func (m *memJWKRepo) GetByKid(ctx context.Context, kid string) (*SigningKey, error) {
	k, ok := m.keys[kid]
	if !ok {
		return nil, ErrUnknownKid
	}
	return k, nil
}

func (m *memJWKRepo) ListPublishable(ctx context.Context, retainRetiredFor time.Duration) ([]*SigningKey, error) {
	var out []*SigningKey
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memJWKRepo) RetireActive(ctx context.Context) error {
	for _, k := range m.keys {
		if k.Status == KeyStatusActive {
			k.Status = KeyStatusRetired
			now := time.Now()
			k.RotatedAt = &now
		}
	}
	return nil
}

type testClaims struct {
	Sub string `json:"sub"`
	jwt.RegisteredClaims
}

func TestSignerSignAndVerify(t *testing.T) {
	repo := newMemJWKRepo()
	signer := NewSigner(repo, "https://issuer.example")

	ctx := context.Background()
	if err := signer.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	claims := testClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.example",
			Audience:  jwt.ClaimStrings{"https://issuer.example"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	signed, err := signer.Sign(ctx, claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	var verified testClaims
	if err := signer.Verify(ctx, signed, &verified, "https://issuer.example"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if verified.Sub != "user-1" {
		t.Fatalf("Verify() sub = %q, want %q", verified.Sub, "user-1")
	}

	var wrongAud testClaims
	if err := signer.Verify(ctx, signed, &wrongAud, "https://other.example"); err == nil {
		t.Fatalf("Verify() accepted a token minted for a different audience")
	}
}

func TestSignerRotateKeepsOldKeyVerifiable(t *testing.T) {
	repo := newMemJWKRepo()
	signer := NewSigner(repo, "https://issuer.example")
	ctx := context.Background()

	if err := signer.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	claims := testClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := signer.Sign(ctx, claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if err := signer.Rotate(ctx); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	var verified testClaims
	if err := signer.Verify(ctx, signed, &verified, ""); err != nil {
		t.Fatalf("Verify() after rotation error = %v, want token signed by retired key to still verify", err)
	}
}

func TestSignerVerifyExpired(t *testing.T) {
	repo := newMemJWKRepo()
	signer := NewSigner(repo, "https://issuer.example")
	ctx := context.Background()
	if err := signer.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	claims := testClaims{
		Sub: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	signed, err := signer.Sign(ctx, claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	var verified testClaims
	err = signer.Verify(ctx, signed, &verified, "")
	if err != ErrExpiredToken {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}
