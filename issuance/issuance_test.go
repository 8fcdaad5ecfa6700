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

package issuance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/crypto"
)

type memAccessTokenRepo struct {
	client.AccessTokenRepository
	byHash map[string]*client.AccessToken
}

func newMemAccessTokenRepo() *memAccessTokenRepo {
	return &memAccessTokenRepo{byHash: make(map[string]*client.AccessToken)}
}

func (m *memAccessTokenRepo) Create(ctx context.Context, t *client.AccessToken) error {
	m.byHash[t.TokenHash] = t
	return nil
}

type memRefreshTokenRepo struct {
	client.RefreshTokenRepository
	byHash map[string]*client.RefreshToken
}

func newMemRefreshTokenRepo() *memRefreshTokenRepo {
	return &memRefreshTokenRepo{byHash: make(map[string]*client.RefreshToken)}
}

func (m *memRefreshTokenRepo) Create(ctx context.Context, t *client.RefreshToken) error {
	m.byHash[t.TokenHash] = t
	return nil
}

func (m *memRefreshTokenRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*client.RefreshToken, error) {
	t, ok := m.byHash[tokenHash]
	if !ok {
		return nil, client.ErrTokenNotFound
	}
	return t, nil
}

// ConsumeByTokenHash mimics the atomic read-then-revoke the Postgres
// implementation performs under a row lock: it reports alreadyRevoked=false
// exactly once per token (true on every later call), the same observable
// contract §4.6 requires.
func (m *memRefreshTokenRepo) ConsumeByTokenHash(ctx context.Context, tokenHash string) (*client.RefreshToken, bool, error) {
	t, ok := m.byHash[tokenHash]
	if !ok {
		return nil, false, client.ErrTokenNotFound
	}
	if t.IsRevoked {
		return t, true, nil
	}
	t.IsRevoked = true
	now := time.Now()
	t.RevokedAt = &now
	return t, false, nil
}

func (m *memRefreshTokenRepo) RevokeFamily(ctx context.Context, familyID string) error {
	for _, t := range m.byHash {
		if t.FamilyID == familyID {
			t.IsRevoked = true
		}
	}
	return nil
}

type memJWKRepo struct {
	keys map[string]*crypto.SigningKey
}

func newMemJWKRepo() *memJWKRepo { return &memJWKRepo{keys: make(map[string]*crypto.SigningKey)} }

func (m *memJWKRepo) Insert(ctx context.Context, key *crypto.SigningKey) error {
	m.keys[key.Kid] = key
	return nil
}

func (m *memJWKRepo) GetActive(ctx context.Context) (*crypto.SigningKey, error) {
	for _, k := range m.keys {
		if k.Status == crypto.KeyStatusActive {
			return k, nil
		}
	}
	return nil, crypto.ErrNoActiveKey
}

func (m *memJWKRepo) GetByKid(ctx context.Context, kid string) (*crypto.SigningKey, error) {
	k, ok := m.keys[kid]
	if !ok {
		return nil, crypto.ErrUnknownKid
	}
	return k, nil
}

func (m *memJWKRepo) ListPublishable(ctx context.Context, retainRetiredFor time.Duration) ([]*crypto.SigningKey, error) {
	var out []*crypto.SigningKey
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memJWKRepo) RetireActive(ctx context.Context) error {
	for _, k := range m.keys {
		if k.Status == crypto.KeyStatusActive {
			k.Status = crypto.KeyStatusRetired
		}
	}
	return nil
}

func newTestIssuer(t *testing.T) (*Issuer, *memRefreshTokenRepo) {
	t.Helper()
	signer := crypto.NewSigner(newMemJWKRepo(), "https://issuer.example")
	if err := signer.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	refreshTokens := newMemRefreshTokenRepo()
	iss := NewIssuer(signer, newMemAccessTokenRepo(), refreshTokens, "https://issuer.example")
	return iss, refreshTokens
}

func TestRotateRefreshHappyPath(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()

	refreshToken, rec, err := iss.MintRefreshToken(ctx, "", "client-1", "user-1", "openid profile", "access-1", "", "", time.Hour)
	if err != nil {
		t.Fatalf("MintRefreshToken() error = %v", err)
	}

	rotated, err := iss.RotateRefresh(ctx, "", refreshToken, "", time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("RotateRefresh() error = %v", err)
	}
	if rotated.RefreshRecord.FamilyID != rec.FamilyID {
		t.Errorf("RotateRefresh() family = %q, want %q", rotated.RefreshRecord.FamilyID, rec.FamilyID)
	}
	if rotated.RefreshRecord.PreviousID != rec.ID {
		t.Errorf("RotateRefresh() previousID = %q, want %q", rotated.RefreshRecord.PreviousID, rec.ID)
	}
	if rotated.RefreshToken == refreshToken {
		t.Errorf("RotateRefresh() returned the same opaque token as the one consumed")
	}
}

// TestRotateRefreshReplayRevokesFamily is the central §4.6/§8 invariant:
// presenting an already-rotated refresh token a second time must fail and
// must revoke every token in the family, including the one minted by the
// legitimate first rotation.
func TestRotateRefreshReplayRevokesFamily(t *testing.T) {
	iss, refreshTokens := newTestIssuer(t)
	ctx := context.Background()

	r1, _, err := iss.MintRefreshToken(ctx, "", "client-1", "user-1", "openid", "access-1", "", "", time.Hour)
	if err != nil {
		t.Fatalf("MintRefreshToken() error = %v", err)
	}

	rotated, err := iss.RotateRefresh(ctx, "", r1, "", time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("RotateRefresh() error = %v", err)
	}

	// Replay: present r1 again after it has already been rotated.
	_, err = iss.RotateRefresh(ctx, "", r1, "", time.Hour, time.Hour)
	if !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("RotateRefresh() on replay error = %v, want ErrReplayDetected", err)
	}

	r2Rec, getErr := refreshTokens.GetByTokenHash(ctx, crypto.HashToken(rotated.RefreshToken))
	if getErr != nil {
		t.Fatalf("GetByTokenHash() error = %v", getErr)
	}
	if !r2Rec.IsRevoked {
		t.Errorf("replay did not revoke the rotated descendant token; want whole-family revocation")
	}
}

func TestRotateRefreshScopeEscalationRejected(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()

	r1, _, err := iss.MintRefreshToken(ctx, "", "client-1", "user-1", "openid", "access-1", "", "", time.Hour)
	if err != nil {
		t.Fatalf("MintRefreshToken() error = %v", err)
	}

	_, err = iss.RotateRefresh(ctx, "", r1, "openid profile", time.Hour, time.Hour)
	if !errors.Is(err, ErrScopeEscalation) {
		t.Fatalf("RotateRefresh() with escalated scope error = %v, want ErrScopeEscalation", err)
	}
}

func TestRotateRefreshUnknownTokenIsInvalidGrant(t *testing.T) {
	iss, _ := newTestIssuer(t)
	_, err := iss.RotateRefresh(context.Background(), "", "not-a-real-token", "", time.Hour, time.Hour)
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("RotateRefresh() for unknown token error = %v, want ErrInvalidGrant", err)
	}
}

func TestMintIDTokenGatesClaimsByScope(t *testing.T) {
	iss, _ := newTestIssuer(t)
	ctx := context.Background()

	token, err := iss.MintIDToken(ctx, IDTokenParams{
		ClientID: "client-1",
		UserID:   "user-1",
		AuthTime: time.Now(),
		Scope:    "openid",
		Profile:  &ProfileClaims{Name: "Ada Lovelace"},
		Email:    "ada@example.com",
	}, time.Hour)
	if err != nil {
		t.Fatalf("MintIDToken() error = %v", err)
	}

	var claims IDClaims
	signer := iss.signer
	if err := signer.Verify(ctx, token, &claims, "client-1"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Name != "" {
		t.Errorf("MintIDToken() leaked name claim without profile scope")
	}
	if claims.Email != "" {
		t.Errorf("MintIDToken() leaked email claim without email scope")
	}
}
