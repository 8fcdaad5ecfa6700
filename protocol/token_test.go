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

package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/config"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/issuance"
	"github.com/opentrusty/opentrusty-core/middleware"
	"github.com/opentrusty/opentrusty-core/user"
)

type memClientRepo struct {
	client.ClientRepository
	byClientID map[string]*client.Client
}

func (m *memClientRepo) GetByClientID(ctx context.Context, tenantID, clientID string) (*client.Client, error) {
	c, ok := m.byClientID[clientID]
	if !ok {
		return nil, client.ErrClientNotFound
	}
	return c, nil
}

type memCodeRepo struct {
	client.AuthorizationCodeRepository
	byCode map[string]*client.AuthorizationCode
}

func (m *memCodeRepo) ConsumeByCode(ctx context.Context, code string) (*client.AuthorizationCode, error) {
	c, ok := m.byCode[code]
	if !ok || c.IsUsed {
		return nil, client.ErrCodeAlreadyUsed
	}
	now := time.Now()
	c.IsUsed = true
	c.UsedAt = &now
	return c, nil
}

type memAccessTokenRepo struct {
	client.AccessTokenRepository
}

func (m *memAccessTokenRepo) Create(ctx context.Context, t *client.AccessToken) error { return nil }

type memRefreshTokenRepo struct {
	client.RefreshTokenRepository
}

func (m *memRefreshTokenRepo) Create(ctx context.Context, t *client.RefreshToken) error { return nil }

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

func (m *memJWKRepo) RetireActive(ctx context.Context) error { return nil }

type memUserRepo struct {
	user.UserRepository
	byID map[string]*user.User
}

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

func newTestHandler(t *testing.T, c *client.Client, codes map[string]*client.AuthorizationCode) *Handler {
	t.Helper()

	signer := crypto.NewSigner(newMemJWKRepo(), "https://issuer.example")
	if err := signer.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	issuer := issuance.NewIssuer(signer, &memAccessTokenRepo{}, &memRefreshTokenRepo{}, "https://issuer.example")

	email := "u1@example.com"
	users := user.NewService(&memUserRepo{byID: map[string]*user.User{
		"u1": {ID: "u1", EmailPlain: &email, EmailVerified: true, Profile: user.Profile{Username: "u1", FullName: "Test User"}},
	}}, nil, nil, 5, time.Hour, "hmac-test-key")

	cfg := &config.Config{
		Issuer:                 "https://issuer.example",
		AccessTokenTTLDefault:  time.Hour,
		RefreshTokenTTLDefault: 24 * time.Hour,
		IDTokenTTLDefault:      time.Hour,
		AuthorizationCodeTTL:   10 * time.Minute,
	}
	loader := config.NewLoader(cfg)

	clients := &memClientRepo{byClientID: map[string]*client.Client{c.ClientID: c}}
	clientAuth := middleware.NewClientAuthenticator(clients, nil, cfg.Issuer)

	return NewHandler(Deps{
		Config:     loader,
		Clients:    clients,
		Codes:      &memCodeRepo{byCode: codes},
		Signer:     signer,
		Issuer:     issuer,
		Users:      users,
		ClientAuth: clientAuth,
	})
}

func publicClient() *client.Client {
	return &client.Client{
		ClientID:                "c1",
		Type:                    client.ClientTypePublic,
		TokenEndpointAuthMethod: client.AuthMethodNone,
		RequirePKCE:             true,
		RedirectURIs:            []string{"https://app.example/cb"},
		AllowedScopes:           []string{"openid", "profile"},
		GrantTypes:              []string{client.GrantTypeAuthorizationCode, client.GrantTypeRefreshToken},
		ResponseTypes:           []string{"code"},
		IsActive:                true,
	}
}

// TestTokenAuthorizationCodeHappyPath exercises spec §8 scenario 1: a
// PUBLIC client presenting the correct PKCE verifier gets back a signed
// access token and a refresh token.
func TestTokenAuthorizationCodeHappyPath(t *testing.T) {
	c := publicClient()
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	code := &client.AuthorizationCode{
		Code:                "abc123",
		ClientID:            c.ClientID,
		UserID:              "u1",
		RedirectURI:         "https://app.example/cb",
		Scope:               "openid profile",
		CodeChallenge:       challenge,
		CodeChallengeMethod: client.CodeChallengeMethodS256,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	h := newTestHandler(t, c, map[string]*client.AuthorizationCode{code.Code: code})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code.Code},
		"redirect_uri":  {code.RedirectURI},
		"client_id":     {c.ClientID},
		"code_verifier": {verifier},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.Token(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Token() status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Errorf("Token() returned empty access_token")
	}
	if resp.RefreshToken == "" {
		t.Errorf("Token() returned empty refresh_token")
	}
	if resp.Scope != "openid profile" {
		t.Errorf("Token() scope = %q, want %q", resp.Scope, "openid profile")
	}
	if !code.IsUsed {
		t.Errorf("Token() did not mark the authorization code used")
	}
}

// TestTokenAuthorizationCodePKCEMismatch exercises spec §8 scenario 2: a
// wrong code_verifier must fail with invalid_grant, and the code must be
// burned (used=true) even though the exchange failed, since §3 requires
// single-use regardless of outcome.
func TestTokenAuthorizationCodePKCEMismatch(t *testing.T) {
	c := publicClient()
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	code := &client.AuthorizationCode{
		Code:                "abc123",
		ClientID:            c.ClientID,
		UserID:              "u1",
		RedirectURI:         "https://app.example/cb",
		Scope:               "openid profile",
		CodeChallenge:       challenge,
		CodeChallengeMethod: client.CodeChallengeMethodS256,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	h := newTestHandler(t, c, map[string]*client.AuthorizationCode{code.Code: code})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code.Code},
		"redirect_uri":  {code.RedirectURI},
		"client_id":     {c.ClientID},
		"code_verifier": {"wrong"},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.Token(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Token() status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["error"] != "invalid_grant" {
		t.Errorf("Token() error = %v, want invalid_grant", body["error"])
	}
	if !code.IsUsed {
		t.Errorf("Token() left the code unused after a failed exchange; want it burned regardless of outcome")
	}
}

// TestTokenAuthorizationCodeDoubleSpendFails covers the universal invariant
// in §8: at most one successful exchange per authorization code.
func TestTokenAuthorizationCodeDoubleSpendFails(t *testing.T) {
	c := publicClient()
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	code := &client.AuthorizationCode{
		Code:                "abc123",
		ClientID:            c.ClientID,
		UserID:              "u1",
		RedirectURI:         "https://app.example/cb",
		Scope:               "openid",
		CodeChallenge:       challenge,
		CodeChallengeMethod: client.CodeChallengeMethodS256,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	h := newTestHandler(t, c, map[string]*client.AuthorizationCode{code.Code: code})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code.Code},
		"redirect_uri":  {code.RedirectURI},
		"client_id":     {c.ClientID},
		"code_verifier": {verifier},
	}

	req1 := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req1.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w1 := httptest.NewRecorder()
	h.Token(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first Token() status = %d, want 200", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w2 := httptest.NewRecorder()
	h.Token(w2, req2)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("second Token() status = %d, want 400 on replay", w2.Code)
	}
}
