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

// Package issuance mints and rotates the OAuth2/OIDC token set: signed
// access tokens, opaque refresh tokens chained by family, and signed ID
// tokens, plus the refresh-token rotation-with-reuse-detection sequence
// (C6). It is the one place client.AccessToken/RefreshToken rows are
// created.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/id"
)

// Errors surfaced by refresh-token rotation, mapped by the protocol layer
// to the corresponding OAuth error.
var (
	ErrInvalidGrant    = errors.New("issuance: refresh token invalid, expired, or unknown")
	ErrReplayDetected  = errors.New("issuance: refresh token reuse detected, family revoked")
	ErrScopeEscalation = errors.New("issuance: requested scope exceeds the token being refreshed")
)

// AccessClaims is the claim set carried by a signed access token: the
// registered claims plus client_id and scope (space-delimited).
type AccessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// IDClaims is the claim set carried by a signed ID token: the registered
// claims plus auth_time and nonce, and scope-gated profile/email claims.
type IDClaims struct {
	jwt.RegisteredClaims
	AuthTime int64  `json:"auth_time"`
	Nonce    string `json:"nonce,omitempty"`

	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	Picture           string `json:"picture,omitempty"`
	UpdatedAt         int64  `json:"updated_at,omitempty"`

	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// ProfileClaims carries the subset of user.Profile an ID token or
// userinfo response may release under the profile scope.
type ProfileClaims struct {
	PreferredUsername string
	Name              string
	GivenName         string
	FamilyName        string
	Picture           string
	UpdatedAt         time.Time
}

// Issuer mints and rotates OAuth2/OIDC tokens.
type Issuer struct {
	signer        *crypto.Signer
	accessTokens  client.AccessTokenRepository
	refreshTokens client.RefreshTokenRepository
	issuerName    string
}

// NewIssuer builds an Issuer. issuerName is stamped into every token's iss
// claim and must match the configured discovery issuer exactly.
func NewIssuer(signer *crypto.Signer, accessTokens client.AccessTokenRepository, refreshTokens client.RefreshTokenRepository, issuerName string) *Issuer {
	return &Issuer{signer: signer, accessTokens: accessTokens, refreshTokens: refreshTokens, issuerName: issuerName}
}

// TokenSet is everything a /token response needs, before it is serialized
// into the strict OAuth 2.1 JSON envelope.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty if the grant does not issue one
	IDToken      string // empty unless openid was granted and there is a user subject
	Scope        string
	ExpiresIn    int64
}

// MintAccessToken signs a new access token and persists its record.
func (iss *Issuer) MintAccessToken(ctx context.Context, tenantID, clientID, userID, scope string, ttl time.Duration) (string, *client.AccessToken, error) {
	jti := id.NewUUIDv7()
	now := time.Now()
	exp := now.Add(ttl)

	token, err := iss.signer.Sign(ctx, &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.issuerName,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{iss.issuerName},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		ClientID: clientID,
		Scope:    scope,
	})
	if err != nil {
		return "", nil, fmt.Errorf("issuance: failed to sign access token: %w", err)
	}

	rec := &client.AccessToken{
		ID:        id.NewUUIDv7(),
		TenantID:  tenantID,
		TokenHash: crypto.HashToken(token),
		JTI:       jti,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		TokenType: "Bearer",
		ExpiresAt: exp,
		CreatedAt: now,
	}
	if err := iss.accessTokens.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("issuance: failed to persist access token: %w", err)
	}

	return token, rec, nil
}

// MintRefreshToken generates a new opaque refresh token and persists its
// record. previousID/familyID chain it onto an existing rotation family;
// pass both empty for a token's first issuance, which seeds familyID from
// the new record's own id.
func (iss *Issuer) MintRefreshToken(ctx context.Context, tenantID, clientID, userID, scope, accessTokenID, previousID, familyID string, ttl time.Duration) (string, *client.RefreshToken, error) {
	plaintext, err := crypto.RandomToken(32)
	if err != nil {
		return "", nil, fmt.Errorf("issuance: failed to generate refresh token: %w", err)
	}

	now := time.Now()
	recID := id.NewUUIDv7()
	if familyID == "" {
		familyID = recID
	}

	rec := &client.RefreshToken{
		ID:            recID,
		TenantID:      tenantID,
		TokenHash:     crypto.HashToken(plaintext),
		JTI:           recID,
		AccessTokenID: accessTokenID,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		PreviousID:    previousID,
		FamilyID:      familyID,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if err := iss.refreshTokens.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("issuance: failed to persist refresh token: %w", err)
	}

	return plaintext, rec, nil
}

// IDTokenParams carries everything MintIDToken needs beyond the
// registered claims.
type IDTokenParams struct {
	ClientID      string
	UserID        string
	AuthTime      time.Time
	Nonce         string
	Scope         string // space-delimited granted scope, gates which claims are released
	Profile       *ProfileClaims
	Email         string
	EmailVerified bool
}

// MintIDToken signs an ID token carrying auth_time, an optional nonce, and
// profile/email claims gated by the scopes actually granted.
func (iss *Issuer) MintIDToken(ctx context.Context, p IDTokenParams, ttl time.Duration) (string, error) {
	now := time.Now()
	scopes := SplitScope(p.Scope)

	claims := IDClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.issuerName,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{p.ClientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        id.NewUUIDv7(),
		},
		AuthTime: p.AuthTime.Unix(),
		Nonce:    p.Nonce,
	}

	if hasScope(scopes, "profile") && p.Profile != nil {
		claims.PreferredUsername = p.Profile.PreferredUsername
		claims.Name = p.Profile.Name
		claims.GivenName = p.Profile.GivenName
		claims.FamilyName = p.Profile.FamilyName
		claims.Picture = p.Profile.Picture
		if !p.Profile.UpdatedAt.IsZero() {
			claims.UpdatedAt = p.Profile.UpdatedAt.Unix()
		}
	}

	if hasScope(scopes, "email") {
		claims.Email = p.Email
		verified := p.EmailVerified
		claims.EmailVerified = &verified
	}

	token, err := iss.signer.Sign(ctx, &claims)
	if err != nil {
		return "", fmt.Errorf("issuance: failed to sign id token: %w", err)
	}
	return token, nil
}

// RotatedTokenSet is the result of a successful RotateRefresh call.
type RotatedTokenSet struct {
	AccessToken   string
	AccessRecord  *client.AccessToken
	RefreshToken  string
	RefreshRecord *client.RefreshToken
}

// RotateRefresh implements the §4.6 rotation-with-reuse-detection
// sequence: locate the presented refresh token; if it was already
// revoked, treat this as replay, revoke the entire family, and fail; if
// expired, fail; otherwise consume it and mint a new access/refresh pair
// chained onto the same family. requestedScope, if non-empty, must be a
// subset of the consumed token's scope or the call fails without
// consuming the token.
func (iss *Issuer) RotateRefresh(ctx context.Context, tenantID, presentedToken, requestedScope string, accessTTL, refreshTTL time.Duration) (*RotatedTokenSet, error) {
	tokenHash := crypto.HashToken(presentedToken)

	current, err := iss.refreshTokens.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if current.IsRevoked {
		_ = iss.refreshTokens.RevokeFamily(ctx, current.FamilyID)
		return nil, ErrReplayDetected
	}
	if current.IsExpired() {
		return nil, ErrInvalidGrant
	}

	newScope := current.Scope
	if requestedScope != "" {
		if !isScopeSubset(requestedScope, current.Scope) {
			return nil, ErrScopeEscalation
		}
		newScope = requestedScope
	}

	consumed, alreadyRevoked, err := iss.refreshTokens.ConsumeByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if alreadyRevoked {
		// Lost the race with a concurrent rotation of the same token:
		// the other caller already consumed it, so this is replay too.
		_ = iss.refreshTokens.RevokeFamily(ctx, consumed.FamilyID)
		return nil, ErrReplayDetected
	}

	accessToken, accessRec, err := iss.MintAccessToken(ctx, tenantID, consumed.ClientID, consumed.UserID, newScope, accessTTL)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshRec, err := iss.MintRefreshToken(ctx, tenantID, consumed.ClientID, consumed.UserID, newScope, accessRec.ID, consumed.ID, consumed.FamilyID, refreshTTL)
	if err != nil {
		return nil, err
	}

	return &RotatedTokenSet{
		AccessToken:   accessToken,
		AccessRecord:  accessRec,
		RefreshToken:  refreshToken,
		RefreshRecord: refreshRec,
	}, nil
}

// SplitScope splits a space-delimited scope string into its constituent
// scope names, dropping empty fields from repeated whitespace.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// isScopeSubset reports whether every scope in requested also appears in
// granted.
func isScopeSubset(requested, granted string) bool {
	grantedSet := make(map[string]struct{})
	for _, s := range SplitScope(granted) {
		grantedSet[s] = struct{}{}
	}
	for _, s := range SplitScope(requested) {
		if _, ok := grantedSet[s]; !ok {
			return false
		}
	}
	return true
}
