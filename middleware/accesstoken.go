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

package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/opentrusty/opentrusty-core/blacklist"
	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/issuance"
	"github.com/opentrusty/opentrusty-core/oautherr"
	"github.com/opentrusty/opentrusty-core/policy"
)

// ErrAccessTokenInvalid is returned by AccessTokenAuthenticator for any
// unsuccessful validation: bad signature, blacklisted jti, no backing
// (or revoked/expired) AccessToken row.
var ErrAccessTokenInvalid = errors.New("middleware: access token invalid")

// AccessTokenAuthenticator validates a Bearer access token for protected
// resource endpoints (/userinfo) per C1 (signature) + C2
// (blacklist) + DB row, per SPEC_FULL.md §4.5.5.
type AccessTokenAuthenticator struct {
	signer    *crypto.Signer
	tokens    client.AccessTokenRepository
	blacklist *blacklist.Service
	policy    *policy.Service
	audience  string
}

// NewAccessTokenAuthenticator builds an AccessTokenAuthenticator. audience
// is the aud claim every accepted access token must carry (the issuer
// identifier, since access tokens are minted for this server's own
// resource endpoints). policy may be nil if the caller does not need RBAC
// permissions attached to the resulting AuthContext (scope is always
// attached regardless).
func NewAccessTokenAuthenticator(signer *crypto.Signer, tokens client.AccessTokenRepository, bl *blacklist.Service, pol *policy.Service, audience string) *AccessTokenAuthenticator {
	return &AccessTokenAuthenticator{signer: signer, tokens: tokens, blacklist: bl, policy: pol, audience: audience}
}

// Authenticate validates the Bearer token on r and returns the resulting
// AuthContext.
func (a *AccessTokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*AuthContext, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, ErrAccessTokenInvalid
	}
	return a.AuthenticateToken(ctx, token)
}

// AuthenticateToken validates a raw bearer token string directly, for
// callers (introspection, userinfo) that already extracted it from a
// request or a form field.
func (a *AccessTokenAuthenticator) AuthenticateToken(ctx context.Context, token string) (*AuthContext, error) {
	var claims issuance.AccessClaims
	if err := a.signer.Verify(ctx, token, &claims, a.audience); err != nil {
		return nil, ErrAccessTokenInvalid
	}

	if a.blacklist != nil {
		revoked, err := a.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil || revoked {
			return nil, ErrAccessTokenInvalid
		}
	}

	rec, err := a.tokens.GetByTokenHash(ctx, crypto.HashToken(token))
	if err != nil || rec.IsRevoked || rec.IsExpired() {
		return nil, ErrAccessTokenInvalid
	}

	auth := &AuthContext{
		UserID:      rec.UserID,
		ClientID:    rec.ClientID,
		Scopes:      issuance.SplitScope(rec.Scope),
		Permissions: map[string]struct{}{},
	}

	if a.policy != nil && rec.UserID != "" {
		perms, err := a.policy.Resolve(ctx, rec.UserID)
		if err == nil {
			auth.Permissions = map[string]struct{}(perms)
		}
	}

	return auth, nil
}

// RequireAccessToken is a chi-compatible middleware enforcing a valid
// bearer access token, writing an invalid_token OAuth error on failure.
func (a *AccessTokenAuthenticator) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, err := a.Authenticate(r.Context(), r)
		if err != nil {
			oautherr.New(oautherr.InvalidToken, "the access token is invalid, expired, or revoked").Write(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), auth)))
	})
}
