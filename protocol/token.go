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
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/issuance"
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// tokenResponse is the strict OAuth 2.1 /token success envelope.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope"`
}

// Token implements POST /token, dispatching on grant_type per §4.5.2 once
// the caller has been authenticated per §4.4.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oautherr.New(oautherr.InvalidRequest, "failed to parse request body").Write(w, r)
		return
	}

	ctx := r.Context()
	c, err := h.clientAuth.Authenticate(ctx, r)
	if err != nil {
		h.audit(r, "token_client_auth_failed", "token", false, nil)
		oautherr.New(oautherr.InvalidClient, "client authentication failed").Write(w, r)
		return
	}

	grantType := r.PostForm.Get("grant_type")
	switch grantType {
	case client.GrantTypeAuthorizationCode:
		h.authorizationCodeGrant(w, r, c)
	case client.GrantTypeRefreshToken:
		h.refreshTokenGrant(w, r, c)
	case client.GrantTypeClientCredentials:
		h.clientCredentialsGrant(w, r, c)
	default:
		h.audit(r, "token_unsupported_grant", "token", false, map[string]any{"grant_type": grantType, "client_id": c.ClientID})
		oautherr.New(oautherr.UnsupportedGrantType, "unsupported grant_type: "+grantType).Write(w, r)
	}
}

func (h *Handler) accessTokenTTL(c *client.Client) int64 {
	return int64(h.durationOrDefault(c.AccessTokenLifetime, h.config().AccessTokenTTLDefault).Seconds())
}

func (h *Handler) refreshTokenTTL(c *client.Client) int64 {
	return int64(h.durationOrDefault(c.RefreshTokenLifetime, h.config().RefreshTokenTTLDefault).Seconds())
}

// authorizationCodeGrant implements §4.5.2's authorization_code branch: an
// atomic single-use consume of the code, client/redirect_uri/PKCE
// verification, and minting of the access/refresh/id token set.
func (h *Handler) authorizationCodeGrant(w http.ResponseWriter, r *http.Request, c *client.Client) {
	ctx := r.Context()
	codeValue := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	verifier := r.PostForm.Get("code_verifier")

	if codeValue == "" || redirectURI == "" {
		oautherr.New(oautherr.InvalidRequest, "code and redirect_uri are required").Write(w, r)
		return
	}

	// ConsumeByCode flips used=true atomically under a row lock, so a
	// second concurrent exchange of the same code always observes
	// ErrCodeAlreadyUsed here rather than racing past this check.
	code, err := h.codes.ConsumeByCode(ctx, codeValue)
	if err != nil {
		h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "code_consume_failed", "client_id": c.ClientID})
		oautherr.New(oautherr.InvalidGrant, "the authorization code is invalid, expired, or already used").Write(w, r)
		return
	}

	// Every check below runs against an already-consumed code: a failure
	// here can never be retried with the same code, which is the
	// single-use guarantee §3 requires even on the failure path.
	switch {
	case code.ClientID != c.ClientID:
		h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "client_mismatch", "client_id": c.ClientID})
		oautherr.New(oautherr.InvalidGrant, "authorization code was not issued to this client").Write(w, r)
		return
	case code.RedirectURI != redirectURI:
		h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "redirect_uri_mismatch", "client_id": c.ClientID})
		oautherr.New(oautherr.InvalidGrant, "redirect_uri does not match the authorization request").Write(w, r)
		return
	case code.IsExpired():
		h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "code_expired", "client_id": c.ClientID})
		oautherr.New(oautherr.InvalidGrant, "authorization code has expired").Write(w, r)
		return
	}

	if code.CodeChallenge != "" {
		if !crypto.VerifyPKCE(code.CodeChallengeMethod, verifier, code.CodeChallenge) {
			h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "pkce_mismatch", "client_id": c.ClientID})
			oautherr.New(oautherr.InvalidGrant, "code_verifier does not match code_challenge").Write(w, r)
			return
		}
	} else if c.RequiresPKCE() {
		h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "pkce_required", "client_id": c.ClientID})
		oautherr.New(oautherr.InvalidGrant, "this client requires PKCE").Write(w, r)
		return
	}

	accessToken, accessRec, err := h.issuer.MintAccessToken(ctx, c.TenantID, c.ClientID, code.UserID, code.Scope, h.durationOrDefault(c.AccessTokenLifetime, h.config().AccessTokenTTLDefault))
	if err != nil {
		oautherr.New(oautherr.ServerError, "").WithError(err).Write(w, r)
		return
	}

	resp := tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   h.accessTokenTTL(c),
		Scope:       code.Scope,
	}

	if containsString(c.GrantTypes, client.GrantTypeRefreshToken) {
		refreshToken, _, err := h.issuer.MintRefreshToken(ctx, c.TenantID, c.ClientID, code.UserID, code.Scope, accessRec.ID, "", "", h.durationOrDefault(c.RefreshTokenLifetime, h.config().RefreshTokenTTLDefault))
		if err != nil {
			oautherr.New(oautherr.ServerError, "").WithError(err).Write(w, r)
			return
		}
		resp.RefreshToken = refreshToken
	}

	if hasScope(code.Scope, client.ScopeOpenID) && code.UserID != "" {
		idToken, err := h.mintIDToken(ctx, c, code.UserID, code.Scope, code.AuthTime, code.Nonce)
		if err != nil {
			oautherr.New(oautherr.ServerError, "").WithError(err).Write(w, r)
			return
		}
		resp.IDToken = idToken
	}

	h.audit(r, "token_issued", "token", true, map[string]any{"grant_type": client.GrantTypeAuthorizationCode, "client_id": c.ClientID, "user_id": code.UserID, "scope": code.Scope})
	oautherr.WriteJSON(w, r, http.StatusOK, resp)
}

// refreshTokenGrant implements §4.6's rotation-with-reuse-detection
// sequence, dispatched to issuance.Issuer.RotateRefresh.
func (h *Handler) refreshTokenGrant(w http.ResponseWriter, r *http.Request, c *client.Client) {
	ctx := r.Context()
	presented := r.PostForm.Get("refresh_token")
	requestedScope := r.PostForm.Get("scope")

	if presented == "" {
		oautherr.New(oautherr.InvalidRequest, "refresh_token is required").Write(w, r)
		return
	}

	// Confirm the presented token belongs to the authenticated client
	// before attempting rotation; RotateRefresh itself is client-agnostic.
	existing, err := h.refreshTokens.GetByTokenHash(ctx, crypto.HashToken(presented))
	if err != nil || existing.ClientID != c.ClientID {
		h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": "unknown_or_foreign_refresh_token", "client_id": c.ClientID})
		oautherr.New(oautherr.InvalidGrant, "refresh token is invalid").Write(w, r)
		return
	}

	rotated, err := h.issuer.RotateRefresh(ctx, c.TenantID, presented, requestedScope, h.durationOrDefault(c.AccessTokenLifetime, h.config().AccessTokenTTLDefault), h.durationOrDefault(c.RefreshTokenLifetime, h.config().RefreshTokenTTLDefault))
	if err != nil {
		reason := "invalid_grant"
		if errors.Is(err, issuance.ErrReplayDetected) {
			reason = "replay_detected"
			h.audit(r, "token_replay_detected", "token", false, map[string]any{"client_id": c.ClientID})
		} else if errors.Is(err, issuance.ErrScopeEscalation) {
			oautherr.New(oautherr.InvalidScope, "requested scope exceeds the token being refreshed").Write(w, r)
			return
		} else {
			h.audit(r, "token_invalid_grant", "token", false, map[string]any{"reason": reason, "client_id": c.ClientID})
		}
		oautherr.New(oautherr.InvalidGrant, "refresh token is invalid, expired, or has already been used").Write(w, r)
		return
	}

	resp := tokenResponse{
		AccessToken:  rotated.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    h.accessTokenTTL(c),
		RefreshToken: rotated.RefreshToken,
		Scope:        rotated.RefreshRecord.Scope,
	}

	if hasScope(rotated.RefreshRecord.Scope, client.ScopeOpenID) && rotated.RefreshRecord.UserID != "" {
		idToken, err := h.mintIDToken(ctx, c, rotated.RefreshRecord.UserID, rotated.RefreshRecord.Scope, existing.CreatedAt, "")
		if err == nil {
			resp.IDToken = idToken
		}
	}

	h.audit(r, "token_issued", "token", true, map[string]any{"grant_type": client.GrantTypeRefreshToken, "client_id": c.ClientID, "user_id": rotated.RefreshRecord.UserID, "scope": rotated.RefreshRecord.Scope})
	oautherr.WriteJSON(w, r, http.StatusOK, resp)
}

// clientCredentialsGrant implements §4.5.2's client_credentials branch:
// confidential clients only, access token only, no user subject.
func (h *Handler) clientCredentialsGrant(w http.ResponseWriter, r *http.Request, c *client.Client) {
	ctx := r.Context()

	if c.Type != client.ClientTypeConfidential || !containsString(c.GrantTypes, client.GrantTypeClientCredentials) {
		h.audit(r, "token_unauthorized_client", "token", false, map[string]any{"client_id": c.ClientID})
		oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the client_credentials grant").Write(w, r)
		return
	}

	requested := r.PostForm.Get("scope")
	scope := requested
	if scope == "" {
		scope = strings.Join(c.AllowedScopes, " ")
	} else if !c.ValidateScope(scope) {
		oautherr.New(oautherr.InvalidScope, "requested scope exceeds what this client is allowed").Write(w, r)
		return
	}

	accessToken, _, err := h.issuer.MintAccessToken(ctx, c.TenantID, c.ClientID, "", scope, h.durationOrDefault(c.AccessTokenLifetime, h.config().AccessTokenTTLDefault))
	if err != nil {
		oautherr.New(oautherr.ServerError, "").WithError(err).Write(w, r)
		return
	}

	h.audit(r, "token_issued", "token", true, map[string]any{"grant_type": client.GrantTypeClientCredentials, "client_id": c.ClientID, "scope": scope})
	oautherr.WriteJSON(w, r, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   h.accessTokenTTL(c),
		Scope:       scope,
	})
}

func hasScope(scope, want string) bool {
	for _, s := range issuance.SplitScope(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// mintIDToken loads the subject's profile and issues an ID token with
// claims gated by the granted scope, per §4.5.5's profile/email release
// rules reused here for the id_token claim set.
func (h *Handler) mintIDToken(ctx context.Context, c *client.Client, userID, scope string, authTime time.Time, nonce string) (string, error) {
	u, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	var profile *issuance.ProfileClaims
	if hasScope(scope, client.ScopeProfile) {
		profile = &issuance.ProfileClaims{
			PreferredUsername: u.Profile.Username,
			Name:              u.Profile.FullName,
			GivenName:         u.Profile.GivenName,
			FamilyName:        u.Profile.FamilyName,
			Picture:           u.Profile.Picture,
			UpdatedAt:         u.UpdatedAt,
		}
	}

	var email string
	if u.EmailPlain != nil {
		email = *u.EmailPlain
	}

	return h.issuer.MintIDToken(ctx, issuance.IDTokenParams{
		ClientID:      c.ClientID,
		UserID:        userID,
		AuthTime:      authTime,
		Nonce:         nonce,
		Scope:         scope,
		Profile:       profile,
		Email:         email,
		EmailVerified: u.EmailVerified,
	}, h.durationOrDefault(c.IDTokenLifetime, h.config().IDTokenTTLDefault))
}
