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
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/id"
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// authorizeRequest is the parsed, not-yet-validated query string of an
// /authorize call.
type authorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Prompt              string
	MaxAge              string
}

func parseAuthorizeRequest(r *http.Request) authorizeRequest {
	q := r.URL.Query()
	return authorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Nonce:               q.Get("nonce"),
		Prompt:              q.Get("prompt"),
		MaxAge:              q.Get("max_age"),
	}
}

// Authorize implements GET /authorize, the §4.5.1 state machine. Errors
// before redirect_uri has been validated are returned as plain JSON
// (the client has no safe place to send the user yet); every error from
// that point on is communicated as a redirect carrying error/
// error_description/state.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := parseAuthorizeRequest(r)

	// Step 1: resolve the client and confirm it supports response_type=code.
	c, err := h.clients.GetByClientID(ctx, "", req.ClientID)
	if err != nil || c == nil || !c.IsActive || c.DeletedAt != nil {
		h.audit(r, "authorize_failed", "authorize", false, map[string]any{"reason": "unknown_client", "client_id": req.ClientID})
		oautherr.New(oautherr.UnauthorizedClient, "unknown or inactive client").Write(w, r)
		return
	}
	if req.ResponseType != "code" || !containsString(c.ResponseTypes, "code") {
		h.audit(r, "authorize_failed", "authorize", false, map[string]any{"reason": "unsupported_response_type", "client_id": req.ClientID})
		oautherr.New(oautherr.UnsupportedResponseType, "only response_type=code is supported").Write(w, r)
		return
	}
	if !containsString(c.GrantTypes, client.GrantTypeAuthorizationCode) {
		h.audit(r, "authorize_failed", "authorize", false, map[string]any{"reason": "grant_not_allowed", "client_id": req.ClientID})
		oautherr.New(oautherr.UnauthorizedClient, "client is not authorized for the authorization_code grant").Write(w, r)
		return
	}

	// Step 2: validate redirect_uri against the client's registered set.
	if req.RedirectURI == "" || !c.ValidateRedirectURI(req.RedirectURI) {
		h.audit(r, "authorize_failed", "authorize", false, map[string]any{"reason": "invalid_redirect_uri", "client_id": req.ClientID})
		oautherr.New(oautherr.InvalidRequest, "Invalid redirect_uri").Write(w, r)
		return
	}

	// Step 3 onward: every failure redirects to req.RedirectURI.
	fail := func(kind oautherr.Kind, desc string) {
		h.audit(r, "authorize_failed", "authorize", false, map[string]any{"reason": string(kind), "client_id": req.ClientID})
		oautherr.New(kind, desc).Redirect(w, r, req.RedirectURI, req.State)
	}

	// Step 4: parse and narrow scopes.
	requestedScopes := strings.Fields(req.Scope)
	if !c.ValidateScope(req.Scope) {
		fail(oautherr.InvalidScope, "requested scope exceeds what this client is allowed")
		return
	}
	if h.scopes != nil {
		for _, s := range requestedScopes {
			sc, err := h.scopes.GetByName(ctx, s)
			if err != nil || sc == nil || !sc.IsActive {
				fail(oautherr.InvalidScope, "unknown scope: "+s)
				return
			}
		}
	}
	effectiveScope := strings.Join(requestedScopes, " ")

	// Step 5: enforce PKCE.
	if c.RequiresPKCE() {
		if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != client.CodeChallengeMethodS256 {
			fail(oautherr.InvalidRequest, "code_challenge_method must be S256")
			return
		}
		if len(req.CodeChallenge) < 43 || len(req.CodeChallenge) > 128 || !isBase64URL(req.CodeChallenge) {
			fail(oautherr.InvalidRequest, "code_challenge is required and must be 43-128 base64url characters")
			return
		}
		if req.CodeChallengeMethod == "" {
			req.CodeChallengeMethod = client.CodeChallengeMethodS256
		}
	}

	// Step 6/7: authenticate the user and enforce max_age.
	auth, sess, err := h.sessionAuth.Authenticate(ctx, r)
	needsAuth := err != nil
	if !needsAuth && req.MaxAge != "" {
		if maxAge, convErr := strconv.Atoi(req.MaxAge); convErr == nil {
			if time.Since(time.Unix(auth.AuthTime, 0)) > time.Duration(maxAge)*time.Second {
				needsAuth = true
			}
		}
	}
	if needsAuth {
		if req.Prompt == "none" {
			fail(oautherr.LoginRequired, "no active session and prompt=none")
			return
		}
		h.audit(r, "authorize_login_required", "authorize", true, map[string]any{"client_id": req.ClientID})
		http.Redirect(w, r, h.handoffURL(h.loginURL, r), http.StatusFound)
		return
	}

	// A tenant-scoped client only serves its own tenant's users; an
	// authenticated outsider is denied rather than prompted for consent.
	if h.tenants != nil && c.TenantID != "" {
		member, err := h.tenants.CheckMembership(ctx, c.TenantID, auth.UserID)
		if err != nil {
			fail(oautherr.ServerError, "failed to resolve tenant membership")
			return
		}
		if !member {
			h.audit(r, "authorize_failed", "authorize", false, map[string]any{"reason": "not_a_tenant_member", "client_id": req.ClientID, "user_id": auth.UserID})
			oautherr.New(oautherr.AccessDenied, "user does not belong to this client's tenant").Redirect(w, r, req.RedirectURI, req.State)
			return
		}
	}

	// Step 8: resolve consent.
	if c.RequireConsent {
		grant, err := h.consent.Resolve(ctx, auth.UserID, c.ClientID)
		if err != nil {
			fail(oautherr.ServerError, "failed to resolve consent")
			return
		}
		if grant == nil || !grant.Covers(requestedScopes) {
			if req.Prompt == "none" {
				fail(oautherr.ConsentRequired, "consent required and prompt=none")
				return
			}
			h.audit(r, "authorize_consent_required", "authorize", true, map[string]any{"client_id": req.ClientID, "user_id": auth.UserID})
			http.Redirect(w, r, h.handoffURL(h.consentURL, r), http.StatusFound)
			return
		}
	}

	// Step 9: mint the authorization code.
	codeValue, err := crypto.RandomToken(32)
	if err != nil {
		fail(oautherr.ServerError, "failed to generate authorization code")
		return
	}

	ttl := h.durationOrDefault(c.AuthorizationCodeLifetime, h.config().AuthorizationCodeTTL)
	now := time.Now()
	authTime := now
	if sess != nil {
		authTime = sess.CreatedAt
	}

	code := &client.AuthorizationCode{
		ID:                  id.NewUUIDv7(),
		Code:                codeValue,
		ClientID:            c.ClientID,
		UserID:              auth.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               effectiveScope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            authTime,
		ExpiresAt:           now.Add(ttl),
		CreatedAt:           now,
	}
	if err := h.codes.Create(ctx, code); err != nil {
		fail(oautherr.ServerError, "failed to persist authorization code")
		return
	}

	h.audit(r, "authorize_issued_code", "authorize", true, map[string]any{"client_id": c.ClientID, "user_id": auth.UserID, "scope": effectiveScope})

	// Step 10: redirect with the code.
	u, _ := url.Parse(req.RedirectURI)
	q := u.Query()
	q.Set("code", codeValue)
	if req.State != "" {
		q.Set("state", req.State)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// handoffURL appends the original /authorize request (path + query) to
// collaboratorURL as return_to, the hand-off contract §4.5.1 steps 6 and 8
// describe.
func (h *Handler) handoffURL(collaboratorURL string, r *http.Request) string {
	u, err := url.Parse(collaboratorURL)
	if err != nil {
		return collaboratorURL
	}
	q := u.Query()
	q.Set("return_to", r.URL.RequestURI())
	u.RawQuery = q.Encode()
	return u.String()
}

// isBase64URL reports whether s contains only unpadded base64url
// characters, the alphabet RFC 7636 permits for a code_challenge.
func isBase64URL(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
