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
	"net/http"

	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/issuance"
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// introspectResponse is the RFC 7662 response envelope. Every field but
// Active is omitted when the token is inactive, so an inactive result
// never leaks whose token it was or why it failed.
type introspectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

var inactive = introspectResponse{Active: false}

// Introspect implements POST /introspect per §4.5.3 (RFC 7662). The caller
// must authenticate as a registered client; any failure to resolve the
// token to a live record returns {"active": false} rather than an error,
// since a malformed or foreign token is not itself an error condition.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oautherr.New(oautherr.InvalidRequest, "failed to parse request body").Write(w, r)
		return
	}

	ctx := r.Context()
	c, err := h.clientAuth.Authenticate(ctx, r)
	if err != nil {
		oautherr.New(oautherr.InvalidClient, "client authentication failed").Write(w, r)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		oautherr.WriteJSON(w, r, http.StatusOK, inactive)
		return
	}

	// token_type_hint is advisory only: absent or wrong, we still try both
	// token kinds, access first.
	if resp, ok := h.introspectAccessToken(ctx, token); ok {
		if resp.ClientID != c.ClientID {
			oautherr.WriteJSON(w, r, http.StatusOK, inactive)
			return
		}
		h.audit(r, "introspect", "introspect", true, map[string]any{"client_id": c.ClientID, "active": resp.Active})
		oautherr.WriteJSON(w, r, http.StatusOK, resp)
		return
	}
	if resp, ok := h.introspectRefreshToken(ctx, token); ok {
		if resp.ClientID != c.ClientID {
			oautherr.WriteJSON(w, r, http.StatusOK, inactive)
			return
		}
		h.audit(r, "introspect", "introspect", true, map[string]any{"client_id": c.ClientID, "active": resp.Active})
		oautherr.WriteJSON(w, r, http.StatusOK, resp)
		return
	}

	oautherr.WriteJSON(w, r, http.StatusOK, inactive)
}

func (h *Handler) introspectAccessToken(ctx context.Context, token string) (introspectResponse, bool) {
	var claims issuance.AccessClaims
	if err := h.signer.Verify(ctx, token, &claims, h.config().Issuer); err != nil {
		return introspectResponse{}, false
	}

	rec, err := h.accessTokens.GetByTokenHash(ctx, crypto.HashToken(token))
	if err != nil {
		return introspectResponse{}, false
	}

	if h.blacklist != nil {
		revoked, err := h.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil || revoked {
			return introspectResponse{}, false
		}
	}

	if rec.IsRevoked || rec.IsExpired() {
		return introspectResponse{}, false
	}

	return introspectResponse{
		Active:    true,
		Scope:     rec.Scope,
		ClientID:  rec.ClientID,
		TokenType: "Bearer",
		Exp:       claims.ExpiresAt.Unix(),
		Iat:       claims.IssuedAt.Unix(),
		Sub:       rec.UserID,
		Iss:       h.config().Issuer,
		JTI:       claims.ID,
	}, true
}

func (h *Handler) introspectRefreshToken(ctx context.Context, token string) (introspectResponse, bool) {
	rec, err := h.refreshTokens.GetByTokenHash(ctx, crypto.HashToken(token))
	if err != nil {
		return introspectResponse{}, false
	}
	if rec.IsRevoked || rec.IsExpired() {
		return introspectResponse{}, false
	}

	return introspectResponse{
		Active:    true,
		Scope:     rec.Scope,
		ClientID:  rec.ClientID,
		TokenType: "refresh_token",
		Exp:       rec.ExpiresAt.Unix(),
		Iat:       rec.CreatedAt.Unix(),
		Sub:       rec.UserID,
		Iss:       h.config().Issuer,
		JTI:       rec.JTI,
	}, true
}
