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
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// Revoke implements POST /revoke per §4.5.4 (RFC 7009): always responds
// 200 regardless of whether the token existed or belonged to the caller,
// so the endpoint cannot be used to probe for valid tokens.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
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
		w.WriteHeader(http.StatusOK)
		return
	}

	revoked := h.revokeIfOwnedAccessToken(ctx, c.ClientID, token)
	if !revoked {
		revoked = h.revokeIfOwnedRefreshToken(ctx, c.ClientID, token)
	}
	if revoked {
		h.audit(r, "token_revoked", "revoke", true, map[string]any{"client_id": c.ClientID})
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) revokeIfOwnedAccessToken(ctx context.Context, clientID, token string) bool {
	tokenHash := crypto.HashToken(token)
	rec, err := h.accessTokens.GetByTokenHash(ctx, tokenHash)
	if err != nil || rec.ClientID != clientID {
		return false
	}
	_ = h.accessTokens.Revoke(ctx, tokenHash)
	if h.blacklist != nil {
		_ = h.blacklist.Revoke(ctx, rec.JTI, rec.ExpiresAt)
	}
	return true
}

// revokeIfOwnedRefreshToken revokes the whole rotation family the token
// belongs to, not just the presented token, so a client revoking a
// refresh token cannot be bypassed by presenting an already-rotated
// sibling. The access token minted alongside it is left to expire on its
// own short TTL; RFC 7009 does not require cascading revocation.
func (h *Handler) revokeIfOwnedRefreshToken(ctx context.Context, clientID, token string) bool {
	tokenHash := crypto.HashToken(token)
	rec, err := h.refreshTokens.GetByTokenHash(ctx, tokenHash)
	if err != nil || rec.ClientID != clientID {
		return false
	}

	_ = h.refreshTokens.RevokeFamily(ctx, rec.FamilyID)
	if h.blacklist != nil {
		_ = h.blacklist.Revoke(ctx, rec.JTI, rec.ExpiresAt)
	}
	return true
}
